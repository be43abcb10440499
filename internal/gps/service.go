package gps

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"compass-ng/internal/declination"
)

// Config controls the GPS reader.
//
// u-blox receivers typically appear as /dev/ttyACM* and output NMEA (often
// GNxxx talker IDs) at 9600 baud. Device may be empty to auto-detect.
type Config struct {
	Enable bool

	// Source is "nmea" (direct serial, the default) or "gpsd".
	Source string

	// GPSDAddr is host:port for gpsd when Source=="gpsd".
	GPSDAddr string

	Device string
	Baud   int

	// OnFix is called for every new fix, from the reader goroutine.
	OnFix func(declination.GeoPosition)

	Logger *zap.SugaredLogger
}

type Snapshot struct {
	Enabled bool `json:"enabled"`
	Valid   bool `json:"valid"`

	Source   string `json:"source,omitempty"`
	GPSDAddr string `json:"gpsd_addr,omitempty"`
	Device   string `json:"device,omitempty"`
	Baud     int    `json:"baud,omitempty"`

	LatDeg     float64  `json:"lat_deg,omitempty"`
	LonDeg     float64  `json:"lon_deg,omitempty"`
	AltM       *float64 `json:"alt_m,omitempty"`
	GroundKt   *float64 `json:"ground_kt,omitempty"`
	TrackDeg   *float64 `json:"track_deg,omitempty"`
	Satellites *int     `json:"satellites,omitempty"`
	HDOP       *float64 `json:"hdop,omitempty"`

	Fixes      uint64 `json:"fixes"`
	LastFixUTC string `json:"last_fix_utc,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}

// openSerial is swapped out in tests.
var openSerial = func(device string, baud int) (io.ReadCloser, error) {
	return serial.Open(device, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
}

const (
	minBackoff = 250 * time.Millisecond
	maxBackoff = 10 * time.Second
)

type Service struct {
	cfg    Config
	source string
	log    *zap.SugaredLogger

	mu    sync.RWMutex
	state fixState
	fixes uint64
	err   string
}

func New(cfg Config) *Service {
	src := strings.ToLower(strings.TrimSpace(cfg.Source))
	if src == "" {
		src = "nmea"
	}
	if src == "gpsd" && strings.TrimSpace(cfg.GPSDAddr) == "" {
		cfg.GPSDAddr = gpsdDefaultAddr
	}
	if cfg.Baud == 0 {
		cfg.Baud = 9600
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Service{cfg: cfg, source: src, log: log}
}

func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Snapshot{
		Enabled:   s.cfg.Enable,
		Source:    s.source,
		Fixes:     s.fixes,
		LastError: s.err,
	}
	if s.source == "gpsd" {
		out.GPSDAddr = s.cfg.GPSDAddr
	} else {
		out.Device = s.cfg.Device
		out.Baud = s.cfg.Baud
	}
	s.state.fill(&out)
	return out
}

// Position returns the last fix, if any.
func (s *Service) Position() (declination.GeoPosition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.position()
}

// Run reads fixes until ctx is done. Connection failures are retried with
// backoff; they never end Run.
func (s *Service) Run(ctx context.Context) error {
	if !s.cfg.Enable {
		return nil
	}
	var (
		connect func(context.Context) (io.ReadCloser, error)
		apply   func(*fixState, time.Time, string) (bool, error)
		label   string
	)
	switch s.source {
	case "nmea":
		connect = s.openNMEA
		apply = applyNMEALine
		label = "device"
	case "gpsd":
		connect = s.openGPSD
		apply = (*fixState).applyGPSDLine
		label = "addr"
	default:
		return fmt.Errorf("gps: unknown source %q", s.cfg.Source)
	}

	backoff := minBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}
		rc, err := connect(ctx)
		if err != nil {
			s.setError(err.Error())
			s.log.Debugw("gps connect failed", "source", s.source, "error", err)
			if !sleepCtx(ctx, backoff) {
				return nil
			}
			if backoff < maxBackoff {
				backoff = min(backoff*2, maxBackoff)
			}
			continue
		}
		backoff = minBackoff
		s.log.Infow("gps enabled", "source", s.source, label, s.target())

		err = s.readLines(ctx, rc, apply)
		if ctx.Err() != nil {
			return nil
		}
		s.setError(fmt.Sprintf("gps read stopped: %v", err))
		s.log.Warnw("gps read stopped", "source", s.source, "error", err)
		if !sleepCtx(ctx, minBackoff) {
			return nil
		}
	}
}

func (s *Service) target() string {
	if s.source == "gpsd" {
		return s.cfg.GPSDAddr
	}
	return s.cfg.Device
}

func (s *Service) openNMEA(context.Context) (io.ReadCloser, error) {
	device := strings.TrimSpace(s.cfg.Device)
	if device == "" {
		device = autoDetectDevice()
		if device == "" {
			return nil, fmt.Errorf("gps auto-detect failed: no /dev/ttyACM* or /dev/ttyUSB* found")
		}
		s.mu.Lock()
		s.cfg.Device = device
		s.mu.Unlock()
	}
	f, err := openSerial(device, s.cfg.Baud)
	if err != nil {
		return nil, fmt.Errorf("gps open failed device=%s baud=%d: %w", device, s.cfg.Baud, err)
	}
	return f, nil
}

func (s *Service) openGPSD(ctx context.Context) (io.ReadCloser, error) {
	conn, err := dialGPSD(ctx, s.cfg.GPSDAddr)
	if err != nil {
		return nil, fmt.Errorf("gpsd dial failed addr=%s: %w", s.cfg.GPSDAddr, err)
	}
	if err := gpsdWatch(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("gpsd watch failed: %w", err)
	}
	return conn, nil
}

func applyNMEALine(st *fixState, now time.Time, line string) (bool, error) {
	// Some receivers include non-NMEA chatter.
	if !strings.HasPrefix(line, "$") {
		return false, nil
	}
	return st.applyNMEA(now, line)
}

// readLines always returns a non-nil error describing why reading stopped.
func (s *Service) readLines(ctx context.Context, rc io.ReadCloser, apply func(*fixState, time.Time, string) (bool, error)) error {
	stop := context.AfterFunc(ctx, func() { _ = rc.Close() })
	defer stop()
	defer rc.Close()

	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, 4096), 256*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s.handleLine(line, apply)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

func (s *Service) handleLine(line string, apply func(*fixState, time.Time, string) (bool, error)) {
	s.mu.Lock()
	updated, err := apply(&s.state, time.Now().UTC(), line)
	if err != nil {
		// Noise keeps the last error only; validity is untouched.
		s.err = err.Error()
		s.mu.Unlock()
		return
	}
	var (
		pos declination.GeoPosition
		ok  bool
	)
	if updated {
		s.fixes++
		s.err = ""
		pos, ok = s.state.position()
	}
	s.mu.Unlock()

	if ok && s.cfg.OnFix != nil {
		s.cfg.OnFix(pos)
	}
}

func (s *Service) setError(msg string) {
	s.mu.Lock()
	s.err = msg
	s.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func autoDetectDevice() string {
	candidates := []string{}
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyACM%d", i))
	}
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyUSB%d", i))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
