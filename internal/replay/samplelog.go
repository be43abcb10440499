// Package replay records orientation samples to a text log and plays them
// back with their original timing.
package replay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"compass-ng/internal/pipeline"
)

// Log format: line-oriented text.
//
// - Blank lines ignored.
// - Lines starting with '#' ignored.
// - Line "START" resets the origin (next record time is relative to 0 again).
// - Data lines are sample NDJSON objects whose t_ns is nanoseconds since START.

type Record struct {
	At     time.Duration
	Sample *pipeline.Sample // nil for a START marker
}

type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func (rr *Reader) ReadAll() ([]Record, error) {
	s := bufio.NewScanner(rr.r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	recs := make([]Record, 0, 1024)
	lineNo := 0
	for s.Scan() {
		lineNo++
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "START" {
			recs = append(recs, Record{})
			continue
		}

		smp, err := pipeline.DecodeSample([]byte(line))
		if err != nil {
			return nil, fmt.Errorf("replay: line %d: %w", lineNo, err)
		}
		var at time.Duration
		if !smp.Time.IsZero() {
			at = time.Duration(smp.Time.UnixNano())
		}
		if at < 0 {
			return nil, fmt.Errorf("replay: line %d: negative t_ns", lineNo)
		}
		// t_ns is an offset, not a wall clock; playback stamps no time so the
		// pipeline uses its own clock.
		smp.Time = time.Time{}
		recs = append(recs, Record{At: at, Sample: &smp})
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// Load reads a whole log file.
func Load(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewReader(f).ReadAll()
}

// Writer appends samples to a log. It is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	start  time.Time
	closed bool
}

func CreateWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(f, 64*1024)
	if _, err := bw.WriteString("START\n"); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{f: f, w: bw, start: time.Now()}, nil
}

func (ww *Writer) WriteSample(now time.Time, smp pipeline.Sample) error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return errors.New("replay: writer is closed")
	}

	d := now.Sub(ww.start)
	if d < 0 {
		d = 0
	}
	smp.Time = time.Time{}
	if d > 0 {
		smp.Time = time.Unix(0, d.Nanoseconds())
	}
	b, err := pipeline.EncodeSample(smp)
	if err != nil {
		return err
	}
	if _, err := ww.w.Write(b); err != nil {
		return err
	}
	return ww.w.WriteByte('\n')
}

func (ww *Writer) Flush() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return nil
	}
	return ww.w.Flush()
}

func (ww *Writer) Close() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return nil
	}
	ww.closed = true
	if err := ww.w.Flush(); err != nil {
		_ = ww.f.Close()
		return err
	}
	return ww.f.Close()
}

type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Player replays records with their relative timing.
//
// Speed: 1.0 = real time, 2.0 = 2x speed (half waits), 0.5 = half speed.
type Player struct {
	Records []Record
	Speed   float64
	Loop    bool
	Sleeper Sleeper
}

// Run sends every sample record to out. START markers reset the origin.
// It returns nil at the end of a non-looping log or when ctx is done.
func (p *Player) Run(ctx context.Context, out chan<- pipeline.Sample) error {
	if p.Speed <= 0 {
		return fmt.Errorf("replay: speed must be > 0")
	}
	sleeper := p.Sleeper
	if sleeper == nil {
		sleeper = realSleeper{}
	}
	if len(p.Records) == 0 {
		return errors.New("replay: no records")
	}
	if !hasSamples(p.Records) {
		return errors.New("replay: log has no samples")
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		var origin, lastAt time.Duration
		var haveLast bool

		for _, r := range p.Records {
			if r.Sample == nil {
				origin = r.At
				lastAt = 0
				haveLast = false
				continue
			}

			at := r.At - origin
			if at < 0 {
				at = 0
			}
			if haveLast {
				wait := at - lastAt
				if wait < 0 {
					wait = 0
				}
				wait = time.Duration(float64(wait) / p.Speed)
				if wait > 0 {
					if err := sleeper.Sleep(ctx, wait); err != nil {
						return nil
					}
				}
			}

			select {
			case out <- *r.Sample:
			case <-ctx.Done():
				return nil
			}

			lastAt = at
			haveLast = true
		}

		if !p.Loop {
			return nil
		}
	}
}

func hasSamples(recs []Record) bool {
	for _, r := range recs {
		if r.Sample != nil {
			return true
		}
	}
	return false
}
