// Package pipeline runs orientation samples through rotation resolution,
// declination correction, smoothing and classification.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"compass-ng/internal/angle"
	"compass-ng/internal/azimuth"
	"compass-ng/internal/cardinal"
	"compass-ng/internal/declination"
	"compass-ng/internal/errs"
	"compass-ng/internal/heading"
	"compass-ng/internal/rotation"
)

const defaultFieldOfViewDeg = 60

type Config struct {
	DisplayRotation rotation.Display
	FilterOptions   []heading.Option

	// Corrector turns magnetic headings into true ones once a position is
	// known. Nil leaves headings magnetic.
	Corrector *declination.Corrector
	Position  *declination.GeoPosition

	// Waypoint, when set, is checked against the current heading.
	Waypoint       *declination.GeoPosition
	FieldOfViewDeg float64

	Logger *zap.SugaredLogger
	Now    func() time.Time
}

type Snapshot struct {
	Valid bool `json:"valid"`

	MagneticDeg        float64 `json:"magnetic_deg"`
	DeclinationDeg     float64 `json:"declination_deg"`
	DeclinationApplied bool    `json:"declination_applied"`
	TrueDeg            float64 `json:"true_deg"`
	FilteredDeg        float64 `json:"filtered_deg"`

	// Heading is the rounded filter output; its cardinal uses the sector table.
	Heading azimuth.Azimuth    `json:"heading"`
	Nearest cardinal.Direction `json:"nearest"`

	DisplayRotation int `json:"display_rotation"`

	WaypointBearingDeg *float64 `json:"waypoint_bearing_deg,omitempty"`
	WaypointInView     *bool    `json:"waypoint_in_view,omitempty"`

	Samples   uint64    `json:"samples"`
	Dropped   uint64    `json:"dropped"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Service struct {
	cfg    Config
	log    *zap.SugaredLogger
	now    func() time.Time
	filter *heading.Filter
	bc     *Broadcaster

	// procMu serializes Process so the filter sees samples one at a time.
	procMu sync.Mutex

	mu       sync.RWMutex
	display  rotation.Display
	position *declination.GeoPosition
	snap     Snapshot
}

func New(cfg Config) (*Service, error) {
	f, err := heading.New(cfg.FilterOptions...)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if !cfg.DisplayRotation.Valid() {
		return nil, fmt.Errorf("pipeline: display rotation %d: %w", int(cfg.DisplayRotation), errs.ErrInvalidArgument)
	}
	if cfg.FieldOfViewDeg == 0 {
		cfg.FieldOfViewDeg = defaultFieldOfViewDeg
	}
	if !(cfg.FieldOfViewDeg > 0 && cfg.FieldOfViewDeg < 360) {
		return nil, fmt.Errorf("pipeline: field of view must be in (0,360), got %v: %w", cfg.FieldOfViewDeg, errs.ErrInvalidArgument)
	}
	if cfg.Waypoint != nil {
		if err := cfg.Waypoint.Validate(); err != nil {
			return nil, fmt.Errorf("pipeline: waypoint: %w", err)
		}
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	s := &Service{
		cfg:     cfg,
		log:     log,
		now:     now,
		filter:  f,
		bc:      NewBroadcaster(),
		display: cfg.DisplayRotation,
	}
	s.snap.DisplayRotation = cfg.DisplayRotation.Degrees()
	if cfg.Position != nil {
		if err := s.SetPosition(*cfg.Position); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Service) Broadcaster() *Broadcaster { return s.bc }

func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// SetPosition updates the fix used for declination and waypoint bearing.
func (s *Service) SetPosition(pos declination.GeoPosition) error {
	if err := pos.Validate(); err != nil {
		return fmt.Errorf("pipeline: position: %w", err)
	}
	s.mu.Lock()
	s.position = &pos
	s.mu.Unlock()
	return nil
}

func (s *Service) Position() (declination.GeoPosition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.position == nil {
		return declination.GeoPosition{}, false
	}
	return *s.position, true
}

func (s *Service) SetDisplayRotation(d rotation.Display) error {
	if !d.Valid() {
		return fmt.Errorf("pipeline: display rotation %d: %w", int(d), errs.ErrInvalidArgument)
	}
	s.mu.Lock()
	s.display = d
	s.snap.DisplayRotation = d.Degrees()
	s.mu.Unlock()
	s.log.Infow("display rotation changed", "rotation", d.String())
	return nil
}

func (s *Service) DisplayRotation() rotation.Display {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.display
}

// Run consumes samples in arrival order until ctx is done or in is closed.
func (s *Service) Run(ctx context.Context, in <-chan Sample) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case smp, ok := <-in:
			if !ok {
				return nil
			}
			if _, err := s.Process(smp); err != nil {
				s.log.Debugw("sample dropped", "kind", smp.Kind, "error", err)
			}
		}
	}
}

// Process runs a single sample through the pipeline and publishes the
// result. An invalid sample is counted and dropped; the filter state is
// left untouched.
func (s *Service) Process(smp Sample) (Snapshot, error) {
	s.procMu.Lock()
	defer s.procMu.Unlock()

	s.mu.RLock()
	display := s.display
	var pos *declination.GeoPosition
	if s.position != nil {
		p := *s.position
		pos = &p
	}
	s.mu.RUnlock()

	magnetic, err := s.resolve(smp, display)
	if err != nil {
		return s.drop(err)
	}

	trueDeg := magnetic.Degrees()
	var decl float64
	applied := false
	if s.cfg.Corrector != nil && pos != nil {
		d, err := s.cfg.Corrector.Declination(s.withTime(*pos, smp.Time))
		if err != nil {
			return s.drop(err)
		}
		decl = d
		trueDeg = declination.Apply(magnetic.Degrees(), d)
		applied = true
	}

	out := s.filter.Update(trueDeg)
	hdg, err := azimuth.New(out)
	if err != nil {
		return s.drop(err)
	}

	s.mu.Lock()
	s.snap.Valid = true
	s.snap.MagneticDeg = magnetic.Degrees()
	s.snap.DeclinationDeg = decl
	s.snap.DeclinationApplied = applied
	s.snap.TrueDeg = trueDeg
	s.snap.FilteredDeg = s.filter.Value()
	s.snap.Heading = hdg
	s.snap.Nearest = cardinal.Nearest(hdg.Rounded())
	s.snap.DisplayRotation = display.Degrees()
	s.snap.WaypointBearingDeg, s.snap.WaypointInView = s.waypoint(pos, hdg)
	s.snap.Samples++
	s.snap.LastError = ""
	s.snap.UpdatedAt = s.now().UTC()
	snap := s.snap
	s.mu.Unlock()

	s.bc.Publish(snap)
	return snap, nil
}

func (s *Service) resolve(smp Sample, d rotation.Display) (azimuth.Azimuth, error) {
	switch smp.Kind {
	case KindRotationVector:
		return rotation.ResolveAzimuth(smp.Rotation, d)
	case KindGravityMagnetic:
		return rotation.ResolveFromGravity(smp.Gravity, smp.Geomagnetic, d)
	case KindHeading:
		// Orientation-sensor headings enter the filter as whole degrees.
		return azimuth.New(angle.RoundHalfUp(smp.HeadingDeg))
	default:
		return azimuth.Azimuth{}, fmt.Errorf("pipeline: unknown sample kind %q: %w", smp.Kind, errs.ErrInvalidArgument)
	}
}

func (s *Service) waypoint(pos *declination.GeoPosition, hdg azimuth.Azimuth) (*float64, *bool) {
	if s.cfg.Waypoint == nil || pos == nil {
		return nil, nil
	}
	bearing := declination.Bearing(*pos, *s.cfg.Waypoint)
	half := s.cfg.FieldOfViewDeg / 2
	left, errL := hdg.Sub(half)
	right, errR := hdg.Add(half)
	target, errT := azimuth.New(bearing)
	if errL != nil || errR != nil || errT != nil {
		return nil, nil
	}
	inView := target.Between(left, right)
	return &bearing, &inView
}

func (s *Service) drop(err error) (Snapshot, error) {
	s.mu.Lock()
	s.snap.Dropped++
	s.snap.LastError = err.Error()
	snap := s.snap
	s.mu.Unlock()
	return snap, err
}

// withTime stamps pos with the sample time when the fix carries none, so
// the secular variation term tracks the reading.
func (s *Service) withTime(pos declination.GeoPosition, t time.Time) declination.GeoPosition {
	if pos.Time.IsZero() {
		if t.IsZero() {
			t = s.now()
		}
		pos.Time = t
	}
	return pos
}
