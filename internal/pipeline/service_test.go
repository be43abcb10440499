package pipeline

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"compass-ng/internal/cardinal"
	"compass-ng/internal/declination"
	"compass-ng/internal/errs"
	"compass-ng/internal/heading"
	"compass-ng/internal/rotation"
)

type fixedDeclination float64

func (f fixedDeclination) Declination(declination.GeoPosition) (float64, error) {
	return float64(f), nil
}

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, cfg Config) *Service {
	t.Helper()
	cfg.Now = func() time.Time { return fixedNow }
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func headingSample(deg float64) Sample {
	return Sample{Kind: KindHeading, HeadingDeg: deg}
}

func TestProcess_FiltersHeading(t *testing.T) {
	s := newTestService(t, Config{})

	snap, err := s.Process(headingSample(100))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !snap.Valid {
		t.Fatalf("expected valid snapshot")
	}
	if snap.MagneticDeg != 100 || snap.TrueDeg != 100 || snap.DeclinationApplied {
		t.Fatalf("magnetic=%v true=%v applied=%v", snap.MagneticDeg, snap.TrueDeg, snap.DeclinationApplied)
	}
	if snap.Heading.Rounded() != 10 {
		t.Fatalf("rounded=%d want 10", snap.Heading.Rounded())
	}
	if snap.Nearest != cardinal.North || snap.Heading.Cardinal() != cardinal.North {
		t.Fatalf("nearest=%v sector=%v", snap.Nearest, snap.Heading.Cardinal())
	}
	if snap.Samples != 1 || !snap.UpdatedAt.Equal(fixedNow) {
		t.Fatalf("samples=%d updated=%v", snap.Samples, snap.UpdatedAt)
	}
}

func TestProcess_RoundsHeadingSamplesBeforeFiltering(t *testing.T) {
	cases := []struct {
		in           float64
		wantMagnetic float64
	}{
		{100.4, 100},
		{100.5, 101},
		{-0.5, 0},
		{359.6, 0},
	}
	for _, tc := range cases {
		s := newTestService(t, Config{})
		snap, err := s.Process(headingSample(tc.in))
		if err != nil {
			t.Fatalf("Process(%v): %v", tc.in, err)
		}
		if snap.MagneticDeg != tc.wantMagnetic {
			t.Fatalf("in=%v magnetic=%v want %v", tc.in, snap.MagneticDeg, tc.wantMagnetic)
		}
		if want := 0.1 * tc.wantMagnetic; math.Abs(snap.FilteredDeg-want) > 1e-9 {
			t.Fatalf("in=%v filtered=%v want %v", tc.in, snap.FilteredDeg, want)
		}
	}
}

func TestProcess_DropsInvalidWithoutTouchingFilter(t *testing.T) {
	s := newTestService(t, Config{})
	if _, err := s.Process(headingSample(100)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	before := s.Snapshot()

	_, err := s.Process(headingSample(math.NaN()))
	if !errors.Is(err, errs.ErrInvalidAngle) {
		t.Fatalf("err=%v want ErrInvalidAngle", err)
	}
	_, err = s.Process(Sample{Kind: KindRotationVector, Rotation: rotation.Vector{X: math.Inf(1)}})
	if !errors.Is(err, errs.ErrInvalidAngle) {
		t.Fatalf("err=%v want ErrInvalidAngle", err)
	}
	_, err = s.Process(Sample{Kind: "bogus"})
	if !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("err=%v want ErrInvalidArgument", err)
	}

	after := s.Snapshot()
	if after.Dropped != 3 || after.Samples != before.Samples {
		t.Fatalf("dropped=%d samples=%d", after.Dropped, after.Samples)
	}
	if after.FilteredDeg != before.FilteredDeg || after.Heading != before.Heading {
		t.Fatalf("filter state moved: %v -> %v", before.FilteredDeg, after.FilteredDeg)
	}
	if after.LastError == "" {
		t.Fatalf("expected LastError")
	}

	snap, err := s.Process(headingSample(100))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if snap.Heading.Rounded() != 19 || snap.LastError != "" {
		t.Fatalf("rounded=%d lastErr=%q", snap.Heading.Rounded(), snap.LastError)
	}
}

func TestProcess_AppliesDeclinationOncePositioned(t *testing.T) {
	s := newTestService(t, Config{
		FilterOptions: []heading.Option{heading.WithAlpha(1)},
		Corrector:     declination.NewCorrector(fixedDeclination(10)),
	})

	snap, err := s.Process(headingSample(355))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if snap.DeclinationApplied || snap.Heading.Rounded() != 355 {
		t.Fatalf("applied=%v rounded=%d before fix", snap.DeclinationApplied, snap.Heading.Rounded())
	}

	if err := s.SetPosition(declination.GeoPosition{Latitude: 47, Longitude: -122}); err != nil {
		t.Fatalf("SetPosition: %v", err)
	}
	snap, err = s.Process(headingSample(355))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !snap.DeclinationApplied || snap.DeclinationDeg != 10 {
		t.Fatalf("applied=%v decl=%v", snap.DeclinationApplied, snap.DeclinationDeg)
	}
	if math.Abs(snap.TrueDeg-5) > 1e-9 || snap.Heading.Rounded() != 5 {
		t.Fatalf("true=%v rounded=%d want 5", snap.TrueDeg, snap.Heading.Rounded())
	}
}

func TestSetPosition_RejectsNonFinite(t *testing.T) {
	s := newTestService(t, Config{})
	err := s.SetPosition(declination.GeoPosition{Latitude: math.NaN()})
	if !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("err=%v", err)
	}
	if _, ok := s.Position(); ok {
		t.Fatalf("position should remain unset")
	}
}

func TestProcess_RotationVectorUsesDisplayRotation(t *testing.T) {
	s := newTestService(t, Config{
		FilterOptions:   []heading.Option{heading.WithAlpha(1)},
		DisplayRotation: rotation.Rotation90,
	})
	snap, err := s.Process(Sample{Kind: KindRotationVector})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if math.Abs(snap.MagneticDeg-90) > 1e-9 || snap.Nearest != cardinal.East {
		t.Fatalf("magnetic=%v nearest=%v", snap.MagneticDeg, snap.Nearest)
	}

	if err := s.SetDisplayRotation(rotation.Rotation180); err != nil {
		t.Fatalf("SetDisplayRotation: %v", err)
	}
	snap, err = s.Process(Sample{Kind: KindRotationVector})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if math.Abs(snap.MagneticDeg-180) > 1e-9 || snap.DisplayRotation != 180 {
		t.Fatalf("magnetic=%v display=%d", snap.MagneticDeg, snap.DisplayRotation)
	}

	if err := s.SetDisplayRotation(rotation.Display(9)); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("err=%v", err)
	}
}

func TestProcess_WaypointInView(t *testing.T) {
	s := newTestService(t, Config{
		FilterOptions: []heading.Option{heading.WithAlpha(1)},
		Position:      &declination.GeoPosition{},
		Waypoint:      &declination.GeoPosition{Longitude: 1},
	})

	cases := []struct {
		heading float64
		want    bool
	}{
		{80, true},
		{115, true},
		{125, false},
		{200, false},
		{70, true},
		{55, false},
	}
	for _, tc := range cases {
		snap, err := s.Process(headingSample(tc.heading))
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		if snap.WaypointInView == nil || snap.WaypointBearingDeg == nil {
			t.Fatalf("expected waypoint fields")
		}
		if math.Abs(*snap.WaypointBearingDeg-90) > 1e-9 {
			t.Fatalf("bearing=%v want 90", *snap.WaypointBearingDeg)
		}
		if *snap.WaypointInView != tc.want {
			t.Fatalf("heading=%v inView=%v want %v", tc.heading, *snap.WaypointInView, tc.want)
		}
	}
}

func TestNew_RejectsBadConfig(t *testing.T) {
	if _, err := New(Config{FilterOptions: []heading.Option{heading.WithAlpha(2)}}); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("alpha err=%v", err)
	}
	if _, err := New(Config{DisplayRotation: rotation.Display(4)}); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("display err=%v", err)
	}
	if _, err := New(Config{FieldOfViewDeg: 400}); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("fov err=%v", err)
	}
	if _, err := New(Config{Waypoint: &declination.GeoPosition{Latitude: math.Inf(1)}}); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("waypoint err=%v", err)
	}
}

func TestRun_ConsumesInOrderAndPublishes(t *testing.T) {
	s := newTestService(t, Config{FilterOptions: []heading.Option{heading.WithAlpha(1)}})
	_, sub := s.Broadcaster().Subscribe(8)

	in := make(chan Sample, 4)
	in <- headingSample(10)
	in <- headingSample(math.NaN())
	in <- headingSample(20)
	close(in)

	if err := s.Run(context.Background(), in); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var got []int
	for len(sub) > 0 {
		snap := <-sub
		got = append(got, snap.Heading.Rounded())
	}
	if len(got) != 2 || got[0] != 10 || got[1] != 20 {
		t.Fatalf("published=%v want [10 20]", got)
	}
	snap := s.Snapshot()
	if snap.Samples != 2 || snap.Dropped != 1 {
		t.Fatalf("samples=%d dropped=%d", snap.Samples, snap.Dropped)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	s := newTestService(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, make(chan Sample)) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err=%v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return")
	}
}
