// Package sim produces deterministic orientation samples for bench testing
// without hardware.
package sim

import (
	"context"
	"math"
	"time"

	"github.com/golang/geo/r3"

	"compass-ng/internal/angle"
	"compass-ng/internal/declination"
	"compass-ng/internal/pipeline"
	"compass-ng/internal/rotation"
)

const (
	defaultPeriod = 60 * time.Second
	defaultRate   = 20 * time.Millisecond

	// Rough field strengths, µT and m/s².
	horizontalFieldUT = 20.0
	verticalFieldUT   = 40.0
	gravityMS2        = 9.80665
)

// Compass is a device lying flat and turning clockwise at a steady rate
// while wandering a small figure-eight around a center point.
type Compass struct {
	Kind         pipeline.Kind
	Period       time.Duration
	Interval     time.Duration
	CenterLatDeg float64
	CenterLonDeg float64
	RadiusM      float64

	// OnPosition, when set, receives the simulated fix once per sample.
	OnPosition func(declination.GeoPosition)
}

// HeadingAt returns the magnetic heading at now, in [0,360).
func (c Compass) HeadingAt(now time.Time) float64 {
	period := c.Period
	if period <= 0 {
		period = defaultPeriod
	}
	phase := float64(now.UnixNano()%period.Nanoseconds()) / float64(period.Nanoseconds())
	return angle.Normalize(360 * phase)
}

// Position returns a deterministic figure-eight (Lissajous) path that stays
// within RadiusM of the center.
func (c Compass) Position(now time.Time) declination.GeoPosition {
	period := c.Period
	if period <= 0 {
		period = defaultPeriod
	}
	radiusM := c.RadiusM
	if radiusM <= 0 {
		radiusM = 50
	}
	// ~111 km per degree of latitude.
	radiusDeg := radiusM / 111_320.0

	phase := float64(now.UnixNano()%period.Nanoseconds()) / float64(period.Nanoseconds())
	w := 2 * math.Pi * phase
	x := math.Cos(w)
	y := 0.5 * math.Sin(2*w)

	return declination.GeoPosition{
		Latitude:  c.CenterLatDeg + radiusDeg*y,
		Longitude: c.CenterLonDeg + (radiusDeg*x)/math.Cos(angle.DegToRad(c.CenterLatDeg)),
		Time:      now.UTC(),
	}
}

// SampleAt builds the sample a real sensor would report at now.
func (c Compass) SampleAt(now time.Time) pipeline.Sample {
	s := SampleForHeading(c.Kind, c.HeadingAt(now))
	s.Time = now.UTC()
	return s
}

// SampleForHeading builds a sample of the given kind for a level device
// whose top edge points at headingDeg (magnetic).
func SampleForHeading(kind pipeline.Kind, headingDeg float64) pipeline.Sample {
	// Azimuth is the negated yaw about the up axis.
	yaw := angle.DegToRad(-headingDeg)
	switch kind {
	case pipeline.KindGravityMagnetic:
		s, c := math.Sincos(yaw)
		return pipeline.Sample{
			Kind:        pipeline.KindGravityMagnetic,
			Gravity:     r3.Vector{Z: gravityMS2},
			Geomagnetic: r3.Vector{X: horizontalFieldUT * s, Y: horizontalFieldUT * c, Z: -verticalFieldUT},
		}
	case pipeline.KindHeading:
		return pipeline.Sample{Kind: pipeline.KindHeading, HeadingDeg: headingDeg}
	default:
		s, c := math.Sincos(yaw / 2)
		return pipeline.Sample{
			Kind:     pipeline.KindRotationVector,
			Rotation: rotation.Vector{Z: s, W: c},
		}
	}
}

// Run emits one sample per Interval until ctx is done.
func (c Compass) Run(ctx context.Context, out chan<- pipeline.Sample) error {
	interval := c.Interval
	if interval <= 0 {
		interval = defaultRate
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			if c.OnPosition != nil {
				c.OnPosition(c.Position(now))
			}
			select {
			case out <- c.SampleAt(now):
			case <-ctx.Done():
				return nil
			}
		}
	}
}
