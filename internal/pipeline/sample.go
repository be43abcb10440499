package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/geo/r3"

	"compass-ng/internal/errs"
	"compass-ng/internal/rotation"
)

// Kind says which sensor produced a sample.
type Kind string

const (
	KindRotationVector  Kind = "rotation_vector"
	KindGravityMagnetic Kind = "gravity_magnetic"
	KindHeading         Kind = "heading"
)

// Source produces samples into out until ctx is done or its input ends.
type Source interface {
	Run(ctx context.Context, out chan<- Sample) error
}

// Sample is one orientation reading. Only the fields for its Kind are used.
type Sample struct {
	Time time.Time
	Kind Kind

	Rotation    rotation.Vector
	Gravity     r3.Vector
	Geomagnetic r3.Vector
	HeadingDeg  float64
}

type wireSample struct {
	TimeNs      int64     `json:"t_ns"`
	Kind        Kind      `json:"kind"`
	Rotation    []float64 `json:"rotation,omitempty"`
	Gravity     []float64 `json:"gravity,omitempty"`
	Geomagnetic []float64 `json:"geomagnetic,omitempty"`
	HeadingDeg  *float64  `json:"heading_deg,omitempty"`
}

// EncodeSample renders s as a single NDJSON line without the trailing newline.
func EncodeSample(s Sample) ([]byte, error) {
	w := wireSample{Kind: s.Kind}
	if !s.Time.IsZero() {
		w.TimeNs = s.Time.UnixNano()
	}
	switch s.Kind {
	case KindRotationVector:
		w.Rotation = []float64{s.Rotation.X, s.Rotation.Y, s.Rotation.Z}
		if s.Rotation.W != 0 {
			w.Rotation = append(w.Rotation, s.Rotation.W)
		}
	case KindGravityMagnetic:
		w.Gravity = []float64{s.Gravity.X, s.Gravity.Y, s.Gravity.Z}
		w.Geomagnetic = []float64{s.Geomagnetic.X, s.Geomagnetic.Y, s.Geomagnetic.Z}
	case KindHeading:
		h := s.HeadingDeg
		w.HeadingDeg = &h
	default:
		return nil, fmt.Errorf("pipeline: unknown sample kind %q: %w", s.Kind, errs.ErrInvalidArgument)
	}
	return json.Marshal(w)
}

// DecodeSample parses one NDJSON line.
func DecodeSample(line []byte) (Sample, error) {
	var w wireSample
	if err := json.Unmarshal(line, &w); err != nil {
		return Sample{}, fmt.Errorf("pipeline: decode sample: %w", err)
	}
	s := Sample{Kind: w.Kind}
	if w.TimeNs != 0 {
		s.Time = time.Unix(0, w.TimeNs).UTC()
	}
	switch w.Kind {
	case KindRotationVector:
		if len(w.Rotation) != 3 && len(w.Rotation) != 4 {
			return Sample{}, fmt.Errorf("pipeline: rotation wants 3 or 4 values, got %d: %w", len(w.Rotation), errs.ErrInvalidArgument)
		}
		s.Rotation = rotation.Vector{X: w.Rotation[0], Y: w.Rotation[1], Z: w.Rotation[2]}
		if len(w.Rotation) == 4 {
			s.Rotation.W = w.Rotation[3]
		}
	case KindGravityMagnetic:
		if len(w.Gravity) != 3 || len(w.Geomagnetic) != 3 {
			return Sample{}, fmt.Errorf("pipeline: gravity and geomagnetic want 3 values each: %w", errs.ErrInvalidArgument)
		}
		s.Gravity = r3.Vector{X: w.Gravity[0], Y: w.Gravity[1], Z: w.Gravity[2]}
		s.Geomagnetic = r3.Vector{X: w.Geomagnetic[0], Y: w.Geomagnetic[1], Z: w.Geomagnetic[2]}
	case KindHeading:
		if w.HeadingDeg == nil {
			return Sample{}, fmt.Errorf("pipeline: heading sample without heading_deg: %w", errs.ErrInvalidArgument)
		}
		s.HeadingDeg = *w.HeadingDeg
	default:
		return Sample{}, fmt.Errorf("pipeline: unknown sample kind %q: %w", w.Kind, errs.ErrInvalidArgument)
	}
	return s, nil
}
