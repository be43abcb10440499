// Package heading smooths a stream of raw heading samples.
package heading

import (
	"fmt"
	"math"

	"compass-ng/internal/angle"
	"compass-ng/internal/errs"
)

// DefaultAlpha is the smoothing constant used when none is given.
const DefaultAlpha = 0.1

// Filter is a first-order exponential filter over heading degrees.
//
// By default it interpolates linearly, so a signal crossing 0/360 is
// filtered through the middle of the circle (359 then 1 sweeps down through
// 180 before settling). WithWrapAware switches to shortest-path filtering.
//
// Filter is not safe for concurrent Update calls.
type Filter struct {
	alpha     float64
	wrapAware bool
	previous  float64
}

type Option func(*Filter) error

// WithAlpha sets the smoothing strength: 0 never moves, 1 passes raw values
// through.
func WithAlpha(a float64) Option {
	return func(f *Filter) error {
		if math.IsNaN(a) || a < 0 || a > 1 {
			return fmt.Errorf("heading: alpha must be in [0,1], got %v: %w", a, errs.ErrInvalidArgument)
		}
		f.alpha = a
		return nil
	}
}

// WithWrapAware makes the filter follow the shorter arc between the current
// state and each sample.
func WithWrapAware(on bool) Option {
	return func(f *Filter) error {
		f.wrapAware = on
		return nil
	}
}

// New returns a filter whose state starts at 0.
func New(opts ...Option) (*Filter, error) {
	f := &Filter{alpha: DefaultAlpha}
	for _, o := range opts {
		if err := o(f); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Update advances the filter by one sample and returns the rounded output.
func (f *Filter) Update(raw float64) float64 {
	if f.wrapAware {
		f.previous = angle.Normalize(f.previous + f.alpha*angle.Diff(f.previous, raw))
		return angle.Normalize(angle.RoundHalfUp(f.previous))
	}
	f.previous = f.alpha*raw + (1-f.alpha)*f.previous
	return angle.RoundHalfUp(f.previous)
}

// Value is the unrounded filter state.
func (f *Filter) Value() float64 { return f.previous }

func (f *Filter) Alpha() float64 { return f.alpha }

func (f *Filter) WrapAware() bool { return f.wrapAware }
