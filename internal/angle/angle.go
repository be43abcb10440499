// Package angle has the degree arithmetic used everywhere a heading is
// handled: normalization into [0,360), snapping and arc membership.
package angle

import (
	"fmt"
	"math"

	"compass-ng/internal/errs"
)

const fullTurn = 360.0

// Normalize maps any finite angle in degrees into [0,360).
func Normalize(deg float64) float64 {
	n := math.Mod(deg, fullTurn)
	if n < 0 {
		n += fullTurn
	}
	// Tiny negative inputs round up to exactly 360 on the add; -0 also lands here.
	if n >= fullTurn || n == 0 {
		return 0
	}
	return n
}

// ClosestOnInterval rounds v to the nearest multiple of interval.
// Halves round up, so 7.5 on a 5 grid becomes 10.
func ClosestOnInterval(v, interval float64) (float64, error) {
	if !(interval > 0) || math.IsInf(interval, 0) {
		return 0, fmt.Errorf("angle: interval must be > 0, got %v: %w", interval, errs.ErrInvalidArgument)
	}
	return RoundHalfUp(v/interval) * interval, nil
}

// IsBetween reports whether a lies on the arc running from pointA to pointB.
// The arc is the one that goes clockwise from A to B when that is the short
// way round, otherwise the counter-clockwise one.
func IsBetween(a, pointA, pointB float64) bool {
	arc := Normalize(pointB - pointA)
	rel := Normalize(a - pointA)
	return (arc <= 180) != (rel > arc)
}

// Diff returns the signed shortest rotation from a to b in (-180,180].
func Diff(a, b float64) float64 {
	d := Normalize(b - a)
	if d > 180 {
		d -= fullTurn
	}
	return d
}

func DegToRad(deg float64) float64 {
	return deg * math.Pi / 180
}

func RadToDeg(rad float64) float64 {
	return rad * 180 / math.Pi
}

// RoundHalfUp rounds to the nearest integer with .5 going toward +Inf.
// Headings are rounded this way throughout so -0.5 becomes 0, not -1.
func RoundHalfUp(v float64) float64 {
	return math.Floor(v + 0.5)
}
