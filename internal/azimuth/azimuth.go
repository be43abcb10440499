// Package azimuth provides the validated compass angle handed to consumers.
package azimuth

import (
	"encoding/json"
	"fmt"
	"math"

	"compass-ng/internal/angle"
	"compass-ng/internal/cardinal"
	"compass-ng/internal/errs"
)

// Azimuth is a horizontal angle in degrees, 0 = north, increasing clockwise.
// The zero value is a valid azimuth pointing north. Values are immutable;
// the derived fields are computed once in New.
type Azimuth struct {
	degrees  float64
	rounded  int
	cardinal cardinal.Direction
}

// New normalizes raw into [0,360). NaN and ±Inf are rejected.
func New(raw float64) (Azimuth, error) {
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return Azimuth{}, fmt.Errorf("azimuth: degrees must be finite but was %v: %w", raw, errs.ErrInvalidAngle)
	}
	deg := angle.Normalize(raw)
	return Azimuth{
		degrees:  deg,
		rounded:  int(angle.Normalize(angle.RoundHalfUp(raw))),
		cardinal: cardinal.Sector(deg),
	}, nil
}

// MustNew is New for constants known to be finite.
func MustNew(raw float64) Azimuth {
	a, err := New(raw)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Azimuth) Degrees() float64 { return a.degrees }

// Rounded is the nearest whole degree, in [0,359].
func (a Azimuth) Rounded() int { return a.rounded }

func (a Azimuth) Cardinal() cardinal.Direction { return a.cardinal }

func (a Azimuth) Add(deg float64) (Azimuth, error) {
	return New(a.degrees + deg)
}

func (a Azimuth) Sub(deg float64) (Azimuth, error) {
	return New(a.degrees - deg)
}

// Compare returns -1, 0 or +1 ordering by normalized degrees.
func (a Azimuth) Compare(b Azimuth) int {
	switch {
	case a.degrees < b.degrees:
		return -1
	case a.degrees > b.degrees:
		return 1
	default:
		return 0
	}
}

func (a Azimuth) Equal(b Azimuth) bool { return a.degrees == b.degrees }

// Between reports whether a lies on the short arc from pointA to pointB.
func (a Azimuth) Between(pointA, pointB Azimuth) bool {
	return angle.IsBetween(a.degrees, pointA.degrees, pointB.degrees)
}

func (a Azimuth) String() string {
	return fmt.Sprintf("Azimuth(degrees=%g)", a.degrees)
}

type wire struct {
	Degrees  float64            `json:"degrees"`
	Rounded  int                `json:"rounded"`
	Cardinal cardinal.Direction `json:"cardinal"`
}

func (a Azimuth) MarshalJSON() ([]byte, error) {
	return json.Marshal(wire{Degrees: a.degrees, Rounded: a.rounded, Cardinal: a.cardinal})
}

// UnmarshalJSON rebuilds the azimuth from its degrees; the derived fields in
// the payload are ignored.
func (a *Azimuth) UnmarshalJSON(b []byte) error {
	var w wire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	v, err := New(w.Degrees)
	if err != nil {
		return err
	}
	*a = v
	return nil
}
