// Package cardinal names the eight compass points and maps degrees onto them.
//
// Two classifications exist and they disagree at sector edges:
//
//   - Sector uses half-open 45° bands starting 22.5° after each point, so
//     22.5 is already NE. Azimuth values are classified this way.
//   - Nearest works on whole degrees and keeps a remainder of exactly half a
//     sector on the lower point, so 22 is N and 23 is NE; for 8 points 112 is
//     still E.
package cardinal

import (
	"fmt"
	"strings"

	"compass-ng/internal/angle"
	"compass-ng/internal/errs"
)

type Direction int

const (
	North Direction = iota
	NorthEast
	East
	SouthEast
	South
	SouthWest
	West
	NorthWest
)

// Count is the number of compass points a Direction can take.
const Count = 8

const sectorWidth = 360.0 / Count

var letters = [Count]string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}

var labels = [Count]string{
	"North", "Northeast", "East", "Southeast",
	"South", "Southwest", "West", "Northwest",
}

func (d Direction) valid() bool { return d >= North && d <= NorthWest }

// Anchor is the heading the direction points at, a multiple of 45.
func (d Direction) Anchor() int {
	return int(d) * 45
}

// Letter is the short form, e.g. "NE".
func (d Direction) Letter() string {
	if !d.valid() {
		return "?"
	}
	return letters[d]
}

// Label is the long display form, e.g. "Northeast".
func (d Direction) Label() string {
	if !d.valid() {
		return "Unknown"
	}
	return labels[d]
}

func (d Direction) String() string { return d.Letter() }

func (d Direction) MarshalText() ([]byte, error) {
	if !d.valid() {
		return nil, fmt.Errorf("cardinal: direction %d out of range: %w", int(d), errs.ErrInvalidArgument)
	}
	return []byte(letters[d]), nil
}

func (d *Direction) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Parse accepts a letter ("sw") or a label ("Southwest"), case-insensitively.
func Parse(s string) (Direction, error) {
	s = strings.TrimSpace(s)
	for i := 0; i < Count; i++ {
		if strings.EqualFold(s, letters[i]) || strings.EqualFold(s, labels[i]) {
			return Direction(i), nil
		}
	}
	return North, fmt.Errorf("cardinal: unknown direction %q: %w", s, errs.ErrInvalidArgument)
}

// Sector classifies a heading using fixed 45° bands. NE covers [22.5,67.5),
// E covers [67.5,112.5) and so on; North takes the wrap [337.5,360)∪[0,22.5).
func Sector(deg float64) Direction {
	d := angle.Normalize(deg)
	for i := NorthEast; i <= NorthWest; i++ {
		lo := float64(i)*sectorWidth - sectorWidth/2
		if d >= lo && d < lo+sectorWidth {
			return i
		}
	}
	return North
}

// Nearest maps a whole-degree heading to the closest of the eight points.
func Nearest(deg int) Direction {
	d, _ := NearestN(deg, Count)
	return d
}

// NearestN maps deg to the closest of points evenly spaced compass points,
// starting at North. points must be 4 (N, E, S, W) or 8.
func NearestN(deg, points int) (Direction, error) {
	if points != 4 && points != Count {
		return North, fmt.Errorf("cardinal: unsupported point count %d: %w", points, errs.ErrInvalidArgument)
	}
	deg = ((deg % 360) + 360) % 360

	width := 360 / points
	index := deg / width
	rem := deg % width
	if rem > width/2 {
		index++
	}
	index %= points
	return Direction(index * (Count / points)), nil
}
