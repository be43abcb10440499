package rotation

import (
	"fmt"

	"compass-ng/internal/errs"
)

// Display is how far the screen is rotated from its natural orientation.
type Display int

const (
	Rotation0 Display = iota
	Rotation90
	Rotation180
	Rotation270
)

// ParseDisplay accepts 0, 90, 180 or 270 (negative and >360 are folded).
func ParseDisplay(deg int) (Display, error) {
	switch ((deg % 360) + 360) % 360 {
	case 0:
		return Rotation0, nil
	case 90:
		return Rotation90, nil
	case 180:
		return Rotation180, nil
	case 270:
		return Rotation270, nil
	}
	return Rotation0, fmt.Errorf("rotation: display rotation must be a multiple of 90, got %d: %w", deg, errs.ErrInvalidArgument)
}

func (d Display) Degrees() int { return int(d) * 90 }

func (d Display) Valid() bool { return d >= Rotation0 && d <= Rotation270 }

func (d Display) String() string { return fmt.Sprintf("ROTATION_%d", d.Degrees()) }

// Axis codes for Remap. Or an axis with axisMinus to flip it.
const (
	AxisX = 1
	AxisY = 2
	AxisZ = 3

	axisMinus = 0x80

	AxisMinusX = AxisX | axisMinus
	AxisMinusY = AxisY | axisMinus
	AxisMinusZ = AxisZ | axisMinus
)

// displayAxes is which device axes become the new X and Y for each rotation.
var displayAxes = [...][2]int{
	Rotation0:   {AxisX, AxisY},
	Rotation90:  {AxisY, AxisMinusX},
	Rotation180: {AxisMinusX, AxisMinusY},
	Rotation270: {AxisMinusY, AxisX},
}

// RemapForDisplay re-expresses m in the screen axes of the given rotation.
func RemapForDisplay(m Matrix, d Display) (Matrix, error) {
	if !d.Valid() {
		return m, fmt.Errorf("rotation: unknown display rotation %d: %w", int(d), errs.ErrInvalidArgument)
	}
	axes := displayAxes[d]
	return Remap(m, axes[0], axes[1])
}

// Remap rewrites m in a coordinate system whose X and Y axes are the given
// device axes. Z follows from the right-hand rule. This is a change of basis:
// values are moved between columns and negated, never rotated numerically.
func Remap(m Matrix, axisX, axisY int) (Matrix, error) {
	if axisX&0x7C != 0 || axisY&0x7C != 0 {
		return m, fmt.Errorf("rotation: bad axis code %#x/%#x: %w", axisX, axisY, errs.ErrInvalidArgument)
	}
	if axisX&0x3 == 0 || axisY&0x3 == 0 {
		return m, fmt.Errorf("rotation: axis not specified: %w", errs.ErrInvalidArgument)
	}
	if axisX&0x3 == axisY&0x3 {
		return m, fmt.Errorf("rotation: X and Y map to the same axis: %w", errs.ErrInvalidArgument)
	}

	axisZ := axisX ^ axisY
	x := axisX&0x3 - 1
	y := axisY&0x3 - 1
	z := axisZ&0x3 - 1

	// Flip Z when (x, y, z) is not a cyclic permutation of (0, 1, 2).
	if x != (z+1)%3 || y != (z+2)%3 {
		axisZ ^= axisMinus
	}
	sx := axisX >= axisMinus
	sy := axisY >= axisMinus
	sz := axisZ >= axisMinus

	var out Matrix
	for row := 0; row < 3; row++ {
		off := row * 3
		out[off+x] = signed(m[off+0], sx)
		out[off+y] = signed(m[off+1], sy)
		out[off+z] = signed(m[off+2], sz)
	}
	return out, nil
}

func signed(v float64, neg bool) float64 {
	if neg {
		return -v
	}
	return v
}
