// Package rotation turns device orientation sensor readings into an azimuth.
//
// Matrices are 3x3, row-major, and map device coordinates into the world
// frame (X east, Y magnetic north, Z up). Device axes follow the usual
// handheld convention: X to the right of the screen, Y toward the top, Z out
// of the screen.
package rotation

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"compass-ng/internal/angle"
	"compass-ng/internal/azimuth"
	"compass-ng/internal/errs"
)

// Matrix is a row-major 3x3 rotation matrix.
type Matrix [9]float64

// Identity is the matrix of a device lying flat, top edge pointing north.
var Identity = Matrix{1, 0, 0, 0, 1, 0, 0, 0, 1}

// Vector is a rotation-vector sample: the x, y, z parts of a unit quaternion
// (axis * sin(θ/2)). W is the scalar part; leave it 0 to derive it.
type Vector struct {
	X, Y, Z float64
	W       float64
}

func (v Vector) finite() bool {
	for _, c := range [...]float64{v.X, v.Y, v.Z, v.W} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// MatrixFromVector converts a rotation-vector sample into a rotation matrix.
// Non-finite components propagate into the matrix; ResolveAzimuth reports
// them as an invalid angle.
func MatrixFromVector(v Vector) Matrix {
	w := v.W
	if w == 0 {
		w = 1 - v.X*v.X - v.Y*v.Y - v.Z*v.Z
		if w > 0 {
			w = math.Sqrt(w)
		} else {
			w = 0
		}
	}
	q := quat.Number{Real: w, Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	return matrixFromQuat(q)
}

// matrixFromQuat rotates the device basis vectors by q; column c of the
// result is the image of basis vector c.
func matrixFromQuat(q quat.Number) Matrix {
	if n := quat.Abs(q); n != 0 && n != 1 {
		q = quat.Scale(1/n, q)
	}
	qc := quat.Conj(q)
	basis := [3]quat.Number{{Imag: 1}, {Jmag: 1}, {Kmag: 1}}

	var m Matrix
	for c, e := range basis {
		r := quat.Mul(quat.Mul(q, e), qc)
		m[c] = r.Imag
		m[3+c] = r.Jmag
		m[6+c] = r.Kmag
	}
	return m
}

// MatrixFromGravity builds the rotation matrix from an accelerometer reading
// (gravity, pointing up when at rest) and a magnetometer reading.
func MatrixFromGravity(gravity, geomagnetic r3.Vector) (Matrix, error) {
	// Below this the device is in free fall or the field is parallel to gravity.
	const minNorm = 0.1

	if gravity.Norm() < minNorm {
		return Identity, fmt.Errorf("rotation: gravity vector too small (%.3f): %w", gravity.Norm(), errs.ErrInvalidArgument)
	}
	h := geomagnetic.Cross(gravity)
	if h.Norm() < minNorm {
		return Identity, fmt.Errorf("rotation: magnetic field nearly parallel to gravity: %w", errs.ErrInvalidArgument)
	}
	h = h.Normalize()
	a := gravity.Normalize()
	m := a.Cross(h)

	return Matrix{
		h.X, h.Y, h.Z,
		m.X, m.Y, m.Z,
		a.X, a.Y, a.Z,
	}, nil
}

// Orientation extracts azimuth, pitch and roll in radians.
func Orientation(m Matrix) [3]float64 {
	return [3]float64{
		math.Atan2(m[1], m[4]),
		math.Asin(-m[7]),
		math.Atan2(-m[6], m[8]),
	}
}

// ResolveAzimuth converts a rotation-vector sample taken with the display in
// the given rotation into an azimuth.
func ResolveAzimuth(v Vector, d Display) (azimuth.Azimuth, error) {
	if !v.finite() {
		return azimuth.Azimuth{}, fmt.Errorf("rotation: non-finite rotation vector %+v: %w", v, errs.ErrInvalidAngle)
	}
	return resolve(MatrixFromVector(v), d)
}

// ResolveFromGravity is ResolveAzimuth for an accelerometer+magnetometer pair.
func ResolveFromGravity(gravity, geomagnetic r3.Vector, d Display) (azimuth.Azimuth, error) {
	m, err := MatrixFromGravity(gravity, geomagnetic)
	if err != nil {
		return azimuth.Azimuth{}, err
	}
	return resolve(m, d)
}

func resolve(m Matrix, d Display) (azimuth.Azimuth, error) {
	remapped, err := RemapForDisplay(m, d)
	if err != nil {
		return azimuth.Azimuth{}, err
	}
	rad := Orientation(remapped)[0]
	return azimuth.New(angle.RadToDeg(rad))
}
