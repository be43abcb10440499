// Package declination corrects magnetic headings to true north using a
// spherical-harmonic geomagnetic model.
package declination

import (
	"fmt"
	"math"
	"sync"
	"time"

	geo "github.com/kellydunn/golang-geo"

	"compass-ng/internal/angle"
	"compass-ng/internal/errs"
)

// GeoPosition is a transient fix used to look up declination.
type GeoPosition struct {
	Latitude  float64   `json:"lat_deg"`
	Longitude float64   `json:"lon_deg"`
	Altitude  float64   `json:"alt_m"` // above the WGS-84 ellipsoid
	Time      time.Time `json:"time"`
}

// Validate rejects non-finite coordinates.
func (p GeoPosition) Validate() error {
	for _, v := range [...]struct {
		name string
		val  float64
	}{
		{"latitude", p.Latitude},
		{"longitude", p.Longitude},
		{"altitude", p.Altitude},
	} {
		if math.IsNaN(v.val) || math.IsInf(v.val, 0) {
			return fmt.Errorf("declination: %s must be finite, got %v: %w", v.name, v.val, errs.ErrInvalidArgument)
		}
	}
	return nil
}

// Source is anything that can compute declination for a position.
type Source interface {
	Declination(pos GeoPosition) (float64, error)
}

// wmm2020 is the full degree 12 WMM-2020 main field and secular variation.
// Load a newer WMM.COF with LoadCOF to track the current epoch.
var wmm2020 = []Coefficient{
	{1, 0, -29404.5, 0.0, 6.7, 0.0},
	{1, 1, -1450.7, 4652.9, 7.7, -25.1},
	{2, 0, -2500.0, 0.0, -11.5, 0.0},
	{2, 1, 2982.0, -2991.6, -7.1, -30.2},
	{2, 2, 1676.8, -734.8, -2.2, -23.9},
	{3, 0, 1363.9, 0.0, 2.8, 0.0},
	{3, 1, -2381.0, -82.2, -6.2, 5.7},
	{3, 2, 1236.2, 241.8, 3.4, -1.0},
	{3, 3, 525.7, -542.9, -12.2, 1.1},
	{4, 0, 903.1, 0.0, -1.1, 0.0},
	{4, 1, 809.4, 282.0, -1.6, 0.2},
	{4, 2, 86.2, -158.4, -6.0, 6.9},
	{4, 3, -309.4, 199.8, 5.4, 3.7},
	{4, 4, 47.9, -350.1, -5.5, -5.6},
	{5, 0, -234.4, 0.0, -0.3, 0.0},
	{5, 1, 363.1, 47.7, 0.6, 0.1},
	{5, 2, 187.8, 208.4, -0.7, 2.5},
	{5, 3, -140.7, -121.3, 0.1, -0.9},
	{5, 4, -151.2, 32.2, 1.2, 3.0},
	{5, 5, 13.7, 99.1, 1.0, 0.5},
	{6, 0, 65.9, 0.0, -0.6, 0.0},
	{6, 1, 65.6, -19.1, -0.4, 0.1},
	{6, 2, 73.0, 25.0, 0.5, -1.8},
	{6, 3, -121.5, 52.7, 1.4, -1.4},
	{6, 4, -36.2, -64.4, -1.4, 0.9},
	{6, 5, 13.5, 9.0, 0.0, 0.1},
	{6, 6, -64.7, 68.1, 0.8, 1.0},
	{7, 0, 80.6, 0.0, -0.1, 0.0},
	{7, 1, -76.8, -51.4, -0.3, 0.5},
	{7, 2, -8.3, -16.8, -0.1, 0.6},
	{7, 3, 56.5, 2.3, 0.7, -0.7},
	{7, 4, 15.8, 23.5, 0.2, -0.2},
	{7, 5, 6.4, -2.2, -0.5, -1.2},
	{7, 6, -7.2, -27.2, -0.8, 0.2},
	{7, 7, 9.8, -1.9, 1.0, 0.3},
	{8, 0, 23.6, 0.0, -0.1, 0.0},
	{8, 1, 9.8, 8.4, 0.1, -0.3},
	{8, 2, -17.5, -15.3, -0.1, 0.7},
	{8, 3, -0.4, 12.8, 0.5, -0.2},
	{8, 4, -21.1, -11.8, -0.1, 0.5},
	{8, 5, 15.3, 14.9, 0.4, -0.3},
	{8, 6, 13.7, 3.6, 0.5, -0.5},
	{8, 7, -16.5, -6.9, 0.0, 0.4},
	{8, 8, -0.3, 2.8, 0.4, 0.1},
	{9, 0, 5.0, 0.0, -0.1, 0.0},
	{9, 1, 8.2, -23.3, -0.2, -0.3},
	{9, 2, 2.9, 11.1, 0.0, 0.2},
	{9, 3, -1.4, 9.8, 0.4, -0.4},
	{9, 4, -1.1, -5.1, -0.3, 0.4},
	{9, 5, -13.3, -6.2, 0.0, 0.1},
	{9, 6, 1.1, 7.8, 0.3, 0.0},
	{9, 7, 8.9, 0.4, 0.0, -0.2},
	{9, 8, -9.3, -1.5, 0.0, 0.5},
	{9, 9, -11.9, 9.7, -0.4, 0.2},
	{10, 0, -1.9, 0.0, 0.0, 0.0},
	{10, 1, -6.2, 3.4, 0.0, 0.0},
	{10, 2, -0.1, -0.2, 0.0, 0.1},
	{10, 3, 1.7, 3.5, 0.2, -0.3},
	{10, 4, -0.9, 4.8, -0.1, 0.1},
	{10, 5, 0.6, -8.6, -0.2, -0.2},
	{10, 6, -0.9, -0.1, 0.0, 0.1},
	{10, 7, 1.9, -4.2, -0.1, 0.0},
	{10, 8, 1.4, -3.4, -0.2, -0.1},
	{10, 9, -2.4, -0.1, -0.1, 0.2},
	{10, 10, -3.9, -8.8, 0.0, 0.0},
	{11, 0, 3.0, 0.0, 0.0, 0.0},
	{11, 1, -1.4, 0.0, -0.1, 0.0},
	{11, 2, -2.5, 2.6, 0.0, 0.1},
	{11, 3, 2.4, -0.5, 0.0, 0.0},
	{11, 4, -0.9, -0.4, 0.0, 0.2},
	{11, 5, 0.3, 0.6, -0.1, 0.0},
	{11, 6, -0.7, -0.2, 0.0, 0.0},
	{11, 7, -0.1, -1.7, 0.0, 0.1},
	{11, 8, 1.4, -1.6, -0.1, 0.0},
	{11, 9, -0.6, -3.0, -0.1, -0.1},
	{11, 10, 0.2, -2.0, -0.1, 0.0},
	{11, 11, 3.1, -2.6, -0.1, 0.0},
	{12, 0, -2.0, 0.0, 0.0, 0.0},
	{12, 1, -0.1, -1.2, 0.0, 0.0},
	{12, 2, 0.5, 0.5, 0.0, 0.0},
	{12, 3, 1.3, 1.3, 0.0, -0.1},
	{12, 4, -1.2, -1.8, 0.0, 0.1},
	{12, 5, 0.7, 0.1, 0.0, 0.0},
	{12, 6, 0.3, 0.7, 0.0, 0.0},
	{12, 7, 0.5, -0.1, 0.0, 0.0},
	{12, 8, -0.2, 0.6, 0.0, 0.1},
	{12, 9, -0.5, 0.2, 0.0, 0.0},
	{12, 10, 0.1, -0.9, 0.0, 0.0},
	{12, 11, -1.1, 0.0, 0.0, 0.0},
	{12, 12, -0.3, 0.5, -0.1, -0.1},
}

var (
	defaultOnce  sync.Once
	defaultModel *Model
)

// Default returns the built-in model.
func Default() *Model {
	defaultOnce.Do(func() {
		m, err := NewModel("WMM-2020", 2020.0, wmm2020)
		if err != nil {
			panic(err)
		}
		defaultModel = m
	})
	return defaultModel
}

// Corrector applies declination from a Source to magnetic headings.
type Corrector struct {
	src Source
}

// NewCorrector uses src, or the built-in model when src is nil.
func NewCorrector(src Source) *Corrector {
	if src == nil {
		src = Default()
	}
	return &Corrector{src: src}
}

// Declination returns the offset for pos in degrees, east positive.
func (c *Corrector) Declination(pos GeoPosition) (float64, error) {
	if err := pos.Validate(); err != nil {
		return 0, err
	}
	return c.src.Declination(pos)
}

// Correct turns a magnetic heading into a true heading in [0,360).
func (c *Corrector) Correct(magneticDeg float64, pos GeoPosition) (float64, error) {
	if math.IsNaN(magneticDeg) || math.IsInf(magneticDeg, 0) {
		return 0, fmt.Errorf("declination: heading must be finite, got %v: %w", magneticDeg, errs.ErrInvalidAngle)
	}
	d, err := c.Declination(pos)
	if err != nil {
		return 0, err
	}
	return Apply(magneticDeg, d), nil
}

// Apply adds a known declination to a magnetic heading.
func Apply(magneticDeg, declinationDeg float64) float64 {
	return angle.Normalize(magneticDeg + declinationDeg)
}

// Bearing is the initial great-circle bearing from one position to another,
// in [0,360) relative to true north.
func Bearing(from, to GeoPosition) float64 {
	a := geo.NewPoint(from.Latitude, from.Longitude)
	b := geo.NewPoint(to.Latitude, to.Longitude)
	return angle.Normalize(a.BearingTo(b))
}

// DistanceKm is the great-circle distance between two positions.
func DistanceKm(from, to GeoPosition) float64 {
	a := geo.NewPoint(from.Latitude, from.Longitude)
	b := geo.NewPoint(to.Latitude, to.Longitude)
	return a.GreatCircleDistance(b)
}
