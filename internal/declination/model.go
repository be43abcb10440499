package declination

import (
	"fmt"
	"math"
	"time"

	"compass-ng/internal/errs"
)

const (
	// WGS-84 ellipsoid, km.
	semiMajorKm = 6378.137
	semiMinorKm = 6356.7523142
	// Geomagnetic reference radius, km.
	referenceRadiusKm = 6371.2

	// Keeps the geocentric conversion away from the pole singularity.
	maxLatitude = 90 - 1e-5
)

// Coefficient is one row of a spherical-harmonic model: Gauss coefficients
// g, h (nT) of degree N and order M and their secular variation (nT/year).
type Coefficient struct {
	N, M   int
	G, H   float64
	DG, DH float64
}

// Model is a World Magnetic Model style main-field model.
type Model struct {
	Name   string
	Epoch  float64 // decimal year
	Degree int

	g, h, dg, dh [][]float64
	schmidt      [][]float64
}

// NewModel builds a model from coefficient rows. The degree is the largest N
// seen; missing rows are zero.
func NewModel(name string, epoch float64, rows []Coefficient) (*Model, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("declination: model %q has no coefficients: %w", name, errs.ErrInvalidArgument)
	}
	if math.IsNaN(epoch) || math.IsInf(epoch, 0) {
		return nil, fmt.Errorf("declination: model %q epoch not finite: %w", name, errs.ErrInvalidArgument)
	}
	degree := 0
	for _, r := range rows {
		if r.N < 1 || r.M < 0 || r.M > r.N {
			return nil, fmt.Errorf("declination: bad coefficient n=%d m=%d: %w", r.N, r.M, errs.ErrInvalidArgument)
		}
		if r.N > degree {
			degree = r.N
		}
	}

	m := &Model{
		Name:   name,
		Epoch:  epoch,
		Degree: degree,
		g:      triangle(degree),
		h:      triangle(degree),
		dg:     triangle(degree),
		dh:     triangle(degree),
	}
	for _, r := range rows {
		m.g[r.N][r.M] = r.G
		m.h[r.N][r.M] = r.H
		m.dg[r.N][r.M] = r.DG
		m.dh[r.N][r.M] = r.DH
	}
	m.schmidt = schmidtFactors(degree)
	return m, nil
}

func triangle(n int) [][]float64 {
	t := make([][]float64, n+1)
	for i := range t {
		t[i] = make([]float64, i+1)
	}
	return t
}

// schmidtFactors converts Gauss-normalized Legendre functions into Schmidt
// semi-normalized ones, which is how WMM coefficients are published.
func schmidtFactors(n int) [][]float64 {
	s := triangle(n)
	s[0][0] = 1
	for i := 1; i <= n; i++ {
		s[i][0] = s[i-1][0] * float64(2*i-1) / float64(i)
		for j := 1; j <= i; j++ {
			k := 1.0
			if j == 1 {
				k = 2
			}
			s[i][j] = s[i][j-1] * math.Sqrt(float64(i-j+1)*k/float64(i+j))
		}
	}
	return s
}

// Field is the geomagnetic vector at a position in nT, north/east/down.
type Field struct {
	X, Y, Z float64
}

// Declination is the angle from true to magnetic north, east positive.
func (f Field) Declination() float64 {
	return math.Atan2(f.Y, f.X) * 180 / math.Pi
}

// Inclination is the dip angle below horizontal.
func (f Field) Inclination() float64 {
	return math.Atan2(f.Z, math.Hypot(f.X, f.Y)) * 180 / math.Pi
}

// Declination returns the magnetic declination at pos in degrees.
func (m *Model) Declination(pos GeoPosition) (float64, error) {
	f, err := m.Field(pos)
	if err != nil {
		return 0, err
	}
	return f.Declination(), nil
}

// Field evaluates the model at pos.
func (m *Model) Field(pos GeoPosition) (Field, error) {
	if err := pos.Validate(); err != nil {
		return Field{}, err
	}

	lat := math.Max(-maxLatitude, math.Min(maxLatitude, pos.Latitude))
	gcLat, gcLon, r := geocentric(lat, pos.Longitude, pos.Altitude/1000)
	years := decimalYear(pos.Time) - m.Epoch

	// Legendre functions of the colatitude and their θ-derivatives.
	p, dp := legendre(m.Degree, math.Pi/2-gcLat)

	sinM := make([]float64, m.Degree+1)
	cosM := make([]float64, m.Degree+1)
	for i := 0; i <= m.Degree; i++ {
		sinM[i], cosM[i] = math.Sincos(float64(i) * gcLon)
	}

	var gx, gy, gz float64
	ratio := referenceRadiusKm / r
	pow := ratio * ratio
	for n := 1; n <= m.Degree; n++ {
		pow *= ratio // (a/r)^(n+2)
		for k := 0; k <= n; k++ {
			g := m.g[n][k] + years*m.dg[n][k]
			h := m.h[n][k] + years*m.dh[n][k]
			s := m.schmidt[n][k]
			gc := g*cosM[k] + h*sinM[k]

			gx += pow * gc * dp[n][k] * s
			gy += pow * float64(k) * (g*sinM[k] - h*cosM[k]) * p[n][k] * s
			gz -= float64(n+1) * pow * gc * p[n][k] * s
		}
	}

	// Rotate from the geocentric to the geodetic frame.
	diff := lat*math.Pi/180 - gcLat
	sd, cd := math.Sincos(diff)
	return Field{
		X: gx*cd + gz*sd,
		Y: gy / math.Cos(gcLat),
		Z: -gx*sd + gz*cd,
	}, nil
}

// geocentric converts geodetic latitude/longitude (degrees) and altitude
// above the ellipsoid (km) into geocentric latitude, longitude (radians) and
// radius (km).
func geocentric(latDeg, lonDeg, altKm float64) (lat, lon, radius float64) {
	a2 := semiMajorKm * semiMajorKm
	b2 := semiMinorKm * semiMinorKm
	phi := latDeg * math.Pi / 180
	slat, clat := math.Sincos(phi)
	c2, s2 := clat*clat, slat*slat

	rho := math.Sqrt(a2*c2 + b2*s2)
	lat = math.Atan(slat / clat * (rho*altKm + b2) / (rho*altKm + a2))
	lon = lonDeg * math.Pi / 180
	radius = math.Sqrt(altKm*altKm + 2*altKm*rho + (a2*a2*c2+b2*b2*s2)/(a2*c2+b2*s2))
	return lat, lon, radius
}

// legendre computes Gauss-normalized associated Legendre functions P[n][m]
// of cos(theta) and their derivatives with respect to theta.
func legendre(maxN int, theta float64) (p, dp [][]float64) {
	p = triangle(maxN)
	dp = triangle(maxN)
	st, ct := math.Sincos(theta)

	p[0][0] = 1
	for n := 1; n <= maxN; n++ {
		for m := 0; m <= n; m++ {
			switch {
			case n == m:
				p[n][m] = st * p[n-1][m-1]
				dp[n][m] = ct*p[n-1][m-1] + st*dp[n-1][m-1]
			case n == 1 || m == n-1:
				p[n][m] = ct * p[n-1][m]
				dp[n][m] = -st*p[n-1][m] + ct*dp[n-1][m]
			default:
				k := float64((n-1)*(n-1)-m*m) / float64((2*n-1)*(2*n-3))
				p[n][m] = ct*p[n-1][m] - k*p[n-2][m]
				dp[n][m] = -st*p[n-1][m] + ct*dp[n-1][m] - k*dp[n-2][m]
			}
		}
	}
	return p, dp
}

func decimalYear(t time.Time) float64 {
	t = t.UTC()
	y := t.Year()
	start := time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(y+1, 1, 1, 0, 0, 0, 0, time.UTC)
	return float64(y) + float64(t.Sub(start))/float64(end.Sub(start))
}
