package gps

import (
	"math"
	"strings"
	"time"

	"github.com/adrianmo/go-nmea"

	"compass-ng/internal/declination"
)

// fixState accumulates partial reports until a usable position exists.
// It is shared by the NMEA and gpsd readers.
type fixState struct {
	latDeg float64
	lonDeg float64
	posOK  bool

	altM  float64
	altOK bool

	groundKt float64
	gsOK     bool
	trackDeg float64
	trkOK    bool

	satellites int
	satsOK     bool
	hdop       float64
	hdopOK     bool

	// date is the last RMC date; GGA only carries time of day.
	date    time.Time
	lastFix time.Time
	valid   bool
}

func (s *fixState) position() (declination.GeoPosition, bool) {
	if !s.valid {
		return declination.GeoPosition{}, false
	}
	p := declination.GeoPosition{
		Latitude:  s.latDeg,
		Longitude: s.lonDeg,
		Time:      s.lastFix,
	}
	if s.altOK {
		p.Altitude = s.altM
	}
	return p, true
}

func (s *fixState) fill(out *Snapshot) {
	out.Valid = s.valid
	if s.posOK {
		out.LatDeg = s.latDeg
		out.LonDeg = s.lonDeg
	}
	if s.altOK {
		v := s.altM
		out.AltM = &v
	}
	if s.gsOK {
		v := math.Round(s.groundKt*10) / 10
		out.GroundKt = &v
	}
	if s.trkOK {
		v := s.trackDeg
		out.TrackDeg = &v
	}
	if s.satsOK {
		v := s.satellites
		out.Satellites = &v
	}
	if s.hdopOK {
		v := s.hdop
		out.HDOP = &v
	}
	if !s.lastFix.IsZero() {
		out.LastFixUTC = s.lastFix.UTC().Format(time.RFC3339Nano)
	}
}

// applyNMEA reports whether the sentence produced a new fix. Only RMC and
// GGA are used; other sentence types are checked for framing and ignored.
func (s *fixState) applyNMEA(nowUTC time.Time, raw string) (bool, error) {
	sent, err := nmea.Parse(raw)
	if err != nil {
		return false, err
	}
	switch m := sent.(type) {
	case nmea.RMC:
		// Void fixes leave the last good one in place.
		if m.Validity != nmea.ValidRMC {
			return false, nil
		}
		s.applyRMC(nowUTC, m)
		return true, nil
	case nmea.GGA:
		if m.FixQuality == nmea.Invalid {
			return false, nil
		}
		s.applyGGA(nowUTC, m)
		return true, nil
	}
	return false, nil
}

// RMC fields: 0 time, 1 status, 2-5 position, 6 speed (kt), 7 course, 8 date.
func (s *fixState) applyRMC(nowUTC time.Time, m nmea.RMC) {
	s.latDeg, s.lonDeg, s.posOK = m.Latitude, m.Longitude, true
	if field(m.Fields, 6) != "" {
		s.groundKt = m.Speed
		s.gsOK = true
	}
	if field(m.Fields, 7) != "" {
		s.trackDeg = math.Mod(m.Course+360.0, 360.0)
		s.trkOK = true
	}
	if m.Date.Valid {
		s.date = nmeaDate(m.Date)
	}
	s.lastFix = s.fixTime(nowUTC, m.Time)
	s.valid = true
}

// GGA fields: 0 time, 1-4 position, 5 quality, 6 satellites, 7 HDOP,
// 8 altitude above MSL, 10 geoid separation.
func (s *fixState) applyGGA(nowUTC time.Time, m nmea.GGA) {
	f := m.Fields
	if field(f, 6) != "" {
		s.satellites = int(m.NumSatellites)
		s.satsOK = true
	}
	if field(f, 7) != "" {
		s.hdop = m.HDOP
		s.hdopOK = true
	}
	if field(f, 8) != "" {
		s.altM = m.Altitude + m.Separation
		s.altOK = true
	}
	s.latDeg, s.lonDeg, s.posOK = m.Latitude, m.Longitude, true
	s.lastFix = s.fixTime(nowUTC, m.Time)
	s.valid = true
}

// fixTime combines an NMEA time of day with the last RMC date, falling back
// to the local clock when either is missing.
func (s *fixState) fixTime(nowUTC time.Time, t nmea.Time) time.Time {
	if !t.Valid {
		return nowUTC
	}
	day := s.date
	if day.IsZero() {
		day = time.Date(nowUTC.Year(), nowUTC.Month(), nowUTC.Day(), 0, 0, 0, 0, time.UTC)
	}
	return day.Add(time.Duration(t.Hour)*time.Hour +
		time.Duration(t.Minute)*time.Minute +
		time.Duration(t.Second)*time.Second +
		time.Duration(t.Millisecond)*time.Millisecond)
}

// nmeaDate pivots two-digit years the way time.Parse does for "06".
func nmeaDate(d nmea.Date) time.Time {
	year := 2000 + d.YY
	if d.YY >= 69 {
		year = 1900 + d.YY
	}
	return time.Date(year, time.Month(d.MM), d.DD, 0, 0, 0, 0, time.UTC)
}

func field(f []string, i int) string {
	if i >= len(f) {
		return ""
	}
	return strings.TrimSpace(f[i])
}
