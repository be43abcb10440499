package gps

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"
)

const gpsdDefaultAddr = "127.0.0.1:2947"

func dialGPSD(ctx context.Context, addr string) (net.Conn, error) {
	if strings.TrimSpace(addr) == "" {
		addr = gpsdDefaultAddr
	}
	d := &net.Dialer{Timeout: 2 * time.Second}
	return d.DialContext(ctx, "tcp", addr)
}

// gpsdWatch enables JSON streaming reports.
func gpsdWatch(conn net.Conn) error {
	// scaled=true yields SI units (m/s, meters) and degrees.
	_, err := conn.Write([]byte("?WATCH={\"enable\":true,\"json\":true,\"scaled\":true}\n"))
	return err
}

type gpsdMsgBase struct {
	Class string `json:"class"`
}

type gpsdTPV struct {
	Mode *int   `json:"mode"`
	Time string `json:"time"`

	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`

	// altHAE is height above the ellipsoid; older gpsd only sends alt (MSL).
	AltHAE  *float64 `json:"altHAE"`
	AltMSL  *float64 `json:"altMSL"`
	Alt     *float64 `json:"alt"`
	SpeedMS *float64 `json:"speed"`
	Track   *float64 `json:"track"`
}

type gpsdSat struct {
	Used bool `json:"used"`
}

type gpsdSKY struct {
	HDOP       *float64  `json:"hdop"`
	Satellites []gpsdSat `json:"satellites"`
}

// applyGPSDLine reports whether the line produced a new fix.
func (s *fixState) applyGPSDLine(nowUTC time.Time, line string) (bool, error) {
	var base gpsdMsgBase
	if err := json.Unmarshal([]byte(line), &base); err != nil {
		return false, fmt.Errorf("gpsd json parse failed: %v", err)
	}

	switch strings.ToUpper(strings.TrimSpace(base.Class)) {
	case "TPV":
		var tpv gpsdTPV
		if err := json.Unmarshal([]byte(line), &tpv); err != nil {
			return false, fmt.Errorf("gpsd tpv parse failed: %v", err)
		}
		return s.applyTPV(nowUTC, tpv), nil
	case "SKY":
		var sky gpsdSKY
		if err := json.Unmarshal([]byte(line), &sky); err != nil {
			return false, fmt.Errorf("gpsd sky parse failed: %v", err)
		}
		s.applySKY(sky)
		return false, nil
	default:
		// VERSION, DEVICES, WATCH, ...
		return false, nil
	}
}

func (s *fixState) applyTPV(nowUTC time.Time, tpv gpsdTPV) bool {
	if tpv.SpeedMS != nil {
		s.groundKt = (*tpv.SpeedMS) * 1.9438444924406
		s.gsOK = true
	}
	if tpv.Track != nil {
		s.trackDeg = *tpv.Track
		s.trkOK = true
	}
	switch {
	case tpv.AltHAE != nil:
		s.altM = *tpv.AltHAE
		s.altOK = true
	case tpv.AltMSL != nil:
		s.altM = *tpv.AltMSL
		s.altOK = true
	case tpv.Alt != nil:
		s.altM = *tpv.Alt
		s.altOK = true
	}

	if tpv.Mode == nil || *tpv.Mode < 2 || tpv.Lat == nil || tpv.Lon == nil {
		return false
	}
	s.latDeg, s.lonDeg, s.posOK = *tpv.Lat, *tpv.Lon, true

	fixTime := nowUTC
	if strings.TrimSpace(tpv.Time) != "" {
		if t, err := time.Parse(time.RFC3339Nano, tpv.Time); err == nil {
			fixTime = t.UTC()
		}
	}
	s.lastFix = fixTime
	s.valid = true
	return true
}

func (s *fixState) applySKY(sky gpsdSKY) {
	if sky.HDOP != nil {
		s.hdop = *sky.HDOP
		s.hdopOK = true
	}
	if len(sky.Satellites) > 0 {
		used := 0
		for _, sat := range sky.Satellites {
			if sat.Used {
				used++
			}
		}
		s.satellites = used
		s.satsOK = true
	}
}
