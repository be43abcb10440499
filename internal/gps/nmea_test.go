package gps

import (
	"fmt"
	"math"
	"testing"
	"time"
)

func nmeaLine(payload string) string {
	ck := byte(0)
	for i := 0; i < len(payload); i++ {
		ck ^= payload[i]
	}
	return fmt.Sprintf("$%s*%02X", payload, ck)
}

const (
	rmcPayload = "GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W"
	ggaPayload = "GNGGA,123520,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,"
)

func TestApplyNMEA_Rejects(t *testing.T) {
	good := nmeaLine(rmcPayload)
	cases := map[string]string{
		"ChecksumMismatch": good[:len(good)-2] + "00",
		"NoDollar":         good[1:],
		"NoChecksum":       "$" + rmcPayload,
		"ShortChecksum":    good[:len(good)-1],
		"BadLatitude":      nmeaLine("GPRMC,123519,A,48X7.038,N,01131.000,E,022.4,084.4,230394,003.1,W"),
	}
	for name, line := range cases {
		t.Run(name, func(t *testing.T) {
			var st fixState
			if _, err := st.applyNMEA(time.Now().UTC(), line); err == nil {
				t.Fatalf("expected error for %q", line)
			}
			if _, ok := st.position(); ok {
				t.Fatalf("rejected sentence produced a fix")
			}
		})
	}
}

func mustApply(t *testing.T, st *fixState, now time.Time, payload string) bool {
	t.Helper()
	updated, err := st.applyNMEA(now, nmeaLine(payload))
	if err != nil {
		t.Fatalf("applyNMEA(%q): %v", payload, err)
	}
	return updated
}

func TestFixState_RMCUsesSentenceTime(t *testing.T) {
	var st fixState
	now := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	if !mustApply(t, &st, now, rmcPayload) {
		t.Fatalf("expected updated")
	}
	pos, ok := st.position()
	if !ok {
		t.Fatalf("expected fix")
	}
	if math.Abs(pos.Latitude-(48+7.038/60)) > 1e-9 {
		t.Fatalf("lat=%v", pos.Latitude)
	}
	if math.Abs(pos.Longitude-(11+31.0/60)) > 1e-9 {
		t.Fatalf("lon=%v", pos.Longitude)
	}
	want := time.Date(1994, 3, 23, 12, 35, 19, 0, time.UTC)
	if !pos.Time.Equal(want) {
		t.Fatalf("time=%v want %v", pos.Time, want)
	}

	var snap Snapshot
	st.fill(&snap)
	if snap.GroundKt == nil || *snap.GroundKt != 22.4 {
		t.Fatalf("ground_kt=%v", snap.GroundKt)
	}
	if snap.TrackDeg == nil || math.Abs(*snap.TrackDeg-84.4) > 1e-9 {
		t.Fatalf("track=%v", snap.TrackDeg)
	}
}

func TestFixState_GGAAddsEllipsoidHeight(t *testing.T) {
	var st fixState
	now := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	mustApply(t, &st, now, rmcPayload)
	if !mustApply(t, &st, now, ggaPayload) {
		t.Fatalf("expected updated")
	}
	pos, _ := st.position()
	if math.Abs(pos.Altitude-(545.4+46.9)) > 1e-9 {
		t.Fatalf("alt=%v", pos.Altitude)
	}
	// GGA carries no date; the RMC date is reused.
	want := time.Date(1994, 3, 23, 12, 35, 20, 0, time.UTC)
	if !pos.Time.Equal(want) {
		t.Fatalf("time=%v want %v", pos.Time, want)
	}

	var snap Snapshot
	st.fill(&snap)
	if snap.Satellites == nil || *snap.Satellites != 8 {
		t.Fatalf("satellites=%v", snap.Satellites)
	}
	if snap.HDOP == nil || *snap.HDOP != 0.9 {
		t.Fatalf("hdop=%v", snap.HDOP)
	}
}

func TestFixState_GGAWithoutDateUsesClock(t *testing.T) {
	var st fixState
	now := time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC)
	mustApply(t, &st, now, ggaPayload)
	pos, ok := st.position()
	if !ok {
		t.Fatalf("expected fix")
	}
	want := time.Date(2025, 6, 1, 12, 35, 20, 0, time.UTC)
	if !pos.Time.Equal(want) {
		t.Fatalf("time=%v want %v", pos.Time, want)
	}
}

func TestFixState_IgnoresVoidAndNoFix(t *testing.T) {
	var st fixState
	now := time.Now().UTC()
	if mustApply(t, &st, now, "GPRMC,123519,V,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W") {
		t.Fatalf("void RMC should not update")
	}
	if mustApply(t, &st, now, "GPGGA,123519,4807.038,N,01131.000,E,0,00,,,M,,M,,") {
		t.Fatalf("quality 0 GGA should not update")
	}
	if mustApply(t, &st, now, "GPGSV,3,1,11,03,03,111,00") {
		t.Fatalf("GSV should not update")
	}
	if _, ok := st.position(); ok {
		t.Fatalf("expected no fix")
	}
}

func TestApplyNMEALine_SkipsChatter(t *testing.T) {
	var st fixState
	updated, err := applyNMEALine(&st, time.Now().UTC(), "u-blox boot banner")
	if err != nil || updated {
		t.Fatalf("updated=%v err=%v", updated, err)
	}
	updated, err = applyNMEALine(&st, time.Now().UTC(), nmeaLine(ggaPayload))
	if err != nil || !updated {
		t.Fatalf("updated=%v err=%v", updated, err)
	}
}
