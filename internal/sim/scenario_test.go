package sim

import (
	"context"
	"math"
	"testing"
	"time"

	"compass-ng/internal/pipeline"
)

func TestScenario_ParseAndInterpolateAngleWrap(t *testing.T) {
	yaml := []byte(`
version: 1
# duration derived from last keyframe
kind: heading
keyframes:
  - t: 0s
    heading_deg: 350
    lat_deg: 0
    lon_deg: 0
    alt_m: 0
  - t: 10s
    heading_deg: 10
    lat_deg: 10
    lon_deg: 20
    alt_m: 1000
`)

	script, err := ParseScenarioScriptYAML(yaml)
	if err != nil {
		t.Fatalf("ParseScenarioScriptYAML: %v", err)
	}
	scn, err := NewScenario(script)
	if err != nil {
		t.Fatalf("NewScenario: %v", err)
	}
	if scn.Duration() != 10*time.Second {
		t.Fatalf("duration: got %s want %s", scn.Duration(), 10*time.Second)
	}

	st := scn.StateAt(5*time.Second, false)
	// 350->10 goes the short way: halfway is 0 degrees.
	if st.HeadingDeg != 0 {
		t.Fatalf("heading wrap interpolation: got %v want 0", st.HeadingDeg)
	}
	if st.Position.Latitude != 5 || st.Position.Longitude != 10 || st.Position.Altitude != 500 {
		t.Fatalf("position interpolation: got %+v", st.Position)
	}

	st = scn.StateAt(2500*time.Millisecond, false)
	if math.Abs(st.HeadingDeg-355) > 1e-9 {
		t.Fatalf("quarter heading: got %v want 355", st.HeadingDeg)
	}
}

func TestScenario_LoopAndClamp(t *testing.T) {
	yaml := []byte(`
version: 1
duration: 10s
keyframes:
  - t: 0s
    heading_deg: 0
  - t: 10s
    heading_deg: 100
`)

	script, err := ParseScenarioScriptYAML(yaml)
	if err != nil {
		t.Fatalf("ParseScenarioScriptYAML: %v", err)
	}
	scn, err := NewScenario(script)
	if err != nil {
		t.Fatalf("NewScenario: %v", err)
	}

	// Clamp (no loop): 11s -> end state.
	if st := scn.StateAt(11*time.Second, false); st.HeadingDeg != 100 {
		t.Fatalf("clamp heading: got %v want 100", st.HeadingDeg)
	}
	// Loop: 11s -> 1s.
	if st := scn.StateAt(11*time.Second, true); math.Abs(st.HeadingDeg-10) > 1e-9 {
		t.Fatalf("loop heading: got %v want 10", st.HeadingDeg)
	}
}

func TestNewScenario_Rejects(t *testing.T) {
	cases := map[string]ScenarioScript{
		"Version":  {Version: 2, Keyframes: []Keyframe{{T: time.Second}}},
		"Kind":     {Kind: "compass", Keyframes: []Keyframe{{T: time.Second}}},
		"Empty":    {},
		"Unsorted": {Keyframes: []Keyframe{{T: 2 * time.Second}, {T: time.Second}}},
		"Negative": {Keyframes: []Keyframe{{T: -time.Second}}},
		"ZeroLen":  {Keyframes: []Keyframe{{T: 0}}},
	}
	for name, sc := range cases {
		if _, err := NewScenario(sc); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestPlayer_StopsAtEndWithoutLoop(t *testing.T) {
	scn, err := NewScenario(ScenarioScript{
		Kind:      pipeline.KindHeading,
		Keyframes: []Keyframe{{T: 0, HeadingDeg: 10}, {T: 20 * time.Millisecond, HeadingDeg: 20}},
	})
	if err != nil {
		t.Fatalf("NewScenario: %v", err)
	}
	out := make(chan pipeline.Sample, 1024)
	p := &Player{Scenario: scn, Interval: time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Run(ctx, out); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ctx.Err() != nil {
		t.Fatalf("Run should finish before the timeout")
	}
	close(out)
	n := 0
	for s := range out {
		if s.Kind != pipeline.KindHeading || s.HeadingDeg < 10 || s.HeadingDeg > 20 {
			t.Fatalf("unexpected sample %+v", s)
		}
		n++
	}
	if n == 0 {
		t.Fatalf("expected samples")
	}
}

func TestLoadScenarioScript_Example(t *testing.T) {
	script, err := LoadScenarioScript("../../configs/scenarios/turn.yaml")
	if err != nil {
		t.Fatalf("LoadScenarioScript: %v", err)
	}
	scn, err := NewScenario(script)
	if err != nil {
		t.Fatalf("NewScenario: %v", err)
	}
	if scn.Duration() != 30*time.Second {
		t.Fatalf("duration: got %s want 30s", scn.Duration())
	}
	if st := scn.StateAt(5*time.Second, false); math.Abs(st.HeadingDeg) > 1e-9 {
		t.Fatalf("heading at 5s: got %v want 0", st.HeadingDeg)
	}
}
