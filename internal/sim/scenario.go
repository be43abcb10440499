package sim

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"compass-ng/internal/angle"
	"compass-ng/internal/declination"
	"compass-ng/internal/pipeline"
)

// ScenarioScript is a deterministic, script-driven heading timeline.
//
// Time is expressed as Go duration strings (e.g. "0s", "250ms", "10s").
// If Duration is zero, it is derived from the latest keyframe time.
//
// YAML schema (v1):
//
//	version: 1
//	duration: 30s
//	kind: rotation_vector
//	keyframes:
//	  - t: 0s
//	    heading_deg: 350
//	    lat_deg: 47.6
//	    lon_deg: -122.3
//	  - t: 10s
//	    heading_deg: 10
//
// Keyframes must use non-decreasing t values. Headings interpolate along the
// shorter arc; positions interpolate linearly.
type ScenarioScript struct {
	Version   int           `yaml:"version"`
	Duration  time.Duration `yaml:"duration"`
	Kind      pipeline.Kind `yaml:"kind"`
	Keyframes []Keyframe    `yaml:"keyframes"`
}

type Keyframe struct {
	T          time.Duration `yaml:"t"`
	HeadingDeg float64       `yaml:"heading_deg"`
	LatDeg     float64       `yaml:"lat_deg"`
	LonDeg     float64       `yaml:"lon_deg"`
	AltM       float64       `yaml:"alt_m"`
}

// Scenario is the validated, runtime representation.
type Scenario struct {
	script   ScenarioScript
	duration time.Duration
}

// LoadScenarioScript reads and unmarshals a YAML scenario script from path.
func LoadScenarioScript(path string) (ScenarioScript, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return ScenarioScript{}, err
	}
	return ParseScenarioScriptYAML(b)
}

func ParseScenarioScriptYAML(b []byte) (ScenarioScript, error) {
	var s ScenarioScript
	if err := yaml.Unmarshal(b, &s); err != nil {
		return ScenarioScript{}, err
	}
	return s, nil
}

// NewScenario validates script and returns a runtime Scenario.
func NewScenario(script ScenarioScript) (*Scenario, error) {
	if script.Version == 0 {
		script.Version = 1
	}
	if script.Version != 1 {
		return nil, fmt.Errorf("unsupported scenario version %d", script.Version)
	}
	switch script.Kind {
	case "":
		script.Kind = pipeline.KindRotationVector
	case pipeline.KindRotationVector, pipeline.KindGravityMagnetic, pipeline.KindHeading:
	default:
		return nil, fmt.Errorf("unsupported scenario kind %q", script.Kind)
	}
	if len(script.Keyframes) == 0 {
		return nil, fmt.Errorf("keyframes is required")
	}
	kfs := script.Keyframes
	for i := range kfs {
		if kfs[i].T < 0 {
			return nil, fmt.Errorf("keyframes[%d].t must be >= 0", i)
		}
		if i > 0 && kfs[i].T < kfs[i-1].T {
			return nil, fmt.Errorf("keyframes must be sorted by t (index %d)", i)
		}
	}

	dur := script.Duration
	if dur <= 0 {
		dur = kfs[len(kfs)-1].T
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration is required (or deriveable from keyframes)")
	}
	return &Scenario{script: script, duration: dur}, nil
}

func (s *Scenario) Duration() time.Duration {
	if s == nil {
		return 0
	}
	return s.duration
}

type State struct {
	HeadingDeg float64
	Position   declination.GeoPosition
}

// StateAt computes the state at elapsed.
//
// If loop is true, elapsed wraps around Duration(). Otherwise elapsed is clamped
// to [0, Duration()].
func (s *Scenario) StateAt(elapsed time.Duration, loop bool) State {
	if s == nil {
		return State{}
	}
	if elapsed < 0 {
		elapsed = 0
	}
	if loop {
		elapsed = elapsed % s.duration
	} else if elapsed > s.duration {
		elapsed = s.duration
	}

	k0, k1, a := selectSegment(s.script.Keyframes, elapsed)
	return State{
		HeadingDeg: angle.Normalize(k0.HeadingDeg + angle.Diff(k0.HeadingDeg, k1.HeadingDeg)*a),
		Position: declination.GeoPosition{
			Latitude:  lerp(k0.LatDeg, k1.LatDeg, a),
			Longitude: lerp(k0.LonDeg, k1.LonDeg, a),
			Altitude:  lerp(k0.AltM, k1.AltM, a),
		},
	}
}

// Player emits the scenario's samples every Interval.
type Player struct {
	Scenario *Scenario
	Interval time.Duration
	Loop     bool

	OnPosition func(declination.GeoPosition)
}

// Run returns nil when ctx is done or, without Loop, at the end of the script.
func (p *Player) Run(ctx context.Context, out chan<- pipeline.Sample) error {
	if p.Scenario == nil {
		return fmt.Errorf("sim: scenario is nil")
	}
	interval := p.Interval
	if interval <= 0 {
		interval = defaultRate
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			elapsed := now.Sub(start)
			st := p.Scenario.StateAt(elapsed, p.Loop)
			if p.OnPosition != nil {
				pos := st.Position
				pos.Time = now.UTC()
				p.OnPosition(pos)
			}
			smp := SampleForHeading(p.Scenario.script.Kind, st.HeadingDeg)
			smp.Time = now.UTC()
			select {
			case out <- smp:
			case <-ctx.Done():
				return nil
			}
			if !p.Loop && elapsed >= p.Scenario.duration {
				return nil
			}
		}
	}
}

func selectSegment(kfs []Keyframe, t time.Duration) (Keyframe, Keyframe, float64) {
	if len(kfs) == 1 {
		return kfs[0], kfs[0], 0
	}
	idx := sort.Search(len(kfs), func(i int) bool { return kfs[i].T > t })
	if idx <= 0 {
		return kfs[0], kfs[0], 0
	}
	if idx >= len(kfs) {
		last := kfs[len(kfs)-1]
		return last, last, 0
	}
	k0 := kfs[idx-1]
	k1 := kfs[idx]
	dt := k1.T - k0.T
	if dt <= 0 {
		return k1, k1, 0
	}
	a := float64(t-k0.T) / float64(dt)
	if a < 0 {
		a = 0
	}
	if a > 1 {
		a = 1
	}
	return k0, k1, a
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}
