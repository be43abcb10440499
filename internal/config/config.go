// Package config loads the compass-ng YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Compass     CompassConfig     `yaml:"compass"`
	Declination DeclinationConfig `yaml:"declination"`
	Waypoint    WaypointConfig    `yaml:"waypoint"`
	Source      SourceConfig      `yaml:"source"`
	Record      RecordConfig      `yaml:"record"`
	GPS         GPSConfig         `yaml:"gps"`
	Web         WebConfig         `yaml:"web"`
	UDP         UDPConfig         `yaml:"udp"`
	Log         LogConfig         `yaml:"log"`
}

type CompassConfig struct {
	// DisplayRotation is 0, 90, 180 or 270.
	DisplayRotation int      `yaml:"display_rotation"`
	Alpha           *float64 `yaml:"alpha"`
	WrapAware       bool     `yaml:"wrap_aware"`
	FieldOfViewDeg  float64  `yaml:"fov_deg"`
}

type DeclinationConfig struct {
	Enable  bool   `yaml:"enable"`
	COFPath string `yaml:"cof_path"`
	// Position is used until (or instead of) a GPS fix.
	Position *PositionConfig `yaml:"position"`
}

type PositionConfig struct {
	LatDeg float64 `yaml:"lat_deg"`
	LonDeg float64 `yaml:"lon_deg"`
	AltM   float64 `yaml:"alt_m"`
}

type WaypointConfig struct {
	Enable bool    `yaml:"enable"`
	LatDeg float64 `yaml:"lat_deg"`
	LonDeg float64 `yaml:"lon_deg"`
}

const (
	SourceNDJSON   = "ndjson"
	SourceReplay   = "replay"
	SourceSim      = "sim"
	SourceScenario = "scenario"
	SourceIMU      = "imu"
)

type SourceConfig struct {
	Kind     string         `yaml:"kind"`
	NDJSON   NDJSONConfig   `yaml:"ndjson"`
	Replay   ReplayConfig   `yaml:"replay"`
	Sim      SimConfig      `yaml:"sim"`
	Scenario ScenarioConfig `yaml:"scenario"`
	IMU      IMUConfig      `yaml:"imu"`
}

type NDJSONConfig struct {
	Addr           string        `yaml:"addr"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

type ReplayConfig struct {
	Path  string  `yaml:"path"`
	Speed float64 `yaml:"speed"`
	Loop  bool    `yaml:"loop"`
}

type SimConfig struct {
	// SampleKind is rotation_vector, gravity_magnetic or heading.
	SampleKind   string        `yaml:"sample_kind"`
	Period       time.Duration `yaml:"period"`
	Interval     time.Duration `yaml:"interval"`
	CenterLatDeg float64       `yaml:"center_lat_deg"`
	CenterLonDeg float64       `yaml:"center_lon_deg"`
	RadiusM      float64       `yaml:"radius_m"`
	// FeedPosition pushes the simulated track into declination lookup.
	FeedPosition bool `yaml:"feed_position"`
}

type ScenarioConfig struct {
	Path     string        `yaml:"path"`
	Interval time.Duration `yaml:"interval"`
	Loop     bool          `yaml:"loop"`
}

type IMUConfig struct {
	I2CBus    int           `yaml:"i2c_bus"`
	IMUAddr   uint16        `yaml:"imu_addr"`
	MagAddr   uint16        `yaml:"mag_addr"`
	Interval  time.Duration `yaml:"interval"`
	MagOffset [3]float64    `yaml:"mag_offset"`
}

type RecordConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

type GPSConfig struct {
	Enable   bool   `yaml:"enable"`
	Source   string `yaml:"source"`
	GPSDAddr string `yaml:"gpsd_addr"`
	Device   string `yaml:"device"`
	Baud     int    `yaml:"baud"`
}

type WebConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`
}

type UDPConfig struct {
	Enable bool   `yaml:"enable"`
	Dest   string `yaml:"dest"`
	// MaxRate caps datagrams per second.
	MaxRate float64 `yaml:"max_rate"`
}

type LogConfig struct {
	// File, when set, receives JSON logs with size-based rotation.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes YAML, rejecting unknown keys, then applies defaults and
// validates.
func Parse(b []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Compass.Alpha == nil {
		v := 0.1
		cfg.Compass.Alpha = &v
	}
	if cfg.Compass.FieldOfViewDeg == 0 {
		cfg.Compass.FieldOfViewDeg = 60
	}

	cfg.Source.Kind = strings.ToLower(strings.TrimSpace(cfg.Source.Kind))
	if cfg.Source.Kind == "" {
		cfg.Source.Kind = SourceSim
	}
	if cfg.Source.NDJSON.ReconnectDelay <= 0 {
		cfg.Source.NDJSON.ReconnectDelay = 1 * time.Second
	}
	if cfg.Source.Replay.Speed == 0 {
		cfg.Source.Replay.Speed = 1
	}
	if cfg.Source.Sim.SampleKind == "" {
		cfg.Source.Sim.SampleKind = "rotation_vector"
	}
	if cfg.Source.Sim.Period <= 0 {
		cfg.Source.Sim.Period = 60 * time.Second
	}
	if cfg.Source.Sim.Interval <= 0 {
		cfg.Source.Sim.Interval = 20 * time.Millisecond
	}
	if cfg.Source.Sim.RadiusM <= 0 {
		cfg.Source.Sim.RadiusM = 50
	}
	if cfg.Source.Scenario.Interval <= 0 {
		cfg.Source.Scenario.Interval = 20 * time.Millisecond
	}
	if cfg.Source.IMU.I2CBus == 0 {
		cfg.Source.IMU.I2CBus = 1
	}
	if cfg.Source.IMU.IMUAddr == 0 {
		cfg.Source.IMU.IMUAddr = 0x68
	}
	if cfg.Source.IMU.MagAddr == 0 {
		cfg.Source.IMU.MagAddr = 0x0C
	}
	if cfg.Source.IMU.Interval <= 0 {
		cfg.Source.IMU.Interval = 20 * time.Millisecond
	}

	cfg.GPS.Source = strings.ToLower(strings.TrimSpace(cfg.GPS.Source))
	if cfg.GPS.Source == "" {
		cfg.GPS.Source = "nmea"
	}
	if cfg.GPS.Baud == 0 {
		cfg.GPS.Baud = 9600
	}
	if cfg.GPS.GPSDAddr == "" {
		cfg.GPS.GPSDAddr = "127.0.0.1:2947"
	}

	if cfg.Web.Listen == "" {
		cfg.Web.Listen = ":8080"
	}
	if cfg.UDP.MaxRate == 0 {
		cfg.UDP.MaxRate = 10
	}

	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 10
	}
	if cfg.Log.MaxBackups <= 0 {
		cfg.Log.MaxBackups = 3
	}
}

func (cfg *Config) validate() error {
	switch cfg.Compass.DisplayRotation {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("compass.display_rotation must be one of 0, 90, 180, 270")
	}
	if a := *cfg.Compass.Alpha; math.IsNaN(a) || a < 0 || a > 1 {
		return fmt.Errorf("compass.alpha must be within [0, 1]")
	}
	if fov := cfg.Compass.FieldOfViewDeg; fov <= 0 || fov >= 360 {
		return fmt.Errorf("compass.fov_deg must be within (0, 360)")
	}

	if p := cfg.Declination.Position; p != nil {
		if err := validateLatLon("declination.position", p.LatDeg, p.LonDeg); err != nil {
			return err
		}
	}
	if cfg.Declination.Enable && cfg.Declination.Position == nil && !cfg.GPS.Enable && !cfg.feedsSimPosition() {
		return fmt.Errorf("declination.enable requires declination.position, gps.enable or source.sim.feed_position")
	}
	if cfg.Waypoint.Enable {
		if err := validateLatLon("waypoint", cfg.Waypoint.LatDeg, cfg.Waypoint.LonDeg); err != nil {
			return err
		}
	}

	switch cfg.Source.Kind {
	case SourceNDJSON:
		if strings.TrimSpace(cfg.Source.NDJSON.Addr) == "" {
			return fmt.Errorf("source.ndjson.addr is required when source.kind is 'ndjson'")
		}
	case SourceReplay:
		if cfg.Source.Replay.Path == "" {
			return fmt.Errorf("source.replay.path is required when source.kind is 'replay'")
		}
		if cfg.Source.Replay.Speed < 0 {
			return fmt.Errorf("source.replay.speed must be > 0")
		}
		if cfg.Record.Enable {
			return fmt.Errorf("record.enable cannot be used with source.kind 'replay'")
		}
	case SourceSim:
		switch cfg.Source.Sim.SampleKind {
		case "rotation_vector", "gravity_magnetic", "heading":
		default:
			return fmt.Errorf("source.sim.sample_kind must be rotation_vector, gravity_magnetic or heading")
		}
		if err := validateLatLon("source.sim", cfg.Source.Sim.CenterLatDeg, cfg.Source.Sim.CenterLonDeg); err != nil {
			return err
		}
	case SourceScenario:
		if cfg.Source.Scenario.Path == "" {
			return fmt.Errorf("source.scenario.path is required when source.kind is 'scenario'")
		}
	case SourceIMU:
		if cfg.Source.IMU.I2CBus < 0 {
			return fmt.Errorf("source.imu.i2c_bus must be >= 0")
		}
		if cfg.Source.IMU.IMUAddr > 0x7F || cfg.Source.IMU.MagAddr > 0x7F {
			return fmt.Errorf("source.imu addresses must be 7-bit")
		}
	default:
		return fmt.Errorf("source.kind must be one of ndjson, replay, sim, scenario, imu")
	}

	if cfg.Record.Enable && cfg.Record.Path == "" {
		return fmt.Errorf("record.path is required when record.enable is true")
	}

	if cfg.GPS.Enable {
		switch cfg.GPS.Source {
		case "nmea", "gpsd":
		default:
			return fmt.Errorf("gps.source must be 'nmea' or 'gpsd'")
		}
		if cfg.GPS.Baud < 0 {
			return fmt.Errorf("gps.baud must be > 0")
		}
	}

	if cfg.UDP.Enable && strings.TrimSpace(cfg.UDP.Dest) == "" {
		return fmt.Errorf("udp.dest is required when udp.enable is true")
	}
	if cfg.UDP.MaxRate < 0 {
		return fmt.Errorf("udp.max_rate must be > 0")
	}
	return nil
}

func (cfg *Config) feedsSimPosition() bool {
	return cfg.Source.Kind == SourceSim && cfg.Source.Sim.FeedPosition
}

func validateLatLon(prefix string, lat, lon float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return fmt.Errorf("%s.lat_deg must be within [-90, 90]", prefix)
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return fmt.Errorf("%s.lon_deg must be within [-180, 180]", prefix)
	}
	return nil
}
