// Package imu turns an ICM-20948 (accelerometer plus AK09916 magnetometer)
// into a stream of gravity_magnetic samples.
package imu

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"compass-ng/internal/i2c"
	"compass-ng/internal/pipeline"
	"compass-ng/internal/sensors/ak09916"
	"compass-ng/internal/sensors/icm20948"
)

const standardGravity = 9.80665

type Config struct {
	I2CBus   int
	IMUAddr  uint16
	MagAddr  uint16
	Interval time.Duration

	// MagOffset is the hard-iron bias in µT, subtracted from each reading
	// after axis alignment.
	MagOffset [3]float64

	Logger *zap.SugaredLogger
}

type accelReader interface {
	ReadAccel() (icm20948.Accel, error)
}

type magReader interface {
	Read() (ak09916.Field, error)
	Close() error
}

type Status struct {
	Detected  bool   `json:"detected"`
	Samples   uint64 `json:"samples"`
	Errors    uint64 `json:"errors"`
	LastError string `json:"last_error,omitempty"`
}

type Source struct {
	cfg   Config
	log   *zap.SugaredLogger
	bus   *i2c.Bus
	accel accelReader
	mag   magReader

	mu     sync.RWMutex
	status Status
}

// Open probes both chips on /dev/i2c-<I2CBus>.
func Open(cfg Config) (*Source, error) {
	if cfg.I2CBus == 0 {
		cfg.I2CBus = 1
	}
	if cfg.IMUAddr == 0 {
		cfg.IMUAddr = icm20948.DefaultAddress()
	}
	if cfg.MagAddr == 0 {
		cfg.MagAddr = ak09916.DefaultAddress()
	}

	bus, err := i2c.Open(fmt.Sprintf("/dev/i2c-%d", cfg.I2CBus))
	if err != nil {
		return nil, err
	}
	// The ICM must come first: it opens the bypass the magnetometer sits behind.
	accel, err := icm20948.New(bus.Dev(cfg.IMUAddr))
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("imu: %w", err), bus.Close())
	}
	mag, err := ak09916.New(bus.Dev(cfg.MagAddr))
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("imu: %w", err), bus.Close())
	}
	s := newSource(cfg, accel, mag)
	s.bus = bus
	return s, nil
}

func newSource(cfg Config, accel accelReader, mag magReader) *Source {
	if cfg.Interval <= 0 {
		cfg.Interval = 20 * time.Millisecond
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Source{cfg: cfg, log: log, accel: accel, mag: mag, status: Status{Detected: true}}
}

func (s *Source) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Run polls both sensors every Interval until ctx is done.
func (s *Source) Run(ctx context.Context, out chan<- pipeline.Sample) error {
	t := time.NewTicker(s.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}

		smp, err := s.read()
		if errors.Is(err, ak09916.ErrNotReady) {
			continue
		}
		if err != nil {
			s.recordErr(err)
			continue
		}
		select {
		case out <- smp:
			s.mu.Lock()
			s.status.Samples++
			s.mu.Unlock()
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Source) read() (pipeline.Sample, error) {
	a, err := s.accel.ReadAccel()
	if err != nil {
		return pipeline.Sample{}, err
	}
	m, err := s.mag.Read()
	if err != nil {
		return pipeline.Sample{}, err
	}
	return combine(a, m, s.cfg.MagOffset), nil
}

// combine expresses both readings in the accelerometer frame. The AK09916
// axes are X aligned, Y and Z reversed relative to the ICM-20948's.
func combine(a icm20948.Accel, m ak09916.Field, offset [3]float64) pipeline.Sample {
	return pipeline.Sample{
		Time: a.Time,
		Kind: pipeline.KindGravityMagnetic,
		Gravity: r3.Vector{
			X: a.Ax * standardGravity,
			Y: a.Ay * standardGravity,
			Z: a.Az * standardGravity,
		},
		Geomagnetic: r3.Vector{
			X: m.Mx - offset[0],
			Y: -m.My - offset[1],
			Z: -m.Mz - offset[2],
		},
	}
}

func (s *Source) recordErr(err error) {
	s.mu.Lock()
	s.status.Errors++
	first := s.status.LastError == ""
	s.status.LastError = err.Error()
	s.mu.Unlock()
	if first {
		s.log.Warnw("imu read failed", "error", err)
	}
}

// Close powers down the magnetometer and releases the bus.
func (s *Source) Close() error {
	if s == nil {
		return nil
	}
	var err error
	if s.mag != nil {
		err = multierr.Append(err, s.mag.Close())
	}
	if s.bus != nil {
		err = multierr.Append(err, s.bus.Close())
		s.bus = nil
	}
	return err
}
