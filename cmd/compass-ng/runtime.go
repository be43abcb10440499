package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"compass-ng/internal/config"
	"compass-ng/internal/declination"
	"compass-ng/internal/gps"
	"compass-ng/internal/heading"
	"compass-ng/internal/imu"
	"compass-ng/internal/pipeline"
	"compass-ng/internal/replay"
	"compass-ng/internal/rotation"
	"compass-ng/internal/sim"
	"compass-ng/internal/source"
	"compass-ng/internal/udp"
	"compass-ng/internal/web"
)

type runtimeDeps struct {
	Instance string
	Logger   *zap.SugaredLogger
	Logs     *web.LogBuffer
}

// runtime owns every component built from the config.
type runtime struct {
	cfg      config.Config
	instance string
	log      *zap.SugaredLogger
	logs     *web.LogBuffer

	model     *declination.Model
	pipeline  *pipeline.Service
	status    *web.Status
	source    pipeline.Source
	gps       *gps.Service
	publisher *udp.Publisher
	recorder  *replay.Writer

	closers []io.Closer
}

func newRuntime(cfg config.Config, deps runtimeDeps) (*runtime, error) {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	rt := &runtime{
		cfg:      cfg,
		instance: deps.Instance,
		log:      log,
		logs:     deps.Logs,
		status:   web.NewStatus(deps.Instance),
	}
	if err := rt.build(); err != nil {
		// Release whatever was opened before the failure.
		return nil, multierr.Append(err, rt.Close())
	}
	return rt, nil
}

func (rt *runtime) build() error {
	cfg := rt.cfg
	if err := rt.buildPipeline(); err != nil {
		return err
	}
	if err := rt.buildSource(); err != nil {
		return err
	}
	if cfg.GPS.Enable {
		rt.gps = gps.New(gps.Config{
			Enable:   true,
			Source:   cfg.GPS.Source,
			GPSDAddr: cfg.GPS.GPSDAddr,
			Device:   cfg.GPS.Device,
			Baud:     cfg.GPS.Baud,
			OnFix:    rt.setPosition,
			Logger:   rt.log.Named("gps"),
		})
		rt.status.Register("gps", func() any { return rt.gps.Snapshot() })
	}
	if cfg.Record.Enable {
		w, err := replay.CreateWriter(cfg.Record.Path)
		if err != nil {
			return fmt.Errorf("record open failed: %w", err)
		}
		rt.recorder = w
		rt.closers = append(rt.closers, w)
	}
	if cfg.UDP.Enable {
		b, err := udp.NewBroadcaster(cfg.UDP.Dest)
		if err != nil {
			return fmt.Errorf("udp broadcaster init failed: %w", err)
		}
		rt.closers = append(rt.closers, b)
		rt.publisher = udp.NewPublisher(b, cfg.UDP.MaxRate, rt.instance, rt.log.Named("udp"))
		rt.status.Register("udp", func() any { return rt.publisher.Status() })
	}

	rt.status.SetStatic(map[string]any{
		"source":            cfg.Source.Kind,
		"declination":       cfg.Declination.Enable,
		"declination_model": rt.model.Name,
		"record":            cfg.Record.Enable,
	})
	rt.status.Register("pipeline", func() any { return rt.pipeline.Snapshot() })
	return nil
}

func (rt *runtime) buildPipeline() error {
	cfg := rt.cfg
	model := declination.Default()
	if cfg.Declination.COFPath != "" {
		m, err := declination.LoadCOF(cfg.Declination.COFPath)
		if err != nil {
			return fmt.Errorf("declination model load failed: %w", err)
		}
		model = m
	}
	rt.model = model

	pcfg := pipeline.Config{
		FilterOptions: []heading.Option{
			heading.WithAlpha(*cfg.Compass.Alpha),
			heading.WithWrapAware(cfg.Compass.WrapAware),
		},
		FieldOfViewDeg: cfg.Compass.FieldOfViewDeg,
		Logger:         rt.log.Named("pipeline"),
	}
	d, err := rotation.ParseDisplay(cfg.Compass.DisplayRotation)
	if err != nil {
		return err
	}
	pcfg.DisplayRotation = d
	if cfg.Declination.Enable {
		pcfg.Corrector = declination.NewCorrector(model)
	}
	if p := cfg.Declination.Position; p != nil {
		pcfg.Position = &declination.GeoPosition{Latitude: p.LatDeg, Longitude: p.LonDeg, Altitude: p.AltM}
	}
	if cfg.Waypoint.Enable {
		pcfg.Waypoint = &declination.GeoPosition{Latitude: cfg.Waypoint.LatDeg, Longitude: cfg.Waypoint.LonDeg}
	}

	svc, err := pipeline.New(pcfg)
	if err != nil {
		return err
	}
	rt.pipeline = svc
	return nil
}

func (rt *runtime) buildSource() error {
	sc := rt.cfg.Source
	switch sc.Kind {
	case config.SourceNDJSON:
		c, err := source.New(source.Config{
			Addr:           sc.NDJSON.Addr,
			ReconnectDelay: sc.NDJSON.ReconnectDelay,
			Logger:         rt.log.Named("source"),
		})
		if err != nil {
			return err
		}
		rt.source = c
		rt.status.Register("source", func() any { return c.Status() })

	case config.SourceReplay:
		recs, err := replay.Load(sc.Replay.Path)
		if err != nil {
			return fmt.Errorf("replay load failed: %w", err)
		}
		rt.source = &replay.Player{Records: recs, Speed: sc.Replay.Speed, Loop: sc.Replay.Loop}

	case config.SourceSim:
		c := sim.Compass{
			Kind:         pipeline.Kind(sc.Sim.SampleKind),
			Period:       sc.Sim.Period,
			Interval:     sc.Sim.Interval,
			CenterLatDeg: sc.Sim.CenterLatDeg,
			CenterLonDeg: sc.Sim.CenterLonDeg,
			RadiusM:      sc.Sim.RadiusM,
		}
		if sc.Sim.FeedPosition {
			c.OnPosition = rt.setPosition
		}
		rt.source = c

	case config.SourceScenario:
		script, err := sim.LoadScenarioScript(sc.Scenario.Path)
		if err != nil {
			return fmt.Errorf("scenario load failed: %w", err)
		}
		s, err := sim.NewScenario(script)
		if err != nil {
			return fmt.Errorf("scenario invalid: %w", err)
		}
		rt.source = &sim.Player{Scenario: s, Interval: sc.Scenario.Interval, Loop: sc.Scenario.Loop, OnPosition: rt.setPosition}

	case config.SourceIMU:
		src, err := imu.Open(imu.Config{
			I2CBus:    sc.IMU.I2CBus,
			IMUAddr:   sc.IMU.IMUAddr,
			MagAddr:   sc.IMU.MagAddr,
			Interval:  sc.IMU.Interval,
			MagOffset: sc.IMU.MagOffset,
			Logger:    rt.log.Named("imu"),
		})
		if err != nil {
			return fmt.Errorf("imu init failed: %w", err)
		}
		rt.source = src
		rt.closers = append(rt.closers, src)
		rt.status.Register("imu", func() any { return src.Status() })

	default:
		return fmt.Errorf("unknown source kind %q", sc.Kind)
	}
	return nil
}

// setPosition feeds GPS or simulated fixes into declination lookup.
func (rt *runtime) setPosition(pos declination.GeoPosition) {
	if err := rt.pipeline.SetPosition(pos); err != nil {
		rt.log.Debugw("position rejected", "error", err)
	}
}

// Run blocks until ctx is done or a component fails.
func (rt *runtime) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	samples := make(chan pipeline.Sample, 64)
	in := samples
	if rt.recorder != nil {
		recorded := make(chan pipeline.Sample, 64)
		g.Go(func() error { return rt.record(gctx, samples, recorded) })
		in = recorded
	}

	g.Go(func() error {
		defer close(samples)
		if err := rt.source.Run(gctx, samples); err != nil {
			return fmt.Errorf("source: %w", err)
		}
		if gctx.Err() == nil {
			rt.log.Infow("source finished", "kind", rt.cfg.Source.Kind)
		}
		return nil
	})

	g.Go(func() error {
		err := rt.pipeline.Run(gctx, in)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if rt.gps != nil {
		g.Go(func() error { return rt.gps.Run(gctx) })
	}
	if rt.publisher != nil {
		g.Go(func() error { return rt.publisher.Run(gctx, rt.pipeline.Broadcaster()) })
	}
	if rt.cfg.Web.Enable {
		h := web.Handler(web.Deps{
			Heading: rt.pipeline,
			Status:  rt.status,
			Logs:    rt.logs,
			Model:   rt.model.Name,
			Logger:  rt.log.Named("web"),
		})
		rt.log.Infow("web enabled", "listen", rt.cfg.Web.Listen)
		g.Go(func() error { return web.Serve(gctx, rt.cfg.Web.Listen, h) })
	}

	// Keep serving the last heading after a finite source ends.
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	return g.Wait()
}

// record writes every sample to the log before passing it on.
func (rt *runtime) record(ctx context.Context, in <-chan pipeline.Sample, out chan<- pipeline.Sample) error {
	defer close(out)
	var failed bool
	for {
		select {
		case <-ctx.Done():
			return nil
		case smp, ok := <-in:
			if !ok {
				return nil
			}
			if err := rt.recorder.WriteSample(time.Now(), smp); err != nil && !failed {
				failed = true
				rt.log.Warnw("record write failed", "path", rt.cfg.Record.Path, "error", err)
			}
			select {
			case out <- smp:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (rt *runtime) Close() error {
	var err error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, rt.closers[i].Close())
	}
	rt.closers = nil
	return err
}
