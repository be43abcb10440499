package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"compass-ng/internal/config"
	"compass-ng/internal/web"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "compass-ng: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "compass-ng",
		Usage: "heading service for a phone or IMU compass",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "./compass.yaml",
				Usage:   "path to YAML config",
				EnvVars: []string{"COMPASS_NG_CONFIG"},
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "human-readable debug logging",
			},
		},
		Action: runAction,
		Commands: []*cli.Command{
			{
				Name:      "summarize",
				Usage:     "print a summary of a recorded sample log",
				ArgsUsage: "<path>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("summarize takes exactly one log path", 2)
					}
					return printLogSummary(c.App.Writer, c.Args().First())
				},
			},
			{
				Name:  "check-config",
				Usage: "load and validate the config, then exit",
				Action: func(c *cli.Context) error {
					if _, err := config.Load(c.String("config")); err != nil {
						return err
					}
					_, _ = fmt.Fprintln(c.App.Writer, "config ok")
					return nil
				},
			},
		},
	}
}

func runAction(c *cli.Context) (err error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	logs := web.NewLogBuffer(2000)
	logger := newLogger(c.Bool("debug"), cfg.Log, logs)
	defer func() { _ = logger.Sync() }()
	log := logger.Sugar()

	ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := newRuntime(cfg, runtimeDeps{
		Instance: uuid.NewString(),
		Logger:   log,
		Logs:     logs,
	})
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, rt.Close()) }()

	log.Infow("compass-ng starting", "config", c.String("config"), "source", cfg.Source.Kind, "instance", rt.instance)
	err = rt.Run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Infow("compass-ng stopping")
	return err
}
