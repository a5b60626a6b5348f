package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gwillem/legion/pkg/logging"
	"github.com/gwillem/legion/pkg/robot"
)

type Options struct {
	Config   string `short:"c" long:"config" default:"legion.json" description:"Configuration file"`
	LogLevel string `long:"log-level" description:"Override the configured log level (debug, info, warn, error)"`
	LogFile  string `long:"log-file" description:"Also write JSON logs to this file"`

	Setup   SetupCommand   `command:"setup" description:"Choose a servo backend and write the configuration"`
	Scan    ScanCommand    `command:"scan" description:"List serial ports with bus servos attached"`
	Center  CenterCommand  `command:"center" description:"Drive every servo to 90 degrees for assembly"`
	Demo    DemoCommand    `command:"demo" description:"Run the demonstration routine"`
	Serve   ServeCommand   `command:"serve" description:"Accept remote control commands over HTTP"`
	Track   TrackCommand   `command:"track" description:"Follow object positions read from stdin"`
	Monitor MonitorCommand `command:"monitor" description:"Run the demonstration routine with a live joint chart"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

// rootCtx is canceled on SIGINT or SIGTERM.
var rootCtx = context.Background()

func main() {
	parser.LongDescription = "Legion - quadruped robot motion control"

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	rootCtx = ctx

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
			os.Exit(1)
		}
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration file and applies the global flags. A
// missing file selects the defaults, which drive the simulated backend.
func loadConfig() (*robot.Config, error) {
	cfg, err := robot.LoadConfigFrom(opts.Config)
	switch {
	case errors.Is(err, os.ErrNotExist):
		fmt.Fprintf(os.Stderr, "No configuration at %s, using the simulated backend. Run 'legion setup' to configure servos.\n", opts.Config)
		cfg = robot.DefaultConfig()
	case err != nil:
		return nil, err
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if opts.LogFile != "" {
		cfg.Log.File = opts.LogFile
	}
	return cfg, nil
}

// withRobot opens the robot, runs its interpolator and calls fn once the
// loop is up. The interpolator stops when fn returns.
func withRobot(ctx context.Context, cfg *robot.Config, logger *zap.SugaredLogger, fn func(context.Context, *robot.Robot) error) (err error) {
	r, err := robot.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, r.Close())
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.Run(gctx)
	})
	g.Go(func() error {
		defer cancel()
		if err := r.WaitRunning(gctx); err != nil {
			return err
		}
		return fn(gctx, r)
	})
	return g.Wait()
}

// runCommand loads the configuration, builds the logger and runs fn against
// a live robot.
func runCommand(fn func(context.Context, *robot.Robot) error, logOpts ...logging.Option) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closeLog, err := logging.New(cfg.Log, logOpts...)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, closeLog())
	}()
	return withRobot(rootCtx, cfg, logger, fn)
}
