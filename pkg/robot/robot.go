package robot

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gwillem/legion/pkg/actuator"
	"github.com/gwillem/legion/pkg/actuator/feetech"
	"github.com/gwillem/legion/pkg/actuator/pca9685"
	"github.com/gwillem/legion/pkg/gait"
	"github.com/gwillem/legion/pkg/geometry"
	"github.com/gwillem/legion/pkg/kinematics"
	"github.com/gwillem/legion/pkg/motion"
)

// Robot is a configured quadruped: backend, interpolator and sequencer.
type Robot struct {
	Config   *Config
	Geometry *geometry.Geometry
	Actuator actuator.Actuator
	Motion   *motion.Interpolator
	Gait     *gait.Sequencer

	logger *zap.SugaredLogger
}

// Open validates cfg, opens the actuator backend and builds the motion
// stack. The interpolator is not started; call Run.
func Open(ctx context.Context, cfg *Config, logger *zap.SugaredLogger, opts ...motion.Option) (*Robot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	geo, err := geometry.New(cfg.Geometry)
	if err != nil {
		return nil, err
	}
	mcfg, err := cfg.MotionConfig()
	if err != nil {
		return nil, err
	}

	act, err := OpenActuator(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	links := kinematics.Links{A: geo.LengthA, B: geo.LengthB, C: geo.LengthC}
	ip, err := motion.New(links, act, mcfg, logger, opts...)
	if err != nil {
		return nil, multierr.Append(err, act.Close())
	}

	logger.Infow("robot ready", "backend", cfg.Backend,
		"turn0", fmt.Sprintf("(%.2f, %.2f)", geo.Turn0.X, geo.Turn0.Y),
		"turn1", fmt.Sprintf("(%.2f, %.2f)", geo.Turn1.X, geo.Turn1.Y))

	return &Robot{
		Config:   cfg,
		Geometry: geo,
		Actuator: act,
		Motion:   ip,
		Gait:     gait.New(geo, ip, cfg.Speeds, logger),
		logger:   logger,
	}, nil
}

// OpenActuator opens the backend selected by cfg.
func OpenActuator(ctx context.Context, cfg *Config, logger *zap.SugaredLogger) (actuator.Actuator, error) {
	switch cfg.Backend {
	case BackendSim:
		return actuator.NewRecorder(), nil
	case BackendPCA9685:
		return pca9685.Open(cfg.PCA9685, logger)
	case BackendFeetech:
		return feetech.Open(ctx, cfg.Feetech, cfg.Calibration.ChannelList(), logger)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// Run places the robot in its boot stance and runs the interpolator until
// ctx is done. Cancellation is not an error.
func (r *Robot) Run(ctx context.Context) error {
	if err := r.Gait.InitializePose(); err != nil {
		return err
	}
	err := r.Motion.Start(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// WaitRunning blocks until the interpolator loop has started.
func (r *Robot) WaitRunning(ctx context.Context) error {
	t := time.NewTicker(time.Millisecond)
	defer t.Stop()
	for !r.Motion.Running() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

// Logger returns the robot's logger.
func (r *Robot) Logger() *zap.SugaredLogger {
	return r.logger
}

// Close stops any maneuver in flight and releases the backend.
func (r *Robot) Close() error {
	r.Gait.Stop()
	return r.Actuator.Close()
}

// CenterServos drives each channel to 90 degrees one at a time, gap apart,
// so the horns can be fitted in the neutral position.
func CenterServos(ctx context.Context, act actuator.Actuator, channels []int, gap time.Duration, logger *zap.SugaredLogger) error {
	for n, ch := range channels {
		if n > 0 && gap > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(gap):
			}
		}
		if err := act.SetAngle(ctx, ch, 90); err != nil {
			return fmt.Errorf("center channel %d: %w", ch, err)
		}
		if f, ok := act.(actuator.Flusher); ok {
			if err := f.Flush(ctx); err != nil {
				return fmt.Errorf("center channel %d: %w", ch, err)
			}
		}
		logger.Debugw("centered", "channel", ch)
	}
	logger.Infow("all servos at 90 degrees", "channels", len(channels))
	return nil
}
