// Package gait composes leg targets into walking, turning and gesture
// maneuvers. Every maneuver is an ordered script of target assignments and
// reach waits; gait phase is read back from foot positions, not counted.
package gait

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats/scalar"

	"github.com/gwillem/legion/pkg/geometry"
	"github.com/gwillem/legion/pkg/kinematics"
	"github.com/gwillem/legion/pkg/motion"
)

// ErrInvalidArgument is returned for negative counts or distances and for
// directions a maneuver does not support.
var ErrInvalidArgument = errors.New("invalid argument")

// Driver is the part of the interpolator the sequencer needs.
type Driver interface {
	SetSpeed(speed float64)
	SetSites(moves ...motion.Move) error
	Reset(moves ...motion.Move) error
	Current(leg kinematics.Leg) kinematics.Site
	WaitAllReach(ctx context.Context) error
}

var _ Driver = (*motion.Interpolator)(nil)

// Speeds are the speed profiles selected per maneuver phase, in millimeters
// per tick.
type Speeds struct {
	SpotTurn  float64 `json:"spot_turn"`
	LegMove   float64 `json:"leg_move"`
	BodyMove  float64 `json:"body_move"`
	StandSeat float64 `json:"stand_seat"`
	Gesture   float64 `json:"gesture"`
	Dance     float64 `json:"dance"`
}

// DefaultSpeeds returns the profiles of the reference robot.
func DefaultSpeeds() Speeds {
	return Speeds{
		SpotTurn:  5,
		LegMove:   15,
		BodyMove:  5,
		StandSeat: 1,
		Gesture:   1,
		Dance:     2,
	}
}

// Direction selects the sense of a body shift or head tilt.
type Direction string

// Directions.
const (
	Left  Direction = "left"
	Right Direction = "right"
	Up    Direction = "up"
	Down  Direction = "down"
)

// Sequencer runs maneuvers one at a time. Calls from several goroutines are
// queued on a lock; Stop aborts the maneuver in flight.
type Sequencer struct {
	geo    *geometry.Geometry
	drv    Driver
	speeds Speeds
	logger *zap.SugaredLogger

	mu sync.Mutex // held for the duration of a maneuver

	stateMu  sync.Mutex
	cancel   context.CancelFunc
	maneuver string
}

// New returns a sequencer that drives drv.
func New(geo *geometry.Geometry, drv Driver, speeds Speeds, logger *zap.SugaredLogger) *Sequencer {
	return &Sequencer{
		geo:    geo,
		drv:    drv,
		speeds: speeds,
		logger: logger.Named("gait"),
	}
}

// Maneuver returns the name of the maneuver in flight, or "" when idle.
func (s *Sequencer) Maneuver() string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.maneuver
}

// Stop cancels the maneuver in flight. Legs finish the move they were given
// last; no further targets are issued.
func (s *Sequencer) Stop() {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.cancel != nil {
		s.logger.Infow("stopping maneuver", "name", s.maneuver)
		s.cancel()
	}
}

func (s *Sequencer) run(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.stateMu.Lock()
	s.cancel = cancel
	s.maneuver = name
	s.stateMu.Unlock()
	defer func() {
		s.stateMu.Lock()
		s.cancel = nil
		s.maneuver = ""
		s.stateMu.Unlock()
	}()

	s.logger.Debugw("maneuver started", "name", name)
	if err := fn(ctx); err != nil {
		s.logger.Warnw("maneuver failed", "name", name, "error", err)
		return errors.Wrap(err, name)
	}
	s.logger.Debugw("maneuver done", "name", name)
	return nil
}

// place sets the given targets and waits for all legs to arrive.
func (s *Sequencer) place(ctx context.Context, moves ...motion.Move) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.drv.SetSites(moves...); err != nil {
		return err
	}
	return s.drv.WaitAllReach(ctx)
}

func at(leg kinematics.Leg, x, y, z float64) motion.Move {
	return motion.Move{Leg: leg, Site: kinematics.Site{X: x, Y: y, Z: z}}
}

// atStart reports whether leg's foot is at the start line, the phase flag
// that decides which leg pair leads the next cycle.
func (s *Sequencer) atStart(leg kinematics.Leg) bool {
	return scalar.EqualWithinAbs(s.drv.Current(leg).Y, s.geo.YStart, motion.Epsilon)
}

func checkCount(what string, n int) error {
	if n < 0 {
		return errors.Wrapf(ErrInvalidArgument, "%s must not be negative, got %d", what, n)
	}
	return nil
}

// InitializePose places every foot at the boot stance immediately: the right
// legs one step ahead, the left legs at the start line, all at boot height.
func (s *Sequencer) InitializePose() error {
	g := s.geo
	return s.drv.Reset(
		at(kinematics.FrontRight, g.XDefault-g.XOffset, g.YStart+g.YStep, g.ZBoot),
		at(kinematics.RearRight, g.XDefault-g.XOffset, g.YStart+g.YStep, g.ZBoot),
		at(kinematics.FrontLeft, g.XDefault+g.XOffset, g.YStart, g.ZBoot),
		at(kinematics.RearLeft, g.XDefault+g.XOffset, g.YStart, g.ZBoot),
	)
}

// Stand lowers every foot to the default height.
func (s *Sequencer) Stand(ctx context.Context) error {
	return s.run(ctx, "stand", func(ctx context.Context) error {
		return s.height(ctx, s.geo.ZDefault)
	})
}

// Sit raises every foot to the boot height.
func (s *Sequencer) Sit(ctx context.Context) error {
	return s.run(ctx, "sit", s.sit)
}

func (s *Sequencer) sit(ctx context.Context) error {
	return s.height(ctx, s.geo.ZBoot)
}

func (s *Sequencer) height(ctx context.Context, z float64) error {
	s.drv.SetSpeed(s.speeds.StandSeat)
	moves := make([]motion.Move, 0, kinematics.NumLegs)
	for _, leg := range kinematics.AllLegs() {
		moves = append(moves, at(leg, kinematics.Keep, kinematics.Keep, z))
	}
	return s.place(ctx, moves...)
}
