// Package motion runs the trajectory interpolator: a fixed-rate loop that
// moves every foot toward its target at a bounded speed and sends the
// resulting joint angles to the actuator.
package motion

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats/scalar"

	"github.com/gwillem/legion/pkg/actuator"
	"github.com/gwillem/legion/pkg/kinematics"
)

// Epsilon is the distance, in millimeters, below which two coordinates are
// considered equal.
const Epsilon = 1e-6

var (
	// ErrZeroSpeed is returned when a command would move a leg while the
	// effective speed is zero or negative.
	ErrZeroSpeed = errors.New("speed must be positive to move a leg")
	// ErrNotHomed is returned for commands on a leg whose position was never
	// set with Reset.
	ErrNotHomed = errors.New("leg position unknown")
	// ErrInvalidLeg is returned for leg indices outside [0, 4).
	ErrInvalidLeg = errors.New("invalid leg")
)

// Config tunes the interpolator.
type Config struct {
	Tick         time.Duration
	Poll         time.Duration
	ReachTimeout time.Duration // zero waits forever

	// Channels maps each leg's shoulder, knee and yaw joints to actuator channels.
	Channels [kinematics.NumLegs][3]int
	// Mirrored marks legs mounted the other way round.
	Mirrored [kinematics.NumLegs]bool
	// Trims are added to the actuator angle of each joint before clamping.
	Trims [kinematics.NumLegs][3]float64

	// SpeedMultiple scales every speed passed to SetSpeed.
	SpeedMultiple float64
}

// DefaultConfig returns the timing and wiring of the reference robot.
func DefaultConfig() Config {
	return Config{
		Tick:         20 * time.Millisecond,
		Poll:         10 * time.Millisecond,
		ReachTimeout: 30 * time.Second,
		Channels: [kinematics.NumLegs][3]int{
			{0, 1, 2},
			{4, 5, 6},
			{8, 9, 10},
			{12, 13, 14},
		},
		Mirrored:      [kinematics.NumLegs]bool{false, true, true, false},
		SpeedMultiple: 1,
	}
}

// Option configures an Interpolator.
type Option func(*Interpolator)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c clock.Clock) Option {
	return func(i *Interpolator) {
		i.clock = c
	}
}

type legState struct {
	mu       sync.Mutex
	homed    bool
	current  r3.Vector
	target   r3.Vector
	velocity r3.Vector
	angles   [3]float64
	solved   bool // angles holds a valid solution
	fault    bool // last tick failed to solve
}

// Interpolator owns the position state of all legs. Current positions are
// written only by Tick; targets and velocities only by SetSite, SetSites and
// Reset. Each leg's state is guarded by its own lock, so a target and its
// velocity are always observed together.
type Interpolator struct {
	links  kinematics.Links
	cfg    Config
	act    actuator.Actuator
	clock  clock.Clock
	logger *zap.SugaredLogger

	legs [kinematics.NumLegs]legState

	speed         atomic.Float64
	running       atomic.Bool
	ticks         atomic.Int64
	faults        atomic.Int64
	dispatchErrs  atomic.Int64
	dispatchFault atomic.Bool

	stateCh chan Snapshot
}

// New creates an interpolator that drives act. Legs stay inert until Reset
// gives them a position.
func New(links kinematics.Links, act actuator.Actuator, cfg Config, logger *zap.SugaredLogger, opts ...Option) (*Interpolator, error) {
	if cfg.Tick <= 0 || cfg.Poll <= 0 {
		return nil, fmt.Errorf("tick (%s) and poll (%s) must be positive", cfg.Tick, cfg.Poll)
	}
	if cfg.SpeedMultiple == 0 {
		cfg.SpeedMultiple = 1
	}
	for leg, chans := range cfg.Channels {
		for _, ch := range chans {
			if err := actuator.CheckChannel(ch); err != nil {
				return nil, errors.Wrapf(err, "leg %s", kinematics.Leg(leg))
			}
		}
	}

	i := &Interpolator{
		links:   links,
		cfg:     cfg,
		act:     act,
		clock:   clock.New(),
		logger:  logger.Named("motion"),
		stateCh: make(chan Snapshot, 1),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Config returns the configuration the interpolator was built with.
func (i *Interpolator) Config() Config {
	return i.cfg
}

// SetSpeed sets the speed used by subsequent SetSite calls, in millimeters
// per tick before SpeedMultiple is applied.
func (i *Interpolator) SetSpeed(speed float64) {
	i.speed.Store(speed)
}

// Speed returns the current speed scalar.
func (i *Interpolator) Speed() float64 {
	return i.speed.Load()
}

func (i *Interpolator) effectiveSpeed() float64 {
	return i.speed.Load() * i.cfg.SpeedMultiple
}

// Move is one leg's target in a group command. Axes set to kinematics.Keep
// keep their current target.
type Move struct {
	Leg  kinematics.Leg
	Site kinematics.Site
}

// SetSite sets a new target for leg. The per-axis velocity is the straight
// line direction from the current position, scaled by the speed scalar. A
// target the leg cannot reach is rejected and leaves the state untouched.
func (i *Interpolator) SetSite(leg kinematics.Leg, x, y, z float64) error {
	return i.SetSites(Move{Leg: leg, Site: r3.Vector{X: x, Y: y, Z: z}})
}

// SetSites applies several targets as one unit: all are validated before any
// is applied.
func (i *Interpolator) SetSites(moves ...Move) error {
	if len(moves) == 0 {
		return nil
	}
	sorted := append([]Move(nil), moves...)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].Leg < sorted[b].Leg })
	for n, m := range sorted {
		if !m.Leg.Valid() {
			return errors.Wrapf(ErrInvalidLeg, "%s", m.Leg)
		}
		if n > 0 && sorted[n-1].Leg == m.Leg {
			return fmt.Errorf("%s: more than one target in the same command", m.Leg)
		}
	}

	// Locks are taken in leg order.
	for _, m := range sorted {
		i.legs[m.Leg].mu.Lock()
	}
	defer func() {
		for _, m := range sorted {
			i.legs[m.Leg].mu.Unlock()
		}
	}()

	speed := i.effectiveSpeed()
	targets := make([]r3.Vector, len(sorted))
	velocities := make([]r3.Vector, len(sorted))
	for n, m := range sorted {
		st := &i.legs[m.Leg]
		if !st.homed {
			return errors.Wrapf(ErrNotHomed, "%s", m.Leg)
		}
		target := resolveKeep(m.Site, st.target)
		if _, err := kinematics.Solve(i.links, target); err != nil {
			return errors.Wrapf(err, "%s", m.Leg)
		}
		delta := target.Sub(st.current)
		length := delta.Norm()
		if length > Epsilon {
			if speed <= 0 {
				return errors.Wrapf(ErrZeroSpeed, "%s: %.2f mm to go at speed %.2f", m.Leg, length, speed)
			}
			velocities[n] = delta.Mul(speed / length)
		}
		targets[n] = target
	}

	for n, m := range sorted {
		st := &i.legs[m.Leg]
		st.target = targets[n]
		st.velocity = velocities[n]
	}
	return nil
}

func resolveKeep(s, prev r3.Vector) r3.Vector {
	if kinematics.IsKeep(s.X) {
		s.X = prev.X
	}
	if kinematics.IsKeep(s.Y) {
		s.Y = prev.Y
	}
	if kinematics.IsKeep(s.Z) {
		s.Z = prev.Z
	}
	return s
}

// Reset places the given legs at their sites immediately, without
// interpolation. Current and target become equal and velocity zero.
func (i *Interpolator) Reset(moves ...Move) error {
	for _, m := range moves {
		if !m.Leg.Valid() {
			return errors.Wrapf(ErrInvalidLeg, "%s", m.Leg)
		}
		if kinematics.IsKeep(m.Site.X) || kinematics.IsKeep(m.Site.Y) || kinematics.IsKeep(m.Site.Z) {
			return fmt.Errorf("%s: reset needs all three axes", m.Leg)
		}
		if _, err := kinematics.Solve(i.links, m.Site); err != nil {
			return errors.Wrapf(err, "%s", m.Leg)
		}
	}
	for _, m := range moves {
		st := &i.legs[m.Leg]
		st.mu.Lock()
		st.homed = true
		st.current = m.Site
		st.target = m.Site
		st.velocity = r3.Vector{}
		st.mu.Unlock()
	}
	return nil
}

// Current returns the current foot position of leg.
func (i *Interpolator) Current(leg kinematics.Leg) kinematics.Site {
	st := &i.legs[leg]
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.current
}

// Target returns the target foot position of leg.
func (i *Interpolator) Target(leg kinematics.Leg) kinematics.Site {
	st := &i.legs[leg]
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.target
}

// Start runs the tick loop until ctx is done.
func (i *Interpolator) Start(ctx context.Context) error {
	if !i.running.CompareAndSwap(false, true) {
		return fmt.Errorf("already running")
	}
	defer i.running.Store(false)

	i.logger.Infow("interpolator started", "tick", i.cfg.Tick)
	ticker := i.clock.Ticker(i.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			i.logger.Infow("interpolator stopped", "ticks", i.ticks.Load())
			return ctx.Err()
		case <-ticker.C:
			i.Tick(ctx)
		}
	}
}

// Running reports whether Start is looping.
func (i *Interpolator) Running() bool {
	return i.running.Load()
}

// Tick advances every leg by one step and dispatches the joint angles.
// Start calls it on every tick; tests may call it directly.
func (i *Interpolator) Tick(ctx context.Context) {
	var failed bool
	for n := range i.legs {
		leg := kinematics.Leg(n)
		angles, ok := i.advance(leg)
		if !ok {
			continue
		}
		for j, deg := range angles {
			if err := i.act.SetAngle(ctx, i.cfg.Channels[leg][j], deg); err != nil {
				failed = true
				i.dispatchErrs.Inc()
				if !i.dispatchFault.Load() {
					i.logger.Warnw("actuator write failed", "leg", leg, "channel", i.cfg.Channels[leg][j], "error", err)
				}
			}
		}
	}
	if f, ok := i.act.(actuator.Flusher); ok {
		if err := f.Flush(ctx); err != nil {
			failed = true
			i.dispatchErrs.Inc()
			if !i.dispatchFault.Load() {
				i.logger.Warnw("actuator flush failed", "error", err)
			}
		}
	}
	if i.dispatchFault.Swap(failed) && !failed {
		i.logger.Infow("actuator writes recovered")
	}

	i.ticks.Inc()
	i.sendState(i.Snapshot())
}

// advance moves leg one tick toward its target and returns the actuator
// angles to send. When the new position cannot be solved the last valid
// angles are held.
func (i *Interpolator) advance(leg kinematics.Leg) ([3]float64, bool) {
	st := &i.legs[leg]
	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.homed {
		return [3]float64{}, false
	}
	st.current = r3.Vector{
		X: step(st.current.X, st.target.X, st.velocity.X),
		Y: step(st.current.Y, st.target.Y, st.velocity.Y),
		Z: step(st.current.Z, st.target.Z, st.velocity.Z),
	}

	a, err := kinematics.Solve(i.links, st.current)
	if err != nil {
		i.faults.Inc()
		if !st.fault {
			i.logger.Warnw("holding last angles", "leg", leg, "error", err)
		}
		st.fault = true
		return st.angles, st.solved
	}
	if st.fault {
		i.logger.Infow("leg solvable again", "leg", leg)
		st.fault = false
	}

	out := kinematics.ToActuator(i.cfg.Mirrored[leg], a)
	for j := range out {
		out[j] = kinematics.Clamp(out[j] + i.cfg.Trims[leg][j])
	}
	st.angles = out
	st.solved = true
	return out, true
}

// step moves now toward expect by v, snapping once the gap is no larger
// than the velocity.
func step(now, expect, v float64) float64 {
	if math.Abs(now-expect) > math.Abs(v) {
		return now + v
	}
	return expect
}

// Reached reports whether leg is at its target.
func (i *Interpolator) Reached(leg kinematics.Leg) bool {
	st := &i.legs[leg]
	st.mu.Lock()
	defer st.mu.Unlock()
	return reached(st.current, st.target)
}

func reached(current, target r3.Vector) bool {
	return scalar.EqualWithinAbs(current.X, target.X, Epsilon) &&
		scalar.EqualWithinAbs(current.Y, target.Y, Epsilon) &&
		scalar.EqualWithinAbs(current.Z, target.Z, Epsilon)
}
