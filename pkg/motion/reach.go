package motion

import (
	"context"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats/scalar"

	"github.com/gwillem/legion/pkg/kinematics"
)

var (
	// ErrStalled is returned when a leg has distance left to cover on an
	// axis whose velocity is zero. Such a wait could never finish.
	ErrStalled = errors.New("leg stalled")
	// ErrReachTimeout is returned when a leg does not arrive within the
	// configured reach timeout.
	ErrReachTimeout = errors.New("timed out waiting for leg")
	// ErrStopped is returned when waiting on an interpolator that is not running.
	ErrStopped = errors.New("interpolator not running")
)

// WaitReach blocks until leg is at its target, polling every Config.Poll.
// It returns early with ctx.Err() on cancellation, ErrReachTimeout once
// Config.ReachTimeout has passed, ErrStalled if the leg can never arrive and
// ErrStopped if the tick loop is not running.
func (i *Interpolator) WaitReach(ctx context.Context, leg kinematics.Leg) error {
	if !leg.Valid() {
		return errors.Wrapf(ErrInvalidLeg, "%s", leg)
	}
	if i.Reached(leg) {
		return nil
	}

	start := i.clock.Now()
	ticker := i.clock.Ticker(i.cfg.Poll)
	defer ticker.Stop()

	for {
		if err := i.checkProgress(leg); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if i.Reached(leg) {
			return nil
		}
		if t := i.cfg.ReachTimeout; t > 0 && i.clock.Since(start) >= t {
			return errors.Wrapf(ErrReachTimeout, "%s after %s", leg, t)
		}
	}
}

// WaitAllReach waits for every leg in turn.
func (i *Interpolator) WaitAllReach(ctx context.Context) error {
	for _, leg := range kinematics.AllLegs() {
		if err := i.WaitReach(ctx, leg); err != nil {
			return err
		}
	}
	return nil
}

func (i *Interpolator) checkProgress(leg kinematics.Leg) error {
	if !i.running.Load() {
		return errors.Wrapf(ErrStopped, "waiting for %s", leg)
	}

	st := &i.legs[leg]
	st.mu.Lock()
	defer st.mu.Unlock()
	gap := st.target.Sub(st.current)
	axes := [3]struct {
		name   string
		gap, v float64
	}{
		{"x", gap.X, st.velocity.X},
		{"y", gap.Y, st.velocity.Y},
		{"z", gap.Z, st.velocity.Z},
	}
	for _, a := range axes {
		if !scalar.EqualWithinAbs(a.gap, 0, Epsilon) && a.v == 0 {
			return errors.Wrapf(ErrStalled, "%s: %.2f mm left on %s with zero velocity", leg, a.gap, a.name)
		}
	}
	return nil
}
