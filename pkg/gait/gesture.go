package gait

import (
	"context"

	"github.com/pkg/errors"

	"github.com/gwillem/legion/pkg/kinematics"
	"github.com/gwillem/legion/pkg/motion"
)

// Height of a raised paw during a wave or handshake.
const (
	waveZ      = 50.0
	shakeHighZ = 55.0
	shakeLowZ  = 10.0
	shakeInset = 30.0

	// Dance sway around the default y, and how far the body drops.
	danceSway = 20.0
	danceDrop = 20.0
	danceTilt = 30.0

	gestureShift = 15.0
)

// ShiftBody moves the body sideways by distance millimeters. The right legs
// move out and the left legs in, or the reverse.
func (s *Sequencer) ShiftBody(ctx context.Context, dir Direction, distance float64) error {
	if err := checkDistance(distance); err != nil {
		return err
	}
	if dir != Left && dir != Right {
		return errors.Wrapf(ErrInvalidArgument, "cannot shift body %q", dir)
	}
	return s.run(ctx, "shift_body_"+string(dir), func(ctx context.Context) error {
		s.drv.SetSpeed(s.speeds.BodyMove)
		return s.shift(ctx, dir, distance)
	})
}

// shift moves at whatever speed is currently set.
func (s *Sequencer) shift(ctx context.Context, dir Direction, distance float64) error {
	d := distance
	if dir == Right {
		d = -d
	}
	moves := make([]motion.Move, 0, kinematics.NumLegs)
	for _, leg := range kinematics.AllLegs() {
		dx := d
		if leg == kinematics.FrontLeft || leg == kinematics.RearLeft {
			dx = -d
		}
		cur := s.drv.Current(leg)
		moves = append(moves, at(leg, cur.X+dx, kinematics.Keep, kinematics.Keep))
	}
	return s.place(ctx, moves...)
}

// TiltHead pitches the body by moving the front feet and the rear feet
// distance millimeters in opposite directions.
func (s *Sequencer) TiltHead(ctx context.Context, dir Direction, distance float64) error {
	if err := checkDistance(distance); err != nil {
		return err
	}
	if dir != Up && dir != Down {
		return errors.Wrapf(ErrInvalidArgument, "cannot tilt head %q", dir)
	}
	return s.run(ctx, "tilt_head_"+string(dir), func(ctx context.Context) error {
		s.drv.SetSpeed(s.speeds.BodyMove)
		return s.tilt(ctx, dir, distance)
	})
}

func (s *Sequencer) tilt(ctx context.Context, dir Direction, distance float64) error {
	d := -distance
	if dir == Down {
		d = distance
	}
	moves := make([]motion.Move, 0, kinematics.NumLegs)
	for _, leg := range kinematics.AllLegs() {
		dz := d
		if leg == kinematics.RearRight || leg == kinematics.RearLeft {
			dz = -d
		}
		cur := s.drv.Current(leg)
		moves = append(moves, at(leg, kinematics.Keep, kinematics.Keep, cur.Z+dz))
	}
	return s.place(ctx, moves...)
}

func checkDistance(d float64) error {
	if d < 0 {
		return errors.Wrapf(ErrInvalidArgument, "distance must not be negative, got %.2f", d)
	}
	return nil
}

// Wave lifts a front paw and waves it between the turning pivots count times.
func (s *Sequencer) Wave(ctx context.Context, count int) error {
	if err := checkCount("count", count); err != nil {
		return err
	}
	return s.run(ctx, "wave", func(ctx context.Context) error {
		g := s.geo
		return s.gesture(ctx, count, func(paw kinematics.Leg) []motion.Move {
			return []motion.Move{
				at(paw, g.Turn1.X, g.Turn1.Y, waveZ),
				at(paw, g.Turn0.X, g.Turn0.Y, waveZ),
			}
		})
	})
}

// Shake raises a front paw and pumps it up and down count times.
func (s *Sequencer) Shake(ctx context.Context, count int) error {
	if err := checkCount("count", count); err != nil {
		return err
	}
	return s.run(ctx, "shake", func(ctx context.Context) error {
		g := s.geo
		x := g.XDefault - shakeInset
		y := g.YStart + 2*g.YStep
		return s.gesture(ctx, count, func(paw kinematics.Leg) []motion.Move {
			return []motion.Move{
				at(paw, x, y, shakeHighZ),
				at(paw, x, y, shakeLowZ),
			}
		})
	})
}

// gesture shifts the weight off one front paw, plays pattern count times on
// it, puts the paw back and shifts the body back. The paw is the front left
// one when the rear left foot is on the start line, else the front right.
func (s *Sequencer) gesture(ctx context.Context, count int, pattern func(paw kinematics.Leg) []motion.Move) error {
	paw, away, back := kinematics.FrontRight, Left, Right
	if s.atStart(kinematics.RearLeft) {
		paw, away, back = kinematics.FrontLeft, Right, Left
	}

	s.drv.SetSpeed(s.speeds.Gesture)
	if err := s.shift(ctx, away, gestureShift); err != nil {
		return err
	}
	home := s.drv.Current(paw)

	s.drv.SetSpeed(s.speeds.BodyMove)
	for n := 0; n < count; n++ {
		for _, m := range pattern(paw) {
			if err := s.place(ctx, m); err != nil {
				return err
			}
		}
	}
	if err := s.place(ctx, motion.Move{Leg: paw, Site: home}); err != nil {
		return err
	}

	s.drv.SetSpeed(s.speeds.Gesture)
	return s.shift(ctx, back, gestureShift)
}

// Dance sits, centers every foot, drops the body, raises the head and sways
// the diagonal pairs count times with the tempo rising after a quarter and
// again after half of the count.
func (s *Sequencer) Dance(ctx context.Context, count int) error {
	if err := checkCount("count", count); err != nil {
		return err
	}
	return s.run(ctx, "dance", func(ctx context.Context) error {
		g := s.geo
		if err := s.sit(ctx); err != nil {
			return err
		}

		s.drv.SetSpeed(s.speeds.Gesture)
		center := func(z float64) []motion.Move {
			moves := make([]motion.Move, 0, kinematics.NumLegs)
			for _, leg := range kinematics.AllLegs() {
				moves = append(moves, at(leg, g.XDefault, g.YDefault, z))
			}
			return moves
		}
		if err := s.place(ctx, center(kinematics.Keep)...); err != nil {
			return err
		}
		if err := s.place(ctx, center(g.ZDefault-danceDrop)...); err != nil {
			return err
		}

		s.drv.SetSpeed(s.speeds.Dance)
		if err := s.tilt(ctx, Up, danceTilt); err != nil {
			return err
		}

		sway := func(sign float64) []motion.Move {
			moves := make([]motion.Move, 0, kinematics.NumLegs)
			for _, leg := range kinematics.AllLegs() {
				dy := sign * danceSway
				if leg == kinematics.RearRight || leg == kinematics.RearLeft {
					dy = -dy
				}
				moves = append(moves, at(leg, kinematics.Keep, g.YDefault+dy, kinematics.Keep))
			}
			return moves
		}
		for n := 0; n < count; n++ {
			if float64(n) > float64(count)/4 {
				s.drv.SetSpeed(s.speeds.Dance * 2)
			}
			if float64(n) > float64(count)/2 {
				s.drv.SetSpeed(s.speeds.Dance * 3)
			}
			if err := s.place(ctx, sway(-1)...); err != nil {
				return err
			}
			if err := s.place(ctx, sway(1)...); err != nil {
				return err
			}
		}

		s.drv.SetSpeed(s.speeds.Dance)
		return s.tilt(ctx, Down, danceTilt)
	})
}
