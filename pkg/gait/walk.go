package gait

import (
	"context"

	"github.com/gwillem/legion/pkg/kinematics"
	"github.com/gwillem/legion/pkg/motion"
)

// stance is a foot position on the walking grid:
// x = XDefault + sign*XOffset, y = YStart + steps*YStep.
type stance struct {
	sign, steps float64
}

func (s *Sequencer) stanceAt(leg kinematics.Leg, st stance, z float64) motion.Move {
	g := s.geo
	return at(leg, g.XDefault+st.sign*g.XOffset, g.YStart+st.steps*g.YStep, z)
}

// stride is one half of a walking cycle: the lead leg swings two steps
// ahead, the body shifts over the new support polygon, then the trail leg
// is brought back to the start line.
type stride struct {
	lead, trail kinematics.Leg
	shift       [kinematics.NumLegs]stance
}

var (
	forwardLeft = stride{
		lead: kinematics.FrontLeft, trail: kinematics.RearRight,
		shift: [kinematics.NumLegs]stance{{1, 0}, {1, 2}, {-1, 1}, {-1, 1}},
	}
	forwardRight = stride{
		lead: kinematics.FrontRight, trail: kinematics.RearLeft,
		shift: [kinematics.NumLegs]stance{{-1, 1}, {-1, 1}, {1, 0}, {1, 2}},
	}
	backLeft = stride{
		lead: kinematics.RearLeft, trail: kinematics.FrontRight,
		shift: [kinematics.NumLegs]stance{{1, 2}, {1, 0}, {-1, 1}, {-1, 1}},
	}
	backRight = stride{
		lead: kinematics.RearRight, trail: kinematics.FrontLeft,
		shift: [kinematics.NumLegs]stance{{-1, 1}, {-1, 1}, {1, 2}, {1, 0}},
	}
)

// StepForward walks steps half cycles forward. The front left foot being on
// the start line selects which diagonal pair leads.
func (s *Sequencer) StepForward(ctx context.Context, steps int) error {
	if err := checkCount("steps", steps); err != nil {
		return err
	}
	return s.run(ctx, "step_forward", func(ctx context.Context) error {
		for n := 0; n < steps; n++ {
			p := forwardRight
			if s.atStart(kinematics.FrontLeft) {
				p = forwardLeft
			}
			if err := s.stride(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
}

// StepBack walks steps half cycles backward, phased on the rear left foot.
func (s *Sequencer) StepBack(ctx context.Context, steps int) error {
	if err := checkCount("steps", steps); err != nil {
		return err
	}
	return s.run(ctx, "step_back", func(ctx context.Context) error {
		for n := 0; n < steps; n++ {
			p := backRight
			if s.atStart(kinematics.RearLeft) {
				p = backLeft
			}
			if err := s.stride(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Sequencer) stride(ctx context.Context, p stride) error {
	g := s.geo
	x := g.XDefault + g.XOffset
	ahead := g.YStart + 2*g.YStep

	s.drv.SetSpeed(s.speeds.LegMove)
	for _, m := range []motion.Move{
		at(p.lead, x, g.YStart, g.ZUp),
		at(p.lead, x, ahead, g.ZUp),
		at(p.lead, x, ahead, g.ZDefault),
	} {
		if err := s.place(ctx, m); err != nil {
			return err
		}
	}

	s.drv.SetSpeed(s.speeds.BodyMove)
	moves := make([]motion.Move, 0, kinematics.NumLegs)
	for _, leg := range kinematics.AllLegs() {
		moves = append(moves, s.stanceAt(leg, p.shift[leg], g.ZDefault))
	}
	if err := s.place(ctx, moves...); err != nil {
		return err
	}

	s.drv.SetSpeed(s.speeds.LegMove)
	for _, m := range []motion.Move{
		at(p.trail, x, ahead, g.ZUp),
		at(p.trail, x, g.YStart, g.ZUp),
		at(p.trail, x, g.YStart, g.ZDefault),
	} {
		if err := s.place(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// spin is one half of a turning cycle. Feet are moved onto the two turning
// pivots with the body shifted one way, then the other, and the trail leg
// is brought back to the walking stance.
type spin struct {
	lead, trail kinematics.Leg
	// pivots selects Turn0 (0) or Turn1 (1) for each leg.
	pivots [kinematics.NumLegs]int
	// signs is the x offset of each leg during the first body shift; the
	// second shift mirrors it.
	signs [kinematics.NumLegs]float64
	rest  [kinematics.NumLegs]stance
}

var (
	rightAtStart = [kinematics.NumLegs]stance{{1, 0}, {1, 0}, {-1, 1}, {-1, 1}}
	leftAtStart  = [kinematics.NumLegs]stance{{-1, 1}, {-1, 1}, {1, 0}, {1, 0}}

	rightFrontLeft = spin{
		lead: kinematics.FrontLeft, trail: kinematics.FrontRight,
		pivots: [kinematics.NumLegs]int{0, 1, 0, 1},
		signs:  [kinematics.NumLegs]float64{-1, -1, 1, 1},
		rest:   rightAtStart,
	}
	rightRearRight = spin{
		lead: kinematics.RearRight, trail: kinematics.RearLeft,
		pivots: [kinematics.NumLegs]int{1, 0, 1, 0},
		signs:  [kinematics.NumLegs]float64{1, 1, -1, -1},
		rest:   leftAtStart,
	}
	leftRearLeft = spin{
		lead: kinematics.RearLeft, trail: kinematics.RearRight,
		pivots: [kinematics.NumLegs]int{1, 0, 1, 0},
		signs:  [kinematics.NumLegs]float64{-1, -1, 1, 1},
		rest:   rightAtStart,
	}
	leftFrontRight = spin{
		lead: kinematics.FrontRight, trail: kinematics.FrontLeft,
		pivots: [kinematics.NumLegs]int{0, 1, 0, 1},
		signs:  [kinematics.NumLegs]float64{1, 1, -1, -1},
		rest:   leftAtStart,
	}
)

// TurnRight turns on the spot for steps half cycles, phased on the front
// left foot.
func (s *Sequencer) TurnRight(ctx context.Context, steps int) error {
	if err := checkCount("steps", steps); err != nil {
		return err
	}
	return s.run(ctx, "turn_right", func(ctx context.Context) error {
		for n := 0; n < steps; n++ {
			p := rightRearRight
			if s.atStart(kinematics.FrontLeft) {
				p = rightFrontLeft
			}
			if err := s.spin(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
}

// TurnLeft turns on the spot for steps half cycles, phased on the rear left
// foot.
func (s *Sequencer) TurnLeft(ctx context.Context, steps int) error {
	if err := checkCount("steps", steps); err != nil {
		return err
	}
	return s.run(ctx, "turn_left", func(ctx context.Context) error {
		for n := 0; n < steps; n++ {
			p := leftFrontRight
			if s.atStart(kinematics.RearLeft) {
				p = leftRearLeft
			}
			if err := s.spin(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Sequencer) pivotAt(leg kinematics.Leg, p spin, sign, z float64) motion.Move {
	pv := s.geo.Turn0
	if p.pivots[leg] == 1 {
		pv = s.geo.Turn1
	}
	return at(leg, pv.X+sign*s.geo.XOffset, pv.Y, z)
}

func (s *Sequencer) spin(ctx context.Context, p spin) error {
	g := s.geo
	s.drv.SetSpeed(s.speeds.SpotTurn)

	if err := s.place(ctx, at(p.lead, g.XDefault+g.XOffset, g.YStart, g.ZUp)); err != nil {
		return err
	}

	shift := func(mirror float64, lifted kinematics.Leg) []motion.Move {
		moves := make([]motion.Move, 0, kinematics.NumLegs)
		for _, leg := range kinematics.AllLegs() {
			z := g.ZDefault
			if leg == lifted {
				z = g.ZUp
			}
			moves = append(moves, s.pivotAt(leg, p, mirror*p.signs[leg], z))
		}
		return moves
	}

	// Carry the lead leg onto its pivot while the body turns, then set it down.
	if err := s.place(ctx, shift(1, p.lead)...); err != nil {
		return err
	}
	if err := s.place(ctx, s.pivotAt(p.lead, p, p.signs[p.lead], g.ZDefault)); err != nil {
		return err
	}

	if err := s.place(ctx, shift(-1, -1)...); err != nil {
		return err
	}
	if err := s.place(ctx, s.pivotAt(p.trail, p, -p.signs[p.trail], g.ZUp)); err != nil {
		return err
	}

	// Return to the walking stance with the trail leg in the air.
	moves := make([]motion.Move, 0, kinematics.NumLegs)
	for _, leg := range kinematics.AllLegs() {
		z := g.ZDefault
		if leg == p.trail {
			z = g.ZUp
		}
		moves = append(moves, s.stanceAt(leg, p.rest[leg], z))
	}
	if err := s.place(ctx, moves...); err != nil {
		return err
	}
	return s.place(ctx, s.stanceAt(p.trail, p.rest[p.trail], g.ZDefault))
}
