package main

import (
	"context"
	"fmt"

	"github.com/gwillem/legion/pkg/gait"
	"github.com/gwillem/legion/pkg/robot"
)

type DemoCommand struct {
	Steps int `long:"steps" default:"2" description:"Steps per walk and turn phase"`
	Loop  bool `long:"loop" description:"Repeat until interrupted"`
}

// demoStep is one maneuver of the demonstration routine.
type demoStep struct {
	name string
	run  func(ctx context.Context, s *gait.Sequencer) error
}

func demoRoutine(steps int) []demoStep {
	return []demoStep{
		{"stand", func(ctx context.Context, s *gait.Sequencer) error { return s.Stand(ctx) }},
		{"forward", func(ctx context.Context, s *gait.Sequencer) error { return s.StepForward(ctx, steps) }},
		{"back", func(ctx context.Context, s *gait.Sequencer) error { return s.StepBack(ctx, steps) }},
		{"turn right", func(ctx context.Context, s *gait.Sequencer) error { return s.TurnRight(ctx, steps) }},
		{"turn left", func(ctx context.Context, s *gait.Sequencer) error { return s.TurnLeft(ctx, steps) }},
		{"shift left", func(ctx context.Context, s *gait.Sequencer) error { return s.ShiftBody(ctx, gait.Left, 15) }},
		{"shift right", func(ctx context.Context, s *gait.Sequencer) error { return s.ShiftBody(ctx, gait.Right, 15) }},
		{"tilt up", func(ctx context.Context, s *gait.Sequencer) error { return s.TiltHead(ctx, gait.Up, 10) }},
		{"tilt down", func(ctx context.Context, s *gait.Sequencer) error { return s.TiltHead(ctx, gait.Down, 10) }},
		{"wave", func(ctx context.Context, s *gait.Sequencer) error { return s.Wave(ctx, 3) }},
		{"shake", func(ctx context.Context, s *gait.Sequencer) error { return s.Shake(ctx, 3) }},
		{"dance", func(ctx context.Context, s *gait.Sequencer) error { return s.Dance(ctx, 5) }},
		{"sit", func(ctx context.Context, s *gait.Sequencer) error { return s.Sit(ctx) }},
	}
}

// runDemo runs the routine once, or until ctx is done when loop is set.
// progress, if not nil, is told about each maneuver before it starts.
func runDemo(ctx context.Context, r *robot.Robot, steps int, loop bool, progress func(string)) error {
	for {
		for _, st := range demoRoutine(steps) {
			if progress != nil {
				progress(st.name)
			}
			if err := st.run(ctx, r.Gait); err != nil {
				return fmt.Errorf("%s: %w", st.name, err)
			}
		}
		if !loop {
			return nil
		}
	}
}

func (c *DemoCommand) Execute(args []string) error {
	return runCommand(func(ctx context.Context, r *robot.Robot) error {
		return runDemo(ctx, r, c.Steps, c.Loop, func(name string) {
			fmt.Println("→", name)
		})
	})
}
