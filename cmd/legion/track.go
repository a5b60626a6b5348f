package main

import (
	"context"
	"os"

	"github.com/gwillem/legion/pkg/robot"
	"github.com/gwillem/legion/pkg/tracker"
)

type TrackCommand struct {
	Width     int     `long:"width" default:"640" description:"Camera frame width in pixels"`
	Height    int     `long:"height" default:"480" description:"Camera frame height in pixels"`
	Threshold int     `long:"threshold" default:"30" description:"Pixels off center before reacting"`
	Shift     float64 `long:"shift" default:"5" description:"Body shift per position, mm"`
}

// Execute reads JSON positions such as {"x": 120, "y": 300} from stdin, one
// per detection, and follows them until stdin closes.
func (c *TrackCommand) Execute(args []string) error {
	cfg := tracker.DefaultConfig()
	cfg.Center = tracker.Point{X: c.Width / 2, Y: c.Height / 2}
	cfg.Threshold = c.Threshold
	cfg.Shift = c.Shift

	return runCommand(func(ctx context.Context, r *robot.Robot) error {
		if err := r.Gait.Stand(ctx); err != nil {
			return err
		}
		f := tracker.New(cfg, r.Gait, r.Logger())
		positions := make(chan tracker.Point)

		// Reads from stdin cannot be interrupted, so the decoder is left
		// behind when ctx ends first.
		decodeErr := make(chan error, 1)
		go func() {
			decodeErr <- tracker.Decode(ctx, os.Stdin, positions)
		}()
		if err := f.Run(ctx, positions); err != nil {
			return err
		}
		if err := <-decodeErr; err != nil {
			return err
		}
		return r.Gait.Sit(ctx)
	})
}
