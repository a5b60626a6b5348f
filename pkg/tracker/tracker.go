// Package tracker keeps a visually tracked object in front of the robot. It
// turns the object's pixel position into body shifts and single steps; the
// image processing that finds the object happens elsewhere.
package tracker

import (
	"context"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/gwillem/legion/pkg/gait"
)

// Point is an object position in pixels, origin top left.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Config describes the camera frame and how strongly to react.
type Config struct {
	Center    Point   `json:"center"`
	Threshold int     `json:"threshold"` // pixels off center before reacting
	Shift     float64 `json:"shift"`     // body shift per frame, mm
	Steps     int     `json:"steps"`     // steps per frame
}

// DefaultConfig suits a 640x480 frame.
func DefaultConfig() Config {
	return Config{
		Center:    Point{X: 320, Y: 240},
		Threshold: 30,
		Shift:     5,
		Steps:     1,
	}
}

// Mover is the part of the gait sequencer the follower uses.
type Mover interface {
	ShiftBody(ctx context.Context, dir gait.Direction, distance float64) error
	StepForward(ctx context.Context, steps int) error
	StepBack(ctx context.Context, steps int) error
}

// Action is what the follower does for one frame.
type Action struct {
	Shift gait.Direction // "" for none
	Walk  int            // +1 forward, -1 back, 0 none
}

// Follower reacts to object positions.
type Follower struct {
	cfg    Config
	mv     Mover
	logger *zap.SugaredLogger
}

// New returns a follower driving mv.
func New(cfg Config, mv Mover, logger *zap.SugaredLogger) *Follower {
	return &Follower{cfg: cfg, mv: mv, logger: logger.Named("tracker")}
}

// Decide maps a position to an action. An object left of center shifts the
// body left; one above center (further away) steps forward.
func (f *Follower) Decide(p Point) Action {
	var a Action
	c, th := f.cfg.Center, f.cfg.Threshold
	switch {
	case p.X < c.X-th:
		a.Shift = gait.Left
	case p.X > c.X+th:
		a.Shift = gait.Right
	}
	switch {
	case p.Y < c.Y-th:
		a.Walk = 1
	case p.Y > c.Y+th:
		a.Walk = -1
	}
	return a
}

// Follow performs the action for p.
func (f *Follower) Follow(ctx context.Context, p Point) error {
	a := f.Decide(p)
	if a.Shift != "" {
		f.logger.Debugw("object off center", "x", p.X, "shift", a.Shift)
		if err := f.mv.ShiftBody(ctx, a.Shift, f.cfg.Shift); err != nil {
			return err
		}
	}
	switch a.Walk {
	case 1:
		f.logger.Debugw("object far", "y", p.Y)
		return f.mv.StepForward(ctx, f.cfg.Steps)
	case -1:
		f.logger.Debugw("object near", "y", p.Y)
		return f.mv.StepBack(ctx, f.cfg.Steps)
	}
	return nil
}

// Run follows positions until the channel closes or ctx is done. A failed
// maneuver is logged and tracking continues with the next position.
func (f *Follower) Run(ctx context.Context, positions <-chan Point) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p, ok := <-positions:
			if !ok {
				return nil
			}
			if err := f.Follow(ctx, p); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				f.logger.Warnw("follow failed", "x", p.X, "y", p.Y, "error", err)
			}
		}
	}
}

// Decode reads a stream of JSON positions, one object per value, and sends
// them on out until r is exhausted or ctx is done. out is closed on return.
func Decode(ctx context.Context, r io.Reader, out chan<- Point) error {
	defer close(out)
	dec := json.NewDecoder(r)
	for {
		var p Point
		if err := dec.Decode(&p); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return errors.Wrap(err, "decode position")
		}
		select {
		case out <- p:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
