package main

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"github.com/gwillem/legion/pkg/kinematics"
	"github.com/gwillem/legion/pkg/robot"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fastConfig() *robot.Config {
	cfg := robot.DefaultConfig()
	cfg.Timing = robot.Timing{TickMS: 1, PollMS: 1, ReachTimeoutMS: 60000}
	return cfg
}

func TestDemoRoutineOnSimulator(t *testing.T) {
	var seen []string
	var final kinematics.Site
	err := withRobot(context.Background(), fastConfig(), zaptest.NewLogger(t).Sugar(), func(ctx context.Context, r *robot.Robot) error {
		err := runDemo(ctx, r, 2, false, func(name string) { seen = append(seen, name) })
		final = r.Motion.Current(kinematics.FrontRight)
		return err
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, seen, test.ShouldHaveLength, len(demoRoutine(2)))
	test.That(t, seen[0], test.ShouldEqual, "stand")
	test.That(t, final.Z, test.ShouldEqual, -28.0)
}

func TestWithRobotReturnsCallbackError(t *testing.T) {
	boom := errors.New("boom")
	err := withRobot(context.Background(), fastConfig(), zaptest.NewLogger(t).Sugar(), func(context.Context, *robot.Robot) error {
		return boom
	})
	test.That(t, errors.Is(err, boom), test.ShouldBeTrue)
}

func TestWithRobotInvalidConfig(t *testing.T) {
	cfg := fastConfig()
	cfg.Backend = "arduino"
	called := false
	err := withRobot(context.Background(), cfg, zaptest.NewLogger(t).Sugar(), func(context.Context, *robot.Robot) error {
		called = true
		return nil
	})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, called, test.ShouldBeFalse)
}

func TestDemoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	err := withRobot(ctx, fastConfig(), zaptest.NewLogger(t).Sugar(), func(ctx context.Context, r *robot.Robot) error {
		return runDemo(ctx, r, 2, true, func(name string) {
			if name == "back" {
				cancel()
			}
		})
	})
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
}
