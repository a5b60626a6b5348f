package motion

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"github.com/gwillem/legion/pkg/actuator"
	"github.com/gwillem/legion/pkg/kinematics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var links = kinematics.Links{A: 55, B: 77.5, C: 27.5}

func newTestInterpolator(t *testing.T, cfg Config, opts ...Option) (*Interpolator, *actuator.Recorder) {
	t.Helper()
	rec := actuator.NewRecorder()
	i, err := New(links, rec, cfg, zaptest.NewLogger(t).Sugar(), opts...)
	test.That(t, err, test.ShouldBeNil)
	return i, rec
}

// run starts the tick loop and returns a function that stops it.
func run(t *testing.T, i *Interpolator) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- i.Start(ctx) }()
	for !i.Running() {
		time.Sleep(time.Millisecond)
	}
	return func() {
		cancel()
		test.That(t, <-done, test.ShouldEqual, context.Canceled)
	}
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Tick = time.Millisecond
	cfg.Poll = time.Millisecond
	cfg.ReachTimeout = 5 * time.Second
	return cfg
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tick = 0
	_, err := New(links, actuator.NewRecorder(), cfg, zaptest.NewLogger(t).Sugar())
	test.That(t, err, test.ShouldNotBeNil)

	cfg = DefaultConfig()
	cfg.Channels[2][1] = 16
	_, err = New(links, actuator.NewRecorder(), cfg, zaptest.NewLogger(t).Sugar())
	test.That(t, err, test.ShouldNotBeNil)
}

func TestTickConvergesMonotonically(t *testing.T) {
	i, _ := newTestInterpolator(t, DefaultConfig())
	start := r3.Vector{X: 62, Y: 0, Z: -50}
	test.That(t, i.Reset(Move{Leg: kinematics.FrontRight, Site: start}), test.ShouldBeNil)

	// Direction (30, 40, 0) has length 50: 5 ticks at speed 10.
	i.SetSpeed(10)
	target := r3.Vector{X: 92, Y: 40, Z: -50}
	test.That(t, i.SetSite(kinematics.FrontRight, target.X, target.Y, target.Z), test.ShouldBeNil)

	prev := start
	ticks := 0
	for !i.Reached(kinematics.FrontRight) {
		i.Tick(context.Background())
		ticks++
		cur := i.Current(kinematics.FrontRight)
		test.That(t, cur.X, test.ShouldBeGreaterThanOrEqualTo, prev.X)
		test.That(t, cur.X, test.ShouldBeLessThanOrEqualTo, target.X)
		test.That(t, cur.Y, test.ShouldBeGreaterThanOrEqualTo, prev.Y)
		test.That(t, cur.Y, test.ShouldBeLessThanOrEqualTo, target.Y)
		test.That(t, cur.Z, test.ShouldEqual, target.Z)
		prev = cur
		test.That(t, ticks, test.ShouldBeLessThanOrEqualTo, 10)
	}
	test.That(t, ticks, test.ShouldEqual, 5)
	test.That(t, i.Current(kinematics.FrontRight), test.ShouldResemble, target)
}

func TestTickCountSingleAxis(t *testing.T) {
	i, _ := newTestInterpolator(t, DefaultConfig())
	test.That(t, i.Reset(Move{Leg: kinematics.RearLeft, Site: r3.Vector{X: 62, Y: 0, Z: -50}}), test.ShouldBeNil)

	i.SetSpeed(15)
	test.That(t, i.SetSite(kinematics.RearLeft, kinematics.Keep, 40, kinematics.Keep), test.ShouldBeNil)

	i.Tick(context.Background())
	test.That(t, i.Current(kinematics.RearLeft).Y, test.ShouldAlmostEqual, 15.0)
	i.Tick(context.Background())
	test.That(t, i.Current(kinematics.RearLeft).Y, test.ShouldAlmostEqual, 30.0)
	test.That(t, i.Reached(kinematics.RearLeft), test.ShouldBeFalse)
	i.Tick(context.Background())
	test.That(t, i.Current(kinematics.RearLeft).Y, test.ShouldEqual, 40.0)
	test.That(t, i.Reached(kinematics.RearLeft), test.ShouldBeTrue)
}

func TestSpeedMultiple(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SpeedMultiple = 2
	i, _ := newTestInterpolator(t, cfg)
	test.That(t, i.Reset(Move{Leg: kinematics.FrontLeft, Site: r3.Vector{X: 62, Y: 0, Z: -50}}), test.ShouldBeNil)

	i.SetSpeed(5)
	test.That(t, i.SetSite(kinematics.FrontLeft, kinematics.Keep, 40, kinematics.Keep), test.ShouldBeNil)
	test.That(t, i.Snapshot().Legs[kinematics.FrontLeft].Velocity.Y, test.ShouldAlmostEqual, 10.0)
}

func TestKeepUsesPreviousTarget(t *testing.T) {
	i, _ := newTestInterpolator(t, DefaultConfig())
	test.That(t, i.Reset(Move{Leg: kinematics.FrontRight, Site: r3.Vector{X: 62, Y: 0, Z: -50}}), test.ShouldBeNil)
	i.SetSpeed(5)

	test.That(t, i.SetSite(kinematics.FrontRight, kinematics.Keep, kinematics.Keep, -30), test.ShouldBeNil)
	i.Tick(context.Background())

	// z is still moving; a y-only command must not freeze it.
	test.That(t, i.SetSite(kinematics.FrontRight, kinematics.Keep, 40, kinematics.Keep), test.ShouldBeNil)
	test.That(t, i.Target(kinematics.FrontRight), test.ShouldResemble, r3.Vector{X: 62, Y: 40, Z: -30})
	v := i.Snapshot().Legs[kinematics.FrontRight].Velocity
	test.That(t, v.Z, test.ShouldBeGreaterThan, 0.0)
	test.That(t, v.Y, test.ShouldBeGreaterThan, 0.0)
	test.That(t, v.X, test.ShouldEqual, 0.0)

	for n := 0; n < 100 && !i.Reached(kinematics.FrontRight); n++ {
		i.Tick(context.Background())
	}
	test.That(t, i.Current(kinematics.FrontRight), test.ShouldResemble, r3.Vector{X: 62, Y: 40, Z: -30})
}

func TestSetSiteRejectsUnreachable(t *testing.T) {
	i, _ := newTestInterpolator(t, DefaultConfig())
	start := r3.Vector{X: 62, Y: 0, Z: -50}
	test.That(t, i.Reset(Move{Leg: kinematics.FrontRight, Site: start}), test.ShouldBeNil)
	i.SetSpeed(15)

	err := i.SetSite(kinematics.FrontRight, 200, 0, -50)
	test.That(t, errors.Is(err, kinematics.ErrUnreachable), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "front_right")
	test.That(t, i.Target(kinematics.FrontRight), test.ShouldResemble, start)
	test.That(t, i.Snapshot().Legs[kinematics.FrontRight].Velocity, test.ShouldResemble, r3.Vector{})
}

func TestSetSitesIsAllOrNothing(t *testing.T) {
	i, _ := newTestInterpolator(t, DefaultConfig())
	start := r3.Vector{X: 62, Y: 0, Z: -50}
	test.That(t, i.Reset(
		Move{Leg: kinematics.FrontRight, Site: start},
		Move{Leg: kinematics.RearRight, Site: start},
	), test.ShouldBeNil)
	i.SetSpeed(15)

	err := i.SetSites(
		Move{Leg: kinematics.FrontRight, Site: r3.Vector{X: 62, Y: 40, Z: -50}},
		Move{Leg: kinematics.RearRight, Site: r3.Vector{X: 300, Y: 0, Z: -50}},
	)
	test.That(t, errors.Is(err, kinematics.ErrUnreachable), test.ShouldBeTrue)
	test.That(t, i.Target(kinematics.FrontRight), test.ShouldResemble, start)

	err = i.SetSites(
		Move{Leg: kinematics.FrontRight, Site: start},
		Move{Leg: kinematics.FrontRight, Site: start},
	)
	test.That(t, err, test.ShouldNotBeNil)

	err = i.SetSites(Move{Leg: kinematics.Leg(7), Site: start})
	test.That(t, errors.Is(err, ErrInvalidLeg), test.ShouldBeTrue)
}

func TestZeroSpeedGuard(t *testing.T) {
	i, _ := newTestInterpolator(t, DefaultConfig())
	start := r3.Vector{X: 62, Y: 0, Z: -50}
	test.That(t, i.Reset(Move{Leg: kinematics.FrontRight, Site: start}), test.ShouldBeNil)

	err := i.SetSite(kinematics.FrontRight, 62, 40, -50)
	test.That(t, errors.Is(err, ErrZeroSpeed), test.ShouldBeTrue)

	// Restating the current target needs no speed.
	test.That(t, i.SetSite(kinematics.FrontRight, 62, 0, -50), test.ShouldBeNil)
}

func TestNotHomed(t *testing.T) {
	i, rec := newTestInterpolator(t, DefaultConfig())
	i.SetSpeed(15)
	err := i.SetSite(kinematics.FrontRight, 62, 0, -50)
	test.That(t, errors.Is(err, ErrNotHomed), test.ShouldBeTrue)

	// Unhomed legs are never dispatched.
	i.Tick(context.Background())
	test.That(t, rec.Writes(), test.ShouldEqual, 0)
}

func TestTickDispatchesMappedAngles(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Trims[kinematics.RearRight][1] = 2
	i, rec := newTestInterpolator(t, cfg)
	site := r3.Vector{X: 62, Y: 40, Z: -50}
	test.That(t, i.Reset(
		Move{Leg: kinematics.FrontRight, Site: site},
		Move{Leg: kinematics.RearRight, Site: site},
	), test.ShouldBeNil)

	i.Tick(context.Background())
	test.That(t, rec.Writes(), test.ShouldEqual, 6)

	a, err := kinematics.Solve(links, site)
	test.That(t, err, test.ShouldBeNil)
	plain := kinematics.ToActuator(false, a)
	mirrored := kinematics.ToActuator(true, a)

	for j, ch := range cfg.Channels[kinematics.FrontRight] {
		deg, ok := rec.Angle(ch)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, deg, test.ShouldAlmostEqual, plain[j])
	}
	deg, _ := rec.Angle(4)
	test.That(t, deg, test.ShouldAlmostEqual, mirrored[0])
	deg, _ = rec.Angle(5)
	test.That(t, deg, test.ShouldAlmostEqual, mirrored[1]+2)
}

func TestTickHoldsLastAnglesOnFault(t *testing.T) {
	i, rec := newTestInterpolator(t, DefaultConfig())
	// The straight path between these passes through the hip axis.
	test.That(t, i.Reset(Move{Leg: kinematics.FrontRight, Site: r3.Vector{X: 27.5, Y: 0, Z: 30}}), test.ShouldBeNil)
	i.Tick(context.Background())
	before := rec.Angles()

	i.SetSpeed(30)
	test.That(t, i.SetSite(kinematics.FrontRight, kinematics.Keep, kinematics.Keep, -30), test.ShouldBeNil)

	i.Tick(context.Background())
	s := i.Snapshot()
	test.That(t, s.Legs[kinematics.FrontRight].Current.Z, test.ShouldAlmostEqual, 0.0)
	test.That(t, s.Legs[kinematics.FrontRight].Fault, test.ShouldBeTrue)
	test.That(t, s.Faults, test.ShouldEqual, int64(1))
	test.That(t, rec.Angles(), test.ShouldResemble, before)

	i.Tick(context.Background())
	s = i.Snapshot()
	test.That(t, s.Legs[kinematics.FrontRight].Fault, test.ShouldBeFalse)
	test.That(t, i.Reached(kinematics.FrontRight), test.ShouldBeTrue)
	test.That(t, math.IsNaN(rec.Angles()[0]), test.ShouldBeFalse)
}

type failingActuator struct {
	*actuator.Recorder
	flushes int
}

func (f *failingActuator) SetAngle(context.Context, int, float64) error {
	return errors.New("bus gone")
}

func (f *failingActuator) Flush(context.Context) error {
	f.flushes++
	return nil
}

func TestTickCountsDispatchErrors(t *testing.T) {
	act := &failingActuator{Recorder: actuator.NewRecorder()}
	i, err := New(links, act, DefaultConfig(), zaptest.NewLogger(t).Sugar())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, i.Reset(Move{Leg: kinematics.FrontRight, Site: r3.Vector{X: 62, Y: 0, Z: -50}}), test.ShouldBeNil)

	i.Tick(context.Background())
	i.Tick(context.Background())
	test.That(t, i.Snapshot().DispatchErrors, test.ShouldEqual, int64(6))
	test.That(t, act.flushes, test.ShouldEqual, 2)
}

func TestWaitReach(t *testing.T) {
	i, _ := newTestInterpolator(t, fastConfig())
	test.That(t, i.Reset(Move{Leg: kinematics.FrontLeft, Site: r3.Vector{X: 62, Y: 0, Z: -50}}), test.ShouldBeNil)
	stop := run(t, i)
	defer stop()

	i.SetSpeed(8)
	test.That(t, i.SetSite(kinematics.FrontLeft, 62, 40, -30), test.ShouldBeNil)
	test.That(t, i.WaitReach(context.Background(), kinematics.FrontLeft), test.ShouldBeNil)
	test.That(t, i.Current(kinematics.FrontLeft), test.ShouldResemble, r3.Vector{X: 62, Y: 40, Z: -30})

	// Already there.
	test.That(t, i.WaitAllReach(context.Background()), test.ShouldBeNil)
}

func TestReachedWithinEpsilon(t *testing.T) {
	target := r3.Vector{X: 62, Y: 40, Z: -50}
	test.That(t, reached(target, target), test.ShouldBeTrue)
	test.That(t, reached(r3.Vector{X: 62, Y: 40 + Epsilon/2, Z: -50}, target), test.ShouldBeTrue)
	test.That(t, reached(r3.Vector{X: 62, Y: 40, Z: -50 - 2*Epsilon}, target), test.ShouldBeFalse)
}

func TestWaitReachStopped(t *testing.T) {
	i, _ := newTestInterpolator(t, fastConfig())
	test.That(t, i.Reset(Move{Leg: kinematics.FrontLeft, Site: r3.Vector{X: 62, Y: 0, Z: -50}}), test.ShouldBeNil)
	test.That(t, i.WaitReach(context.Background(), kinematics.FrontLeft), test.ShouldBeNil)

	i.SetSpeed(8)
	test.That(t, i.SetSite(kinematics.FrontLeft, 62, 40, -50), test.ShouldBeNil)
	err := i.WaitReach(context.Background(), kinematics.FrontLeft)
	test.That(t, errors.Is(err, ErrStopped), test.ShouldBeTrue)
}

func TestWaitReachTimeout(t *testing.T) {
	cfg := fastConfig()
	cfg.ReachTimeout = 20 * time.Millisecond
	i, _ := newTestInterpolator(t, cfg)
	test.That(t, i.Reset(Move{Leg: kinematics.FrontLeft, Site: r3.Vector{X: 62, Y: 0, Z: -50}}), test.ShouldBeNil)
	stop := run(t, i)
	defer stop()

	i.SetSpeed(0.001)
	test.That(t, i.SetSite(kinematics.FrontLeft, 62, 40, -50), test.ShouldBeNil)
	err := i.WaitReach(context.Background(), kinematics.FrontLeft)
	test.That(t, errors.Is(err, ErrReachTimeout), test.ShouldBeTrue)
}

func TestWaitReachCancel(t *testing.T) {
	cfg := fastConfig()
	cfg.ReachTimeout = 0
	i, _ := newTestInterpolator(t, cfg)
	test.That(t, i.Reset(Move{Leg: kinematics.FrontLeft, Site: r3.Vector{X: 62, Y: 0, Z: -50}}), test.ShouldBeNil)
	stop := run(t, i)
	defer stop()

	i.SetSpeed(0.001)
	test.That(t, i.SetSite(kinematics.FrontLeft, 62, 40, -50), test.ShouldBeNil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := i.WaitAllReach(ctx)
	test.That(t, errors.Is(err, context.DeadlineExceeded), test.ShouldBeTrue)
}

func TestWaitReachStalled(t *testing.T) {
	i, _ := newTestInterpolator(t, fastConfig())
	test.That(t, i.Reset(Move{Leg: kinematics.RearRight, Site: r3.Vector{X: 62, Y: 0, Z: -50}}), test.ShouldBeNil)
	stop := run(t, i)
	defer stop()

	// A gap with no velocity cannot come from SetSite; force it.
	st := &i.legs[kinematics.RearRight]
	st.mu.Lock()
	st.target.Y = 40
	st.mu.Unlock()

	err := i.WaitReach(context.Background(), kinematics.RearRight)
	test.That(t, errors.Is(err, ErrStalled), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "on y")
}

func TestStartWithMockClock(t *testing.T) {
	mock := clock.NewMock()
	i, rec := newTestInterpolator(t, DefaultConfig(), WithClock(mock))
	test.That(t, i.Reset(Move{Leg: kinematics.FrontRight, Site: r3.Vector{X: 62, Y: 0, Z: -50}}), test.ShouldBeNil)

	stop := run(t, i)
	defer stop()
	test.That(t, i.Start(context.Background()), test.ShouldNotBeNil)

	for n := 0; n < 100 && rec.Writes() == 0; n++ {
		mock.Add(20 * time.Millisecond)
	}
	test.That(t, rec.Writes(), test.ShouldBeGreaterThan, 0)

	select {
	case s := <-i.States():
		test.That(t, s.Ticks, test.ShouldBeGreaterThan, int64(0))
		test.That(t, s.Running, test.ShouldBeTrue)
		test.That(t, s.Timestamp.After(mock.Now()), test.ShouldBeFalse)
	case <-time.After(time.Second):
		t.Fatal("no snapshot")
	}
}
