package tracker

import (
	"context"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"github.com/gwillem/legion/pkg/gait"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeMover struct {
	calls []string
	fail  error
}

func (f *fakeMover) ShiftBody(_ context.Context, dir gait.Direction, _ float64) error {
	f.calls = append(f.calls, "shift_"+string(dir))
	return f.fail
}

func (f *fakeMover) StepForward(context.Context, int) error {
	f.calls = append(f.calls, "forward")
	return f.fail
}

func (f *fakeMover) StepBack(context.Context, int) error {
	f.calls = append(f.calls, "back")
	return f.fail
}

func TestDecide(t *testing.T) {
	f := New(DefaultConfig(), &fakeMover{}, zaptest.NewLogger(t).Sugar())

	tests := []struct {
		p        Point
		expected Action
	}{
		{Point{320, 240}, Action{}},
		{Point{290, 210}, Action{}}, // on the threshold
		{Point{289, 240}, Action{Shift: gait.Left}},
		{Point{351, 240}, Action{Shift: gait.Right}},
		{Point{320, 100}, Action{Walk: 1}},
		{Point{320, 400}, Action{Walk: -1}},
		{Point{10, 470}, Action{Shift: gait.Left, Walk: -1}},
	}

	for _, tt := range tests {
		got := f.Decide(tt.p)
		if got != tt.expected {
			t.Errorf("Decide(%v) = %+v, want %+v", tt.p, got, tt.expected)
		}
	}
}

func TestRun(t *testing.T) {
	mv := &fakeMover{}
	f := New(DefaultConfig(), mv, zaptest.NewLogger(t).Sugar())

	ch := make(chan Point)
	input := `{"x": 600, "y": 20} {"x": 320, "y": 240}
{"x": 320, "y": 470}`
	errCh := make(chan error, 1)
	go func() { errCh <- Decode(context.Background(), strings.NewReader(input), ch) }()

	test.That(t, f.Run(context.Background(), ch), test.ShouldBeNil)
	test.That(t, <-errCh, test.ShouldBeNil)
	test.That(t, mv.calls, test.ShouldResemble, []string{"shift_right", "forward", "back"})
}

func TestRunContinuesAfterFailure(t *testing.T) {
	mv := &fakeMover{fail: errors.New("unreachable")}
	f := New(DefaultConfig(), mv, zaptest.NewLogger(t).Sugar())

	ch := make(chan Point, 2)
	ch <- Point{0, 240}
	ch <- Point{640, 240}
	close(ch)
	test.That(t, f.Run(context.Background(), ch), test.ShouldBeNil)
	test.That(t, mv.calls, test.ShouldResemble, []string{"shift_left", "shift_right"})
}

func TestRunCancel(t *testing.T) {
	f := New(DefaultConfig(), &fakeMover{}, zaptest.NewLogger(t).Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	test.That(t, f.Run(ctx, make(chan Point)), test.ShouldEqual, context.Canceled)
}

func TestDecodeBadInput(t *testing.T) {
	ch := make(chan Point, 1)
	err := Decode(context.Background(), strings.NewReader(`{"x": 1, "y": 2} nope`), ch)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, <-ch, test.ShouldResemble, Point{1, 2})
}
