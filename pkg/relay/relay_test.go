package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"github.com/gwillem/legion/pkg/motion"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeCommander struct {
	mu    sync.Mutex
	calls map[string]int
	args  map[string]int
	fail  error
}

func newFakeCommander() *fakeCommander {
	return &fakeCommander{calls: map[string]int{}, args: map[string]int{}}
}

func (f *fakeCommander) record(name string, arg int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	f.args[name] = arg
	return f.fail
}

func (f *fakeCommander) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeCommander) arg(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.args[name]
}

func (f *fakeCommander) StepForward(_ context.Context, n int) error { return f.record("forward", n) }
func (f *fakeCommander) StepBack(_ context.Context, n int) error    { return f.record("back", n) }
func (f *fakeCommander) TurnLeft(_ context.Context, n int) error    { return f.record("left", n) }
func (f *fakeCommander) TurnRight(_ context.Context, n int) error   { return f.record("right", n) }
func (f *fakeCommander) Stand(context.Context) error                { return f.record("stand", 0) }
func (f *fakeCommander) Sit(context.Context) error                  { return f.record("sit", 0) }
func (f *fakeCommander) Wave(_ context.Context, n int) error        { return f.record("wave", n) }
func (f *fakeCommander) Shake(_ context.Context, n int) error       { return f.record("shake", n) }
func (f *fakeCommander) Dance(_ context.Context, n int) error       { return f.record("dance", n) }
func (f *fakeCommander) Maneuver() string                           { return "" }

func post(t *testing.T, url, body string) (int, Response) {
	t.Helper()
	resp, err := http.Post(url+"/command", "application/json", bytes.NewBufferString(body))
	test.That(t, err, test.ShouldBeNil)
	defer resp.Body.Close()
	var r Response
	test.That(t, json.NewDecoder(resp.Body).Decode(&r), test.ShouldBeNil)
	return resp.StatusCode, r
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(time.Millisecond)
	}
}

func newTestServer(t *testing.T, cmd Commander, status func() motion.Snapshot) (*Server, *httptest.Server) {
	t.Helper()
	s := New(context.Background(), cmd, status, time.Millisecond, zaptest.NewLogger(t).Sugar())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})
	return s, ts
}

func TestRepeatingUntilStop(t *testing.T) {
	cmd := newFakeCommander()
	s, ts := newTestServer(t, cmd, nil)

	code, resp := post(t, ts.URL, `{"action":"forward"}`)
	test.That(t, code, test.ShouldEqual, http.StatusOK)
	test.That(t, resp.Status, test.ShouldEqual, "success")
	waitFor(t, func() bool { return cmd.count("forward") >= 2 })
	test.That(t, cmd.arg("forward"), test.ShouldEqual, 1)
	test.That(t, s.Looping(), test.ShouldEqual, Forward)

	// Switching direction keeps the same loop.
	post(t, ts.URL, `{"action":"right"}`)
	waitFor(t, func() bool { return cmd.count("right") >= 2 })

	code, _ = post(t, ts.URL, `{"action":"stop"}`)
	test.That(t, code, test.ShouldEqual, http.StatusOK)
	test.That(t, cmd.count("stand"), test.ShouldEqual, 1)
	test.That(t, s.Looping(), test.ShouldEqual, "")

	n := cmd.count("right")
	time.Sleep(20 * time.Millisecond)
	test.That(t, cmd.count("right"), test.ShouldEqual, n)
}

func TestOneShotCommands(t *testing.T) {
	cmd := newFakeCommander()
	_, ts := newTestServer(t, cmd, nil)

	for _, tc := range []struct {
		action, call string
		arg          int
	}{
		{Handshake, "shake", 3},
		{Handwave, "wave", 3},
		{Sit, "sit", 0},
		{Dance, "dance", 5},
	} {
		code, _ := post(t, ts.URL, `{"action":"`+tc.action+`"}`)
		test.That(t, code, test.ShouldEqual, http.StatusOK)
		test.That(t, cmd.count(tc.call), test.ShouldEqual, 1)
		test.That(t, cmd.arg(tc.call), test.ShouldEqual, tc.arg)
	}
}

func TestBadRequests(t *testing.T) {
	_, ts := newTestServer(t, newFakeCommander(), nil)

	code, resp := post(t, ts.URL, `{"action":"jump"}`)
	test.That(t, code, test.ShouldEqual, http.StatusBadRequest)
	test.That(t, resp.Status, test.ShouldEqual, "error")

	code, _ = post(t, ts.URL, `{}`)
	test.That(t, code, test.ShouldEqual, http.StatusBadRequest)

	code, _ = post(t, ts.URL, `not json`)
	test.That(t, code, test.ShouldEqual, http.StatusBadRequest)

	resp2, err := http.Get(ts.URL + "/command")
	test.That(t, err, test.ShouldBeNil)
	resp2.Body.Close()
	test.That(t, resp2.StatusCode, test.ShouldEqual, http.StatusNotFound)
}

func TestManeuverFailure(t *testing.T) {
	cmd := newFakeCommander()
	cmd.fail = errors.New("front_left: target unreachable")
	s, ts := newTestServer(t, cmd, nil)

	code, resp := post(t, ts.URL, `{"action":"sit"}`)
	test.That(t, code, test.ShouldEqual, http.StatusInternalServerError)
	test.That(t, resp.Error, test.ShouldContainSubstring, "unreachable")

	// A failing step ends the loop.
	post(t, ts.URL, `{"action":"backward"}`)
	waitFor(t, func() bool { return s.Looping() == "" })
	test.That(t, cmd.count("back"), test.ShouldEqual, 1)
}

func TestStatus(t *testing.T) {
	snap := motion.Snapshot{Speed: 15, Ticks: 42}
	_, ts := newTestServer(t, newFakeCommander(), func() motion.Snapshot { return snap })

	resp, err := http.Get(ts.URL + "/status")
	test.That(t, err, test.ShouldBeNil)
	defer resp.Body.Close()
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)

	var st Status
	test.That(t, json.NewDecoder(resp.Body).Decode(&st), test.ShouldBeNil)
	test.That(t, st.Motion, test.ShouldNotBeNil)
	test.That(t, st.Motion.Ticks, test.ShouldEqual, int64(42))
	test.That(t, st.Motion.Speed, test.ShouldEqual, 15.0)
}

func TestCORS(t *testing.T) {
	_, ts := newTestServer(t, newFakeCommander(), nil)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/command", nil)
	test.That(t, err, test.ShouldBeNil)
	req.Header.Set("Origin", "http://remote.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	test.That(t, err, test.ShouldBeNil)
	resp.Body.Close()
	test.That(t, resp.Header.Get("Access-Control-Allow-Origin"), test.ShouldEqual, "*")
}

func TestServe(t *testing.T) {
	s := New(context.Background(), newFakeCommander(), nil, time.Millisecond, zaptest.NewLogger(t).Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, "127.0.0.1:0") }()
	cancel()
	test.That(t, <-done, test.ShouldBeNil)
}
