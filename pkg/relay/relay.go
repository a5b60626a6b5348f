// Package relay exposes the gait commands over HTTP for a remote control UI.
package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/cors"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"goji.io"
	"goji.io/pat"

	"github.com/gwillem/legion/pkg/motion"
)

// Actions understood by the relay.
const (
	Forward   = "forward"
	Backward  = "backward"
	Left      = "left"
	Right     = "right"
	Stop      = "stop"
	Handshake = "handshake"
	Handwave  = "handwave"
	Sit       = "sit"
	Dance     = "dance"
)

// Repeating actions loop single steps until stop.
var Repeating = []string{Forward, Backward, Left, Right}

// Actions lists every accepted action.
var Actions = append(append([]string{}, Repeating...), Stop, Handshake, Handwave, Sit, Dance)

// ErrUnknownAction is returned for actions outside Actions.
var ErrUnknownAction = errors.New("unknown action")

// Gesture repetitions per one-shot command.
const (
	gestureCount = 3
	danceCount   = 5
)

// Commander is the part of the gait sequencer the relay drives.
type Commander interface {
	StepForward(ctx context.Context, steps int) error
	StepBack(ctx context.Context, steps int) error
	TurnLeft(ctx context.Context, steps int) error
	TurnRight(ctx context.Context, steps int) error
	Stand(ctx context.Context) error
	Sit(ctx context.Context) error
	Wave(ctx context.Context, count int) error
	Shake(ctx context.Context, count int) error
	Dance(ctx context.Context, count int) error
	Maneuver() string
}

// Server relays HTTP commands to a Commander.
type Server struct {
	ctx    context.Context
	cmd    Commander
	status func() motion.Snapshot
	gap    time.Duration
	logger *zap.SugaredLogger

	mu       sync.Mutex
	current  string
	loopStop chan struct{}
	loopDone chan struct{}
}

// Request is the body of POST /command.
type Request struct {
	Action string `json:"action"`
}

// Response is the reply to POST /command.
type Response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Status is the reply to GET /status.
type Status struct {
	Maneuver string           `json:"maneuver"`
	Looping  string           `json:"looping"`
	Motion   *motion.Snapshot `json:"motion,omitempty"`
}

// New returns a relay. Maneuvers run under ctx; gap is the pause between
// repeated steps. status may be nil.
func New(ctx context.Context, cmd Commander, status func() motion.Snapshot, gap time.Duration, logger *zap.SugaredLogger) *Server {
	return &Server{
		ctx:    ctx,
		cmd:    cmd,
		status: status,
		gap:    gap,
		logger: logger.Named("relay"),
	}
}

// Handler returns the HTTP routes with permissive CORS.
func (s *Server) Handler() http.Handler {
	mux := goji.NewMux()
	mux.HandleFunc(pat.Post("/command"), s.handleCommand)
	mux.HandleFunc(pat.Get("/status"), s.handleStatus)
	return cors.AllowAll().Handler(mux)
}

// Serve listens on addr until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Infow("listening", "addr", addr)

	select {
	case err := <-errCh:
		s.Close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	return err
}

// Close ends a running step loop and waits for it.
func (s *Server) Close() {
	s.endLoop()
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Action == "" {
		writeJSON(w, http.StatusBadRequest, Response{Status: "error", Error: "missing action"})
		return
	}
	s.logger.Infow("received command", "action", req.Action)

	if err := s.Execute(req.Action); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, ErrUnknownAction) {
			code = http.StatusBadRequest
		}
		writeJSON(w, code, Response{Status: "error", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, Response{Status: "success"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	st := Status{Maneuver: s.cmd.Maneuver(), Looping: s.current}
	s.mu.Unlock()
	if s.status != nil {
		snap := s.status()
		st.Motion = &snap
	}
	writeJSON(w, http.StatusOK, st)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Execute runs one action. Repeating actions start or redirect the step
// loop and return at once; stop ends the loop after the step in progress
// and stands; the rest run to completion.
func (s *Server) Execute(action string) error {
	if !lo.Contains(Actions, action) {
		return errors.Wrapf(ErrUnknownAction, "%q", action)
	}

	if lo.Contains(Repeating, action) {
		s.startLoop(action)
		return nil
	}

	ctx := s.ctx
	switch action {
	case Stop:
		s.endLoop()
		return s.cmd.Stand(ctx)
	case Handshake:
		return s.cmd.Shake(ctx, gestureCount)
	case Handwave:
		return s.cmd.Wave(ctx, gestureCount)
	case Sit:
		return s.cmd.Sit(ctx)
	case Dance:
		return s.cmd.Dance(ctx, danceCount)
	}
	return nil
}

// Looping returns the action the step loop repeats, or "".
func (s *Server) Looping() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Server) startLoop(action string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = action
	if s.loopDone != nil {
		return
	}
	s.loopStop = make(chan struct{})
	s.loopDone = make(chan struct{})
	go s.loop(s.loopStop, s.loopDone)
}

func (s *Server) endLoop() {
	s.mu.Lock()
	s.current = ""
	stop, done := s.loopStop, s.loopDone
	s.loopStop, s.loopDone = nil, nil
	s.mu.Unlock()

	if done == nil {
		return
	}
	close(stop)
	<-done
}

func (s *Server) loop(stop, done chan struct{}) {
	defer close(done)
	for {
		s.mu.Lock()
		action := s.current
		s.mu.Unlock()

		if err := s.step(action); err != nil {
			s.logger.Warnw("step loop ended", "action", action, "error", err)
			s.mu.Lock()
			if s.loopDone == done {
				s.current = ""
				s.loopStop, s.loopDone = nil, nil
			}
			s.mu.Unlock()
			return
		}

		select {
		case <-stop:
			return
		case <-s.ctx.Done():
			return
		case <-time.After(s.gap):
		}
	}
}

func (s *Server) step(action string) error {
	switch action {
	case Forward:
		return s.cmd.StepForward(s.ctx, 1)
	case Backward:
		return s.cmd.StepBack(s.ctx, 1)
	case Left:
		return s.cmd.TurnLeft(s.ctx, 1)
	case Right:
		return s.cmd.TurnRight(s.ctx, 1)
	}
	return nil
}
