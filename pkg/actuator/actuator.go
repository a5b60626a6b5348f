// Package actuator defines the hardware-facing side of the motion core: a
// channel-addressed servo output that accepts angles in degrees.
package actuator

import (
	"context"
	"sync"
)

// NumChannels is the number of addressable channels on a servo driver.
const NumChannels = 16

// Actuator drives servo channels. Implementations must return quickly; the
// interpolator calls SetAngle twelve times per tick.
type Actuator interface {
	SetAngle(ctx context.Context, channel int, deg float64) error
	Close() error
}

// Flusher is implemented by actuators that buffer SetAngle calls and write
// them out together. The interpolator calls Flush once at the end of every tick.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Recorder is an in-memory actuator. It keeps the last angle per channel and
// counts writes, which makes it usable as a simulator and as a test double.
type Recorder struct {
	mu     sync.Mutex
	angles map[int]float64
	writes int
	closed bool
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{angles: make(map[int]float64)}
}

// SetAngle records deg for channel.
func (r *Recorder) SetAngle(_ context.Context, channel int, deg float64) error {
	if err := CheckChannel(channel); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.angles[channel] = deg
	r.writes++
	return nil
}

// Angle returns the last angle written to channel.
func (r *Recorder) Angle(channel int) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	deg, ok := r.angles[channel]
	return deg, ok
}

// Angles returns a copy of the last angle per channel.
func (r *Recorder) Angles() map[int]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int]float64, len(r.angles))
	for ch, deg := range r.angles {
		out[ch] = deg
	}
	return out
}

// Writes returns the number of SetAngle calls so far.
func (r *Recorder) Writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

// Close marks the recorder closed.
func (r *Recorder) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
