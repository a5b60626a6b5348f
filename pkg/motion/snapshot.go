package motion

import (
	"time"

	"github.com/gwillem/legion/pkg/kinematics"
)

// LegState is a consistent copy of one leg's state.
type LegState struct {
	Leg      kinematics.Leg  `json:"leg"`
	Homed    bool            `json:"homed"`
	Current  kinematics.Site `json:"current"`
	Target   kinematics.Site `json:"target"`
	Velocity kinematics.Site `json:"velocity"`
	Angles   [3]float64      `json:"angles"`
	Fault    bool            `json:"fault"`
}

// Snapshot is the state of the interpolator at one instant.
type Snapshot struct {
	Legs           [kinematics.NumLegs]LegState `json:"legs"`
	Speed          float64                      `json:"speed"`
	Running        bool                         `json:"running"`
	Ticks          int64                        `json:"ticks"`
	Faults         int64                        `json:"faults"`
	DispatchErrors int64                        `json:"dispatch_errors"`
	Timestamp      time.Time                    `json:"timestamp"`
}

// Snapshot copies the current state. Each leg is copied under its own lock.
func (i *Interpolator) Snapshot() Snapshot {
	s := Snapshot{
		Speed:          i.speed.Load(),
		Running:        i.running.Load(),
		Ticks:          i.ticks.Load(),
		Faults:         i.faults.Load(),
		DispatchErrors: i.dispatchErrs.Load(),
		Timestamp:      i.clock.Now(),
	}
	for n := range i.legs {
		st := &i.legs[n]
		st.mu.Lock()
		s.Legs[n] = LegState{
			Leg:      kinematics.Leg(n),
			Homed:    st.homed,
			Current:  st.current,
			Target:   st.target,
			Velocity: st.velocity,
			Angles:   st.angles,
			Fault:    st.fault,
		}
		st.mu.Unlock()
	}
	return s
}

// States returns a channel that receives a snapshot after every tick. Only
// the latest snapshot is kept when the reader falls behind.
func (i *Interpolator) States() <-chan Snapshot {
	return i.stateCh
}

func (i *Interpolator) sendState(s Snapshot) {
	select {
	case i.stateCh <- s:
	default:
		// Drop old state if channel full, replace with new
		select {
		case <-i.stateCh:
		default:
		}
		select {
		case i.stateCh <- s:
		default:
		}
	}
}
