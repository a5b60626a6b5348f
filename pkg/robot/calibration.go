package robot

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/samber/lo"

	"github.com/gwillem/legion/pkg/actuator"
	"github.com/gwillem/legion/pkg/kinematics"
	"github.com/gwillem/legion/pkg/motion"
)

// JointCalibration holds the wiring and trim of a single joint.
type JointCalibration struct {
	Channel int `json:"channel"`
	// Trim is added to the actuator angle, in degrees, to correct for the
	// horn not sitting exactly at 90 degrees.
	Trim float64 `json:"trim,omitempty"`
}

// Calibration holds calibration data for all joints, keyed by joint name.
type Calibration map[JointName]JointCalibration

// DefaultCalibration returns the wiring of the reference robot without trims.
func DefaultCalibration() Calibration {
	channels := motion.DefaultConfig().Channels
	cal := make(Calibration, len(AllJoints()))
	for _, leg := range kinematics.AllLegs() {
		for j, ch := range channels[leg] {
			cal[NameOf(leg, Joint(j))] = JointCalibration{Channel: ch}
		}
	}
	return cal
}

// LoadCalibration loads calibration data from a JSON file.
func LoadCalibration(path string) (Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calibration file: %w", err)
	}

	var cal Calibration
	if err := json.Unmarshal(data, &cal); err != nil {
		return nil, fmt.Errorf("parse calibration JSON: %w", err)
	}
	if err := cal.Validate(); err != nil {
		return nil, err
	}
	return cal, nil
}

// Validate checks that every joint has a unique, addressable channel.
func (c Calibration) Validate() error {
	for name := range c {
		if _, _, err := name.Split(); err != nil {
			return err
		}
	}
	for _, name := range AllJoints() {
		jc, ok := c[name]
		if !ok {
			return fmt.Errorf("calibration missing joint %s", name)
		}
		if err := actuator.CheckChannel(jc.Channel); err != nil {
			return fmt.Errorf("joint %s: %w", name, err)
		}
	}
	if dups := lo.FindDuplicates(c.ChannelList()); len(dups) > 0 {
		return fmt.Errorf("channels used by more than one joint: %v", dups)
	}
	return nil
}

// ChannelList returns the channels of all joints in AllJoints order.
func (c Calibration) ChannelList() []int {
	channels := make([]int, 0, len(c))
	for _, name := range AllJoints() {
		if jc, ok := c[name]; ok {
			channels = append(channels, jc.Channel)
		}
	}
	return channels
}

// Channels returns the channel of each joint per leg.
func (c Calibration) Channels() [kinematics.NumLegs][3]int {
	var out [kinematics.NumLegs][3]int
	for name, jc := range c {
		if leg, j, err := name.Split(); err == nil {
			out[leg][j] = jc.Channel
		}
	}
	return out
}

// Trims returns the trim of each joint per leg.
func (c Calibration) Trims() [kinematics.NumLegs][3]float64 {
	var out [kinematics.NumLegs][3]float64
	for name, jc := range c {
		if leg, j, err := name.Split(); err == nil {
			out[leg][j] = jc.Trim
		}
	}
	return out
}

// ByChannel returns the joint name and calibration for a given channel.
func (c Calibration) ByChannel(channel int) (JointName, JointCalibration, bool) {
	for name, jc := range c {
		if jc.Channel == channel {
			return name, jc, true
		}
	}
	return "", JointCalibration{}, false
}
