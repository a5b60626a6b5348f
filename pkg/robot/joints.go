// Package robot wires the configuration, the actuator backend, the
// interpolator and the gait sequencer into one robot.
package robot

import (
	"fmt"
	"strings"

	"github.com/gwillem/legion/pkg/kinematics"
)

// Joint is one of the three joints of a leg, in actuator channel order.
type Joint int

// Joints of a leg.
const (
	Shoulder Joint = iota
	Knee
	Yaw
)

var jointNames = [3]string{"shoulder", "knee", "yaw"}

func (j Joint) String() string {
	if j < 0 || int(j) >= len(jointNames) {
		return fmt.Sprintf("joint(%d)", int(j))
	}
	return jointNames[j]
}

// JointName identifies a joint of a leg, such as "front_left_knee".
type JointName string

// NameOf returns the name of joint j of leg.
func NameOf(leg kinematics.Leg, j Joint) JointName {
	return JointName(leg.String() + "_" + j.String())
}

// Split returns the leg and joint a name refers to.
func (n JointName) Split() (kinematics.Leg, Joint, error) {
	i := strings.LastIndexByte(string(n), '_')
	if i < 0 {
		return 0, 0, fmt.Errorf("malformed joint name %q", n)
	}
	leg, err := kinematics.ParseLeg(string(n[:i]))
	if err != nil {
		return 0, 0, err
	}
	for j, name := range jointNames {
		if name == string(n[i+1:]) {
			return leg, Joint(j), nil
		}
	}
	return 0, 0, fmt.Errorf("unknown joint in %q", n)
}

// AllJoints returns all joint names in leg order, then joint order.
func AllJoints() []JointName {
	names := make([]JointName, 0, kinematics.NumLegs*len(jointNames))
	for _, leg := range kinematics.AllLegs() {
		for j := range jointNames {
			names = append(names, NameOf(leg, Joint(j)))
		}
	}
	return names
}
