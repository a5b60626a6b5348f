// Package kinematics converts foot positions into joint and actuator angles.
package kinematics

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// ErrUnreachable is returned when a foot position lies outside the annulus
// the two leg links can reach.
var ErrUnreachable = errors.New("target unreachable")

// NumLegs is the number of legs on the robot.
const NumLegs = 4

// Leg identifies one of the four legs. Legs 0 and 1 are on the right side,
// 2 and 3 on the left; {0, 3} and {1, 2} are the diagonal pairs.
type Leg int

// Leg identifiers.
const (
	FrontRight Leg = iota
	RearRight
	FrontLeft
	RearLeft
)

var legNames = [NumLegs]string{"front_right", "rear_right", "front_left", "rear_left"}

// AllLegs returns all legs in index order.
func AllLegs() []Leg {
	return []Leg{FrontRight, RearRight, FrontLeft, RearLeft}
}

func (l Leg) String() string {
	if !l.Valid() {
		return fmt.Sprintf("leg(%d)", int(l))
	}
	return legNames[l]
}

// ParseLeg returns the leg with the given name.
func ParseLeg(name string) (Leg, error) {
	for i, n := range legNames {
		if n == name {
			return Leg(i), nil
		}
	}
	return 0, errors.Errorf("unknown leg %q", name)
}

// Valid reports whether l is one of the four legs.
func (l Leg) Valid() bool {
	return l >= 0 && l < NumLegs
}

// Site is a foot position in the leg's local frame, in millimeters.
type Site = r3.Vector

// Keep marks an axis that a command leaves untouched.
var Keep = math.NaN()

// IsKeep reports whether v is the Keep sentinel.
func IsKeep(v float64) bool {
	return math.IsNaN(v)
}

// Angles are the three joint angles of a leg, in degrees.
type Angles struct {
	Shoulder float64 // hip pitch
	Knee     float64
	Yaw      float64 // hip yaw
}

// Array returns the angles in actuator channel order.
func (a Angles) Array() [3]float64 {
	return [3]float64{a.Shoulder, a.Knee, a.Yaw}
}

// Links are the leg lengths the solver needs.
type Links struct {
	A float64 // femur
	B float64 // tibia
	C float64 // horizontal hip offset
}

// Solve returns the joint angles that put the foot at s. It fails with
// ErrUnreachable instead of producing NaN angles.
func Solve(links Links, s Site) (Angles, error) {
	v := math.Hypot(s.X, s.Y) - links.C
	w := math.Hypot(v, s.Z)
	if w == 0 {
		return Angles{}, errors.Wrapf(ErrUnreachable, "site (%.2f, %.2f, %.2f): foot at hip", s.X, s.Y, s.Z)
	}

	shoulderCos := (links.A*links.A - links.B*links.B + w*w) / (2 * links.A * w)
	kneeCos := (links.A*links.A + links.B*links.B - w*w) / (2 * links.A * links.B)
	if !inDomain(shoulderCos) || !inDomain(kneeCos) {
		return Angles{}, errors.Wrapf(ErrUnreachable, "site (%.2f, %.2f, %.2f): distance %.2f outside [%.2f, %.2f]",
			s.X, s.Y, s.Z, w, math.Abs(links.A-links.B), links.A+links.B)
	}

	return Angles{
		Shoulder: deg(math.Atan2(s.Z, v) + math.Acos(shoulderCos)),
		Knee:     deg(math.Acos(kneeCos)),
		Yaw:      deg(math.Atan2(s.Y, s.X)),
	}, nil
}

func inDomain(cos float64) bool {
	return !math.IsNaN(cos) && cos >= -1 && cos <= 1
}

// ToActuator maps solver angles into the 0-180 actuator range. Mirrored legs
// are mounted the other way round. Results are clamped without error.
func ToActuator(mirrored bool, a Angles) [3]float64 {
	var out [3]float64
	if mirrored {
		out = [3]float64{90 + a.Shoulder, 180 - a.Knee, 90 - a.Yaw}
	} else {
		out = [3]float64{90 - a.Shoulder, a.Knee, 90 + a.Yaw}
	}
	for i := range out {
		out[i] = Clamp(out[i])
	}
	return out
}

// Clamp saturates deg to [0, 180].
func Clamp(deg float64) float64 {
	return math.Min(math.Max(deg, 0), 180)
}

func deg(rad float64) float64 {
	return rad * 180 / math.Pi
}
