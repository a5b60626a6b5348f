// Package geometry derives the fixed stance and turning constants of a
// four-legged robot from its physical dimensions.
package geometry

import (
	"math"

	"github.com/pkg/errors"
)

// ErrDegenerate is returned when the dimensions do not describe a valid
// triangle for the turning pivots.
var ErrDegenerate = errors.New("degenerate geometry")

// Dimensions are the measured lengths of the robot, in millimeters.
type Dimensions struct {
	// Link lengths: femur (a), tibia (b) and the horizontal hip offset (c).
	LengthA float64 `json:"length_a"`
	LengthB float64 `json:"length_b"`
	LengthC float64 `json:"length_c"`

	// Side length of the square formed by the four hip joints.
	LengthSide float64 `json:"length_side"`

	ZDefault float64 `json:"z_default"`
	ZUp      float64 `json:"z_up"`
	ZBoot    float64 `json:"z_boot"`
	XDefault float64 `json:"x_default"`
	XOffset  float64 `json:"x_offset"`
	YStart   float64 `json:"y_start"`
	YStep    float64 `json:"y_step"`
}

// DefaultDimensions returns the dimensions of the reference robot.
func DefaultDimensions() Dimensions {
	return Dimensions{
		LengthA:    55.0,
		LengthB:    77.5,
		LengthC:    27.5,
		LengthSide: 71.0,
		ZDefault:   -50.0,
		ZUp:        -30.0,
		ZBoot:      -28.0,
		XDefault:   62.0,
		XOffset:    0.0,
		YStart:     0.0,
		YStep:      40.0,
	}
}

// Pivot is a foot coordinate on the ground plane.
type Pivot struct {
	X, Y float64
}

// Geometry holds the constants computed once at startup. It is immutable
// after New returns.
type Geometry struct {
	Dimensions

	// YDefault mirrors XDefault; the dance routine centers each foot there.
	YDefault float64

	// Alpha is the included angle (radians) of the turning triangle.
	Alpha float64

	// Turn0 and Turn1 are the two intermediate foot positions of a spot turn.
	Turn0 Pivot
	Turn1 Pivot
}

// New validates d and derives the turning pivots. It fails with
// ErrDegenerate if the turning triangle cannot be solved.
func New(d Dimensions) (*Geometry, error) {
	if d.LengthA <= 0 || d.LengthB <= 0 || d.LengthSide <= 0 {
		return nil, errors.Wrapf(ErrDegenerate, "link lengths must be positive (a=%.2f, b=%.2f, side=%.2f)",
			d.LengthA, d.LengthB, d.LengthSide)
	}

	// The triangle spans from a foot at rest to the diagonally opposite hip.
	// Sides a and c are the hypotenuses of the stance rectangle before and
	// after the step, b is the stepped length along the body.
	span := 2*d.XDefault + d.LengthSide
	a := math.Hypot(span, d.YStep)
	b := 2*(d.YStart+d.YStep) + d.LengthSide
	c := math.Hypot(span, 2*d.YStart+d.YStep+d.LengthSide)

	alpha, err := IncludedAngle(a, b, c)
	if err != nil {
		return nil, errors.Wrap(err, "turning pivots")
	}

	g := &Geometry{
		Dimensions: d,
		YDefault:   d.XDefault,
		Alpha:      alpha,
	}
	g.Turn1 = Pivot{
		X: (a - d.LengthSide) / 2,
		Y: d.YStart + d.YStep/2,
	}
	g.Turn0 = Pivot{
		X: g.Turn1.X - b*math.Cos(alpha),
		Y: b*math.Sin(alpha) - g.Turn1.Y - d.LengthSide,
	}
	return g, nil
}

// CosineRule returns the cosine of the angle between sides a and b of a
// triangle whose third side is c.
func CosineRule(a, b, c float64) float64 {
	return (a*a + b*b - c*c) / (2 * a * b)
}

// IncludedAngle returns the angle (radians) between sides a and b of the
// triangle with opposite side c, or ErrDegenerate if no such triangle exists.
func IncludedAngle(a, b, c float64) (float64, error) {
	cos := CosineRule(a, b, c)
	if math.IsNaN(cos) || cos < -1 || cos > 1 {
		return 0, errors.Wrapf(ErrDegenerate, "acos argument %.4f outside [-1, 1] (a=%.2f, b=%.2f, c=%.2f)", cos, a, b, c)
	}
	return math.Acos(cos), nil
}
