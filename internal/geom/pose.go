package geom

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Pose2D is a planar pose in the fleet world frame.
type Pose2D struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Yaw float64 `json:"yaw"` // radians
}

// Point3 is a planar point carrying a heading, used for spline samples:
// X, Y in metres and Yaw in radians.
type Point3 struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Yaw float64 `json:"yaw"`
}

// Pose returns p as a Pose2D.
func (p Point3) Pose() Pose2D { return Pose2D{X: p.X, Y: p.Y, Yaw: p.Yaw} }

func (p Pose2D) String() string {
	return fmt.Sprintf("(%.3f, %.3f, %.1f°)", p.X, p.Y, p.Yaw*180/math.Pi)
}

// WrapAngle maps a to (-π, π].
func WrapAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	switch {
	case a > math.Pi:
		a -= 2 * math.Pi
	case a <= -math.Pi:
		a += 2 * math.Pi
	}
	return a
}

// AngleDiff returns the shortest signed rotation taking b onto a.
func AngleDiff(a, b float64) float64 {
	return WrapAngle(a - b)
}

// Heading returns the yaw of v's projection onto the horizontal plane.
func Heading(v r3.Vec) float64 {
	return math.Atan2(v.Y, v.X)
}

// FromQuat builds a rigid transform from a rotation quaternion and a
// translation. q need not be normalised.
func FromQuat(q quat.Number, t r3.Vec) Mat4 {
	n := quat.Abs(q)
	if n == 0 {
		return Identity().WithTranslation(t)
	}
	q = quat.Scale(1/n, q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return Mat4{
		1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w), t.X,
		2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w), t.Y,
		2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y), t.Z,
		0, 0, 0, 1,
	}
}

// YawQuat returns the quaternion for a rotation of yaw radians about Up.
func YawQuat(yaw float64) quat.Number {
	s, c := math.Sincos(yaw / 2)
	return quat.Number{Real: c, Kmag: s}
}
