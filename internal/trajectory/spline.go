// Package trajectory reconstructs robot paths from the cubic spline knots
// published by the trajectory server.
package trajectory

import (
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/fleet-overlay/internal/geom"
)

// Axis indexes the three interpolated components of a knot.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisYaw
)

// Knot is a spline control point. T is in milliseconds of server time;
// Velocity holds (vx, vy, vyaw) and Position holds (x, y, yaw).
type Knot struct {
	T        int64      `json:"t"`
	Velocity [3]float64 `json:"v"`
	Position [3]float64 `json:"x"`
}

// Point returns the knot position as a planar point.
func (k Knot) Point() geom.Point3 {
	return geom.Point3{X: k.Position[AxisX], Y: k.Position[AxisY], Yaw: k.Position[AxisYaw]}
}

// Trajectory is one robot's predicted path for a single polling cycle.
// Knots are ordered by increasing T.
type Trajectory struct {
	ID         int     `json:"id"`
	RobotName  string  `json:"robot_name"`
	FleetName  string  `json:"fleet_name,omitempty"`
	Shape      string  `json:"shape,omitempty"`
	Dimensions float64 `json:"dimensions,omitempty"`
	Knots      []Knot  `json:"segments"`
}

// Drawable reports whether the trajectory has at least one segment.
func (t Trajectory) Drawable() bool { return len(t.Knots) >= 2 }

// Coefficients are the cubic a·u³ + b·u² + c·u + d in normalised time u.
type Coefficients struct {
	A, B, C, D float64
}

// At evaluates the cubic at u.
func (c Coefficients) At(u float64) float64 {
	return ((c.A*u+c.B)*u+c.C)*u + c.D
}

// CoefficientsFor returns the Hermite coefficients of one axis between a
// and b. Velocities are scaled by the knot interval before use.
func CoefficientsFor(a, b Knot, axis Axis) Coefficients {
	dt := float64(b.T - a.T)
	x0, x1 := a.Position[axis], b.Position[axis]
	var w0, w1 float64
	if dt != 0 {
		w0 = a.Velocity[axis] / dt
		w1 = b.Velocity[axis] / dt
	}
	return Coefficients{
		A: w1 + w0 - 2*x1 + 2*x0,
		B: -w1 - 2*w0 + 3*x1 - 3*x0,
		C: w0,
		D: x0,
	}
}

// param returns the normalised time of t within [a.T, b.T], clamped to
// [0, 1]. A zero-length interval evaluates at its end.
func param(a, b Knot, t int64) float64 {
	dt := b.T - a.T
	if dt <= 0 {
		return 1
	}
	u := float64(t-a.T) / float64(dt)
	switch {
	case u < 0:
		return 0
	case u > 1:
		return 1
	}
	return u
}

// Evaluate interpolates the pose between a and b at time t.
func Evaluate(a, b Knot, t int64) geom.Point3 {
	u := param(a, b, t)
	return geom.Point3{
		X:   CoefficientsFor(a, b, AxisX).At(u),
		Y:   CoefficientsFor(a, b, AxisY).At(u),
		Yaw: CoefficientsFor(a, b, AxisYaw).At(u),
	}
}

// Segment is a drawable piece of a trajectory between two knots. A partial
// segment starts at the interpolated pose for the query time rather than
// at its first knot.
type Segment struct {
	Index   int         `json:"index"`
	Start   geom.Point3 `json:"start"`
	End     geom.Point3 `json:"end"`
	StartT  int64       `json:"start_t"`
	EndT    int64       `json:"end_t"`
	Partial bool        `json:"partial"`
}

// ReconstructVisible returns the segments of traj still ahead of t. Pairs
// that end at or before t are omitted, the pair straddling t is clipped to
// start at the interpolated pose, and later pairs are returned whole.
func ReconstructVisible(traj Trajectory, t int64) []Segment {
	if !traj.Drawable() {
		return nil
	}
	out := make([]Segment, 0, len(traj.Knots)-1)
	for i := 0; i+1 < len(traj.Knots); i++ {
		a, b := traj.Knots[i], traj.Knots[i+1]
		switch {
		case b.T <= t:
			continue
		case a.T <= t:
			out = append(out, Segment{
				Index:   i,
				Start:   Evaluate(a, b, t),
				End:     b.Point(),
				StartT:  t,
				EndT:    b.T,
				Partial: true,
			})
		default:
			out = append(out, Segment{
				Index:  i,
				Start:  a.Point(),
				End:    b.Point(),
				StartT: a.T,
				EndT:   b.T,
			})
		}
	}
	return out
}

// PoseAt returns the interpolated pose of traj at t. Times before the
// first knot return the first knot and times after the last return the
// last. ok is false for an empty trajectory.
func PoseAt(traj Trajectory, t int64) (p geom.Point3, ok bool) {
	n := len(traj.Knots)
	if n == 0 {
		return geom.Point3{}, false
	}
	if t <= traj.Knots[0].T {
		return traj.Knots[0].Point(), true
	}
	for i := 0; i+1 < n; i++ {
		a, b := traj.Knots[i], traj.Knots[i+1]
		if t <= b.T {
			return Evaluate(a, b, t), true
		}
	}
	return traj.Knots[n-1].Point(), true
}

// Polyline returns the planar knot positions of traj, the form used by
// the layout intersection test.
func Polyline(traj Trajectory) []r2.Vec {
	out := make([]r2.Vec, len(traj.Knots))
	for i, k := range traj.Knots {
		out[i] = r2.Vec{X: k.Position[AxisX], Y: k.Position[AxisY]}
	}
	return out
}
