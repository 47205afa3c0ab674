package localizer

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/fleet-overlay/internal/geom"
)

// headingEpsilon perturbs a zero-length marker heading before normalising.
// A zero heading only occurs when the marker normal is exactly vertical.
const headingEpsilon = 1e-4

// markerHeading returns the direction pointing into the marker face,
// projected onto the horizontal plane. The marker's local +Y axis is its
// outward normal.
func markerHeading(markerPose geom.Mat4) r3.Vec {
	n := markerPose.Column(1)
	return r3.Vec{X: -n.X, Y: -n.Y}
}

// pointXAxisAt returns a rotation whose local x-axis points along heading
// and whose z-axis stays vertical.
func pointXAxisAt(heading r3.Vec) geom.Mat4 {
	heading.Z = 0
	if r3.Norm2(heading) == 0 {
		heading.X += headingEpsilon
	}
	x := r3.Unit(heading)
	y := r3.Unit(r3.Cross(geom.Up, x))
	z := r3.Cross(x, y)
	return geom.FromAxes(x, y, z, r3.Vec{})
}

// solveTranslation completes rotation so that markerPos lands on target.
func solveTranslation(rotation geom.Mat4, markerPos, target r3.Vec) geom.Mat4 {
	rotated := rotation.Rotate(markerPos)
	offset := r3.Sub(target, rotated)
	return rotation.WithTranslation(offset)
}

// ComputeAlignment returns the device-to-world transform that places the
// marker at (robot.X, robot.Y, markerHeight) with its heading along
// robot.Yaw.
func ComputeAlignment(markerPose geom.Mat4, robot geom.Pose2D, markerHeight float64) geom.Mat4 {
	r1 := pointXAxisAt(markerHeading(markerPose))
	r2 := geom.RotationZ(robot.Yaw)
	rotation := r2.Mul(r1.Transpose())

	target := r3.Vec{X: robot.X, Y: robot.Y, Z: markerHeight}
	return solveTranslation(rotation, markerPose.Translation(), target)
}

// PredictMarker maps the marker through alignment and returns its planar
// pose in the world frame.
func PredictMarker(alignment, markerPose geom.Mat4) geom.Pose2D {
	p := alignment.Apply(markerPose.Translation())
	h := alignment.Rotate(markerHeading(markerPose))
	return geom.Pose2D{X: p.X, Y: p.Y, Yaw: geom.Heading(h)}
}

// correctRotation applies a yaw correction of -rotationError to alignment
// and re-solves the translation against the robot.
func correctRotation(alignment, markerPose geom.Mat4, robot geom.Pose2D, rotationError, markerHeight float64) geom.Mat4 {
	rotation := geom.RotationZ(-rotationError).Mul(alignment.Rotation())
	target := r3.Vec{X: robot.X, Y: robot.Y, Z: markerHeight}
	return solveTranslation(rotation, markerPose.Translation(), target)
}
