// Package geom holds the vector, rigid-transform and planar intersection
// primitives shared by the localizer and the layout engine.
//
// Frames are gravity aligned with +Z up. Transforms are 4x4 row-major
// matrices stored as [16]float64: m00,m01,m02,m03, m10,...
package geom

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// MatrixValidationTolerance is the tolerance for checking rotation matrix validity.
const MatrixValidationTolerance = 0.01

// Up is the vertical axis shared by the device and world frames.
var Up = r3.Vec{Z: 1}

// Mat4 is a row-major 4x4 rigid transform.
type Mat4 [16]float64

// Identity returns the identity transform.
func Identity() Mat4 {
	return Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// At returns the element at row i, column j.
func (m Mat4) At(i, j int) float64 { return m[i*4+j] }

// Column returns the first three components of column j. Columns 0..2 are
// the frame's axes, column 3 its origin.
func (m Mat4) Column(j int) r3.Vec {
	return r3.Vec{X: m[j], Y: m[4+j], Z: m[8+j]}
}

// Translation returns the translation component.
func (m Mat4) Translation() r3.Vec { return m.Column(3) }

// FromAxes builds a transform whose rotation columns are x, y, z and whose
// origin is t.
func FromAxes(x, y, z, t r3.Vec) Mat4 {
	return Mat4{
		x.X, y.X, z.X, t.X,
		x.Y, y.Y, z.Y, t.Y,
		x.Z, y.Z, z.Z, t.Z,
		0, 0, 0, 1,
	}
}

// RotationZ returns a rotation of yaw radians about the vertical axis.
func RotationZ(yaw float64) Mat4 {
	s, c := math.Sincos(yaw)
	return Mat4{
		c, -s, 0, 0,
		s, c, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Mul returns m·n.
func (m Mat4) Mul(n Mat4) Mat4 {
	var out Mat4
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += m[i*4+k] * n[k*4+j]
			}
			out[i*4+j] = sum
		}
	}
	return out
}

// Rotation returns m with its translation cleared.
func (m Mat4) Rotation() Mat4 {
	m[3], m[7], m[11] = 0, 0, 0
	return m
}

// Transpose returns the transpose of the 3x3 rotation block; the
// translation of the result is zero.
func (m Mat4) Transpose() Mat4 {
	return Mat4{
		m[0], m[4], m[8], 0,
		m[1], m[5], m[9], 0,
		m[2], m[6], m[10], 0,
		0, 0, 0, 1,
	}
}

// WithTranslation returns m with its translation replaced by t.
func (m Mat4) WithTranslation(t r3.Vec) Mat4 {
	m[3], m[7], m[11] = t.X, t.Y, t.Z
	return m
}

// Inverse returns the inverse of a rigid transform.
func (m Mat4) Inverse() Mat4 {
	rt := m.Transpose()
	t := rt.Rotate(m.Translation())
	return rt.WithTranslation(r3.Scale(-1, t))
}

// Apply transforms point p.
func (m Mat4) Apply(p r3.Vec) r3.Vec {
	return r3.Vec{
		X: m[0]*p.X + m[1]*p.Y + m[2]*p.Z + m[3],
		Y: m[4]*p.X + m[5]*p.Y + m[6]*p.Z + m[7],
		Z: m[8]*p.X + m[9]*p.Y + m[10]*p.Z + m[11],
	}
}

// Rotate applies only the rotation block to direction v.
func (m Mat4) Rotate(v r3.Vec) r3.Vec {
	return r3.Vec{
		X: m[0]*v.X + m[1]*v.Y + m[2]*v.Z,
		Y: m[4]*v.X + m[5]*v.Y + m[6]*v.Z,
		Z: m[8]*v.X + m[9]*v.Y + m[10]*v.Z,
	}
}

// IsRigid reports whether m has an orthonormal, right-handed rotation block
// and a [0 0 0 1] last row.
func (m Mat4) IsRigid() bool {
	x, y, z := m.Column(0), m.Column(1), m.Column(2)
	for _, n := range []float64{r3.Norm(x), r3.Norm(y), r3.Norm(z)} {
		if math.Abs(n-1) > MatrixValidationTolerance {
			return false
		}
	}
	if math.Abs(r3.Dot(r3.Cross(x, y), z)-1) > MatrixValidationTolerance {
		return false
	}
	if m[12] != 0 || m[13] != 0 || m[14] != 0 || math.Abs(m[15]-1) > 0.001 {
		return false
	}
	return true
}

// ApproxEqual reports whether every element of m and n differs by at most tol.
func (m Mat4) ApproxEqual(n Mat4, tol float64) bool {
	for i := range m {
		if math.Abs(m[i]-n[i]) > tol {
			return false
		}
	}
	return true
}

// String formats the matrix one row per line.
func (m Mat4) String() string {
	return fmt.Sprintf("[%.4f %.4f %.4f %.4f; %.4f %.4f %.4f %.4f; %.4f %.4f %.4f %.4f; %.4f %.4f %.4f %.4f]",
		m[0], m[1], m[2], m[3], m[4], m[5], m[6], m[7],
		m[8], m[9], m[10], m[11], m[12], m[13], m[14], m[15])
}
