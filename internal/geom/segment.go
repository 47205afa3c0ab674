package geom

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// collinearEpsilon absorbs rounding in the orientation cross product.
const collinearEpsilon = 1e-12

// Orientation classifies the turn p -> q -> r.
type Orientation int

const (
	Collinear        Orientation = 0
	Clockwise        Orientation = 1
	CounterClockwise Orientation = -1
)

// Orient returns the orientation of the ordered triple (p, q, r) from the
// sign of (q-p) × (r-q).
func Orient(p, q, r r2.Vec) Orientation {
	v := r2.Cross(r2.Sub(q, p), r2.Sub(r, q))
	switch {
	case math.Abs(v) <= collinearEpsilon:
		return Collinear
	case v < 0:
		return Clockwise
	default:
		return CounterClockwise
	}
}

// onSegment reports whether q lies within the bounding box of p-r. Only
// meaningful when p, q, r are collinear.
func onSegment(p, q, r r2.Vec) bool {
	return q.X <= math.Max(p.X, r.X) && q.X >= math.Min(p.X, r.X) &&
		q.Y <= math.Max(p.Y, r.Y) && q.Y >= math.Min(p.Y, r.Y)
}

// SegmentsIntersect reports whether segments p1-q1 and p2-q2 share a point.
func SegmentsIntersect(p1, q1, p2, q2 r2.Vec) bool {
	o1 := Orient(p1, q1, p2)
	o2 := Orient(p1, q1, q2)
	o3 := Orient(p2, q2, p1)
	o4 := Orient(p2, q2, q1)

	if o1 != o2 && o3 != o4 {
		return true
	}

	switch {
	case o1 == Collinear && onSegment(p1, p2, q1):
		return true
	case o2 == Collinear && onSegment(p1, q2, q1):
		return true
	case o3 == Collinear && onSegment(p2, p1, q2):
		return true
	case o4 == Collinear && onSegment(p2, q1, q2):
		return true
	}
	return false
}

// PolylinesIntersect reports whether any segment of a crosses any segment
// of b. Polylines with fewer than two vertices never intersect.
func PolylinesIntersect(a, b []r2.Vec) bool {
	for i := 0; i+1 < len(a); i++ {
		for j := 0; j+1 < len(b); j++ {
			if SegmentsIntersect(a[i], a[i+1], b[j], b[j+1]) {
				return true
			}
		}
	}
	return false
}
