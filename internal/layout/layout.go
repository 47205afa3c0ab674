// Package layout assigns overlapping trajectories to separate height levels
// so their paths stay distinguishable when drawn, and flags trajectories
// the trajectory server reported as conflicting.
//
// Height levels only have meaning within one Layout call. They are rebuilt
// from scratch every cycle.
package layout

import (
	"sort"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/fleet-overlay/internal/geom"
	"github.com/banshee-data/fleet-overlay/internal/trajectory"
)

type pair struct{ a, b int }

func orderedPair(a, b int) pair {
	if a > b {
		a, b = b, a
	}
	return pair{a, b}
}

// ConflictSet is a set of unordered trajectory id pairs.
type ConflictSet struct {
	pairs   map[pair]struct{}
	members map[int]struct{}
}

// NewConflictSet builds a set from the server's conflict groups. Each group
// lists ids that mutually conflict; a group of more than two ids adds every
// pair. Groups with fewer than two ids and self pairs are ignored.
func NewConflictSet(groups [][]int) ConflictSet {
	cs := ConflictSet{pairs: make(map[pair]struct{}), members: make(map[int]struct{})}
	for _, g := range groups {
		for i := 0; i < len(g); i++ {
			for j := i + 1; j < len(g); j++ {
				cs.Add(g[i], g[j])
			}
		}
	}
	return cs
}

// Add records that a and b conflict.
func (cs *ConflictSet) Add(a, b int) {
	if a == b {
		return
	}
	if cs.pairs == nil {
		cs.pairs = make(map[pair]struct{})
		cs.members = make(map[int]struct{})
	}
	cs.pairs[orderedPair(a, b)] = struct{}{}
	cs.members[a] = struct{}{}
	cs.members[b] = struct{}{}
}

// Contains reports whether a and b conflict.
func (cs ConflictSet) Contains(a, b int) bool {
	_, ok := cs.pairs[orderedPair(a, b)]
	return ok
}

// Involves reports whether id appears in any pair.
func (cs ConflictSet) Involves(id int) bool {
	_, ok := cs.members[id]
	return ok
}

// Len returns the number of pairs.
func (cs ConflictSet) Len() int { return len(cs.pairs) }

// Pairs returns the pairs sorted, smaller id first.
func (cs ConflictSet) Pairs() [][2]int {
	out := make([][2]int, 0, len(cs.pairs))
	for p := range cs.pairs {
		out = append(out, [2]int{p.a, p.b})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0] < out[j][0]
		}
		return out[i][1] < out[j][1]
	})
	return out
}

// restrict drops pairs naming ids outside known.
func (cs ConflictSet) restrict(known map[int]struct{}) ConflictSet {
	var out ConflictSet
	for p := range cs.pairs {
		_, okA := known[p.a]
		_, okB := known[p.b]
		if okA && okB {
			out.Add(p.a, p.b)
		}
	}
	return out
}

// Assignment is the layout decision for one trajectory.
type Assignment struct {
	TrajectoryID  int  `json:"trajectory_id"`
	HeightLevel   int  `json:"height_level"`
	IsConflicting bool `json:"is_conflicting"`
}

// IsIntersecting reports whether any segment of a crosses any segment of b.
func IsIntersecting(a, b trajectory.Trajectory) bool {
	return geom.PolylinesIntersect(trajectory.Polyline(a), trajectory.Polyline(b))
}

// Layout assigns every drawable trajectory a height level such that no two
// trajectories on the same level intersect. Trajectories are placed in
// ascending id order, each on the lowest level where it fits. The result
// is ordered by id. Trajectories with fewer than two knots are left out of
// the result but still count as conflict partners; conflict pairs naming
// ids absent from trajectories are ignored.
func Layout(trajectories []trajectory.Trajectory, conflicts ConflictSet) []Assignment {
	drawable := make([]trajectory.Trajectory, 0, len(trajectories))
	known := make(map[int]struct{}, len(trajectories))
	for _, t := range trajectories {
		known[t.ID] = struct{}{}
		if t.Drawable() {
			drawable = append(drawable, t)
		}
	}
	sort.SliceStable(drawable, func(i, j int) bool { return drawable[i].ID < drawable[j].ID })
	conflicts = conflicts.restrict(known)

	polylines := make([][]r2.Vec, len(drawable))
	for i, t := range drawable {
		polylines[i] = trajectory.Polyline(t)
	}

	// levels[h] holds indexes into drawable placed at height h.
	maxLevel := len(drawable)
	levels := make([][]int, 0, 1)
	out := make([]Assignment, 0, len(drawable))
	for i, t := range drawable {
		h := 0
		for ; h < maxLevel; h++ {
			if h == len(levels) {
				levels = append(levels, nil)
			}
			if fits(polylines, levels[h], i) {
				break
			}
		}
		if h == maxLevel {
			// Unreachable: each earlier trajectory occupies at most one
			// level, so some level below maxLevel is free.
			h = maxLevel - 1
		}
		levels[h] = append(levels[h], i)
		out = append(out, Assignment{
			TrajectoryID:  t.ID,
			HeightLevel:   h,
			IsConflicting: conflicts.Involves(t.ID),
		})
	}
	return out
}

func fits(polylines [][]r2.Vec, placed []int, candidate int) bool {
	for _, j := range placed {
		if geom.PolylinesIntersect(polylines[j], polylines[candidate]) {
			return false
		}
	}
	return true
}
