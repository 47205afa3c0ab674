package localizer

import (
	"github.com/banshee-data/fleet-overlay/internal/fleet"
)

// SelectReferenceRobot picks the robot to localize against: tracked, not
// moving, and most recently sighted. Ties on LastSeen go to the smaller
// name. ok is false when no robot qualifies.
func SelectReferenceRobot(candidates []fleet.TrackedRobot) (best fleet.TrackedRobot, ok bool) {
	for _, r := range candidates {
		if !r.IsCurrentlyTracked || r.IsMoving() {
			continue
		}
		if !ok || r.LastSeen.After(best.LastSeen) ||
			(r.LastSeen.Equal(best.LastSeen) && r.Name < best.Name) {
			best, ok = r, true
		}
	}
	return best, ok
}
