// Package fleet models robots reported by the fleet manager and the shared
// cache that merges network state with marker sightings.
package fleet

import (
	"strings"
	"time"

	"github.com/banshee-data/fleet-overlay/internal/geom"
)

// movingMode is the substring the fleet manager uses for modes in which a
// robot is in motion.
const movingMode = "moving"

// State is the authoritative robot state published by the fleet manager.
type State struct {
	Name           string
	FleetName      string
	BatteryPercent float64
	Pose           geom.Pose2D
	LevelName      string
	Mode           string
	Assignments    []string
}

// TrackedRobot joins a robot's latest fleet state with its marker sightings.
type TrackedRobot struct {
	Name       string
	FleetName  string
	LatestPose geom.Pose2D
	LevelName  string
	Mode       string
	Battery    float64
	Tasks      []string

	// LastSeen is the time of the most recent marker sighting; zero if the
	// marker has never been sighted.
	LastSeen time.Time
	// IsCurrentlyTracked is the tracked flag from the latest sighting.
	IsCurrentlyTracked bool
	// HasState is false until the fleet manager has reported the robot.
	HasState bool
}

// IsMoving reports whether the robot's mode indicates active motion.
func (r TrackedRobot) IsMoving() bool {
	return strings.Contains(strings.ToLower(r.Mode), movingMode)
}

// Sighted reports whether the robot's marker has ever been observed.
func (r TrackedRobot) Sighted() bool {
	return !r.LastSeen.IsZero()
}
