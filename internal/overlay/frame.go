// Package overlay coordinates one overlay session: it feeds marker
// sightings to the localizer, turns trajectory batches into laid out
// overlay items, and hands the results to publish and persistence sinks.
package overlay

import (
	"github.com/google/uuid"

	"github.com/banshee-data/fleet-overlay/internal/config"
	"github.com/banshee-data/fleet-overlay/internal/geom"
	"github.com/banshee-data/fleet-overlay/internal/layout"
	"github.com/banshee-data/fleet-overlay/internal/localizer"
	"github.com/banshee-data/fleet-overlay/internal/rmf"
	"github.com/banshee-data/fleet-overlay/internal/trajectory"
)

// RenderConfig controls the vertical placement of overlay items.
type RenderConfig struct {
	ZOffset   float64 // metres above the floor for level 0
	LevelStep float64 // metres between height levels
}

// RenderConfigFromTuning reads the render heights from a tuning document.
func RenderConfigFromTuning(c *config.TuningConfig) RenderConfig {
	return RenderConfig{
		ZOffset:   c.GetTrajectoryZOffsetM(),
		LevelStep: c.GetHeightLevelStepM(),
	}
}

// Height returns the render height of a height level.
func (c RenderConfig) Height(level int) float64 {
	return c.ZOffset + float64(level)*c.LevelStep
}

// Item is one trajectory ready to draw, in world coordinates.
type Item struct {
	TrajectoryID  int                  `json:"trajectory_id"`
	RobotName     string               `json:"robot_name"`
	FleetName     string               `json:"fleet_name"`
	Shape         string               `json:"shape"`
	Dimensions    float64              `json:"dimensions"`
	Pose          geom.Point3          `json:"pose"`
	Segments      []trajectory.Segment `json:"segments"`
	HeightLevel   int                  `json:"height_level"`
	Z             float64              `json:"z"`
	IsConflicting bool                 `json:"is_conflicting"`
	Highlighted   bool                 `json:"highlighted"`
}

// Cycle is the result of reconstructing and laying out one batch. It does
// not depend on localization.
type Cycle struct {
	ServerTimeMs  int64               `json:"server_time_ms"`
	ConflictCount int                 `json:"conflict_count"`
	Assignments   []layout.Assignment `json:"assignments"`
	Items         []Item              `json:"items"`
}

// BuildCycle reconstructs every drawable trajectory of batch at the
// batch's server time and assigns height levels. Items follow the
// assignment order, ascending trajectory id.
func BuildCycle(batch rmf.Batch, cfg RenderConfig) Cycle {
	assignments := layout.Layout(batch.Trajectories, batch.Conflicts)

	byID := make(map[int]trajectory.Trajectory, len(batch.Trajectories))
	for _, t := range batch.Trajectories {
		byID[t.ID] = t
	}

	items := make([]Item, 0, len(assignments))
	for _, a := range assignments {
		t := byID[a.TrajectoryID]
		pose, _ := trajectory.PoseAt(t, batch.ServerTimeMs)
		items = append(items, Item{
			TrajectoryID:  t.ID,
			RobotName:     t.RobotName,
			FleetName:     t.FleetName,
			Shape:         t.Shape,
			Dimensions:    t.Dimensions,
			Pose:          pose,
			Segments:      trajectory.ReconstructVisible(t, batch.ServerTimeMs),
			HeightLevel:   a.HeightLevel,
			Z:             cfg.Height(a.HeightLevel),
			IsConflicting: a.IsConflicting,
		})
	}
	return Cycle{
		ServerTimeMs:  batch.ServerTimeMs,
		ConflictCount: batch.Conflicts.Len(),
		Assignments:   assignments,
		Items:         items,
	}
}

// Frame is what the renderer receives. World-anchored items are only
// present once the session is localized.
type Frame struct {
	ID            string                    `json:"frame_id"`
	Localized     bool                      `json:"localized"`
	Alignment     *localizer.Alignment      `json:"alignment,omitempty"`
	WorldOrigin   *localizer.WorldOriginSet `json:"world_origin,omitempty"`
	LevelName     string                    `json:"level_name"`
	ServerTimeMs  int64                     `json:"server_time_ms"`
	ConflictCount int                       `json:"conflict_count"`
	Assignments   []layout.Assignment       `json:"assignments"`
	Items         []Item                    `json:"items"`
}

func newFrame(c Cycle, active *localizer.Alignment, levelName string) Frame {
	f := Frame{
		ID:            uuid.NewString(),
		LevelName:     levelName,
		ServerTimeMs:  c.ServerTimeMs,
		ConflictCount: c.ConflictCount,
		Assignments:   c.Assignments,
		Items:         []Item{},
	}
	if active != nil {
		a := *active
		f.Localized = true
		f.Alignment = &a
		f.Items = c.Items
	}
	return f
}

// WithHighlight returns a copy of f with the items of robot flagged.
func (f Frame) WithHighlight(robot string) Frame {
	if robot == "" {
		return f
	}
	items := make([]Item, len(f.Items))
	for i, it := range f.Items {
		it.Highlighted = it.RobotName == robot
		items[i] = it
	}
	f.Items = items
	return f
}
