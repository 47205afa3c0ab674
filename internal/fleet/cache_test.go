package fleet

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/fleet-overlay/internal/geom"
)

func TestCache_StateAndSightingAreIndependent(t *testing.T) {
	c := NewCache()
	seen := time.Unix(100, 0)

	c.RecordSighting("tinyRobot1", true, seen)
	c.UpdateStates([]State{{
		Name:      "tinyRobot1",
		FleetName: "tinyRobot",
		Pose:      geom.Pose2D{X: 1, Y: 2, Yaw: 0.5},
		LevelName: "L1",
		Mode:      "Idle",
	}})

	r, ok := c.Get("tinyRobot1")
	require.True(t, ok)
	assert.True(t, r.IsCurrentlyTracked)
	assert.Equal(t, seen, r.LastSeen)
	assert.Equal(t, geom.Pose2D{X: 1, Y: 2, Yaw: 0.5}, r.LatestPose)
	assert.Equal(t, "L1", r.LevelName)

	// A later state refresh must not clear the sighting.
	c.UpdateStates([]State{{Name: "tinyRobot1", Mode: "Moving"}})
	r, _ = c.Get("tinyRobot1")
	assert.True(t, r.IsCurrentlyTracked)
	assert.True(t, r.IsMoving())
}

func TestCache_Candidates(t *testing.T) {
	c := NewCache()
	c.UpdateStates([]State{{Name: "b"}, {Name: "a"}, {Name: "unsighted"}})
	c.RecordSighting("b", true, time.Unix(1, 0))
	c.RecordSighting("a", false, time.Unix(2, 0))
	c.RecordSighting("stateless", true, time.Unix(3, 0))

	got := c.Candidates()
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Name)
	assert.Equal(t, "b", got[1].Name)
}

func TestCache_SnapshotIsCopy(t *testing.T) {
	c := NewCache()
	c.UpdateStates([]State{{Name: "r", Assignments: []string{"task-1"}}})
	snap := c.Snapshot()
	r := snap["r"]
	r.Tasks[0] = "mutated"
	got, _ := c.Get("r")
	assert.Equal(t, []string{"task-1"}, got.Tasks)
}

func TestCache_ConcurrentWriters(t *testing.T) {
	c := NewCache()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		name := fmt.Sprintf("robot-%d", i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.UpdateStates([]State{{Name: name, Pose: geom.Pose2D{X: float64(j)}}})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.RecordSighting(name, j%2 == 0, time.Unix(int64(j), 0))
				_ = c.Snapshot()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 8, c.Len())
}

func TestTrackedRobot_IsMoving(t *testing.T) {
	tests := map[string]bool{
		"Moving":        true,
		"MODE_MOVING":   true,
		"Idle":          false,
		"Charging":      false,
		"":              false,
		"moving/paused": true,
	}
	for mode, want := range tests {
		if got := (TrackedRobot{Mode: mode}).IsMoving(); got != want {
			t.Errorf("IsMoving(%q) = %v, want %v", mode, got, want)
		}
	}
}
