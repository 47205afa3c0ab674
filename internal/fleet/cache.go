package fleet

import (
	"sort"
	"sync"
	"time"
)

// Cache is the shared name -> TrackedRobot map. The fleet poller writes
// pose and mode, marker sightings write the tracked flag and LastSeen. Every
// method takes the lock once and returns copies.
type Cache struct {
	mu     sync.Mutex
	robots map[string]*TrackedRobot
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{robots: make(map[string]*TrackedRobot)}
}

func (c *Cache) entry(name string) *TrackedRobot {
	r, ok := c.robots[name]
	if !ok {
		r = &TrackedRobot{Name: name}
		c.robots[name] = r
	}
	return r
}

// UpdateStates upserts fleet-reported state. Sighting fields are untouched.
func (c *Cache) UpdateStates(states []State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range states {
		if s.Name == "" {
			continue
		}
		r := c.entry(s.Name)
		r.FleetName = s.FleetName
		r.LatestPose = s.Pose
		r.LevelName = s.LevelName
		r.Mode = s.Mode
		r.Battery = s.BatteryPercent
		r.Tasks = append([]string(nil), s.Assignments...)
		r.HasState = true
	}
}

// RecordSighting stores a marker sighting for name.
func (c *Cache) RecordSighting(name string, tracked bool, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.entry(name)
	r.IsCurrentlyTracked = tracked
	r.LastSeen = at
}

// Get returns a copy of the named robot.
func (c *Cache) Get(name string) (TrackedRobot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.robots[name]
	if !ok {
		return TrackedRobot{}, false
	}
	return copyRobot(r), true
}

// Snapshot returns a copy of every robot keyed by name.
func (c *Cache) Snapshot() map[string]TrackedRobot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]TrackedRobot, len(c.robots))
	for name, r := range c.robots {
		out[name] = copyRobot(r)
	}
	return out
}

// Candidates returns robots that have both fleet state and at least one
// marker sighting, sorted by name.
func (c *Cache) Candidates() []TrackedRobot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TrackedRobot, 0, len(c.robots))
	for _, r := range c.robots {
		if r.HasState && r.Sighted() {
			out = append(out, copyRobot(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of known robots.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.robots)
}

func copyRobot(r *TrackedRobot) TrackedRobot {
	out := *r
	out.Tasks = append([]string(nil), r.Tasks...)
	return out
}
