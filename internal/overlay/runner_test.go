package overlay

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/fleet-overlay/internal/config"
	"github.com/banshee-data/fleet-overlay/internal/rmf"
	"github.com/banshee-data/fleet-overlay/internal/timeutil"
)

type fakeRobots struct {
	mu     sync.Mutex
	calls  int
	states []rmf.RobotState
	err    error
	onCall func(n int)
}

func (f *fakeRobots) RobotStates(context.Context) ([]rmf.RobotState, error) {
	f.mu.Lock()
	f.calls++
	n, states, err, hook := f.calls, f.states, f.err, f.onCall
	f.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return states, err
}

func (f *fakeRobots) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeTrajectories struct {
	mu       sync.Mutex
	maps     []string
	batch    rmf.Batch
	err      error
	duration int64
	trim     bool
}

func (f *fakeTrajectories) Fetch(_ context.Context, mapName string, durationMs int64, trim bool) (rmf.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.maps = append(f.maps, mapName)
	f.duration, f.trim = durationMs, trim
	return f.batch, f.err
}

func newTestRunner(t *testing.T) (*Runner, *fakeRobots, *fakeTrajectories, *recordingSink) {
	t.Helper()
	s, cache, clock, sink := newTestSession(t)
	robots := &fakeRobots{states: []rmf.RobotState{{
		RobotName: "tinyRobot1", FleetName: "tinyRobot", LocationX: 1, LocationY: 2,
		LevelName: "L1", Mode: "MODE_IDLE",
	}}}
	trajs := &fakeTrajectories{batch: crossingBatch()}
	return &Runner{Session: s, Cache: cache, Robots: robots, Trajectories: trajs, Clock: clock}, robots, trajs, sink
}

func TestRunner_PollRobots(t *testing.T) {
	r, _, _, _ := newTestRunner(t)

	require.NoError(t, r.PollRobots(context.Background()))
	got, ok := r.Cache.Get("tinyRobot1")
	require.True(t, ok)
	assert.True(t, got.HasState)
	assert.Equal(t, 2.0, got.LatestPose.Y)
	assert.Equal(t, "L1", got.LevelName)
}

func TestRunner_PollRobotsError(t *testing.T) {
	r, robots, _, _ := newTestRunner(t)
	robots.err = errors.New("connection refused")

	assert.Error(t, r.PollRobots(context.Background()))
	assert.Equal(t, 0, r.Cache.Len())
}

func TestRunner_PollTrajectoriesNeedsLevel(t *testing.T) {
	r, _, trajs, _ := newTestRunner(t)

	err := r.PollTrajectories(context.Background())
	assert.ErrorIs(t, err, ErrNoLevel)
	assert.Empty(t, trajs.maps)
}

func TestRunner_PollTrajectoriesAfterLocalization(t *testing.T) {
	r, _, trajs, sink := newTestRunner(t)
	require.NoError(t, r.PollRobots(context.Background()))
	r.Session.HandleSighting(Sighting{Name: "tinyRobot1", Transform: markerAt(r3.Vec{}, 0), Tracked: true})

	require.NoError(t, r.PollTrajectories(context.Background()))
	assert.Equal(t, []string{"L1"}, trajs.maps)
	assert.Equal(t, int64(60000), trajs.duration)
	assert.True(t, trajs.trim)

	frames := sink.Frames()
	require.Len(t, frames, 2)
	last := frames[1]
	assert.True(t, last.Localized)
	assert.Len(t, last.Items, 2)
	assert.Nil(t, last.WorldOrigin)

	trajs.err = errors.New("server gone")
	assert.ErrorContains(t, r.PollTrajectories(context.Background()), "server gone")
}

func TestRunner_Run(t *testing.T) {
	r, robots, _, _ := newTestRunner(t)
	clock := r.Clock.(interface{ Advance(time.Duration) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// Both pollers run once immediately.
	assert.Eventually(t, func() bool { return robots.Calls() == 1 }, time.Second, time.Millisecond)

	assert.Eventually(t, func() bool {
		clock.Advance(time.Second)
		return robots.Calls() >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestRunner_RunFollowsTuningReload(t *testing.T) {
	r, robots, _, _ := newTestRunner(t)
	clock := r.Clock.(*timeutil.MockClock)
	robots.onCall = func(n int) {
		if n == 1 {
			slow := config.EmptyTuningConfig()
			interval := "5s"
			slow.RobotPollInterval = &interval
			r.Session.SetTuning(slow)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return robots.Calls() == 1 && slices.Contains(clock.TickerIntervals(), 5*time.Second)
	}, time.Second, time.Millisecond)

	for i := 0; i < 4; i++ {
		clock.Advance(time.Second)
	}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, robots.Calls(), "robot poll ran before the reloaded interval elapsed")

	clock.Advance(time.Second)
	assert.Eventually(t, func() bool { return robots.Calls() == 2 }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}
