package localizer

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/fleet-overlay/internal/config"
	"github.com/banshee-data/fleet-overlay/internal/fleet"
	"github.com/banshee-data/fleet-overlay/internal/geom"
)

const eps = 1e-9

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// markerAt returns a device-frame marker pose at pos whose face points
// back along facing: the direction into the marker has yaw facing.
func markerAt(pos r3.Vec, facing float64) geom.Mat4 {
	s, c := math.Sincos(facing)
	y := r3.Vec{X: -c, Y: -s}
	z := geom.Up
	x := r3.Cross(y, z)
	return geom.FromAxes(x, y, z, pos)
}

func testConfig() Config {
	return Config{
		UpdateRate:              1,
		DistanceThreshold:       0.3,
		AngularThreshold:        10 * math.Pi / 180,
		RelocalizationThreshold: 5,
		MarkerHeight:            1.0,
	}
}

func TestComputeAlignment_MapsMarkerOntoRobot(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		marker geom.Mat4
		robot  geom.Pose2D
	}{
		{"identity frames", markerAt(r3.Vec{}, 0), geom.Pose2D{}},
		{"offset marker", markerAt(r3.Vec{X: 2, Y: -1, Z: 0.4}, 0.3), geom.Pose2D{X: 10, Y: 5, Yaw: 1.2}},
		{"opposite headings", markerAt(r3.Vec{X: -3, Y: 4, Z: 1.5}, math.Pi-0.1), geom.Pose2D{X: -7, Y: 2, Yaw: -2.9}},
		{"tilted marker", markerAt(r3.Vec{X: 1, Y: 1, Z: 1}, -2.0).Mul(geom.FromQuat(quat.Number{Real: math.Cos(0.15), Imag: math.Sin(0.15)}, r3.Vec{})), geom.Pose2D{X: 0.5, Y: 0.5, Yaw: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := ComputeAlignment(tt.marker, tt.robot, 1.0)
			require.True(t, a.IsRigid(), "alignment not rigid: %v", a)

			p := a.Apply(tt.marker.Translation())
			assert.InDelta(t, tt.robot.X, p.X, eps)
			assert.InDelta(t, tt.robot.Y, p.Y, eps)
			assert.InDelta(t, 1.0, p.Z, eps)

			pred := PredictMarker(a, tt.marker)
			assert.InDelta(t, 0, geom.AngleDiff(pred.Yaw, tt.robot.Yaw), eps)
		})
	}
}

func TestComputeAlignment_DegenerateHeading(t *testing.T) {
	t.Parallel()

	// Marker lying flat: its outward normal points straight up.
	flat := geom.FromAxes(
		r3.Vec{X: 1},
		r3.Vec{Z: 1},
		r3.Vec{Y: -1},
		r3.Vec{X: 1, Y: 2, Z: 0},
	)
	require.True(t, flat.IsRigid())

	a := ComputeAlignment(flat, geom.Pose2D{X: 3, Y: 4, Yaw: 0.5}, 1.0)
	for i, v := range a {
		require.False(t, math.IsNaN(v) || math.IsInf(v, 0), "element %d is %v", i, v)
	}
	assert.True(t, a.IsRigid())

	p := a.Apply(flat.Translation())
	assert.InDelta(t, 3, p.X, eps)
	assert.InDelta(t, 4, p.Y, eps)
}

func TestTick_FirstLocalizationEmitsEvent(t *testing.T) {
	t.Parallel()

	l := New(testConfig())
	assert.Equal(t, Unlocalized, l.State())
	_, ok := l.Active()
	assert.False(t, ok)

	ref := Reference{Name: "tinyRobot1", Pose: geom.Pose2D{X: 4, Y: 2, Yaw: 0.7}, LevelName: "L1"}
	res := l.Tick(Observation{Name: "tinyRobot1", Pose: markerAt(r3.Vec{X: 1}, 0), Tracked: true}, ref, t0)

	assert.Equal(t, ActionLocalized, res.Action)
	require.NotNil(t, res.Alignment)
	require.NotNil(t, res.Event)
	assert.Equal(t, "L1", res.Event.LevelName)
	assert.Equal(t, uint64(1), res.Alignment.Generation)
	assert.Equal(t, ReasonInitial, res.Alignment.Reason)
	assert.Equal(t, Localized, l.State())

	active, ok := l.Active()
	require.True(t, ok)
	assert.Equal(t, res.Alignment.Transform, active.Transform)
}

func TestTick_RateLimit(t *testing.T) {
	t.Parallel()

	l := New(testConfig())
	ref := Reference{Name: "r", Pose: geom.Pose2D{}}
	obs := Observation{Name: "r", Pose: markerAt(r3.Vec{}, 0), Tracked: true}

	require.Equal(t, ActionLocalized, l.Tick(obs, ref, t0).Action)
	before, _ := l.Active()

	drifted := Observation{Name: "r", Pose: markerAt(r3.Vec{X: 5}, 0), Tracked: true}
	res := l.Tick(drifted, ref, t0.Add(500*time.Millisecond))
	assert.Equal(t, ActionSkipped, res.Action)
	assert.Equal(t, 0, l.Counter())

	after, _ := l.Active()
	assert.Equal(t, before, after)

	res = l.Tick(drifted, ref, t0.Add(time.Second))
	assert.Equal(t, ActionDrifting, res.Action)
	assert.Equal(t, 1, l.Counter())
}

func TestTick_RelocalizationDebounce(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	l := New(cfg)
	ref := Reference{Name: "r", Pose: geom.Pose2D{X: 1, Y: 1, Yaw: 0}, LevelName: "L1"}
	good := Observation{Name: "r", Pose: markerAt(r3.Vec{}, 0), Tracked: true}
	drifted := Observation{Name: "r", Pose: markerAt(r3.Vec{X: 1.0}, 0), Tracked: true}

	now := t0
	step := func(obs Observation) Result {
		r := l.Tick(obs, ref, now)
		now = now.Add(time.Second)
		return r
	}

	require.Equal(t, ActionLocalized, step(good).Action)
	initial, _ := l.Active()

	for i := 1; i < cfg.RelocalizationThreshold; i++ {
		res := step(drifted)
		require.Equal(t, ActionDrifting, res.Action, "reading %d", i)
		assert.Nil(t, res.Alignment)
		assert.InDelta(t, 1.0, res.PositionError, eps)
		assert.Equal(t, i, l.Counter())

		active, _ := l.Active()
		assert.Equal(t, initial, active, "transform changed after %d readings", i)
	}

	res := step(drifted)
	require.Equal(t, ActionRelocalized, res.Action)
	require.NotNil(t, res.Alignment)
	assert.Nil(t, res.Event, "world origin event is only emitted on first localization")
	assert.Equal(t, uint64(2), res.Alignment.Generation)
	assert.Equal(t, ReasonRelocalized, res.Alignment.Reason)
	assert.Equal(t, 0, l.Counter())

	// The corrected transform agrees with the drifted reading.
	res = step(drifted)
	assert.Equal(t, ActionAligned, res.Action)
	assert.InDelta(t, 0, res.PositionError, eps)
}

func TestTick_InThresholdReadingResetsCounter(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	l := New(cfg)
	ref := Reference{Name: "r", Pose: geom.Pose2D{}}
	good := Observation{Name: "r", Pose: markerAt(r3.Vec{}, 0), Tracked: true}
	drifted := Observation{Name: "r", Pose: markerAt(r3.Vec{Y: 0.5}, 0), Tracked: true}

	now := t0
	step := func(obs Observation) Result {
		r := l.Tick(obs, ref, now)
		now = now.Add(time.Second)
		return r
	}

	require.Equal(t, ActionLocalized, step(good).Action)
	initial, _ := l.Active()

	for i := 0; i < cfg.RelocalizationThreshold-1; i++ {
		step(drifted)
	}
	require.Equal(t, cfg.RelocalizationThreshold-1, l.Counter())

	assert.Equal(t, ActionAligned, step(good).Action)
	assert.Equal(t, 0, l.Counter())

	for i := 0; i < cfg.RelocalizationThreshold-1; i++ {
		assert.Equal(t, ActionDrifting, step(drifted).Action)
	}
	active, _ := l.Active()
	assert.Equal(t, initial, active)
}

func TestTick_RotationDriftCorrectsHeading(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.RelocalizationThreshold = 1
	l := New(cfg)
	ref := Reference{Name: "r", Pose: geom.Pose2D{X: 2, Y: 3, Yaw: 0.4}}

	require.Equal(t, ActionLocalized, l.Tick(Observation{Pose: markerAt(r3.Vec{X: 1}, 0)}, ref, t0).Action)

	turned := markerAt(r3.Vec{X: 1}, 20*math.Pi/180)
	res := l.Tick(Observation{Pose: turned}, ref, t0.Add(time.Second))
	require.Equal(t, ActionRelocalized, res.Action)
	assert.InDelta(t, 20*math.Pi/180, res.RotationError, 1e-6)

	pred := PredictMarker(res.Alignment.Transform, turned)
	assert.InDelta(t, 0, geom.AngleDiff(pred.Yaw, ref.Pose.Yaw), 1e-9)
	assert.InDelta(t, ref.Pose.X, pred.X, 1e-9)
	assert.InDelta(t, ref.Pose.Y, pred.Y, 1e-9)
}

func TestReset(t *testing.T) {
	t.Parallel()

	l := New(testConfig())
	ref := Reference{Name: "r", LevelName: "L2"}
	obs := Observation{Pose: markerAt(r3.Vec{}, 0)}

	require.Equal(t, ActionLocalized, l.Tick(obs, ref, t0).Action)
	l.Reset()
	assert.Equal(t, Unlocalized, l.State())
	_, ok := l.Active()
	assert.False(t, ok)

	// A reset session localizes again immediately and emits a new event.
	res := l.Tick(obs, ref, t0.Add(10*time.Millisecond))
	require.Equal(t, ActionLocalized, res.Action)
	require.NotNil(t, res.Event)
	assert.Equal(t, uint64(2), res.Alignment.Generation)
}

func TestConfigFromTuning(t *testing.T) {
	cfg := ConfigFromTuning(config.MustLoadDefaultConfig())
	assert.Equal(t, 1.0, cfg.UpdateRate)
	assert.Equal(t, 5, cfg.RelocalizationThreshold)
	assert.True(t, scalar.EqualWithinAbs(cfg.AngularThreshold, 10*math.Pi/180, eps))
	assert.Equal(t, time.Second, cfg.minInterval())
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestSelectReferenceRobot(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		candidates []fleet.TrackedRobot
		want       string
		wantOK     bool
	}{
		{name: "empty", wantOK: false},
		{
			name: "untracked robots are ignored",
			candidates: []fleet.TrackedRobot{
				{Name: "a", LastSeen: t0, IsCurrentlyTracked: false},
			},
			wantOK: false,
		},
		{
			name: "moving robots are ignored",
			candidates: []fleet.TrackedRobot{
				{Name: "a", Mode: "MODE_MOVING", LastSeen: t0.Add(time.Second), IsCurrentlyTracked: true},
				{Name: "b", Mode: "MODE_IDLE", LastSeen: t0, IsCurrentlyTracked: true},
			},
			want: "b", wantOK: true,
		},
		{
			name: "most recently seen wins",
			candidates: []fleet.TrackedRobot{
				{Name: "a", LastSeen: t0, IsCurrentlyTracked: true},
				{Name: "b", LastSeen: t0.Add(2 * time.Second), IsCurrentlyTracked: true},
				{Name: "c", LastSeen: t0.Add(time.Second), IsCurrentlyTracked: true},
			},
			want: "b", wantOK: true,
		},
		{
			name: "ties go to the smaller name",
			candidates: []fleet.TrackedRobot{
				{Name: "zeta", LastSeen: t0, IsCurrentlyTracked: true},
				{Name: "alpha", LastSeen: t0, IsCurrentlyTracked: true},
			},
			want: "alpha", wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SelectReferenceRobot(tt.candidates)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got.Name)
			}
		})
	}
}
