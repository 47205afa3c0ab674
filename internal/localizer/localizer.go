// Package localizer keeps the device tracking frame aligned with the fleet
// world frame using robot-mounted fiducial markers.
//
// A Localizer is a single-session state machine. It is not safe for
// concurrent use; the host serializes calls to Tick.
package localizer

import (
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/fleet-overlay/internal/config"
	"github.com/banshee-data/fleet-overlay/internal/fleet"
	"github.com/banshee-data/fleet-overlay/internal/geom"
)

// State is the localization state of a session.
type State int

const (
	Unlocalized State = iota
	Localized
)

func (s State) String() string {
	switch s {
	case Unlocalized:
		return "unlocalized"
	case Localized:
		return "localized"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Reason records why an alignment was published.
type Reason string

const (
	ReasonInitial     Reason = "initial"
	ReasonRelocalized Reason = "relocalized"
)

// Action describes what a Tick did.
type Action int

const (
	// ActionSkipped means the tick was dropped by the rate limit and
	// changed nothing.
	ActionSkipped Action = iota
	// ActionLocalized means the first alignment was published.
	ActionLocalized
	// ActionAligned means the reading agreed with the active alignment.
	ActionAligned
	// ActionDrifting means the reading exceeded a threshold but the
	// debounce count has not been reached.
	ActionDrifting
	// ActionRelocalized means a replacement alignment was published.
	ActionRelocalized
)

func (a Action) String() string {
	switch a {
	case ActionSkipped:
		return "skipped"
	case ActionLocalized:
		return "localized"
	case ActionAligned:
		return "aligned"
	case ActionDrifting:
		return "drifting"
	case ActionRelocalized:
		return "relocalized"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Config holds the localizer thresholds.
type Config struct {
	UpdateRate              float64 // Hz
	DistanceThreshold       float64 // metres
	AngularThreshold        float64 // radians
	RelocalizationThreshold int     // consecutive unaligned readings
	MarkerHeight            float64 // metres above the floor
}

// DefaultConfig returns the built-in thresholds.
func DefaultConfig() Config {
	return ConfigFromTuning(config.EmptyTuningConfig())
}

// ConfigFromTuning converts a tuning document into localizer thresholds.
func ConfigFromTuning(c *config.TuningConfig) Config {
	return Config{
		UpdateRate:              c.GetUpdateRateHz(),
		DistanceThreshold:       c.GetDistanceThresholdM(),
		AngularThreshold:        c.GetAngularThresholdDeg() * math.Pi / 180,
		RelocalizationThreshold: c.GetRelocalizationThreshold(),
		MarkerHeight:            c.GetMarkerHeightM(),
	}
}

func (c Config) minInterval() time.Duration {
	if c.UpdateRate <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / c.UpdateRate)
}

// Observation is one marker pose reported by the device, in the device's
// local tracking frame. Name is the marker identity, which matches the
// robot name.
type Observation struct {
	Name    string
	Pose    geom.Mat4
	Tracked bool
}

// Reference is the authoritative pose of the robot carrying the observed
// marker.
type Reference struct {
	Name      string
	Pose      geom.Pose2D
	LevelName string
}

// ReferenceFor builds a Reference from a cached robot.
func ReferenceFor(r fleet.TrackedRobot) Reference {
	return Reference{Name: r.Name, Pose: r.LatestPose, LevelName: r.LevelName}
}

// Alignment is a published device-to-world transform. Alignments are never
// modified after publication; relocalization publishes a new one.
type Alignment struct {
	Transform  geom.Mat4 `json:"transform"`
	Generation uint64    `json:"generation"`
	Reason     Reason    `json:"reason"`
	RobotName  string    `json:"robot_name"`
	LevelName  string    `json:"level_name"`
	At         time.Time `json:"at"`
}

// WorldOriginSet is emitted once, on first localization.
type WorldOriginSet struct {
	LevelName string    `json:"level_name"`
	At        time.Time `json:"at"`
}

// Result is the outcome of one Tick.
type Result struct {
	Action Action
	// Alignment is set when a transform was published.
	Alignment *Alignment
	// Event is set on first localization only.
	Event *WorldOriginSet

	PositionError float64
	RotationError float64
	Unaligned     int
}

// Localizer owns the active alignment and the unaligned counter.
type Localizer struct {
	cfg        Config
	state      State
	active     *Alignment
	unaligned  int
	generation uint64
	lastTick   time.Time
	hasTicked  bool
}

// New returns a Localizer in the Unlocalized state.
func New(cfg Config) *Localizer {
	return &Localizer{cfg: cfg}
}

// SetConfig replaces the thresholds. The active alignment and the
// unaligned counter are kept.
func (l *Localizer) SetConfig(cfg Config) { l.cfg = cfg }

// Config returns the current thresholds.
func (l *Localizer) Config() Config { return l.cfg }

// State returns the current localization state.
func (l *Localizer) State() State { return l.state }

// Counter returns the number of consecutive unaligned readings.
func (l *Localizer) Counter() int { return l.unaligned }

// Active returns the published alignment, or false before the first
// localization.
func (l *Localizer) Active() (Alignment, bool) {
	if l.active == nil {
		return Alignment{}, false
	}
	return *l.active, true
}

// Reset discards the active alignment and returns to Unlocalized. The
// generation counter keeps increasing across resets.
func (l *Localizer) Reset() {
	l.state = Unlocalized
	l.active = nil
	l.unaligned = 0
	l.hasTicked = false
}

// Tick processes one observation of the marker on ref's robot. Calls
// arriving sooner than the configured update rate allows are skipped with
// no state change.
func (l *Localizer) Tick(obs Observation, ref Reference, now time.Time) Result {
	if l.hasTicked && now.Sub(l.lastTick) < l.cfg.minInterval() {
		return Result{Action: ActionSkipped, Unaligned: l.unaligned}
	}
	l.lastTick = now
	l.hasTicked = true

	if l.state == Unlocalized {
		a := l.publish(ComputeAlignment(obs.Pose, ref.Pose, l.cfg.MarkerHeight), ReasonInitial, ref, now)
		l.state = Localized
		l.unaligned = 0
		return Result{
			Action:    ActionLocalized,
			Alignment: a,
			Event:     &WorldOriginSet{LevelName: ref.LevelName, At: now},
		}
	}

	predicted := PredictMarker(l.active.Transform, obs.Pose)
	posErr := math.Hypot(predicted.X-ref.Pose.X, predicted.Y-ref.Pose.Y)
	rotErr := geom.AngleDiff(predicted.Yaw, ref.Pose.Yaw)

	res := Result{PositionError: posErr, RotationError: rotErr}
	if posErr <= l.cfg.DistanceThreshold && math.Abs(rotErr) <= l.cfg.AngularThreshold {
		l.unaligned = 0
		res.Action = ActionAligned
		return res
	}

	l.unaligned++
	if l.unaligned < l.cfg.RelocalizationThreshold {
		res.Action = ActionDrifting
		res.Unaligned = l.unaligned
		return res
	}

	corrected := correctRotation(l.active.Transform, obs.Pose, ref.Pose, rotErr, l.cfg.MarkerHeight)
	res.Alignment = l.publish(corrected, ReasonRelocalized, ref, now)
	res.Action = ActionRelocalized
	l.unaligned = 0
	return res
}

func (l *Localizer) publish(t geom.Mat4, reason Reason, ref Reference, now time.Time) *Alignment {
	l.generation++
	a := &Alignment{
		Transform:  t,
		Generation: l.generation,
		Reason:     reason,
		RobotName:  ref.Name,
		LevelName:  ref.LevelName,
		At:         now,
	}
	l.active = a
	cp := *a
	return &cp
}
