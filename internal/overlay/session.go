package overlay

import (
	"sync"
	"time"

	"github.com/banshee-data/fleet-overlay/internal/config"
	"github.com/banshee-data/fleet-overlay/internal/fleet"
	"github.com/banshee-data/fleet-overlay/internal/geom"
	"github.com/banshee-data/fleet-overlay/internal/localizer"
	"github.com/banshee-data/fleet-overlay/internal/monitoring"
	"github.com/banshee-data/fleet-overlay/internal/timeutil"
)

var logger = monitoring.Component("Overlay")

// Device tracking states. The localizer is only ticked under normal
// tracking.
const (
	TrackingNormal       = "normal"
	TrackingLimited      = "limited"
	TrackingNotAvailable = "not_available"
)

// PublishSink sends frames to external consumers.
type PublishSink interface {
	PublishFrame(f Frame)
}

// PersistenceSink writes session outputs to storage.
type PersistenceSink interface {
	PersistAlignment(a localizer.Alignment, res localizer.Result) error
	PersistLayout(f Frame) error
}

// Sighting is one marker report from the device.
type Sighting struct {
	Name string
	// Transform is the marker pose in the device tracking frame.
	Transform geom.Mat4
	Tracked   bool
	// TrackingState is the device's camera tracking quality. Empty is
	// treated as normal.
	TrackingState string
}

// TickOutcome reports what a sighting did to the session.
type TickOutcome struct {
	Ticked     bool             `json:"ticked"`
	SkipReason string           `json:"skip_reason,omitempty"`
	Reference  string           `json:"reference,omitempty"`
	Action     string           `json:"action"`
	Result     localizer.Result `json:"-"`
}

// Session owns the localizer and the latest layout cycle. All methods are
// safe for concurrent use. Publish sinks are called with the session lock
// held and must not call back into the session; persistence sinks run
// after the lock is released.
type Session struct {
	cache *fleet.Cache
	clock timeutil.Clock

	mu      sync.Mutex
	loc     *localizer.Localizer
	tuning  *config.TuningConfig
	render  RenderConfig
	markers map[string]geom.Mat4
	level   string
	cycle   Cycle
	frame   Frame

	publish []PublishSink
	persist []PersistenceSink
}

// NewSession returns an unlocalized session reading robots from cache.
func NewSession(cache *fleet.Cache, tuning *config.TuningConfig, clock timeutil.Clock) *Session {
	if tuning == nil {
		tuning = config.EmptyTuningConfig()
	}
	s := &Session{
		cache:   cache,
		clock:   clock,
		loc:     localizer.New(localizer.ConfigFromTuning(tuning)),
		tuning:  tuning,
		render:  RenderConfigFromTuning(tuning),
		markers: make(map[string]geom.Mat4),
	}
	s.frame = newFrame(Cycle{}, nil, "")
	return s
}

// AddPublishSink registers a frame consumer.
func (s *Session) AddPublishSink(p PublishSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publish = append(s.publish, p)
}

// AddPersistenceSink registers a journal.
func (s *Session) AddPersistenceSink(p PersistenceSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persist = append(s.persist, p)
}

// SetTuning applies a new tuning document. The active alignment and the
// unaligned counter survive.
func (s *Session) SetTuning(c *config.TuningConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tuning = c
	s.loc.SetConfig(localizer.ConfigFromTuning(c))
	s.render = RenderConfigFromTuning(c)
	logger.Logf("tuning updated: %+v", s.loc.Config())
}

// Tuning returns the tuning document in effect.
func (s *Session) Tuning() *config.TuningConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tuning
}

// HandleSighting records a marker sighting in the robot cache and, when
// tracking allows, ticks the localizer against the best reference robot.
// The cache is read before the session lock is taken.
func (s *Session) HandleSighting(sg Sighting) TickOutcome {
	now := s.clock.Now()
	s.cache.RecordSighting(sg.Name, sg.Tracked, now)
	candidates := s.cache.Candidates()

	out, pending := s.tick(sg, candidates, now)
	pending.run()
	return out
}

func (s *Session) tick(sg Sighting, candidates []fleet.TrackedRobot, now time.Time) (TickOutcome, persistence) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.markers[sg.Name] = sg.Transform

	if sg.TrackingState != "" && sg.TrackingState != TrackingNormal {
		return TickOutcome{SkipReason: "tracking " + sg.TrackingState, Action: localizer.ActionSkipped.String()}, persistence{}
	}

	ref, ok := localizer.SelectReferenceRobot(candidates)
	if !ok {
		return TickOutcome{SkipReason: "no reference robot", Action: localizer.ActionSkipped.String()}, persistence{}
	}
	pose, ok := s.markers[ref.Name]
	if !ok {
		return TickOutcome{SkipReason: "no marker pose for " + ref.Name, Action: localizer.ActionSkipped.String()}, persistence{}
	}

	res := s.loc.Tick(localizer.Observation{Name: ref.Name, Pose: pose, Tracked: ref.IsCurrentlyTracked},
		localizer.ReferenceFor(ref), now)
	out := TickOutcome{Ticked: res.Action != localizer.ActionSkipped, Reference: ref.Name, Action: res.Action.String(), Result: res}

	var pending persistence
	switch res.Action {
	case localizer.ActionDrifting:
		logger.Debugf("%s drifting: position error %.3fm, rotation error %.3frad, %d unaligned",
			ref.Name, res.PositionError, res.RotationError, res.Unaligned)
	case localizer.ActionLocalized, localizer.ActionRelocalized:
		pending = s.applyAlignment(*res.Alignment, res)
	}
	return out, pending
}

// persistence is journal work collected under the session lock and run
// after it is released.
type persistence struct {
	sinks     []PersistenceSink
	alignment *localizer.Alignment
	result    localizer.Result
	layout    *Frame
}

func (p persistence) run() {
	for _, sink := range p.sinks {
		if p.alignment != nil {
			if err := sink.PersistAlignment(*p.alignment, p.result); err != nil {
				logger.Logf("failed to persist alignment: %v", err)
			}
		}
		if p.layout != nil {
			if err := sink.PersistLayout(*p.layout); err != nil {
				logger.Logf("failed to persist layout: %v", err)
			}
		}
	}
}

// applyAlignment records a newly published alignment and republishes the
// current cycle under it. Called with mu held.
func (s *Session) applyAlignment(a localizer.Alignment, res localizer.Result) persistence {
	logger.Logf("%s alignment generation %d from %s on level %q (position error %.3fm, rotation error %.3frad)",
		a.Reason, a.Generation, a.RobotName, a.LevelName, res.PositionError, res.RotationError)
	s.level = a.LevelName
	f := newFrame(s.cycle, &a, s.level)
	f.WorldOrigin = res.Event
	s.emit(f)
	return persistence{sinks: s.persistSinks(), alignment: &a, result: res}
}

// ApplyBatch lays out a trajectory batch and publishes the resulting frame.
func (s *Session) ApplyBatch(c Cycle) Frame {
	f, pending := s.applyBatch(c)
	pending.run()
	return f
}

func (s *Session) applyBatch(c Cycle) (Frame, persistence) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cycle = c
	var active *localizer.Alignment
	if a, ok := s.loc.Active(); ok {
		active = &a
	}
	f := newFrame(c, active, s.level)
	s.emit(f)
	return f, persistence{sinks: s.persistSinks(), layout: &f}
}

func (s *Session) persistSinks() []PersistenceSink {
	return append([]PersistenceSink(nil), s.persist...)
}

func (s *Session) emit(f Frame) {
	s.frame = f
	for _, p := range s.publish {
		p.PublishFrame(f)
	}
}

// RenderConfig returns the render heights in effect.
func (s *Session) RenderConfig() RenderConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.render
}

// Frame returns the most recent frame.
func (s *Session) Frame() Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

// LevelName returns the level of the active alignment, or "" before the
// first localization.
func (s *Session) LevelName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

// Status is a snapshot of the localizer for diagnostics.
type Status struct {
	State     string               `json:"state"`
	Unaligned int                  `json:"unaligned"`
	Alignment *localizer.Alignment `json:"alignment,omitempty"`
	LevelName string               `json:"level_name"`
}

// Status returns the current localizer state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{State: s.loc.State().String(), Unaligned: s.loc.Counter(), LevelName: s.level}
	if a, ok := s.loc.Active(); ok {
		st.Alignment = &a
	}
	return st
}

// Reset discards the alignment and republishes the current cycle without
// world-anchored items. Marker poses and the robot cache are kept.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loc.Reset()
	s.level = ""
	logger.Logf("alignment reset")
	s.emit(newFrame(s.cycle, nil, ""))
}

// Robots returns the cached robots keyed by name.
func (s *Session) Robots() map[string]fleet.TrackedRobot {
	return s.cache.Snapshot()
}

// Now returns the session clock's time.
func (s *Session) Now() time.Time { return s.clock.Now() }
