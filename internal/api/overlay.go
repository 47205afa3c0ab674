package api

import (
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/banshee-data/fleet-overlay/internal/fleet"
	"github.com/banshee-data/fleet-overlay/internal/geom"
	"github.com/banshee-data/fleet-overlay/internal/httputil"
	"github.com/banshee-data/fleet-overlay/internal/overlay"
	"github.com/banshee-data/fleet-overlay/internal/visualiser"
)

// markerPost is the body of POST /api/markers.
type markerPost struct {
	Name          string    `json:"name"`
	Tracked       bool      `json:"tracked"`
	Transform     []float64 `json:"transform"`
	TrackingState string    `json:"tracking_state"`
}

func (m markerPost) sighting() (overlay.Sighting, error) {
	if m.Name == "" {
		return overlay.Sighting{}, errors.New("name is required")
	}
	if len(m.Transform) != 16 {
		return overlay.Sighting{}, fmt.Errorf("transform must have 16 values, got %d", len(m.Transform))
	}
	var t geom.Mat4
	copy(t[:], m.Transform)
	if !t.IsRigid() {
		return overlay.Sighting{}, errors.New("transform is not a rigid motion")
	}
	switch m.TrackingState {
	case "", overlay.TrackingNormal, overlay.TrackingLimited, overlay.TrackingNotAvailable:
	default:
		return overlay.Sighting{}, fmt.Errorf("unknown tracking_state %q", m.TrackingState)
	}
	return overlay.Sighting{Name: m.Name, Transform: t, Tracked: m.Tracked, TrackingState: m.TrackingState}, nil
}

func (s *Server) handleMarkers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var body markerPost
	if err := httputil.DecodeJSON(r, maxBodyBytes, &body); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid marker: %v", err))
		return
	}
	sg, err := body.sighting()
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, s.session.HandleSighting(sg))
}

func (s *Server) handleOverlay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.session.Frame().WithHighlight(r.URL.Query().Get("highlight")))
}

func (s *Server) handleAlignment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.session.Status())
}

func (s *Server) handleAlignmentReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	s.session.Reset()
	httputil.WriteJSONOK(w, s.session.Status())
}

// robotView is the API form of a cached robot.
type robotView struct {
	Name      string      `json:"name"`
	FleetName string      `json:"fleet_name"`
	Pose      geom.Pose2D `json:"pose"`
	LevelName string      `json:"level_name"`
	Mode      string      `json:"mode"`
	Battery   float64     `json:"battery_percent"`
	Tasks     []string    `json:"tasks"`
	Tracked   bool        `json:"tracked"`
	Sighted   bool        `json:"sighted"`
	Moving    bool        `json:"moving"`
}

func newRobotView(r fleet.TrackedRobot) robotView {
	return robotView{
		Name:      r.Name,
		FleetName: r.FleetName,
		Pose:      r.LatestPose,
		LevelName: r.LevelName,
		Mode:      r.Mode,
		Battery:   r.Battery,
		Tasks:     r.Tasks,
		Tracked:   r.IsCurrentlyTracked,
		Sighted:   r.Sighted(),
		Moving:    r.IsMoving(),
	}
}

func (s *Server) handleRobots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	robots := s.session.Robots()
	out := make([]robotView, 0, len(robots))
	for _, rb := range robots {
		out = append(out, newRobotView(rb))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	httputil.WriteJSONOK(w, out)
}

func (s *Server) handleLayoutChart(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := visualiser.RenderLayoutChart(w, s.session.Frame()); err != nil {
		logger.Logf("failed to render layout chart: %v", err)
	}
}

func (s *Server) handleLayoutPlot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/png")
	if err := visualiser.RenderLayoutPlot(w, s.session.Frame()); err != nil {
		logger.Logf("failed to render layout plot: %v", err)
	}
}
