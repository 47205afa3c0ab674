package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/banshee-data/fleet-overlay/internal/httputil"
	"github.com/banshee-data/fleet-overlay/internal/rmf"
)

// levelView is one building level as returned by GET /api/map.
type levelView struct {
	Name      string         `json:"name"`
	Elevation float64        `json:"elevation"`
	NavGraphs []rmf.NavGraph `json:"nav_graphs"`
	WallGraph rmf.NavGraph   `json:"wall_graph"`
}

// handleMap returns the nav graphs and walls of one level. The level
// defaults to the level of the active alignment.
func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	level := r.URL.Query().Get("level")
	if level == "" {
		level = s.session.LevelName()
	}
	if level == "" {
		httputil.BadRequest(w, "no level given and the session is not localized")
		return
	}
	m, err := s.fleet.BuildingMap(r.Context())
	if err != nil {
		httputil.BadGateway(w, err.Error())
		return
	}
	l, ok := m.Level(level)
	if !ok {
		httputil.NotFound(w, fmt.Sprintf("level %q not in building map %q", level, m.Name))
		return
	}
	httputil.WriteJSONOK(w, levelView{Name: l.Name, Elevation: l.Elevation, NavGraphs: l.NavGraphs, WallGraph: l.WallGraph})
}

// handleTasks lists tasks on GET and submits one on POST.
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		tasks, err := s.fleet.Tasks(r.Context())
		if err != nil {
			httputil.BadGateway(w, err.Error())
			return
		}
		if tasks == nil {
			tasks = []rmf.TaskSummary{}
		}
		httputil.WriteJSONOK(w, tasks)
	case http.MethodPost:
		s.submitTask(w, r)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if len(body) > maxBodyBytes {
		httputil.BadRequest(w, httputil.ErrBodyTooLarge.Error())
		return
	}
	req, err := rmf.DecodeTaskRequest(body)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	resp, err := s.fleet.SubmitTask(r.Context(), req)
	if err != nil {
		if resp.ErrorMsg != "" {
			httputil.WriteJSON(w, http.StatusConflict, resp)
			return
		}
		httputil.BadGateway(w, err.Error())
		return
	}
	logger.Logf("submitted %s task %s", req.TaskType, resp.TaskID)
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req rmf.CancelTaskRequest
	if err := httputil.DecodeJSON(r, maxBodyBytes, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.TaskID == "" {
		httputil.BadRequest(w, "task_id is required")
		return
	}
	ok, err := s.fleet.CancelTask(r.Context(), req.TaskID)
	if err != nil {
		httputil.BadGateway(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, rmf.CancelTaskResponse{Success: ok})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	cfg, err := s.fleet.DashboardConfig(r.Context())
	if err != nil {
		httputil.BadGateway(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, cfg)
}
