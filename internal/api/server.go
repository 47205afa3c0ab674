// Package api serves the overlay HTTP API: marker ingest from the device,
// overlay and alignment queries for renderers, and a validated proxy to
// the fleet manager's map and task endpoints.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/fleet-overlay/internal/db"
	"github.com/banshee-data/fleet-overlay/internal/httputil"
	"github.com/banshee-data/fleet-overlay/internal/monitoring"
	"github.com/banshee-data/fleet-overlay/internal/overlay"
	"github.com/banshee-data/fleet-overlay/internal/rmf"
)

var logger = monitoring.Component("API")

// ANSI escape codes for status colouring in request logs.
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// FleetAPI is the subset of the fleet manager client the API proxies.
type FleetAPI interface {
	BuildingMap(ctx context.Context) (rmf.BuildingMap, error)
	Tasks(ctx context.Context) ([]rmf.TaskSummary, error)
	SubmitTask(ctx context.Context, req rmf.TaskRequest) (rmf.SubmitTaskResponse, error)
	CancelTask(ctx context.Context, taskID string) (bool, error)
	DashboardConfig(ctx context.Context) (rmf.DashboardConfig, error)
}

type Server struct {
	session   *overlay.Session
	fleet     FleetAPI
	journal   *db.DB
	sessionID string
}

// NewServer returns an API server. journal may be nil, in which case the
// journal and SQL debug routes are not mounted.
func NewServer(session *overlay.Session, fleet FleetAPI, journal *db.DB, sessionID string) *Server {
	return &Server{
		session:   session,
		fleet:     fleet,
		journal:   journal,
		sessionID: sessionID,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status and duration. Marker posts
// arrive at frame rate and are only logged in verbose mode.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		logf := logger.Logf
		if r.URL.Path == "/api/markers" && lrw.statusCode < 400 {
			logf = logger.Debugf
		}
		logf("[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the API routes, plus the debug routes under /debug/.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/markers", s.handleMarkers)
	mux.HandleFunc("/api/overlay", s.handleOverlay)
	mux.HandleFunc("/api/alignment", s.handleAlignment)
	mux.HandleFunc("/api/alignment/reset", s.handleAlignmentReset)
	mux.HandleFunc("/api/robots", s.handleRobots)
	mux.HandleFunc("/api/map", s.handleMap)
	mux.HandleFunc("/api/tasks", s.handleTasks)
	mux.HandleFunc("/api/tasks/cancel", s.handleCancelTask)
	mux.HandleFunc("/api/dashboard", s.handleDashboard)
	mux.HandleFunc("/api/journal", s.handleJournal)

	debug := tsweb.Debugger(mux)
	debug.Handle("layout-chart", "Trajectory layout chart", http.HandlerFunc(s.handleLayoutChart))
	debug.Handle("layout-plot", "Trajectory layout plot (PNG)", http.HandlerFunc(s.handleLayoutPlot))
	if s.journal != nil {
		if err := s.journal.AttachAdminRoutes(mux); err != nil {
			logger.Logf("journal admin routes disabled: %v", err)
		}
	}
	return mux
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.journal == nil {
		httputil.NotFound(w, "journal disabled")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		limit = n
	}
	alignments, err := s.journal.RecentAlignments(r.Context(), s.sessionID, limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	layouts, err := s.journal.RecentLayouts(r.Context(), s.sessionID, limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"session_id": s.sessionID,
		"alignments": alignments,
		"layouts":    layouts,
	})
}
