package server

import (
	"net/http"
	"strings"

	"github.com/chorus/jobs/logger"
)

// setupRoutes registers every handler on the server's mux
func (s *Server) setupRoutes() {
	routes := []struct {
		pattern string
		handler http.HandlerFunc
	}{
		{"GET /health", s.HandleHealth},

		{"GET /api/workspaces/{ws}/jobs", s.HandleListJobs},
		{"POST /api/workspaces/{ws}/jobs", s.HandleCreateJob},
		{"GET /api/jobs/{id}", s.HandleGetJob},
		{"PATCH /api/jobs/{id}", s.HandleUpdateJob},
		{"DELETE /api/jobs/{id}", s.HandleDeleteJob},
		{"GET /api/jobs/{id}/next_run", s.HandleNextRun},
		{"GET /api/jobs/{id}/end_run", s.HandleEndRun},
		{"GET /api/jobs/{id}/results/latest", s.HandleLatestResult},
		{"POST /api/jobs/{id}/run", s.HandleRunJob},

		{"POST /api/jobs/{id}/tasks", s.HandleAddTask},
		{"DELETE /api/job_tasks/{id}", s.HandleRemoveTask},
		{"POST /api/job_tasks/{id}/move_up", s.HandleMoveTaskUp},
		{"POST /api/job_tasks/{id}/move_down", s.HandleMoveTaskDown},

		{"GET /api/data_sources", s.HandleListDataSources},
		{"POST /api/data_sources", s.HandleCreateDataSource},
		{"GET /api/data_sources/{id}", s.HandleGetDataSource},
		{"POST /api/data_sources/{id}/refresh", s.HandleRefreshDataSource},

		{"GET /api/time_zones", s.HandleTimeZones},
		{"GET /api/queue/stats", s.HandleQueueStats},
		{"GET /api/queue/jobs", s.HandleQueueJobs},
		{"GET /ws/queue", s.HandleQueueWebSocket},
	}
	for _, r := range routes {
		s.mux.HandleFunc(r.pattern, s.corsMiddleware(s.logRequests(r.handler)))
	}
	s.mux.HandleFunc("OPTIONS /", s.corsMiddleware(func(w http.ResponseWriter, r *http.Request) {}))
}

// corsMiddleware adds CORS headers for allowed origins and answers
// preflight requests.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.checkOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

// checkOrigin accepts requests without an Origin header and origins that
// start with one of the allowed prefixes, so any port matches.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.allowedOrigins {
		if strings.HasPrefix(origin, allowed) {
			return true
		}
	}
	return false
}

func (s *Server) logRequests(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debugw("Request",
			logger.FieldMethod, r.Method,
			logger.FieldPath, r.URL.Path,
			"remote", r.RemoteAddr,
		)
		next(w, r)
	}
}
