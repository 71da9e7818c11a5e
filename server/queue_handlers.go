package server

import (
	"net/http"

	"github.com/chorus/jobs/dispatch"
	"github.com/chorus/jobs/errors"
	"github.com/chorus/jobs/pulse/async"
	"github.com/chorus/jobs/pulse/schedule"
	"github.com/chorus/jobs/recurrence"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 200
)

// QueueStatsResponse is the body of GET /api/queue/stats. Sections whose
// component is not running are omitted.
type QueueStatsResponse struct {
	Queue    *async.QueueStats   `json:"queue,omitempty"`
	Dispatch *dispatch.Stats     `json:"dispatch,omitempty"`
	Ticker   *schedule.TickStats `json:"ticker,omitempty"`
	Workers  *WorkerStats        `json:"workers,omitempty"`
}

// WorkerStats describes the worker pool.
type WorkerStats struct {
	Workers       int `json:"workers"`
	Active        int `json:"active"`
	JobsProcessed int `json:"jobs_processed"`
}

// TimeZonesResponse is the body of GET /api/time_zones
type TimeZonesResponse struct {
	TimeZones []recurrence.ZoneOption `json:"time_zones"`
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleTimeZones lists the zone picker entries with their offsets as of
// now.
func (s *Server) HandleTimeZones(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, TimeZonesResponse{TimeZones: recurrence.ZoneNames(s.now())})
}

func (s *Server) HandleQueueStats(w http.ResponseWriter, r *http.Request) {
	var resp QueueStatsResponse
	if s.queue != nil {
		stats, err := s.queue.GetStats(r.Context())
		if err != nil {
			handleError(w, s.logger, err, "failed to get queue stats")
			return
		}
		resp.Queue = stats
	}
	if s.dispatcher != nil {
		stats := s.dispatcher.Stats()
		resp.Dispatch = &stats
	}
	if s.ticker != nil {
		stats := s.ticker.Stats()
		resp.Ticker = &stats
	}
	if s.pool != nil {
		resp.Workers = &WorkerStats{
			Workers:       s.pool.Workers(),
			Active:        s.pool.ActiveWorkers(),
			JobsProcessed: s.pool.JobsProcessed(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleQueueJobs lists queue jobs, newest first, optionally filtered by
// ?status=.
func (s *Server) HandleQueueJobs(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		handleError(w, s.logger, errors.Wrap(errors.ErrServiceUnavailable, "queue not configured"), "queue unavailable")
		return
	}

	var status *async.JobStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		if !async.IsValidStatus(raw) {
			writeError(w, http.StatusBadRequest, "unknown status "+raw)
			return
		}
		st := async.JobStatus(raw)
		status = &st
	}

	limit := parseIntQueryParam(r, "limit", defaultJobLimit, 1, maxJobLimit)
	jobs, err := s.queue.ListJobs(r.Context(), status, limit)
	if err != nil {
		handleError(w, s.logger, err, "failed to list queue jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}
