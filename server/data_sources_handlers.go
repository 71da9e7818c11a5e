package server

import (
	"net/http"

	"github.com/chorus/jobs/errors"
	"github.com/chorus/jobs/target"
)

// ListDataSourcesResponse is the body of GET /api/data_sources
type ListDataSourcesResponse struct {
	DataSources []*target.DataSource `json:"data_sources"`
	Count       int                  `json:"count"`
}

func (s *Server) requireSources(w http.ResponseWriter) bool {
	if s.sources == nil {
		handleError(w, s.logger, errors.Wrap(errors.ErrServiceUnavailable, "data sources not configured"), "data sources unavailable")
		return false
	}
	return true
}

// HandleListDataSources lists data sources, optionally filtered by
// ?entity_type=. An unknown type lists everything.
func (s *Server) HandleListDataSources(w http.ResponseWriter, r *http.Request) {
	if !s.requireSources(w) {
		return
	}
	sources, err := s.sources.List(r.Context(), r.URL.Query().Get("entity_type"))
	if err != nil {
		handleError(w, s.logger, err, "failed to list data sources")
		return
	}
	writeJSON(w, http.StatusOK, ListDataSourcesResponse{DataSources: sources, Count: len(sources)})
}

func (s *Server) HandleCreateDataSource(w http.ResponseWriter, r *http.Request) {
	if !s.requireSources(w) {
		return
	}
	var in target.Input
	if !readJSON(w, r, &in) {
		return
	}
	d, err := s.sources.Create(r.Context(), in)
	if err != nil {
		handleError(w, s.logger, err, "failed to create data source")
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) HandleGetDataSource(w http.ResponseWriter, r *http.Request) {
	if !s.requireSources(w) {
		return
	}
	d, err := s.sources.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(w, s.logger, err, "failed to get data source")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) HandleRefreshDataSource(w http.ResponseWriter, r *http.Request) {
	if !s.requireSources(w) {
		return
	}
	queued, err := s.sources.Refresh(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(w, s.logger, err, "failed to refresh data source")
		return
	}
	status := http.StatusAccepted
	if !queued {
		status = http.StatusOK
	}
	writeJSON(w, status, RunResponse{Queued: queued})
}
