package server

import (
	"context"
	"net/http"
	"time"

	"github.com/chorus/jobs/logger"
	"github.com/chorus/jobs/plan"
	"github.com/chorus/jobs/recurrence"
)

// ListJobsResponse is the body of GET /api/workspaces/{ws}/jobs
type ListJobsResponse struct {
	Jobs  []*plan.Plan `json:"jobs"`
	Count int          `json:"count"`
}

// NextRunResponse is the body of GET /api/jobs/{id}/next_run
type NextRunResponse struct {
	NextRun *time.Time `json:"next_run"`
}

// EndRunResponse is the body of GET /api/jobs/{id}/end_run
type EndRunResponse struct {
	EndRun *recurrence.Date `json:"end_run"`
}

// RunResponse is the body of POST /api/jobs/{id}/run. Queued is false
// when a run of the plan was already pending.
type RunResponse struct {
	Queued bool `json:"queued"`
}

// AddTaskRequest is the body of POST /api/jobs/{id}/tasks
type AddTaskRequest struct {
	Action          string `json:"action"`
	TargetReference string `json:"target_reference"`
	Name            string `json:"name"`
}

func (s *Server) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	plans, err := s.plans.ListPlans(r.Context(), r.PathValue("ws"))
	if err != nil {
		handleError(w, s.logger, err, "failed to list job plans")
		return
	}
	writeJSON(w, http.StatusOK, ListJobsResponse{Jobs: plans, Count: len(plans)})
}

// HandleCreateJob creates a plan in the workspace of the path. A
// workspace in the body is ignored.
func (s *Server) HandleCreateJob(w http.ResponseWriter, r *http.Request) {
	var spec plan.Spec
	if !readJSON(w, r, &spec) {
		return
	}
	spec.WorkspaceID = r.PathValue("ws")

	p, err := s.plans.CreateJobPlan(r.Context(), spec)
	if err != nil {
		handleError(w, s.logger, err, "failed to create job plan")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	p, err := s.plans.GetPlan(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(w, s.logger, err, "failed to get job plan")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) HandleUpdateJob(w http.ResponseWriter, r *http.Request) {
	var spec plan.Spec
	if !readJSON(w, r, &spec) {
		return
	}
	p, err := s.plans.UpdateJobPlan(r.Context(), r.PathValue("id"), spec)
	if err != nil {
		handleError(w, s.logger, err, "failed to update job plan")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) HandleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.plans.DeletePlan(r.Context(), r.PathValue("id")); err != nil {
		handleError(w, s.logger, err, "failed to delete job plan")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) HandleNextRun(w http.ResponseWriter, r *http.Request) {
	next, err := s.plans.GetNextRun(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(w, s.logger, err, "failed to get next run")
		return
	}
	writeJSON(w, http.StatusOK, NextRunResponse{NextRun: next})
}

func (s *Server) HandleEndRun(w http.ResponseWriter, r *http.Request) {
	end, err := s.plans.GetEndRun(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(w, s.logger, err, "failed to get end run")
		return
	}
	writeJSON(w, http.StatusOK, EndRunResponse{EndRun: end})
}

func (s *Server) HandleLatestResult(w http.ResponseWriter, r *http.Request) {
	res, err := s.plans.LatestResult(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(w, s.logger, err, "failed to get latest result")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleRunJob dispatches a plan now. 202 when a run was queued, 200 when
// one was already pending.
func (s *Server) HandleRunJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	queued, err := s.plans.RunNow(r.Context(), id)
	if err != nil {
		handleError(w, s.logger, err, "failed to run job plan")
		return
	}

	logger.AddPulseSymbol(s.logger).Infow("Run requested",
		logger.FieldPlanID, id,
		"queued", queued,
	)

	status := http.StatusAccepted
	if !queued {
		status = http.StatusOK
	}
	writeJSON(w, status, RunResponse{Queued: queued})
}

func (s *Server) HandleAddTask(w http.ResponseWriter, r *http.Request) {
	var req AddTaskRequest
	if !readJSON(w, r, &req) {
		return
	}
	t, err := s.plans.AddTask(r.Context(), r.PathValue("id"), req.Action, req.TargetReference, req.Name)
	if err != nil {
		handleError(w, s.logger, err, "failed to add task")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) HandleRemoveTask(w http.ResponseWriter, r *http.Request) {
	if err := s.plans.RemoveTask(r.Context(), r.PathValue("id")); err != nil {
		handleError(w, s.logger, err, "failed to remove task")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleMoveTaskUp answers with the whole plan so clients can redraw the
// sequence. Moving the first task up is a no-op, not an error.
func (s *Server) HandleMoveTaskUp(w http.ResponseWriter, r *http.Request) {
	s.moveTask(w, r, s.plans.MoveTaskUp)
}

func (s *Server) HandleMoveTaskDown(w http.ResponseWriter, r *http.Request) {
	s.moveTask(w, r, s.plans.MoveTaskDown)
}

func (s *Server) moveTask(w http.ResponseWriter, r *http.Request, move func(context.Context, string) (*plan.Plan, error)) {
	p, err := move(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(w, s.logger, err, "failed to move task")
		return
	}
	writeJSON(w, http.StatusOK, p)
}
