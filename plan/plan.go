// Package plan holds job plans: a recurrence rule plus an ordered list of
// tasks, and the results of running them.
package plan

import (
	"strings"
	"time"

	"github.com/chorus/jobs/errors"
	"github.com/chorus/jobs/recurrence"
)

// MaxNameLength is the longest plan name accepted, in runes.
const MaxNameLength = 64

// RunHandlerName is the queue handler that executes a plan.
const RunHandlerName = "plan.run"

// RunKeyPrefix namespaces plan runs in the dispatcher.
const RunKeyPrefix = "JobPlan.run"

// Plan is a named, schedulable unit of work.
type Plan struct {
	ID            string                  `json:"id"`
	WorkspaceID   string                  `json:"workspace_id"`
	Name          string                  `json:"name"`
	OwnerID       string                  `json:"owner_id,omitempty"`
	IntervalUnit  recurrence.IntervalUnit `json:"interval_unit"`
	IntervalValue int                     `json:"interval_value"`
	NextRun       *time.Time              `json:"next_run"`
	EndRun        *recurrence.Date        `json:"end_run"`
	TimeZone      string                  `json:"time_zone"`
	Enabled       bool                    `json:"enabled"`
	LastRun       *time.Time              `json:"last_run,omitempty"`
	Tasks         []*Task                 `json:"tasks"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
}

// OnDemand reports whether the plan only runs when triggered.
func (p *Plan) OnDemand() bool {
	return p.IntervalUnit == recurrence.OnDemand
}

// Zone resolves the plan's time zone.
func (p *Plan) Zone() (recurrence.Zone, error) {
	return recurrence.ResolveZone(p.TimeZone)
}

// Action is what a task does when its plan runs.
type Action string

const (
	ActionRunWorkFlow      Action = "run_work_flow"
	ActionRunSQLFile       Action = "run_sql_file"
	ActionImportSourceData Action = "import_source_data"
)

// Actions lists the supported task actions.
func Actions() []Action {
	return []Action{ActionRunWorkFlow, ActionRunSQLFile, ActionImportSourceData}
}

// ParseAction rejects anything outside Actions.
func ParseAction(s string) (Action, error) {
	a := Action(strings.TrimSpace(s))
	for _, known := range Actions() {
		if a == known {
			return a, nil
		}
	}
	return "", errors.NewValidationError("action", errors.CodeInvalidAction)
}

// Task is one step of a plan. Positions within a plan run 0..n-1.
type Task struct {
	ID              string    `json:"id"`
	PlanID          string    `json:"plan_id"`
	Action          Action    `json:"action"`
	Name            string    `json:"name,omitempty"`
	TargetReference string    `json:"target_reference"`
	Position        int       `json:"position"`
	CreatedAt       time.Time `json:"created_at"`
}

// TaskResult is the outcome of one task within a run.
type TaskResult struct {
	TaskID     string    `json:"task_id"`
	Action     Action    `json:"action"`
	Name       string    `json:"name,omitempty"`
	Succeeded  bool      `json:"succeeded"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Result records one run of a plan.
type Result struct {
	ID          string       `json:"id"`
	PlanID      string       `json:"plan_id"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at"`
	Succeeded   bool         `json:"succeeded"`
	TaskResults []TaskResult `json:"task_results"`
}
