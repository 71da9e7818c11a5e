package plan

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/chorus/jobs/errors"
	"github.com/chorus/jobs/recurrence"
)

// FormValue is a field that browsers send as a string and API clients
// may send as a number. It is parsed during validation, not decoding, so
// that a bad value becomes a field error instead of a decode failure.
type FormValue string

func (v *FormValue) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*v = FormValue(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.Wrap(err, "expected a string or number")
	}
	*v = FormValue(n.String())
	return nil
}

// Spec is the create/update input for a plan.
type Spec struct {
	Name          string                    `json:"name" yaml:"name"`
	WorkspaceID   string                    `json:"workspace_id,omitempty" yaml:"workspace_id"`
	OwnerID       string                    `json:"owner_id,omitempty" yaml:"owner_id"`
	IntervalUnit  string                    `json:"interval_unit" yaml:"interval_unit"`
	IntervalValue FormValue                 `json:"interval_value" yaml:"interval_value"`
	Start         *recurrence.Anchor        `json:"next_run,omitempty" yaml:"next_run"`
	End           *recurrence.EndDateFields `json:"end_run,omitempty" yaml:"end_run"`
	TimeZone      string                    `json:"time_zone" yaml:"time_zone"`
	Enabled       *bool                     `json:"enabled,omitempty" yaml:"enabled"`
	Tasks         []TaskSpec                `json:"tasks,omitempty" yaml:"tasks"`
}

// TaskSpec is the input for one task.
type TaskSpec struct {
	Action          string `json:"action" yaml:"action"`
	Name            string `json:"name,omitempty" yaml:"name"`
	TargetReference string `json:"target_reference" yaml:"target_reference"`
}

// Schedule is a validated recurrence: what a Spec turns into.
type Schedule struct {
	Unit     recurrence.IntervalUnit
	Value    int
	NextRun  *time.Time
	EndRun   *recurrence.Date
	TimeZone string
}

// snapOnDemand clears every scheduling field of an on_demand spec. It runs
// before validation, so a stale value or date left over from a recurring
// configuration can never fail or leak into an on_demand plan.
func (s *Spec) snapOnDemand() {
	unit, err := recurrence.ParseIntervalUnit(s.IntervalUnit)
	if err != nil || unit != recurrence.OnDemand {
		return
	}
	s.IntervalUnit = string(unit)
	s.IntervalValue = "0"
	s.Start = nil
	s.End = nil
}

// zoneName picks the plan zone: the explicit field, then the one on the
// start anchor, then the configured default.
func (s *Spec) zoneName(defaultZone string) string {
	if z := strings.TrimSpace(s.TimeZone); z != "" {
		return z
	}
	if s.Start != nil && strings.TrimSpace(s.Start.TimeZone) != "" {
		return strings.TrimSpace(s.Start.TimeZone)
	}
	return defaultZone
}

// Normalize snaps on_demand and validates the name and schedule. All field
// problems are reported together in one ValidationError.
func (s Spec) Normalize(defaultZone string) (Schedule, error) {
	s.snapOnDemand()
	verr := &errors.ValidationError{}

	validateName(verr, s.Name)

	unit, err := recurrence.ParseIntervalUnit(s.IntervalUnit)
	if err != nil {
		mergeFields(verr, err)
	}

	zone := s.zoneName(defaultZone)
	if !recurrence.ValidZone(zone) {
		verr.Add("time_zone", errors.CodeInvalidTimezone)
	}

	sched := Schedule{Unit: unit, TimeZone: zone}
	if unit == "" || !unit.Recurring() {
		return sched, verr.OrNil()
	}

	value, err := strconv.Atoi(strings.TrimSpace(string(s.IntervalValue)))
	if err != nil || value < 1 {
		verr.Add("interval_value", errors.CodeInvalidIntervalValue)
	}
	sched.Value = value

	if s.Start == nil {
		verr.Add("next_run", errors.CodeBlank)
	} else if !verr.Has("interval_value", errors.CodeInvalidIntervalValue) {
		anchor := *s.Start
		anchor.TimeZone = zone
		next, err := recurrence.ComputeNextRun(unit, value, anchor)
		if err != nil {
			mergeFields(verr, err)
		}
		sched.NextRun = next
	}

	end, err := recurrence.ComputeEndRun(s.End, zone)
	if err != nil {
		mergeFields(verr, err)
	}
	sched.EndRun = end

	if sched.NextRun != nil && sched.EndRun != nil {
		if z, err := recurrence.ResolveZone(zone); err == nil && recurrence.Expired(*sched.NextRun, sched.EndRun, z) {
			verr.Add("end_run", errors.CodeInvalidDate)
		}
	}

	return sched, verr.OrNil()
}

// BuildTasks validates task specs and assigns contiguous positions.
func BuildTasks(specs []TaskSpec) ([]*Task, error) {
	verr := &errors.ValidationError{}
	tasks := make([]*Task, 0, len(specs))
	for i, ts := range specs {
		action, err := ParseAction(ts.Action)
		if err != nil {
			verr.Add(fmt.Sprintf("tasks[%d].action", i), errors.CodeInvalidAction)
			continue
		}
		tasks = append(tasks, &Task{
			Action:          action,
			Name:            strings.TrimSpace(ts.Name),
			TargetReference: ts.TargetReference,
			Position:        i,
		})
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return tasks, nil
}

func validateName(verr *errors.ValidationError, name string) {
	trimmed := strings.TrimSpace(name)
	switch {
	case trimmed == "":
		verr.Add("name", errors.CodeBlank)
	case utf8.RuneCountInString(trimmed) > MaxNameLength:
		verr.Add("name", errors.CodeTooLong)
	}
}

// mergeFields copies field errors out of err, or records a generic
// failure when err carries none.
func mergeFields(verr *errors.ValidationError, err error) {
	if v, ok := errors.AsValidationError(err); ok {
		for _, f := range v.Fields {
			if !verr.Has(f.Field, f.Code) {
				verr.Add(f.Field, f.Code)
			}
		}
		return
	}
	verr.Add("base", errors.CodeInvalid)
}
