// Package async is the default execution backend: a SQLite-backed job
// queue drained by a pool of workers that route jobs to named handlers.
package async

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/chorus/jobs/errors"
)

// JobStatus represents the current state of a job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsValidStatus returns true if the status string is a valid JobStatus
func IsValidStatus(s string) bool {
	switch JobStatus(s) {
	case JobStatusQueued, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transitions happen from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is one queued execution request.
//
// HandlerName routes the job; DispatchKey is handed back to the dispatcher
// when the job starts so the key can be queued again.
type Job struct {
	ID          string          `json:"id"`
	HandlerName string          `json:"handler_name"`
	DispatchKey string          `json:"dispatch_key,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Status      JobStatus       `json:"status"`
	Error       string          `json:"error,omitempty"`
	RetryCount  int             `json:"retry_count,omitempty"`
	RunAfter    time.Time       `json:"run_after"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NewJob creates a queued job ready to run immediately.
func NewJob(handlerName, dispatchKey string, payload json.RawMessage) (*Job, error) {
	if handlerName == "" {
		return nil, errors.New("handlerName cannot be empty")
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return nil, errors.Newf("payload for %s is not valid JSON", handlerName)
	}

	now := dbNow()
	return &Job{
		ID:          uuid.NewString(),
		HandlerName: handlerName,
		DispatchKey: dispatchKey,
		Payload:     payload,
		Status:      JobStatusQueued,
		RunAfter:    now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Start marks the job as running
func (j *Job) Start() {
	now := dbNow()
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.UpdatedAt = now
}

// Complete marks the job as completed
func (j *Job) Complete() {
	now := dbNow()
	j.Status = JobStatusCompleted
	j.Error = ""
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Fail marks the job as failed with an error message
func (j *Job) Fail(err error) {
	now := dbNow()
	j.Status = JobStatusFailed
	j.Error = err.Error()
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Requeue puts the job back in the queue, not to run before delay passes.
func (j *Job) Requeue(reason string, delay time.Duration) {
	now := dbNow()
	j.Status = JobStatusQueued
	j.Error = reason
	j.StartedAt = nil
	j.RunAfter = now.Add(delay)
	j.UpdatedAt = now
}

// Decode unmarshals the payload into v.
func (j *Job) Decode(v any) error {
	if len(j.Payload) == 0 {
		return errors.Newf("job %s has no payload", j.ID)
	}
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return errors.Wrapf(err, "failed to parse payload of job %s", j.ID)
	}
	return nil
}

// dbNow is the current time as it round-trips through SQLite: UTC at
// microsecond precision.
func dbNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
