package async

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chorus/jobs/errors"
)

func TestNewJob(t *testing.T) {
	job, err := NewJob("plan.run", "JobPlan.run:p1", json.RawMessage(`{"plan_id":"p1"}`))
	require.NoError(t, err)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, JobStatusQueued, job.Status)
	assert.Equal(t, "JobPlan.run:p1", job.DispatchKey)
	assert.Equal(t, job.CreatedAt, job.RunAfter)
	assert.Nil(t, job.StartedAt)
	assert.Equal(t, time.UTC, job.CreatedAt.Location())

	_, err = NewJob("", "k", nil)
	assert.Error(t, err)

	_, err = NewJob("plan.run", "k", json.RawMessage(`{not json`))
	assert.Error(t, err)
}

func TestJobLifecycle(t *testing.T) {
	job := createTestJob(t, "plan.run", "k")

	job.Start()
	assert.Equal(t, JobStatusRunning, job.Status)
	require.NotNil(t, job.StartedAt)

	job.Requeue("retry 1/2: boom", time.Minute)
	assert.Equal(t, JobStatusQueued, job.Status)
	assert.Nil(t, job.StartedAt)
	assert.Equal(t, "retry 1/2: boom", job.Error)
	assert.True(t, job.RunAfter.After(job.CreatedAt))

	job.Start()
	job.Complete()
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Empty(t, job.Error, "completion clears the last retry reason")
	assert.True(t, job.Status.Terminal())

	failed := createTestJob(t, "plan.run", "k")
	failed.Fail(errors.New("task 2 failed"))
	assert.Equal(t, JobStatusFailed, failed.Status)
	assert.Equal(t, "task 2 failed", failed.Error)
	require.NotNil(t, failed.CompletedAt)
	assert.True(t, failed.Status.Terminal())
	assert.False(t, JobStatusRunning.Terminal())
}

func TestJobDecode(t *testing.T) {
	job := createTestJob(t, "plan.run", "k")

	var payload struct {
		PlanID  string `json:"plan_id"`
		Trigger string `json:"trigger"`
	}
	require.NoError(t, job.Decode(&payload))
	assert.Equal(t, "plan-1", payload.PlanID)
	assert.Equal(t, "test", payload.Trigger)

	job.Payload = nil
	assert.Error(t, job.Decode(&payload))
}

func TestIsValidStatus(t *testing.T) {
	for _, s := range []string{"queued", "running", "completed", "failed"} {
		assert.True(t, IsValidStatus(s), s)
	}
	assert.False(t, IsValidStatus("paused"))
	assert.False(t, IsValidStatus(""))
}
