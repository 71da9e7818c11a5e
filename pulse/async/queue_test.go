package async

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chorus/jobs/dispatch"
	"github.com/chorus/jobs/errors"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	ctx := context.Background()
	queue, _ := newTestQueue(t)

	job, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, job, "empty queue")

	enqueued := createTestJob(t, "plan.run", "JobPlan.run:plan-1")
	require.NoError(t, queue.Enqueue(ctx, enqueued))

	job, err = queue.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, enqueued.ID, job.ID)
	assert.Equal(t, JobStatusRunning, job.Status)

	again, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, again, "a running job is not handed out twice")
}

func TestQueueTransitions(t *testing.T) {
	ctx := context.Background()
	queue, _ := newTestQueue(t)

	job := createTestJob(t, "plan.run", "k")
	require.NoError(t, queue.Enqueue(ctx, job))
	_, err := queue.Dequeue(ctx)
	require.NoError(t, err)

	require.NoError(t, queue.RetryJob(ctx, job.ID, "retry 1/2: timeout", time.Hour))
	got, err := queue.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusQueued, got.Status)
	assert.Equal(t, 1, got.RetryCount)

	next, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, next, "retry delay defers the job")

	require.NoError(t, queue.FailJob(ctx, job.ID, errors.New("gave up")))
	got, err = queue.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, got.Status)
	assert.Equal(t, "gave up", got.Error)

	other := createTestJob(t, "plan.run", "k2")
	require.NoError(t, queue.Enqueue(ctx, other))
	require.NoError(t, queue.CompleteJob(ctx, other.ID))
	got, err = queue.GetJob(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, got.Status)

	assert.True(t, errors.IsNotFoundError(queue.CompleteJob(ctx, "missing")))
}

func TestQueueSubscribersReceiveSnapshots(t *testing.T) {
	ctx := context.Background()
	queue, _ := newTestQueue(t)

	updates := queue.Subscribe()
	defer queue.Unsubscribe(updates)

	job := createTestJob(t, "plan.run", "k")
	require.NoError(t, queue.Enqueue(ctx, job))
	_, err := queue.Dequeue(ctx)
	require.NoError(t, err)

	first := <-updates
	second := <-updates
	assert.Equal(t, JobStatusQueued, first.Status, "earlier snapshot is not mutated by later transitions")
	assert.Equal(t, JobStatusRunning, second.Status)

	queue.Unsubscribe(updates)
	require.NoError(t, queue.CompleteJob(ctx, job.ID))
	select {
	case j := <-updates:
		t.Fatalf("unsubscribed channel received %s", j.Status)
	default:
	}
}

func TestQueueStats(t *testing.T) {
	ctx := context.Background()
	queue, _ := newTestQueue(t)

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, queue.Enqueue(ctx, createTestJob(t, "plan.run", key)))
	}
	job, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, queue.CompleteJob(ctx, job.ID))

	stats, err := queue.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Queued)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 0, stats.Running)
	assert.Equal(t, 3, stats.Total)
}

func TestQueueBackendSubmit(t *testing.T) {
	ctx := context.Background()
	queue, _ := newTestQueue(t)
	backend := NewQueueBackend(queue)

	err := backend.Submit(ctx, dispatch.Request{
		Key:     "JobPlan.run:plan-9",
		JobName: "plan.run",
		Payload: json.RawMessage(`{"plan_id":"plan-9"}`),
	})
	require.NoError(t, err)

	job, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "plan.run", job.HandlerName)
	assert.Equal(t, "JobPlan.run:plan-9", job.DispatchKey)

	assert.Error(t, backend.Submit(ctx, dispatch.Request{Key: "k"}), "job name is required")
}
