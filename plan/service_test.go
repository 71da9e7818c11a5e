package plan

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/chorus/jobs/errors"
	"github.com/chorus/jobs/recurrence"
)

type dispatchCall struct {
	Key     string
	JobName string
	Payload any
}

// recordingDispatcher queues each key once, like the real dispatcher.
type recordingDispatcher struct {
	mu     sync.Mutex
	queued map[string]bool
	calls  []dispatchCall
	err    error
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{queued: make(map[string]bool)}
}

func (d *recordingDispatcher) EnqueueIfNotQueued(_ context.Context, key, jobName string, payload any) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, dispatchCall{Key: key, JobName: jobName, Payload: payload})
	if d.err != nil {
		return false, d.err
	}
	if d.queued[key] {
		return false, nil
	}
	d.queued[key] = true
	return true, nil
}

func newTestService(t *testing.T, d Dispatcher) *Service {
	t.Helper()
	return NewService(newTestStore(t), d, WithLogger(zaptest.NewLogger(t).Sugar()))
}

func TestCreateJobPlan_AmericanSamoa(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)

	spec := samoaSpec()
	spec.WorkspaceID = "ws-1"
	spec.Tasks = []TaskSpec{
		{Action: "run_work_flow", TargetReference: "workfiles/1"},
		{Action: "run_sql_file", TargetReference: "workfiles/2"},
	}

	p, err := svc.CreateJobPlan(ctx, spec)
	require.NoError(t, err)
	assert.True(t, p.Enabled)
	assert.Equal(t, recurrence.Weeks, p.IntervalUnit)
	assert.Equal(t, 2, p.IntervalValue)

	next, err := svc.GetNextRun(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "3013-07-09T12:05:00Z", next.Format(time.RFC3339))

	end, err := svc.GetEndRun(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, end)

	got, err := svc.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"workfiles/1", "workfiles/2"}, taskTargets(got))
}

func TestCreateJobPlan_ValidationPersistsNothing(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)

	spec := samoaSpec()
	spec.WorkspaceID = "ws-1"
	spec.IntervalValue = "often"
	spec.Tasks = []TaskSpec{{Action: "format_disk"}}

	_, err := svc.CreateJobPlan(ctx, spec)
	require.Error(t, err)
	assert.True(t, errors.HasFieldCode(err, "interval_value", errors.CodeInvalidIntervalValue))
	assert.True(t, errors.HasFieldCode(err, "tasks[0].action", errors.CodeInvalidAction))

	plans, err := svc.ListPlans(ctx, "ws-1")
	require.NoError(t, err)
	assert.Empty(t, plans)
}

func TestUpdateJobPlan_ToggleToOnDemand(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)

	spec := samoaSpec()
	spec.End = &recurrence.EndDateFields{Year: 3014, Month: 1, Day: 1}
	spec.Tasks = []TaskSpec{{Action: "run_sql_file", TargetReference: "a.sql"}}
	p, err := svc.CreateJobPlan(ctx, spec)
	require.NoError(t, err)
	require.NotNil(t, p.EndRun)

	// The form still carries the old weekly fields
	spec.IntervalUnit = "on_demand"
	updated, err := svc.UpdateJobPlan(ctx, p.ID, spec)
	require.NoError(t, err)

	assert.Equal(t, recurrence.OnDemand, updated.IntervalUnit)
	assert.Equal(t, 0, updated.IntervalValue)
	assert.Nil(t, updated.NextRun)
	assert.Nil(t, updated.EndRun)

	reloaded, err := svc.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, reloaded.IntervalValue)
	assert.Nil(t, reloaded.NextRun)
	assert.Nil(t, reloaded.EndRun)
	assert.Len(t, reloaded.Tasks, 1)
	assert.True(t, reloaded.Enabled, "nil enabled keeps the current value")
}

func TestUpdateJobPlan_Errors(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)

	_, err := svc.UpdateJobPlan(ctx, "missing", samoaSpec())
	assert.True(t, errors.IsNotFoundError(err))

	p, err := svc.CreateJobPlan(ctx, samoaSpec())
	require.NoError(t, err)

	bad := samoaSpec()
	bad.TimeZone = "Mars/Olympus"
	_, err = svc.UpdateJobPlan(ctx, p.ID, bad)
	assert.True(t, errors.HasFieldCode(err, "time_zone", errors.CodeInvalidTimezone))

	disabled := samoaSpec()
	disabled.Enabled = new(bool)
	updated, err := svc.UpdateJobPlan(ctx, p.ID, disabled)
	require.NoError(t, err)
	assert.False(t, updated.Enabled)
}

func TestServiceTaskOperations(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)

	p, err := svc.CreateJobPlan(ctx, samoaSpec())
	require.NoError(t, err)

	var ids []string
	for _, target := range []string{"a", "b", "c"} {
		task, err := svc.AddTask(ctx, p.ID, "run_sql_file", target, "")
		require.NoError(t, err)
		ids = append(ids, task.ID)
	}

	got, err := svc.MoveTaskUp(ctx, ids[2])
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "b"}, taskTargets(got))

	got, err = svc.MoveTaskUp(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "b"}, taskTargets(got), "moving the first task up changes nothing")

	got, err = svc.MoveTaskDown(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "b"}, taskTargets(got), "moving the last task down changes nothing")

	require.NoError(t, svc.RemoveTask(ctx, ids[0]))
	got, err = svc.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, taskTargets(got))
	assert.True(t, NewSequence(got.Tasks).Contiguous())

	_, err = svc.AddTask(ctx, p.ID, "drop_table", "", "")
	assert.True(t, errors.HasFieldCode(err, "action", errors.CodeInvalidAction))
	assert.True(t, errors.HasFieldCode(err, "target_reference", errors.CodeBlank))

	_, err = svc.AddTask(ctx, "missing", "run_sql_file", "x", "")
	assert.True(t, errors.IsNotFoundError(err))

	_, err = svc.MoveTaskDown(ctx, "missing")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestRunNow(t *testing.T) {
	ctx := context.Background()
	d := newRecordingDispatcher()
	svc := newTestService(t, d)

	spec := samoaSpec()
	spec.IntervalUnit = "on_demand"
	p, err := svc.CreateJobPlan(ctx, spec)
	require.NoError(t, err)

	queued, err := svc.RunNow(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, queued)

	queued, err = svc.RunNow(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, queued, "second request is absorbed while the first is queued")

	require.Len(t, d.calls, 2)
	assert.Equal(t, "JobPlan.run:"+p.ID, d.calls[0].Key)
	assert.Equal(t, RunHandlerName, d.calls[0].JobName)
	assert.Equal(t, RunPayload{PlanID: p.ID, Trigger: TriggerManual}, d.calls[0].Payload)

	_, err = svc.RunNow(ctx, "missing")
	assert.True(t, errors.IsNotFoundError(err))

	d.err = errors.MarkRetryable(errors.New("broker down"), "submit")
	_, err = svc.RunNow(ctx, p.ID)
	assert.True(t, errors.IsRetryable(err))

	_, err = newTestService(t, nil).RunNow(ctx, p.ID)
	assert.True(t, errors.Is(err, errors.ErrServiceUnavailable))
}

func TestDeletePlanAndLatestResult(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)

	p, err := svc.CreateJobPlan(ctx, samoaSpec())
	require.NoError(t, err)

	_, err = svc.LatestResult(ctx, p.ID)
	assert.True(t, errors.IsNotFoundError(err), "no runs yet")

	now := time.Now()
	require.NoError(t, svc.Store().CreateResult(ctx, &Result{PlanID: p.ID, StartedAt: now, FinishedAt: now, Succeeded: true}))
	r, err := svc.LatestResult(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, r.Succeeded)

	require.NoError(t, svc.DeletePlan(ctx, p.ID))
	_, err = svc.GetPlan(ctx, p.ID)
	assert.True(t, errors.IsNotFoundError(err))
	_, err = svc.LatestResult(ctx, p.ID)
	assert.True(t, errors.IsNotFoundError(err))
}
