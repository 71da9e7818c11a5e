package plan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chorus/jobs/dispatch"
	"github.com/chorus/jobs/errors"
	"github.com/chorus/jobs/logger"
	"github.com/chorus/jobs/pulse/async"
)

// ErrNoRunner is the failure recorded for a task whose action has no runner.
var ErrNoRunner = errors.New("no runner registered for action")

// ActionRunner performs one task of a plan run.
type ActionRunner interface {
	RunTask(ctx context.Context, p *Plan, t *Task) error
}

// ActionRunnerFunc adapts a function to ActionRunner.
type ActionRunnerFunc func(ctx context.Context, p *Plan, t *Task) error

func (f ActionRunnerFunc) RunTask(ctx context.Context, p *Plan, t *Task) error {
	return f(ctx, p, t)
}

// Runner executes plan.run jobs: it runs a plan's tasks in position order,
// stops at the first failure, and records the outcome as a Result.
type Runner struct {
	store *Store
	now   func() time.Time
	log   *zap.SugaredLogger

	mu      sync.RWMutex
	actions map[Action]ActionRunner
}

// NewRunner creates a Runner with no action runners registered.
func NewRunner(store *Store, log *zap.SugaredLogger) *Runner {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Runner{
		store:   store,
		now:     time.Now,
		log:     logger.AddPlanSymbol(log),
		actions: make(map[Action]ActionRunner),
	}
}

// Handle registers the runner for an action, replacing any earlier one.
func (r *Runner) Handle(action Action, runner ActionRunner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[action] = runner
}

func (r *Runner) runnerFor(action Action) ActionRunner {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.actions[action]
}

// Name implements async.JobHandler.
func (r *Runner) Name() string {
	return RunHandlerName
}

// Execute implements async.JobHandler. A failed task fails the job
// permanently; the next scheduled run is the retry.
func (r *Runner) Execute(ctx context.Context, job *async.Job) error {
	var payload RunPayload
	if err := job.Decode(&payload); err != nil {
		return async.Permanent(err)
	}
	if payload.PlanID == "" {
		return async.Permanent(errors.Newf("job %s has no plan_id", job.ID))
	}

	p, err := r.store.GetPlan(ctx, payload.PlanID)
	if err != nil {
		if errors.IsNotFoundError(err) {
			// Deleted after it was queued
			return async.Permanent(err)
		}
		return err
	}

	result, err := r.Run(ctx, p)
	if err != nil {
		return err
	}

	if !result.Succeeded {
		failed := result.TaskResults[len(result.TaskResults)-1]
		return async.Permanent(errors.Newf("task %d (%s) failed: %s", len(result.TaskResults)-1, failed.Action, failed.Error))
	}
	return nil
}

// Run executes the tasks of p and stores the Result. It returns an error
// only when the run could not be recorded or ctx was cancelled; task
// failures are reported in the Result.
func (r *Runner) Run(ctx context.Context, p *Plan) (*Result, error) {
	log := r.log.With(logger.FieldPlanID, p.ID)
	result := &Result{
		PlanID:      p.ID,
		StartedAt:   r.now().UTC(),
		Succeeded:   true,
		TaskResults: make([]TaskResult, 0, len(p.Tasks)),
	}

	for _, t := range NewSequence(p.Tasks) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tr := TaskResult{
			TaskID:    t.ID,
			Action:    t.Action,
			Name:      t.Name,
			StartedAt: r.now().UTC(),
		}
		err := r.runTask(ctx, p, t)
		tr.FinishedAt = r.now().UTC()
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}

		tr.Succeeded = err == nil
		if err != nil {
			tr.Error = err.Error()
			result.Succeeded = false
		}
		result.TaskResults = append(result.TaskResults, tr)

		if err != nil {
			log.Warnw("Job task failed, stopping run",
				logger.FieldTaskID, t.ID,
				"action", t.Action,
				"position", t.Position,
				logger.FieldError, err,
			)
			break
		}
	}
	result.FinishedAt = r.now().UTC()

	if err := r.store.CreateResult(ctx, result); err != nil {
		return nil, err
	}
	if err := r.store.RecordRun(ctx, p.ID, result.StartedAt); err != nil {
		return nil, err
	}

	log.Infow("Job plan run finished",
		logger.FieldResultID, result.ID,
		"succeeded", result.Succeeded,
		"tasks_run", len(result.TaskResults),
		"tasks_total", len(p.Tasks),
		logger.FieldDurationMS, result.FinishedAt.Sub(result.StartedAt).Milliseconds(),
	)
	return result, nil
}

func (r *Runner) runTask(ctx context.Context, p *Plan, t *Task) (err error) {
	runner := r.runnerFor(t.Action)
	if runner == nil {
		return errors.Wrapf(ErrNoRunner, "%s", t.Action)
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Newf("%s panicked: %v", t.Action, rec)
		}
	}()
	return runner.RunTask(ctx, p, t)
}

// TaskKeyPrefix namespaces forwarded task requests in the dispatcher.
const TaskKeyPrefix = "JobTask.run"

// TaskRequest is the payload of a forwarded task.
type TaskRequest struct {
	PlanID          string `json:"plan_id"`
	TaskID          string `json:"task_id"`
	Action          Action `json:"action"`
	TargetReference string `json:"target_reference"`
}

// ForwardingRunner hands a task to whatever consumes the dispatch backend,
// under job name "task.<action>". The task counts as done once the request
// is accepted or already queued.
func ForwardingRunner(d Dispatcher) ActionRunner {
	return ActionRunnerFunc(func(ctx context.Context, p *Plan, t *Task) error {
		_, err := d.EnqueueIfNotQueued(ctx,
			dispatch.Key(TaskKeyPrefix, t.ID),
			fmt.Sprintf("task.%s", t.Action),
			TaskRequest{PlanID: p.ID, TaskID: t.ID, Action: t.Action, TargetReference: t.TargetReference},
		)
		return err
	})
}
