package plan

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chorus/jobs/dispatch"
	"github.com/chorus/jobs/errors"
	"github.com/chorus/jobs/logger"
	"github.com/chorus/jobs/recurrence"
)

// DefaultTimeZone is used when neither a Spec nor its anchor names a zone.
const DefaultTimeZone = "UTC"

// Trigger says why a plan run was requested.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
)

// RunPayload is the body of a plan.run request.
type RunPayload struct {
	PlanID  string  `json:"plan_id"`
	Trigger Trigger `json:"trigger,omitempty"`
}

// RunKey is the dispatch key for runs of a plan.
func RunKey(planID string) string {
	return dispatch.Key(RunKeyPrefix, planID)
}

// Dispatcher is the part of dispatch.Dispatcher the service needs.
type Dispatcher interface {
	EnqueueIfNotQueued(ctx context.Context, key, jobName string, payload any) (bool, error)
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithDefaultZone sets the zone used by specs that name none.
func WithDefaultZone(zone string) Option {
	return func(s *Service) { s.defaultZone = zone }
}

// WithLogger sets the service logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Service) { s.log = log }
}

// Service is the plan API used by the HTTP layer and the CLI.
type Service struct {
	store       *Store
	dispatcher  Dispatcher
	now         func() time.Time
	defaultZone string
	log         *zap.SugaredLogger
}

// NewService creates a Service. dispatcher may be nil when runs are never
// triggered, as in the CLI.
func NewService(store *Store, dispatcher Dispatcher, opts ...Option) *Service {
	s := &Service{
		store:       store,
		dispatcher:  dispatcher,
		now:         time.Now,
		defaultZone: DefaultTimeZone,
		log:         zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logger.AddPlanSymbol(s.log)
	return s
}

// Store exposes the underlying store.
func (s *Service) Store() *Store {
	return s.store
}

// CreateJobPlan validates spec and persists a new plan with its tasks.
// Plans are enabled unless Spec.Enabled is set to false.
func (s *Service) CreateJobPlan(ctx context.Context, spec Spec) (*Plan, error) {
	sched, tasks, err := s.validate(spec)
	if err != nil {
		return nil, err
	}

	p := &Plan{
		WorkspaceID: strings.TrimSpace(spec.WorkspaceID),
		Name:        strings.TrimSpace(spec.Name),
		OwnerID:     spec.OwnerID,
		Enabled:     true,
		Tasks:       tasks,
	}
	if spec.Enabled != nil {
		p.Enabled = *spec.Enabled
	}
	applySchedule(p, sched)

	if err := s.store.CreatePlan(ctx, p); err != nil {
		return nil, err
	}
	s.log.Infow("Job plan created",
		logger.FieldPlanID, p.ID,
		logger.FieldWorkspaceID, p.WorkspaceID,
		logger.FieldInterval, intervalString(p),
		logger.FieldNextRun, p.NextRun,
	)
	return p, nil
}

// ValidateSpec reports every field error CreateJobPlan would, without
// writing anything.
func (s *Service) ValidateSpec(spec Spec) error {
	_, _, err := s.validate(spec)
	return err
}

func (s *Service) validate(spec Spec) (Schedule, []*Task, error) {
	sched, err := spec.Normalize(s.defaultZone)
	verr := &errors.ValidationError{}
	if err != nil {
		mergeFields(verr, err)
	}
	tasks, err := BuildTasks(spec.Tasks)
	if err != nil {
		mergeFields(verr, err)
	}
	return sched, tasks, verr.OrNil()
}

// UpdateJobPlan replaces the name and schedule of a plan. Tasks are left
// alone, and a nil Enabled keeps the current value.
func (s *Service) UpdateJobPlan(ctx context.Context, id string, spec Spec) (*Plan, error) {
	p, err := s.store.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}

	sched, err := spec.Normalize(s.defaultZone)
	if err != nil {
		return nil, err
	}

	p.Name = strings.TrimSpace(spec.Name)
	if spec.OwnerID != "" {
		p.OwnerID = spec.OwnerID
	}
	if spec.Enabled != nil {
		p.Enabled = *spec.Enabled
	}
	applySchedule(p, sched)

	if err := s.store.UpdatePlan(ctx, p); err != nil {
		return nil, err
	}
	s.log.Infow("Job plan updated",
		logger.FieldPlanID, p.ID,
		logger.FieldInterval, intervalString(p),
		logger.FieldNextRun, p.NextRun,
		logger.FieldEndRun, p.EndRun,
	)
	return p, nil
}

func applySchedule(p *Plan, sched Schedule) {
	p.IntervalUnit, p.IntervalValue = recurrence.NormalizeInterval(sched.Unit, sched.Value)
	p.NextRun = sched.NextRun
	p.EndRun = sched.EndRun
	p.TimeZone = sched.TimeZone
}

func intervalString(p *Plan) string {
	if p.OnDemand() {
		return string(p.IntervalUnit)
	}
	return fmt.Sprintf("%s/%d", p.IntervalUnit, p.IntervalValue)
}

// MoveTaskUp swaps a task with the one before it and returns the plan.
// The first task stays where it is.
func (s *Service) MoveTaskUp(ctx context.Context, taskID string) (*Plan, error) {
	return s.moveTask(ctx, taskID, s.store.MoveTaskUp)
}

// MoveTaskDown swaps a task with the one after it and returns the plan.
// The last task stays where it is.
func (s *Service) MoveTaskDown(ctx context.Context, taskID string) (*Plan, error) {
	return s.moveTask(ctx, taskID, s.store.MoveTaskDown)
}

func (s *Service) moveTask(ctx context.Context, taskID string, move func(context.Context, string) (bool, error)) (*Plan, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	moved, err := move(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if moved {
		s.log.Debugw("Job task moved", logger.FieldPlanID, task.PlanID, logger.FieldTaskID, taskID)
	}
	return s.store.GetPlan(ctx, task.PlanID)
}

// AddTask appends a task to the end of a plan.
func (s *Service) AddTask(ctx context.Context, planID, action, target, name string) (*Task, error) {
	verr := &errors.ValidationError{}
	parsed, err := ParseAction(action)
	if err != nil {
		mergeFields(verr, err)
	}
	if strings.TrimSpace(target) == "" {
		verr.Add("target_reference", errors.CodeBlank)
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	task := &Task{
		Action:          parsed,
		Name:            strings.TrimSpace(name),
		TargetReference: strings.TrimSpace(target),
	}
	if err := s.store.AppendTask(ctx, planID, task); err != nil {
		return nil, err
	}
	s.log.Infow("Job task added",
		logger.FieldPlanID, planID,
		logger.FieldTaskID, task.ID,
		"action", task.Action,
		"position", task.Position,
	)
	return task, nil
}

// RemoveTask deletes a task and closes the gap it leaves.
func (s *Service) RemoveTask(ctx context.Context, taskID string) error {
	if err := s.store.RemoveTask(ctx, taskID); err != nil {
		return err
	}
	s.log.Infow("Job task removed", logger.FieldTaskID, taskID)
	return nil
}

// GetNextRun returns the next scheduled run, or nil for on_demand plans.
func (s *Service) GetNextRun(ctx context.Context, id string) (*time.Time, error) {
	p, err := s.store.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.NextRun, nil
}

// GetEndRun returns the last date the plan may run on, or nil.
func (s *Service) GetEndRun(ctx context.Context, id string) (*recurrence.Date, error) {
	p, err := s.store.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.EndRun, nil
}

func (s *Service) GetPlan(ctx context.Context, id string) (*Plan, error) {
	return s.store.GetPlan(ctx, id)
}

func (s *Service) ListPlans(ctx context.Context, workspaceID string) ([]*Plan, error) {
	return s.store.ListPlans(ctx, workspaceID)
}

func (s *Service) DeletePlan(ctx context.Context, id string) error {
	if err := s.store.DeletePlan(ctx, id); err != nil {
		return err
	}
	s.log.Infow("Job plan deleted", logger.FieldPlanID, id)
	return nil
}

// RunNow requests an immediate run of a plan. It reports false when a run
// is already queued; that request will do the work.
func (s *Service) RunNow(ctx context.Context, id string) (bool, error) {
	if s.dispatcher == nil {
		return false, errors.Wrap(errors.ErrServiceUnavailable, "no dispatcher configured")
	}
	if _, err := s.store.GetPlan(ctx, id); err != nil {
		return false, err
	}
	queued, err := s.dispatcher.EnqueueIfNotQueued(ctx, RunKey(id), RunHandlerName, RunPayload{PlanID: id, Trigger: TriggerManual})
	if err != nil {
		return false, err
	}
	s.log.Infow("Job plan run requested", logger.FieldPlanID, id, "queued", queued)
	return queued, nil
}

// LatestResult returns the most recent run of a plan.
func (s *Service) LatestResult(ctx context.Context, id string) (*Result, error) {
	if _, err := s.store.GetPlan(ctx, id); err != nil {
		return nil, err
	}
	return s.store.LatestResult(ctx, id)
}
