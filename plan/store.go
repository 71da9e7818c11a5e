package plan

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chorus/jobs/errors"
	"github.com/chorus/jobs/recurrence"
)

// DueBatchLimit caps how many due plans one tick picks up.
const DueBatchLimit = 100

// resultTimeLayout keeps a fixed-width fraction so that result timestamps
// sort correctly as text.
const resultTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const planColumns = `id, workspace_id, name, owner_id, interval_unit, interval_value,
	next_run, end_run, time_zone, enabled, last_run, created_at, updated_at`

const taskColumns = `id, plan_id, action, name, target_reference, position, created_at`

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Store persists plans, tasks and results in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore creates a plan store over a migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

// CreatePlan inserts a plan and its tasks in one transaction, filling in
// IDs and timestamps that are missing.
func (s *Store) CreatePlan(ctx context.Context, p *Plan) error {
	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO job_plans (`+planColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.WorkspaceID, p.Name, p.OwnerID,
			string(p.IntervalUnit), p.IntervalValue,
			formatTime(p.NextRun), formatDate(p.EndRun), p.TimeZone,
			p.Enabled, formatTime(p.LastRun),
			p.CreatedAt.UTC().Format(time.RFC3339), p.UpdatedAt.Format(time.RFC3339),
		)
		if err != nil {
			err = errors.Wrap(err, "failed to create job plan")
			return errors.WithDetail(err, fmt.Sprintf("Plan: %s (%s)", p.Name, p.ID))
		}

		for i, t := range p.Tasks {
			t.PlanID = p.ID
			t.Position = i
			if err := insertTask(ctx, tx, t); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetPlan loads a plan with its tasks in position order.
func (s *Store) GetPlan(ctx context.Context, id string) (*Plan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM job_plans WHERE id = ?`, id)
	p, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(errors.ErrNotFound, "job plan %s", id)
		}
		return nil, errors.Wrapf(err, "failed to get job plan %s", id)
	}

	tasks, err := loadTasks(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	p.Tasks = tasks
	return p, nil
}

// UpdatePlan rewrites the name and schedule of a plan. Tasks are managed
// through the task methods and are not touched here.
func (s *Store) UpdatePlan(ctx context.Context, p *Plan) error {
	p.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE job_plans
		SET name = ?, owner_id = ?, interval_unit = ?, interval_value = ?,
		    next_run = ?, end_run = ?, time_zone = ?, enabled = ?, updated_at = ?
		WHERE id = ?`,
		p.Name, p.OwnerID, string(p.IntervalUnit), p.IntervalValue,
		formatTime(p.NextRun), formatDate(p.EndRun), p.TimeZone, p.Enabled,
		p.UpdatedAt.Format(time.RFC3339), p.ID,
	)
	if err != nil {
		err = errors.Wrap(err, "failed to update job plan")
		return errors.WithDetail(err, fmt.Sprintf("Plan ID: %s", p.ID))
	}
	return requireAffected(res, "job plan", p.ID)
}

// DeletePlan removes a plan; tasks and results cascade.
func (s *Store) DeletePlan(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM job_plans WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "failed to delete job plan %s", id)
	}
	return requireAffected(res, "job plan", id)
}

// ListPlans returns the plans of a workspace, newest first. An empty
// workspace lists every plan.
func (s *Store) ListPlans(ctx context.Context, workspaceID string) ([]*Plan, error) {
	query := `SELECT ` + planColumns + ` FROM job_plans`
	var args []any
	if workspaceID != "" {
		query += ` WHERE workspace_id = ?`
		args = append(args, workspaceID)
	}
	query += ` ORDER BY created_at DESC, name ASC`

	plans, err := queryPlans(ctx, s.db, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list job plans")
	}
	for _, p := range plans {
		if p.Tasks, err = loadTasks(ctx, s.db, p.ID); err != nil {
			return nil, err
		}
	}
	return plans, nil
}

// ListDue returns enabled recurring plans whose next run is at or before
// now, oldest first.
func (s *Store) ListDue(ctx context.Context, now time.Time) ([]*Plan, error) {
	plans, err := queryPlans(ctx, s.db, `
		SELECT `+planColumns+`
		FROM job_plans
		WHERE enabled = 1 AND interval_unit != 'on_demand' AND next_run <= ?
		ORDER BY next_run ASC
		LIMIT ?`,
		now.UTC().Format(time.RFC3339), DueBatchLimit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list due job plans")
	}
	return plans, nil
}

// UpdateSchedule moves a plan's next run forward and sets whether it is
// still enabled. Used by the ticker after dispatching a due plan.
func (s *Store) UpdateSchedule(ctx context.Context, id string, next time.Time, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE job_plans SET next_run = ?, enabled = ?, updated_at = ?
		WHERE id = ? AND interval_unit != 'on_demand'`,
		next.UTC().Format(time.RFC3339), enabled, time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update schedule of job plan %s", id)
	}
	return requireAffected(res, "recurring job plan", id)
}

// RecordRun stamps when a plan last ran.
func (s *Store) RecordRun(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE job_plans SET last_run = ?, updated_at = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to record run of job plan %s", id)
	}
	return requireAffected(res, "job plan", id)
}

// GetTask loads a single task.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM job_tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(errors.ErrNotFound, "job task %s", id)
		}
		return nil, errors.Wrapf(err, "failed to get job task %s", id)
	}
	return t, nil
}

// AppendTask adds a task at the end of a plan's sequence.
func (s *Store) AppendTask(ctx context.Context, planID string, task *Task) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM job_plans WHERE id = ?)`, planID).Scan(&exists); err != nil {
			return errors.Wrapf(err, "failed to look up job plan %s", planID)
		}
		if !exists {
			return errors.Wrapf(errors.ErrNotFound, "job plan %s", planID)
		}

		tasks, err := loadTasks(ctx, tx, planID)
		if err != nil {
			return err
		}
		task.PlanID = planID
		task.Position = len(NewSequence(tasks))
		return insertTask(ctx, tx, task)
	})
}

// RemoveTask deletes a task and compacts the positions after it.
func (s *Store) RemoveTask(ctx context.Context, taskID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		planID, seq, err := sequenceOf(ctx, tx, taskID)
		if err != nil {
			return err
		}
		next, err := seq.Remove(taskID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM job_tasks WHERE id = ?`, taskID); err != nil {
			return errors.Wrapf(err, "failed to delete job task %s", taskID)
		}
		return applyPositions(ctx, tx, planID, seq.Changed(next))
	})
}

// MoveTaskUp swaps a task with its predecessor. Both positions change in
// the same transaction; moved is false when the task is already first.
func (s *Store) MoveTaskUp(ctx context.Context, taskID string) (bool, error) {
	return s.move(ctx, taskID, Sequence.MoveUp)
}

// MoveTaskDown swaps a task with its successor; moved is false when the
// task is already last.
func (s *Store) MoveTaskDown(ctx context.Context, taskID string) (bool, error) {
	return s.move(ctx, taskID, Sequence.MoveDown)
}

func (s *Store) move(ctx context.Context, taskID string, step func(Sequence, string) (Sequence, bool, error)) (bool, error) {
	var moved bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		planID, seq, err := sequenceOf(ctx, tx, taskID)
		if err != nil {
			return err
		}
		next, ok, err := step(seq, taskID)
		if err != nil || !ok {
			return err
		}
		moved = true
		return applyPositions(ctx, tx, planID, seq.Changed(next))
	})
	return moved, err
}

// CreateResult records a finished run.
func (s *Store) CreateResult(ctx context.Context, r *Result) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.TaskResults == nil {
		r.TaskResults = []TaskResult{}
	}
	taskResults, err := json.Marshal(r.TaskResults)
	if err != nil {
		return errors.Wrap(err, "failed to encode task results")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO job_results (id, plan_id, started_at, finished_at, succeeded, task_results, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.PlanID,
		r.StartedAt.UTC().Format(resultTimeLayout), r.FinishedAt.UTC().Format(resultTimeLayout),
		r.Succeeded, string(taskResults), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		err = errors.Wrap(err, "failed to create job result")
		return errors.WithDetail(err, fmt.Sprintf("Plan ID: %s", r.PlanID))
	}
	return nil
}

// LatestResult returns the most recently finished run of a plan.
func (s *Store) LatestResult(ctx context.Context, planID string) (*Result, error) {
	var r Result
	var startedAt, finishedAt, taskResults string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, plan_id, started_at, finished_at, succeeded, task_results
		FROM job_results
		WHERE plan_id = ?
		ORDER BY finished_at DESC, rowid DESC
		LIMIT 1`, planID,
	).Scan(&r.ID, &r.PlanID, &startedAt, &finishedAt, &r.Succeeded, &taskResults)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(errors.ErrNotFound, "no results for job plan %s", planID)
		}
		return nil, errors.Wrapf(err, "failed to get latest result of job plan %s", planID)
	}

	if r.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse started_at for result %s", r.ID)
	}
	if r.FinishedAt, err = time.Parse(time.RFC3339Nano, finishedAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse finished_at for result %s", r.ID)
	}
	if err := json.Unmarshal([]byte(taskResults), &r.TaskResults); err != nil {
		return nil, errors.Wrapf(err, "failed to decode task results for result %s", r.ID)
	}
	return &r, nil
}

func insertTask(ctx context.Context, q querier, t *Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO job_tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.PlanID, string(t.Action), t.Name, t.TargetReference, t.Position,
		t.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		err = errors.Wrap(err, "failed to create job task")
		return errors.WithDetail(err, fmt.Sprintf("Plan ID: %s, position %d", t.PlanID, t.Position))
	}
	return nil
}

// sequenceOf loads the full sequence that contains taskID.
func sequenceOf(ctx context.Context, q querier, taskID string) (string, Sequence, error) {
	var planID string
	err := q.QueryRowContext(ctx, `SELECT plan_id FROM job_tasks WHERE id = ?`, taskID).Scan(&planID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil, errors.Wrapf(errors.ErrNotFound, "job task %s", taskID)
		}
		return "", nil, errors.Wrapf(err, "failed to look up job task %s", taskID)
	}
	tasks, err := loadTasks(ctx, q, planID)
	if err != nil {
		return "", nil, err
	}
	return planID, NewSequence(tasks), nil
}

// applyPositions writes new positions without tripping UNIQUE(plan_id,
// position): changed rows first park at -(pos+1), then flip back in a
// single statement.
func applyPositions(ctx context.Context, q querier, planID string, changed []*Task) error {
	if len(changed) == 0 {
		return nil
	}
	for _, t := range changed {
		if _, err := q.ExecContext(ctx,
			`UPDATE job_tasks SET position = ? WHERE id = ?`, -t.Position-1, t.ID,
		); err != nil {
			return errors.Wrapf(err, "failed to park job task %s", t.ID)
		}
	}
	if _, err := q.ExecContext(ctx,
		`UPDATE job_tasks SET position = -position - 1 WHERE plan_id = ? AND position < 0`, planID,
	); err != nil {
		return errors.Wrapf(err, "failed to renumber tasks of job plan %s", planID)
	}
	return nil
}

func loadTasks(ctx context.Context, q querier, planID string) ([]*Task, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM job_tasks WHERE plan_id = ? ORDER BY position ASC`, planID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load tasks of job plan %s", planID)
	}
	defer rows.Close()

	tasks := []*Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to scan task of job plan %s", planID)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func queryPlans(ctx context.Context, q querier, query string, args ...any) ([]*Plan, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []*Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

func scanPlan(row rowScanner) (*Plan, error) {
	var p Plan
	var unit, createdAt, updatedAt string
	var nextRun, endRun, lastRun sql.NullString

	err := row.Scan(
		&p.ID, &p.WorkspaceID, &p.Name, &p.OwnerID, &unit, &p.IntervalValue,
		&nextRun, &endRun, &p.TimeZone, &p.Enabled, &lastRun, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.IntervalUnit = recurrence.IntervalUnit(unit)

	if p.NextRun, err = parseNullTime(nextRun); err != nil {
		return nil, errors.Wrapf(err, "failed to parse next_run for job plan %s", p.ID)
	}
	if p.LastRun, err = parseNullTime(lastRun); err != nil {
		return nil, errors.Wrapf(err, "failed to parse last_run for job plan %s", p.ID)
	}
	if endRun.Valid {
		d, err := recurrence.ParseDate(endRun.String)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse end_run for job plan %s", p.ID)
		}
		p.EndRun = &d
	}
	if p.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for job plan %s", p.ID)
	}
	if p.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for job plan %s", p.ID)
	}
	p.Tasks = []*Task{}
	return &p, nil
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var action, createdAt string
	if err := row.Scan(&t.ID, &t.PlanID, &action, &t.Name, &t.TargetReference, &t.Position, &createdAt); err != nil {
		return nil, err
	}
	t.Action = Action(action)
	var err error
	if t.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for job task %s", t.ID)
	}
	return &t, nil
}

func requireAffected(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "%s %s", what, id)
	}
	return nil
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func formatDate(d *recurrence.Date) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}
