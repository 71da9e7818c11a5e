package async

import (
	"context"
	"database/sql"
	"time"

	"github.com/chorus/jobs/errors"
)

// Store handles persistence of queued jobs
type Store struct {
	db *sql.DB
}

// NewStore creates a new job store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateJob inserts a new job into the database
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dispatch_jobs (`+jobSelectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.HandlerName,
		job.DispatchKey,
		sql.NullString{String: string(job.Payload), Valid: len(job.Payload) > 0},
		string(job.Status),
		sql.NullString{String: job.Error, Valid: job.Error != ""},
		job.RetryCount,
		job.RunAfter.UTC(),
		job.CreatedAt.UTC(),
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
		job.UpdatedAt.UTC(),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create job")
	}
	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobSelectColumns+` FROM dispatch_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "job %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job")
	}
	return job, nil
}

// UpdateJob writes the mutable fields of a job back
func (s *Store) UpdateJob(ctx context.Context, job *Job) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE dispatch_jobs
		SET status = ?,
		    error = ?,
		    retry_count = ?,
		    run_after = ?,
		    started_at = ?,
		    completed_at = ?,
		    updated_at = ?
		WHERE id = ?`,
		string(job.Status),
		sql.NullString{String: job.Error, Valid: job.Error != ""},
		job.RetryCount,
		job.RunAfter.UTC(),
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
		job.UpdatedAt.UTC(),
		job.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update job")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "job %s", job.ID)
	}
	return nil
}

// NextQueued returns the oldest queued job whose run_after has passed, or
// nil when there is none.
func (s *Store) NextQueued(ctx context.Context, now time.Time) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobSelectColumns+`
		FROM dispatch_jobs
		WHERE status = ? AND run_after <= ?
		ORDER BY created_at ASC, rowid ASC
		LIMIT 1`,
		string(JobStatusQueued), now.UTC(),
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get next queued job")
	}
	return job, nil
}

// ListJobs returns jobs, newest first, optionally filtered by status
func (s *Store) ListJobs(ctx context.Context, status *JobStatus, limit int) ([]*Job, error) {
	query := `SELECT ` + jobSelectColumns + ` FROM dispatch_jobs`
	var args []any
	if status != nil {
		query += ` WHERE status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// CountByStatus returns how many jobs are in each status.
func (s *Store) CountByStatus(ctx context.Context) (map[JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM dispatch_jobs GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs")
	}
	defer rows.Close()

	counts := make(map[JobStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan job count")
		}
		counts[JobStatus(status)] = n
	}
	return counts, rows.Err()
}

// CleanupOldJobs deletes completed and failed jobs that finished before
// the cutoff.
func (s *Store) CleanupOldJobs(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM dispatch_jobs
		WHERE status IN (?, ?) AND completed_at < ?`,
		string(JobStatusCompleted), string(JobStatusFailed), cutoff,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to clean up jobs")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read affected rows")
	}
	return int(n), nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
