package async

import (
	"database/sql"
)

// jobScanArgs holds the nullable columns of a dispatch_jobs row.
type jobScanArgs struct {
	Payload     sql.NullString
	ErrorMsg    sql.NullString
	StartedAt   sql.NullTime
	CompletedAt sql.NullTime
}

type rowScanner interface {
	Scan(dest ...any) error
}

// jobSelectColumns is the column list every job query selects, in the
// order scanJob expects.
const jobSelectColumns = `id, handler_name, dispatch_key, payload, status, error,
	retry_count, run_after, created_at, started_at, completed_at, updated_at`

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var args jobScanArgs
	err := row.Scan(
		&job.ID,
		&job.HandlerName,
		&job.DispatchKey,
		&args.Payload,
		&job.Status,
		&args.ErrorMsg,
		&job.RetryCount,
		&job.RunAfter,
		&job.CreatedAt,
		&args.StartedAt,
		&args.CompletedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if args.Payload.Valid {
		job.Payload = []byte(args.Payload.String)
	}
	if args.ErrorMsg.Valid {
		job.Error = args.ErrorMsg.String
	}
	if args.StartedAt.Valid {
		t := args.StartedAt.Time.UTC()
		job.StartedAt = &t
	}
	if args.CompletedAt.Valid {
		t := args.CompletedAt.Time.UTC()
		job.CompletedAt = &t
	}
	job.RunAfter = job.RunAfter.UTC()
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	return &job, nil
}
