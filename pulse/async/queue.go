package async

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/chorus/jobs/errors"
)

const (
	// MaxJobsLimit is the most jobs a single listing returns
	MaxJobsLimit = 10000
	// SubscriberChannelBufferSize is the buffer size for subscriber channels
	SubscriberChannelBufferSize = 100
)

// Queue wraps the store with state transitions and update fan-out.
type Queue struct {
	store       *Store
	mu          sync.RWMutex
	subscribers []chan *Job
}

// NewQueue creates a new job queue
func NewQueue(db *sql.DB) *Queue {
	return &Queue{
		store:       NewStore(db),
		subscribers: make([]chan *Job, 0),
	}
}

// Store exposes the underlying store
func (q *Queue) Store() *Store {
	return q.store
}

// Enqueue adds a new job to the queue
func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.CreateJob(ctx, job); err != nil {
		err = errors.Wrap(err, "failed to enqueue job")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Handler: %s", job.HandlerName))
		err = errors.WithDetail(err, fmt.Sprintf("Dispatch key: %s", job.DispatchKey))
		return err
	}

	q.notifySubscribers(job)
	return nil
}

// Dequeue takes the oldest runnable queued job and marks it as running.
// Returns nil when nothing is ready.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.NextQueued(ctx, time.Now())
	if err != nil {
		return nil, errors.Wrap(err, "failed to get queued job")
	}
	if job == nil {
		return nil, nil
	}

	job.Start()
	if err := q.store.UpdateJob(ctx, job); err != nil {
		err = errors.Wrap(err, "failed to mark job as running")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Handler: %s", job.HandlerName))
		return nil, err
	}

	q.notifySubscribers(job)
	return job, nil
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.store.GetJob(ctx, id)
}

// UpdateJob updates a job's state
func (q *Queue) UpdateJob(ctx context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.UpdateJob(ctx, job); err != nil {
		err = errors.Wrap(err, "failed to update job")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Status: %s", job.Status))
		return err
	}

	q.notifySubscribers(job)
	return nil
}

// CompleteJob marks a job as completed
func (q *Queue) CompleteJob(ctx context.Context, id string) error {
	return q.transition(ctx, id, "complete", func(job *Job) { job.Complete() })
}

// FailJob marks a job as failed with an error
func (q *Queue) FailJob(ctx context.Context, id string, jobErr error) error {
	return q.transition(ctx, id, "fail", func(job *Job) { job.Fail(jobErr) })
}

// RetryJob re-queues a job after delay and counts the attempt.
func (q *Queue) RetryJob(ctx context.Context, id string, reason string, delay time.Duration) error {
	return q.transition(ctx, id, "retry", func(job *Job) {
		job.RetryCount++
		job.Requeue(reason, delay)
	})
}

func (q *Queue) transition(ctx context.Context, id, op string, apply func(*Job)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.GetJob(ctx, id)
	if err != nil {
		err = errors.Wrapf(err, "failed to %s job %s", op, id)
		return errors.WithDetail(err, fmt.Sprintf("Job ID: %s", id))
	}

	apply(job)

	if err := q.store.UpdateJob(ctx, job); err != nil {
		err = errors.Wrapf(err, "failed to %s job", op)
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Handler: %s", job.HandlerName))
		return err
	}

	q.notifySubscribers(job)
	return nil
}

// ListJobs returns jobs, optionally filtered by status
func (q *Queue) ListJobs(ctx context.Context, status *JobStatus, limit int) ([]*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if limit <= 0 || limit > MaxJobsLimit {
		limit = MaxJobsLimit
	}
	return q.store.ListJobs(ctx, status, limit)
}

// Subscribe returns a channel that receives job updates.
// The caller is responsible for calling Unsubscribe when done.
func (q *Queue) Subscribe() chan *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch := make(chan *Job, SubscriberChannelBufferSize)
	q.subscribers = append(q.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel from the queue.
// The channel is NOT closed by this method.
func (q *Queue) Unsubscribe(ch chan *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, sub := range q.subscribers {
		if sub == ch {
			q.subscribers = append(q.subscribers[:i], q.subscribers[i+1:]...)
			return
		}
	}
}

// notifySubscribers sends a copy of job to every subscriber without
// blocking; slow subscribers miss updates.
// REQUIRES: q.mu held.
func (q *Queue) notifySubscribers(job *Job) {
	for _, ch := range q.subscribers {
		snapshot := *job
		select {
		case ch <- &snapshot:
		default:
		}
	}
}

// Cleanup removes old completed/failed jobs
func (q *Queue) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.store.CleanupOldJobs(ctx, olderThan)
}

// QueueStats returns statistics about the queue
type QueueStats struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// GetStats returns queue statistics
func (q *Queue) GetStats(ctx context.Context) (*QueueStats, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	counts, err := q.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	stats := &QueueStats{
		Queued:    counts[JobStatusQueued],
		Running:   counts[JobStatusRunning],
		Completed: counts[JobStatusCompleted],
		Failed:    counts[JobStatusFailed],
	}
	for _, n := range counts {
		stats.Total += n
	}
	return stats, nil
}
