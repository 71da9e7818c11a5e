package async

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chorus/jobs/db"
	"github.com/chorus/jobs/errors"
	"github.com/chorus/jobs/logger"
)

const (
	// MaxOrphanedJobsToRecover limits how many jobs left running by a
	// previous process are re-queued on start
	MaxOrphanedJobsToRecover = 1000

	// DefaultMaxRetries is how many times a retryable failure is re-queued
	DefaultMaxRetries = 2
)

// WorkerPoolConfig contains configuration for the worker pool
type WorkerPoolConfig struct {
	Workers      int           `json:"workers"`
	PollInterval time.Duration `json:"poll_interval"`
	MaxRetries   int           `json:"max_retries"`
	RetryDelay   time.Duration `json:"retry_delay"` // doubled on every attempt
	StopTimeout  time.Duration `json:"stop_timeout"`
}

// DefaultWorkerPoolConfig returns sensible defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:      2,
		PollInterval: time.Second,
		MaxRetries:   DefaultMaxRetries,
		RetryDelay:   5 * time.Second,
		StopTimeout:  30 * time.Second,
	}
}

// WorkerPool runs queued jobs on a fixed number of goroutines.
type WorkerPool struct {
	queue     *Queue
	executor  JobExecutor
	registry  *HandlerRegistry
	cfg       WorkerPoolConfig
	parentCtx context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	onStart   func(job *Job)
	onRequeue func(job *Job)
	logger    *zap.SugaredLogger

	mu            sync.Mutex
	activeWorkers int
	jobsProcessed int
}

// NewWorkerPool creates a pool over queue. Register handlers on
// Registry() before calling Start.
func NewWorkerPool(ctx context.Context, queue *Queue, cfg WorkerPoolConfig, log *zap.SugaredLogger) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultWorkerPoolConfig().PollInterval
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultWorkerPoolConfig().StopTimeout
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	registry := NewHandlerRegistry()
	workerCtx, cancel := context.WithCancel(ctx)
	return &WorkerPool{
		queue:     queue,
		executor:  NewRegistryExecutor(registry),
		registry:  registry,
		cfg:       cfg,
		parentCtx: ctx,
		ctx:       workerCtx,
		cancel:    cancel,
		logger:    log.Named("pulse"),
	}
}

// OnStart registers a hook called after a job is claimed and before its
// handler runs. The dispatcher uses it to free the job's dispatch key.
func (wp *WorkerPool) OnStart(fn func(job *Job)) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	wp.onStart = fn
}

// OnRequeue registers a hook called before a started job goes back to the
// queue for another attempt. The dispatcher uses it to hold the job's
// dispatch key again while the attempt waits.
func (wp *WorkerPool) OnRequeue(fn func(job *Job)) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	wp.onRequeue = fn
}

// requeue runs the OnRequeue hook and then write. When write fails the job
// is still running in the store, so its key is freed again through OnStart.
func (wp *WorkerPool) requeue(job *Job, write func() error) error {
	wp.mu.Lock()
	onRequeue, onStart := wp.onRequeue, wp.onStart
	wp.mu.Unlock()

	if onRequeue != nil {
		onRequeue(job)
	}
	if err := write(); err != nil {
		if onStart != nil {
			onStart(job)
		}
		return err
	}
	return nil
}

// Start recovers jobs orphaned by a previous process and starts workers.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	select {
	case <-wp.ctx.Done():
		wp.ctx, wp.cancel = context.WithCancel(wp.parentCtx)
		logger.AddPulseOpenSymbol(wp.logger).Debugw("Recreated worker context after previous shutdown")
	default:
	}
	wp.mu.Unlock()

	if n, err := wp.recoverOrphanedJobs(); err != nil {
		wp.logger.Warnw("Failed to recover orphaned jobs", logger.FieldError, err)
	} else if n > 0 {
		logger.AddPulseOpenSymbol(wp.logger).Infow("Recovered orphaned jobs", logger.FieldCount, n)
	}

	for i := 0; i < wp.cfg.Workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	logger.AddPulseOpenSymbol(wp.logger).Infow("Worker pool started",
		"workers", wp.cfg.Workers,
		"poll_interval", wp.cfg.PollInterval,
		"handlers", wp.registry.Names(),
	)
}

// recoverOrphanedJobs re-queues jobs still marked running, which only
// happens when the previous process died mid-job.
func (wp *WorkerPool) recoverOrphanedJobs() (int, error) {
	running := JobStatusRunning
	orphaned, err := wp.queue.ListJobs(wp.ctx, &running, MaxOrphanedJobsToRecover)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list running jobs")
	}

	recovered := 0
	for _, job := range orphaned {
		job.Requeue("recovered after restart", 0)
		if err := wp.requeue(job, func() error { return wp.queue.UpdateJob(wp.ctx, job) }); err != nil {
			wp.logger.Warnw("Failed to recover orphaned job", logger.FieldJobID, job.ID, logger.FieldError, err)
			continue
		}
		recovered++
	}
	return recovered, nil
}

// Stop cancels the workers and waits for them, up to StopTimeout.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	cancel := wp.cancel
	wp.mu.Unlock()
	cancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	closing := logger.AddPulseCloseSymbol(wp.logger)
	select {
	case <-done:
		closing.Infow("Worker pool stopped")
	case <-time.After(wp.cfg.StopTimeout):
		closing.Warnw("Worker pool stop timed out, workers still running", "timeout", wp.cfg.StopTimeout)
	}
}

func (wp *WorkerPool) context() context.Context {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.ctx
}

// worker processes jobs from the queue
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	ctx := wp.context()

	ticker := time.NewTicker(wp.cfg.PollInterval)
	defer ticker.Stop()

	errorCount := 0
	const maxConsecutiveErrors = 5
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := wp.processNextJob(ctx)
			if err == nil {
				if errorCount > 0 {
					wp.logger.Infow("Worker recovered from errors", "worker_id", id, "previous_error_count", errorCount)
				}
				errorCount = 0
				backoff = time.Second
				continue
			}

			if ctx.Err() != nil || db.IsDatabaseClosed(err) {
				return
			}
			errorCount++
			wp.logger.Errorw("Worker error processing job",
				"worker_id", id,
				logger.FieldError, err,
				"consecutive_errors", errorCount,
			)
			if errorCount >= maxConsecutiveErrors {
				wp.logger.Warnw("Worker backing off due to consecutive errors", "worker_id", id, "backoff", backoff)
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				backoff = min(backoff*2, maxBackoff)
			}
		}
	}
}

// ProcessNext claims and runs one job. It reports whether a job was found.
// Exposed for callers that drive the queue synchronously.
func (wp *WorkerPool) ProcessNext(ctx context.Context) (bool, error) {
	job, err := wp.queue.Dequeue(ctx)
	if err != nil || job == nil {
		return false, err
	}
	return true, wp.run(ctx, job)
}

func (wp *WorkerPool) processNextJob(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}
	_, err := wp.ProcessNext(ctx)
	return err
}

func (wp *WorkerPool) run(ctx context.Context, job *Job) error {
	wp.mu.Lock()
	onStart := wp.onStart
	wp.activeWorkers++
	wp.jobsProcessed++
	wp.mu.Unlock()
	defer func() {
		wp.mu.Lock()
		wp.activeWorkers--
		wp.mu.Unlock()
	}()

	if onStart != nil {
		onStart(job)
	}

	log := wp.logger.With(logger.FieldJobID, job.ID, logger.FieldHandler, job.HandlerName)
	started := time.Now()
	execErr := wp.execute(ctx, job)
	duration := time.Since(started).Milliseconds()

	if execErr == nil {
		log.Infow("Job completed", logger.FieldDurationMS, duration)
		return wp.queue.CompleteJob(ctx, job.ID)
	}

	// Cancelled by shutdown: put it back untouched for the next process
	if ctx.Err() != nil {
		logger.AddPulseCloseSymbol(log).Warnw("Job interrupted by shutdown, re-queuing")
		job.Requeue("interrupted by shutdown", 0)
		return wp.requeue(job, func() error { return wp.queue.UpdateJob(context.WithoutCancel(ctx), job) })
	}

	ec := ClassifyError(job.HandlerName, execErr)
	if ec.Retryable && job.RetryCount < wp.cfg.MaxRetries {
		delay := wp.cfg.RetryDelay << job.RetryCount
		log.Warnw("Job failed, retry scheduled",
			logger.FieldError, execErr,
			logger.FieldErrorCode, ec.Code,
			"retry_count", job.RetryCount+1,
			"max_retries", wp.cfg.MaxRetries,
			"delay", delay,
		)
		reason := fmt.Sprintf("retry %d/%d: %v", job.RetryCount+1, wp.cfg.MaxRetries, execErr)
		return wp.requeue(job, func() error { return wp.queue.RetryJob(ctx, job.ID, reason, delay) })
	}

	log.Errorw("Job failed",
		logger.FieldError, execErr,
		logger.FieldErrorCode, ec.Code,
		logger.FieldRetryable, ec.Retryable,
		logger.FieldDurationMS, duration,
	)
	return wp.queue.FailJob(ctx, job.ID, execErr)
}

// execute runs the handler, turning a panic into a permanent failure.
func (wp *WorkerPool) execute(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(errors.Newf("handler %s panicked: %v", job.HandlerName, r))
		}
	}()
	return wp.executor.Execute(ctx, job)
}

// Queue returns the job queue
func (wp *WorkerPool) Queue() *Queue {
	return wp.queue
}

// Workers returns the number of concurrent workers configured for this pool
func (wp *WorkerPool) Workers() int {
	return wp.cfg.Workers
}

// Registry returns the handler registry. Register handlers before Start.
func (wp *WorkerPool) Registry() *HandlerRegistry {
	return wp.registry
}

// ActiveWorkers returns how many workers are executing a job right now.
func (wp *WorkerPool) ActiveWorkers() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.activeWorkers
}

// JobsProcessed returns how many jobs were claimed since creation.
func (wp *WorkerPool) JobsProcessed() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.jobsProcessed
}
