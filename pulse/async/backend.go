package async

import (
	"context"

	"github.com/chorus/jobs/dispatch"
	"github.com/chorus/jobs/errors"
)

// QueueBackend submits dispatch requests as queued jobs.
type QueueBackend struct {
	queue *Queue
}

// NewQueueBackend creates a dispatch backend over queue.
func NewQueueBackend(queue *Queue) *QueueBackend {
	return &QueueBackend{queue: queue}
}

func (b *QueueBackend) Submit(ctx context.Context, req dispatch.Request) error {
	job, err := NewJob(req.JobName, req.Key, req.Payload)
	if err != nil {
		return errors.Wrapf(err, "invalid request %s", req.Key)
	}
	return b.queue.Enqueue(ctx, job)
}
