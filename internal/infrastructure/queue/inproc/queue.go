package inproc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kirillkom/file-converter/internal/core/domain"
)

// Queue is a bounded in-process job queue served by a fixed worker pool.
// It is used when no broker is configured; queued jobs do not survive a
// restart.
type Queue struct {
	jobs    chan string
	workers int
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
}

func New(workers, capacity int, logger *slog.Logger) *Queue {
	if workers <= 0 {
		workers = 3
	}
	if capacity <= 0 {
		capacity = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		jobs:    make(chan string, capacity),
		workers: workers,
		logger:  logger.With("component", "inproc_queue"),
	}
}

// PublishJob enqueues without blocking; a full queue is reported as
// unavailable.
func (q *Queue) PublishJob(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return domain.WrapError(domain.ErrBackendUnavailable, "publish job", fmt.Errorf("queue closed"))
	}
	select {
	case q.jobs <- jobID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return domain.WrapError(domain.ErrBackendUnavailable, "publish job", fmt.Errorf("queue full (%d)", cap(q.jobs)))
	}
}

// SubscribeJobs runs the worker pool until ctx is done, then lets workers
// finish the jobs already queued.
func (q *Queue) SubscribeJobs(ctx context.Context, handler func(context.Context, string) error) error {
	var wg sync.WaitGroup
	for i := 0; i < q.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for jobID := range q.jobs {
				if err := handler(context.WithoutCancel(ctx), jobID); err != nil {
					q.logger.Error("job_handler_failed", "worker", worker, "job_id", jobID, "error", err)
				}
			}
		}(i)
	}

	<-ctx.Done()
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()
	wg.Wait()
	return nil
}

// Depth reports how many jobs are waiting.
func (q *Queue) Depth() int {
	return len(q.jobs)
}
