// Package async serializes extraction jobs. A local model owns the
// device while loaded, so concurrent HTTP uploads must take turns rather
// than race for it.
package async

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

var ErrQueueClosed = errors.New("extraction queue is shut down")

type task struct {
	id          string
	submittedAt time.Time
	ctx         context.Context
	run         func(context.Context)
	done        chan struct{}
}

// Queue runs submitted tasks one at a time on a single worker goroutine.
type Queue struct {
	logger *slog.Logger
	tasks  chan *task
	quit   chan struct{}
	idle   chan struct{} // closed when the worker exits
}

// NewQueue starts the worker. Depth bounds how many callers may wait in
// line; further submissions block in Submit until a slot frees.
func NewQueue(logger *slog.Logger, depth int) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	if depth <= 0 {
		depth = 8
	}
	q := &Queue{
		logger: logger,
		tasks:  make(chan *task, depth),
		quit:   make(chan struct{}),
		idle:   make(chan struct{}),
	}
	go q.worker()
	return q
}

// Submit enqueues run and blocks until it has finished or ctx is done.
// The task receives the submitter's context, so a caller that gives up
// also cancels its own in-flight model calls.
func (q *Queue) Submit(ctx context.Context, run func(context.Context)) error {
	t := &task{
		id:          uuid.New().String(),
		submittedAt: time.Now(),
		ctx:         ctx,
		run:         run,
		done:        make(chan struct{}),
	}

	select {
	case q.tasks <- t:
	case <-q.quit:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		// the worker still observes ctx and abandons the job itself
		return ctx.Err()
	}
}

// Shutdown stops accepting work and waits for the current task, up to the
// deadline on ctx. Queued-but-unstarted tasks are dropped.
func (q *Queue) Shutdown(ctx context.Context) {
	close(q.quit)
	select {
	case <-q.idle:
	case <-ctx.Done():
		q.logger.Warn("async.shutdown_timeout")
	}
}

func (q *Queue) worker() {
	defer close(q.idle)
	for {
		select {
		case <-q.quit:
			return
		case t := <-q.tasks:
			if t.ctx.Err() != nil {
				q.logger.Debug("async.task_abandoned", "task_id", t.id)
				close(t.done)
				continue
			}
			waited := time.Since(t.submittedAt)
			start := time.Now()
			t.run(t.ctx)
			q.logger.Debug("async.task_done",
				"task_id", t.id,
				"waited_ms", waited.Milliseconds(),
				"elapsed_ms", time.Since(start).Milliseconds())
			close(t.done)
		}
	}
}
