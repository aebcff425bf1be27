// Package tasks runs background jobs on a bounded worker pool. Each job gets a
// Ticket so callers that care can observe its completion.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nurture-app/nurture-backend/internal/logger"
)

var (
	ErrQueueClosed = errors.New("task queue is closed")
	ErrQueueFull   = errors.New("task queue is full")
)

type Job func(ctx context.Context) error

type Ticket struct {
	Name string

	done chan struct{}
	err  error
}

// Done is closed once the job has finished.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Err returns the job's error. Only meaningful after Done is closed.
func (t *Ticket) Err() error {
	return t.err
}

// Wait blocks until the job finishes or ctx ends.
func (t *Ticket) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type task struct {
	ticket *Ticket
	job    Job
}

type Queue struct {
	jobs       chan task
	jobTimeout time.Duration
	log        *logger.Logger

	baseCtx context.Context
	cancel  context.CancelFunc

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewQueue starts workers goroutines reading from a buffer of depth jobs.
// jobTimeout bounds each job; zero means no per-job limit.
func NewQueue(workers, depth int, jobTimeout time.Duration, log *logger.Logger) *Queue {
	if workers < 1 {
		workers = 1
	}
	if depth < 0 {
		depth = 0
	}
	if log == nil {
		log = logger.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		jobs:       make(chan task, depth),
		jobTimeout: jobTimeout,
		log:        log.With("component", "TaskQueue"),
		baseCtx:    ctx,
		cancel:     cancel,
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.log.Info("Task queue started", "workers", workers, "depth", depth)
	return q
}

// Enqueue schedules job without blocking. It fails with ErrQueueFull when the
// buffer is full and with ErrQueueClosed once the queue has been shut down.
func (q *Queue) Enqueue(name string, job Job) (*Ticket, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return nil, ErrQueueClosed
	}
	t := &Ticket{Name: name, done: make(chan struct{})}
	select {
	case q.jobs <- task{ticket: t, job: job}:
		return t, nil
	default:
		q.log.Warn("Dropping job, queue is full", "job", name, "depth", cap(q.jobs))
		return nil, ErrQueueFull
	}
}

// Shutdown stops accepting jobs and waits for queued ones to drain. If ctx ends
// first, running jobs are cancelled and ctx's error is returned.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		q.cancel()
		q.log.Info("Task queue drained")
		return nil
	case <-ctx.Done():
		q.cancel()
		q.log.Warn("Task queue shutdown timed out, cancelling running jobs", "error", ctx.Err())
		return ctx.Err()
	}
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	for t := range q.jobs {
		t.ticket.err = q.run(t)
		if t.ticket.err != nil {
			q.log.Warn("Task failed", "task", t.ticket.Name, "worker", id, "error", t.ticket.err)
		} else {
			q.log.Debug("Task finished", "task", t.ticket.Name, "worker", id)
		}
		close(t.ticket.done)
	}
}

func (q *Queue) run(t task) (err error) {
	ctx := q.baseCtx
	if q.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.jobTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", t.ticket.Name, r)
		}
	}()
	return t.job(ctx)
}
