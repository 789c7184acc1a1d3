// Package queue is the in-process task queue that moves statement parsing
// off the request path. It uses Go channels for distribution and is safe for
// concurrent use. There is no automatic retry: a stage that fails reports
// the failure on its job and the run ends there.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskKind identifies what a task asks a worker to do.
type TaskKind string

const (
	// KindStatementParse advances a statement from TEXT_EXTRACTED through
	// the model parsing stages.
	KindStatementParse TaskKind = "statement_parse"
)

// Task is one unit of background work. RefID names the record the worker
// should advance.
type Task struct {
	ID        string
	Kind      TaskKind
	RefID     string
	CreatedAt time.Time
}

// Handler processes a single task. Errors are logged by the worker; the
// handler itself is responsible for recording the failure on the job.
type Handler func(ctx context.Context, task Task) error

// Queue is a buffered in-memory task queue with a worker pool. Suitable for
// single-instance deployments; the Publisher/Consumer split keeps the door
// open for an external broker later.
type Queue struct {
	tasks     chan Task
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	workers   int
	closed    bool
}

// New creates a queue. bufferSize bounds how many tasks may wait before
// Publish blocks; workers is the size of the worker pool started by Start.
func New(bufferSize, workers int) *Queue {
	return &Queue{
		tasks:     make(chan Task, bufferSize),
		closeChan: make(chan struct{}),
		workers:   workers,
	}
}

// Publish enqueues a task, blocking when the buffer is full.
func (q *Queue) Publish(ctx context.Context, kind TaskKind, refID string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return fmt.Errorf("queue is closed")
	}

	task := Task{
		ID:        uuid.NewString(),
		Kind:      kind,
		RefID:     refID,
		CreatedAt: time.Now(),
	}

	select {
	case q.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return fmt.Errorf("queue is closed")
	}
}

// Start launches the worker pool. The handler is invoked once per task;
// a task whose handler errors is not re-enqueued.
func (q *Queue) Start(ctx context.Context, handler Handler) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return fmt.Errorf("queue is closed")
	}
	q.mu.RUnlock()

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}
	return nil
}

func (q *Queue) worker(ctx context.Context, handler Handler) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case task := <-q.tasks:
			_ = handler(ctx, task)
		}
	}
}

// Stop closes the queue and waits for in-flight tasks to finish, bounded by
// the context.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
