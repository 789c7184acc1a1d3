// Package jobtrack records the lifecycle of long-running pipeline runs as
// job executions with ordered steps, so a client polling for status can see
// what a run did and where it stopped. Executions and steps are append-only:
// nothing is edited after creation except Finish setting the terminal fields.
package jobtrack

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the overall status of an execution or of a single step.
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// ErrAlreadyFinished is returned when Finish is called on an execution that
// already has an end time.
var ErrAlreadyFinished = errors.New("job execution already finished")

// Execution is the audit record of one pipeline run.
type Execution struct {
	ID         string     `json:"id"`
	JobName    string     `json:"job_name"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     Status     `json:"status"`
}

// Step is one stage of an execution. StepOrder is assigned by the Tracker,
// never by callers, and is gap-free ascending within its execution.
type Step struct {
	ID          string    `json:"id"`
	ExecutionID string    `json:"execution_id"`
	StepOrder   int       `json:"step_order"`
	Name        string    `json:"name"`
	Status      Status    `json:"status"`
	Detail      string    `json:"detail,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Filter narrows and pages execution listings.
type Filter struct {
	JobName string
	Limit   int
	Offset  int
}

// Store persists executions and steps. Implementations must be safe for
// concurrent writers across different executions; step writes within one
// execution are serialized by the Tracker.
type Store interface {
	InsertExecution(ctx context.Context, exec *Execution) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
	// FinishExecution sets the terminal fields; it returns ErrAlreadyFinished
	// when the execution already has an end time.
	FinishExecution(ctx context.Context, id string, status Status, finishedAt time.Time) error
	InsertStep(ctx context.Context, step *Step) error
	// ListExecutions returns executions ordered by start time descending.
	ListExecutions(ctx context.Context, filter Filter) ([]*Execution, error)
	// ListSteps returns steps ordered by step order ascending.
	ListSteps(ctx context.Context, executionID string) ([]*Step, error)
	// MaxStepOrder returns the highest assigned step order for an execution,
	// or 0 when it has none.
	MaxStepOrder(ctx context.Context, executionID string) (int, error)
}

// Tracker assigns step ordering and enforces the write-once terminal rules
// on top of a Store.
type Tracker struct {
	store Store

	mu   sync.Mutex
	next map[string]int
}

// New creates a Tracker backed by the given store.
func New(store Store) *Tracker {
	return &Tracker{
		store: store,
		next:  make(map[string]int),
	}
}

// Start creates a RUNNING execution with no end time.
func (t *Tracker) Start(ctx context.Context, jobName string) (*Execution, error) {
	exec := &Execution{
		ID:        uuid.NewString(),
		JobName:   jobName,
		StartedAt: time.Now().UTC(),
		Status:    StatusRunning,
	}
	if err := t.store.InsertExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("start execution %q: %w", jobName, err)
	}

	t.mu.Lock()
	t.next[exec.ID] = 1
	t.mu.Unlock()

	return exec, nil
}

// RecordStep appends a step with the next ascending order for the execution.
// Ordering is gap-free: the counter only advances when the step was stored.
func (t *Tracker) RecordStep(ctx context.Context, executionID, name string, status Status, detail string) (*Step, error) {
	order, release, err := t.reserveOrder(ctx, executionID)
	if err != nil {
		return nil, err
	}

	step := &Step{
		ID:          uuid.NewString(),
		ExecutionID: executionID,
		StepOrder:   order,
		Name:        name,
		Status:      status,
		Detail:      detail,
		RecordedAt:  time.Now().UTC(),
	}
	if err := t.store.InsertStep(ctx, step); err != nil {
		release(false)
		return nil, fmt.Errorf("record step %q: %w", name, err)
	}
	release(true)
	return step, nil
}

// reserveOrder hands out the next step order for an execution. The counter
// is seeded from the store when this tracker did not start the execution.
func (t *Tracker) reserveOrder(ctx context.Context, executionID string) (int, func(committed bool), error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	order, ok := t.next[executionID]
	if !ok {
		max, err := t.store.MaxStepOrder(ctx, executionID)
		if err != nil {
			return 0, nil, fmt.Errorf("seed step order: %w", err)
		}
		order = max + 1
	}
	t.next[executionID] = order + 1

	release := func(committed bool) {
		if committed {
			return
		}
		// Roll the counter back so a failed insert leaves no gap, unless a
		// later reservation already moved past it.
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.next[executionID] == order+1 {
			t.next[executionID] = order
		}
	}
	return order, release, nil
}

// Finish sets the end time and overall status. Outcome must be SUCCEEDED or
// FAILED; finishing twice returns ErrAlreadyFinished.
func (t *Tracker) Finish(ctx context.Context, executionID string, outcome Status) error {
	if outcome != StatusSucceeded && outcome != StatusFailed {
		return fmt.Errorf("finish execution: invalid outcome %q", outcome)
	}
	if err := t.store.FinishExecution(ctx, executionID, outcome, time.Now().UTC()); err != nil {
		return err
	}

	t.mu.Lock()
	delete(t.next, executionID)
	t.mu.Unlock()
	return nil
}

// Get returns a single execution.
func (t *Tracker) Get(ctx context.Context, executionID string) (*Execution, error) {
	return t.store.GetExecution(ctx, executionID)
}

// List returns executions ordered by start time descending.
func (t *Tracker) List(ctx context.Context, filter Filter) ([]*Execution, error) {
	return t.store.ListExecutions(ctx, filter)
}

// Steps returns the steps of an execution ordered by step order ascending.
func (t *Tracker) Steps(ctx context.Context, executionID string) ([]*Step, error) {
	return t.store.ListSteps(ctx, executionID)
}
