// Package inmemory is the in-memory implementation of jobtrack.Store. It is
// safe for concurrent use; data is lost on restart. For persistence across
// restarts, use the BigQuery-backed store.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/finledger/finledger/internal/domain"
	"github.com/finledger/finledger/internal/jobtrack"
)

// Store keeps executions and steps in maps guarded by one RWMutex.
type Store struct {
	mu    sync.RWMutex
	execs map[string]*jobtrack.Execution
	steps map[string][]*jobtrack.Step
}

// NewStore creates an empty in-memory job store.
func NewStore() *Store {
	return &Store{
		execs: make(map[string]*jobtrack.Execution),
		steps: make(map[string][]*jobtrack.Step),
	}
}

// InsertExecution implements jobtrack.Store.
func (s *Store) InsertExecution(ctx context.Context, exec *jobtrack.Execution) error {
	if exec.ID == "" {
		return fmt.Errorf("execution ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.execs[exec.ID]; exists {
		return fmt.Errorf("execution already exists: %s", exec.ID)
	}
	cp := *exec
	s.execs[exec.ID] = &cp
	return nil
}

// GetExecution implements jobtrack.Store.
func (s *Store) GetExecution(ctx context.Context, id string) (*jobtrack.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exec, ok := s.execs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *exec
	return &cp, nil
}

// FinishExecution implements jobtrack.Store. Finishing an execution that
// already has an end time fails with jobtrack.ErrAlreadyFinished.
func (s *Store) FinishExecution(ctx context.Context, id string, status jobtrack.Status, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exec, ok := s.execs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if exec.FinishedAt != nil {
		return jobtrack.ErrAlreadyFinished
	}
	exec.Status = status
	exec.FinishedAt = &finishedAt
	return nil
}

// InsertStep implements jobtrack.Store.
func (s *Store) InsertStep(ctx context.Context, step *jobtrack.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.execs[step.ExecutionID]; !ok {
		return domain.ErrNotFound
	}
	cp := *step
	s.steps[step.ExecutionID] = append(s.steps[step.ExecutionID], &cp)
	return nil
}

// ListExecutions implements jobtrack.Store. Results are ordered by start
// time descending.
func (s *Store) ListExecutions(ctx context.Context, filter jobtrack.Filter) ([]*jobtrack.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*jobtrack.Execution, 0, len(s.execs))
	for _, exec := range s.execs {
		if filter.JobName != "" && exec.JobName != filter.JobName {
			continue
		}
		cp := *exec
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].StartedAt.After(result[j].StartedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*jobtrack.Execution{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

// ListSteps implements jobtrack.Store. Results are ordered by step order
// ascending.
func (s *Store) ListSteps(ctx context.Context, executionID string) ([]*jobtrack.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	steps := s.steps[executionID]
	result := make([]*jobtrack.Step, 0, len(steps))
	for _, st := range steps {
		cp := *st
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StepOrder < result[j].StepOrder
	})
	return result, nil
}

// MaxStepOrder implements jobtrack.Store.
func (s *Store) MaxStepOrder(ctx context.Context, executionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	max := 0
	for _, st := range s.steps[executionID] {
		if st.StepOrder > max {
			max = st.StepOrder
		}
	}
	return max, nil
}

var _ jobtrack.Store = (*Store)(nil)
