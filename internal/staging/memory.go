package staging

import (
	"context"
	"sync"
	"time"

	"github.com/finledger/finledger/internal/domain"
)

// MemoryStore is an in-memory Store with per-key expiry. Suitable for
// single-instance deployments and tests; use RedisStore when staged batches
// must survive restarts or be shared between instances.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	batches map[string]memoryBatch
}

type memoryBatch struct {
	rows      []*domain.CandidateRow
	expiresAt time.Time
}

// NewMemoryStore creates a store whose batches expire ttl after their last
// Put.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		batches: make(map[string]memoryBatch),
	}
}

// Put implements Store. Re-staging a key replaces the batch and resets its
// expiry.
func (s *MemoryStore) Put(ctx context.Context, key string, rows []*domain.CandidateRow) error {
	cp := make([]*domain.CandidateRow, len(rows))
	for i, r := range rows {
		rc := *r
		cp[i] = &rc
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[key] = memoryBatch{rows: cp, expiresAt: s.now().Add(s.ttl)}
	return nil
}

// Get implements Store. Expired batches behave as if they were never staged.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]*domain.CandidateRow, error) {
	s.mu.RLock()
	batch, ok := s.batches[key]
	s.mu.RUnlock()

	if !ok || s.now().After(batch.expiresAt) {
		return nil, ErrNotStaged
	}

	cp := make([]*domain.CandidateRow, len(batch.rows))
	for i, r := range batch.rows {
		rc := *r
		cp[i] = &rc
	}
	return cp, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.batches, key)
	return nil
}

// Sweep drops expired batches. Callers run it on a ticker; Get already
// treats expired batches as absent, so sweeping only reclaims memory.
func (s *MemoryStore) Sweep(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, batch := range s.batches {
		if now.After(batch.expiresAt) {
			delete(s.batches, key)
			removed++
		}
	}
	return removed
}

var _ Store = (*MemoryStore)(nil)
