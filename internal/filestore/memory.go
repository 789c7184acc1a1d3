package filestore

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps files in memory, for tests and local development.
type MemoryStore struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewMemoryStore creates an empty in-memory file store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{files: make(map[string][]byte)}
}

// Save implements Store. URIs have the form "mem://object".
func (s *MemoryStore) Save(ctx context.Context, objectName, contentType string, data []byte) (string, error) {
	uri := "mem://" + objectName

	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.files[uri] = cp
	return uri, nil
}

// Fetch implements Store.
func (s *MemoryStore) Fetch(ctx context.Context, uri string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.files[uri]
	if !ok {
		return nil, fmt.Errorf("no such object: %s", uri)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

var _ Store = (*MemoryStore)(nil)
