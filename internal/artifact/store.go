// Package artifact publishes finished workflow graphs for the history
// store. Publication is best-effort from the pipeline's point of view: a
// failed upload is logged, never charged.
package artifact

import (
	"context"
	"sync"
)

// Store persists assembled workflow graphs as opaque JSON payloads.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// MemoryStore keeps artifacts in-process; used in local mode and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.data[key] = cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.data[key]; ok {
		cp := make([]byte, len(b))
		copy(cp, b)
		return cp, nil
	}
	return nil, nil
}
