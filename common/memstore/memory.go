package memstore

import (
	"context"
	"sync"
)

// memoryStore keeps values in an in-process map. It is the last rung of
// the ladder and is always available.
type memoryStore struct {
	mu   sync.RWMutex
	data map[string]interface{}
}

// NewMemoryStore creates an in-process store
func NewMemoryStore() Store {
	return newMemoryBackend()
}

func newMemoryBackend() *memoryStore {
	return &memoryStore{data: make(map[string]interface{})}
}

func (s *memoryStore) Get(ctx context.Context, key string) (interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data[key], nil
}

func (s *memoryStore) Set(ctx context.Context, key string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *memoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]interface{})
	return nil
}

func (s *memoryStore) Backend() string {
	return "memory"
}

func (s *memoryStore) Available(ctx context.Context) bool {
	return true
}

func (s *memoryStore) Entries(ctx context.Context) (map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make(map[string]interface{}, len(s.data))
	for k, v := range s.data {
		entries[k] = v
	}
	return entries, nil
}
