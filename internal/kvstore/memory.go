package kvstore

import (
	"context"
	"sync"
)

type memoryStore struct {
	mu    sync.RWMutex
	items map[string]string
}

// NewMemory returns a process-local Store for tests and development.
func NewMemory() Store {
	return &memoryStore{
		items: make(map[string]string),
	}
}

func (s *memoryStore) GetItem(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.items[key]
	return value, ok, nil
}

func (s *memoryStore) SetItem(ctx context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[key] = value
	return nil
}

func (s *memoryStore) DeleteItem(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, key)
	return nil
}
