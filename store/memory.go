package store

import (
	"context"
	"sync"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps values for the life of the process only.
type MemoryStore struct {
	values map[string]string
	mut    sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mut.RLock()
	defer m.mut.RUnlock()

	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value string) error {
	m.mut.Lock()
	defer m.mut.Unlock()

	m.values[key] = value
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, key string) error {
	m.mut.Lock()
	defer m.mut.Unlock()

	delete(m.values, key)
	return nil
}
