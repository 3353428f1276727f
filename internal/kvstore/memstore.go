package kvstore

import (
	"context"
	"sync"
)

type memStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

var (
	_ Store         = (*memStore)(nil)
	_ AtomicCreator = (*memStore)(nil)
)

// NewMemStore returns a process-local store. Its contents do not survive a restart.
func NewMemStore() Store {
	return &memStore{entries: make(map[string][]byte)}
}

func (m *memStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	// Return a copy to avoid mutations
	return nonNil(clone(v)), nil
}

func (m *memStore) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = nonNil(clone(value))
	return nil
}

func (m *memStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

func (m *memStore) SetIfAbsent(ctx context.Context, key string, value []byte) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.entries[key]; ok {
		return nonNil(clone(existing)), false, nil
	}
	m.entries[key] = nonNil(clone(value))
	return nil, true, nil
}

func (m *memStore) Close() error {
	return nil
}
