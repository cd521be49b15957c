package sessionstore

import (
	"context"
	"sync"
)

// MemoryStore is mostly for testing.
type MemoryStore struct {
	mu      sync.RWMutex
	session string
	saved   bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(_ context.Context) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session, m.saved, nil
}

func (m *MemoryStore) Save(_ context.Context, session string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session, m.saved = session, true
	return nil
}

func (m *MemoryStore) Delete(_ context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existed := m.saved
	m.session, m.saved = "", false
	return existed, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
