package dex

import (
	"sync"
)

// MemoryStore keeps committed state and notifications in process memory.
// Used for ephemeral nodes and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	state    State
	has      bool
	byHeight map[int64][]Notification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byHeight: make(map[int64][]Notification)}
}

func (m *MemoryStore) LoadState() (State, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, m.has, nil
}

func (m *MemoryStore) Commit(cs ChangeSet, events []Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Apply(cs)
	m.has = true
	if len(events) > 0 {
		m.byHeight[cs.Height] = append([]Notification(nil), events...)
	}
	return nil
}

// Events returns the notifications committed with the block at height
func (m *MemoryStore) Events(height int64) ([]Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Notification(nil), m.byHeight[height]...), nil
}
