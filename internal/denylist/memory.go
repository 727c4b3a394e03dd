package denylist

import (
	"context"
	"sync"
	"time"
)

// MemoryDenylist is a single-process denylist. Suitable when one server
// instance both mints and verifies tokens.
type MemoryDenylist struct {
	mu      sync.Mutex
	entries map[string]time.Time

	// now is replaced in tests.
	now func() time.Time
}

func NewMemoryDenylist() *MemoryDenylist {
	return &MemoryDenylist{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (m *MemoryDenylist) Add(_ context.Context, tokenID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked()
	m.entries[tokenID] = m.now().Add(ttl)
	return nil
}

func (m *MemoryDenylist) Contains(_ context.Context, tokenID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deadline, ok := m.entries[tokenID]
	if !ok {
		return false, nil
	}
	if m.now().After(deadline) {
		delete(m.entries, tokenID)
		return false, nil
	}
	return true, nil
}

func (m *MemoryDenylist) Close() error {
	return nil
}

// purgeLocked drops expired entries. Called on writes so the map does not
// grow unbounded between lookups.
func (m *MemoryDenylist) purgeLocked() {
	now := m.now()
	for id, deadline := range m.entries {
		if now.After(deadline) {
			delete(m.entries, id)
		}
	}
}
