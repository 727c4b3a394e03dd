package audit

import (
	"context"
	"sync"
)

// MemoryAuditor keeps events in memory. Used by tests and by the audit query
// endpoint when no durable sink is configured.
type MemoryAuditor struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryAuditor() *MemoryAuditor {
	return &MemoryAuditor{}
}

func (m *MemoryAuditor) Record(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryAuditor) Close() error {
	return nil
}

// Recent returns up to n most recent events, newest first.
func (m *MemoryAuditor) Recent(n int) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > len(m.events) {
		n = len(m.events)
	}
	out := make([]Event, 0, n)
	for i := len(m.events) - 1; i >= len(m.events)-n; i-- {
		out = append(out, m.events[i])
	}
	return out
}

// Find returns all events concerning the given token id, oldest first.
func (m *MemoryAuditor) Find(tokenID string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.TokenID == tokenID {
			out = append(out, e)
		}
	}
	return out
}
