package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// FileAuditor appends events to a JSONL file. It also keeps an in-memory
// view so the query endpoint works without reading the file back.
type FileAuditor struct {
	mu     sync.Mutex
	file   *os.File
	enc    *json.Encoder
	memory *MemoryAuditor
}

func NewFileAuditor(path string) (*FileAuditor, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	return &FileAuditor{
		file:   f,
		enc:    json.NewEncoder(f),
		memory: NewMemoryAuditor(),
	}, nil
}

func (a *FileAuditor) Record(ctx context.Context, event Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.enc.Encode(event); err != nil {
		return fmt.Errorf("writing audit event: %w", err)
	}
	return a.memory.Record(ctx, event)
}

func (a *FileAuditor) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}

func (a *FileAuditor) Recent(n int) []Event {
	return a.memory.Recent(n)
}

func (a *FileAuditor) Find(tokenID string) []Event {
	return a.memory.Find(tokenID)
}
