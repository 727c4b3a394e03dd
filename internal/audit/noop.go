package audit

import "context"

// NoopAuditor discards events.
type NoopAuditor struct{}

func NewNoopAuditor() *NoopAuditor {
	return &NoopAuditor{}
}

func (NoopAuditor) Record(context.Context, Event) error { return nil }

func (NoopAuditor) Close() error { return nil }
