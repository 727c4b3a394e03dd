package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/toolchainlabs/tokensvc/internal/audit"
	"github.com/toolchainlabs/tokensvc/internal/logging"
)

func newSweepService(t *testing.T, rm *fakeRepoManager) (*SweepService, *audit.MemoryAuditor) {
	t.Helper()
	db, _ := newSQLMockDB(t)
	t.Cleanup(func() { db.Close() })
	auditor := audit.NewMemoryAuditor()
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	return NewSweepService(db, rm, testConfig(), logger, auditor), auditor
}

func TestSweep_CountsAllThreePhases(t *testing.T) {
	rm := &fakeRepoManager{
		r: &fakeTokensRepo{expireN: 2, deleteN: 5},
		e: &fakeCodesRepo{deleteN: 7},
	}
	s, auditor := newSweepService(t, rm)

	result, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep error: %v", err)
	}
	if result.Expired != 2 || result.Deleted != 5 || result.CodesDeleted != 7 {
		t.Fatalf("unexpected result: %+v", result)
	}

	events := auditor.Recent(1)
	if len(events) != 1 || events[0].Action != audit.ActionSweep {
		t.Fatalf("expected sweep audit event, got %+v", events)
	}
	if events[0].Details["deleted"] != "5" {
		t.Fatalf("unexpected details: %+v", events[0].Details)
	}
}

func TestSweep_QuietPassEmitsNoEvent(t *testing.T) {
	rm := &fakeRepoManager{r: &fakeTokensRepo{}, e: &fakeCodesRepo{}}
	s, auditor := newSweepService(t, rm)

	result, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep error: %v", err)
	}
	if result.Expired != 0 || result.Deleted != 0 || result.CodesDeleted != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(auditor.Recent(1)) != 0 {
		t.Fatal("quiet sweep must not emit an audit event")
	}
}

func TestSweep_ExpireErrorAborts(t *testing.T) {
	rm := &fakeRepoManager{
		r: &fakeTokensRepo{expireErr: errors.New("db down")},
		e: &fakeCodesRepo{},
	}
	s, _ := newSweepService(t, rm)

	if _, err := s.Sweep(context.Background()); err == nil {
		t.Fatal("expected error from Sweep")
	}
}
