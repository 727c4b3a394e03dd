package services

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/toolchainlabs/tokensvc/internal/audit"
	"github.com/toolchainlabs/tokensvc/internal/logging"
	"github.com/toolchainlabs/tokensvc/internal/server/config"
	"github.com/toolchainlabs/tokensvc/internal/server/repositories/repomanager"
)

// SweepResult counts what one sweep pass changed.
type SweepResult struct {
	Expired      int64
	Deleted      int64
	CodesDeleted int64
}

// SweepService periodically expires overdue tokens, deletes terminal tokens
// past the retention window, and drops expired exchange codes.
type SweepService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	cfg         *config.Config
	logger      logging.Logger
	auditor     audit.Auditor

	now func() time.Time
}

func NewSweepService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config,
	logger logging.Logger, auditor audit.Auditor) *SweepService {
	return &SweepService{
		db:          db,
		repomanager: m,
		cfg:         cfg,
		logger:      logger,
		auditor:     auditor,
		now:         time.Now,
	}
}

// Sweep runs one pass. Deletion only touches rows that are both terminal and
// past the retention window, so audit trails for recent tokens survive.
func (s *SweepService) Sweep(ctx context.Context) (*SweepResult, error) {
	now := s.now()
	tokens := s.repomanager.RefreshTokens(s.db)

	expired, err := tokens.ExpireOverdue(ctx, now)
	if err != nil {
		return nil, err
	}

	cutoff := now.Add(-s.cfg.RetentionWindow)
	deleted, err := tokens.DeleteSweepable(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	codesDeleted, err := s.repomanager.ExchangeCodes(s.db).DeleteExpired(ctx, now)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{Expired: expired, Deleted: deleted, CodesDeleted: codesDeleted}

	if expired > 0 || deleted > 0 || codesDeleted > 0 {
		event := audit.NewEvent(audit.ActionSweep, "system")
		event.Details = map[string]string{
			"expired":       strconv.FormatInt(expired, 10),
			"deleted":       strconv.FormatInt(deleted, 10),
			"codes_deleted": strconv.FormatInt(codesDeleted, 10),
		}
		_ = s.auditor.Record(ctx, event)
	}

	return result, nil
}

// RunPeriodic sweeps on the configured interval until the context is done.
func (s *SweepService) RunPeriodic(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := s.Sweep(ctx)
			if err != nil {
				s.logger.Error(ctx, "sweep failed", "error", err)
				continue
			}
			s.logger.Info(ctx, "sweep complete",
				"expired", result.Expired,
				"deleted", result.Deleted,
				"codes_deleted", result.CodesDeleted)
		}
	}
}
