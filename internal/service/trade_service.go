package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Sonnik9/gate-bob-deploy/internal/domain"
)

// TradeService queries and prunes the closed-trade journal.
type TradeService struct {
	journal  domain.TradeJournal
	archiver domain.Archiver
	audit    domain.AuditStore
	logger   *slog.Logger
}

// NewTradeService creates a TradeService. archiver and audit may be nil.
func NewTradeService(journal domain.TradeJournal, archiver domain.Archiver, audit domain.AuditStore, logger *slog.Logger) *TradeService {
	return &TradeService{
		journal:  journal,
		archiver: archiver,
		audit:    audit,
		logger:   logger.With(slog.String("component", "trade_service")),
	}
}

// List returns closed trades, newest first.
func (s *TradeService) List(ctx context.Context, opts domain.ListOpts) ([]domain.ClosedTrade, error) {
	trades, err := s.journal.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("trade_service: list: %w", err)
	}
	return trades, nil
}

// Archive moves trades closed more than retention ago to cold storage.
func (s *TradeService) Archive(ctx context.Context, retention time.Duration) (int64, error) {
	if s.archiver == nil {
		return 0, nil
	}
	before := time.Now().Add(-retention)
	n, err := s.archiver.ArchiveTrades(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("trade_service: archive: %w", err)
	}
	if s.audit != nil && n > 0 {
		if auditErr := s.audit.Log(ctx, "trades_archived", map[string]any{
			"count":  n,
			"before": before.UTC().Format(time.RFC3339),
		}); auditErr != nil {
			s.logger.WarnContext(ctx, "trade_service: audit log failed",
				slog.String("error", auditErr.Error()),
			)
		}
	}
	s.logger.InfoContext(ctx, "trade_service: archived trades",
		slog.Int64("count", n),
		slog.Time("before", before),
	)
	return n, nil
}
