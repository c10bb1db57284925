package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sonnik9/gate-bob-deploy/internal/domain"
	"github.com/Sonnik9/gate-bob-deploy/internal/metrics"
)

// ReconcilerConfig holds the polling knobs of the Reconciler.
type ReconcilerConfig struct {
	Interval    time.Duration // default 1s
	SettleDelay time.Duration // pause before the PnL lookup of a closed position, default 500ms
}

// Reconciler polls the exchange position list, mirrors it into the
// PositionBook and finalizes slots whose position disappeared.
type Reconciler struct {
	exchange Exchange
	book     *PositionBook
	reporter *Reporter
	pnl      *PnLReporter
	journal  domain.TradeJournal
	cfg      ReconcilerConfig
	logger   *slog.Logger

	synced   chan struct{}
	syncOnce sync.Once
}

// NewReconciler creates a Reconciler. journal may be nil.
func NewReconciler(
	exchange Exchange,
	book *PositionBook,
	reporter *Reporter,
	pnl *PnLReporter,
	journal domain.TradeJournal,
	cfg ReconcilerConfig,
	logger *slog.Logger,
) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	return &Reconciler{
		exchange: exchange,
		book:     book,
		reporter: reporter,
		pnl:      pnl,
		journal:  journal,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "reconciler")),
		synced:   make(chan struct{}),
	}
}

// Run reconciles once immediately and then on every tick until ctx ends.
// Cycle errors are logged and the loop continues.
func (r *Reconciler) Run(ctx context.Context) error {
	r.cycle(ctx)
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.cycle(ctx)
		}
	}
}

func (r *Reconciler) cycle(ctx context.Context) {
	if err := r.Reconcile(ctx); err != nil && ctx.Err() == nil {
		r.logger.ErrorContext(ctx, "reconciler: cycle failed", slog.String("error", err.Error()))
	}
}

// FirstSyncDone is closed after the first successful Reconcile.
func (r *Reconciler) FirstSyncDone() <-chan struct{} {
	return r.synced
}

// WaitFirstSync blocks until the first successful Reconcile or ctx ends.
func (r *Reconciler) WaitFirstSync(ctx context.Context) error {
	select {
	case <-r.synced:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reconcile runs one pass. Repeating it against an unchanged exchange
// produces no publishes and no writes.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	start := time.Now()
	positions, err := r.exchange.Positions(ctx)
	if err != nil {
		return fmt.Errorf("reconciler: positions: %w", err)
	}

	keys := r.book.Keys()
	tracked := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		tracked[k.Symbol] = struct{}{}
	}
	live := make(map[domain.PositionKey]domain.ExchangePosition, len(positions))
	for _, p := range positions {
		if _, ok := tracked[p.Key.Symbol]; !ok || p.Contracts == 0 {
			continue
		}
		live[p.Key] = p
	}

	for _, key := range keys {
		st, ok := r.book.State(key)
		if !ok {
			continue
		}
		pos, open := live[key]
		if !open {
			if st.InPosition {
				r.finalize(ctx, key, st)
			}
			continue
		}
		r.mirror(ctx, key, pos)
	}

	r.syncOnce.Do(func() {
		close(r.synced)
		r.logger.InfoContext(ctx, "reconciler: first sync done", slog.Int("slots", len(keys)))
	})
	metrics.SetOpenPositions(r.book.OpenCount())
	metrics.ObserveReconcile(time.Since(start).Seconds())
	return nil
}

// mirror copies the exchange view of a live position into the slot. Only
// the mirrored fields are written, so order ids set concurrently survive.
func (r *Reconciler) mirror(ctx context.Context, key domain.PositionKey, pos domain.ExchangePosition) {
	before, after := r.book.Transition(ctx, key, func(s *domain.PositionState) {
		s.EntryPrice = pos.EntryPrice
		s.Contracts = pos.Contracts
		s.NotionalVolume = pos.Notional
		if pos.Margin > 0 {
			s.MarginVolume = pos.Margin
		}
		if pos.Leverage > 0 {
			s.Leverage = pos.Leverage
		}
		if pos.EntryPrice > 0 {
			s.AssetVolume = pos.Notional / pos.EntryPrice
		}
		if pos.EntryPrice > 0 && pos.Contracts > 0 {
			s.InPosition = true
			s.PendingOpen = false
			if s.OpenedAt.IsZero() {
				s.OpenedAt = time.Now()
			}
		}
	})
	if before.InPosition || !after.InPosition {
		return
	}

	r.book.MutateRecord(key, func(rec *domain.OrderStatusRecord) {
		rec.EntryPrice = pos.EntryPrice
		if rec.Leverage == 0 {
			rec.Leverage = after.Leverage
		}
	})
	r.reporter.Publish(ctx, key, domain.ButtonsOpened)
	r.logger.InfoContext(ctx, "reconciler: position opened",
		slog.String("key", key.String()),
		slog.Float64("entry", pos.EntryPrice),
		slog.Float64("contracts", pos.Contracts),
	)
}

// finalize books the PnL of a closed position, cancels its leftovers and
// returns the slot to the default template.
func (r *Reconciler) finalize(ctx context.Context, key domain.PositionKey, st domain.PositionState) {
	if err := sleepCtx(ctx, r.cfg.SettleDelay); err != nil {
		return
	}
	closedAt := time.Now()
	report := r.pnl.Report(ctx, key, st, closedAt)

	if _, err := r.exchange.CancelAll(ctx, key, triggerIDs(st.TPOrderIDs, st.SLOrderID)); err != nil {
		r.logger.WarnContext(ctx, "reconciler: cancel leftovers failed",
			slog.String("key", key.String()),
			slog.String("error", err.Error()),
		)
	}

	rec := r.book.MutateRecord(key, func(rec *domain.OrderStatusRecord) {
		if !rec.Terminal() {
			rec.EntryStatus = domain.StatusFinished
			rec.ResetTriggers(domain.StatusNone)
		}
		rec.PnLText = report.Text
	})
	r.reporter.Publish(ctx, key, domain.ButtonsClosed)

	r.book.Reset(ctx, key)
	r.book.DeleteRecord(key)

	trade := domain.ClosedTrade{
		ID:           uuid.NewString(),
		Key:          key,
		SettingsTag:  st.SettingsTag,
		Leverage:     st.Leverage,
		EntryPrice:   st.EntryPrice,
		Contracts:    st.Contracts,
		MarginVolume: st.MarginVolume,
		ExitStatus:   rec.EntryStatus,
		PnL:          report.PnL,
		ROI:          report.ROI,
		PnLText:      report.Text,
		OpenedAt:     st.OpenedAt,
		ClosedAt:     closedAt,
	}
	if r.journal != nil {
		if err := r.journal.Record(ctx, trade); err != nil {
			r.logger.WarnContext(ctx, "reconciler: journal record failed",
				slog.String("key", key.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	r.logger.InfoContext(ctx, "reconciler: position finalized",
		slog.String("key", key.String()),
		slog.String("status", rec.EntryStatus),
		slog.String("held", domain.FormatDuration(trade.Duration())),
		slog.Bool("pnl_known", report.PnL != nil),
	)
}
