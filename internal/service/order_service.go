package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Sonnik9/gate-bob-deploy/internal/domain"
	"github.com/Sonnik9/gate-bob-deploy/internal/metrics"
	"github.com/Sonnik9/gate-bob-deploy/internal/platform/gate"
)

// OrderConfig holds the timing knobs of the open workflow.
type OrderConfig struct {
	FillPollInterval time.Duration // how often supervisors look for the fill
	MarketFillWait   time.Duration // how long a market open may stay unconfirmed
}

// OpenRequest is a signal that passed the dispatch gate, with every value
// the open workflow needs already resolved.
type OpenRequest struct {
	Signal       domain.TradeSignal
	Profile      domain.TradeProfile
	Spec         domain.ContractSpec
	Leverage     int
	CurrentPrice float64
}

// OrderService runs the open workflow from a validated signal to an entry
// order with its TP/SL triggers, and supervises unfilled entries.
type OrderService struct {
	exchange Exchange
	book     *PositionBook
	risk     *RiskService
	triggers *RiskOrderManager
	reporter *Reporter
	audit    domain.AuditStore
	cfg      OrderConfig
	logger   *slog.Logger

	wg sync.WaitGroup
}

// NewOrderService creates an OrderService. audit may be nil.
func NewOrderService(
	exchange Exchange,
	book *PositionBook,
	risk *RiskService,
	triggers *RiskOrderManager,
	reporter *Reporter,
	audit domain.AuditStore,
	cfg OrderConfig,
	logger *slog.Logger,
) *OrderService {
	if cfg.FillPollInterval <= 0 {
		cfg.FillPollInterval = 100 * time.Millisecond
	}
	if cfg.MarketFillWait <= 0 {
		cfg.MarketFillWait = 30 * time.Second
	}
	return &OrderService{
		exchange: exchange,
		book:     book,
		risk:     risk,
		triggers: triggers,
		reporter: reporter,
		audit:    audit,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "order_service")),
	}
}

// Open records the signal, validates its risk orders against the current
// price and, when they pass, sets leverage and margin mode, places the
// entry and attaches the triggers. The caller must hold the slot lock.
// Validation failures and exchange rejections end up in the entry status
// and are also returned.
func (s *OrderService) Open(ctx context.Context, req OpenRequest) error {
	sig, spec, profile := req.Signal, req.Spec, req.Profile
	key := sig.Key()

	orderType := profile.OrderType
	if sig.ForceLimit {
		orderType = domain.OrderTypeLimit
	}
	entry := roundTo(sig.EntryPrice, spec.PricePrecision)

	rec := domain.NewStatusRecord(key)
	rec.Leverage = req.Leverage
	rec.OrderType = orderType
	rec.EntryPrice = entry
	rec.EntryStatus = domain.StatusWaiting
	s.book.DeleteRecord(key)
	s.book.SetRecord(key, rec)

	margin := profile.MarginSize
	if sig.HalfMargin {
		margin /= 2
	}
	s.book.Update(ctx, key, func(st *domain.PositionState) {
		st.Leverage = req.Leverage
		st.MarginVolume = margin
		st.SettingsTag = profile.Tag
	})

	tps := BuildTakeProfits(sig, profile.ExtraTPPct, spec.PricePrecision, sig.EntryPrice)
	if len(tps) == 0 {
		s.book.MutateRecord(key, func(rec *domain.OrderStatusRecord) {
			rec.TP[0].Status = domain.StatusInvalidData
			rec.TP[1].Status = domain.StatusInvalidData
		})
		s.reporter.Publish(ctx, key, domain.ButtonsNone)
		return fmt.Errorf("order_service: open %s: no take-profit: %w", key, domain.ErrInvalidSignal)
	}
	s.book.MutateRecord(key, func(rec *domain.OrderStatusRecord) {
		for i, tp := range tps {
			rec.TP[i].Price = tp.Price
		}
		rec.SL.Price = roundTo(sig.StopLoss, spec.PricePrecision)
	})

	if err := s.risk.PreTradeCheck(ctx, sig, req.CurrentPrice, tps); err != nil {
		return s.fail(ctx, key, err, domain.ButtonsNone)
	}

	if err := s.exchange.SetLeverage(ctx, key.Symbol, req.Leverage, profile.MarginMode); err != nil {
		return s.fail(ctx, key, err, domain.ButtonsOpened)
	}
	if err := s.exchange.SetMarginMode(ctx, key.Symbol, profile.MarginMode); err != nil {
		return s.fail(ctx, key, err, domain.ButtonsOpened)
	}

	contracts, err := SizeContracts(SizeInput{
		MarginSize:        margin,
		EntryPrice:        sig.EntryPrice,
		Leverage:          req.Leverage,
		ContractValue:     spec.ContractValue,
		LotSize:           spec.LotSize,
		ContractPrecision: spec.ContractPrecision,
	})
	if err != nil || !wholeContracts(spec) {
		s.logger.WarnContext(ctx, "order_service: sizing failed, raise margin or leverage",
			slog.String("key", key.String()),
			slog.Float64("margin", margin),
			slog.Int("leverage", req.Leverage),
		)
		s.setEntry(key, domain.Failed(domain.ReasonContractsZero))
		s.reporter.Publish(ctx, key, domain.ButtonsOpened)
		if err == nil {
			err = domain.ErrInvalidSize
		}
		return fmt.Errorf("order_service: open %s: %w", key, err)
	}

	clientID := newClientID(key)
	order := gate.OrderRequest{
		Symbol:   key.Symbol,
		Size:     key.Side.Sign() * contracts,
		ClientID: clientID,
	}
	if orderType == domain.OrderTypeLimit {
		order.Price = entry
	}
	// Pending is set before the entry goes out and never over a live position.
	s.book.Update(ctx, key, func(st *domain.PositionState) {
		if !st.InPosition {
			st.PendingOpen = true
		}
	})
	placed, err := s.exchange.PlaceOrder(ctx, order)
	metrics.IncOrder("open", err == nil && placed.ID != "")
	if err != nil || placed.ID == "" {
		s.book.Update(ctx, key, func(st *domain.PositionState) { st.PendingOpen = false })
	}
	if err != nil {
		return s.fail(ctx, key, err, domain.ButtonsOpened)
	}
	if placed.ID == "" {
		s.setEntry(key, domain.Failed(domain.ReasonUnknown))
		s.reporter.Publish(ctx, key, domain.ButtonsOpened)
		return fmt.Errorf("order_service: open %s: no order id: %w", key, domain.ErrNotFound)
	}

	s.book.Update(ctx, key, func(st *domain.PositionState) {
		st.OrderID = placed.ID
		if !st.InPosition {
			st.Contracts = contracts
		}
		if st.OpenedAt.IsZero() {
			st.OpenedAt = time.Now()
		}
	})
	status := domain.StatusPending
	if orderType == domain.OrderTypeMarket {
		status = domain.StatusFilled
	}
	s.setEntry(key, status)

	res := s.triggers.PlaceTriggers(ctx, key, spec, contracts, tps, sig.StopLoss, clientID, profile.TriggerOrderType)
	s.triggers.ApplyTriggers(ctx, key, res, domain.StatusPending)

	pending := domain.PendingRequest{ClientID: clientID, Key: key, MainID: placed.ID}
	for _, leg := range res.TP {
		if leg.OK() {
			pending.TPIDs[leg.Index] = leg.OrderID
		}
	}
	if res.SL != nil && res.SL.OK() {
		pending.SLID = res.SL.OrderID
	}
	s.book.PutPending(pending)

	s.reporter.Publish(ctx, key, domain.ButtonsOpened)
	s.logAudit(ctx, "position_open_requested", map[string]any{
		"key":        key.String(),
		"order_id":   placed.ID,
		"order_type": string(orderType),
		"contracts":  contracts,
		"entry":      entry,
		"leverage":   req.Leverage,
		"tag":        profile.Tag,
	})
	s.logger.InfoContext(ctx, "order_service: entry placed",
		slog.String("key", key.String()),
		slog.String("order_id", placed.ID),
		slog.String("order_type", string(orderType)),
		slog.Float64("contracts", contracts),
		slog.Float64("entry", entry),
	)

	s.wg.Add(1)
	if orderType == domain.OrderTypeLimit {
		go s.superviseLimit(ctx, key, clientID, profile.OrderTimeout)
	} else {
		go s.watchMarketFill(ctx, key)
	}
	return nil
}

// Wait blocks until every supervisor goroutine has returned.
func (s *OrderService) Wait() {
	s.wg.Wait()
}

// superviseLimit waits for a resting limit entry to fill. On timeout the
// entry is marked TIME-OUT and the main and trigger orders placed for
// clientID are cancelled.
func (s *OrderService) superviseLimit(ctx context.Context, key domain.PositionKey, clientID string, timeout time.Duration) {
	defer s.wg.Done()
	if timeout <= 0 {
		timeout = time.Minute
	}
	defer func() {
		s.book.Update(ctx, key, func(st *domain.PositionState) { st.PendingOpen = false })
		if ctx.Err() == nil {
			s.reporter.Publish(ctx, key, domain.ButtonsOpened)
		}
	}()

	filled, err := s.waitInPosition(ctx, key, timeout)
	if err != nil {
		return
	}
	if filled {
		s.setEntry(key, domain.StatusFilled)
		s.logger.InfoContext(ctx, "order_service: limit entry filled", slog.String("key", key.String()))
		return
	}

	s.setEntry(key, domain.Failed(domain.ReasonTimeout))
	var ids []string
	if req, ok := s.book.Pending(clientID); ok {
		ids = triggerIDs(req.TPIDs, req.SLID)
	} else {
		st, _ := s.book.State(key)
		ids = triggerIDs(st.TPOrderIDs, st.SLOrderID)
	}
	n, cancelErr := s.exchange.CancelAll(ctx, key, ids)
	switch {
	case cancelErr != nil:
		reason := strings.ReplaceAll(failureReason(cancelErr), "\n", "; ")
		s.book.MutateRecord(key, func(rec *domain.OrderStatusRecord) { rec.ResetTriggers(domain.Failed(reason)) })
	case n > 0:
		s.book.MutateRecord(key, func(rec *domain.OrderStatusRecord) { rec.ResetTriggers(domain.StatusCancelled) })
	}
	s.logger.WarnContext(ctx, "order_service: limit entry timed out",
		slog.String("key", key.String()),
		slog.Duration("timeout", timeout),
		slog.Int("cancelled", n),
	)
}

// watchMarketFill clears PendingOpen if the reconciler never sees the
// market entry, so the slot does not stay blocked.
func (s *OrderService) watchMarketFill(ctx context.Context, key domain.PositionKey) {
	defer s.wg.Done()
	filled, err := s.waitInPosition(ctx, key, s.cfg.MarketFillWait)
	if err != nil || filled {
		return
	}
	s.book.Update(ctx, key, func(st *domain.PositionState) { st.PendingOpen = false })
	s.logger.WarnContext(ctx, "order_service: market entry not confirmed",
		slog.String("key", key.String()),
		slog.Duration("waited", s.cfg.MarketFillWait),
	)
}

// waitInPosition polls the slot until it is in a position, the timeout
// passes, or ctx ends.
func (s *OrderService) waitInPosition(ctx context.Context, key domain.PositionKey, timeout time.Duration) (bool, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	poll := time.NewTicker(s.cfg.FillPollInterval)
	defer poll.Stop()
	for {
		if st, _ := s.book.State(key); st.InPosition {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			st, _ := s.book.State(key)
			return st.InPosition, nil
		case <-poll.C:
		}
	}
}

func (s *OrderService) fail(ctx context.Context, key domain.PositionKey, err error, buttons domain.ButtonState) error {
	s.setEntry(key, failureReasonStatus(err))
	s.reporter.Publish(ctx, key, buttons)
	s.logger.WarnContext(ctx, "order_service: open failed",
		slog.String("key", key.String()),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("order_service: open %s: %w", key, err)
}

// failureReasonStatus renders err as an entry status. Risk rejections are
// shown as their bare reason.
func failureReasonStatus(err error) string {
	var rej *RiskRejection
	if errors.As(err, &rej) {
		return rej.Reason
	}
	return domain.Failed(failureReason(err))
}

func (s *OrderService) setEntry(key domain.PositionKey, status string) {
	s.book.MutateRecord(key, func(rec *domain.OrderStatusRecord) { rec.EntryStatus = status })
}

func (s *OrderService) logAudit(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "order_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
