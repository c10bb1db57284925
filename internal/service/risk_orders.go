package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Sonnik9/gate-bob-deploy/internal/domain"
	"github.com/Sonnik9/gate-bob-deploy/internal/metrics"
	"github.com/Sonnik9/gate-bob-deploy/internal/platform/gate"
)

const virtualPrefix = "virtual_"

// ProfileLookup resolves a settings tag to its trading profile.
type ProfileLookup func(tag string) (domain.TradeProfile, bool)

// RiskOrderConfig holds the timing knobs of trigger placement and closing.
type RiskOrderConfig struct {
	TriggerDelay     time.Duration // between consecutive TP placements
	CloseConfirmWait time.Duration // how long a limit close may rest before falling back to market
}

// TriggerLeg is the outcome of one TP or SL placement.
type TriggerLeg struct {
	Index     int // TP slot 0 or 1; unused for SL
	Price     float64
	Contracts float64
	domain.LegResult
}

// TriggerResult collects the legs placed by PlaceTriggers.
type TriggerResult struct {
	TP []TriggerLeg
	SL *TriggerLeg
}

// RiskOrderManager places, replaces and cancels the TP/SL trigger orders of
// a slot and force-closes positions.
type RiskOrderManager struct {
	exchange    Exchange
	book        *PositionBook
	instruments *Instruments
	reporter    *Reporter
	profiles    ProfileLookup
	audit       domain.AuditStore
	cfg         RiskOrderConfig
	logger      *slog.Logger
}

// NewRiskOrderManager creates a RiskOrderManager. audit may be nil.
func NewRiskOrderManager(
	exchange Exchange,
	book *PositionBook,
	instruments *Instruments,
	reporter *Reporter,
	profiles ProfileLookup,
	audit domain.AuditStore,
	cfg RiskOrderConfig,
	logger *slog.Logger,
) *RiskOrderManager {
	if cfg.TriggerDelay < 0 {
		cfg.TriggerDelay = 0
	}
	if cfg.CloseConfirmWait <= 0 {
		cfg.CloseConfirmWait = 2 * time.Second
	}
	return &RiskOrderManager{
		exchange:    exchange,
		book:        book,
		instruments: instruments,
		reporter:    reporter,
		profiles:    profiles,
		audit:       audit,
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "risk_orders")),
	}
}

// PlaceTriggers places the TP legs one after another, then the SL. A leg
// whose price is invalid or whose size rounds to zero is not sent and comes
// back as a failed leg.
func (m *RiskOrderManager) PlaceTriggers(
	ctx context.Context,
	key domain.PositionKey,
	spec domain.ContractSpec,
	contracts float64,
	tps []domain.TakeProfit,
	sl float64,
	clientID string,
	triggerType domain.OrderType,
) TriggerResult {
	var res TriggerResult
	suffix := clip(clientID, 26)

	type planned struct {
		index     int
		price     float64
		contracts float64
	}
	var legs []planned
	for i, tp := range tps {
		if i > 1 {
			break
		}
		if tp.Price <= 0 {
			m.logger.WarnContext(ctx, "risk_orders: tp skipped, invalid price",
				slog.String("key", key.String()), slog.Float64("price", tp.Price))
			res.TP = append(res.TP, skipped(i, tp.Price, domain.ReasonInvalidTPInput))
			continue
		}
		portion := 1.0
		if tp.Portion > 0 {
			portion = tp.Portion / 100
		}
		px := roundTo(tp.Price, spec.PricePrecision)
		size := roundTo(contracts*portion, spec.ContractPrecision)
		if size <= 0 {
			m.logger.WarnContext(ctx, "risk_orders: tp skipped, size rounds to zero",
				slog.String("key", key.String()), slog.Float64("contracts", contracts), slog.Float64("portion", portion))
			res.TP = append(res.TP, skipped(i, px, domain.ReasonZeroContractsTP))
			continue
		}
		legs = append(legs, planned{index: i, price: px, contracts: size})
	}

	for n, leg := range legs {
		text := clip(fmt.Sprintf("t-tp%d-%s", leg.index+1, suffix), 30)
		id, err := m.exchange.PlacePriceOrder(ctx, takeProfitRequest(key, leg.price, leg.contracts, triggerType, text))
		if err == nil && id == "" {
			err = &skippedLeg{reason: domain.ReasonTPOrderFailed}
		}
		metrics.IncOrder("tp", err == nil)
		res.TP = append(res.TP, TriggerLeg{
			Index:     leg.index,
			Price:     leg.price,
			Contracts: leg.contracts,
			LegResult: domain.LegResult{OrderID: id, Err: err},
		})
		m.logLeg(ctx, key, "tp"+strconv.Itoa(leg.index+1), id, err)
		if n < len(legs)-1 {
			if err := sleepCtx(ctx, m.cfg.TriggerDelay); err != nil {
				return res
			}
		}
	}

	if sl > 0 {
		px := roundTo(sl, spec.PricePrecision)
		text := clip("t-sl-"+suffix, 30)
		id, err := m.exchange.PlacePriceOrder(ctx, stopLossRequest(key, px, contracts, triggerType, text))
		if err == nil && id == "" {
			err = &skippedLeg{reason: domain.ReasonSLOrderFailed}
		}
		metrics.IncOrder("sl", err == nil)
		res.SL = &TriggerLeg{Price: px, Contracts: contracts, LegResult: domain.LegResult{OrderID: id, Err: err}}
		m.logLeg(ctx, key, "sl", id, err)
	}
	return res
}

// skippedLeg is the error of a trigger leg the exchange never accepted.
type skippedLeg struct {
	reason string
}

func (e *skippedLeg) Error() string {
	return "risk_orders: leg not placed: " + e.reason
}

func skipped(index int, price float64, reason string) TriggerLeg {
	return TriggerLeg{
		Index:     index,
		Price:     price,
		LegResult: domain.LegResult{Err: &skippedLeg{reason: reason}},
	}
}

// ApplyTriggers writes the placement results into the slot state and the
// status record. successStatus is "pending" for a fresh open.
func (m *RiskOrderManager) ApplyTriggers(ctx context.Context, key domain.PositionKey, res TriggerResult, successStatus string) {
	m.book.Update(ctx, key, func(st *domain.PositionState) {
		for _, leg := range res.TP {
			if leg.Err == nil {
				st.TPOrderIDs[leg.Index] = leg.OrderID
			}
		}
		if res.SL != nil && res.SL.Err == nil {
			st.SLOrderID = res.SL.OrderID
		}
	})
	m.book.MutateRecord(key, func(rec *domain.OrderStatusRecord) {
		for _, leg := range res.TP {
			if leg.Err != nil {
				rec.TP[leg.Index].Status = domain.Failed(failureReason(leg.Err))
				if leg.Price > 0 {
					rec.TP[leg.Index].Price = leg.Price
				}
				continue
			}
			rec.TP[leg.Index] = domain.TriggerStatus{Price: leg.Price, Status: successStatus}
		}
		if res.SL != nil {
			if res.SL.Err != nil {
				rec.SL.Status = domain.Failed(failureReason(res.SL.Err))
			} else {
				rec.SL = domain.TriggerStatus{Price: res.SL.Price, Status: successStatus}
			}
		}
	})
}

// ModifyTakeProfit replaces TP index (1 or 2) with a new trigger at price
// covering pct percent of the position. pct <= 0 means the whole position.
// The new order goes in first; the old one is cancelled afterwards.
func (m *RiskOrderManager) ModifyTakeProfit(ctx context.Context, key domain.PositionKey, index int, price, pct float64) error {
	if index < 1 || index > 2 {
		return fmt.Errorf("risk_orders: modify tp: index %d: %w", index, domain.ErrInvalidSignal)
	}
	slot := index - 1
	st, ok := m.book.State(key)
	if !ok || st.Contracts <= 0 {
		m.reporter.Publish(ctx, key, domain.ButtonsOpened)
		return fmt.Errorf("risk_orders: modify tp %s: %w", key, domain.ErrNoContracts)
	}
	defer m.reporter.Publish(ctx, key, domain.ButtonsOpened)

	setStatus := func(status string) {
		m.book.MutateRecord(key, func(rec *domain.OrderStatusRecord) { rec.TP[slot].Status = status })
	}
	if !positive(price) || pct < 0 {
		setStatus(domain.Failed(domain.ReasonInvalidTPInput))
		return fmt.Errorf("risk_orders: modify tp %s: %w", key, domain.ErrInvalidSignal)
	}

	spec := m.spec(key.Symbol)
	portion := 1.0
	if pct > 0 {
		portion = pct / 100
	}
	size := ceilTo(st.Contracts*portion, spec.ContractPrecision)
	if size <= 0 {
		setStatus(domain.Failed(domain.ReasonZeroContractsTP))
		return fmt.Errorf("risk_orders: modify tp %s: %w", key, domain.ErrInvalidSize)
	}

	px := roundTo(price, spec.PricePrecision)
	text := clip(fmt.Sprintf("t-tp%d-%s", index, clip(newClientID(key), 26)), 30)
	id, err := m.exchange.PlacePriceOrder(ctx, takeProfitRequest(key, px, size, m.triggerType(st), text))
	metrics.IncOrder("tp", err == nil)
	if err != nil {
		setStatus(domain.Failed(failureReason(err)))
		return fmt.Errorf("risk_orders: modify tp %s: %w", key, err)
	}
	if id == "" {
		id = fmt.Sprintf("%stp_%d_%s", virtualPrefix, index, uuid.NewString())
	}

	old := st.TPOrderIDs[slot]
	m.book.Update(ctx, key, func(st *domain.PositionState) { st.TPOrderIDs[slot] = id })
	m.book.MutateRecord(key, func(rec *domain.OrderStatusRecord) {
		rec.TP[slot] = domain.TriggerStatus{Price: px, Status: domain.StatusModified}
	})
	m.cancelReplaced(ctx, key, old, id)
	m.logAudit(ctx, "tp_modified", map[string]any{
		"key": key.String(), "index": index, "price": px, "contracts": size, "order_id": id,
	})
	m.logger.InfoContext(ctx, "risk_orders: tp modified",
		slog.String("key", key.String()),
		slog.Int("index", index),
		slog.Float64("price", px),
		slog.String("order_id", id),
	)
	return nil
}

// ModifyStopLoss replaces the SL with a new trigger at price covering the
// whole position.
func (m *RiskOrderManager) ModifyStopLoss(ctx context.Context, key domain.PositionKey, price float64) error {
	st, ok := m.book.State(key)
	if !ok || st.Contracts <= 0 {
		m.reporter.Publish(ctx, key, domain.ButtonsOpened)
		return fmt.Errorf("risk_orders: modify sl %s: %w", key, domain.ErrNoContracts)
	}
	defer m.reporter.Publish(ctx, key, domain.ButtonsOpened)

	setStatus := func(status string) {
		m.book.MutateRecord(key, func(rec *domain.OrderStatusRecord) { rec.SL.Status = status })
	}
	if !positive(price) {
		setStatus(domain.Failed(domain.ReasonInvalidSLInput))
		return fmt.Errorf("risk_orders: modify sl %s: %w", key, domain.ErrInvalidSignal)
	}

	spec := m.spec(key.Symbol)
	px := roundTo(price, spec.PricePrecision)
	text := clip("t-sl-"+clip(newClientID(key), 26), 30)
	id, err := m.exchange.PlacePriceOrder(ctx, stopLossRequest(key, px, st.Contracts, m.triggerType(st), text))
	metrics.IncOrder("sl", err == nil)
	if err != nil {
		setStatus(domain.Failed(failureReason(err)))
		return fmt.Errorf("risk_orders: modify sl %s: %w", key, err)
	}
	if id == "" {
		id = virtualPrefix + "sl_" + uuid.NewString()
	}

	old := st.SLOrderID
	m.book.Update(ctx, key, func(st *domain.PositionState) { st.SLOrderID = id })
	m.book.MutateRecord(key, func(rec *domain.OrderStatusRecord) {
		rec.SL = domain.TriggerStatus{Price: px, Status: domain.StatusModified}
	})
	m.cancelReplaced(ctx, key, old, id)
	m.logAudit(ctx, "sl_modified", map[string]any{
		"key": key.String(), "price": px, "order_id": id,
	})
	m.logger.InfoContext(ctx, "risk_orders: sl modified",
		slog.String("key", key.String()),
		slog.Float64("price", px),
		slog.String("order_id", id),
	)
	return nil
}

// ForceClose closes the slot's position with a reduce-only order. A limit
// close rests at the best bid (LONG) or ask (SHORT) for CloseConfirmWait
// and falls back to market when it did not fill.
func (m *RiskOrderManager) ForceClose(ctx context.Context, key domain.PositionKey, closeType domain.OrderType) error {
	defer m.reporter.Publish(ctx, key, domain.ButtonsClosed)

	st, ok := m.book.State(key)
	if !ok || st.Contracts <= 0 {
		m.book.MutateRecord(key, func(rec *domain.OrderStatusRecord) {
			rec.EntryStatus = domain.Failed(domain.ReasonNoContracts)
		})
		return fmt.Errorf("risk_orders: force close %s: %w", key, domain.ErrNoContracts)
	}

	req := gate.OrderRequest{
		Symbol:     key.Symbol,
		Size:       -key.Side.Sign() * st.Contracts,
		ReduceOnly: true,
		ClientID:   clip("close_"+newClientID(key), 28),
	}

	var (
		order gate.Order
		err   error
	)
	if closeType == domain.OrderTypeLimit {
		order, err = m.closeAtBook(ctx, key, req)
	} else {
		order, err = m.exchange.PlaceOrder(ctx, req)
	}
	metrics.IncOrder("close", err == nil)

	if err == nil && (order.ID != "" || closeType == domain.OrderTypeLimit) {
		m.book.MutateRecord(key, func(rec *domain.OrderStatusRecord) {
			rec.EntryStatus = domain.StatusClosedManually
			rec.ResetTriggers(domain.StatusNone)
		})
		m.logAudit(ctx, "position_force_closed", map[string]any{
			"key": key.String(), "type": string(closeType), "order_id": order.ID, "contracts": st.Contracts,
		})
		m.logger.InfoContext(ctx, "risk_orders: position closed",
			slog.String("key", key.String()),
			slog.String("type", string(closeType)),
			slog.String("order_id", order.ID),
		)
		return nil
	}

	reason := domain.ReasonUnknownResponse
	if err != nil {
		reason = failureReason(err)
	}
	m.book.MutateRecord(key, func(rec *domain.OrderStatusRecord) {
		rec.EntryStatus = domain.Failed(reason)
	})
	m.logger.WarnContext(ctx, "risk_orders: force close failed",
		slog.String("key", key.String()),
		slog.String("reason", reason),
	)
	if err == nil {
		err = domain.ErrNotFound
	}
	return fmt.Errorf("risk_orders: force close %s: %w", key, err)
}

func (m *RiskOrderManager) closeAtBook(ctx context.Context, key domain.PositionKey, req gate.OrderRequest) (gate.Order, error) {
	book, err := m.exchange.OrderBook(ctx, key.Symbol, 1)
	if err != nil {
		m.logger.WarnContext(ctx, "risk_orders: order book unavailable, closing at market",
			slog.String("key", key.String()), slog.String("error", err.Error()))
		return m.exchange.PlaceOrder(ctx, req)
	}
	px := book.BestBid()
	if key.Side == domain.SideShort {
		px = book.BestAsk()
	}
	if px <= 0 {
		return m.exchange.PlaceOrder(ctx, req)
	}

	limit := req
	limit.Price = px
	placed, err := m.exchange.PlaceOrder(ctx, limit)
	if err != nil || placed.ID == "" {
		m.logger.WarnContext(ctx, "risk_orders: limit close rejected, closing at market",
			slog.String("key", key.String()), slog.Any("error", err))
		return m.exchange.PlaceOrder(ctx, req)
	}

	if err := sleepCtx(ctx, m.cfg.CloseConfirmWait); err != nil {
		return placed, err
	}
	got, err := m.exchange.GetOrder(ctx, key.Symbol, placed.ID)
	if err == nil && got.Filled() {
		return got, nil
	}
	if err := m.exchange.CancelOrder(ctx, key.Symbol, placed.ID); err != nil {
		m.logger.WarnContext(ctx, "risk_orders: cancel resting close failed",
			slog.String("key", key.String()), slog.String("error", err.Error()))
	}
	return m.exchange.PlaceOrder(ctx, req)
}

// triggerIDs returns the exchange-side TP and SL ids, skipping empty and
// virtual ones.
func triggerIDs(tp [2]string, sl string) []string {
	var ids []string
	for _, id := range [...]string{tp[0], tp[1], sl} {
		if id == "" || strings.HasPrefix(id, virtualPrefix) {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func (m *RiskOrderManager) cancelReplaced(ctx context.Context, key domain.PositionKey, old, replacement string) {
	if old == "" || old == replacement || strings.HasPrefix(old, virtualPrefix) {
		return
	}
	if err := m.exchange.CancelPriceOrder(ctx, key.Symbol, old); err != nil {
		m.logger.WarnContext(ctx, "risk_orders: cancel replaced trigger failed",
			slog.String("key", key.String()),
			slog.String("order_id", old),
			slog.String("error", err.Error()),
		)
	}
}

func (m *RiskOrderManager) spec(symbol string) domain.ContractSpec {
	if spec, ok := m.instruments.Get(symbol); ok {
		return spec
	}
	return domain.ContractSpec{Symbol: symbol, ContractValue: 1, LotSize: 1, PricePrecision: 4}
}

func (m *RiskOrderManager) triggerType(st domain.PositionState) domain.OrderType {
	if m.profiles != nil {
		if p, ok := m.profiles(st.SettingsTag); ok {
			return p.TriggerOrderType
		}
	}
	return domain.OrderTypeMarket
}

func (m *RiskOrderManager) logLeg(ctx context.Context, key domain.PositionKey, leg, id string, err error) {
	if err != nil {
		m.logger.WarnContext(ctx, "risk_orders: trigger rejected",
			slog.String("key", key.String()),
			slog.String("leg", leg),
			slog.String("error", err.Error()),
		)
		return
	}
	m.logger.InfoContext(ctx, "risk_orders: trigger placed",
		slog.String("key", key.String()),
		slog.String("leg", leg),
		slog.String("order_id", id),
	)
}

func (m *RiskOrderManager) logAudit(ctx context.Context, event string, detail map[string]any) {
	if m.audit == nil {
		return
	}
	if err := m.audit.Log(ctx, event, detail); err != nil {
		m.logger.WarnContext(ctx, "risk_orders: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// takeProfitRequest builds a reduce-only trigger that fires when the price
// moves in the position's favour.
func takeProfitRequest(key domain.PositionKey, px, contracts float64, execType domain.OrderType, text string) gate.PriceOrderRequest {
	rule := gate.RuleGTE
	if key.Side == domain.SideShort {
		rule = gate.RuleLTE
	}
	return triggerRequest(key, px, contracts, rule, execType, text)
}

// stopLossRequest builds a reduce-only trigger that fires when the price
// moves against the position.
func stopLossRequest(key domain.PositionKey, px, contracts float64, execType domain.OrderType, text string) gate.PriceOrderRequest {
	rule := gate.RuleLTE
	if key.Side == domain.SideShort {
		rule = gate.RuleGTE
	}
	return triggerRequest(key, px, contracts, rule, execType, text)
}

func triggerRequest(key domain.PositionKey, px, contracts float64, rule int, execType domain.OrderType, text string) gate.PriceOrderRequest {
	req := gate.PriceOrderRequest{
		Symbol:       key.Symbol,
		Size:         -key.Side.Sign() * contracts,
		TriggerPrice: px,
		Rule:         rule,
		PriceType:    gate.PriceTypeLast,
		Text:         text,
	}
	if execType == domain.OrderTypeLimit {
		req.Price = px
	}
	return req
}

// newClientID is the per-request id embedded in order texts. It starts with
// the slot key so cancel-by-prefix finds it.
func newClientID(key domain.PositionKey) string {
	return clip(key.String()+"_"+strconv.FormatInt(time.Now().UnixMilli(), 10), 28)
}

func clip(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
