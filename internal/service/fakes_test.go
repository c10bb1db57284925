package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Sonnik9/gate-bob-deploy/internal/domain"
	"github.com/Sonnik9/gate-bob-deploy/internal/platform/gate"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var btcSpec = domain.ContractSpec{
	Symbol:            "BTC_USDT",
	ContractValue:     0.0001,
	LotSize:           1,
	PricePrecision:    1,
	ContractPrecision: 0,
	MaxLeverage:       100,
}

type fakeExchange struct {
	mu sync.Mutex

	positions []domain.ExchangePosition
	posErr    error
	posCalls  int

	leverageErr  error
	placeOrderFn func(gate.OrderRequest) (gate.Order, error)
	priceOrderFn func(gate.PriceOrderRequest) (string, error)
	orders       []gate.OrderRequest
	priceOrders  []gate.PriceOrderRequest

	book      gate.OrderBook
	bookErr   error
	fetched   gate.Order
	cancelled []string

	cancelledPrice []string
	cancelAllKeys  []domain.PositionKey
	cancelAllIDs   []string
	cancelAllN     int
	cancelAllErr   error

	closes []gate.PositionClose
	trades []gate.Trade
	last   float64
}

func (f *fakeExchange) Ticker(_ context.Context, symbol string) (gate.Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return gate.Ticker{Symbol: symbol, Last: f.last}, nil
}

func (f *fakeExchange) Tickers(context.Context) (map[string]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return map[string]float64{"BTC_USDT": f.last}, nil
}

func (f *fakeExchange) OrderBook(_ context.Context, symbol string, _ int) (gate.OrderBook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.book, f.bookErr
}

func (f *fakeExchange) Positions(context.Context) ([]domain.ExchangePosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posCalls++
	out := make([]domain.ExchangePosition, len(f.positions))
	copy(out, f.positions)
	return out, f.posErr
}

func (f *fakeExchange) setPositions(p ...domain.ExchangePosition) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions = p
}

func (f *fakeExchange) SetLeverage(context.Context, string, int, domain.MarginMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leverageErr
}

func (f *fakeExchange) SetMarginMode(context.Context, string, domain.MarginMode) error {
	return nil
}

func (f *fakeExchange) PlaceOrder(_ context.Context, req gate.OrderRequest) (gate.Order, error) {
	f.mu.Lock()
	f.orders = append(f.orders, req)
	fn := f.placeOrderFn
	n := len(f.orders)
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return gate.Order{ID: "main-" + string(rune('0'+n)), Symbol: req.Symbol, Status: "open"}, nil
}

func (f *fakeExchange) GetOrder(context.Context, string, string) (gate.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetched, nil
}

func (f *fakeExchange) CancelOrder(_ context.Context, _ string, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeExchange) PlacePriceOrder(_ context.Context, req gate.PriceOrderRequest) (string, error) {
	f.mu.Lock()
	f.priceOrders = append(f.priceOrders, req)
	fn := f.priceOrderFn
	n := len(f.priceOrders)
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return "po-" + string(rune('0'+n)), nil
}

func (f *fakeExchange) CancelPriceOrder(_ context.Context, _ string, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelledPrice = append(f.cancelledPrice, id)
	return nil
}

func (f *fakeExchange) CancelAll(_ context.Context, key domain.PositionKey, triggerIDs []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelAllKeys = append(f.cancelAllKeys, key)
	f.cancelAllIDs = append(f.cancelAllIDs, triggerIDs...)
	return f.cancelAllN, f.cancelAllErr
}

func (f *fakeExchange) PositionCloses(context.Context, string, domain.Side, int64, int64) ([]gate.PositionClose, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes, nil
}

func (f *fakeExchange) MyTrades(context.Context, string, string) ([]gate.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.trades, nil
}

func (f *fakeExchange) snapshotOrders() ([]gate.OrderRequest, []gate.PriceOrderRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gate.OrderRequest(nil), f.orders...), append([]gate.PriceOrderRequest(nil), f.priceOrders...)
}

type published struct {
	key     domain.PositionKey
	rec     domain.OrderStatusRecord
	buttons domain.ButtonState
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
}

func (p *fakePublisher) Publish(_ context.Context, key domain.PositionKey, rec domain.OrderStatusRecord, handle string, buttons domain.ButtonState) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, published{key: key, rec: rec, buttons: buttons})
	if handle == "" {
		handle = "msg-1"
	}
	return handle, nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func (p *fakePublisher) last() published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent[len(p.sent)-1]
}

type fakeJournal struct {
	mu     sync.Mutex
	trades []domain.ClosedTrade
}

func (j *fakeJournal) Record(_ context.Context, t domain.ClosedTrade) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.trades = append(j.trades, t)
	return nil
}

func (j *fakeJournal) List(context.Context, domain.ListOpts) ([]domain.ClosedTrade, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]domain.ClosedTrade(nil), j.trades...), nil
}

func (j *fakeJournal) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type harness struct {
	ex         *fakeExchange
	pub        *fakePublisher
	journal    *fakeJournal
	book       *PositionBook
	inst       *Instruments
	triggers   *RiskOrderManager
	orders     *OrderService
	reconciler *Reconciler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{ex: &fakeExchange{last: 50000}, pub: &fakePublisher{}, journal: &fakeJournal{}}
	logger := testLogger()
	h.book = NewPositionBook(nil, logger)
	h.inst = NewInstruments(nil, 0, logger)
	h.inst.Set(btcSpec)
	reporter := NewReporter(h.book, h.pub, nil, nil, logger)
	profiles := func(string) (domain.TradeProfile, bool) {
		return domain.TradeProfile{TriggerOrderType: domain.OrderTypeMarket}, true
	}
	h.triggers = NewRiskOrderManager(h.ex, h.book, h.inst, reporter, profiles, nil,
		RiskOrderConfig{CloseConfirmWait: time.Millisecond}, logger)
	h.orders = NewOrderService(h.ex, h.book, NewRiskService(0, logger), h.triggers, reporter, nil,
		OrderConfig{FillPollInterval: time.Millisecond, MarketFillWait: 50 * time.Millisecond}, logger)
	pnl := NewPnLReporter(h.ex, PnLConfig{Attempts: 2, MinBackoff: time.Millisecond}, logger)
	h.reconciler = NewReconciler(h.ex, h.book, reporter, pnl, h.journal,
		ReconcilerConfig{Interval: time.Millisecond}, logger)
	return h
}

func btcSignal() domain.TradeSignal {
	return domain.TradeSignal{
		Symbol:      "BTC_USDT",
		Side:        domain.SideLong,
		EntryPrice:  50000,
		StopLoss:    49000,
		TakeProfit1: 52000,
		TakeProfit2: 53000,
		Leverage:    10,
		Timestamp:   time.Now().UnixMilli(),
	}
}

func btcProfile(orderType domain.OrderType) domain.TradeProfile {
	return domain.TradeProfile{
		Tag:              "trading pair",
		MarginSize:       10,
		MarginMode:       domain.MarginCross,
		OrderType:        orderType,
		TriggerOrderType: domain.OrderTypeMarket,
		Leverage:         10,
		OrderTimeout:     100 * time.Millisecond,
	}
}
