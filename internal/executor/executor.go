package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"golang.org/x/sync/semaphore"

	"github.com/Sonnik9/gate-bob-deploy/internal/domain"
	"github.com/Sonnik9/gate-bob-deploy/internal/metrics"
	"github.com/Sonnik9/gate-bob-deploy/internal/service"
)

// Opener opens a position for a validated signal. It is implemented by
// service.OrderService.
type Opener interface {
	Open(ctx context.Context, req service.OpenRequest) error
}

// PriceSource returns the current price of a contract.
type PriceSource interface {
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// SyncWaiter blocks until the position mirror has been loaded once.
type SyncWaiter interface {
	WaitFirstSync(ctx context.Context) error
}

// Config holds the dispatch knobs.
type Config struct {
	MaxConcurrent   int           // default 10
	DedupCapacity   int           // default 512
	DedupTTL        time.Duration // default 24h
	LockTTL         time.Duration // message lock lifetime, default 5m
	CleanupInterval time.Duration // default 1m
	BlackSymbols    []string
}

// Executor is the signal dispatch gate. It drops duplicates, stale signals
// and signals for busy slots, then hands each remaining signal to the order
// service under the slot lock.
type Executor struct {
	book        *service.PositionBook
	instruments *service.Instruments
	prices      PriceSource
	orders      Opener
	sync        SyncWaiter
	profiles    service.ProfileLookup
	locks       domain.LockManager
	bus         domain.SignalBus

	dedup *Dedup
	black map[string]struct{}
	cfg   Config
	sem   *semaphore.Weighted
	wg    sync.WaitGroup
	now   func() time.Time

	mu   sync.Mutex
	base context.Context

	logger *slog.Logger
}

// NewExecutor creates an Executor. locks may be nil, in which case message
// locks are kept in process. bus may be nil.
func NewExecutor(
	book *service.PositionBook,
	instruments *service.Instruments,
	prices PriceSource,
	orders Opener,
	syncer SyncWaiter,
	profiles service.ProfileLookup,
	locks domain.LockManager,
	bus domain.SignalBus,
	cfg Config,
	logger *slog.Logger,
) *Executor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	if locks == nil {
		locks = newLocalLocks()
	}
	black := make(map[string]struct{}, len(cfg.BlackSymbols))
	for _, s := range cfg.BlackSymbols {
		black[domain.NormalizeSymbol(s)] = struct{}{}
	}
	return &Executor{
		book:        book,
		instruments: instruments,
		prices:      prices,
		orders:      orders,
		sync:        syncer,
		profiles:    profiles,
		locks:       locks,
		bus:         bus,
		dedup:       NewDedup(cfg.DedupCapacity, cfg.DedupTTL),
		black:       black,
		cfg:         cfg,
		sem:         semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		now:         time.Now,
		logger:      logger.With(slog.String("component", "executor")),
	}
}

// Run consumes signals published on the bus until ctx ends, then waits for
// in-flight dispatches. Without a bus it only runs the dedup cleanup.
func (e *Executor) Run(ctx context.Context) error {
	e.Bind(ctx)
	e.logger.InfoContext(ctx, "executor: started", slog.Int("max_concurrent", e.cfg.MaxConcurrent))
	defer e.logger.Info("executor: stopped")
	defer e.wg.Wait()

	var intake <-chan []byte
	if e.bus != nil {
		ch, err := e.bus.Subscribe(ctx, domain.ChannelSignals)
		if err != nil {
			return fmt.Errorf("executor: subscribe: %w", err)
		}
		intake = ch
	}

	cleanup := time.NewTicker(e.cfg.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-intake:
			if !ok {
				intake = nil
				continue
			}
			var sig domain.TradeSignal
			if err := sonic.Unmarshal(payload, &sig); err != nil {
				e.logger.WarnContext(ctx, "executor: bad signal payload", slog.String("error", err.Error()))
				continue
			}
			if err := e.Submit(ctx, sig); err != nil {
				e.logger.DebugContext(ctx, "executor: signal dropped",
					slog.String("symbol", sig.Symbol),
					slog.String("reason", err.Error()),
				)
			}
		case <-cleanup.C:
			e.dedup.Cleanup()
		}
	}
}

// Bind sets the context every background dispatch runs under. Dispatches
// started by Submit are cancelled when ctx ends, not when the submitting
// request does.
func (e *Executor) Bind(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.base = ctx
}

// dispatchContext returns the bound context, or ctx when none is bound.
func (e *Executor) dispatchContext(ctx context.Context) context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.base != nil {
		return e.base
	}
	return ctx
}

// Submit runs the cheap admission checks and dispatches the signal in the
// background. A nil error means the signal was accepted, not that a position
// was opened.
func (e *Executor) Submit(ctx context.Context, sig domain.TradeSignal) error {
	sig.Symbol = domain.NormalizeSymbol(sig.Symbol)
	profile, hash, err := e.admit(sig)
	if err != nil {
		metrics.IncSignal(outcome(err))
		return err
	}
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("executor: submit: %w", err)
	}
	dctx := e.dispatchContext(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.sem.Release(1)
		if err := e.dispatch(dctx, sig, profile, hash); err != nil {
			e.logger.InfoContext(dctx, "executor: signal not opened",
				slog.String("key", sig.Key().String()),
				slog.String("reason", err.Error()),
			)
		}
	}()
	return nil
}

// Handle admits and dispatches sig synchronously.
func (e *Executor) Handle(ctx context.Context, sig domain.TradeSignal) error {
	sig.Symbol = domain.NormalizeSymbol(sig.Symbol)
	profile, hash, err := e.admit(sig)
	if err != nil {
		metrics.IncSignal(outcome(err))
		return err
	}
	return e.dispatch(ctx, sig, profile, hash)
}

// Wait blocks until every dispatched signal has finished.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// admit checks validity, blacklist, duplicates and staleness in that order.
func (e *Executor) admit(sig domain.TradeSignal) (domain.TradeProfile, string, error) {
	if err := sig.Validate(); err != nil {
		return domain.TradeProfile{}, "", err
	}
	if _, ok := e.black[sig.Symbol]; ok {
		return domain.TradeProfile{}, "", fmt.Errorf("executor: %s: %w", sig.Symbol, domain.ErrBlacklisted)
	}
	hash := Hash(sig.Timestamp, sig.RawText)
	if e.dedup.IsDuplicate(hash) {
		return domain.TradeProfile{}, "", fmt.Errorf("executor: %s: %w", hash[:12], domain.ErrDuplicate)
	}
	profile, ok := e.profiles(sig.SettingsTag)
	if !ok {
		return domain.TradeProfile{}, "", fmt.Errorf("executor: profile %q: %w", sig.SettingsTag, domain.ErrNotFound)
	}
	timeout := profile.OrderTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	if age := e.now().Sub(sig.ReceivedAt()); age >= timeout {
		return domain.TradeProfile{}, "", fmt.Errorf("executor: signal age %s: %w", age.Truncate(time.Second), domain.ErrStaleSignal)
	}
	return profile, hash, nil
}

// dispatch holds the message lock and the slot lock for the whole open
// attempt.
func (e *Executor) dispatch(ctx context.Context, sig domain.TradeSignal, profile domain.TradeProfile, hash string) (err error) {
	key := sig.Key()
	defer func() { metrics.IncSignal(outcome(err)) }()

	release, err := e.locks.Acquire(ctx, "signal:"+hash, e.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return fmt.Errorf("executor: %s: %w", key, domain.ErrDuplicate)
		}
		return fmt.Errorf("executor: message lock: %w", err)
	}
	defer release()

	unlock := e.book.LockSlot(key)
	defer unlock()

	if err := e.sync.WaitFirstSync(ctx); err != nil {
		return fmt.Errorf("executor: wait first sync: %w", err)
	}

	spec, ok := e.instruments.Get(key.Symbol)
	if !ok {
		return fmt.Errorf("executor: %s: %w", key.Symbol, domain.ErrNoSpec)
	}
	if st := e.book.Ensure(key); st.Busy() {
		return fmt.Errorf("executor: %s: %w", key, domain.ErrSlotBusy)
	}

	lev := profile.Leverage
	if lev <= 0 {
		lev = sig.Leverage
	}
	if lev <= 0 {
		return fmt.Errorf("executor: %s: no leverage: %w", key, domain.ErrInvalidSignal)
	}
	lev = spec.ClampLeverage(lev)

	cur, err := e.prices.CurrentPrice(ctx, key.Symbol)
	if err != nil {
		return fmt.Errorf("executor: %s: %w", key, err)
	}
	sig = rescale(sig, cur)

	e.logger.InfoContext(ctx, "executor: opening",
		slog.String("key", key.String()),
		slog.String("profile", profile.Tag),
		slog.Int("leverage", lev),
		slog.Float64("entry", sig.EntryPrice),
		slog.Float64("current", cur),
	)
	return e.orders.Open(ctx, service.OpenRequest{
		Signal:       sig,
		Profile:      profile,
		Spec:         spec,
		Leverage:     lev,
		CurrentPrice: cur,
	})
}

// rescale fixes signal prices quoted at the wrong power of ten.
func rescale(sig domain.TradeSignal, cur float64) domain.TradeSignal {
	sig.EntryPrice = service.FixPriceScale(sig.EntryPrice, cur)
	sig.StopLoss = service.FixPriceScale(sig.StopLoss, cur)
	sig.TakeProfit1 = service.FixPriceScale(sig.TakeProfit1, cur)
	if sig.TakeProfit2 > 0 {
		sig.TakeProfit2 = service.FixPriceScale(sig.TakeProfit2, cur)
	}
	return sig
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "opened"
	case errors.Is(err, domain.ErrDuplicate):
		return "duplicate"
	case errors.Is(err, domain.ErrStaleSignal):
		return "stale"
	case errors.Is(err, domain.ErrBlacklisted):
		return "blacklisted"
	case errors.Is(err, domain.ErrSlotBusy):
		return "busy"
	case errors.Is(err, domain.ErrRiskRejected):
		return "risk_rejected"
	case errors.Is(err, domain.ErrInvalidSignal):
		return "invalid"
	}
	return "failed"
}

// ---------------------------------------------------------------------------
// In-process message locks
// ---------------------------------------------------------------------------

// localLocks is the single-process stand-in for the Redis lock manager.
type localLocks struct {
	mu   sync.Mutex
	held map[string]time.Time // key -> expiry
}

func newLocalLocks() *localLocks {
	return &localLocks{held: make(map[string]time.Time)}
}

func (l *localLocks) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	for k, exp := range l.held {
		if now.After(exp) {
			delete(l.held, k)
		}
	}
	if _, ok := l.held[key]; ok {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = now.Add(ttl)
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

var _ domain.LockManager = (*localLocks)(nil)

