package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sonnik9/gate-bob-deploy/internal/domain"
	"github.com/Sonnik9/gate-bob-deploy/internal/service"
)

type fixedPrice float64

func (p fixedPrice) CurrentPrice(context.Context, string) (float64, error) { return float64(p), nil }

type readySync struct{}

func (readySync) WaitFirstSync(context.Context) error { return nil }

// pendingOpener marks the slot pending like the order service does.
type pendingOpener struct {
	book  *service.PositionBook
	opens atomic.Int32
	mu    sync.Mutex
	last  service.OpenRequest
}

func (o *pendingOpener) Open(ctx context.Context, req service.OpenRequest) error {
	o.opens.Add(1)
	o.mu.Lock()
	o.last = req
	o.mu.Unlock()
	time.Sleep(5 * time.Millisecond)
	o.book.Update(ctx, req.Signal.Key(), func(st *domain.PositionState) { st.PendingOpen = true })
	return nil
}

type fixture struct {
	exec   *Executor
	book   *service.PositionBook
	opener *pendingOpener
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	book := service.NewPositionBook(nil, logger)
	inst := service.NewInstruments(nil, 0, logger)
	inst.Set(domain.ContractSpec{Symbol: "BTC_USDT", ContractValue: 0.0001, LotSize: 1, PricePrecision: 1, MaxLeverage: 25})
	opener := &pendingOpener{book: book}
	profiles := func(tag string) (domain.TradeProfile, bool) {
		if tag == "unknown" {
			return domain.TradeProfile{}, false
		}
		return domain.TradeProfile{Tag: tag, MarginSize: 10, OrderType: domain.OrderTypeMarket, Leverage: 50, OrderTimeout: time.Minute}, true
	}
	exec := NewExecutor(book, inst, fixedPrice(50000), opener, readySync{}, profiles, nil, nil, cfg, logger)
	return &fixture{exec: exec, book: book, opener: opener}
}

func signal(text string) domain.TradeSignal {
	return domain.TradeSignal{
		Symbol:      "btcusdt",
		Side:        domain.SideLong,
		EntryPrice:  5.0,
		StopLoss:    4.9,
		TakeProfit1: 5.2,
		SettingsTag: "main",
		Timestamp:   time.Now().UnixMilli(),
		RawText:     text,
	}
}

func TestHandleOpensWithClampedLeverageAndRescaledPrices(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.exec.Handle(context.Background(), signal("go long")))

	require.EqualValues(t, 1, f.opener.opens.Load())
	req := f.opener.last
	assert.Equal(t, 25, req.Leverage)
	assert.Equal(t, "BTC_USDT", req.Signal.Symbol)
	assert.Equal(t, 50000.0, req.Signal.EntryPrice)
	assert.Equal(t, 49000.0, req.Signal.StopLoss)
	assert.Equal(t, 52000.0, req.Signal.TakeProfit1)
	assert.Zero(t, req.Signal.TakeProfit2)
	assert.Equal(t, 50000.0, req.CurrentPrice)
}

func TestHandleDropsDuplicates(t *testing.T) {
	f := newFixture(t, Config{})
	sig := signal("same text")
	require.NoError(t, f.exec.Handle(context.Background(), sig))
	f.book.Reset(context.Background(), sig.Key())

	err := f.exec.Handle(context.Background(), sig)
	assert.ErrorIs(t, err, domain.ErrDuplicate)
	assert.EqualValues(t, 1, f.opener.opens.Load())
}

func TestHandleAdmission(t *testing.T) {
	f := newFixture(t, Config{BlackSymbols: []string{"btc"}})

	assert.ErrorIs(t, f.exec.Handle(context.Background(), signal("a")), domain.ErrBlacklisted)

	f = newFixture(t, Config{})
	stale := signal("b")
	stale.Timestamp = time.Now().Add(-2 * time.Minute).UnixMilli()
	assert.ErrorIs(t, f.exec.Handle(context.Background(), stale), domain.ErrStaleSignal)

	unknown := signal("c")
	unknown.SettingsTag = "unknown"
	assert.ErrorIs(t, f.exec.Handle(context.Background(), unknown), domain.ErrNotFound)

	bad := signal("d")
	bad.StopLoss = 0
	assert.ErrorIs(t, f.exec.Handle(context.Background(), bad), domain.ErrInvalidSignal)

	noSpec := signal("e")
	noSpec.Symbol = "DOGE_USDT"
	assert.ErrorIs(t, f.exec.Handle(context.Background(), noSpec), domain.ErrNoSpec)

	assert.Zero(t, f.opener.opens.Load())
}

func TestHandleSkipsBusySlot(t *testing.T) {
	f := newFixture(t, Config{})
	sig := signal("x")
	f.book.Update(context.Background(), sig.Key(), func(st *domain.PositionState) { st.InPosition = true })

	assert.ErrorIs(t, f.exec.Handle(context.Background(), sig), domain.ErrSlotBusy)
	assert.Zero(t, f.opener.opens.Load())
}

func TestConcurrentSignalsForOneSlotOpenOnce(t *testing.T) {
	f := newFixture(t, Config{MaxConcurrent: 4})

	var wg sync.WaitGroup
	var busy atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.exec.Handle(context.Background(), signal("signal "+strconv.Itoa(i)))
			if errors.Is(err, domain.ErrSlotBusy) {
				busy.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, f.opener.opens.Load())
	assert.EqualValues(t, 19, busy.Load())
}

// blockingOpener holds Open until ctx ends or the fallback elapses.
type blockingOpener struct {
	entered chan struct{}
	ctxErr  chan error
}

func (o *blockingOpener) Open(ctx context.Context, _ service.OpenRequest) error {
	close(o.entered)
	select {
	case <-ctx.Done():
		o.ctxErr <- ctx.Err()
		return ctx.Err()
	case <-time.After(3 * time.Second):
		o.ctxErr <- nil
		return nil
	}
}

func TestSubmitDispatchesInBackground(t *testing.T) {
	f := newFixture(t, Config{MaxConcurrent: 2})
	f.exec.Bind(context.Background())
	reqCtx, cancel := context.WithCancel(context.Background())

	require.NoError(t, f.exec.Submit(reqCtx, signal("bg")))
	cancel()
	f.exec.Wait()

	assert.EqualValues(t, 1, f.opener.opens.Load(), "dispatch survives the submitting request")
	assert.ErrorIs(t, f.exec.Submit(context.Background(), signal("bg")), domain.ErrDuplicate)
}

func TestSubmitStopsInFlightOpenOnShutdown(t *testing.T) {
	f := newFixture(t, Config{MaxConcurrent: 2})
	opener := &blockingOpener{entered: make(chan struct{}), ctxErr: make(chan error, 1)}
	f.exec.orders = opener

	appCtx, shutdown := context.WithCancel(context.Background())
	f.exec.Bind(appCtx)
	require.NoError(t, f.exec.Submit(context.Background(), signal("shutdown")))

	select {
	case <-opener.entered:
	case <-time.After(time.Second):
		t.Fatal("open never started")
	}
	start := time.Now()
	shutdown()
	f.exec.Wait()

	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, <-opener.ctxErr, context.Canceled)
}

func TestSubmitWithoutBindUsesCallerContext(t *testing.T) {
	f := newFixture(t, Config{MaxConcurrent: 2})
	opener := &blockingOpener{entered: make(chan struct{}), ctxErr: make(chan error, 1)}
	f.exec.orders = opener

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.exec.Submit(ctx, signal("unbound")))
	<-opener.entered
	cancel()
	f.exec.Wait()

	assert.ErrorIs(t, <-opener.ctxErr, context.Canceled)
}

func TestDispatchReleasesMessageLock(t *testing.T) {
	f := newFixture(t, Config{})
	sig := signal("release me")
	require.NoError(t, f.exec.Handle(context.Background(), sig))

	unlock, err := f.exec.locks.Acquire(context.Background(), "signal:"+Hash(sig.Timestamp, sig.RawText), time.Minute)
	require.NoError(t, err, "message lock is released once dispatch completes")
	unlock()
}

func TestLocalLocks(t *testing.T) {
	l := newLocalLocks()
	unlock, err := l.Acquire(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	_, err = l.Acquire(context.Background(), "k", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	unlock()
	_, err = l.Acquire(context.Background(), "k", time.Nanosecond)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = l.Acquire(context.Background(), "k", time.Minute)
	assert.NoError(t, err, "expired locks are reclaimed")
}
