package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sonnik9/gate-bob-deploy/internal/domain"
	"github.com/Sonnik9/gate-bob-deploy/internal/platform/gate"
)

func livePosition() domain.ExchangePosition {
	return domain.ExchangePosition{Key: btcLong, Contracts: 20, EntryPrice: 50010, Notional: 100.02, Margin: 10, Leverage: 10}
}

func TestReconcileIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.book.Ensure(btcLong)
	h.book.SetRecord(btcLong, domain.NewStatusRecord(btcLong))
	h.ex.setPositions(livePosition())

	require.NoError(t, h.reconciler.Reconcile(ctx))
	require.Equal(t, 1, h.pub.count())
	rec, _, _ := h.book.Record(btcLong)
	assert.Equal(t, 50010.0, rec.EntryPrice)

	st, _ := h.book.State(btcLong)
	assert.True(t, st.InPosition)
	assert.False(t, st.PendingOpen)
	assert.Equal(t, 20.0, st.Contracts)
	assert.InDelta(t, 0.002, st.AssetVolume, 1e-9)

	for i := 0; i < 3; i++ {
		require.NoError(t, h.reconciler.Reconcile(ctx))
	}
	assert.Equal(t, 1, h.pub.count(), "unchanged exchange state publishes nothing")
	again, _ := h.book.State(btcLong)
	assert.Equal(t, st, again)
}

func TestReconcileFinalizesClosedPosition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedPosition(h, btcLong, func(st *domain.PositionState) {
		st.OrderID = "main-1"
		st.MarginVolume = 10
		st.TPOrderIDs = [2]string{"tp-a", "virtual_tp_2_x"}
		st.SLOrderID = "sl-a"
		st.OpenedAt = time.Now().Add(-time.Hour)
	})
	h.ex.trades = []gate.Trade{{CreateTime: 1200}, {CreateTime: 1000}}
	h.ex.closes = []gate.PositionClose{
		{Side: "short", PnL: 9, Time: 1500, FirstOpenTime: 1000},
		{Side: "long", PnL: 5, Time: 1500, FirstOpenTime: 999},
		{Side: "long", PnL: 1.234567, Time: 1500, FirstOpenTime: 1000},
	}

	require.NoError(t, h.reconciler.Reconcile(ctx))

	last := h.pub.last()
	assert.Equal(t, domain.ButtonsClosed, last.buttons)
	assert.Equal(t, domain.StatusFinished, last.rec.EntryStatus)
	assert.Equal(t, domain.StatusNone, last.rec.TP[0].Status)
	assert.Equal(t, domain.StatusNone, last.rec.SL.Status)
	assert.True(t, strings.HasPrefix(last.rec.PnLText, "PNL: + 1.235 usdt\nClose time - ["), last.rec.PnLText)

	st, ok := h.book.State(btcLong)
	require.True(t, ok, "slots are reset, never deleted")
	assert.Equal(t, domain.DefaultPositionState(), st)
	_, _, ok = h.book.Record(btcLong)
	assert.False(t, ok)

	assert.Equal(t, []domain.PositionKey{btcLong}, h.ex.cancelAllKeys)
	assert.ElementsMatch(t, []string{"tp-a", "sl-a"}, h.ex.cancelAllIDs, "virtual ids are never sent")

	require.Len(t, h.journal.trades, 1)
	trade := h.journal.trades[0]
	require.NotNil(t, trade.PnL)
	assert.Equal(t, 1.23457, *trade.PnL)
	assert.Equal(t, 12.3457, *trade.ROI)
	assert.Equal(t, domain.StatusFinished, trade.ExitStatus)
	assert.Equal(t, 20.0, trade.Contracts)

	// The reset slot is ready for the next signal and further passes are quiet.
	n := h.pub.count()
	require.NoError(t, h.reconciler.Reconcile(ctx))
	assert.Equal(t, n, h.pub.count())
}

func TestReconcileKeepsTerminalStatus(t *testing.T) {
	h := newHarness(t)
	seedPosition(h, btcLong, nil)
	h.book.MutateRecord(btcLong, func(rec *domain.OrderStatusRecord) { rec.EntryStatus = domain.StatusClosedManually })

	require.NoError(t, h.reconciler.Reconcile(context.Background()))

	last := h.pub.last()
	assert.Equal(t, domain.StatusClosedManually, last.rec.EntryStatus)
	assert.Equal(t, domain.FailedPnLText, last.rec.PnLText)
	require.Len(t, h.journal.trades, 1)
	assert.Nil(t, h.journal.trades[0].PnL)
}

func TestReconcileIgnoresUntrackedAndPending(t *testing.T) {
	h := newHarness(t)
	h.book.Update(context.Background(), btcLong, func(st *domain.PositionState) { st.PendingOpen = true })
	h.ex.setPositions(domain.ExchangePosition{
		Key: domain.PositionKey{Symbol: "ETH_USDT", Side: domain.SideLong}, Contracts: 3, EntryPrice: 3000,
	})

	require.NoError(t, h.reconciler.Reconcile(context.Background()))

	st, _ := h.book.State(btcLong)
	assert.True(t, st.PendingOpen, "a pending slot without a position is left alone")
	_, ok := h.book.State(domain.PositionKey{Symbol: "ETH_USDT", Side: domain.SideLong})
	assert.False(t, ok)
	assert.Zero(t, h.pub.count())
	assert.Empty(t, h.journal.trades)
}

func TestFirstSyncWaitsForSuccess(t *testing.T) {
	h := newHarness(t)
	h.ex.posErr = errors.New("boom")

	require.Error(t, h.reconciler.Reconcile(context.Background()))
	select {
	case <-h.reconciler.FirstSyncDone():
		t.Fatal("first sync signalled after a failed pass")
	default:
	}

	h.ex.mu.Lock()
	h.ex.posErr = nil
	h.ex.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.reconciler.Run(ctx) }()

	wait, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	require.NoError(t, h.reconciler.WaitFirstSync(wait))

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
