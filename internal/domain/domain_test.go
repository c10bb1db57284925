package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSymbol(t *testing.T) {
	tests := map[string]string{
		"btc":       "BTC_USDT",
		"BTCUSDT":   "BTC_USDT",
		"eth/usdt":  "ETH_USDT",
		"SOL_USDT":  "SOL_USDT",
		" 1000pepe": "1000PEPE_USDT",
		"":          "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeSymbol(in), in)
	}
}

func TestPositionKeyString(t *testing.T) {
	key := PositionKey{Symbol: "BTC_USDT", Side: SideShort}
	assert.Equal(t, "BTC_USDT_SHORT", key.String())
}

func TestTradeSignalValidate(t *testing.T) {
	sig := TradeSignal{
		Symbol: "BTC_USDT", Side: SideLong, EntryPrice: 50000,
		StopLoss: 49000, TakeProfit1: 51000, Timestamp: 1,
	}
	require.NoError(t, sig.Validate())

	sig.StopLoss = 0
	sig.Side = "UP"
	err := sig.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSignal))
	assert.Contains(t, err.Error(), "side, stop_loss")
}

func TestStatusRecordDefaults(t *testing.T) {
	rec := NewStatusRecord(PositionKey{Symbol: "ETH_USDT", Side: SideLong})
	assert.Equal(t, StatusNone, rec.EntryStatus)
	assert.Equal(t, DefaultPnLText, rec.PnLText)
	assert.True(t, rec.Terminal())

	rec.EntryStatus = StatusFilled
	assert.False(t, rec.Terminal())

	rec.ResetTriggers(StatusCancelled)
	assert.Equal(t, StatusCancelled, rec.TP[1].Status)
	assert.Equal(t, StatusCancelled, rec.SL.Status)

	assert.Equal(t, "failed. Reason: TIME-OUT", Failed(ReasonTimeout))
}

func TestClampLeverage(t *testing.T) {
	assert.Equal(t, 20, ContractSpec{}.ClampLeverage(50))
	assert.Equal(t, 10, ContractSpec{MaxLeverage: 100}.ClampLeverage(10))
	assert.Equal(t, 75, ContractSpec{MaxLeverage: 75}.ClampLeverage(125))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "45s", FormatDuration(45*time.Second))
	assert.Equal(t, "2m 5s", FormatDuration(125*time.Second))
	assert.Equal(t, "3m", FormatDuration(3*time.Minute))
	assert.Equal(t, "25h 0m", FormatDuration(25*time.Hour+time.Second))

	trade := ClosedTrade{ClosedAt: time.Now()}
	assert.Zero(t, trade.Duration())
}

func TestStatusRecordRender(t *testing.T) {
	rec := NewStatusRecord(PositionKey{Symbol: "BTC_USDT", Side: SideLong})
	rec.Leverage = 10
	rec.OrderType = OrderTypeMarket
	rec.EntryPrice = 50000.5
	rec.EntryStatus = StatusFilled
	rec.TP[0] = TriggerStatus{Price: 52000, Status: StatusPending}
	rec.SL = TriggerStatus{Price: 49000, Status: StatusPending}

	want := "BTC_USDT | LONG X10\n" +
		"Order Type: market\n" +
		"Entry price: 50000.5 | Status: filled\n" +
		"Take profit 1: 52000 | Status: pending\n" +
		"Stop-loss: 49000 | Status: pending\n" +
		"\n" +
		DefaultPnLText
	assert.Equal(t, want, rec.Render())

	rec.TP[1] = TriggerStatus{Price: 53000, Status: StatusNone}
	assert.Contains(t, rec.Render(), "Take profit 2: 53000 | Status: none\nStop-loss")
}
