package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sonnik9/gate-bob-deploy/internal/domain"
	"github.com/Sonnik9/gate-bob-deploy/internal/platform/gate"
)

type memPrices struct {
	mu     sync.Mutex
	prices map[string]float64
	at     map[string]time.Time
}

func newMemPrices() *memPrices {
	return &memPrices{prices: map[string]float64{}, at: map[string]time.Time{}}
}

func (m *memPrices) SetPrice(_ context.Context, symbol string, price float64, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol], m.at[symbol] = price, ts
	return nil
}

func (m *memPrices) GetPrice(_ context.Context, symbol string) (float64, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prices[symbol]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p, m.at[symbol], nil
}

func (m *memPrices) GetPrices(_ context.Context, symbols []string) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		if p, ok := m.prices[s]; ok {
			out[s] = p
		}
	}
	return out, nil
}

func TestCurrentPricePrefersFreshTicker(t *testing.T) {
	ex := &fakeExchange{last: 50000}
	cache := newMemPrices()
	svc := NewPriceService(cache, ex, time.Minute, testLogger())

	svc.HandleTicker(context.Background(), gate.Ticker{Symbol: "BTC_USDT", Last: 51000}, time.Now())
	p, err := svc.CurrentPrice(context.Background(), "BTC_USDT")
	require.NoError(t, err)
	assert.Equal(t, 51000.0, p)
	assert.Equal(t, 51000.0, cache.prices["BTC_USDT"])
}

func TestCurrentPriceFallsBackToREST(t *testing.T) {
	ex := &fakeExchange{last: 50000}
	svc := NewPriceService(nil, ex, time.Second, testLogger())

	svc.HandleTicker(context.Background(), gate.Ticker{Symbol: "BTC_USDT", Last: 51000}, time.Now().Add(-time.Hour))
	p, err := svc.CurrentPrice(context.Background(), "BTC_USDT")
	require.NoError(t, err)
	assert.Equal(t, 50000.0, p)

	ex.last = 0
	_, err = svc.CurrentPrice(context.Background(), "ETH_USDT")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCurrentPriceReadsSharedCache(t *testing.T) {
	cache := newMemPrices()
	require.NoError(t, cache.SetPrice(context.Background(), "BTC_USDT", 49500, time.Now()))
	svc := NewPriceService(cache, &fakeExchange{last: 50000}, time.Minute, testLogger())

	p, err := svc.CurrentPrice(context.Background(), "BTC_USDT")
	require.NoError(t, err)
	assert.Equal(t, 49500.0, p)
}
