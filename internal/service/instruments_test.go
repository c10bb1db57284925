package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sonnik9/gate-bob-deploy/internal/domain"
)

type stubContracts struct {
	specs []domain.ContractSpec
	err   error
}

func (s *stubContracts) Contracts(context.Context) ([]domain.ContractSpec, error) {
	return s.specs, s.err
}

func TestInstrumentsRefresh(t *testing.T) {
	src := &stubContracts{specs: []domain.ContractSpec{
		{Symbol: "ETH_USDT", ContractValue: 0.01, LotSize: 1},
		btcSpec,
	}}
	in := NewInstruments(src, 50, testLogger())
	require.NoError(t, in.Refresh(context.Background()))

	assert.Equal(t, 2, in.Len())
	assert.Equal(t, []string{"BTC_USDT", "ETH_USDT"}, in.Symbols())
	eth, ok := in.Get("ETH_USDT")
	require.True(t, ok)
	assert.Equal(t, 50, eth.MaxLeverage)
	btc, _ := in.Get("BTC_USDT")
	assert.Equal(t, 100, btc.MaxLeverage)
}

func TestInstrumentsRefreshKeepsSnapshotOnError(t *testing.T) {
	src := &stubContracts{specs: []domain.ContractSpec{btcSpec}}
	in := NewInstruments(src, 0, testLogger())
	require.NoError(t, in.Refresh(context.Background()))

	src.specs, src.err = nil, errors.New("down")
	assert.Error(t, in.Refresh(context.Background()))
	src.err = nil
	assert.ErrorIs(t, in.Refresh(context.Background()), domain.ErrNotFound)

	_, ok := in.Get("BTC_USDT")
	assert.True(t, ok)
	_, ok = in.Get("DOGE_USDT")
	assert.False(t, ok)
}

type memContractCache struct {
	saved []domain.ContractSpec
}

func (m *memContractCache) SaveContracts(_ context.Context, specs []domain.ContractSpec) error {
	m.saved = append([]domain.ContractSpec(nil), specs...)
	return nil
}

func (m *memContractCache) LoadContracts(context.Context) ([]domain.ContractSpec, error) {
	if len(m.saved) == 0 {
		return nil, domain.ErrNotFound
	}
	return m.saved, nil
}

func TestInstrumentsFallBackToCache(t *testing.T) {
	cache := &memContractCache{}
	src := &stubContracts{specs: []domain.ContractSpec{btcSpec}}
	warm := NewInstruments(src, 0, testLogger())
	warm.SetCache(cache)
	require.NoError(t, warm.Refresh(context.Background()))
	require.Len(t, cache.saved, 1)

	cold := NewInstruments(&stubContracts{err: errors.New("down")}, 0, testLogger())
	cold.SetCache(cache)
	assert.Error(t, cold.Refresh(context.Background()))
	_, ok := cold.Get("BTC_USDT")
	assert.True(t, ok, "cached contracts serve a cold start")
}
