package handler

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sonnik9/gate-bob-deploy/internal/domain"
)

func TestParseListOpts(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/trades", nil)
	opts := parseListOpts(req)
	assert.Equal(t, 50, opts.Limit)
	assert.Zero(t, opts.Offset)
	assert.Nil(t, opts.Since)
	assert.Nil(t, opts.Until)

	req = httptest.NewRequest(http.MethodGet,
		"/api/trades?limit=9000&offset=20&since=2024-05-01T00:00:00Z&until=bogus", nil)
	opts = parseListOpts(req)
	assert.Equal(t, 500, opts.Limit)
	assert.Equal(t, 20, opts.Offset)
	require.NotNil(t, opts.Since)
	assert.True(t, opts.Since.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)))
	assert.Nil(t, opts.Until)
}

func TestPathKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/positions/btc_usdt/long/tp", nil)
	req.SetPathValue("symbol", "btc_usdt")
	req.SetPathValue("side", "long")

	key, err := pathKey(req)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionKey{Symbol: "BTC_USDT", Side: domain.SideLong}, key)

	req.SetPathValue("side", "sideways")
	_, err = pathKey(req)
	assert.ErrorIs(t, err, domain.ErrInvalidSignal)
}

func TestDecodeBodyRejectsEmpty(t *testing.T) {
	var v map[string]any
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	assert.Error(t, decodeBody(req, &v))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"price":1.5}`))
	require.NoError(t, decodeBody(req, &v))
	assert.Equal(t, 1.5, v["price"])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrInvalidSize, http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", domain.ErrNoContracts), http.StatusNotFound},
		{domain.ErrSlotBusy, http.StatusConflict},
		{domain.ErrDuplicate, http.StatusConflict},
		{fmt.Errorf("risk: %w", domain.ErrRiskRejected), http.StatusUnprocessableEntity},
		{domain.ErrBlacklisted, http.StatusUnprocessableEntity},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
