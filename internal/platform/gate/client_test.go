package gate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sonnik9/gate-bob-deploy/internal/crypto"
	"github.com/Sonnik9/gate-bob-deploy/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:    srv.URL + "/api/v4",
		Key:        "k",
		Secret:     "s",
		RetryDelay: 5 * time.Millisecond,
	}, nil, testLogger())
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestExecuteSignsPrivateRequests(t *testing.T) {
	auth := &crypto.GateAuth{Key: "k", Secret: "s"}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "k", r.Header.Get("KEY"))
		path := strings.TrimPrefix(r.URL.Path, crypto.APIPrefix)
		want := auth.Sign(r.Method, path, r.URL.RawQuery, body, r.Header.Get("Timestamp"))
		assert.Equal(t, want, r.Header.Get("SIGN"))
		assert.Equal(t, `{"contract":"BTC_USDT","mode":"CROSS"}`, string(body))
		_, _ = w.Write([]byte(`{"contract":"BTC_USDT"}`))
	})

	err := client.SetMarginMode(context.Background(), "BTC_USDT", domain.MarginCross)
	require.NoError(t, err)
}

func TestExecuteParsesErrorStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"label":"BALANCE_NOT_ENOUGH","message":"insufficient"}`))
	})

	resp, err := client.Execute(context.Background(), http.MethodPost, "/futures/usdt/orders", nil, map[string]any{}, true)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	apiErr := resp.APIError()
	require.NotNil(t, apiErr)
	assert.Equal(t, "BALANCE_NOT_ENOUGH (insufficient)", apiErr.Reason())

	_, err = client.PlaceOrder(context.Background(), OrderRequest{Symbol: "BTC_USDT", Size: 1})
	var target *APIError
	require.True(t, errors.As(err, &target))
	assert.Equal(t, "BALANCE_NOT_ENOUGH", target.Label)
}

func TestExecuteRetriesTransportErrors(t *testing.T) {
	var calls atomic.Int32
	hc := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("connection reset")
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(`[{"contract":"BTC_USDT","last":"50000.5"}]`)),
			Header:     make(http.Header),
			Request:    r,
		}, nil
	})}
	client := NewClient(Config{BaseURL: "http://gate.test/api/v4", RetryDelay: time.Millisecond}, hc, testLogger())

	tickers, err := client.Tickers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 50000.5, tickers["BTC_USDT"])
}

func TestExecuteAbandonsOnCancel(t *testing.T) {
	hc := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return nil, errors.New("dial tcp: timeout")
	})}
	client := NewClient(Config{BaseURL: "http://gate.test/api/v4", RetryDelay: 5 * time.Millisecond}, hc, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	start := time.Now()
	resp, err := client.Execute(ctx, http.MethodGet, "/futures/usdt/positions", nil, nil, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAbandoned)
	assert.True(t, resp.Empty())
	assert.Less(t, time.Since(start), time.Second)
}

func TestNormalizeShapes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		kind Kind
		n    int
	}{
		{"object", `{"id":1}`, KindSingle, 1},
		{"array", `[{"id":1},{"id":2}]`, KindMany, 2},
		{"orders envelope", `{"orders":[{"id":1}]}`, KindMany, 1},
		{"price orders envelope", `{"price_orders":[{"id":1},{"id":2},{"id":3}]}`, KindMany, 3},
		{"data envelope", `{"data":[]}`, KindMany, 0},
		{"scalar", `3`, KindEmpty, 0},
		{"invalid", `<html>bad gateway</html>`, KindEmpty, 0},
		{"empty", ``, KindEmpty, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := Normalize([]byte(tt.raw))
			assert.Equal(t, tt.kind, resp.Kind)
			assert.Len(t, resp.List(), tt.n)
			if tt.n == 0 {
				assert.Nil(t, resp.First())
			}
		})
	}
}

func TestObjectKeepsLargeIDs(t *testing.T) {
	resp := Normalize([]byte(`{"id":123456789012345678,"size":"-3","fill_price":"1.5"}`))
	obj := resp.First()
	assert.Equal(t, "123456789012345678", obj.String("id"))
	assert.Equal(t, -3.0, obj.Float("size"))
	assert.Equal(t, int64(123456789012345678), obj.Int("id"))
}

func TestPlaceOrderBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v4/futures/usdt/orders", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "BTC_USDT", body["contract"])
		assert.Equal(t, -3.0, body["size"])
		assert.Equal(t, "0", body["price"])
		assert.Equal(t, "ioc", body["tif"])
		assert.Equal(t, true, body["reduce_only"])
		assert.Equal(t, "t-BTC_USDT_SHORT_1700000000000", body["text"])
		_, _ = w.Write([]byte(`{"id":98765432109876,"status":"finished","finish_as":"filled"}`))
	})

	order, err := client.PlaceOrder(context.Background(), OrderRequest{
		Symbol:     "BTC_USDT",
		Size:       -3,
		ReduceOnly: true,
		ClientID:   "BTC_USDT_SHORT_1700000000000_extra",
	})
	require.NoError(t, err)
	assert.Equal(t, "98765432109876", order.ID)
	assert.True(t, order.Filled())
}

func TestPlacePriceOrderBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Initial map[string]any `json:"initial"`
			Trigger map[string]any `json:"trigger"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "25000.5", body.Initial["price"])
		assert.Equal(t, "gtc", body.Initial["tif"])
		assert.Len(t, body.Initial["text"], 30)
		assert.Equal(t, 1.0, body.Trigger["rule"])
		assert.Equal(t, 0.0, body.Trigger["price_type"])
		assert.Equal(t, 86400.0, body.Trigger["expiration"])
		_, _ = w.Write([]byte(`{"id":42}`))
	})

	id, err := client.PlacePriceOrder(context.Background(), PriceOrderRequest{
		Symbol:       "BTC_USDT",
		Size:         -2,
		Price:        25000.5,
		TriggerPrice: 25000,
		Rule:         RuleGTE,
		Text:         "t-tp1-BTC_USDT_LONG_1700000000000",
	})
	require.NoError(t, err)
	assert.Equal(t, "42", id)
}

func TestSetLeverageQuery(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v4/futures/usdt/dual_comp/positions/ETH_USDT/leverage", r.URL.Path)
		assert.Equal(t, "0", r.URL.Query().Get("leverage"))
		assert.Equal(t, "0", r.URL.Query().Get("cross_leverage_limit"))
		_, _ = w.Write([]byte(`[{"contract":"ETH_USDT","leverage":"0"}]`))
	})
	require.NoError(t, client.SetLeverage(context.Background(), "ETH_USDT", 0, domain.MarginCross))
}

func TestCancelAllRunsEveryStep(t *testing.T) {
	var mu sync.Mutex
	var cancelled []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		switch {
		case r.URL.Path == "/api/v4/futures/usdt/orders":
			assert.Equal(t, "ask", r.URL.Query().Get("side"))
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"label":"ORDER_NOT_FOUND"}`))
		case strings.HasPrefix(r.URL.Path, "/api/v4/futures/usdt/price_orders/"):
			assert.Equal(t, "SOL_USDT", r.URL.Query().Get("contract"))
			mu.Lock()
			cancelled = append(cancelled, strings.TrimPrefix(r.URL.Path, "/api/v4/futures/usdt/price_orders/"))
			mu.Unlock()
			_, _ = w.Write([]byte(`{"id":1}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	n, err := client.CancelAll(context.Background(), domain.PositionKey{Symbol: "SOL_USDT", Side: domain.SideShort}, []string{"11", "", "12"})
	assert.Equal(t, 2, n)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ORDER_NOT_FOUND")
	assert.Equal(t, []string{"11", "12"}, cancelled)
}

func TestParseContractAndPosition(t *testing.T) {
	resp := Normalize([]byte(`{"name":"DOGE_USDT","quanto_multiplier":"10","order_size_min":1,"order_price_round":"0.00001","leverage_max":"50"}`))
	spec := ParseContract(resp.First())
	assert.Equal(t, domain.ContractSpec{
		Symbol: "DOGE_USDT", ContractValue: 10, LotSize: 1,
		PricePrecision: 5, ContractPrecision: 0, MaxLeverage: 50,
	}, spec)

	pos, ok := ParsePosition(Normalize([]byte(`{"contract":"doge_usdt","size":-40,"entry_price":"0.1","value":"40","margin":"4","leverage":"10"}`)).First())
	require.True(t, ok)
	assert.Equal(t, domain.PositionKey{Symbol: "DOGE_USDT", Side: domain.SideShort}, pos.Key)
	assert.Equal(t, 40.0, pos.Contracts)
	assert.Equal(t, 10, pos.Leverage)

	_, ok = ParsePosition(Normalize([]byte(`{"contract":"DOGE_USDT","size":0}`)).First())
	assert.False(t, ok)
}
