// Package gate is the REST and WebSocket client for Gate.io USDT-settled
// futures (API v4).
package gate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"golang.org/x/time/rate"

	"github.com/Sonnik9/gate-bob-deploy/internal/crypto"
	"github.com/Sonnik9/gate-bob-deploy/internal/metrics"
)

// ErrAbandoned is returned when the caller's context ends while a request is
// still being retried. The operation was given up, not rejected.
var ErrAbandoned = errors.New("gate: request abandoned")

// api decodes numbers as json.Number so 64-bit order ids survive, and
// encodes maps with sorted keys so signed bodies are stable.
var api = sonic.Config{UseNumber: true, SortMapKeys: true}.Froze()

// Config holds the client settings.
type Config struct {
	BaseURL           string // e.g. "https://fx-api.gateio.ws/api/v4"
	PingURL           string // liveness probe, e.g. "https://api.gateio.ws/api/v4/spot/time"
	Settle            string
	Key               string
	Secret            string
	RequestTimeout    time.Duration
	RetryDelay        time.Duration
	PingInterval      time.Duration
	RequestsPerSecond float64
	Burst             int
}

// Client signs and sends Gate API requests. One Client shares one pooled
// http.Client across all goroutines.
type Client struct {
	baseURL      string
	pingURL      string
	settle       string
	auth         *crypto.GateAuth
	httpClient   *http.Client
	limiter      *rate.Limiter
	retryDelay   time.Duration
	pingInterval time.Duration
	logger       *slog.Logger
}

// NewClient creates a Gate futures client. httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	settle := strings.ToLower(cfg.Settle)
	if settle == "" {
		settle = "usdt"
	}
	retry := cfg.RetryDelay
	if retry <= 0 {
		retry = time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		pingURL:      cfg.PingURL,
		settle:       settle,
		auth:         &crypto.GateAuth{Key: cfg.Key, Secret: cfg.Secret},
		httpClient:   httpClient,
		limiter:      rate.NewLimiter(limit, burst),
		retryDelay:   retry,
		pingInterval: cfg.PingInterval,
		logger:       logger.With(slog.String("component", "gate")),
	}
}

// Execute sends one request and returns the normalized response.
//
// Transport failures are retried after RetryDelay until ctx ends, at which
// point an empty Response and an error wrapping ErrAbandoned are returned.
// Non-2xx statuses are logged and their body is still parsed; exchange
// errors surface through Response.APIError.
func (c *Client) Execute(ctx context.Context, method, path string, params url.Values, body any, private bool) (Response, error) {
	method = strings.ToUpper(method)
	query := params.Encode()

	var payload []byte
	if method == http.MethodPost || method == http.MethodPut {
		if body == nil {
			body = struct{}{}
		}
		b, err := api.Marshal(body)
		if err != nil {
			return Response{}, fmt.Errorf("gate: marshal %s %s: %w", method, path, err)
		}
		payload = b
	}

	for attempt := 1; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return Response{}, fmt.Errorf("%w: %s %s: %w", ErrAbandoned, method, path, err)
		}

		status, raw, err := c.send(ctx, method, path, query, payload, private)
		if err == nil {
			metrics.ObserveGateRequest(method, status)
			if status >= http.StatusBadRequest {
				c.logger.WarnContext(ctx, "gate http error",
					slog.String("method", method),
					slog.String("path", path),
					slog.Int("status", status),
					slog.String("body", truncate(raw, 512)),
				)
			}
			resp := Normalize(raw)
			resp.Status = status
			return resp, nil
		}

		if ctx.Err() != nil {
			return Response{}, fmt.Errorf("%w: %s %s: %w", ErrAbandoned, method, path, ctx.Err())
		}
		metrics.IncGateRetry()
		c.logger.WarnContext(ctx, "gate transport error, retrying",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)

		t := time.NewTimer(c.retryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return Response{}, fmt.Errorf("%w: %s %s: %w", ErrAbandoned, method, path, ctx.Err())
		case <-t.C:
		}
	}
}

// send performs a single HTTP round trip.
func (c *Client) send(ctx context.Context, method, path, query string, payload []byte, private bool) (int, []byte, error) {
	u := c.baseURL + path
	if query != "" {
		u += "?" + query
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if private {
		for k, v := range c.auth.Headers(method, path, query, payload) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, raw, nil
}

// RunPing probes PingURL every PingInterval. A failed probe drops idle
// pooled connections so the next request dials fresh. It blocks until ctx
// is cancelled.
func (c *Client) RunPing(ctx context.Context) error {
	if c.pingURL == "" || c.pingInterval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.ping(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.logger.WarnContext(ctx, "gate ping failed, resetting connections", slog.String("error", err.Error()))
				c.httpClient.CloseIdleConnections()
			}
		}
	}
}

func (c *Client) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.pingURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ping status %d", resp.StatusCode)
	}
	return nil
}

// futures builds a settle-scoped path such as /futures/usdt/orders.
func (c *Client) futures(parts ...string) string {
	return "/futures/" + c.settle + "/" + strings.Join(parts, "/")
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
