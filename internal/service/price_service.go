package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Sonnik9/gate-bob-deploy/internal/domain"
	"github.com/Sonnik9/gate-bob-deploy/internal/platform/gate"
)

// PriceService serves the last traded price of a contract. Streamed ticker
// updates land in the price cache; a miss or a stale entry falls through to
// the REST ticker.
type PriceService struct {
	cache    domain.PriceCache
	exchange Exchange
	maxAge   time.Duration
	logger   *slog.Logger

	mu    sync.RWMutex
	local map[string]cachedPrice
}

type cachedPrice struct {
	price float64
	at    time.Time
}

// NewPriceService creates a PriceService. cache may be nil, in which case
// prices are kept in process.
func NewPriceService(cache domain.PriceCache, exchange Exchange, maxAge time.Duration, logger *slog.Logger) *PriceService {
	if maxAge <= 0 {
		maxAge = 5 * time.Second
	}
	return &PriceService{
		cache:    cache,
		exchange: exchange,
		maxAge:   maxAge,
		logger:   logger.With(slog.String("component", "price_service")),
		local:    make(map[string]cachedPrice),
	}
}

// HandleTicker stores a streamed ticker update.
func (s *PriceService) HandleTicker(ctx context.Context, t gate.Ticker, at time.Time) {
	if t.Last <= 0 {
		return
	}
	s.mu.Lock()
	s.local[t.Symbol] = cachedPrice{price: t.Last, at: at}
	s.mu.Unlock()

	if s.cache == nil {
		return
	}
	if err := s.cache.SetPrice(ctx, t.Symbol, t.Last, at); err != nil {
		s.logger.WarnContext(ctx, "price_service: cache set failed",
			slog.String("symbol", t.Symbol),
			slog.String("error", err.Error()),
		)
	}
}

// CurrentPrice returns a fresh price for symbol.
func (s *PriceService) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if p, ok := s.fresh(ctx, symbol); ok {
		return p, nil
	}
	t, err := s.exchange.Ticker(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("price_service: ticker %s: %w", symbol, err)
	}
	if t.Last <= 0 {
		return 0, fmt.Errorf("price_service: ticker %s: %w", symbol, domain.ErrNotFound)
	}
	s.HandleTicker(ctx, t, time.Now())
	return t.Last, nil
}

func (s *PriceService) fresh(ctx context.Context, symbol string) (float64, bool) {
	now := time.Now()
	s.mu.RLock()
	c, ok := s.local[symbol]
	s.mu.RUnlock()
	if ok && now.Sub(c.at) <= s.maxAge {
		return c.price, true
	}
	if s.cache == nil {
		return 0, false
	}
	price, at, err := s.cache.GetPrice(ctx, symbol)
	if err != nil || price <= 0 || now.Sub(at) > s.maxAge {
		return 0, false
	}
	return price, true
}
