package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest contract prices.
type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, symbol string) (float64, time.Time, error)
	GetPrices(ctx context.Context, symbols []string) (map[string]float64, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub between processes.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Bus channels.
const (
	ChannelSignals = "signals"
	ChannelStatus  = "status"
)

// ContractCache keeps the last good contract list so a restart can trade
// while the exchange contracts endpoint is unavailable.
type ContractCache interface {
	SaveContracts(ctx context.Context, specs []ContractSpec) error
	LoadContracts(ctx context.Context) ([]ContractSpec, error)
}
