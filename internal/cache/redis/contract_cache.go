package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/Sonnik9/gate-bob-deploy/internal/domain"
)

const (
	contractsKey = "gate:contracts"
	contractsTTL = 24 * time.Hour
)

// ContractCache implements domain.ContractCache as one hash of JSON specs
// keyed by symbol.
type ContractCache struct {
	rdb *redis.Client
}

// NewContractCache creates a ContractCache backed by c.
func NewContractCache(c *Client) *ContractCache {
	return &ContractCache{rdb: c.Underlying()}
}

// SaveContracts replaces the cached list.
func (cc *ContractCache) SaveContracts(ctx context.Context, specs []domain.ContractSpec) error {
	fields := make(map[string]any, len(specs))
	for _, s := range specs {
		data, err := sonic.Marshal(s)
		if err != nil {
			return fmt.Errorf("redis: marshal contract %s: %w", s.Symbol, err)
		}
		fields[s.Symbol] = data
	}

	pipe := cc.rdb.TxPipeline()
	pipe.Del(ctx, contractsKey)
	if len(fields) > 0 {
		pipe.HSet(ctx, contractsKey, fields)
		pipe.Expire(ctx, contractsKey, contractsTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: save contracts: %w", err)
	}
	return nil
}

// LoadContracts returns the cached list, or domain.ErrNotFound when empty.
func (cc *ContractCache) LoadContracts(ctx context.Context) ([]domain.ContractSpec, error) {
	vals, err := cc.rdb.HGetAll(ctx, contractsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: load contracts: %w", err)
	}
	if len(vals) == 0 {
		return nil, domain.ErrNotFound
	}
	out := make([]domain.ContractSpec, 0, len(vals))
	for symbol, raw := range vals {
		var s domain.ContractSpec
		if err := sonic.UnmarshalString(raw, &s); err != nil {
			return nil, fmt.Errorf("redis: unmarshal contract %s: %w", symbol, err)
		}
		out = append(out, s)
	}
	return out, nil
}

var _ domain.ContractCache = (*ContractCache)(nil)
