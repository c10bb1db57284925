package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	"github.com/Sonnik9/gate-bob-deploy/internal/domain"
)

// Instruments caches the contract specs of every tradable symbol. Refresh
// swaps in a new map; readers never block.
type Instruments struct {
	source      ContractSource
	maxLeverage int
	cache       domain.ContractCache
	specs       atomic.Pointer[map[string]domain.ContractSpec]
	logger      *slog.Logger
}

// NewInstruments creates an empty cache. maxLeverage fills specs that carry
// no leverage cap; zero means domain.DefaultMaxLeverage.
func NewInstruments(source ContractSource, maxLeverage int, logger *slog.Logger) *Instruments {
	if maxLeverage <= 0 {
		maxLeverage = domain.DefaultMaxLeverage
	}
	in := &Instruments{
		source:      source,
		maxLeverage: maxLeverage,
		logger:      logger.With(slog.String("component", "instruments")),
	}
	empty := map[string]domain.ContractSpec{}
	in.specs.Store(&empty)
	return in
}

// SetCache attaches a shared contract cache. Refresh saves every good list
// there and falls back to it while the cache in memory is still empty.
func (in *Instruments) SetCache(cache domain.ContractCache) {
	in.cache = cache
}

// Refresh reloads all contract specs from the exchange. On error the
// previous snapshot stays in place.
func (in *Instruments) Refresh(ctx context.Context) error {
	list, err := in.source.Contracts(ctx)
	if err == nil && len(list) == 0 {
		err = fmt.Errorf("empty contract list: %w", domain.ErrNotFound)
	}
	if err != nil {
		if in.Len() == 0 && in.loadCached(ctx) {
			in.logger.WarnContext(ctx, "instruments: using cached contracts", slog.String("error", err.Error()))
		}
		return fmt.Errorf("instruments: refresh: %w", err)
	}
	if in.cache != nil {
		if err := in.cache.SaveContracts(ctx, list); err != nil {
			in.logger.WarnContext(ctx, "instruments: cache save failed", slog.String("error", err.Error()))
		}
	}
	in.install(list)
	in.logger.InfoContext(ctx, "instruments: refreshed", slog.Int("count", len(list)))
	return nil
}

func (in *Instruments) loadCached(ctx context.Context) bool {
	if in.cache == nil {
		return false
	}
	list, err := in.cache.LoadContracts(ctx)
	if err != nil || len(list) == 0 {
		return false
	}
	in.install(list)
	return true
}

func (in *Instruments) install(list []domain.ContractSpec) {
	next := make(map[string]domain.ContractSpec, len(list))
	for _, spec := range list {
		if spec.MaxLeverage <= 0 {
			spec.MaxLeverage = in.maxLeverage
		}
		next[spec.Symbol] = spec
	}
	in.specs.Store(&next)
}

// Get returns the spec of symbol.
func (in *Instruments) Get(symbol string) (domain.ContractSpec, bool) {
	spec, ok := (*in.specs.Load())[symbol]
	return spec, ok
}

// Set installs specs directly, replacing the current snapshot.
func (in *Instruments) Set(specs ...domain.ContractSpec) {
	next := make(map[string]domain.ContractSpec, len(specs))
	for _, spec := range specs {
		next[spec.Symbol] = spec
	}
	in.specs.Store(&next)
}

// Len returns the number of cached specs.
func (in *Instruments) Len() int {
	return len(*in.specs.Load())
}

// Symbols returns the cached symbols in sorted order.
func (in *Instruments) Symbols() []string {
	m := *in.specs.Load()
	out := make([]string, 0, len(m))
	for s := range m {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
