package marketplace

import (
	"fmt"

	"github.com/market-sync/internal/circuitbreaker"
	"github.com/market-sync/internal/config"
	"github.com/market-sync/internal/types"
)

// Registry holds one adapter per enabled provider.
type Registry struct {
	adapters map[types.Provider]Adapter
}

// NewRegistry builds adapters for every enabled provider in cfg.
func NewRegistry(cfg *config.Config) (*Registry, error) {
	credentials := StaticCredentials{}
	for provider, pc := range cfg.Providers.Providers {
		credentials[provider] = pc.APIKey
	}

	adapters := make(map[types.Provider]Adapter)
	for _, provider := range cfg.Providers.Enabled {
		pc, ok := cfg.Providers.Providers[provider]
		if !ok {
			return nil, fmt.Errorf("provider %s is enabled but has no configuration", provider)
		}
		var adapter Adapter
		switch provider {
		case types.ProviderStockX:
			adapter = NewStockXClient(pc, credentials, cfg.Sync.RequestTimeout)
		case types.ProviderGoat:
			adapter = NewGoatClient(pc, credentials, cfg.Sync.RequestTimeout)
		default:
			return nil, fmt.Errorf("no adapter for provider %s", provider)
		}

		breaker := circuitbreaker.New(circuitbreaker.DefaultConfig(string(provider)))
		adapters[provider] = WithCircuitBreaker(adapter, breaker)
	}

	return &Registry{adapters: adapters}, nil
}

// NewRegistryFromAdapters wraps pre-built adapters, used by tests.
func NewRegistryFromAdapters(adapters ...Adapter) *Registry {
	m := make(map[types.Provider]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Provider()] = a
	}
	return &Registry{adapters: m}
}

// Adapter returns the adapter for a provider.
func (r *Registry) Adapter(provider types.Provider) (Adapter, error) {
	adapter, ok := r.adapters[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s is not enabled", provider)
	}
	return adapter, nil
}

// Providers lists the providers with a registered adapter.
func (r *Registry) Providers() []types.Provider {
	providers := make([]types.Provider, 0, len(r.adapters))
	for provider := range r.adapters {
		providers = append(providers, provider)
	}
	return providers
}
