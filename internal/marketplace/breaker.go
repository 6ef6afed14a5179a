package marketplace

import (
	"context"
	"errors"
	"net/http"

	"github.com/market-sync/internal/circuitbreaker"
	apperrors "github.com/market-sync/internal/errors"
	"github.com/market-sync/internal/models"
	"github.com/market-sync/internal/types"
)

// guardedAdapter wraps an adapter with a circuit breaker. When the
// provider fails repeatedly the breaker opens and calls fail fast with
// a retryable provider error, so callers back off without hammering a
// struggling marketplace.
type guardedAdapter struct {
	inner   Adapter
	breaker *circuitbreaker.Breaker
}

// WithCircuitBreaker guards every remote call of adapter with breaker.
func WithCircuitBreaker(adapter Adapter, breaker *circuitbreaker.Breaker) Adapter {
	return &guardedAdapter{inner: adapter, breaker: breaker}
}

func (g *guardedAdapter) Provider() types.Provider {
	return g.inner.Provider()
}

func (g *guardedAdapter) SearchCatalog(ctx context.Context, styleID string) (*models.Product, error) {
	var product *models.Product
	err := g.execute(func() error {
		var err error
		product, err = g.inner.SearchCatalog(ctx, styleID)
		return err
	})
	return product, err
}

func (g *guardedAdapter) FetchMarketData(ctx context.Context, productID, variantID string, currency types.Currency) (*MarketData, error) {
	var data *MarketData
	err := g.execute(func() error {
		var err error
		data, err = g.inner.FetchMarketData(ctx, productID, variantID, currency)
		return err
	})
	return data, err
}

func (g *guardedAdapter) ActivateListing(ctx context.Context, listing *models.Listing) (*models.Operation, error) {
	var op *models.Operation
	err := g.execute(func() error {
		var err error
		op, err = g.inner.ActivateListing(ctx, listing)
		return err
	})
	return op, err
}

func (g *guardedAdapter) OperationStatus(ctx context.Context, operationID string) (*OperationState, error) {
	var state *OperationState
	err := g.execute(func() error {
		var err error
		state, err = g.inner.OperationStatus(ctx, operationID)
		return err
	})
	return state, err
}

func (g *guardedAdapter) execute(fn func() error) error {
	var callErr error
	err := g.breaker.Execute(func() error {
		callErr = fn()
		// Only transient failures count against the breaker. Terminal
		// errors like an unknown style or bad credentials say nothing
		// about provider health.
		if apperrors.IsRetryable(callErr) {
			return callErr
		}
		return nil
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return apperrors.NewProviderError(g.inner.Provider(), http.StatusServiceUnavailable, err)
	}
	return callErr
}
