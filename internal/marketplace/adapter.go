// Package marketplace holds the provider adapters the sync pipeline
// talks to. Each adapter wraps one marketplace's HTTP API behind the
// same narrow surface; everything above this package is provider
// agnostic.
package marketplace

import (
	"context"
	"time"

	"github.com/market-sync/internal/models"
	"github.com/market-sync/internal/types"
)

// MarketData is one observed pricing snapshot for a variant in one
// currency, as reported by a provider.
type MarketData struct {
	Currency   types.Currency `json:"currency"`
	LowestAsk  float64        `json:"lowestAsk"`
	HighestBid float64        `json:"highestBid"`
	LastSale   float64        `json:"lastSale"`
	ObservedAt time.Time      `json:"observedAt"`
}

// OperationState is a provider's answer to an operation status check.
type OperationState struct {
	OperationID string                `json:"operationId"`
	Status      types.OperationStatus `json:"status"`
	Error       string                `json:"error,omitempty"`
}

// Adapter is the capability surface a provider integration must offer.
// Calls return CategorizedError values so callers can classify failures
// without knowing provider specifics. Adapters do not retry; that is
// the caller's concern.
type Adapter interface {
	// Provider identifies the marketplace this adapter talks to.
	Provider() types.Provider

	// SearchCatalog resolves a style ID to the provider's product and
	// its sellable variants.
	SearchCatalog(ctx context.Context, styleID string) (*models.Product, error)

	// FetchMarketData retrieves current pricing for one variant in one
	// currency.
	FetchMarketData(ctx context.Context, productID, variantID string, currency types.Currency) (*MarketData, error)

	// ActivateListing submits a listing for activation. The provider
	// processes activations asynchronously; the returned operation must
	// be polled to completion via OperationStatus.
	ActivateListing(ctx context.Context, listing *models.Listing) (*models.Operation, error)

	// OperationStatus checks the provider-side state of a previously
	// submitted operation.
	OperationStatus(ctx context.Context, operationID string) (*OperationState, error)
}

// CredentialProvider supplies the bearer token for outbound calls.
// Implementations may rotate or refresh tokens; adapters ask per
// request and never cache.
type CredentialProvider interface {
	Token(ctx context.Context, provider types.Provider) (string, error)
}

// StaticCredentials is a CredentialProvider backed by fixed API keys.
type StaticCredentials map[types.Provider]string

// Token returns the configured key for the provider, or empty when the
// provider has none.
func (s StaticCredentials) Token(_ context.Context, provider types.Provider) (string, error) {
	return s[provider], nil
}
