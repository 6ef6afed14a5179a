// Package worker contains the sync worker and the dispatch scheduler,
// the two halves of the pipeline's execution core.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/market-sync/internal/logging"
	"github.com/market-sync/internal/marketplace"
	"github.com/market-sync/internal/models"
	"github.com/market-sync/internal/retry"
	"github.com/market-sync/internal/types"
)

// CatalogStore persists hydrated catalog identities.
type CatalogStore interface {
	Upsert(ctx context.Context, product *models.Product) error
	GetByStyle(ctx context.Context, provider types.Provider, styleID string) (*models.Product, error)
}

// ProductCache is the fast tier of the read-through catalog lookup.
type ProductCache interface {
	GetProduct(ctx context.Context, provider types.Provider, styleID string) (*models.Product, bool, error)
	SetProduct(ctx context.Context, product *models.Product) error
}

// SnapshotStore appends observed market data points.
type SnapshotStore interface {
	Insert(ctx context.Context, snapshot *models.PriceSnapshot) error
}

// ListingStore reads local listings for reconciliation.
type ListingStore interface {
	GetByVariant(ctx context.Context, provider types.Provider, variantID string) (*models.Listing, error)
}

// OperationStore records async provider operations for the poller.
type OperationStore interface {
	Create(ctx context.Context, op *models.Operation) error
}

// SyncResult reports the outcome of one subject sync. Partial success
// is a valid outcome; callers inspect the counters and error list
// rather than a single boolean.
type SyncResult struct {
	Provider            types.Provider   `json:"provider"`
	Subject             types.SubjectKey `json:"subject"`
	CurrenciesProcessed int              `json:"currenciesProcessed"`
	SnapshotsCreated    int              `json:"snapshotsCreated"`
	OperationsStarted   int              `json:"operationsStarted"`
	Errors              []string         `json:"errors,omitempty"`
	FirstError          error            `json:"-"`
}

func (r *SyncResult) recordError(err error) {
	if r.FirstError == nil {
		r.FirstError = err
	}
	r.Errors = append(r.Errors, err.Error())
}

// SyncWorkerConfig holds configuration for a sync worker
type SyncWorkerConfig struct {
	Adapters   *marketplace.Registry
	Catalog    CatalogStore
	Cache      ProductCache
	Snapshots  SnapshotStore
	Listings   ListingStore
	Operations OperationStore
	Executor   *retry.Executor

	// Currencies to fetch market data for, per subject.
	Currencies []types.Currency
}

// SyncWorker performs the fetch-normalize-persist sequence for one
// subject at a time. It holds no mutable state; any number of jobs may
// run through it concurrently.
type SyncWorker struct {
	adapters   *marketplace.Registry
	catalog    CatalogStore
	cache      ProductCache
	snapshots  SnapshotStore
	listings   ListingStore
	operations OperationStore
	executor   *retry.Executor
	currencies []types.Currency
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(cfg *SyncWorkerConfig) (*SyncWorker, error) {
	if cfg.Adapters == nil {
		return nil, fmt.Errorf("adapter registry cannot be nil")
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("catalog store cannot be nil")
	}
	if cfg.Snapshots == nil {
		return nil, fmt.Errorf("snapshot store cannot be nil")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("retry executor cannot be nil")
	}
	if len(cfg.Currencies) == 0 {
		return nil, fmt.Errorf("at least one currency is required")
	}

	return &SyncWorker{
		adapters:   cfg.Adapters,
		catalog:    cfg.Catalog,
		cache:      cfg.Cache,
		snapshots:  cfg.Snapshots,
		listings:   cfg.Listings,
		operations: cfg.Operations,
		executor:   cfg.Executor,
		currencies: cfg.Currencies,
	}, nil
}

// SyncSubject syncs one (provider, style, variant) unit of market data.
// Catalog hydration failure is fatal for the whole sync; market data
// failures are isolated per currency and reported in the result.
func (w *SyncWorker) SyncSubject(ctx context.Context, provider types.Provider, key types.SubjectKey) (*SyncResult, error) {
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"provider": provider,
		"subject":  key.String(),
	})

	if err := key.Validate(); err != nil {
		return nil, err
	}

	adapter, err := w.adapters.Adapter(provider)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{Provider: provider, Subject: key}

	product, err := w.hydrateCatalog(ctx, adapter, provider, key.StyleID)
	if err != nil {
		logger.WithError(err).Error("Catalog hydration failed")
		return nil, fmt.Errorf("catalog hydration for %s failed: %w", key.String(), err)
	}

	variants, err := targetVariants(product, key)
	if err != nil {
		return nil, err
	}

	for _, currency := range w.currencies {
		created, err := w.syncCurrency(ctx, adapter, product, variants, currency)
		result.SnapshotsCreated += created
		if err != nil {
			logger.WithError(err).WithField("currency", currency).Warn("Currency sync failed")
			result.recordError(err)
			continue
		}
		result.CurrenciesProcessed++
	}

	started, err := w.reconcileListings(ctx, adapter, provider, variants)
	result.OperationsStarted = started
	if err != nil {
		logger.WithError(err).Warn("Listing reconciliation failed")
		result.recordError(err)
	}

	logger.WithFields(map[string]interface{}{
		"currenciesProcessed": result.CurrenciesProcessed,
		"snapshotsCreated":    result.SnapshotsCreated,
		"operationsStarted":   result.OperationsStarted,
		"errors":              len(result.Errors),
	}).Info("Subject sync finished")

	return result, nil
}

// hydrateCatalog resolves the product identity via the read-through
// path: cache, then local store, then remote catalog search. Remote
// results are persisted before being returned.
func (w *SyncWorker) hydrateCatalog(ctx context.Context, adapter marketplace.Adapter, provider types.Provider, styleID string) (*models.Product, error) {
	logger := logging.FromContext(ctx)

	if w.cache != nil {
		product, hit, err := w.cache.GetProduct(ctx, provider, styleID)
		if err != nil {
			logger.WithError(err).Warn("Catalog cache read failed, falling through")
		} else if hit {
			return product, nil
		}
	}

	product, err := w.catalog.GetByStyle(ctx, provider, styleID)
	if err != nil {
		return nil, err
	}
	if product != nil {
		w.fillCache(ctx, product)
		return product, nil
	}

	err = w.executor.ExecuteErr(ctx, func(ctx context.Context, attempt int) error {
		fetched, err := adapter.SearchCatalog(ctx, styleID)
		if err != nil {
			return err
		}
		product = fetched
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := w.catalog.Upsert(ctx, product); err != nil {
		return nil, err
	}
	w.fillCache(ctx, product)

	return product, nil
}

func (w *SyncWorker) fillCache(ctx context.Context, product *models.Product) {
	if w.cache == nil {
		return
	}
	if err := w.cache.SetProduct(ctx, product); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Catalog cache write failed")
	}
}

// targetVariants narrows the product's variants to the subject's, or
// returns all of them when the subject names no variant.
func targetVariants(product *models.Product, key types.SubjectKey) ([]models.Variant, error) {
	if key.Variant == "" {
		return product.Variants, nil
	}
	variant := product.FindVariant(key.Variant)
	if variant == nil {
		return nil, fmt.Errorf("product %s has no variant %q", product.StyleID, key.Variant)
	}
	return []models.Variant{*variant}, nil
}

// syncCurrency fetches and appends snapshots for every target variant
// in one currency. Returns the number of snapshots created even on
// failure; the first failing variant aborts the rest of the currency.
func (w *SyncWorker) syncCurrency(ctx context.Context, adapter marketplace.Adapter, product *models.Product, variants []models.Variant, currency types.Currency) (int, error) {
	created := 0
	for _, variant := range variants {
		var data *marketplace.MarketData
		err := w.executor.ExecuteErr(ctx, func(ctx context.Context, attempt int) error {
			fetched, err := adapter.FetchMarketData(ctx, product.ProductID, variant.VariantID, currency)
			if err != nil {
				return err
			}
			data = fetched
			return nil
		})
		if err != nil {
			return created, err
		}

		observedAt := data.ObservedAt
		if observedAt.IsZero() {
			observedAt = time.Now().UTC()
		}
		snapshot := &models.PriceSnapshot{
			Provider:   product.Provider,
			ProductID:  product.ProductID,
			VariantID:  variant.VariantID,
			Currency:   currency,
			LowestAsk:  data.LowestAsk,
			HighestBid: data.HighestBid,
			LastSale:   data.LastSale,
			ObservedAt: observedAt,
		}
		if err := w.snapshots.Insert(ctx, snapshot); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

// reconcileListings submits activation for any local listing still
// inactive on the provider. Activations complete asynchronously; the
// recorded operations are driven to terminal state by the poller.
func (w *SyncWorker) reconcileListings(ctx context.Context, adapter marketplace.Adapter, provider types.Provider, variants []models.Variant) (int, error) {
	if w.listings == nil || w.operations == nil {
		return 0, nil
	}

	started := 0
	for _, variant := range variants {
		listing, err := w.listings.GetByVariant(ctx, provider, variant.VariantID)
		if err != nil {
			return started, err
		}
		if listing == nil || listing.Status != types.ListingInactive {
			continue
		}

		var op *models.Operation
		err = w.executor.ExecuteErr(ctx, func(ctx context.Context, attempt int) error {
			submitted, err := adapter.ActivateListing(ctx, listing)
			if err != nil {
				return err
			}
			op = submitted
			return nil
		})
		if err != nil {
			return started, err
		}

		if err := w.operations.Create(ctx, op); err != nil {
			return started, err
		}
		started++
	}
	return started, nil
}
