package storage

import (
	"context"
	"fmt"

	"github.com/market-sync/internal/models"
	"github.com/market-sync/internal/types"
)

// AggregateRepository owns the materialized latest-price view in Postgres.
// The view is rebuilt wholesale inside one transaction; MVCC keeps readers
// on the prior version until commit, and snapshot writers (ClickHouse) are
// never blocked. A failed rebuild rolls back and leaves the prior aggregate
// intact.
type AggregateRepository struct {
	db *PostgresDB
}

// NewAggregateRepository creates a new aggregate repository
func NewAggregateRepository(db *PostgresDB) *AggregateRepository {
	return &AggregateRepository{db: db}
}

// ReplaceAll swaps the aggregate contents for rows, atomically.
func (r *AggregateRepository) ReplaceAll(ctx context.Context, rows []*models.LatestPrice) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin aggregate rebuild: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM latest_prices`); err != nil {
		return fmt.Errorf("failed to clear latest prices: %w", err)
	}

	query := `
		INSERT INTO latest_prices
			(provider, product_id, variant_id, currency,
			 lowest_ask, highest_bid, last_sale, observed_at, refreshed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	`
	for _, row := range rows {
		if _, err := tx.Exec(ctx, query,
			row.Provider,
			row.ProductID,
			row.VariantID,
			row.Currency,
			row.LowestAsk,
			row.HighestBid,
			row.LastSale,
			row.ObservedAt,
		); err != nil {
			return fmt.Errorf("failed to insert latest price: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit aggregate rebuild: %w", err)
	}

	return nil
}

// Get retrieves the latest price for one key, or nil when absent.
func (r *AggregateRepository) Get(ctx context.Context, provider types.Provider, productID, variantID string, currency types.Currency) (*models.LatestPrice, error) {
	query := `
		SELECT provider, product_id, variant_id, currency,
		       lowest_ask, highest_bid, last_sale, observed_at, refreshed_at
		FROM latest_prices
		WHERE provider = $1 AND product_id = $2 AND variant_id = $3 AND currency = $4
	`

	rows, err := r.db.Pool().Query(ctx, query, provider, productID, variantID, currency)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest price: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	var row models.LatestPrice
	if err := rows.Scan(
		&row.Provider,
		&row.ProductID,
		&row.VariantID,
		&row.Currency,
		&row.LowestAsk,
		&row.HighestBid,
		&row.LastSale,
		&row.ObservedAt,
		&row.RefreshedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to scan latest price: %w", err)
	}

	return &row, nil
}

// ListByProduct retrieves all latest prices for one product.
func (r *AggregateRepository) ListByProduct(ctx context.Context, provider types.Provider, productID string) ([]*models.LatestPrice, error) {
	query := `
		SELECT provider, product_id, variant_id, currency,
		       lowest_ask, highest_bid, last_sale, observed_at, refreshed_at
		FROM latest_prices
		WHERE provider = $1 AND product_id = $2
		ORDER BY variant_id, currency
	`

	rows, err := r.db.Pool().Query(ctx, query, provider, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to list latest prices: %w", err)
	}
	defer rows.Close()

	var prices []*models.LatestPrice
	for rows.Next() {
		var row models.LatestPrice
		if err := rows.Scan(
			&row.Provider,
			&row.ProductID,
			&row.VariantID,
			&row.Currency,
			&row.LowestAsk,
			&row.HighestBid,
			&row.LastSale,
			&row.ObservedAt,
			&row.RefreshedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan latest price: %w", err)
		}
		prices = append(prices, &row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating latest prices: %w", err)
	}

	return prices, nil
}
