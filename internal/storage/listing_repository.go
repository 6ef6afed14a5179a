package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/market-sync/internal/models"
	"github.com/market-sync/internal/types"
)

// ListingRepository persists the local view of marketplace listings.
type ListingRepository struct {
	db *PostgresDB
}

// NewListingRepository creates a new listing repository
func NewListingRepository(db *PostgresDB) *ListingRepository {
	return &ListingRepository{db: db}
}

// Upsert persists a listing record, used when reconciling local state
// against the provider's latest view.
func (r *ListingRepository) Upsert(ctx context.Context, listing *models.Listing) error {
	query := `
		INSERT INTO listings (id, provider, product_id, variant_id, status, ask_price, currency, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (id)
		DO UPDATE SET
			status = EXCLUDED.status,
			ask_price = EXCLUDED.ask_price,
			currency = EXCLUDED.currency,
			updated_at = NOW()
	`

	_, err := r.db.Pool().Exec(ctx, query,
		listing.ID,
		listing.Provider,
		listing.ProductID,
		listing.VariantID,
		listing.Status,
		listing.AskPrice,
		listing.Currency,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert listing: %w", err)
	}

	return nil
}

// UpdateStatus transitions a listing's local status.
func (r *ListingRepository) UpdateStatus(ctx context.Context, listingID string, status types.ListingStatus) error {
	query := `UPDATE listings SET status = $2, updated_at = NOW() WHERE id = $1`

	result, err := r.db.Pool().Exec(ctx, query, listingID, status)
	if err != nil {
		return fmt.Errorf("failed to update listing status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("listing not found: %s", listingID)
	}

	return nil
}

// GetByID retrieves a listing by ID.
func (r *ListingRepository) GetByID(ctx context.Context, listingID string) (*models.Listing, error) {
	query := `
		SELECT id, provider, product_id, variant_id, status, ask_price, currency, updated_at
		FROM listings
		WHERE id = $1
	`

	var listing models.Listing
	err := r.db.Pool().QueryRow(ctx, query, listingID).Scan(
		&listing.ID,
		&listing.Provider,
		&listing.ProductID,
		&listing.VariantID,
		&listing.Status,
		&listing.AskPrice,
		&listing.Currency,
		&listing.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("listing not found: %s", listingID)
		}
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}

	return &listing, nil
}

// GetByVariant retrieves the listing for one provider variant, or nil
// when the variant has no associated listing.
func (r *ListingRepository) GetByVariant(ctx context.Context, provider types.Provider, variantID string) (*models.Listing, error) {
	query := `
		SELECT id, provider, product_id, variant_id, status, ask_price, currency, updated_at
		FROM listings
		WHERE provider = $1 AND variant_id = $2
	`

	var listing models.Listing
	err := r.db.Pool().QueryRow(ctx, query, provider, variantID).Scan(
		&listing.ID,
		&listing.Provider,
		&listing.ProductID,
		&listing.VariantID,
		&listing.Status,
		&listing.AskPrice,
		&listing.Currency,
		&listing.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get listing by variant: %w", err)
	}

	return &listing, nil
}
