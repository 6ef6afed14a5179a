package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/market-sync/internal/models"
	"github.com/market-sync/internal/types"
)

// CatalogRepository persists catalog identities (products and variants)
// hydrated from provider catalog searches.
type CatalogRepository struct {
	db *PostgresDB
}

// NewCatalogRepository creates a new catalog repository
func NewCatalogRepository(db *PostgresDB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// Upsert persists a product and its variants, replacing prior variant rows.
func (r *CatalogRepository) Upsert(ctx context.Context, product *models.Product) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	productQuery := `
		INSERT INTO products (product_id, provider, style_id, title, brand, fetched_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (provider, style_id)
		DO UPDATE SET
			product_id = EXCLUDED.product_id,
			title = EXCLUDED.title,
			brand = EXCLUDED.brand,
			fetched_at = NOW()
	`
	if _, err := tx.Exec(ctx, productQuery,
		product.ProductID,
		product.Provider,
		product.StyleID,
		product.Title,
		product.Brand,
	); err != nil {
		return fmt.Errorf("failed to upsert product: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM variants WHERE product_id = $1`, product.ProductID); err != nil {
		return fmt.Errorf("failed to clear variants: %w", err)
	}

	for _, v := range product.Variants {
		if _, err := tx.Exec(ctx,
			`INSERT INTO variants (variant_id, product_id, size) VALUES ($1, $2, $3)`,
			v.VariantID, product.ProductID, v.Size,
		); err != nil {
			return fmt.Errorf("failed to insert variant: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit catalog upsert: %w", err)
	}

	return nil
}

// GetByStyle retrieves a product with variants by provider and style id.
// Returns (nil, nil) when the product has not been hydrated yet.
func (r *CatalogRepository) GetByStyle(ctx context.Context, provider types.Provider, styleID string) (*models.Product, error) {
	query := `
		SELECT product_id, provider, style_id, title, brand, fetched_at
		FROM products
		WHERE provider = $1 AND style_id = $2
	`

	var product models.Product
	err := r.db.Pool().QueryRow(ctx, query, provider, styleID).Scan(
		&product.ProductID,
		&product.Provider,
		&product.StyleID,
		&product.Title,
		&product.Brand,
		&product.FetchedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	rows, err := r.db.Pool().Query(ctx,
		`SELECT variant_id, product_id, size FROM variants WHERE product_id = $1 ORDER BY size`,
		product.ProductID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query variants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v models.Variant
		if err := rows.Scan(&v.VariantID, &v.ProductID, &v.Size); err != nil {
			return nil, fmt.Errorf("failed to scan variant: %w", err)
		}
		product.Variants = append(product.Variants, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating variants: %w", err)
	}

	return &product, nil
}
