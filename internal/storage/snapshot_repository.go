package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/market-sync/internal/models"
	"github.com/market-sync/internal/types"
)

// SnapshotRepository handles the append-only price snapshot time series
// in ClickHouse. Rows are immutable once written; "latest" is always a
// derived read.
type SnapshotRepository struct {
	db *ClickHouseDB
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(db *ClickHouseDB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Insert appends one observed market data point.
func (r *SnapshotRepository) Insert(ctx context.Context, snapshot *models.PriceSnapshot) error {
	query := `
		INSERT INTO price_snapshots
			(provider, product_id, variant_id, currency, lowest_ask, highest_bid, last_sale, observed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := r.db.Conn().Exec(ctx, query,
		string(snapshot.Provider),
		snapshot.ProductID,
		snapshot.VariantID,
		string(snapshot.Currency),
		snapshot.LowestAsk,
		snapshot.HighestBid,
		snapshot.LastSale,
		snapshot.ObservedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert price snapshot: %w", err)
	}

	return nil
}

// LatestPerKey returns, for every (provider, product, variant, currency)
// key with at least one snapshot, the fields of the snapshot with the
// maximum observed_at. This feeds the aggregate refresher.
func (r *SnapshotRepository) LatestPerKey(ctx context.Context) ([]*models.LatestPrice, error) {
	query := `
		SELECT
			provider,
			product_id,
			variant_id,
			currency,
			argMax(lowest_ask, observed_at)  AS lowest_ask,
			argMax(highest_bid, observed_at) AS highest_bid,
			argMax(last_sale, observed_at)   AS last_sale,
			max(observed_at)                 AS observed_at
		FROM price_snapshots
		GROUP BY provider, product_id, variant_id, currency
	`

	rows, err := r.db.Conn().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest snapshots: %w", err)
	}
	defer rows.Close()

	var latest []*models.LatestPrice
	for rows.Next() {
		var (
			row        models.LatestPrice
			provider   string
			currency   string
			observedAt time.Time
		)
		if err := rows.Scan(
			&provider,
			&row.ProductID,
			&row.VariantID,
			&currency,
			&row.LowestAsk,
			&row.HighestBid,
			&row.LastSale,
			&observedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan latest snapshot: %w", err)
		}
		row.Provider = types.Provider(provider)
		row.Currency = types.Currency(currency)
		row.ObservedAt = observedAt
		latest = append(latest, &row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating latest snapshots: %w", err)
	}

	return latest, nil
}

// PruneOlderThan drops snapshots observed before the retention horizon.
// Uses a lightweight delete; ClickHouse applies it asynchronously.
func (r *SnapshotRepository) PruneOlderThan(ctx context.Context, horizon time.Duration) error {
	query := `DELETE FROM price_snapshots WHERE observed_at < now() - INTERVAL ? SECOND`

	if err := r.db.Conn().Exec(ctx, query, int64(horizon.Seconds())); err != nil {
		return fmt.Errorf("failed to prune snapshots: %w", err)
	}

	return nil
}

// CountSince returns the number of snapshots observed at or after since.
func (r *SnapshotRepository) CountSince(ctx context.Context, since time.Time) (uint64, error) {
	query := `SELECT count() FROM price_snapshots WHERE observed_at >= ?`

	var count uint64
	if err := r.db.Conn().QueryRow(ctx, query, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}

	return count, nil
}
