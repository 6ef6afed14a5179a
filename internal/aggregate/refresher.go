// Package aggregate maintains the read-optimized latest-price view
// derived from the immutable snapshot stream.
package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/market-sync/internal/logging"
	"github.com/market-sync/internal/models"
)

// SnapshotSource yields the latest snapshot per (provider, product,
// variant, currency) key.
type SnapshotSource interface {
	LatestPerKey(ctx context.Context) ([]*models.LatestPrice, error)
	PruneOlderThan(ctx context.Context, horizon time.Duration) error
}

// AggregateStore swaps the materialized view atomically. A failed swap
// must leave the prior contents intact.
type AggregateStore interface {
	ReplaceAll(ctx context.Context, rows []*models.LatestPrice) error
}

// RefreshResult reports one refresh run.
type RefreshResult struct {
	Refreshed  bool   `json:"refreshed"`
	Rows       int    `json:"rows"`
	DurationMs int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}

// RefresherConfig holds configuration for the aggregate refresher
type RefresherConfig struct {
	Snapshots SnapshotSource
	Store     AggregateStore

	// RetentionHorizon bounds how far back snapshots are kept; zero
	// disables pruning.
	RetentionHorizon time.Duration
}

// Refresher rebuilds the latest-price aggregate from snapshots. The
// rebuild never blocks snapshot writers: it reads a consistent view
// from the snapshot store and swaps the aggregate in one transaction.
// Re-running with no new snapshots produces an identical aggregate.
type Refresher struct {
	snapshots        SnapshotSource
	store            AggregateStore
	retentionHorizon time.Duration
}

// NewRefresher creates a new aggregate refresher
func NewRefresher(cfg *RefresherConfig) (*Refresher, error) {
	if cfg.Snapshots == nil {
		return nil, fmt.Errorf("snapshot source cannot be nil")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("aggregate store cannot be nil")
	}

	return &Refresher{
		snapshots:        cfg.Snapshots,
		store:            cfg.Store,
		retentionHorizon: cfg.RetentionHorizon,
	}, nil
}

// Refresh rebuilds the aggregate. Failure is reported in the result,
// never propagated as a corrupted view; the prior aggregate survives
// any partial run.
func (r *Refresher) Refresh(ctx context.Context) *RefreshResult {
	logger := logging.FromContext(ctx)
	start := time.Now()

	result := &RefreshResult{}

	rows, err := r.snapshots.LatestPerKey(ctx)
	if err != nil {
		result.DurationMs = time.Since(start).Milliseconds()
		result.Error = err.Error()
		logger.WithError(err).Error("Aggregate refresh failed reading snapshots")
		return result
	}

	if err := r.store.ReplaceAll(ctx, rows); err != nil {
		result.DurationMs = time.Since(start).Milliseconds()
		result.Error = err.Error()
		logger.WithError(err).Error("Aggregate refresh failed swapping view")
		return result
	}

	result.Refreshed = true
	result.Rows = len(rows)
	result.DurationMs = time.Since(start).Milliseconds()

	logger.WithFields(map[string]interface{}{
		"rows":       result.Rows,
		"durationMs": result.DurationMs,
	}).Info("Aggregate refreshed")

	return result
}

// Prune drops snapshots older than the retention horizon. A no-op when
// no horizon is configured.
func (r *Refresher) Prune(ctx context.Context) error {
	if r.retentionHorizon <= 0 {
		return nil
	}
	if err := r.snapshots.PruneOlderThan(ctx, r.retentionHorizon); err != nil {
		return fmt.Errorf("failed to prune snapshots: %w", err)
	}
	logging.FromContext(ctx).WithField("horizon", r.retentionHorizon).Info("Pruned snapshots past retention horizon")
	return nil
}
