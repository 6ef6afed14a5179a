// Package main provides the sync worker entry point for the market sync pipeline.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/market-sync/internal/aggregate"
	"github.com/market-sync/internal/budget"
	"github.com/market-sync/internal/config"
	"github.com/market-sync/internal/logging"
	"github.com/market-sync/internal/marketplace"
	"github.com/market-sync/internal/poller"
	"github.com/market-sync/internal/retry"
	"github.com/market-sync/internal/storage"
	"github.com/market-sync/internal/types"
	"github.com/market-sync/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.GetGlobalLogger().WithError(err).Fatal("Failed to load configuration")
	}

	// Initialize structured logging
	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()
	logger.Info("Market sync worker starting...")

	// Connect to Postgres
	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	// Connect to ClickHouse
	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ClickHouse")
	}
	defer clickhouse.Close()

	if err := clickhouse.EnsureSchema(context.Background()); err != nil {
		logger.WithError(err).Fatal("Failed to ensure ClickHouse schema")
	}

	// Connect to Redis
	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	logger.Info("Database connections established")

	// Initialize repositories
	jobRepo := storage.NewJobRepository(postgres)
	budgetRepo := storage.NewBudgetRepository(postgres)
	operationRepo := storage.NewOperationRepository(postgres)
	catalogRepo := storage.NewCatalogRepository(postgres)
	listingRepo := storage.NewListingRepository(postgres)
	aggregateRepo := storage.NewAggregateRepository(postgres)
	snapshotRepo := storage.NewSnapshotRepository(clickhouse)
	catalogCache := storage.NewCatalogCache(redis, cfg.Sync.CatalogTTL)

	// Initialize marketplace adapters
	registry, err := marketplace.NewRegistry(cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build marketplace adapters")
	}
	logger.WithField("providers", registry.Providers()).Info("Marketplace adapters initialized")

	// Budget ledger with per-provider hourly allowances
	limits := make(map[types.Provider]int)
	for _, provider := range cfg.Providers.Enabled {
		if pc, ok := cfg.Providers.Providers[provider]; ok && pc.RateLimit > 0 {
			limits[provider] = pc.RateLimit
		}
	}
	ledger, err := budget.NewLedger(&budget.LedgerConfig{
		Store:  budgetRepo,
		Limits: limits,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create budget ledger")
	}

	executor := retry.NewExecutor(&cfg.Retry)

	syncWorker, err := worker.NewSyncWorker(&worker.SyncWorkerConfig{
		Adapters:   registry,
		Catalog:    catalogRepo,
		Cache:      catalogCache,
		Snapshots:  snapshotRepo,
		Listings:   listingRepo,
		Operations: operationRepo,
		Executor:   executor,
		Currencies: cfg.Sync.Currencies,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create sync worker")
	}

	scheduler, err := worker.NewScheduler(&worker.SchedulerConfig{
		Jobs:           jobRepo,
		Budget:         ledger,
		Worker:         syncWorker,
		BatchSize:      cfg.Scheduler.BatchSize,
		Concurrency:    cfg.Scheduler.Concurrency,
		StaleThreshold: cfg.Scheduler.StaleThreshold,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create scheduler")
	}

	opsPoller, err := poller.NewPoller(&poller.PollerConfig{
		Operations: operationRepo,
		Adapters:   registry,
		Timeout:    cfg.Poller.Timeout,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create operations poller")
	}

	refresher, err := aggregate.NewRefresher(&aggregate.RefresherConfig{
		Snapshots:        snapshotRepo,
		Store:            aggregateRepo,
		RetentionHorizon: cfg.Aggregate.RetentionHorizon,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create aggregate refresher")
	}

	ctx, cancel := context.WithCancel(logging.WithLogger(context.Background(), logger))
	defer cancel()

	var wg sync.WaitGroup

	// Dispatch loop
	runLoop(ctx, &wg, cfg.Scheduler.TickInterval, func(ctx context.Context) {
		stats, err := scheduler.DispatchNext(ctx, cfg.Scheduler.BatchSize)
		if err != nil {
			logger.WithError(err).Error("Dispatch tick failed")
			return
		}
		if stats.Claimed > 0 {
			logger.WithFields(map[string]interface{}{
				"claimed":   stats.Claimed,
				"deferred":  stats.Deferred,
				"succeeded": stats.Succeeded,
				"failed":    stats.Failed,
			}).Info("Dispatch tick completed")
		}
	})

	// Stale job sweep
	runLoop(ctx, &wg, cfg.Scheduler.SweepInterval, func(ctx context.Context) {
		reset, err := scheduler.SweepStale(ctx)
		if err != nil {
			logger.WithError(err).Error("Stale sweep failed")
			return
		}
		if reset > 0 {
			logger.WithField("reset", reset).Warn("Reset stale running jobs")
		}
	})

	// Operations poll loop
	runLoop(ctx, &wg, cfg.Poller.TickInterval, func(ctx context.Context) {
		stats, err := opsPoller.PollBatch(ctx, cfg.Poller.BatchSize)
		if err != nil {
			logger.WithError(err).Error("Poll tick failed")
			return
		}
		if stats.Processed > 0 {
			logger.WithFields(map[string]interface{}{
				"processed": stats.Processed,
				"succeeded": stats.Succeeded,
				"failed":    stats.Failed,
				"timed_out": stats.TimedOut,
				"pending":   stats.StillPending,
			}).Info("Poll tick completed")
		}
	})

	// Aggregate refresh loop
	runLoop(ctx, &wg, cfg.Aggregate.RefreshInterval, func(ctx context.Context) {
		result := refresher.Refresh(ctx)
		if !result.Refreshed {
			logger.WithField("error", result.Error).Error("Aggregate refresh failed")
			return
		}
		logger.WithFields(map[string]interface{}{
			"rows":        result.Rows,
			"duration_ms": result.DurationMs,
		}).Info("Aggregate refreshed")
	})

	// Snapshot retention sweep
	runLoop(ctx, &wg, cfg.Aggregate.RetentionInterval, func(ctx context.Context) {
		if err := refresher.Prune(ctx); err != nil {
			logger.WithError(err).Error("Snapshot retention sweep failed")
		}
	})

	logger.Info("All worker loops started")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info("Shutdown signal received, stopping loops...")

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		logger.Warn("Timed out waiting for loops to stop")
	}

	logger.Info("Worker stopped")
}

// runLoop runs fn every interval until ctx is cancelled. A non-positive
// interval disables the loop.
func runLoop(ctx context.Context, wg *sync.WaitGroup, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}
