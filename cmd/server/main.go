// Package main provides the operator API server entry point for the market sync pipeline.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/market-sync/internal/api"
	"github.com/market-sync/internal/budget"
	"github.com/market-sync/internal/config"
	"github.com/market-sync/internal/logging"
	"github.com/market-sync/internal/storage"
	"github.com/market-sync/internal/types"
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
	logger.Info("Market sync API server starting...")

	// Connect to Postgres
	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	// Initialize repositories
	jobRepo := storage.NewJobRepository(postgres)
	operationRepo := storage.NewOperationRepository(postgres)
	budgetRepo := storage.NewBudgetRepository(postgres)
	aggregateRepo := storage.NewAggregateRepository(postgres)

	// Budget ledger, read side only: the server reports window usage
	// but never reserves.
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

	server := api.NewServer(
		&api.ServerConfig{
			Host:            cfg.Server.Host,
			Port:            cfg.Server.Port,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		jobRepo,
		operationRepo,
		ledger,
		aggregateRepo,
		cfg.Providers.Enabled,
		logger,
	)

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// Wait for shutdown signal or server failure
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.WithError(err).Fatal("API server failed")
	case <-sigCh:
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Graceful shutdown failed")
	}

	logger.Info("Server stopped")
}
