// Package main provides a CLI tool for running database migrations.
package main

import (
	"context"
	"flag"
	"log"

	"github.com/market-sync/internal/config"
	"github.com/market-sync/internal/storage"
)

func main() {
	var (
		action = flag.String("action", "up", "Migration action: up, down, version")
		dbType = flag.String("db", "postgres", "Database type: postgres, clickhouse")
		path   = flag.String("path", "migrations", "Path to migration files")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	switch *dbType {
	case "postgres":
		if err := runPostgresMigrations(cfg, *action, *path); err != nil {
			log.Fatalf("Postgres migration failed: %v", err)
		}
	case "clickhouse":
		if err := ensureClickHouseSchema(cfg); err != nil {
			log.Fatalf("ClickHouse schema setup failed: %v", err)
		}
	default:
		log.Fatalf("Unknown database type: %s", *dbType)
	}
}

func runPostgresMigrations(cfg *config.Config, action, path string) error {
	databaseURL := cfg.Database.Postgres.URL()

	switch action {
	case "up":
		log.Println("Running Postgres migrations...")
		if err := storage.RunMigrations(databaseURL, path); err != nil {
			return err
		}
		log.Println("Postgres migrations completed successfully")

	case "down":
		log.Println("Rolling back Postgres migration...")
		if err := storage.RollbackMigrations(databaseURL, path); err != nil {
			return err
		}
		log.Println("Postgres migration rolled back successfully")

	case "version":
		version, dirty, err := storage.MigrationVersion(databaseURL, path)
		if err != nil {
			return err
		}
		log.Printf("Current Postgres migration version: %d (dirty: %v)", version, dirty)

	default:
		log.Fatalf("Unknown action: %s", action)
	}

	return nil
}

// ensureClickHouseSchema creates the snapshot tables. ClickHouse schema
// is idempotent CREATE IF NOT EXISTS, not versioned migrations.
func ensureClickHouseSchema(cfg *config.Config) error {
	db, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		return err
	}
	defer db.Close()

	log.Println("Ensuring ClickHouse schema...")
	if err := db.EnsureSchema(context.Background()); err != nil {
		return err
	}
	log.Println("ClickHouse schema is up to date")
	return nil
}
