// Package config provides configuration management for the market sync pipeline.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/market-sync/internal/types"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Scheduler SchedulerConfig
	Retry     RetryConfig
	Poller    PollerConfig
	Aggregate AggregateConfig
	Sync      SyncConfig
	Providers ProvidersConfig
	Logging   LoggingConfig
}

// ServerConfig holds operator API server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// URL returns the connection URL used by the migration tooling.
func (c *PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// SchedulerConfig holds job queue / scheduler configuration
type SchedulerConfig struct {
	TickInterval   time.Duration // interval between dispatch ticks
	BatchSize      int           // max jobs claimed per tick
	Concurrency    int           // max jobs executed concurrently within a tick
	StaleThreshold time.Duration // running jobs older than this are reset to pending
	SweepInterval  time.Duration // interval between stale-job sweeps
}

// RetryConfig holds retry executor configuration
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64 // fraction of the delay randomized, 0..1
}

// PollerConfig holds operations poller configuration
type PollerConfig struct {
	TickInterval time.Duration
	BatchSize    int
	Timeout      time.Duration // operations pending longer than this are timed out
}

// AggregateConfig holds aggregate refresher configuration
type AggregateConfig struct {
	RefreshInterval   time.Duration
	RetentionHorizon  time.Duration // snapshots older than this are pruned
	RetentionInterval time.Duration // interval between retention sweeps
}

// SyncConfig holds sync worker configuration
type SyncConfig struct {
	Currencies     []types.Currency
	RequestTimeout time.Duration // per remote call, passed to the retry executor
	CatalogTTL     time.Duration // TTL for cached catalog identities
}

// ProvidersConfig holds per-provider marketplace configuration
type ProvidersConfig struct {
	Enabled   []types.Provider
	Providers map[types.Provider]ProviderConfig
}

// ProviderConfig holds configuration for one marketplace provider
type ProviderConfig struct {
	BaseURL        string
	APIKey         string
	RateLimit      int     // budget tokens per hour window
	RequestsPerSec float64 // client-side pacing, 0 disables
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		// .env file is optional - environment variables can be set directly
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "market_sync"),
				User:           getEnv("POSTGRES_USER", "marketsync"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "market_sync"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Scheduler: SchedulerConfig{
			TickInterval:   getEnvAsDuration("SCHEDULER_TICK_INTERVAL", 30*time.Second),
			BatchSize:      getEnvAsInt("SCHEDULER_BATCH_SIZE", 10),
			Concurrency:    getEnvAsInt("SCHEDULER_CONCURRENCY", 5),
			StaleThreshold: getEnvAsDuration("SCHEDULER_STALE_THRESHOLD", 30*time.Minute),
			SweepInterval:  getEnvAsDuration("SCHEDULER_SWEEP_INTERVAL", 5*time.Minute),
		},
		Retry: RetryConfig{
			MaxAttempts:  getEnvAsInt("RETRY_MAX_ATTEMPTS", 5),
			InitialDelay: getEnvAsDuration("RETRY_INITIAL_DELAY", 1*time.Second),
			MaxDelay:     getEnvAsDuration("RETRY_MAX_DELAY", 60*time.Second),
			Multiplier:   getEnvAsFloat("RETRY_MULTIPLIER", 2.0),
			Jitter:       getEnvAsFloat("RETRY_JITTER", 0.2),
		},
		Poller: PollerConfig{
			TickInterval: getEnvAsDuration("POLLER_TICK_INTERVAL", 1*time.Minute),
			BatchSize:    getEnvAsInt("POLLER_BATCH_SIZE", 50),
			Timeout:      getEnvAsDuration("POLLER_OPERATION_TIMEOUT", 15*time.Minute),
		},
		Aggregate: AggregateConfig{
			RefreshInterval:   getEnvAsDuration("AGGREGATE_REFRESH_INTERVAL", 5*time.Minute),
			RetentionHorizon:  getEnvAsDuration("SNAPSHOT_RETENTION_HORIZON", 90*24*time.Hour),
			RetentionInterval: getEnvAsDuration("SNAPSHOT_RETENTION_INTERVAL", 6*time.Hour),
		},
		Sync: SyncConfig{
			Currencies:     loadCurrencies(),
			RequestTimeout: getEnvAsDuration("SYNC_REQUEST_TIMEOUT", 15*time.Second),
			CatalogTTL:     getEnvAsDuration("SYNC_CATALOG_TTL", 24*time.Hour),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	config.Providers = loadProviderConfigs()

	return config, nil
}

// loadCurrencies loads the configured currency list
func loadCurrencies() []types.Currency {
	raw := strings.Split(getEnv("SYNC_CURRENCIES", "USD,EUR,GBP"), ",")

	currencies := make([]types.Currency, 0, len(raw))
	for _, c := range raw {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		currencies = append(currencies, types.Currency(c))
	}
	return currencies
}

// loadProviderConfigs loads provider-specific configurations
func loadProviderConfigs() ProvidersConfig {
	enabledRaw := strings.Split(getEnv("ENABLED_PROVIDERS", "stockx,goat"), ",")

	var enabled []types.Provider
	providers := make(map[types.Provider]ProviderConfig)
	for _, name := range enabledRaw {
		provider, err := types.ParseProvider(name)
		if err != nil {
			continue
		}

		prefix := strings.ToUpper(string(provider))
		providers[provider] = ProviderConfig{
			BaseURL:        getEnv(prefix+"_BASE_URL", ""),
			APIKey:         getEnv(prefix+"_API_KEY", ""),
			RateLimit:      getEnvAsInt(prefix+"_RATE_LIMIT", 100),
			RequestsPerSec: getEnvAsFloat(prefix+"_REQUESTS_PER_SEC", 2),
		}
		enabled = append(enabled, provider)
	}

	return ProvidersConfig{
		Enabled:   enabled,
		Providers: providers,
	}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
