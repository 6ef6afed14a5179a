// Package budget enforces per-provider hourly request allowances for
// outbound marketplace calls.
package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/market-sync/internal/models"
	"github.com/market-sync/internal/types"
)

// DefaultRateLimit is the hourly token allowance used when a provider
// has no configured limit.
const DefaultRateLimit = 100

// Store is the persistence surface the ledger needs. The atomicity of
// reservations lives in the store: TryReserve must never over-commit a
// window even under concurrent callers.
type Store interface {
	TryReserve(ctx context.Context, provider types.Provider, windowStart time.Time, rateLimit, cost int) (bool, error)
	Get(ctx context.Context, provider types.Provider, windowStart time.Time) (*models.BudgetWindow, error)
}

// LedgerConfig holds configuration for the budget ledger.
type LedgerConfig struct {
	// Store is the budget window store. Required.
	Store Store

	// Limits maps each provider to its hourly token allowance.
	// Providers not present fall back to DefaultRateLimit.
	Limits map[types.Provider]int

	// Now overrides the clock, used by tests. Defaults to time.Now.
	Now func() time.Time
}

// Validate checks if the configuration is valid.
func (c *LedgerConfig) Validate() error {
	if c.Store == nil {
		return errors.New("budget store is required")
	}
	for provider, limit := range c.Limits {
		if limit <= 0 {
			return fmt.Errorf("rate limit for %s must be positive, got %d", provider, limit)
		}
	}
	return nil
}

// Reservation is the outcome of one budget reservation attempt.
type Reservation struct {
	// Authorized reports whether the tokens were consumed.
	Authorized bool

	// Provider is the marketplace the reservation was made against.
	Provider types.Provider

	// WindowStart is the hour bucket the reservation applied to.
	WindowStart time.Time

	// Cost is the number of tokens requested.
	Cost int

	// RetryAfter is how long until the next window opens. Only
	// meaningful when Authorized is false.
	RetryAfter time.Duration
}

// Ledger coordinates budget consumption across workers. A reservation
// either fits the current hour window and is consumed immediately, or
// is denied with the time remaining until the window rolls over. Denied
// reservations consume nothing.
type Ledger struct {
	store  Store
	limits map[types.Provider]int
	now    func() time.Time
}

// NewLedger creates a new budget ledger.
func NewLedger(cfg *LedgerConfig) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ledger config: %w", err)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	limits := make(map[types.Provider]int, len(cfg.Limits))
	for provider, limit := range cfg.Limits {
		limits[provider] = limit
	}

	return &Ledger{
		store:  cfg.Store,
		limits: limits,
		now:    now,
	}, nil
}

// Limit returns the hourly allowance for a provider.
func (l *Ledger) Limit(provider types.Provider) int {
	if limit, ok := l.limits[provider]; ok {
		return limit
	}
	return DefaultRateLimit
}

// Reserve attempts to consume cost tokens from the provider's current
// hour window.
func (l *Ledger) Reserve(ctx context.Context, provider types.Provider, cost int) (*Reservation, error) {
	if cost < 0 {
		return nil, fmt.Errorf("reservation cost cannot be negative, got %d", cost)
	}

	now := l.now().UTC()
	windowStart := types.BudgetWindow(now)
	limit := l.Limit(provider)

	reservation := &Reservation{
		Provider:    provider,
		WindowStart: windowStart,
		Cost:        cost,
	}

	if cost > limit {
		// Can never fit in any window; denial with a retry hint would
		// just spin forever.
		return nil, fmt.Errorf("reservation cost %d exceeds %s hourly limit %d", cost, provider, limit)
	}

	ok, err := l.store.TryReserve(ctx, provider, windowStart, limit, cost)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve %s budget: %w", provider, err)
	}

	reservation.Authorized = ok
	if !ok {
		reservation.RetryAfter = windowStart.Add(time.Hour).Sub(now)
	}

	return reservation, nil
}

// Usage returns the provider's current window state. A window no
// reservation has touched yet reports zero usage.
func (l *Ledger) Usage(ctx context.Context, provider types.Provider) (*models.BudgetWindow, error) {
	windowStart := types.BudgetWindow(l.now().UTC())

	window, err := l.store.Get(ctx, provider, windowStart)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s budget window: %w", provider, err)
	}
	if window == nil {
		window = &models.BudgetWindow{
			Provider:    provider,
			WindowStart: windowStart,
			RateLimit:   l.Limit(provider),
		}
	}

	return window, nil
}
