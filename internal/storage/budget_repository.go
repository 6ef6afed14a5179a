package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/market-sync/internal/models"
	"github.com/market-sync/internal/types"
)

// BudgetRepository handles the per-provider hourly rate allowance rows.
// The reservation path is a single conditional UPDATE so two concurrent
// dispatchers can never both take the last token.
type BudgetRepository struct {
	db *PostgresDB
}

// NewBudgetRepository creates a new budget repository
func NewBudgetRepository(db *PostgresDB) *BudgetRepository {
	return &BudgetRepository{db: db}
}

// TryReserve attempts to consume cost tokens from the provider's window.
// The window row is upserted lazily on first use; no background process
// pre-creates future windows. Returns true when the reservation succeeded.
func (r *BudgetRepository) TryReserve(ctx context.Context, provider types.Provider, windowStart time.Time, rateLimit, cost int) (bool, error) {
	if cost <= 0 {
		return true, nil
	}

	upsert := `
		INSERT INTO budget_windows (provider, window_start, rate_limit, used)
		VALUES ($1, $2, $3, 0)
		ON CONFLICT (provider, window_start) DO NOTHING
	`
	if _, err := r.db.Pool().Exec(ctx, upsert, provider, windowStart, rateLimit); err != nil {
		return false, fmt.Errorf("failed to ensure budget window: %w", err)
	}

	reserve := `
		UPDATE budget_windows
		SET used = used + $3
		WHERE provider = $1 AND window_start = $2 AND used + $3 <= rate_limit
	`
	result, err := r.db.Pool().Exec(ctx, reserve, provider, windowStart, cost)
	if err != nil {
		return false, fmt.Errorf("failed to reserve budget: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// Get retrieves the budget window row for a provider and window start.
// Returns (nil, nil) when no reservation has touched the window yet.
func (r *BudgetRepository) Get(ctx context.Context, provider types.Provider, windowStart time.Time) (*models.BudgetWindow, error) {
	query := `
		SELECT provider, window_start, rate_limit, used
		FROM budget_windows
		WHERE provider = $1 AND window_start = $2
	`

	var window models.BudgetWindow
	err := r.db.Pool().QueryRow(ctx, query, provider, windowStart).Scan(
		&window.Provider,
		&window.WindowStart,
		&window.RateLimit,
		&window.Used,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get budget window: %w", err)
	}

	return &window, nil
}

// ListRecent retrieves budget windows newer than since, newest first.
func (r *BudgetRepository) ListRecent(ctx context.Context, since time.Time) ([]*models.BudgetWindow, error) {
	query := `
		SELECT provider, window_start, rate_limit, used
		FROM budget_windows
		WHERE window_start >= $1
		ORDER BY window_start DESC, provider ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list budget windows: %w", err)
	}
	defer rows.Close()

	var windows []*models.BudgetWindow
	for rows.Next() {
		var window models.BudgetWindow
		if err := rows.Scan(&window.Provider, &window.WindowStart, &window.RateLimit, &window.Used); err != nil {
			return nil, fmt.Errorf("failed to scan budget window: %w", err)
		}
		windows = append(windows, &window)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating budget windows: %w", err)
	}

	return windows, nil
}
