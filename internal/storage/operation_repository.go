package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/market-sync/internal/models"
	"github.com/market-sync/internal/types"
)

// OperationRepository handles async provider-side operations and their
// append-only history. Terminal transitions and reconciliation are both
// conditional updates so concurrent pollers never duplicate either.
type OperationRepository struct {
	db *PostgresDB
}

// NewOperationRepository creates a new operation repository
func NewOperationRepository(db *PostgresDB) *OperationRepository {
	return &OperationRepository{db: db}
}

const operationColumns = `id, provider, listing_id, status, reconciled,
	   created_at, last_polled_at, error_message`

// Create records a newly submitted provider-side operation.
func (r *OperationRepository) Create(ctx context.Context, op *models.Operation) error {
	query := `
		INSERT INTO operations (id, provider, listing_id, status, reconciled, created_at)
		VALUES ($1, $2, $3, 'pending', false, NOW())
	`

	_, err := r.db.Pool().Exec(ctx, query, op.ID, op.Provider, op.ListingID)
	if err != nil {
		return fmt.Errorf("failed to create operation: %w", err)
	}

	return nil
}

// ListPollable returns operations that still need poller attention:
// pending ones, plus terminal successes/failures whose reconciliation was
// interrupted before the reconciled flag was set. Timed-out operations are
// excluded; they are surfaced for manual action instead.
func (r *OperationRepository) ListPollable(ctx context.Context, limit int) ([]*models.Operation, error) {
	query := `
		SELECT ` + operationColumns + `
		FROM operations
		WHERE status = 'pending'
		   OR (status IN ('succeeded', 'failed') AND reconciled = false)
		ORDER BY created_at ASC
		LIMIT $1
	`

	rows, err := r.db.Pool().Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pollable operations: %w", err)
	}
	defer rows.Close()

	return scanOperations(rows)
}

// TouchPolled records a poll that found the operation still pending.
func (r *OperationRepository) TouchPolled(ctx context.Context, operationID string) error {
	query := `UPDATE operations SET last_polled_at = NOW() WHERE id = $1`

	if _, err := r.db.Pool().Exec(ctx, query, operationID); err != nil {
		return fmt.Errorf("failed to touch operation: %w", err)
	}

	return nil
}

// MarkTerminal transitions a pending operation to a terminal status.
// Returns true if this caller performed the transition; false means another
// poller already did, and reconciliation belongs to the row's current state.
func (r *OperationRepository) MarkTerminal(ctx context.Context, operationID string, status types.OperationStatus, errMsg *string) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("status %s is not terminal", status)
	}

	query := `
		UPDATE operations
		SET status = $2, error_message = $3, last_polled_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`

	result, err := r.db.Pool().Exec(ctx, query, operationID, status, errMsg)
	if err != nil {
		return false, fmt.Errorf("failed to mark operation terminal: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// Reconcile applies a terminal outcome in one transaction: claim the
// reconciled flag, transition the listing, and append the history record.
// Returns true if this caller won the flag; false means another poller
// already reconciled the operation. All three writes commit together, so
// a crash mid-reconciliation leaves the operation unreconciled and
// pollable rather than half applied.
func (r *OperationRepository) Reconcile(ctx context.Context, op *models.Operation, status types.OperationStatus, listingStatus types.ListingStatus) (bool, error) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin reconciliation: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	claim, err := tx.Exec(ctx, `
		UPDATE operations
		SET reconciled = true
		WHERE id = $1 AND reconciled = false
	`, op.ID)
	if err != nil {
		return false, fmt.Errorf("failed to mark operation reconciled: %w", err)
	}
	if claim.RowsAffected() == 0 {
		return false, nil
	}

	listing, err := tx.Exec(ctx,
		`UPDATE listings SET status = $2, updated_at = NOW() WHERE id = $1`,
		op.ListingID, listingStatus,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update listing status: %w", err)
	}
	if listing.RowsAffected() == 0 {
		return false, fmt.Errorf("listing not found: %s", op.ListingID)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO operation_history (id, operation_id, provider, listing_id, status, recorded_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, uuid.New().String(), op.ID, op.Provider, op.ListingID, status); err != nil {
		return false, fmt.Errorf("failed to insert operation history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit reconciliation: %w", err)
	}

	return true, nil
}

// ListTimedOut returns timed-out operations for the operator queue.
func (r *OperationRepository) ListTimedOut(ctx context.Context, limit int) ([]*models.Operation, error) {
	query := `
		SELECT ` + operationColumns + `
		FROM operations
		WHERE status = 'timed_out'
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.Pool().Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list timed out operations: %w", err)
	}
	defer rows.Close()

	return scanOperations(rows)
}

// GetByID retrieves an operation by its provider-assigned ID.
func (r *OperationRepository) GetByID(ctx context.Context, operationID string) (*models.Operation, error) {
	query := `SELECT ` + operationColumns + ` FROM operations WHERE id = $1`

	op, err := scanOperation(r.db.Pool().QueryRow(ctx, query, operationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("operation not found: %s", operationID)
		}
		return nil, fmt.Errorf("failed to get operation: %w", err)
	}

	return op, nil
}

func scanOperation(row pgx.Row) (*models.Operation, error) {
	var (
		op           models.Operation
		lastPolledAt *time.Time
		errMsg       *string
	)
	err := row.Scan(
		&op.ID,
		&op.Provider,
		&op.ListingID,
		&op.Status,
		&op.Reconciled,
		&op.CreatedAt,
		&lastPolledAt,
		&errMsg,
	)
	if err != nil {
		return nil, err
	}
	op.LastPolledAt = lastPolledAt
	op.Error = errMsg
	return &op, nil
}

func scanOperations(rows pgx.Rows) ([]*models.Operation, error) {
	var ops []*models.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		ops = append(ops, op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operations: %w", err)
	}

	return ops, nil
}
