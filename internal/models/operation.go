package models

import (
	"time"

	"github.com/market-sync/internal/types"
)

// Operation tracks an async provider-side action (e.g. listing activation)
// to completion by polling. Reconciled is an explicit flag rather than being
// derived from status, so duplicate poll cycles stay idempotent.
type Operation struct {
	ID           string                `json:"id" db:"id"` // provider-assigned
	Provider     types.Provider        `json:"provider" db:"provider"`
	ListingID    string                `json:"listingId" db:"listing_id"`
	Status       types.OperationStatus `json:"status" db:"status"`
	Reconciled   bool                  `json:"reconciled" db:"reconciled"`
	CreatedAt    time.Time             `json:"createdAt" db:"created_at"`
	LastPolledAt *time.Time            `json:"lastPolledAt,omitempty" db:"last_polled_at"`
	Error        *string               `json:"error,omitempty" db:"error_message"`
}

// OperationHistory is the append-only record written once per terminal
// transition during reconciliation.
type OperationHistory struct {
	ID          string                `json:"id" db:"id"`
	OperationID string                `json:"operationId" db:"operation_id"`
	Provider    types.Provider        `json:"provider" db:"provider"`
	ListingID   string                `json:"listingId" db:"listing_id"`
	Status      types.OperationStatus `json:"status" db:"status"`
	RecordedAt  time.Time             `json:"recordedAt" db:"recorded_at"`
}
