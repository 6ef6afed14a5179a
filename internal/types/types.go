// Package types provides common type definitions for the market sync system.
package types

import (
	"fmt"
	"strings"
	"time"
)

// Provider represents a supported marketplace.
type Provider string

const (
	// ProviderStockX represents the StockX marketplace
	ProviderStockX Provider = "stockx"
	// ProviderGoat represents the GOAT marketplace
	ProviderGoat Provider = "goat"
)

// AllProviders lists every marketplace the pipeline can sync against.
var AllProviders = []Provider{ProviderStockX, ProviderGoat}

// ParseProvider parses a provider name, accepting any casing.
func ParseProvider(s string) (Provider, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(s))) {
	case ProviderStockX:
		return ProviderStockX, nil
	case ProviderGoat:
		return ProviderGoat, nil
	default:
		return "", fmt.Errorf("unknown provider: %q", s)
	}
}

// SubjectKey identifies one syncable unit of market data:
// a style (SKU) on a provider, optionally narrowed to a single variant (size).
type SubjectKey struct {
	StyleID string
	Variant string // empty means all variants of the style
}

// Validate checks that the subject key is well formed.
func (k SubjectKey) Validate() error {
	if strings.TrimSpace(k.StyleID) == "" {
		return fmt.Errorf("subject key requires a style id")
	}
	return nil
}

// String renders the key in "styleID" or "styleID/variant" form.
func (k SubjectKey) String() string {
	if k.Variant == "" {
		return k.StyleID
	}
	return k.StyleID + "/" + k.Variant
}

// JobStatus represents the lifecycle state of a sync job.
type JobStatus string

const (
	// JobStatusPending represents a job waiting to be dispatched
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning represents a job currently being executed
	JobStatusRunning JobStatus = "running"
	// JobStatusDone represents a successfully completed job
	JobStatusDone JobStatus = "done"
	// JobStatusFailed represents a failed job awaiting operator action
	JobStatusFailed JobStatus = "failed"
)

// Terminal reports whether no further automatic transition occurs from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusFailed
}

// OperationStatus represents the state of an async provider-side operation.
type OperationStatus string

const (
	// OperationPending represents an operation awaiting provider completion
	OperationPending OperationStatus = "pending"
	// OperationSucceeded represents an operation the provider completed
	OperationSucceeded OperationStatus = "succeeded"
	// OperationFailed represents an operation the provider rejected
	OperationFailed OperationStatus = "failed"
	// OperationTimedOut represents an operation abandoned after the polling horizon
	OperationTimedOut OperationStatus = "timed_out"
)

// Terminal reports whether no further automatic transition occurs from s.
func (s OperationStatus) Terminal() bool {
	return s != OperationPending
}

// ListingStatus represents the local view of a marketplace listing.
type ListingStatus string

const (
	// ListingInactive represents a listing not yet live on the provider
	ListingInactive ListingStatus = "inactive"
	// ListingActive represents a listing live on the provider
	ListingActive ListingStatus = "active"
	// ListingRejected represents a listing the provider refused to activate
	ListingRejected ListingStatus = "rejected"
)

// Currency is an ISO 4217 currency code.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
)

// BudgetWindow truncates t to the hour bucket used for rate-limit accounting.
func BudgetWindow(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
