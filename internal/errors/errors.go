// Package errors provides categorized errors for the market sync pipeline.
// Categories drive retry classification: provider, rate-limit, and timeout
// errors are transient; validation and authorization errors are terminal.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/market-sync/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryValidation represents validation errors (terminal)
	CategoryValidation ErrorCategory = "validation"
	// CategoryAuthorization represents authorization errors (terminal)
	CategoryAuthorization ErrorCategory = "authorization"
	// CategoryNotFound represents not found errors (terminal)
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryProvider represents marketplace provider errors (transient)
	CategoryProvider ErrorCategory = "provider"
	// CategoryRateLimit represents rate limit errors (transient)
	CategoryRateLimit ErrorCategory = "rate_limit"
	// CategoryTimeout represents request timeout errors (transient)
	CategoryTimeout ErrorCategory = "timeout"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
	// CategorySystem represents internal system errors
	CategorySystem ErrorCategory = "system"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error

	// RetryAfter carries a provider-supplied backoff hint for rate limit
	// errors. Zero means no hint was given.
	RetryAfter time.Duration
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the error is transient and worth retrying.
func (e *CategorizedError) Retryable() bool {
	switch e.Category {
	case CategoryProvider, CategoryRateLimit, CategoryTimeout:
		return true
	default:
		return false
	}
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// IsRetryable reports whether err (or any error it wraps) is transient.
// Uncategorized errors are treated as terminal.
func IsRetryable(err error) bool {
	var ce *CategorizedError
	if errors.As(err, &ce) {
		return ce.Retryable()
	}
	return false
}

// RetryAfterHint extracts a provider-supplied backoff hint from err, if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	var ce *CategorizedError
	if errors.As(err, &ce) && ce.RetryAfter > 0 {
		return ce.RetryAfter, true
	}
	return 0, false
}

// Terminal Errors

// NewInvalidSubjectError creates an invalid subject key error
func NewInvalidSubjectError(subject string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_SUBJECT",
		Message:    fmt.Sprintf("invalid subject key '%s': %s", subject, reason),
		Details: map[string]interface{}{
			"subject": subject,
			"reason":  reason,
		},
	}
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError(provider types.Provider, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusUnauthorized,
		Code:       "UNAUTHORIZED",
		Message:    fmt.Sprintf("credential rejected by provider %s", provider),
		Cause:      cause,
		Details: map[string]interface{}{
			"provider": string(provider),
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// Transient Errors

// NewProviderError creates a provider error for a 5xx or malformed response
func NewProviderError(provider types.Provider, statusCode int, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: statusCode,
		Code:       "PROVIDER_ERROR",
		Message:    fmt.Sprintf("provider %s returned status %d", provider, statusCode),
		Cause:      cause,
		Details: map[string]interface{}{
			"provider": string(provider),
		},
	}
}

// NewRateLimitError creates a rate limit error carrying the provider's
// Retry-After hint when one was supplied.
func NewRateLimitError(provider types.Provider, retryAfter time.Duration) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRateLimit,
		StatusCode: http.StatusTooManyRequests,
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    fmt.Sprintf("rate limited by provider %s", provider),
		RetryAfter: retryAfter,
		Details: map[string]interface{}{
			"provider":   string(provider),
			"retryAfter": retryAfter.String(),
		},
	}
}

// NewTimeoutError creates a request timeout error
func NewTimeoutError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryTimeout,
		StatusCode: http.StatusGatewayTimeout,
		Code:       "REQUEST_TIMEOUT",
		Message:    fmt.Sprintf("request timed out during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// System Errors

// NewInternalError creates an internal error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       "DATABASE_ERROR",
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}
