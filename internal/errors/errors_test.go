package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/market-sync/internal/types"
)

func TestRetryableClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"rate limit", NewRateLimitError(types.ProviderStockX, 0), true},
		{"provider 5xx", NewProviderError(types.ProviderGoat, 503, nil), true},
		{"timeout", NewTimeoutError("market data fetch", nil), true},
		{"unauthorized", NewUnauthorizedError(types.ProviderStockX, nil), false},
		{"validation", NewInvalidSubjectError("", "missing style id"), false},
		{"not found", NewNotFoundError("product", "DD1391-100"), false},
		{"database", NewDatabaseError("insert snapshot", errors.New("conn reset")), false},
		{"plain error", errors.New("something broke"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}

func TestRetryableThroughWrapping(t *testing.T) {
	inner := NewRateLimitError(types.ProviderStockX, 5*time.Second)
	wrapped := fmt.Errorf("fetching USD market data: %w", inner)

	assert.True(t, IsRetryable(wrapped))

	hint, ok := RetryAfterHint(wrapped)
	assert.True(t, ok)
	assert.Equal(t, 5*time.Second, hint)
}

func TestRetryAfterHintAbsent(t *testing.T) {
	_, ok := RetryAfterHint(NewRateLimitError(types.ProviderGoat, 0))
	assert.False(t, ok, "zero hint should not be reported")

	_, ok = RetryAfterHint(errors.New("plain"))
	assert.False(t, ok)
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewProviderError(types.ProviderStockX, 500, cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "PROVIDER_ERROR")
	assert.Contains(t, err.Error(), "boom")
}
