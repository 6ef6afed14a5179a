// Package retry executes remote marketplace calls with bounded
// exponential backoff.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/market-sync/internal/config"
	apperrors "github.com/market-sync/internal/errors"
	"github.com/market-sync/internal/logging"
)

// Classifier decides whether an error is worth retrying. Fatal errors
// stop the executor immediately.
type Classifier func(err error) bool

// Func is a function that can be retried. Each attempt must be a clean
// retry of the same logical call; no partial state survives between
// attempts.
type Func func(ctx context.Context, attempt int) error

// Result contains information about the retry operation
type Result struct {
	Attempts      int           `json:"attempts"`
	Success       bool          `json:"success"`
	TotalDuration time.Duration `json:"totalDuration"`
	LastError     error         `json:"lastError,omitempty"`
}

// Executor runs functions under one retry policy.
type Executor struct {
	maxAttempts  int
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	jitter       float64
	classify     Classifier
	sleep        func(ctx context.Context, d time.Duration) error
}

// Option customizes an Executor.
type Option func(*Executor)

// WithClassifier replaces the default retryable-error classification.
func WithClassifier(classify Classifier) Option {
	return func(e *Executor) { e.classify = classify }
}

// WithSleep replaces the backoff sleeper, used by tests to observe
// delays without waiting them out.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = sleep }
}

// NewExecutor creates an executor from config.
// Pattern with defaults: 1s, 2s, 4s, 8s, capped at 60s.
func NewExecutor(cfg *config.RetryConfig, opts ...Option) *Executor {
	e := &Executor{
		maxAttempts:  cfg.MaxAttempts,
		initialDelay: cfg.InitialDelay,
		maxDelay:     cfg.MaxDelay,
		multiplier:   cfg.Multiplier,
		jitter:       cfg.Jitter,
		classify:     apperrors.IsRetryable,
		sleep:        sleepContext,
	}
	if e.maxAttempts < 1 {
		e.maxAttempts = 1
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execute runs fn until it succeeds, fails fatally, exhausts the
// attempt budget, or the context is cancelled.
func (e *Executor) Execute(ctx context.Context, fn Func) *Result {
	logger := logging.FromContext(ctx)
	startTime := time.Now()

	result := &Result{}

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		result.Attempts = attempt

		err := fn(ctx, attempt)
		if err == nil {
			result.Success = true
			result.TotalDuration = time.Since(startTime)

			if attempt > 1 {
				logger.WithFields(map[string]interface{}{
					"attempts":      attempt,
					"totalDuration": result.TotalDuration,
				}).Info("Operation succeeded after retry")
			}

			return result
		}

		result.LastError = err

		if !e.classify(err) {
			logger.WithError(err).Warn("Operation failed with non-retryable error")
			break
		}

		if attempt >= e.maxAttempts {
			logger.WithFields(map[string]interface{}{
				"attempts":      attempt,
				"totalDuration": time.Since(startTime),
				"error":         err.Error(),
			}).Error("Operation failed after max retry attempts")
			break
		}

		if ctx.Err() != nil {
			result.LastError = ctx.Err()
			break
		}

		delay := e.delayFor(attempt, err)

		logger.WithFields(map[string]interface{}{
			"attempt":     attempt,
			"maxAttempts": e.maxAttempts,
			"delay":       delay,
			"error":       err.Error(),
		}).Warn("Operation failed, retrying with exponential backoff")

		if err := e.sleep(ctx, delay); err != nil {
			result.LastError = err
			result.TotalDuration = time.Since(startTime)
			return result
		}
	}

	result.TotalDuration = time.Since(startTime)
	return result
}

// ExecuteErr runs fn and collapses the result into a single error.
func (e *Executor) ExecuteErr(ctx context.Context, fn Func) error {
	result := e.Execute(ctx, fn)
	if !result.Success {
		return fmt.Errorf("operation failed after %d attempts: %w", result.Attempts, result.LastError)
	}
	return nil
}

// delayFor computes the backoff before the next attempt. A provider
// retry-after hint overrides the computed delay.
func (e *Executor) delayFor(attempt int, err error) time.Duration {
	if hint, ok := apperrors.RetryAfterHint(err); ok && hint > 0 {
		return hint
	}

	delay := float64(e.initialDelay) * math.Pow(e.multiplier, float64(attempt-1))
	if delay > float64(e.maxDelay) {
		delay = float64(e.maxDelay)
	}

	if e.jitter > 0 {
		// Random jitter in [-jitter/2, +jitter/2] of the delay spreads
		// out retry herds from concurrently failing workers.
		delay += delay * e.jitter * (rand.Float64() - 0.5)
	}

	return time.Duration(delay)
}
