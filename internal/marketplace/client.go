package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/market-sync/internal/config"
	apperrors "github.com/market-sync/internal/errors"
	"github.com/market-sync/internal/types"
)

// httpClient is the transport shared by the provider adapters: bearer
// auth, client-side pacing, and mapping of HTTP failures onto error
// categories. Pacing here is a courtesy to the provider; the hourly
// budget ledger upstream is the real admission control.
type httpClient struct {
	provider    types.Provider
	baseURL     string
	client      *http.Client
	credentials CredentialProvider
	limiter     *rate.Limiter
}

func newHTTPClient(provider types.Provider, cfg config.ProviderConfig, credentials CredentialProvider, timeout time.Duration) *httpClient {
	var limiter *rate.Limiter
	if cfg.RequestsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1)
	}

	return &httpClient{
		provider:    provider,
		baseURL:     cfg.BaseURL,
		client:      &http.Client{Timeout: timeout},
		credentials: credentials,
		limiter:     limiter,
	}
}

// doJSON performs one request and decodes the response into dest.
// Exactly one attempt; retry policy belongs to the caller.
func (c *httpClient) doJSON(ctx context.Context, method, path string, payload, dest interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return apperrors.NewTimeoutError(fmt.Sprintf("%s %s", method, path), err)
		}
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return apperrors.NewInternalError("failed to marshal request body", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return apperrors.NewInternalError("failed to create request", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.credentials.Token(ctx, c.provider)
	if err != nil {
		return apperrors.NewInternalError("failed to resolve credentials", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return apperrors.NewTimeoutError(fmt.Sprintf("%s %s", method, path), err)
		}
		return apperrors.NewProviderError(c.provider, 0, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.NewProviderError(c.provider, resp.StatusCode, fmt.Errorf("failed to read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return apperrors.NewRateLimitError(c.provider, parseRetryAfter(resp.Header.Get("Retry-After")))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return apperrors.NewUnauthorizedError(c.provider, fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(data)))
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.NewNotFoundError(string(c.provider), path)
	case resp.StatusCode >= 500:
		return apperrors.NewProviderError(c.provider, resp.StatusCode, fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(data)))
	case resp.StatusCode >= 400:
		return apperrors.NewInvalidSubjectError(path, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(data)))
	}

	if dest != nil {
		if err := json.Unmarshal(data, dest); err != nil {
			return apperrors.NewProviderError(c.provider, resp.StatusCode, fmt.Errorf("malformed response: %w", err))
		}
	}

	return nil
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

// parseRetryAfter handles the delta-seconds form of the header; the
// HTTP-date form is rare enough from marketplace APIs to ignore.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func truncate(data []byte) string {
	const max = 256
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}
