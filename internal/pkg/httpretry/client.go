// Package httpretry provides an HTTP client with automatic retry logic and
// exponential backoff for notification deliveries to external APIs.
package httpretry

import (
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net/http"
	"time"
)

// HTTPDoer is the interface for executing HTTP requests.
// Both *http.Client and *RetryClient satisfy this interface.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryClient wraps an HTTPDoer with bounded retries and exponential backoff.
// Deliveries are at-most-once with bounded retry: the first attempt runs
// immediately, subsequent attempts wait 1 s, 2 s, 4 s, ... (capped).
type RetryClient struct {
	client      HTTPDoer
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewRetryClient creates a new RetryClient that wraps the given HTTPDoer.
// If client is nil, a default http.Client with a 10 s timeout is used.
// maxAttempts is the total number of attempts including the first
// (default 5).
func NewRetryClient(client HTTPDoer, maxAttempts int) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &RetryClient{
		client:      client,
		maxAttempts: maxAttempts,
		baseDelay:   1 * time.Second,
		maxDelay:    30 * time.Second,
	}
}

// NewRetryClientWithBackoff is NewRetryClient with explicit backoff
// bounds. Zero durations keep the defaults.
func NewRetryClientWithBackoff(client HTTPDoer, maxAttempts int, baseDelay, maxDelay time.Duration) *RetryClient {
	rc := NewRetryClient(client, maxAttempts)
	if baseDelay > 0 {
		rc.baseDelay = baseDelay
	}
	if maxDelay > 0 {
		rc.maxDelay = maxDelay
	}
	return rc
}

// Do executes the HTTP request, retrying on retryable status codes
// (429, 500, 502, 503, 504) and on transient network/timeout errors.
// Other 4xx statuses are terminal and returned immediately. On the final
// attempt the response is returned as-is so the caller can inspect the
// status code and body.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 1; attempt <= rc.maxAttempts; attempt++ {
		if req.Context().Err() != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, req.Context().Err()
		}

		// Backoff before each retry (never before the first attempt)
		if attempt > 1 {
			// Reset request body for retry if applicable
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("httpretry: failed to reset request body: %w", err)
				}
				req.Body = body
			}

			delay := rc.backoff(attempt)
			log.Printf("httpretry: attempt %d/%d for %s %s%s (waiting %s)",
				attempt, rc.maxAttempts, req.Method, req.URL.Host, req.URL.Path, delay)

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-req.Context().Done():
				timer.Stop()
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, req.Context().Err()
			}
		}

		resp, err := rc.client.Do(req)
		if err != nil {
			lastErr = err
			if req.Context().Err() != nil {
				return nil, err
			}
			// Network/connection/timeout error, retry
			continue
		}

		// Success or terminal client error
		if !isRetryableStatus(resp.StatusCode) {
			return resp, nil
		}

		// Final attempt: hand the response back for inspection
		if attempt == rc.maxAttempts {
			return resp, nil
		}

		// Drain body for connection reuse, then retry
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: server returned retryable status %d", resp.StatusCode)
	}

	return nil, lastErr
}

// backoff returns the delay before the given attempt (attempt ≥ 2):
// baseDelay * 2^(attempt-2), capped at maxDelay, with up to 10% jitter
// so synchronized retries against the same endpoint spread out.
func (rc *RetryClient) backoff(attempt int) time.Duration {
	expDelay := float64(rc.baseDelay) * math.Pow(2, float64(attempt-2))
	if expDelay > float64(rc.maxDelay) {
		expDelay = float64(rc.maxDelay)
	}
	jitter := rand.Float64() * 0.1 * expDelay
	return time.Duration(expDelay + jitter)
}

// isRetryableStatus returns true if the HTTP status code indicates a
// transient condition worth retrying.
// Retries: 429 (Too Many Requests), 500, 502, 503, 504.
// Does NOT retry: 400, 401, 403, 404, or any other client error.
func isRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests: // 429
		return true
	case http.StatusInternalServerError: // 500
		return true
	case http.StatusBadGateway: // 502
		return true
	case http.StatusServiceUnavailable: // 503
		return true
	case http.StatusGatewayTimeout: // 504
		return true
	default:
		return false
	}
}
