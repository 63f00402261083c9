package hosting

import (
	"context"
	"net/http"
	"time"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
)

// RetryConfig configures retry behavior for GitHub API calls.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts.
	MaxRetries int

	// InitialBackoff is the first backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff growth.
	MaxBackoff time.Duration

	// BackoffMultiplier is the exponential growth factor.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// withRetry runs a GitHub API operation, retrying rate-limit and
// transient server errors with exponential backoff.
func (c *Client) withRetry(ctx context.Context, operation func() (*github.Response, error)) (*github.Response, error) {
	backoff := c.retry.InitialBackoff
	var lastResp *github.Response
	var lastErr error

	for attempt := 0; ; attempt++ {
		resp, err := operation()
		if err == nil {
			if attempt > 0 {
				c.logger.Info("github call recovered after retries", zap.Int("attempts", attempt))
			}
			return resp, nil
		}

		lastResp, lastErr = resp, err

		if !isRetryable(err, resp) || attempt == c.retry.MaxRetries {
			return lastResp, lastErr
		}

		wait := backoff
		if isRateLimited(resp) {
			wait = rateLimitBackoff(resp, c.retry.MaxBackoff)
		}

		c.logger.Warn("retrying github call",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", c.retry.MaxRetries+1),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return lastResp, ctx.Err()
		case <-time.After(wait):
		}

		backoff = time.Duration(float64(backoff) * c.retry.BackoffMultiplier)
		if backoff > c.retry.MaxBackoff {
			backoff = c.retry.MaxBackoff
		}
	}
}

// isRetryable reports whether the error is worth a retry: rate limits,
// server errors, and transport failures without any HTTP response.
func isRetryable(err error, resp *github.Response) bool {
	if _, ok := err.(*github.RateLimitError); ok {
		return true
	}
	if _, ok := err.(*github.AbuseRateLimitError); ok {
		return true
	}
	if resp == nil {
		return true
	}
	switch resp.StatusCode {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		http.StatusTooManyRequests:
		return true
	}
	return false
}

func isRateLimited(resp *github.Response) bool {
	if resp == nil {
		return false
	}
	return resp.StatusCode == http.StatusTooManyRequests ||
		(resp.StatusCode == http.StatusForbidden && resp.Rate.Remaining == 0)
}

// rateLimitBackoff waits until the reported rate-limit reset, capped.
func rateLimitBackoff(resp *github.Response, maxBackoff time.Duration) time.Duration {
	if resp != nil && !resp.Rate.Reset.IsZero() {
		until := time.Until(resp.Rate.Reset.Time) + time.Second
		if until > 0 && until < maxBackoff {
			return until
		}
	}
	return maxBackoff
}
