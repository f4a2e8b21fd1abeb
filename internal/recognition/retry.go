package recognition

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/tracewire/schematic-extractor/internal/domain"
)

// shouldRetry reports whether an HTTP status is worth another attempt.
func shouldRetry(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// backoffDelay computes the wait before retry attempt+1: exponential growth
// capped at max, plus up to 10% uniform jitter.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	delay := float64(base) * math.Pow(2, float64(attempt))
	if delay > float64(max) {
		delay = float64(max)
	}
	jitter := rand.Float64() * delay * 0.1
	return time.Duration(delay + jitter)
}

// retryWithBackoff runs reqFunc up to c.maxRetries times, backing off
// between attempts. Non-retryable statuses return immediately; the caller
// inspects them.
func (c *Client) retryWithBackoff(ctx context.Context, op string, reqFunc func() (*http.Response, error)) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		resp, err := reqFunc()
		if err == nil && resp.StatusCode == http.StatusOK {
			return resp, nil
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
			if !shouldRetry(resp.StatusCode) {
				return resp, nil
			}
			if resp.Body != nil {
				resp.Body.Close()
			}
		}

		if attempt == c.maxRetries-1 {
			break
		}

		delay := backoffDelay(attempt, c.baseDelay, c.maxDelay)
		c.log.Warn().
			Str("op", op).
			Int("attempt", attempt+1).
			Int("max_retries", c.maxRetries).
			Dur("backoff", delay).
			Err(lastErr).
			Msg("recognition request failed, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, domain.APIError(fmt.Sprintf("%s failed after %d attempts", op, c.maxRetries), lastErr)
}
