package httputil

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// RetryPolicy decides how often and how long to retry a provider request.
// Each fetcher holds its own copy; nothing here is global.
type RetryPolicy struct {
	MaxAttempts int
	MinDelay    time.Duration
	MaxDelay    time.Duration

	// Retryable is the allow-list. Nil means DefaultRetryable.
	Retryable func(statusCode int, err error) bool
}

// DefaultRetryPolicy: 3회 시도, 2s → 4s → ... 최대 10s
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		MinDelay:    2 * time.Second,
		MaxDelay:    10 * time.Second,
		Retryable:   DefaultRetryable,
	}
}

// NoRetry performs exactly one attempt
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// Backoff returns the wait before attempt n+1 (n starts at 1), bounded by MinDelay and MaxDelay
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := p.MinDelay
	for i := 1; i < n; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) shouldRetry(statusCode int, err error) bool {
	if p.Retryable == nil {
		return DefaultRetryable(statusCode, err)
	}
	return p.Retryable(statusCode, err)
}

// DefaultRetryable retries transport errors and timeouts, 5xx and 429.
// Context cancellation is never retried.
func DefaultRetryable(statusCode int, err error) bool {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return true
		}
		return errors.Is(err, context.DeadlineExceeded)
	}
	return IsRetryableError(statusCode)
}

// IsRetryableError checks if a status code should be retried
func IsRetryableError(statusCode int) bool {
	return statusCode >= 500 || statusCode == http.StatusTooManyRequests
}
