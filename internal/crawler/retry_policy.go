package crawler

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"
)

// ExponentialRetryPolicy implements RetryPolicy with jittered backoff.
type ExponentialRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewExponentialRetryPolicy builds a policy: 3 attempts, 250ms base, 5s cap.
func NewExponentialRetryPolicy() *ExponentialRetryPolicy {
	return NewRetryPolicy(3, 250*time.Millisecond, 5*time.Second)
}

// NewRetryPolicy builds a policy with explicit limits. Non-positive values
// fall back to the defaults.
func NewRetryPolicy(maxAttempts int, base, maxDelay time.Duration) *ExponentialRetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	if maxDelay < base {
		maxDelay = base
	}
	return &ExponentialRetryPolicy{maxAttempts: maxAttempts, baseDelay: base, maxDelay: maxDelay}
}

// ShouldRetry decides whether the error is retryable. Transport failures are
// retried whether or not they timed out; context errors and 4xx statuses
// other than 429 are not.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Retryable()
	}
	return true
}

// Backoff returns the wait before the next attempt: half the exponential
// delay plus up to half again in jitter.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	return time.Duration(delay/2) + randomJitter(time.Duration(delay)/2)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
