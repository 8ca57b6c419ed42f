package crawler

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net"
	"net/http"
	"time"
)

// MaxBackoffDelay caps BackoffDelay.
const MaxBackoffDelay = 300 * time.Second

// MaxRetryDelay caps the not-before delay applied to retrying queue items.
const MaxRetryDelay = 60 * time.Minute

// BackoffDelay returns base*2^attempt capped at MaxBackoffDelay.
func BackoffDelay(attempt int, base time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(base) * math.Pow(2, float64(attempt))
	if delay > float64(MaxBackoffDelay) || math.IsInf(delay, 0) {
		return MaxBackoffDelay
	}
	return time.Duration(delay)
}

// RetryDelay is how long a queue item waits before its retryCount-th retry:
// 2^retryCount minutes, capped at MaxRetryDelay.
func RetryDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount >= 6 {
		return MaxRetryDelay
	}
	d := time.Duration(1<<retryCount) * time.Minute
	if d > MaxRetryDelay {
		return MaxRetryDelay
	}
	return d
}

// ExponentialRetryPolicy decides transport-level retries for provider calls.
type ExponentialRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
}

// NewExponentialRetryPolicy builds a policy with sane defaults.
func NewExponentialRetryPolicy(maxAttempts int, baseDelay time.Duration) *ExponentialRetryPolicy {
	if maxAttempts < 0 {
		maxAttempts = 0
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	return &ExponentialRetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
	}
}

// MaxAttempts returns the number of retries allowed after the first try.
func (p *ExponentialRetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry reports whether a response or error is worth another try.
// Throttling and server errors retry; client errors do not.
func (p *ExponentialRetryPolicy) ShouldRetry(statusCode int, err error, attempt int) bool {
	if attempt >= p.maxAttempts {
		return false
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return netErr.Timeout()
		}
		return false
	}
	return statusCode == http.StatusTooManyRequests || statusCode >= http.StatusInternalServerError
}

// Backoff returns the wait duration before the next attempt, with jitter in
// the upper half of the window.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	delay := BackoffDelay(attempt, p.baseDelay)
	return delay/2 + p.randomJitter(delay/2)
}

func (p *ExponentialRetryPolicy) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
