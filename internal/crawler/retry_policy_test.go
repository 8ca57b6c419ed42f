package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	require.Equal(t, time.Second, BackoffDelay(0, time.Second))
	require.Equal(t, 8*time.Second, BackoffDelay(3, time.Second))
	require.Equal(t, MaxBackoffDelay, BackoffDelay(9, time.Second))
	require.Equal(t, MaxBackoffDelay, BackoffDelay(4000, time.Second))
	require.Equal(t, time.Second, BackoffDelay(-2, time.Second))
}

func TestRetryDelay(t *testing.T) {
	t.Parallel()

	want := []time.Duration{
		time.Minute, 2 * time.Minute, 4 * time.Minute, 8 * time.Minute,
		16 * time.Minute, 32 * time.Minute, 60 * time.Minute, 60 * time.Minute,
	}
	for n, w := range want {
		require.Equal(t, w, RetryDelay(n), "retry %d", n)
	}
	require.Equal(t, MaxRetryDelay, RetryDelay(100))
}

func TestExponentialRetryPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(2, 100*time.Millisecond)
	require.True(t, p.ShouldRetry(http.StatusTooManyRequests, nil, 0))
	require.True(t, p.ShouldRetry(http.StatusBadGateway, nil, 1))
	require.False(t, p.ShouldRetry(http.StatusBadGateway, nil, 2))
	require.False(t, p.ShouldRetry(http.StatusNotFound, nil, 0))
	require.False(t, p.ShouldRetry(http.StatusOK, nil, 0))
	require.True(t, p.ShouldRetry(0, fmt.Errorf("dial: %w", timeoutErr{}), 0))
	require.False(t, p.ShouldRetry(0, context.Canceled, 0))
	require.False(t, p.ShouldRetry(0, errors.New("boom"), 0))
}

func TestExponentialRetryPolicyBackoffBounds(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3, 100*time.Millisecond)
	for attempt := 0; attempt < 4; attempt++ {
		full := BackoffDelay(attempt, 100*time.Millisecond)
		got := p.Backoff(attempt)
		require.GreaterOrEqual(t, got, full/2)
		require.LessOrEqual(t, got, full)
	}
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	cases := map[ErrorType]error{
		ErrorTypeTimeout:        fmt.Errorf("fetch: %w", context.DeadlineExceeded),
		ErrorTypeDataFormat:     fmt.Errorf("decode: %w", ErrDataFormat),
		ErrorTypeAuthentication: ErrMissingAPIKey,
		ErrorTypeRateLimit:      &HTTPStatusError{StatusCode: 429},
		ErrorTypeNotFound:       &HTTPStatusError{StatusCode: 404},
		ErrorTypeServerError:    fmt.Errorf("get: %w", &HTTPStatusError{StatusCode: 503}),
		ErrorTypeAPILimit:       errors.New("Daily Limit Exceeded"),
		ErrorTypeUnknown:        errors.New("something odd"),
	}
	for want, err := range cases {
		require.Equal(t, want, ClassifyError(err), err.Error())
	}
	require.Equal(t, ErrorTypeTimeout, ClassifyError(timeoutErr{}))
}

func TestNormalizeSourceName(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"World Bank", "world_bank", "WORLDBANK", " world-bank "} {
		require.Equal(t, "worldbank", NormalizeSourceName(in))
	}
}

func TestDefaultDataSources(t *testing.T) {
	t.Parallel()

	defaults := DefaultDataSources()
	require.Len(t, defaults, 12)
	seen := map[string]bool{}
	for _, d := range defaults {
		require.False(t, seen[d.Key()], d.Name)
		seen[d.Key()] = true
		require.True(t, d.Crawlable())
		require.Positive(t, d.RateLimitPerMinute)
	}
	require.True(t, seen["fred"])
	require.True(t, seen["worldbank"])
}
