// Package ratelimit throttles outbound requests per data source.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/econ-series-crawler/internal/metrics"
)

// Limiter hands out request permits.
type Limiter interface {
	// Acquire blocks until a permit is available or ctx is done.
	Acquire(ctx context.Context) error
	// TryAcquire takes a permit if one is available without blocking.
	TryAcquire() bool
}

// Preset names a standard request rate.
type Preset string

// Presets understood by PresetRPS.
const (
	PresetDefault      Preset = "default"
	PresetConservative Preset = "conservative"
	PresetAggressive   Preset = "aggressive"
)

// PresetRPS returns requests per second for a preset; unknown names use the default.
func PresetRPS(p Preset) float64 {
	switch p {
	case PresetConservative:
		return 5
	case PresetAggressive:
		return 20
	default:
		return 10
	}
}

// TokenBucket is an in-process limiter with burst = ceil(rps).
type TokenBucket struct {
	source  string
	limiter *rate.Limiter
}

// NewTokenBucket creates a bucket for source; rps <= 0 means unlimited.
func NewTokenBucket(source string, rps float64) *TokenBucket {
	if rps <= 0 {
		return &TokenBucket{source: source, limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	burst := int(math.Ceil(rps))
	if burst < 1 {
		burst = 1
	}
	return &TokenBucket{source: source, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// NewPreset creates a token bucket at a preset rate.
func NewPreset(source string, p Preset) *TokenBucket {
	return NewTokenBucket(source, PresetRPS(p))
}

// Acquire blocks until a token is available.
func (b *TokenBucket) Acquire(ctx context.Context) error {
	start := time.Now()
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitWait(b.source, waited)
	}
	return nil
}

// TryAcquire consumes a token if one is available now.
func (b *TokenBucket) TryAcquire() bool {
	return b.limiter.Allow()
}

// Rate returns the configured requests per second.
func (b *TokenBucket) Rate() float64 {
	return float64(b.limiter.Limit())
}

// Burst returns the bucket size.
func (b *TokenBucket) Burst() int {
	return b.limiter.Burst()
}
