package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/econ-series-crawler/internal/metrics"
)

const (
	// DefaultRedisCallTimeout bounds a single window increment.
	DefaultRedisCallTimeout = 100 * time.Millisecond
	// DefaultRedisCooldown is how long the local bucket is used after a
	// Redis failure before Redis is tried again.
	DefaultRedisCooldown = 5 * time.Second
)

// RedisWindow shares a fixed window across processes. Each window gets its
// own INCR counter; once the counter passes the limit the caller sleeps
// until the next window. Sources slower than one request per second get a
// window of ceil(1/rps) seconds holding a single request. Redis failures
// fall back to a local token bucket so requests keep flowing.
type RedisWindow struct {
	client      redis.Cmdable
	source      string
	prefix      string
	limit       int64
	window      int64 // seconds
	fallback    *TokenBucket
	logger      *zap.Logger
	now         func() time.Time
	callTimeout time.Duration
	cooldown    time.Duration
	// openUntil is the unix-nano time before which Redis is skipped.
	openUntil atomic.Int64
}

// NewRedisWindow builds a window limiter for rps requests per second.
func NewRedisWindow(client redis.Cmdable, prefix, source string, rps float64, logger *zap.Logger) *RedisWindow {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "econcrawl:ratelimit"
	}
	window, limit := windowFor(rps)
	return &RedisWindow{
		client:      client,
		source:      source,
		prefix:      prefix,
		limit:       limit,
		window:      window,
		fallback:    NewTokenBucket(source, rps),
		logger:      logger.Named("ratelimit").With(zap.String("source", source)),
		now:         time.Now,
		callTimeout: DefaultRedisCallTimeout,
		cooldown:    DefaultRedisCooldown,
	}
}

// windowFor returns the window length in seconds and the requests allowed in it.
func windowFor(rps float64) (int64, int64) {
	if rps <= 0 {
		return 1, 1
	}
	if rps < 1 {
		return int64(math.Ceil(1 / rps)), 1
	}
	return 1, int64(math.Ceil(rps))
}

func (w *RedisWindow) key(index int64) string {
	return w.prefix + ":" + w.source + ":" + strconv.FormatInt(index, 10)
}

// take increments the current window and reports whether it was within limit.
// The returned duration is the wait until the next window.
func (w *RedisWindow) take(ctx context.Context) (bool, time.Duration, error) {
	now := w.now()
	index := now.Unix() / w.window
	key := w.key(index)

	callCtx, cancel := context.WithTimeout(ctx, w.callTimeout)
	defer cancel()
	pipe := w.client.TxPipeline()
	incr := pipe.Incr(callCtx, key)
	pipe.Expire(callCtx, key, time.Duration(2*w.window)*time.Second)
	if _, err := pipe.Exec(callCtx); err != nil {
		return false, 0, fmt.Errorf("redis window incr: %w", err)
	}
	next := time.Unix((index+1)*w.window, 0)
	return incr.Val() <= w.limit, next.Sub(now), nil
}

func (w *RedisWindow) redisAvailable() bool {
	return w.now().UnixNano() >= w.openUntil.Load()
}

func (w *RedisWindow) trip(err error) {
	w.openUntil.Store(w.now().Add(w.cooldown).UnixNano())
	w.logger.Warn("redis limiter unavailable, using local bucket",
		zap.Duration("cooldown", w.cooldown), zap.Error(err))
}

// Acquire waits for a slot in the shared window. When Redis cannot answer
// the local bucket decides; only cancellation of ctx itself is an error.
func (w *RedisWindow) Acquire(ctx context.Context) error {
	start := time.Now()
	for {
		if !w.redisAvailable() {
			return w.fallback.Acquire(ctx)
		}
		ok, wait, err := w.take(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("rate limit wait: %w", ctx.Err())
			}
			w.trip(err)
			return w.fallback.Acquire(ctx)
		}
		if ok {
			if waited := time.Since(start); waited > time.Millisecond {
				metrics.ObserveRateLimitWait(w.source, waited)
			}
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("rate limit wait: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// TryAcquire takes a slot in the current window if one is free.
func (w *RedisWindow) TryAcquire() bool {
	if !w.redisAvailable() {
		return w.fallback.TryAcquire()
	}
	ok, _, err := w.take(context.Background())
	if err != nil {
		w.trip(err)
		return w.fallback.TryAcquire()
	}
	return ok
}
