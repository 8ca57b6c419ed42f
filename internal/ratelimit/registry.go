package ratelimit

import (
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/econ-series-crawler/internal/crawler"
)

// Config controls how the registry builds per-source limiters.
type Config struct {
	Preset Preset
	// Redis enables the shared window limiter when non-nil.
	Redis       redis.Cmdable
	RedisPrefix string
}

// Registry lazily creates one limiter per source.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	logger   *zap.Logger
	limiters map[string]Limiter
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{cfg: cfg, logger: logger, limiters: make(map[string]Limiter)}
}

// SourceRPS converts a per-minute budget to requests per second, capped at
// the preset. A zero budget uses the preset.
func SourceRPS(perMinute int, p Preset) float64 {
	ceiling := PresetRPS(p)
	if perMinute <= 0 {
		return ceiling
	}
	rps := float64(perMinute) / 60
	if rps > ceiling {
		return ceiling
	}
	return rps
}

// For returns the limiter for src, creating it on first use.
func (r *Registry) For(src crawler.DataSource) Limiter {
	key := src.Key()
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[key]; ok {
		return l
	}
	rps := SourceRPS(src.RateLimitPerMinute, r.cfg.Preset)
	var l Limiter
	if r.cfg.Redis != nil {
		l = NewRedisWindow(r.cfg.Redis, r.cfg.RedisPrefix, key, rps, r.logger)
	} else {
		l = NewTokenBucket(key, rps)
	}
	r.logger.Debug("created source limiter", zap.String("source", key), zap.Float64("rps", rps))
	r.limiters[key] = l
	return l
}
