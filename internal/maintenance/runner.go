// Package maintenance runs periodic queue housekeeping on cron schedules:
// expired lease recovery, retry promotion, queue statistics and, optionally,
// full crawl cycles.
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/econ-series-crawler/internal/crawler"
)

// Default schedules use the six-field (seconds first) cron format.
const (
	DefaultLeaseSweepSpec     = "0 */5 * * * *"
	DefaultRetryPromotionSpec = "30 * * * * *"
	DefaultStatsSpec          = "0 */15 * * * *"
	DefaultLease              = 10 * time.Minute
	DefaultJobTimeout         = time.Minute
)

// Queue is the housekeeping surface of the crawl queue.
type Queue interface {
	ReleaseExpired(ctx context.Context, lease time.Duration) (int64, error)
	PromoteDueRetries(ctx context.Context) (int64, error)
	Statistics(ctx context.Context) (crawler.QueueStatistics, error)
}

// Config holds the cron expressions. An empty expression disables the job.
type Config struct {
	LeaseSweep     string
	RetryPromotion string
	Stats          string
	// Cycle schedules full crawl cycles; requires WithCycle.
	Cycle      string
	Lease      time.Duration
	JobTimeout time.Duration
}

// DefaultConfig returns the built-in schedules with crawl cycles disabled.
func DefaultConfig() Config {
	return Config{
		LeaseSweep:     DefaultLeaseSweepSpec,
		RetryPromotion: DefaultRetryPromotionSpec,
		Stats:          DefaultStatsSpec,
		Lease:          DefaultLease,
		JobTimeout:     DefaultJobTimeout,
	}
}

// Runner owns the cron instance.
type Runner struct {
	cfg    Config
	queue  Queue
	logger *zap.Logger
	cron   *cron.Cron
	cycle  func(context.Context) error

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// Option customises a Runner.
type Option func(*Runner)

// WithCycle registers the function run on the Cycle schedule.
func WithCycle(fn func(context.Context) error) Option {
	return func(r *Runner) { r.cycle = fn }
}

// New builds a Runner. Jobs are registered by Start.
func New(q Queue, cfg Config, logger *zap.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Lease <= 0 {
		cfg.Lease = DefaultLease
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}
	logger = logger.Named("maintenance")
	cl := cronLogger{logger: logger.Sugar()}
	r := &Runner{
		cfg:    cfg,
		queue:  q,
		logger: logger,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start registers the configured jobs and starts the scheduler. Jobs run
// with contexts derived from ctx.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	jobs := []struct {
		name string
		spec string
		fn   func(context.Context) error
	}{
		{"lease sweep", r.cfg.LeaseSweep, r.SweepLeases},
		{"retry promotion", r.cfg.RetryPromotion, r.PromoteRetries},
		{"queue stats", r.cfg.Stats, r.LogStats},
	}
	if r.cycle != nil {
		jobs = append(jobs, struct {
			name string
			spec string
			fn   func(context.Context) error
		}{"crawl cycle", r.cfg.Cycle, r.cycle})
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		if _, err := r.cron.AddFunc(j.spec, r.wrap(j.name, j.fn)); err != nil {
			r.cancel()
			return fmt.Errorf("schedule %s %q: %w", j.name, j.spec, err)
		}
		r.logger.Info("job scheduled", zap.String("job", j.name), zap.String("spec", j.spec))
	}
	r.cron.Start()
	return nil
}

// Stop halts scheduling and waits for running jobs, bounded by ctx.
func (r *Runner) Stop(ctx context.Context) error {
	done := r.cron.Stop()
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) wrap(name string, fn func(context.Context) error) func() {
	timeout := r.cfg.JobTimeout
	if name == "crawl cycle" {
		timeout = 0
	}
	return func() {
		r.mu.Lock()
		base := r.ctx
		r.mu.Unlock()
		ctx, cancel := base, context.CancelFunc(func() {})
		if timeout > 0 {
			ctx, cancel = context.WithTimeout(base, timeout)
		}
		defer cancel()
		start := time.Now()
		if err := fn(ctx); err != nil {
			r.logger.Error("job failed", zap.String("job", name), zap.Error(err))
			return
		}
		r.logger.Debug("job finished", zap.String("job", name), zap.Duration("elapsed", time.Since(start)))
	}
}

// SweepLeases returns items stuck in processing past the lease to pending.
func (r *Runner) SweepLeases(ctx context.Context) error {
	n, err := r.queue.ReleaseExpired(ctx, r.cfg.Lease)
	if err != nil {
		return err
	}
	if n > 0 {
		r.logger.Info("expired leases released", zap.Int64("count", n))
	}
	return nil
}

// PromoteRetries moves retrying items whose backoff elapsed to pending.
func (r *Runner) PromoteRetries(ctx context.Context) error {
	_, err := r.queue.PromoteDueRetries(ctx)
	return err
}

// LogStats logs a queue statistics snapshot.
func (r *Runner) LogStats(ctx context.Context) error {
	stats, err := r.queue.Statistics(ctx)
	if err != nil {
		return err
	}
	fields := []zap.Field{
		zap.Int64("total", stats.TotalItems),
		zap.Int64("pending", stats.PendingItems),
		zap.Int64("processing", stats.ProcessingItems),
		zap.Int64("retrying", stats.RetryingItems),
		zap.Int64("completed", stats.CompletedItems),
		zap.Int64("failed", stats.FailedItems),
	}
	if stats.OldestPending != nil {
		fields = append(fields, zap.Time("oldest_pending", *stats.OldestPending))
	}
	if stats.AvgProcessingSeconds != nil {
		fields = append(fields, zap.Float64("avg_processing_seconds", *stats.AvgProcessingSeconds))
	}
	r.logger.Info("queue statistics", fields...)
	return nil
}

// cronLogger routes cron's internal logging through zap.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
