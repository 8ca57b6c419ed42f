// Package queue implements the durable crawl work queue: validated enqueue,
// contention-safe claiming, retry routing with backoff and lease recovery.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/econ-series-crawler/internal/crawler"
	"github.com/JakeFAU/econ-series-crawler/internal/metrics"
)

// ErrInvalidQueueItem is returned when Enqueue rejects an item.
var ErrInvalidQueueItem = errors.New("invalid queue item")

const defaultClaimAttempts = 5

// Queue coordinates workers over a crawler.QueueStore.
type Queue struct {
	store         crawler.QueueStore
	clock         crawler.Clock
	ids           crawler.IDGenerator
	logger        *zap.Logger
	claimAttempts int
}

// Option customises a Queue.
type Option func(*Queue)

// WithClock overrides the wall clock.
func WithClock(c crawler.Clock) Option {
	return func(q *Queue) { q.clock = c }
}

// WithIDGenerator overrides row id generation.
func WithIDGenerator(g crawler.IDGenerator) Option {
	return func(q *Queue) { q.ids = g }
}

// WithClaimAttempts bounds how many lost races ClaimNext absorbs per call.
func WithClaimAttempts(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.claimAttempts = n
		}
	}
}

// New builds a Queue.
func New(store crawler.QueueStore, logger *zap.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &Queue{
		store:         store,
		clock:         crawler.SystemClock{},
		ids:           crawler.UUIDGenerator{},
		logger:        logger,
		claimAttempts: defaultClaimAttempts,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Validate checks caller-supplied fields against the queue limits.
func Validate(in crawler.NewQueueItem) error {
	source := strings.TrimSpace(in.Source)
	switch {
	case source == "":
		return fmt.Errorf("%w: source is required", ErrInvalidQueueItem)
	case len(source) > crawler.MaxSourceLength:
		return fmt.Errorf("%w: source must be at most %d characters", ErrInvalidQueueItem, crawler.MaxSourceLength)
	case strings.TrimSpace(in.ExternalSeriesID) == "":
		return fmt.Errorf("%w: external series id is required", ErrInvalidQueueItem)
	case len(in.ExternalSeriesID) > crawler.MaxExternalIDLength:
		return fmt.Errorf("%w: external series id must be at most %d characters",
			ErrInvalidQueueItem, crawler.MaxExternalIDLength)
	case in.Priority < crawler.MinPriority || in.Priority > crawler.MaxPriority:
		return fmt.Errorf("%w: priority must be between %d and %d",
			ErrInvalidQueueItem, crawler.MinPriority, crawler.MaxPriority)
	}
	if in.MaxRetries != nil && (*in.MaxRetries < 0 || *in.MaxRetries > crawler.MaxRetriesLimit) {
		return fmt.Errorf("%w: max retries must be between 0 and %d", ErrInvalidQueueItem, crawler.MaxRetriesLimit)
	}
	return nil
}

// Enqueue validates and inserts a new pending item.
func (q *Queue) Enqueue(ctx context.Context, in crawler.NewQueueItem) (crawler.QueueItem, error) {
	if err := Validate(in); err != nil {
		return crawler.QueueItem{}, err
	}
	id, err := q.ids.NewID()
	if err != nil {
		return crawler.QueueItem{}, fmt.Errorf("queue item id: %w", err)
	}
	maxRetries := crawler.DefaultMaxRetries
	if in.MaxRetries != nil {
		maxRetries = *in.MaxRetries
	}
	now := q.clock.Now()
	item := crawler.QueueItem{
		ID:               id,
		Source:           crawler.NormalizeSourceName(in.Source),
		ExternalSeriesID: in.ExternalSeriesID,
		SeriesID:         in.SeriesID,
		Priority:         in.Priority,
		Status:           crawler.QueueStatusPending,
		MaxRetries:       maxRetries,
		ScheduledFor:     in.ScheduledFor,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := q.store.Insert(ctx, item); err != nil {
		return crawler.QueueItem{}, fmt.Errorf("queue enqueue: %w", err)
	}
	metrics.ObserveQueueTransition(string(crawler.QueueStatusPending))
	return item, nil
}

// ClaimNext locks the highest-priority ready item for workerID. A nil item
// with a nil error means nothing is ready. Lost races are retried here and
// never surface to the caller.
func (q *Queue) ClaimNext(ctx context.Context, workerID string) (*crawler.QueueItem, error) {
	return q.ClaimNextFrom(ctx, workerID, "")
}

// ClaimNextFrom is ClaimNext restricted to one source; an empty source
// matches every item.
func (q *Queue) ClaimNextFrom(ctx context.Context, workerID, source string) (*crawler.QueueItem, error) {
	if strings.TrimSpace(workerID) == "" {
		return nil, errors.New("worker id is required")
	}
	if source != "" {
		source = crawler.NormalizeSourceName(source)
	}
	for attempt := 0; attempt < q.claimAttempts; attempt++ {
		item, err := q.store.ClaimNext(ctx, workerID, source, q.clock.Now())
		switch {
		case errors.Is(err, crawler.ErrClaimConflict):
			metrics.ObserveQueueClaim("conflict")
			q.logger.Debug("queue claim lost race, retrying",
				zap.String("worker_id", workerID),
				zap.Int("attempt", attempt+1),
			)
			continue
		case err != nil:
			return nil, fmt.Errorf("claim next: %w", err)
		case item == nil:
			metrics.ObserveQueueClaim("empty")
			return nil, nil
		}
		metrics.ObserveQueueClaim("claimed")
		return item, nil
	}
	q.logger.Debug("queue contended, no item claimed", zap.String("worker_id", workerID))
	return nil, nil
}

// MarkCompleted sets the item completed and clears its lock.
func (q *Queue) MarkCompleted(ctx context.Context, id string) error {
	if err := q.store.MarkCompleted(ctx, id, q.clock.Now()); err != nil {
		return fmt.Errorf("mark completed %s: %w", id, err)
	}
	metrics.ObserveQueueTransition(string(crawler.QueueStatusCompleted))
	return nil
}

// MarkFailed sets the item terminally failed and clears its lock.
func (q *Queue) MarkFailed(ctx context.Context, id, errMsg string) error {
	if err := q.store.MarkFailed(ctx, id, errMsg, q.clock.Now()); err != nil {
		return fmt.Errorf("mark failed %s: %w", id, err)
	}
	metrics.ObserveQueueTransition(string(crawler.QueueStatusFailed))
	return nil
}

// MarkForRetry bumps the retry count and defers the item by RetryDelay.
// It returns the time the item becomes due again.
func (q *Queue) MarkForRetry(ctx context.Context, item crawler.QueueItem, errMsg string) (time.Time, error) {
	next := item.RetryCount + 1
	now := q.clock.Now()
	due := now.Add(crawler.RetryDelay(next))
	if err := q.store.MarkRetrying(ctx, item.ID, next, due, errMsg, now); err != nil {
		return time.Time{}, fmt.Errorf("mark retrying %s: %w", item.ID, err)
	}
	metrics.ObserveQueueTransition(string(crawler.QueueStatusRetrying))
	return due, nil
}

// Fail routes a failed claim: retry with backoff while retries remain,
// otherwise terminal failure. It returns the status the item ended in.
func (q *Queue) Fail(ctx context.Context, item crawler.QueueItem, errMsg string) (crawler.QueueStatus, error) {
	item.Status = crawler.QueueStatusFailed
	if !item.CanRetry() {
		if err := q.MarkFailed(ctx, item.ID, errMsg); err != nil {
			return "", err
		}
		q.logger.Info("queue item exhausted retries",
			zap.String("item_id", item.ID),
			zap.String("source", item.Source),
			zap.String("external_id", item.ExternalSeriesID),
			zap.Int("retry_count", item.RetryCount),
		)
		return crawler.QueueStatusFailed, nil
	}
	due, err := q.MarkForRetry(ctx, item, errMsg)
	if err != nil {
		return "", err
	}
	q.logger.Info("queue item scheduled for retry",
		zap.String("item_id", item.ID),
		zap.String("source", item.Source),
		zap.String("external_id", item.ExternalSeriesID),
		zap.Int("retry_count", item.RetryCount+1),
		zap.Time("scheduled_for", due),
	)
	return crawler.QueueStatusRetrying, nil
}

// Release returns a claimed item to pending without counting a retry.
func (q *Queue) Release(ctx context.Context, id string) error {
	if err := q.store.Release(ctx, id, q.clock.Now()); err != nil {
		return fmt.Errorf("release %s: %w", id, err)
	}
	metrics.ObserveQueueTransition(string(crawler.QueueStatusPending))
	return nil
}

// Cancel marks a pending or retrying item cancelled.
func (q *Queue) Cancel(ctx context.Context, id string) error {
	if err := q.store.Cancel(ctx, id, q.clock.Now()); err != nil {
		return fmt.Errorf("cancel %s: %w", id, err)
	}
	metrics.ObserveQueueTransition(string(crawler.QueueStatusCancelled))
	return nil
}

// PromoteDueRetries moves retrying items whose delay elapsed back to pending.
func (q *Queue) PromoteDueRetries(ctx context.Context) (int64, error) {
	n, err := q.store.PromoteDueRetries(ctx, q.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("promote due retries: %w", err)
	}
	if n > 0 {
		q.logger.Debug("promoted retrying items", zap.Int64("count", n))
	}
	return n, nil
}

// ReleaseExpired unlocks items held in processing for longer than lease.
func (q *Queue) ReleaseExpired(ctx context.Context, lease time.Duration) (int64, error) {
	if lease <= 0 {
		return 0, fmt.Errorf("lease must be > 0")
	}
	now := q.clock.Now()
	n, err := q.store.ReleaseExpired(ctx, now.Add(-lease), now)
	if err != nil {
		return 0, fmt.Errorf("release expired: %w", err)
	}
	if n > 0 {
		q.logger.Warn("released items with expired leases",
			zap.Int64("count", n),
			zap.Duration("lease", lease),
		)
	}
	return n, nil
}

// HasOpenItem reports whether the series already has queued or running work.
func (q *Queue) HasOpenItem(ctx context.Context, source, externalID string) (bool, error) {
	ok, err := q.store.HasOpenItem(ctx, crawler.NormalizeSourceName(source), externalID)
	if err != nil {
		return false, fmt.Errorf("check open item: %w", err)
	}
	return ok, nil
}

// Get returns a single item.
func (q *Queue) Get(ctx context.Context, id string) (crawler.QueueItem, error) {
	item, err := q.store.Get(ctx, id)
	if err != nil {
		return crawler.QueueItem{}, fmt.Errorf("get queue item %s: %w", id, err)
	}
	return item, nil
}

// Statistics returns queue counts for monitoring.
func (q *Queue) Statistics(ctx context.Context) (crawler.QueueStatistics, error) {
	stats, err := q.store.Statistics(ctx)
	if err != nil {
		return crawler.QueueStatistics{}, fmt.Errorf("queue statistics: %w", err)
	}
	return stats, nil
}
