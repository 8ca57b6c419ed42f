package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/econ-series-crawler/internal/crawler"
)

const queueColumns = `id::text, source, external_id, series_id::text, priority, status, retry_count, max_retries,
	COALESCE(error_message, ''), scheduled_for, locked_by, locked_at, started_at, created_at, updated_at`

func scanQueueItem(row pgx.Row) (crawler.QueueItem, error) {
	var (
		item     crawler.QueueItem
		priority int
		status   string
	)
	err := row.Scan(
		&item.ID,
		&item.Source,
		&item.ExternalSeriesID,
		&item.SeriesID,
		&priority,
		&status,
		&item.RetryCount,
		&item.MaxRetries,
		&item.ErrorMessage,
		&item.ScheduledFor,
		&item.LockedBy,
		&item.LockedAt,
		&item.StartedAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return crawler.QueueItem{}, err
	}
	item.Priority = crawler.QueuePriority(priority)
	item.Status = crawler.QueueStatus(status)
	return item, nil
}

// Insert adds a queue item.
func (s *Store) Insert(ctx context.Context, item crawler.QueueItem) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO crawl_queue (
			id, source, external_id, series_id, priority, status, retry_count, max_retries,
			scheduled_for, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		item.ID,
		item.Source,
		item.ExternalSeriesID,
		item.SeriesID,
		int(item.Priority),
		string(item.Status),
		item.RetryCount,
		item.MaxRetries,
		item.ScheduledFor,
		item.CreatedAt,
		item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert queue item: %w", err)
	}
	return nil
}

// ClaimNext selects the next ready row with FOR UPDATE SKIP LOCKED and flips
// it to processing inside one transaction. Concurrent callers never receive
// the same row: a locked row is skipped, and the guarded UPDATE reports
// ErrClaimConflict if the row changed between the select and the update.
func (s *Store) ClaimNext(ctx context.Context, workerID, source string, now time.Time) (*crawler.QueueItem, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	var id string
	err = tx.QueryRow(ctx, `
		SELECT id::text FROM crawl_queue
		WHERE status = 'pending'
		  AND locked_by IS NULL
		  AND (scheduled_for IS NULL OR scheduled_for <= $1)
		  AND ($2 = '' OR regexp_replace(lower(source), '[ _-]', '', 'g') = $2)
		ORDER BY priority DESC, created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, now, source).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select ready item: %w", err)
	}

	claimed, err := scanQueueItem(tx.QueryRow(ctx, `
		UPDATE crawl_queue
		SET status = 'processing', locked_by = $1, locked_at = $2, started_at = $2, updated_at = $2
		WHERE id = $3 AND status = 'pending' AND locked_by IS NULL
		RETURNING `+queueColumns, workerID, now, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, crawler.ErrClaimConflict
	}
	if err != nil {
		return nil, fmt.Errorf("lock item %s: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	committed = true
	return &claimed, nil
}

// Get returns a queue item by id.
func (s *Store) Get(ctx context.Context, id string) (crawler.QueueItem, error) {
	item, err := scanQueueItem(s.pool.QueryRow(ctx, `SELECT `+queueColumns+` FROM crawl_queue WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.QueueItem{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.QueueItem{}, fmt.Errorf("get queue item: %w", err)
	}
	return item, nil
}

func (s *Store) execOne(ctx context.Context, op, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, crawler.ErrNotFound)
	}
	return nil
}

// MarkCompleted sets the item completed and clears its lock.
func (s *Store) MarkCompleted(ctx context.Context, id string, now time.Time) error {
	return s.execOne(ctx, "mark completed", `
		UPDATE crawl_queue
		SET status = 'completed', locked_by = NULL, locked_at = NULL, updated_at = $2
		WHERE id = $1`, id, now)
}

// MarkFailed sets the item failed and clears its lock.
func (s *Store) MarkFailed(ctx context.Context, id string, errMsg string, now time.Time) error {
	return s.execOne(ctx, "mark failed", `
		UPDATE crawl_queue
		SET status = 'failed', error_message = $2, locked_by = NULL, locked_at = NULL, updated_at = $3
		WHERE id = $1`, id, errMsg, now)
}

// MarkRetrying records a retry and defers the item until scheduledFor.
func (s *Store) MarkRetrying(
	ctx context.Context,
	id string,
	retryCount int,
	scheduledFor time.Time,
	errMsg string,
	now time.Time,
) error {
	return s.execOne(ctx, "mark retrying", `
		UPDATE crawl_queue
		SET status = 'retrying', retry_count = $2, scheduled_for = $3, error_message = $4,
		    locked_by = NULL, locked_at = NULL, updated_at = $5
		WHERE id = $1`, id, retryCount, scheduledFor, errMsg, now)
}

// Release returns a processing item to pending.
func (s *Store) Release(ctx context.Context, id string, now time.Time) error {
	return s.execOne(ctx, "release", `
		UPDATE crawl_queue
		SET status = CASE WHEN status = 'processing' THEN 'pending' ELSE status END,
		    locked_by = NULL, locked_at = NULL, updated_at = $2
		WHERE id = $1`, id, now)
}

// Cancel marks a pending or retrying item cancelled.
func (s *Store) Cancel(ctx context.Context, id string, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE crawl_queue SET status = 'cancelled', updated_at = $2
		WHERE id = $1 AND status IN ('pending', 'retrying')`, id, now)
	if err != nil {
		return fmt.Errorf("cancel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("cancel %s: item is not pending or retrying", id)
	}
	return nil
}

// PromoteDueRetries moves due retrying items back to pending.
func (s *Store) PromoteDueRetries(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE crawl_queue SET status = 'pending', updated_at = $1
		WHERE status = 'retrying' AND (scheduled_for IS NULL OR scheduled_for <= $1)`, now)
	if err != nil {
		return 0, fmt.Errorf("promote retries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ReleaseExpired unlocks processing items locked before lockedBefore.
func (s *Store) ReleaseExpired(ctx context.Context, lockedBefore time.Time, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE crawl_queue
		SET status = 'pending', locked_by = NULL, locked_at = NULL, updated_at = $2
		WHERE status = 'processing' AND locked_at < $1`, lockedBefore, now)
	if err != nil {
		return 0, fmt.Errorf("release expired: %w", err)
	}
	return tag.RowsAffected(), nil
}

// HasOpenItem reports pending, processing or retrying work for a series.
func (s *Store) HasOpenItem(ctx context.Context, source, externalID string) (bool, error) {
	var open bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM crawl_queue
			WHERE regexp_replace(lower(source), '[ _-]', '', 'g') = $1 AND external_id = $2
			  AND status IN ('pending', 'processing', 'retrying')
		)`, crawler.NormalizeSourceName(source), externalID).Scan(&open)
	if err != nil {
		return false, fmt.Errorf("check open item: %w", err)
	}
	return open, nil
}

// Statistics summarises the queue in a single aggregate query.
func (s *Store) Statistics(ctx context.Context) (crawler.QueueStatistics, error) {
	var stats crawler.QueueStatistics
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'retrying'),
			COUNT(*) FILTER (WHERE status = 'cancelled'),
			MIN(created_at) FILTER (WHERE status = 'pending'),
			(AVG(EXTRACT(EPOCH FROM (updated_at - started_at)))
				FILTER (WHERE status = 'completed' AND started_at IS NOT NULL))::float8
		FROM crawl_queue`).Scan(
		&stats.TotalItems,
		&stats.PendingItems,
		&stats.ProcessingItems,
		&stats.CompletedItems,
		&stats.FailedItems,
		&stats.RetryingItems,
		&stats.CancelledItems,
		&stats.OldestPending,
		&stats.AvgProcessingSeconds,
	)
	if err != nil {
		return crawler.QueueStatistics{}, fmt.Errorf("queue statistics: %w", err)
	}
	return stats, nil
}
