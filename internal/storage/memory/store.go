// Package memory provides in-memory store implementations for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/econ-series-crawler/internal/crawler"
)

// Store implements crawler.Store in process memory. All claims are
// serialised by a single mutex, which gives the same mutual exclusion the
// Postgres store gets from row locks.
type Store struct {
	mu sync.Mutex

	ids crawler.IDGenerator
	seq int64

	queue      map[string]*queueRow
	sources    map[string]*crawler.DataSource
	series     map[string]*crawler.CatalogSeries
	seriesKey  map[string]string
	attempts   map[string]*crawler.CrawlAttempt
	dataPoints map[string]map[string][]crawler.DataPoint
}

type queueRow struct {
	item crawler.QueueItem
	seq  int64
}

var _ crawler.Store = (*Store)(nil)

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		ids:        crawler.UUIDGenerator{},
		queue:      make(map[string]*queueRow),
		sources:    make(map[string]*crawler.DataSource),
		series:     make(map[string]*crawler.CatalogSeries),
		seriesKey:  make(map[string]string),
		attempts:   make(map[string]*crawler.CrawlAttempt),
		dataPoints: make(map[string]map[string][]crawler.DataPoint),
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() {}

func (s *Store) newID() (string, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("memory store id: %w", err)
	}
	return id, nil
}

// --- queue ---

// Insert adds a queue item.
func (s *Store) Insert(_ context.Context, item crawler.QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.queue[item.ID]; exists {
		return fmt.Errorf("queue item %s already exists", item.ID)
	}
	s.seq++
	s.queue[item.ID] = &queueRow{item: item, seq: s.seq}
	return nil
}

// ClaimNext selects the highest-priority, oldest ready item and locks it.
func (s *Store) ClaimNext(_ context.Context, workerID, source string, now time.Time) (*crawler.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *queueRow
	for _, row := range s.queue {
		if !row.item.IsReadyForProcessing(now) {
			continue
		}
		if source != "" && crawler.NormalizeSourceName(row.item.Source) != source {
			continue
		}
		if best == nil || claimsBefore(row, best) {
			best = row
		}
	}
	if best == nil {
		return nil, nil
	}
	worker := workerID
	lockedAt := now
	best.item.Status = crawler.QueueStatusProcessing
	best.item.LockedBy = &worker
	best.item.LockedAt = &lockedAt
	best.item.StartedAt = &lockedAt
	best.item.UpdatedAt = now
	out := best.item
	return &out, nil
}

func claimsBefore(a, b *queueRow) bool {
	if a.item.Priority != b.item.Priority {
		return a.item.Priority > b.item.Priority
	}
	if !a.item.CreatedAt.Equal(b.item.CreatedAt) {
		return a.item.CreatedAt.Before(b.item.CreatedAt)
	}
	return a.seq < b.seq
}

// Get returns a queue item by id.
func (s *Store) Get(_ context.Context, id string) (crawler.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.queue[id]
	if !ok {
		return crawler.QueueItem{}, crawler.ErrNotFound
	}
	return row.item, nil
}

func (s *Store) mutate(id string, now time.Time, fn func(*crawler.QueueItem)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.queue[id]
	if !ok {
		return crawler.ErrNotFound
	}
	fn(&row.item)
	row.item.UpdatedAt = now
	return nil
}

// MarkCompleted sets the item completed and clears its lock.
func (s *Store) MarkCompleted(_ context.Context, id string, now time.Time) error {
	return s.mutate(id, now, func(item *crawler.QueueItem) {
		item.Status = crawler.QueueStatusCompleted
		item.LockedBy = nil
		item.LockedAt = nil
	})
}

// MarkFailed sets the item failed and clears its lock.
func (s *Store) MarkFailed(_ context.Context, id string, errMsg string, now time.Time) error {
	return s.mutate(id, now, func(item *crawler.QueueItem) {
		item.Status = crawler.QueueStatusFailed
		item.ErrorMessage = errMsg
		item.LockedBy = nil
		item.LockedAt = nil
	})
}

// MarkRetrying records a retry and defers the item until scheduledFor.
func (s *Store) MarkRetrying(
	_ context.Context,
	id string,
	retryCount int,
	scheduledFor time.Time,
	errMsg string,
	now time.Time,
) error {
	return s.mutate(id, now, func(item *crawler.QueueItem) {
		due := scheduledFor
		item.Status = crawler.QueueStatusRetrying
		item.RetryCount = retryCount
		item.ScheduledFor = &due
		item.ErrorMessage = errMsg
		item.LockedBy = nil
		item.LockedAt = nil
	})
}

// Release returns a processing item to pending.
func (s *Store) Release(_ context.Context, id string, now time.Time) error {
	return s.mutate(id, now, func(item *crawler.QueueItem) {
		if item.Status == crawler.QueueStatusProcessing {
			item.Status = crawler.QueueStatusPending
		}
		item.LockedBy = nil
		item.LockedAt = nil
	})
}

// Cancel marks pending or retrying items cancelled.
func (s *Store) Cancel(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.queue[id]
	if !ok {
		return crawler.ErrNotFound
	}
	if row.item.Status != crawler.QueueStatusPending && row.item.Status != crawler.QueueStatusRetrying {
		return fmt.Errorf("cannot cancel item in status %s", row.item.Status)
	}
	row.item.Status = crawler.QueueStatusCancelled
	row.item.UpdatedAt = now
	return nil
}

// PromoteDueRetries moves due retrying items back to pending.
func (s *Store) PromoteDueRetries(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, row := range s.queue {
		item := &row.item
		if item.Status != crawler.QueueStatusRetrying {
			continue
		}
		if item.ScheduledFor != nil && item.ScheduledFor.After(now) {
			continue
		}
		item.Status = crawler.QueueStatusPending
		item.UpdatedAt = now
		n++
	}
	return n, nil
}

// ReleaseExpired unlocks processing items locked before lockedBefore.
func (s *Store) ReleaseExpired(_ context.Context, lockedBefore time.Time, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, row := range s.queue {
		item := &row.item
		if item.Status != crawler.QueueStatusProcessing || item.LockedAt == nil {
			continue
		}
		if !item.LockedAt.Before(lockedBefore) {
			continue
		}
		item.Status = crawler.QueueStatusPending
		item.LockedBy = nil
		item.LockedAt = nil
		item.UpdatedAt = now
		n++
	}
	return n, nil
}

// HasOpenItem reports pending, processing or retrying work for a series.
func (s *Store) HasOpenItem(_ context.Context, source, externalID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	source = crawler.NormalizeSourceName(source)
	for _, row := range s.queue {
		item := row.item
		if crawler.NormalizeSourceName(item.Source) != source || item.ExternalSeriesID != externalID {
			continue
		}
		switch item.Status {
		case crawler.QueueStatusPending, crawler.QueueStatusProcessing, crawler.QueueStatusRetrying:
			return true, nil
		}
	}
	return false, nil
}

// Statistics summarises the queue.
func (s *Store) Statistics(_ context.Context) (crawler.QueueStatistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stats crawler.QueueStatistics
	var procSum float64
	var procN int
	for _, row := range s.queue {
		item := row.item
		stats.TotalItems++
		switch item.Status {
		case crawler.QueueStatusPending:
			stats.PendingItems++
			if stats.OldestPending == nil || item.CreatedAt.Before(*stats.OldestPending) {
				created := item.CreatedAt
				stats.OldestPending = &created
			}
		case crawler.QueueStatusProcessing:
			stats.ProcessingItems++
		case crawler.QueueStatusCompleted:
			stats.CompletedItems++
			if item.StartedAt != nil {
				procSum += item.UpdatedAt.Sub(*item.StartedAt).Seconds()
				procN++
			}
		case crawler.QueueStatusFailed:
			stats.FailedItems++
		case crawler.QueueStatusRetrying:
			stats.RetryingItems++
		case crawler.QueueStatusCancelled:
			stats.CancelledItems++
		}
	}
	if procN > 0 {
		avg := procSum / float64(procN)
		stats.AvgProcessingSeconds = &avg
	}
	return stats, nil
}

// Items returns a snapshot of the queue ordered by claim order.
func (s *Store) Items() []crawler.QueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]*queueRow, 0, len(s.queue))
	for _, row := range s.queue {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return claimsBefore(rows[i], rows[j]) })
	out := make([]crawler.QueueItem, len(rows))
	for i, row := range rows {
		out[i] = row.item
	}
	return out
}
