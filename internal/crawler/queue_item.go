package crawler

import "time"

// QueueStatus represents the lifecycle state of a queue item.
type QueueStatus string

// Queue statuses persisted in crawl_queue.status.
const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusCompleted  QueueStatus = "completed"
	QueueStatusFailed     QueueStatus = "failed"
	QueueStatusRetrying   QueueStatus = "retrying"
	QueueStatusCancelled  QueueStatus = "cancelled"
)

// Valid reports whether s is a known queue status.
func (s QueueStatus) Valid() bool {
	switch s {
	case QueueStatusPending, QueueStatusProcessing, QueueStatusCompleted,
		QueueStatusFailed, QueueStatusRetrying, QueueStatusCancelled:
		return true
	}
	return false
}

// QueuePriority orders items; higher values are claimed first.
type QueuePriority int

// Named priority levels.
const (
	PriorityLow      QueuePriority = 1
	PriorityNormal   QueuePriority = 5
	PriorityHigh     QueuePriority = 8
	PriorityCritical QueuePriority = 10
)

// Queue field limits enforced at enqueue time.
const (
	MaxSourceLength     = 50
	MaxExternalIDLength = 255
	MinPriority         = 1
	MaxPriority         = 10
	MaxRetriesLimit     = 10
	DefaultMaxRetries   = 3
)

// QueueItem is a unit of crawl work for one (source, external series) pair.
type QueueItem struct {
	ID               string        `json:"id"`
	Source           string        `json:"source"`
	ExternalSeriesID string        `json:"external_series_id"`
	SeriesID         *string       `json:"series_id,omitempty"`
	Priority         QueuePriority `json:"priority"`
	Status           QueueStatus   `json:"status"`
	RetryCount       int           `json:"retry_count"`
	MaxRetries       int           `json:"max_retries"`
	ErrorMessage     string        `json:"error_message,omitempty"`
	// ScheduledFor is a not-before time; nil means due immediately.
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	// LockedBy and LockedAt are set only while a worker holds the item.
	LockedBy  *string    `json:"locked_by,omitempty"`
	LockedAt  *time.Time `json:"locked_at,omitempty"`
	// StartedAt survives completion so processing time can be measured
	// after the lock fields are cleared.
	StartedAt *time.Time `json:"started_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// NewQueueItem carries the caller-supplied fields for an enqueue.
type NewQueueItem struct {
	Source           string
	ExternalSeriesID string
	SeriesID         *string
	Priority         QueuePriority
	MaxRetries       *int
	ScheduledFor     *time.Time
}

// IsReadyForProcessing reports whether the item may be claimed at now.
func (q QueueItem) IsReadyForProcessing(now time.Time) bool {
	if q.Status != QueueStatusPending || q.LockedBy != nil {
		return false
	}
	return q.ScheduledFor == nil || !q.ScheduledFor.After(now)
}

// CanRetry reports whether a failed or retrying item has retries left.
func (q QueueItem) CanRetry() bool {
	if q.RetryCount >= q.MaxRetries {
		return false
	}
	return q.Status == QueueStatusFailed || q.Status == QueueStatusRetrying
}

// QueueStatistics summarises the queue for monitoring.
type QueueStatistics struct {
	TotalItems      int64      `json:"total_items"`
	PendingItems    int64      `json:"pending_items"`
	ProcessingItems int64      `json:"processing_items"`
	CompletedItems  int64      `json:"completed_items"`
	FailedItems     int64      `json:"failed_items"`
	RetryingItems   int64      `json:"retrying_items"`
	CancelledItems  int64      `json:"cancelled_items"`
	OldestPending   *time.Time `json:"oldest_pending_item,omitempty"`
	// AvgProcessingSeconds is nil when no item has completed yet.
	AvgProcessingSeconds *float64 `json:"average_processing_time_seconds,omitempty"`
}
