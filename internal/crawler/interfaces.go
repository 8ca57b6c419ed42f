package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// QueueStore persists crawl queue items. Implementations must make ClaimNext
// atomic across processes.
type QueueStore interface {
	Insert(ctx context.Context, item QueueItem) error
	// ClaimNext locks the next ready item for workerID, restricted to source
	// unless it is empty. It returns nil, nil when nothing is ready and
	// ErrClaimConflict when another worker won the row.
	ClaimNext(ctx context.Context, workerID, source string, now time.Time) (*QueueItem, error)
	Get(ctx context.Context, id string) (QueueItem, error)
	MarkCompleted(ctx context.Context, id string, now time.Time) error
	MarkFailed(ctx context.Context, id string, errMsg string, now time.Time) error
	MarkRetrying(ctx context.Context, id string, retryCount int, scheduledFor time.Time, errMsg string, now time.Time) error
	Release(ctx context.Context, id string, now time.Time) error
	Cancel(ctx context.Context, id string, now time.Time) error
	PromoteDueRetries(ctx context.Context, now time.Time) (int64, error)
	ReleaseExpired(ctx context.Context, lockedBefore time.Time, now time.Time) (int64, error)
	HasOpenItem(ctx context.Context, source, externalID string) (bool, error)
	Statistics(ctx context.Context) (QueueStatistics, error)
}

// CatalogStore persists discovered series.
type CatalogStore interface {
	// UpsertSeries refreshes metadata for an existing (source, external id) or
	// creates the row. created is true when a new row was inserted.
	UpsertSeries(ctx context.Context, sourceID string, info SeriesInfo, now time.Time) (series CatalogSeries, created bool, err error)
	GetSeries(ctx context.Context, id string) (CatalogSeries, error)
	FindSeries(ctx context.Context, sourceID, externalID string) (CatalogSeries, error)
	ListCrawlCandidates(ctx context.Context, sourceID string) ([]CrawlCandidate, error)
	UpdateSeriesCrawlStatus(ctx context.Context, id string, status SeriesCrawlStatus, errMsg string, at time.Time) error
	CountSeries(ctx context.Context) (int64, error)
}

// AttemptStore persists crawl attempts.
type AttemptStore interface {
	CreateAttempt(ctx context.Context, attempt CrawlAttempt) error
	CompleteAttempt(ctx context.Context, id string, outcome AttemptOutcome) error
	ListAttemptsSince(ctx context.Context, seriesID string, since time.Time) ([]CrawlAttempt, error)
}

// DataPointStore persists observations.
type DataPointStore interface {
	DataPointExists(ctx context.Context, seriesID string, date time.Time) (bool, error)
	InsertDataPoint(ctx context.Context, point DataPoint) error
}

// SourceStore reads and updates provider configuration.
type SourceStore interface {
	EnsureDefaultSources(ctx context.Context, defaults []DataSource, now time.Time) error
	ListSources(ctx context.Context) ([]DataSource, error)
	GetSourceByName(ctx context.Context, name string) (DataSource, error)
	UpdateSourceCrawlStatus(ctx context.Context, update SourceStatusUpdate) error
}

// Store bundles every persistence contract the crawler needs.
type Store interface {
	QueueStore
	CatalogStore
	AttemptStore
	DataPointStore
	SourceStore
	Ping(ctx context.Context) error
	Close()
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes crawl events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher digests raw provider payloads.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// IDGenerator produces row identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// UUIDGenerator creates time-ordered UUID v7 strings.
type UUIDGenerator struct{}

// NewID returns a UUID v7 string.
func (UUIDGenerator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}
