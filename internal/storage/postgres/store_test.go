package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/econ-series-crawler/internal/crawler"
)

type fixedIDs struct{ id string }

func (f fixedIDs) NewID() (string, error) { return f.id, nil }

var queueCols = []string{
	"id", "source", "external_id", "series_id", "priority", "status", "retry_count", "max_retries",
	"error_message", "scheduled_for", "locked_by", "locked_at", "started_at", "created_at", "updated_at",
}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock, fixedIDs{id: "row-1"})
	require.NoError(t, err)
	return store, mock
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()
	_, err := NewWithPool(nil, nil)
	require.Error(t, err)
}

func TestClaimNextLocksReadyItem(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	worker := "worker-a"
	created := now.Add(-time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id::text FROM crawl_queue").
		WithArgs(now, "").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("item-1"))
	mock.ExpectQuery("UPDATE crawl_queue").
		WithArgs(worker, now, "item-1").
		WillReturnRows(pgxmock.NewRows(queueCols).AddRow(
			"item-1", "fred", "GDP", nil, 8, "processing", 0, 3,
			"", nil, &worker, &now, &now, created, now,
		))
	mock.ExpectCommit()

	item, err := store.ClaimNext(context.Background(), worker, "", now)
	require.NoError(t, err)
	require.NotNil(t, item)
	require.Equal(t, "item-1", item.ID)
	require.Equal(t, crawler.QueuePriority(8), item.Priority)
	require.Equal(t, crawler.QueueStatusProcessing, item.Status)
	require.Equal(t, worker, *item.LockedBy)
	require.Nil(t, item.SeriesID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNextEmptyQueue(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id::text FROM crawl_queue").
		WithArgs(now, "").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	item, err := store.ClaimNext(context.Background(), "worker-a", "", now)
	require.NoError(t, err)
	require.Nil(t, item)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNextReportsConflict(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id::text FROM crawl_queue").
		WithArgs(now, "").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("item-1"))
	mock.ExpectQuery("UPDATE crawl_queue").
		WithArgs("worker-a", now, "item-1").
		WillReturnRows(pgxmock.NewRows(queueCols))
	mock.ExpectRollback()

	item, err := store.ClaimNext(context.Background(), "worker-a", "", now)
	require.ErrorIs(t, err, crawler.ErrClaimConflict)
	require.Nil(t, item)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNextPropagatesBeginError(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	_, err := store.ClaimNext(context.Background(), "worker-a", "", time.Now())
	require.ErrorContains(t, err, "begin claim")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertQueueItem(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	item := crawler.QueueItem{
		ID:               "item-1",
		Source:           "fred",
		ExternalSeriesID: "UNRATE",
		Priority:         crawler.PriorityNormal,
		Status:           crawler.QueueStatusPending,
		MaxRetries:       3,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	mock.ExpectExec("INSERT INTO crawl_queue").
		WithArgs("item-1", "fred", "UNRATE", item.SeriesID, 5, "pending", 0, 3, item.ScheduledFor, now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Insert(context.Background(), item))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRetryingMissingRow(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	due := now.Add(2 * time.Minute)

	mock.ExpectExec("UPDATE crawl_queue").
		WithArgs("missing", 1, due, "boom", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.MarkRetrying(context.Background(), "missing", 1, due, "boom", now)
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPromoteDueRetriesReturnsCount(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE crawl_queue SET status = 'pending'").
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 4))

	n, err := store.PromoteDueRetries(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, int64(4), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatisticsScansAggregates(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	oldest := time.Unix(1700000000, 0).UTC()
	avg := 4.5

	mock.ExpectQuery("FROM crawl_queue").
		WillReturnRows(pgxmock.NewRows([]string{
			"total", "pending", "processing", "completed", "failed", "retrying", "cancelled", "oldest", "avg",
		}).AddRow(int64(10), int64(4), int64(1), int64(3), int64(1), int64(1), int64(0), &oldest, &avg))

	stats, err := store.Statistics(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(10), stats.TotalItems)
	require.Equal(t, int64(4), stats.PendingItems)
	require.Equal(t, int64(3), stats.CompletedItems)
	require.NotNil(t, stats.AvgProcessingSeconds)
	require.InDelta(t, 4.5, *stats.AvgProcessingSeconds, 1e-9)
	require.Equal(t, oldest, *stats.OldestPending)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckSchemaReportsMissingTables(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	for _, table := range RequiredTables {
		exists := table != "crawl_queue"
		mock.ExpectQuery("SELECT to_regclass").
			WithArgs(table).
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(exists))
	}

	err := store.CheckSchema(context.Background())
	require.ErrorIs(t, err, ErrSchemaMissing)
	require.ErrorContains(t, err, "crawl_queue")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSourceByNameNormalisesInput(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery("FROM data_sources d").
		WithArgs("worldbank").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err := store.GetSourceByName(context.Background(), "World_Bank")
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHasOpenItemNormalisesSource(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery("FROM crawl_queue").
		WithArgs("fred", "GDP").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	open, err := store.HasOpenItem(context.Background(), "FRED", "GDP")
	require.NoError(t, err)
	require.True(t, open)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertDataPointIgnoresDuplicates(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	point := crawler.DataPoint{
		SeriesID:          "series-1",
		Date:              day,
		Value:             3.7,
		RevisionDate:      day,
		IsOriginalRelease: true,
		CreatedAt:         day,
	}

	mock.ExpectExec("ON CONFLICT \\(series_id, date, revision_date\\) DO NOTHING").
		WithArgs("series-1", day, 3.7, day, true, day).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	require.NoError(t, store.InsertDataPoint(context.Background(), point))
	require.NoError(t, mock.ExpectationsWereMet())
}
