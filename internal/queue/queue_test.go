package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/econ-series-crawler/internal/crawler"
	"github.com/JakeFAU/econ-series-crawler/internal/storage/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("item-%03d", g.n), nil
}

func newTestQueue(t *testing.T) (*Queue, *memory.Store, *fakeClock) {
	t.Helper()
	store := memory.NewStore()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	q := New(store, zap.NewNop(), WithClock(clock), WithIDGenerator(&seqIDs{}))
	return q, store, clock
}

func intPtr(v int) *int { return &v }

func TestValidate(t *testing.T) {
	t.Parallel()

	long := func(n int) string {
		b := make([]byte, n)
		for i := range b {
			b[i] = 'x'
		}
		return string(b)
	}
	valid := crawler.NewQueueItem{Source: "FRED", ExternalSeriesID: "GDP", Priority: crawler.PriorityNormal}

	cases := []struct {
		name    string
		mutate  func(*crawler.NewQueueItem)
		wantErr bool
	}{
		{"valid", func(*crawler.NewQueueItem) {}, false},
		{"empty source", func(i *crawler.NewQueueItem) { i.Source = "  " }, true},
		{"source at limit", func(i *crawler.NewQueueItem) { i.Source = long(50) }, false},
		{"source too long", func(i *crawler.NewQueueItem) { i.Source = long(51) }, true},
		{"empty external id", func(i *crawler.NewQueueItem) { i.ExternalSeriesID = "" }, true},
		{"external id at limit", func(i *crawler.NewQueueItem) { i.ExternalSeriesID = long(255) }, false},
		{"external id too long", func(i *crawler.NewQueueItem) { i.ExternalSeriesID = long(256) }, true},
		{"priority zero", func(i *crawler.NewQueueItem) { i.Priority = 0 }, true},
		{"priority eleven", func(i *crawler.NewQueueItem) { i.Priority = 11 }, true},
		{"priority critical", func(i *crawler.NewQueueItem) { i.Priority = crawler.PriorityCritical }, false},
		{"max retries negative", func(i *crawler.NewQueueItem) { i.MaxRetries = intPtr(-1) }, true},
		{"max retries ten", func(i *crawler.NewQueueItem) { i.MaxRetries = intPtr(10) }, false},
		{"max retries eleven", func(i *crawler.NewQueueItem) { i.MaxRetries = intPtr(11) }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			in := valid
			tc.mutate(&in)
			err := Validate(in)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidQueueItem)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestQueue_EnqueueRejectsInvalidWithoutStoring(t *testing.T) {
	t.Parallel()

	q, store, _ := newTestQueue(t)
	_, err := q.Enqueue(context.Background(), crawler.NewQueueItem{Source: "", ExternalSeriesID: "X", Priority: 5})
	require.ErrorIs(t, err, ErrInvalidQueueItem)
	require.Empty(t, store.Items())
}

func TestQueue_ColdStart(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, _, _ := newTestQueue(t)

	stats, err := q.Statistics(ctx)
	require.NoError(t, err)
	require.Equal(t, crawler.QueueStatistics{}, stats)

	item, err := q.Enqueue(ctx, crawler.NewQueueItem{
		Source: "FRED", ExternalSeriesID: "UNRATE", Priority: crawler.PriorityNormal,
	})
	require.NoError(t, err)
	require.Equal(t, crawler.DefaultMaxRetries, item.MaxRetries)

	stats, err = q.Statistics(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.PendingItems)
	require.EqualValues(t, 1, stats.TotalItems)
	require.NotNil(t, stats.OldestPending)

	claimed, err := q.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, item.ID, claimed.ID)
	require.Equal(t, crawler.QueueStatusProcessing, claimed.Status)
	require.NotNil(t, claimed.LockedBy)
	require.Equal(t, "worker-1", *claimed.LockedBy)
	require.NotNil(t, claimed.LockedAt)

	again, err := q.ClaimNext(ctx, "worker-2")
	require.NoError(t, err)
	require.Nil(t, again)
}

func TestQueue_PriorityOrdering(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, _, clock := newTestQueue(t)

	var ids []string
	for i, p := range []crawler.QueuePriority{3, 8, 8, 1} {
		item, err := q.Enqueue(ctx, crawler.NewQueueItem{
			Source: "BLS", ExternalSeriesID: fmt.Sprintf("S%d", i), Priority: p,
		})
		require.NoError(t, err)
		ids = append(ids, item.ID)
		clock.Advance(time.Second)
	}

	var got []string
	for {
		item, err := q.ClaimNext(ctx, "w")
		require.NoError(t, err)
		if item == nil {
			break
		}
		got = append(got, item.ID)
	}
	require.Equal(t, []string{ids[1], ids[2], ids[0], ids[3]}, got)
}

func TestQueue_ScheduledItemsWaitUntilDue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, _, clock := newTestQueue(t)
	later := clock.Now().Add(10 * time.Minute)
	_, err := q.Enqueue(ctx, crawler.NewQueueItem{
		Source: "ECB", ExternalSeriesID: "ICP", Priority: 10, ScheduledFor: &later,
	})
	require.NoError(t, err)

	item, err := q.ClaimNext(ctx, "w")
	require.NoError(t, err)
	require.Nil(t, item)

	clock.Advance(10 * time.Minute)
	item, err = q.ClaimNext(ctx, "w")
	require.NoError(t, err)
	require.NotNil(t, item)
}

func TestQueue_ConcurrentClaimsAreExclusive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, _, _ := newTestQueue(t)
	const items = 50
	for i := 0; i < items; i++ {
		_, err := q.Enqueue(ctx, crawler.NewQueueItem{
			Source: "FRED", ExternalSeriesID: fmt.Sprintf("S%d", i), Priority: crawler.QueuePriority(1 + i%10),
		})
		require.NoError(t, err)
	}

	var (
		mu      sync.Mutex
		claimed = map[string]string{}
		wg      sync.WaitGroup
		dupes   []string
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			for {
				item, err := q.ClaimNext(ctx, worker)
				if err != nil || item == nil {
					return
				}
				mu.Lock()
				if prev, ok := claimed[item.ID]; ok {
					dupes = append(dupes, item.ID+" by "+prev+" and "+worker)
				}
				claimed[item.ID] = worker
				mu.Unlock()
			}
		}(fmt.Sprintf("worker-%d", w))
	}
	wg.Wait()

	require.Empty(t, dupes)
	require.Len(t, claimed, items)
}

// conflictStore loses the claim race a fixed number of times before delegating.
type conflictStore struct {
	crawler.QueueStore
	mu        sync.Mutex
	conflicts int
	calls     int
}

func (s *conflictStore) ClaimNext(ctx context.Context, workerID, source string, now time.Time) (*crawler.QueueItem, error) {
	s.mu.Lock()
	s.calls++
	lose := s.conflicts > 0
	if lose {
		s.conflicts--
	}
	s.mu.Unlock()
	if lose {
		return nil, crawler.ErrClaimConflict
	}
	return s.QueueStore.ClaimNext(ctx, workerID, source, now)
}

func TestQueue_ClaimRetriesLostRace(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := memory.NewStore()
	store := &conflictStore{QueueStore: mem, conflicts: 2}
	q := New(store, zap.NewNop())
	_, err := q.Enqueue(ctx, crawler.NewQueueItem{Source: "FRED", ExternalSeriesID: "GDP", Priority: 5})
	require.NoError(t, err)

	item, err := q.ClaimNext(ctx, "w")
	require.NoError(t, err)
	require.NotNil(t, item)
	require.Equal(t, 3, store.calls)
}

func TestQueue_ClaimGivesUpQuietlyWhenContended(t *testing.T) {
	t.Parallel()

	store := &conflictStore{QueueStore: memory.NewStore(), conflicts: 100}
	q := New(store, zap.NewNop(), WithClaimAttempts(3))

	item, err := q.ClaimNext(context.Background(), "w")
	require.NoError(t, err)
	require.Nil(t, item)
	require.Equal(t, 3, store.calls)
}

type brokenStore struct {
	crawler.QueueStore
}

func (brokenStore) ClaimNext(context.Context, string, string, time.Time) (*crawler.QueueItem, error) {
	return nil, errors.New("connection reset")
}

func TestQueue_ClaimPropagatesStorageErrors(t *testing.T) {
	t.Parallel()

	q := New(brokenStore{}, zap.NewNop())
	_, err := q.ClaimNext(context.Background(), "w")
	require.Error(t, err)
	require.Contains(t, err.Error(), "connection reset")

	_, err = q.ClaimNext(context.Background(), " ")
	require.Error(t, err)
}

func TestQueue_FailRetriesWithBackoffThenFailsTerminally(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, store, clock := newTestQueue(t)
	_, err := q.Enqueue(ctx, crawler.NewQueueItem{
		Source: "FRED", ExternalSeriesID: "CPIAUCSL", Priority: 5, MaxRetries: intPtr(2),
	})
	require.NoError(t, err)

	for round := 1; round <= 2; round++ {
		item, err := q.ClaimNext(ctx, "w")
		require.NoError(t, err)
		require.NotNil(t, item, "round %d", round)

		status, err := q.Fail(ctx, *item, "boom")
		require.NoError(t, err)
		require.Equal(t, crawler.QueueStatusRetrying, status)

		stored, err := q.Get(ctx, item.ID)
		require.NoError(t, err)
		require.Equal(t, round, stored.RetryCount)
		require.Nil(t, stored.LockedBy)
		require.NotNil(t, stored.ScheduledFor)
		require.Equal(t, clock.Now().Add(crawler.RetryDelay(round)), *stored.ScheduledFor)

		promoted, err := q.PromoteDueRetries(ctx)
		require.NoError(t, err)
		require.Zero(t, promoted)

		clock.Advance(crawler.RetryDelay(round))
		promoted, err = q.PromoteDueRetries(ctx)
		require.NoError(t, err)
		require.EqualValues(t, 1, promoted)
	}

	item, err := q.ClaimNext(ctx, "w")
	require.NoError(t, err)
	require.NotNil(t, item)
	status, err := q.Fail(ctx, *item, "still broken")
	require.NoError(t, err)
	require.Equal(t, crawler.QueueStatusFailed, status)

	final := store.Items()[0]
	require.Equal(t, crawler.QueueStatusFailed, final.Status)
	require.Equal(t, "still broken", final.ErrorMessage)
	require.Nil(t, final.LockedBy)
}

func TestQueue_FailWithExhaustedRetriesIsTerminal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, store, _ := newTestQueue(t)
	item := crawler.QueueItem{
		ID: "exhausted", Source: "BLS", ExternalSeriesID: "X", Priority: 5,
		Status: crawler.QueueStatusProcessing, RetryCount: 3, MaxRetries: 3,
	}
	require.NoError(t, store.Insert(ctx, item))

	status, err := q.Fail(ctx, item, "gave up")
	require.NoError(t, err)
	require.Equal(t, crawler.QueueStatusFailed, status)

	stored, err := q.Get(ctx, "exhausted")
	require.NoError(t, err)
	require.Equal(t, crawler.QueueStatusFailed, stored.Status)
	require.Equal(t, 3, stored.RetryCount)
}

func TestQueue_MarkCompletedAndStatistics(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, _, clock := newTestQueue(t)
	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(ctx, crawler.NewQueueItem{Source: "FRED", ExternalSeriesID: fmt.Sprintf("S%d", i), Priority: 5})
		require.NoError(t, err)
	}

	item, err := q.ClaimNext(ctx, "w")
	require.NoError(t, err)
	clock.Advance(4 * time.Second)
	require.NoError(t, q.MarkCompleted(ctx, item.ID))

	second, err := q.ClaimNext(ctx, "w")
	require.NoError(t, err)
	require.NotNil(t, second)

	stats, err := q.Statistics(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, stats.TotalItems)
	require.EqualValues(t, 1, stats.PendingItems)
	require.EqualValues(t, 1, stats.ProcessingItems)
	require.EqualValues(t, 1, stats.CompletedItems)
	require.NotNil(t, stats.AvgProcessingSeconds)
	require.InDelta(t, 4.0, *stats.AvgProcessingSeconds, 1e-9)

	completed, err := q.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Nil(t, completed.LockedBy)
	require.Nil(t, completed.LockedAt)
}

func TestQueue_ReleaseExpired(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, _, clock := newTestQueue(t)
	_, err := q.Enqueue(ctx, crawler.NewQueueItem{Source: "FRED", ExternalSeriesID: "A", Priority: 5})
	require.NoError(t, err)
	stuck, err := q.ClaimNext(ctx, "crashed-worker")
	require.NoError(t, err)
	require.NotNil(t, stuck)

	clock.Advance(10 * time.Minute)
	n, err := q.ReleaseExpired(ctx, 30*time.Minute)
	require.NoError(t, err)
	require.Zero(t, n)

	clock.Advance(25 * time.Minute)
	n, err = q.ReleaseExpired(ctx, 30*time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	again, err := q.ClaimNext(ctx, "healthy-worker")
	require.NoError(t, err)
	require.NotNil(t, again)
	require.Equal(t, stuck.ID, again.ID)
	require.Equal(t, "healthy-worker", *again.LockedBy)

	_, err = q.ReleaseExpired(ctx, 0)
	require.Error(t, err)
}

func TestQueue_ReleaseAndCancel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, _, _ := newTestQueue(t)
	a, err := q.Enqueue(ctx, crawler.NewQueueItem{Source: "FRED", ExternalSeriesID: "A", Priority: 5})
	require.NoError(t, err)
	b, err := q.Enqueue(ctx, crawler.NewQueueItem{Source: "FRED", ExternalSeriesID: "B", Priority: 1})
	require.NoError(t, err)

	open, err := q.HasOpenItem(ctx, "FRED", "A")
	require.NoError(t, err)
	require.True(t, open)

	claimed, err := q.ClaimNext(ctx, "w")
	require.NoError(t, err)
	require.Equal(t, a.ID, claimed.ID)
	require.NoError(t, q.Release(ctx, a.ID))

	released, err := q.Get(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.QueueStatusPending, released.Status)
	require.Equal(t, 0, released.RetryCount)

	require.NoError(t, q.Cancel(ctx, b.ID))
	open, err = q.HasOpenItem(ctx, "FRED", "B")
	require.NoError(t, err)
	require.False(t, open)

	require.NoError(t, q.MarkFailed(ctx, a.ID, "manual"))
	require.Error(t, q.Cancel(ctx, a.ID))
}

func TestQueue_SourceNamesAreNormalised(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := New(memory.NewStore(), zap.NewNop())
	item, err := q.Enqueue(ctx, crawler.NewQueueItem{Source: " FRED ", ExternalSeriesID: "GDP", Priority: 5})
	require.NoError(t, err)
	require.Equal(t, "fred", item.Source)

	for _, name := range []string{"fred", "FRED", "Fred"} {
		open, err := q.HasOpenItem(ctx, name, "GDP")
		require.NoError(t, err)
		require.True(t, open, name)
	}

	_, err = q.Enqueue(ctx, crawler.NewQueueItem{Source: "World Bank", ExternalSeriesID: "SP.POP.TOTL", Priority: 5})
	require.NoError(t, err)
	open, err := q.HasOpenItem(ctx, "world_bank", "SP.POP.TOTL")
	require.NoError(t, err)
	require.True(t, open)
}

func TestQueue_ClaimNextFromFiltersBySource(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := New(memory.NewStore(), zap.NewNop())
	_, err := q.Enqueue(ctx, crawler.NewQueueItem{Source: "fred", ExternalSeriesID: "GDP", Priority: 9})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, crawler.NewQueueItem{Source: "World Bank", ExternalSeriesID: "NY.GDP.MKTP.CD", Priority: 2})
	require.NoError(t, err)

	item, err := q.ClaimNextFrom(ctx, "w", "world_bank")
	require.NoError(t, err)
	require.NotNil(t, item)
	require.Equal(t, "NY.GDP.MKTP.CD", item.ExternalSeriesID)

	none, err := q.ClaimNextFrom(ctx, "w", "world_bank")
	require.NoError(t, err)
	require.Nil(t, none)

	rest, err := q.ClaimNext(ctx, "w")
	require.NoError(t, err)
	require.Equal(t, "GDP", rest.ExternalSeriesID)
}
