package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/econ-series-crawler/internal/crawler"
)

// TestClaimNextConcurrentWorkersLive runs against a real database when
// ECONCRAWL_TEST_DSN is set. Each item must be claimed by exactly one worker.
func TestClaimNextConcurrentWorkersLive(t *testing.T) {
	dsn := os.Getenv("ECONCRAWL_TEST_DSN")
	if dsn == "" {
		t.Skip("ECONCRAWL_TEST_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	store, err := New(ctx, Config{DSN: dsn, MaxConns: 16})
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Migrate(ctx))

	source := fmt.Sprintf("live%d", time.Now().UnixNano()%1_000_000)
	now := time.Now().UTC().Add(-time.Second)
	const items = 40
	for i := 0; i < items; i++ {
		id, err := crawler.UUIDGenerator{}.NewID()
		require.NoError(t, err)
		require.NoError(t, store.Insert(ctx, crawler.QueueItem{
			ID:               id,
			Source:           source,
			ExternalSeriesID: fmt.Sprintf("S%d", i),
			Priority:         crawler.PriorityCritical,
			Status:           crawler.QueueStatusPending,
			MaxRetries:       crawler.DefaultMaxRetries,
			CreatedAt:        now,
			UpdatedAt:        now,
		}))
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]string)
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			for {
				item, err := store.ClaimNext(ctx, worker, "", time.Now().UTC())
				if errors.Is(err, crawler.ErrClaimConflict) {
					continue
				}
				if err != nil || item == nil {
					return
				}
				mu.Lock()
				if prev, dup := seen[item.ID]; dup {
					t.Errorf("item %s claimed by %s and %s", item.ID, prev, worker)
				}
				seen[item.ID] = worker
				mu.Unlock()
				_ = store.MarkCompleted(ctx, item.ID, time.Now().UTC())
			}
		}(fmt.Sprintf("worker-%d", w))
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(seen), items)
}
