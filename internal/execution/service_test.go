package execution

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/econ-series-crawler/internal/crawler"
	pubmemory "github.com/JakeFAU/econ-series-crawler/internal/publisher/memory"
	"github.com/JakeFAU/econ-series-crawler/internal/ratelimit"
	"github.com/JakeFAU/econ-series-crawler/internal/sources"
	"github.com/JakeFAU/econ-series-crawler/internal/storage/memory"
)

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

type stubFetcher struct {
	result sources.FetchResult
	err    error
	calls  int
}

func (f *stubFetcher) FetchObservations(context.Context, string) (sources.FetchResult, error) {
	f.calls++
	return f.result, f.err
}

type stubRegistry struct {
	fetchers map[string]sources.Fetcher
	err      error
}

func (r stubRegistry) Fetcher(name string) (sources.Fetcher, error) {
	if r.err != nil {
		return nil, r.err
	}
	f, ok := r.fetchers[crawler.NormalizeSourceName(name)]
	if !ok {
		return nil, sources.ErrUnsupportedSource
	}
	return f, nil
}

type fixture struct {
	store  *memory.Store
	clock  *fixedClock
	series crawler.CatalogSeries
	ref    crawler.SeriesRef
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memory.NewStore()
	clock := &fixedClock{now: time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)}
	src := store.PutSource(crawler.DataSource{Name: "FRED", IsEnabled: true, IsVisible: true, RateLimitPerMinute: 6000})
	series, _, err := store.UpsertSeries(context.Background(), src.ID, crawler.SeriesInfo{ExternalID: "GDP", Title: "GDP"}, clock.now)
	require.NoError(t, err)
	return fixture{
		store:  store,
		clock:  clock,
		series: series,
		ref:    crawler.SeriesRef{SeriesID: series.ID, ExternalID: "GDP", Source: "fred"},
	}
}

func (f fixture) service(fetcher sources.Fetcher, opts ...Option) *Service {
	reg := stubRegistry{fetchers: map[string]sources.Fetcher{"fred": fetcher}}
	limiters := ratelimit.NewRegistry(ratelimit.Config{Preset: ratelimit.PresetAggressive}, zap.NewNop())
	opts = append([]Option{WithClock(f.clock)}, opts...)
	return New(f.store, reg, limiters, zap.NewNop(), Config{EventsTopic: "crawl-events"}, opts...)
}

func TestCrawlSeriesStoresNewPoints(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fetcher := &stubFetcher{result: sources.FetchResult{
		URL:        "https://api.example/series/observations",
		StatusCode: 200,
		Body:       []byte(`{"observations":[]}`),
		Observations: []crawler.Observation{
			{Date: "2024-01-01", Value: "100.5"},
			{Date: "2024-04-01", Value: "101.25"},
			{Date: "2024-05-01", Value: "."},
		},
	}}
	blobs := memory.NewBlobStore()
	pub := pubmemory.New()

	res, err := fx.service(fetcher, WithBlobStore(blobs), WithPublisher(pub)).CrawlSeries(context.Background(), fx.ref)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 2, res.NewDataPoints)
	require.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), *res.LatestDataDate)

	points := fx.store.DataPoints(fx.series.ID)
	require.Len(t, points, 2)
	require.InDelta(t, 100.5, points[0].Value, 1e-9)
	require.True(t, points[0].IsOriginalRelease)

	attempts := fx.store.Attempts(fx.series.ID)
	require.Len(t, attempts, 1)
	a := attempts[0]
	require.True(t, a.Success)
	require.True(t, a.DataFound)
	require.Equal(t, 2, a.NewDataPoints)
	require.Equal(t, crawler.CrawlMethodAPI, a.CrawlMethod)
	require.Equal(t, 200, *a.HTTPStatusCode)
	require.Equal(t, int64(len(fetcher.result.Body)), *a.DataSizeBytes)
	require.Equal(t, 75*24, *a.DataFreshnessHours)
	require.NotNil(t, a.CompletedAt)
	require.Nil(t, a.ErrorType)
	require.Equal(t, "memory://"+RawPayloadPath("fred", "GDP", a.ID), a.RawPayloadURI)

	_, ok := blobs.Object(RawPayloadPath("fred", "GDP", a.ID))
	require.True(t, ok)

	series, err := fx.store.GetSeries(context.Background(), fx.series.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.SeriesCrawlSuccess, series.CrawlStatus)
	require.Equal(t, fx.clock.now, *series.LastCrawledAt)

	events := pub.Topic("crawl-events")
	require.Len(t, events, 1)
	ev, ok := events[0].(AttemptEvent)
	require.True(t, ok)
	require.Equal(t, EventAttemptCompleted, ev.Event)
	require.Equal(t, 2, ev.NewDataPoints)
	require.True(t, strings.HasPrefix(ev.PayloadDigest, "sha256:"))
}

func TestCrawlSeriesSkipsExistingDates(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fetcher := &stubFetcher{result: sources.FetchResult{
		StatusCode:   200,
		Observations: []crawler.Observation{{Date: "2024-01-01", Value: "1"}},
	}}
	svc := fx.service(fetcher)

	first, err := svc.CrawlSeries(context.Background(), fx.ref)
	require.NoError(t, err)
	require.Equal(t, 1, first.NewDataPoints)

	second, err := svc.CrawlSeries(context.Background(), fx.ref)
	require.NoError(t, err)
	require.True(t, second.Success)
	require.Equal(t, 0, second.NewDataPoints)

	series, err := fx.store.GetSeries(context.Background(), fx.series.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.SeriesCrawlNoData, series.CrawlStatus)
	require.Equal(t, crawler.NoNewDataMessage, series.CrawlErrorMessage)
	require.Len(t, fx.store.DataPoints(fx.series.ID), 1)
}

func TestCrawlSeriesRecordsFetchFailure(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fetcher := &stubFetcher{
		result: sources.FetchResult{StatusCode: 503},
		err:    &crawler.HTTPStatusError{StatusCode: 503, URL: "https://api.example"},
	}

	res, err := fx.service(fetcher).CrawlSeries(context.Background(), fx.ref)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, crawler.ErrorTypeServerError, *res.ErrorType)

	a := fx.store.Attempts(fx.series.ID)[0]
	require.False(t, a.Success)
	require.Equal(t, crawler.ErrorTypeServerError, *a.ErrorType)
	require.Equal(t, 503, *a.HTTPStatusCode)

	series, err := fx.store.GetSeries(context.Background(), fx.series.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.SeriesCrawlFailed, series.CrawlStatus)
	require.Contains(t, series.CrawlErrorMessage, "503")
}

func TestCrawlSeriesRejectsBadValues(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fetcher := &stubFetcher{result: sources.FetchResult{
		StatusCode:   200,
		Observations: []crawler.Observation{{Date: "2024-01-01", Value: "n/a"}},
	}}

	res, err := fx.service(fetcher).CrawlSeries(context.Background(), fx.ref)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, crawler.ErrorTypeDataFormat, *res.ErrorType)
}

func TestCrawlSeriesUnsupportedSource(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	ref := fx.ref
	ref.Source = "nowhere"

	res, err := fx.service(&stubFetcher{}).CrawlSeries(context.Background(), ref)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Contains(t, res.Error, "unsupported")
	require.Len(t, fx.store.Attempts(fx.series.ID), 1)
}

func TestCrawlSeriesTimeout(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fetcher := &stubFetcher{err: context.DeadlineExceeded}

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	res, err := fx.service(fetcher).CrawlSeries(ctx, fx.ref)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, crawler.ErrorTypeTimeout, *res.ErrorType)
}

func TestCrawlSeriesNotConfigured(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	reg := stubRegistry{err: sources.ErrSourceNotConfigured}
	svc := New(fx.store, reg, nil, zap.NewNop(), Config{}, WithClock(fx.clock))

	res, err := svc.CrawlSeries(context.Background(), fx.ref)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, crawler.ErrorTypeAuthentication, *res.ErrorType)
}

type failingPointStore struct {
	*memory.Store
}

func (failingPointStore) InsertDataPoint(context.Context, crawler.DataPoint) error {
	return errors.New("disk full")
}

func TestCrawlSeriesReturnsStorageErrors(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fetcher := &stubFetcher{result: sources.FetchResult{
		StatusCode:   200,
		Observations: []crawler.Observation{{Date: "2024-01-01", Value: "1"}},
	}}
	reg := stubRegistry{fetchers: map[string]sources.Fetcher{"fred": fetcher}}
	svc := New(failingPointStore{fx.store}, reg, nil, zap.NewNop(), Config{}, WithClock(fx.clock))

	res, err := svc.CrawlSeries(context.Background(), fx.ref)
	require.ErrorContains(t, err, "disk full")
	require.False(t, res.Success)
	require.False(t, fx.store.Attempts(fx.series.ID)[0].Success)
}

// deadlineStore reports the context error the way a database driver does.
type deadlineStore struct {
	*memory.Store
}

func (d deadlineStore) DataPointExists(ctx context.Context, seriesID string, date time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return d.Store.DataPointExists(ctx, seriesID, date)
}

// waitingFetcher returns its observations only after ctx has expired.
type waitingFetcher struct {
	result sources.FetchResult
}

func (f waitingFetcher) FetchObservations(ctx context.Context, _ string) (sources.FetchResult, error) {
	<-ctx.Done()
	return f.result, nil
}

func TestCrawlSeriesDeadlineDuringInsertIsTimeout(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fetcher := waitingFetcher{result: sources.FetchResult{
		StatusCode:   200,
		Observations: []crawler.Observation{{Date: "2024-01-01", Value: "1"}},
	}}
	reg := stubRegistry{fetchers: map[string]sources.Fetcher{"fred": fetcher}}
	svc := New(deadlineStore{fx.store}, reg, nil, zap.NewNop(), Config{}, WithClock(fx.clock))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res, err := svc.CrawlSeries(ctx, fx.ref)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, crawler.ErrorTypeTimeout, *res.ErrorType)
	require.Contains(t, res.Error, "check data point")

	attempts := fx.store.Attempts(fx.series.ID)
	require.Len(t, attempts, 1)
	require.False(t, attempts[0].Success)
}

type countingLimiter struct{ acquired int }

func (c *countingLimiter) Acquire(context.Context) error { c.acquired++; return nil }
func (c *countingLimiter) TryAcquire() bool { c.acquired++; return true }

type countingLimiters struct{ limiter *countingLimiter }

func (c countingLimiters) For(crawler.DataSource) ratelimit.Limiter { return c.limiter }

func TestCrawlSeriesUnsupportedSourceSpendsNoPermit(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	limiter := &countingLimiter{}
	fetcher := &stubFetcher{result: sources.FetchResult{StatusCode: 200}}
	reg := stubRegistry{fetchers: map[string]sources.Fetcher{"fred": fetcher}}
	svc := New(fx.store, reg, countingLimiters{limiter}, zap.NewNop(), Config{}, WithClock(fx.clock))

	ref := fx.ref
	ref.Source = "nowhere"
	res, err := svc.CrawlSeries(context.Background(), ref)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Zero(t, limiter.acquired)

	_, err = svc.CrawlSeries(context.Background(), fx.ref)
	require.NoError(t, err)
	require.Equal(t, 1, limiter.acquired)
}

func TestParseObservationDate(t *testing.T) {
	t.Parallel()
	cases := map[string]time.Time{
		"2024-03-15": time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		"2024-03":    time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		"2024":       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		"2024-Q3":    time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
		"2024Q4":     time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC),
	}
	for in, want := range cases {
		got, err := ParseObservationDate(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "2024-13", "2024-Q5", "Q1-2024", "yesterday"} {
		_, err := ParseObservationDate(bad)
		require.ErrorIs(t, err, crawler.ErrDataFormat, bad)
	}
}

func TestFreshnessHoursUsesWholeDays(t *testing.T) {
	t.Parallel()
	latest := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.Equal(t, 48, FreshnessHours(latest, latest.Add(71*time.Hour)))
	require.Equal(t, 0, FreshnessHours(latest, latest.Add(-time.Hour)))
}
