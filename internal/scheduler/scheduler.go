// Package scheduler runs crawl cycles: discover, prioritise, enqueue,
// dispatch, update source status and report.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/econ-series-crawler/internal/crawler"
	"github.com/JakeFAU/econ-series-crawler/internal/discovery"
	"github.com/JakeFAU/econ-series-crawler/internal/execution"
	"github.com/JakeFAU/econ-series-crawler/internal/metrics"
	"github.com/JakeFAU/econ-series-crawler/internal/queue"
	"github.com/JakeFAU/econ-series-crawler/internal/sources"
)

// Defaults for Options.
const (
	DefaultBatchSize      = 100
	DefaultItemTimeout    = 2 * time.Minute
	DefaultInterItemDelay = 100 * time.Millisecond
	DefaultWorkerID       = "scheduler"
)

// Store is the persistence a cycle reads and updates.
type Store interface {
	EnsureDefaultSources(ctx context.Context, defaults []crawler.DataSource, now time.Time) error
	ListSources(ctx context.Context) ([]crawler.DataSource, error)
	GetSourceByName(ctx context.Context, name string) (crawler.DataSource, error)
	UpdateSourceCrawlStatus(ctx context.Context, update crawler.SourceStatusUpdate) error
	ListCrawlCandidates(ctx context.Context, sourceID string) ([]crawler.CrawlCandidate, error)
	FindSeries(ctx context.Context, sourceID, externalID string) (crawler.CatalogSeries, error)
	ListAttemptsSince(ctx context.Context, seriesID string, since time.Time) ([]crawler.CrawlAttempt, error)
}

// Discoverer runs catalogue discovery.
type Discoverer interface {
	Run(ctx context.Context, opts discovery.Options) (discovery.Result, error)
}

// WorkQueue is the subset of the crawl queue the scheduler drives.
type WorkQueue interface {
	Enqueue(ctx context.Context, in crawler.NewQueueItem) (crawler.QueueItem, error)
	HasOpenItem(ctx context.Context, source, externalID string) (bool, error)
	PromoteDueRetries(ctx context.Context) (int64, error)
	ClaimNextFrom(ctx context.Context, workerID, source string) (*crawler.QueueItem, error)
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, errMsg string) error
	Fail(ctx context.Context, item crawler.QueueItem, errMsg string) (crawler.QueueStatus, error)
	Release(ctx context.Context, id string) error
}

// SeriesCrawler crawls one series.
type SeriesCrawler interface {
	CrawlSeries(ctx context.Context, ref crawler.SeriesRef) (execution.CrawlResult, error)
}

// Options controls one cycle.
type Options struct {
	DryRun           bool
	SkipDiscovery    bool
	SkipDataDownload bool
	// SourceFilter restricts the cycle to one source.
	SourceFilter string
	// SeriesCount caps discovery and crawl candidates per source; 0 is unlimited.
	SeriesCount    int
	BatchSize      int
	ItemTimeout    time.Duration
	InterItemDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.ItemTimeout <= 0 {
		o.ItemTimeout = DefaultItemTimeout
	}
	if o.InterItemDelay < 0 {
		o.InterItemDelay = 0
	}
	return o
}

// DefaultOptions returns the options crawl-all uses.
func DefaultOptions() Options {
	return Options{
		BatchSize:      DefaultBatchSize,
		ItemTimeout:    DefaultItemTimeout,
		InterItemDelay: DefaultInterItemDelay,
	}
}

// Scheduler runs crawl cycles.
type Scheduler struct {
	store      Store
	discoverer Discoverer
	queue      WorkQueue
	crawler    SeriesCrawler
	logger     *zap.Logger
	clock      crawler.Clock
	workerID   string
	onReport   func(CrawlingReport)
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the wall clock.
func WithClock(c crawler.Clock) Option { return func(s *Scheduler) { s.clock = c } }

// WithWorkerID sets the id written to locked_by.
func WithWorkerID(id string) Option {
	return func(s *Scheduler) {
		if id != "" {
			s.workerID = id
		}
	}
}

// WithReportHook is called with every finished report.
func WithReportHook(fn func(CrawlingReport)) Option { return func(s *Scheduler) { s.onReport = fn } }

// New builds a Scheduler.
func New(store Store, discoverer Discoverer, q WorkQueue, c SeriesCrawler, logger *zap.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		store:      store,
		discoverer: discoverer,
		queue:      q,
		crawler:    c,
		logger:     logger.Named("scheduler"),
		clock:      crawler.SystemClock{},
		workerID:   DefaultWorkerID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunCycle runs one full cycle. Per-series and per-source failures are
// collected in the report. Storage failures and cancellation end the cycle
// early and are returned together with the partial report.
func (s *Scheduler) RunCycle(ctx context.Context, opts Options) (CrawlingReport, error) {
	opts = opts.withDefaults()
	report := CrawlingReport{StartTime: s.clock.Now(), DryRun: opts.DryRun, Errors: []string{}}
	err := s.runCycle(ctx, opts, &report)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
	}
	report.EndTime = s.clock.Now()
	report.Summarize()
	report.Log(s.logger)
	metrics.ObserveCycle(report.EndTime.Sub(report.StartTime))
	if s.onReport != nil {
		s.onReport(report)
	}
	return report, err
}

func (s *Scheduler) runCycle(ctx context.Context, opts Options, report *CrawlingReport) error {
	if err := s.store.EnsureDefaultSources(ctx, crawler.DefaultDataSources(), s.clock.Now()); err != nil {
		return fmt.Errorf("seed data sources: %w", err)
	}
	var filterSource *crawler.DataSource
	if opts.SourceFilter != "" {
		src, err := s.store.GetSourceByName(ctx, opts.SourceFilter)
		if errors.Is(err, crawler.ErrNotFound) {
			return fmt.Errorf("source %q: %w", opts.SourceFilter, sources.ErrUnsupportedSource)
		}
		if err != nil {
			return fmt.Errorf("load source %q: %w", opts.SourceFilter, err)
		}
		if !src.Crawlable() {
			return fmt.Errorf("source %q is disabled or awaiting approval", src.Name)
		}
		filterSource = &src
	}

	if !opts.SkipDiscovery && s.discoverer != nil {
		res, err := s.discoverer.Run(ctx, discovery.Options{
			SourceFilter:       opts.SourceFilter,
			MaxSeriesPerSource: opts.SeriesCount,
		})
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("discovery: %v", err))
		} else {
			report.Discovery = &res
			for _, e := range res.Errors {
				report.Errors = append(report.Errors, fmt.Sprintf("discovery %s: %s", e.Source, e.Error))
			}
		}
	}
	if opts.SkipDataDownload {
		s.logger.Info("skipping data download")
		return nil
	}

	cands, err := s.prioritize(ctx, opts, filterSource)
	if err != nil {
		return err
	}
	report.Candidates = cands
	if opts.DryRun {
		s.logger.Info("dry run, nothing enqueued", zap.Int("candidates", len(cands)))
		return nil
	}

	enqueued, err := s.enqueue(ctx, cands, report)
	report.Enqueued = enqueued
	if err != nil {
		return err
	}
	filterKey := ""
	if filterSource != nil {
		filterKey = filterSource.Key()
	}
	if err := s.dispatch(ctx, opts, filterKey, report); err != nil {
		return err
	}
	return s.updateSourceStatus(ctx, filterSource, report)
}

func (s *Scheduler) prioritize(ctx context.Context, opts Options, filter *crawler.DataSource) ([]Candidate, error) {
	sourceID := ""
	if filter != nil {
		sourceID = filter.ID
	}
	rows, err := s.store.ListCrawlCandidates(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("list crawl candidates: %w", err)
	}
	since := s.clock.Now().Add(-crawler.StatsWindow)
	cands := make([]Candidate, 0, len(rows))
	for _, row := range rows {
		attempts, err := s.store.ListAttemptsSince(ctx, row.Series.ID, since)
		if err != nil {
			return nil, fmt.Errorf("attempts for %s: %w", row.Series.ID, err)
		}
		stats := crawler.ComputeCrawlStatistics(row.Series.ID, attempts)
		score := Score(row.Series, row.Source, stats)
		cands = append(cands, Candidate{
			Series:   row.Series,
			Source:   row.Source,
			Stats:    stats,
			Score:    score,
			Priority: PriorityForScore(score),
		})
	}
	cands = rank(cands, 0)
	if opts.SeriesCount > 0 {
		cands = capPerSource(cands, opts.SeriesCount)
	}
	if len(cands) > opts.BatchSize {
		cands = cands[:opts.BatchSize]
	}
	return cands, nil
}

func capPerSource(cands []Candidate, n int) []Candidate {
	seen := map[string]int{}
	out := cands[:0]
	for _, c := range cands {
		if seen[c.Source.ID] >= n {
			continue
		}
		seen[c.Source.ID]++
		out = append(out, c)
	}
	return out
}

func (s *Scheduler) enqueue(ctx context.Context, cands []Candidate, report *CrawlingReport) (int, error) {
	enqueued := 0
	for _, c := range cands {
		key := c.Source.Key()
		open, err := s.queue.HasOpenItem(ctx, key, c.Series.ExternalID)
		if err != nil {
			return enqueued, fmt.Errorf("check queue: %w", err)
		}
		if open {
			continue
		}
		seriesID := c.Series.ID
		_, err = s.queue.Enqueue(ctx, crawler.NewQueueItem{
			Source:           key,
			ExternalSeriesID: c.Series.ExternalID,
			SeriesID:         &seriesID,
			Priority:         c.Priority,
		})
		if errors.Is(err, queue.ErrInvalidQueueItem) {
			report.Errors = append(report.Errors, fmt.Sprintf("enqueue %s/%s: %v", key, c.Series.ExternalID, err))
			continue
		}
		if err != nil {
			return enqueued, err
		}
		enqueued++
	}
	return enqueued, nil
}

func (s *Scheduler) dispatch(ctx context.Context, opts Options, source string, report *CrawlingReport) error {
	promoted, err := s.queue.PromoteDueRetries(ctx)
	if err != nil {
		return err
	}
	if promoted > 0 {
		s.logger.Info("promoted due retries", zap.Int64("count", promoted))
	}
	for processed := 0; processed < opts.BatchSize; processed++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		item, err := s.queue.ClaimNextFrom(ctx, s.workerID, source)
		if err != nil {
			return err
		}
		if item == nil {
			return nil
		}
		if err := s.processItem(ctx, opts, *item, report); err != nil {
			return err
		}
		if err := sleepCtx(ctx, opts.InterItemDelay); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) processItem(ctx context.Context, opts Options, item crawler.QueueItem, report *CrawlingReport) error {
	log := s.logger.With(
		zap.String("queue_item", item.ID),
		zap.String("source", item.Source),
		zap.String("external_id", item.ExternalSeriesID),
	)
	ref, err := s.resolveRef(ctx, item)
	if errors.Is(err, crawler.ErrNotFound) {
		msg := "series not in catalogue"
		report.Errors = append(report.Errors, fmt.Sprintf("%s/%s: %s", item.Source, item.ExternalSeriesID, msg))
		return s.queue.MarkFailed(ctx, item.ID, msg)
	}
	if err != nil {
		_ = s.queue.Release(context.WithoutCancel(ctx), item.ID)
		return err
	}

	itemCtx, cancel := context.WithTimeout(ctx, opts.ItemTimeout)
	res, err := s.crawler.CrawlSeries(itemCtx, ref)
	cancel()
	if err != nil {
		log.Error("crawl storage failure", zap.Error(err))
		if rerr := s.queue.Release(context.WithoutCancel(ctx), item.ID); rerr != nil {
			log.Warn("release after failure", zap.Error(rerr))
		}
		return fmt.Errorf("crawl %s/%s: %w", item.Source, item.ExternalSeriesID, err)
	}
	report.CrawlResults = append(report.CrawlResults, res)

	bookCtx := context.WithoutCancel(ctx)
	if res.Success {
		return s.queue.MarkCompleted(bookCtx, item.ID)
	}
	report.Errors = append(report.Errors, fmt.Sprintf("crawl %s/%s: %s", item.Source, item.ExternalSeriesID, res.Error))
	status, err := s.queue.Fail(bookCtx, item, res.Error)
	if err != nil {
		return err
	}
	log.Info("queue item failed", zap.String("status", string(status)))
	return nil
}

func (s *Scheduler) resolveRef(ctx context.Context, item crawler.QueueItem) (crawler.SeriesRef, error) {
	ref := crawler.SeriesRef{
		ExternalID: item.ExternalSeriesID,
		Source:     item.Source,
		RetryCount: item.RetryCount,
	}
	if item.SeriesID != nil {
		ref.SeriesID = *item.SeriesID
		return ref, nil
	}
	src, err := s.store.GetSourceByName(ctx, item.Source)
	if err != nil {
		return ref, err
	}
	series, err := s.store.FindSeries(ctx, src.ID, item.ExternalSeriesID)
	if err != nil {
		return ref, err
	}
	ref.SeriesID = series.ID
	ref.Title = series.Title
	return ref, nil
}

func (s *Scheduler) updateSourceStatus(ctx context.Context, filter *crawler.DataSource, report *CrawlingReport) error {
	all, err := s.store.ListSources(ctx)
	if err != nil {
		return fmt.Errorf("list data sources: %w", err)
	}
	type tally struct {
		attempts, failed int
		lastErr          string
	}
	bySource := map[string]*tally{}
	for _, res := range report.CrawlResults {
		key := crawler.NormalizeSourceName(res.Source)
		t, ok := bySource[key]
		if !ok {
			t = &tally{}
			bySource[key] = t
		}
		t.attempts++
		if !res.Success {
			t.failed++
			t.lastErr = res.Error
		}
	}
	now := s.clock.Now()
	for _, src := range all {
		if !src.Crawlable() || (filter != nil && src.ID != filter.ID) {
			continue
		}
		upd := crawler.SourceStatusUpdate{SourceID: src.ID, Status: crawler.SourceCrawlCompleted, At: now}
		if t := bySource[src.Key()]; t != nil && t.attempts > 0 && t.failed == t.attempts {
			upd.Status = crawler.SourceCrawlFailed
			upd.ErrorMessage = t.lastErr
		}
		if err := s.store.UpdateSourceCrawlStatus(ctx, upd); err != nil {
			return fmt.Errorf("update source %s: %w", src.Name, err)
		}
	}
	return nil
}

// RunContinuous runs cycles until ctx is cancelled, waiting interval
// between the end of one cycle and the start of the next. A cycle error is
// logged and the loop carries on.
func (s *Scheduler) RunContinuous(ctx context.Context, interval time.Duration, opts Options) error {
	s.logger.Info("continuous crawling started", zap.Duration("interval", interval))
	for {
		if _, err := s.RunCycle(ctx, opts); err != nil {
			if ctx.Err() != nil {
				break
			}
			s.logger.Error("crawl cycle failed", zap.Error(err))
		}
		if err := sleepCtx(ctx, interval); err != nil {
			break
		}
	}
	s.logger.Info("continuous crawling stopped")
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
