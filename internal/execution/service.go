// Package execution crawls a single series and records the attempt.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/econ-series-crawler/internal/crawler"
	"github.com/JakeFAU/econ-series-crawler/internal/hash/sha256"
	"github.com/JakeFAU/econ-series-crawler/internal/metrics"
	"github.com/JakeFAU/econ-series-crawler/internal/ratelimit"
	"github.com/JakeFAU/econ-series-crawler/internal/sources"
)

// EventAttemptCompleted is published after every finished attempt.
const EventAttemptCompleted = "attempt.completed"

// Store is the persistence the service writes to.
type Store interface {
	crawler.AttemptStore
	crawler.DataPointStore
	UpdateSeriesCrawlStatus(ctx context.Context, id string, status crawler.SeriesCrawlStatus, errMsg string, at time.Time) error
	GetSourceByName(ctx context.Context, name string) (crawler.DataSource, error)
}

// FetcherRegistry resolves a source name to a fetcher.
type FetcherRegistry interface {
	Fetcher(name string) (sources.Fetcher, error)
}

// LimiterRegistry hands out the limiter for a source.
type LimiterRegistry interface {
	For(src crawler.DataSource) ratelimit.Limiter
}

// Config tunes the service.
type Config struct {
	UserAgent string
	// EventsTopic is the publish topic; empty disables events.
	EventsTopic string
}

// CrawlResult summarises one CrawlSeries call.
type CrawlResult struct {
	SeriesID       string             `json:"series_id"`
	ExternalID     string             `json:"external_id"`
	Source         string             `json:"source"`
	AttemptID      string             `json:"attempt_id"`
	Success        bool               `json:"success"`
	NewDataPoints  int                `json:"new_data_points"`
	LatestDataDate *time.Time         `json:"latest_data_date,omitempty"`
	ErrorType      *crawler.ErrorType `json:"error_type,omitempty"`
	Error          string             `json:"error,omitempty"`
	Duration       time.Duration      `json:"duration"`
}

// AttemptEvent is the payload of an attempt.completed event.
type AttemptEvent struct {
	Event         string             `json:"event"`
	AttemptID     string             `json:"attempt_id"`
	SeriesID      string             `json:"series_id"`
	Source        string             `json:"source"`
	ExternalID    string             `json:"external_id"`
	Success       bool               `json:"success"`
	NewDataPoints int                `json:"new_data_points"`
	ErrorType     *crawler.ErrorType `json:"error_type,omitempty"`
	RawPayloadURI string             `json:"raw_payload_uri,omitempty"`
	PayloadDigest string             `json:"payload_digest,omitempty"`
	CompletedAt   time.Time          `json:"completed_at"`
}

// EventType names the event for message attributes.
func (e AttemptEvent) EventType() string { return e.Event }

// Service executes crawls.
type Service struct {
	store     Store
	fetchers  FetcherRegistry
	limiters  LimiterRegistry
	blobs     crawler.BlobStore
	publisher crawler.Publisher
	clock     crawler.Clock
	ids       crawler.IDGenerator
	hasher    crawler.Hasher
	logger    *zap.Logger
	cfg       Config
}

// Option customises a Service.
type Option func(*Service)

// WithBlobStore archives raw payloads.
func WithBlobStore(b crawler.BlobStore) Option { return func(s *Service) { s.blobs = b } }

// WithPublisher emits attempt events.
func WithPublisher(p crawler.Publisher) Option { return func(s *Service) { s.publisher = p } }

// WithClock overrides the wall clock.
func WithClock(c crawler.Clock) Option { return func(s *Service) { s.clock = c } }

// WithIDGenerator overrides attempt id generation.
func WithIDGenerator(g crawler.IDGenerator) Option { return func(s *Service) { s.ids = g } }

// WithHasher overrides the payload digest.
func WithHasher(h crawler.Hasher) Option { return func(s *Service) { s.hasher = h } }

// New builds a Service.
func New(
	store Store,
	fetchers FetcherRegistry,
	limiters LimiterRegistry,
	logger *zap.Logger,
	cfg Config,
	opts ...Option,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = sources.DefaultUserAgent
	}
	s := &Service{
		store:    store,
		fetchers: fetchers,
		limiters: limiters,
		clock:    crawler.SystemClock{},
		ids:      crawler.UUIDGenerator{},
		hasher:   sha256.New(),
		logger:   logger.Named("execution"),
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CrawlSeries fetches and stores new observations for ref. Provider and
// parse failures are recorded on the attempt and the series and reported
// in the result; only storage failures are returned as errors.
func (s *Service) CrawlSeries(ctx context.Context, ref crawler.SeriesRef) (CrawlResult, error) {
	start := s.clock.Now()
	result := CrawlResult{SeriesID: ref.SeriesID, ExternalID: ref.ExternalID, Source: ref.Source}
	log := s.logger.With(
		zap.String("source", ref.Source),
		zap.String("external_id", ref.ExternalID),
		zap.String("series_id", ref.SeriesID),
	)

	attemptID, err := s.ids.NewID()
	if err != nil {
		return result, fmt.Errorf("attempt id: %w", err)
	}
	result.AttemptID = attemptID
	if err := s.store.CreateAttempt(ctx, crawler.CrawlAttempt{
		ID:          attemptID,
		SeriesID:    ref.SeriesID,
		AttemptedAt: start,
		CrawlMethod: crawler.CrawlMethodAPI,
		RetryCount:  ref.RetryCount,
		UserAgent:   s.cfg.UserAgent,
		CreatedAt:   start,
		UpdatedAt:   start,
	}); err != nil {
		return result, fmt.Errorf("create attempt: %w", err)
	}

	outcome, fetchDur, crawlErr := s.fetchAndStore(ctx, ref, attemptID)
	var storageErr *storageError
	if errors.As(crawlErr, &storageErr) {
		log.Error("storage failure during crawl", zap.Error(crawlErr))
	}

	completedAt := s.clock.Now()
	outcome.CompletedAt = completedAt
	ms := completedAt.Sub(start).Milliseconds()
	outcome.ResponseTimeMs = &ms
	if crawlErr != nil {
		et := crawler.ClassifyError(crawlErr)
		outcome.Success = false
		outcome.ErrorType = &et
		outcome.ErrorMessage = crawlErr.Error()
		result.ErrorType = &et
		result.Error = crawlErr.Error()
	} else {
		outcome.Success = true
	}
	result.Success = outcome.Success
	result.NewDataPoints = outcome.NewDataPoints
	result.LatestDataDate = outcome.LatestDataDate
	result.Duration = completedAt.Sub(start)

	// Bookkeeping must land even if the per-item deadline fired.
	bookCtx := context.WithoutCancel(ctx)
	if err := s.store.CompleteAttempt(bookCtx, attemptID, outcome); err != nil {
		return result, fmt.Errorf("complete attempt: %w", err)
	}

	status, msg := crawler.SeriesCrawlSuccess, ""
	switch {
	case crawlErr != nil:
		status, msg = crawler.SeriesCrawlFailed, crawlErr.Error()
	case outcome.NewDataPoints == 0:
		status, msg = crawler.SeriesCrawlNoData, crawler.NoNewDataMessage
	}
	if err := s.store.UpdateSeriesCrawlStatus(bookCtx, ref.SeriesID, status, msg, completedAt); err != nil {
		return result, fmt.Errorf("update series status: %w", err)
	}

	metrics.ObserveCrawlAttempt(ref.Source, result.Success, result.NewDataPoints, fetchDur)
	s.publish(bookCtx, log, AttemptEvent{
		Event:         EventAttemptCompleted,
		AttemptID:     attemptID,
		SeriesID:      ref.SeriesID,
		Source:        ref.Source,
		ExternalID:    ref.ExternalID,
		Success:       result.Success,
		NewDataPoints: result.NewDataPoints,
		ErrorType:     result.ErrorType,
		RawPayloadURI: outcome.RawPayloadURI,
		PayloadDigest: outcome.PayloadDigest,
		CompletedAt:   completedAt,
	})

	if storageErr != nil {
		return result, storageErr.err
	}
	if crawlErr != nil {
		log.Warn("crawl attempt failed", zap.String("error_type", string(*result.ErrorType)), zap.Error(crawlErr))
	} else {
		log.Info("crawl attempt completed", zap.Int("new_points", result.NewDataPoints))
	}
	return result, nil
}

type storageError struct{ err error }

func (e *storageError) Error() string { return e.err.Error() }
func (e *storageError) Unwrap() error { return e.err }

// storageFailure marks err as a storage failure unless the item's own
// deadline or cancellation caused it, in which case it is a crawl failure.
func storageFailure(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	return &storageError{err}
}

func (s *Service) fetchAndStore(
	ctx context.Context,
	ref crawler.SeriesRef,
	attemptID string,
) (crawler.AttemptOutcome, time.Duration, error) {
	var outcome crawler.AttemptOutcome

	src, err := s.store.GetSourceByName(ctx, ref.Source)
	switch {
	case errors.Is(err, crawler.ErrNotFound):
		src = crawler.DataSource{Name: ref.Source}
	case err != nil:
		return outcome, 0, storageFailure(ctx, fmt.Errorf("load source: %w", err))
	}

	// Unsupported or unconfigured sources must not spend a permit.
	fetcher, err := s.fetchers.Fetcher(ref.Source)
	if err != nil {
		return outcome, 0, err
	}
	if s.limiters != nil {
		if err := s.limiters.For(src).Acquire(ctx); err != nil {
			return outcome, 0, err
		}
	}

	fetchStart := time.Now()
	res, err := fetcher.FetchObservations(ctx, ref.ExternalID)
	fetchDur := time.Since(fetchStart)
	outcome.CrawlURL = res.URL
	if res.StatusCode != 0 {
		code := res.StatusCode
		outcome.HTTPStatusCode = &code
	}
	if len(res.Body) > 0 {
		size := int64(len(res.Body))
		outcome.DataSizeBytes = &size
		outcome.RawPayloadURI = s.archive(ctx, ref, attemptID, res.Body)
		if digest, err := s.hasher.Hash(res.Body); err == nil {
			outcome.PayloadDigest = digest
		}
	}
	if err != nil {
		return outcome, fetchDur, err
	}

	now := s.clock.Now()
	revision := now.Truncate(24 * time.Hour)
	var latest *time.Time
	for _, obs := range res.Observations {
		if obs.IsMissing() {
			continue
		}
		date, err := ParseObservationDate(obs.Date)
		if err != nil {
			return outcome, fetchDur, err
		}
		value, err := ParseObservationValue(obs.Value)
		if err != nil {
			return outcome, fetchDur, err
		}
		outcome.DataFound = true
		if latest == nil || date.After(*latest) {
			d := date
			latest = &d
		}
		exists, err := s.store.DataPointExists(ctx, ref.SeriesID, date)
		if err != nil {
			return outcome, fetchDur, storageFailure(ctx, fmt.Errorf("check data point: %w", err))
		}
		if exists {
			continue
		}
		if err := s.store.InsertDataPoint(ctx, crawler.DataPoint{
			SeriesID:          ref.SeriesID,
			Date:              date,
			Value:             value,
			RevisionDate:      revision,
			IsOriginalRelease: true,
			CreatedAt:         now,
		}); err != nil {
			return outcome, fetchDur, storageFailure(ctx, fmt.Errorf("insert data point: %w", err))
		}
		outcome.NewDataPoints++
	}
	if latest != nil {
		outcome.LatestDataDate = latest
		hours := FreshnessHours(*latest, now)
		outcome.DataFreshnessHours = &hours
	}
	return outcome, fetchDur, nil
}

// RawPayloadPath is the archive object path for an attempt.
func RawPayloadPath(source, externalID, attemptID string) string {
	return "raw/" + crawler.NormalizeSourceName(source) + "/" + externalID + "/" + attemptID + ".json"
}

func (s *Service) archive(ctx context.Context, ref crawler.SeriesRef, attemptID string, body []byte) string {
	if s.blobs == nil {
		return ""
	}
	uri, err := s.blobs.PutObject(ctx, RawPayloadPath(ref.Source, ref.ExternalID, attemptID), "application/json", body)
	if err != nil {
		s.logger.Warn("archive raw payload failed", zap.String("attempt_id", attemptID), zap.Error(err))
		return ""
	}
	return uri
}

func (s *Service) publish(ctx context.Context, log *zap.Logger, ev AttemptEvent) {
	if s.publisher == nil || s.cfg.EventsTopic == "" {
		return
	}
	if _, err := s.publisher.Publish(ctx, s.cfg.EventsTopic, ev); err != nil {
		log.Warn("publish attempt event failed", zap.Error(err))
	}
}
