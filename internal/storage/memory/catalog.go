package memory

import (
	"context"
	"sort"
	"time"

	"github.com/JakeFAU/econ-series-crawler/internal/crawler"
)

func seriesKey(sourceID, externalID string) string {
	return sourceID + "\x00" + externalID
}

// UpsertSeries refreshes or creates a catalog series.
func (s *Store) UpsertSeries(
	_ context.Context,
	sourceID string,
	info crawler.SeriesInfo,
	now time.Time,
) (crawler.CatalogSeries, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.seriesKey[seriesKey(sourceID, info.ExternalID)]; ok {
		row := s.series[id]
		row.Title = info.Title
		row.Description = info.Description
		row.Units = info.Units
		row.Frequency = info.Frequency
		row.GeographicLevel = info.GeographicLevel
		row.SourceURL = info.DataURL
		row.UpdatedAt = now
		return *row, false, nil
	}

	id, err := s.newID()
	if err != nil {
		return crawler.CatalogSeries{}, false, err
	}
	row := &crawler.CatalogSeries{
		ID:                id,
		SourceID:          sourceID,
		ExternalID:        info.ExternalID,
		Title:             info.Title,
		Description:       info.Description,
		Units:             info.Units,
		Frequency:         info.Frequency,
		GeographicLevel:   info.GeographicLevel,
		SourceURL:         info.DataURL,
		IsActive:          true,
		FirstDiscoveredAt: now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	s.series[id] = row
	s.seriesKey[seriesKey(sourceID, info.ExternalID)] = id
	return *row, true, nil
}

// GetSeries returns a series by id.
func (s *Store) GetSeries(_ context.Context, id string) (crawler.CatalogSeries, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.series[id]
	if !ok {
		return crawler.CatalogSeries{}, crawler.ErrNotFound
	}
	return *row, nil
}

// FindSeries returns the series for a (source, external id) pair.
func (s *Store) FindSeries(_ context.Context, sourceID, externalID string) (crawler.CatalogSeries, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.seriesKey[seriesKey(sourceID, externalID)]
	if !ok {
		return crawler.CatalogSeries{}, crawler.ErrNotFound
	}
	return *s.series[id], nil
}

// ListCrawlCandidates returns active series of crawlable sources. An empty
// sourceID lists every source.
func (s *Store) ListCrawlCandidates(_ context.Context, sourceID string) ([]crawler.CrawlCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []crawler.CrawlCandidate
	for _, row := range s.series {
		if !row.IsActive || (sourceID != "" && row.SourceID != sourceID) {
			continue
		}
		src, ok := s.sources[row.SourceID]
		if !ok || !src.Crawlable() {
			continue
		}
		out = append(out, crawler.CrawlCandidate{Series: *row, Source: *src})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Series.CreatedAt.Before(out[j].Series.CreatedAt) ||
			(out[i].Series.CreatedAt.Equal(out[j].Series.CreatedAt) && out[i].Series.ID < out[j].Series.ID)
	})
	return out, nil
}

// UpdateSeriesCrawlStatus writes the crawl outcome fields of a series.
func (s *Store) UpdateSeriesCrawlStatus(
	_ context.Context,
	id string,
	status crawler.SeriesCrawlStatus,
	errMsg string,
	at time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.series[id]
	if !ok {
		return crawler.ErrNotFound
	}
	crawled := at
	row.LastCrawledAt = &crawled
	row.CrawlStatus = status
	row.CrawlErrorMessage = errMsg
	row.UpdatedAt = at
	return nil
}

// CountSeries returns the number of catalog rows.
func (s *Store) CountSeries(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.series)), nil
}

// --- attempts ---

// CreateAttempt inserts an in-flight attempt.
func (s *Store) CreateAttempt(_ context.Context, attempt crawler.CrawlAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := attempt
	s.attempts[a.ID] = &a
	return nil
}

// CompleteAttempt fills the completion fields of an attempt.
func (s *Store) CompleteAttempt(_ context.Context, id string, o crawler.AttemptOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return crawler.ErrNotFound
	}
	completed := o.CompletedAt
	a.CompletedAt = &completed
	a.Success = o.Success
	a.DataFound = o.DataFound
	a.NewDataPoints = o.NewDataPoints
	if o.CrawlURL != "" {
		a.CrawlURL = o.CrawlURL
	}
	a.HTTPStatusCode = o.HTTPStatusCode
	a.LatestDataDate = o.LatestDataDate
	a.DataFreshnessHours = o.DataFreshnessHours
	a.ErrorType = o.ErrorType
	a.ErrorMessage = o.ErrorMessage
	a.ResponseTimeMs = o.ResponseTimeMs
	a.DataSizeBytes = o.DataSizeBytes
	a.RawPayloadURI = o.RawPayloadURI
	a.UpdatedAt = o.CompletedAt
	return nil
}

// ListAttemptsSince returns a series' attempts at or after since, newest first.
func (s *Store) ListAttemptsSince(_ context.Context, seriesID string, since time.Time) ([]crawler.CrawlAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []crawler.CrawlAttempt
	for _, a := range s.attempts {
		if a.SeriesID == seriesID && !a.AttemptedAt.Before(since) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptedAt.After(out[j].AttemptedAt) })
	return out, nil
}

// Attempts returns every attempt for a series, oldest first.
func (s *Store) Attempts(seriesID string) []crawler.CrawlAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []crawler.CrawlAttempt
	for _, a := range s.attempts {
		if a.SeriesID == seriesID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptedAt.Before(out[j].AttemptedAt) })
	return out
}

// --- data points ---

func dateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// DataPointExists reports whether any revision exists for (series, date).
func (s *Store) DataPointExists(_ context.Context, seriesID string, date time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dataPoints[seriesID][dateKey(date)]) > 0, nil
}

// InsertDataPoint stores an observation. A duplicate (series, date,
// revision date) is ignored.
func (s *Store) InsertDataPoint(_ context.Context, point crawler.DataPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bySeries, ok := s.dataPoints[point.SeriesID]
	if !ok {
		bySeries = make(map[string][]crawler.DataPoint)
		s.dataPoints[point.SeriesID] = bySeries
	}
	key := dateKey(point.Date)
	for _, existing := range bySeries[key] {
		if dateKey(existing.RevisionDate) == dateKey(point.RevisionDate) {
			return nil
		}
	}
	bySeries[key] = append(bySeries[key], point)
	return nil
}

// DataPoints returns every stored point for a series ordered by date.
func (s *Store) DataPoints(seriesID string) []crawler.DataPoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []crawler.DataPoint
	for _, points := range s.dataPoints[seriesID] {
		out = append(out, points...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// --- sources ---

// EnsureDefaultSources inserts any default source missing by name.
func (s *Store) EnsureDefaultSources(_ context.Context, defaults []crawler.DataSource, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := make(map[string]bool, len(s.sources))
	for _, src := range s.sources {
		existing[src.Key()] = true
	}
	for _, d := range defaults {
		if existing[d.Key()] {
			continue
		}
		id, err := s.newID()
		if err != nil {
			return err
		}
		src := d
		src.ID = id
		src.CreatedAt = now
		src.UpdatedAt = now
		s.sources[id] = &src
		existing[d.Key()] = true
	}
	return nil
}

// PutSource inserts or replaces a source; tests use it to seed flags.
func (s *Store) PutSource(src crawler.DataSource) crawler.DataSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	if src.ID == "" {
		id, err := s.newID()
		if err != nil {
			id = src.Key()
		}
		src.ID = id
	}
	cp := src
	s.sources[src.ID] = &cp
	return cp
}

// ListSources returns every source ordered by name.
func (s *Store) ListSources(_ context.Context) ([]crawler.DataSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]crawler.DataSource, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, *src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetSourceByName looks a source up by normalised name.
func (s *Store) GetSourceByName(_ context.Context, name string) (crawler.DataSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := crawler.NormalizeSourceName(name)
	for _, src := range s.sources {
		if src.Key() == key {
			return *src, nil
		}
	}
	return crawler.DataSource{}, crawler.ErrNotFound
}

// UpdateSourceCrawlStatus records the outcome of a cycle for a source.
func (s *Store) UpdateSourceCrawlStatus(_ context.Context, u crawler.SourceStatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[u.SourceID]
	if !ok {
		return crawler.ErrNotFound
	}
	at := u.At
	src.LastCrawlAt = &at
	src.CrawlStatus = u.Status
	src.CrawlErrorMessage = u.ErrorMessage
	src.UpdatedAt = u.At
	return nil
}
