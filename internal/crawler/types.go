package crawler

import (
	"time"
)

// SeriesCrawlStatus is the crawl outcome stored on a catalog series.
type SeriesCrawlStatus string

// Series crawl statuses written by the execution service.
const (
	SeriesCrawlSuccess SeriesCrawlStatus = "success"
	SeriesCrawlNoData  SeriesCrawlStatus = "no_data"
	SeriesCrawlFailed  SeriesCrawlStatus = "failed"
)

// NoNewDataMessage is recorded on a series when a crawl succeeds without new points.
const NoNewDataMessage = "No new data found"

// CatalogSeries is one discovered external time series.
type CatalogSeries struct {
	ID              string `json:"id"`
	SourceID        string `json:"source_id"`
	ExternalID      string `json:"external_id"`
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	Units           string `json:"units,omitempty"`
	Frequency       string `json:"frequency,omitempty"`
	GeographicLevel string `json:"geographic_level,omitempty"`
	SourceURL       string `json:"source_url,omitempty"`
	// StartDate and EndDate bound the observations seen so far.
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	IsActive  bool       `json:"is_active"`
	// FirstDiscoveredAt is set once, when discovery creates the row.
	FirstDiscoveredAt time.Time `json:"first_discovered_at"`
	// LastCrawledAt is nil until the first crawl attempt completes.
	LastCrawledAt     *time.Time        `json:"last_crawled_at,omitempty"`
	CrawlStatus       SeriesCrawlStatus `json:"crawl_status,omitempty"`
	CrawlErrorMessage string            `json:"crawl_error_message,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// SeriesInfo is what a discovery adapter reports for one provider series.
type SeriesInfo struct {
	ExternalID      string `json:"external_id"`
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	Units           string `json:"units,omitempty"`
	Frequency       string `json:"frequency,omitempty"`
	GeographicLevel string `json:"geographic_level,omitempty"`
	DataURL         string `json:"data_url,omitempty"`
}

// SeriesRef identifies the series a crawl targets.
type SeriesRef struct {
	SeriesID   string
	ExternalID string
	Source     string
	Title      string
	// RetryCount is copied onto the attempt record.
	RetryCount int
}

// CrawlCandidate is a catalog series joined with the source it belongs to.
type CrawlCandidate struct {
	Series CatalogSeries
	Source DataSource
}

// DataPoint is a single observation for a series.
type DataPoint struct {
	SeriesID          string    `json:"series_id"`
	Date              time.Time `json:"date"`
	Value             float64   `json:"value"`
	RevisionDate      time.Time `json:"revision_date"`
	IsOriginalRelease bool      `json:"is_original_release"`
	CreatedAt         time.Time `json:"created_at"`
}

// Observation is a raw provider observation before parsing.
type Observation struct {
	Date  string `json:"date"`
	Value string `json:"value"`
}

// IsMissing reports whether the provider marked the value as absent.
func (o Observation) IsMissing() bool {
	return o.Value == "" || o.Value == "."
}
