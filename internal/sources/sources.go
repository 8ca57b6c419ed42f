// Package sources contains the provider adapters that discover series and
// fetch their observations.
package sources

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/econ-series-crawler/internal/crawler"
)

var (
	// ErrUnsupportedSource is returned when no adapter is registered for a name.
	ErrUnsupportedSource = errors.New("unsupported data source")
	// ErrFetchUnsupported is returned by discovery-only adapters.
	ErrFetchUnsupported = errors.New("observation fetch not supported for source")
	// ErrSourceNotConfigured marks an adapter that is missing its API key.
	ErrSourceNotConfigured = fmt.Errorf("source not configured: %w", crawler.ErrMissingAPIKey)
)

// Discoverer lists the series a provider offers.
type Discoverer interface {
	Name() string
	DiscoverSeries(ctx context.Context) ([]crawler.SeriesInfo, error)
}

// FetchResult is the raw and parsed payload of one observations request.
type FetchResult struct {
	URL          string
	StatusCode   int
	Body         []byte
	Observations []crawler.Observation
}

// Fetcher downloads observations for one external series id.
type Fetcher interface {
	FetchObservations(ctx context.Context, externalID string) (FetchResult, error)
}

// Adapter is a provider that can both discover and fetch.
type Adapter interface {
	Discoverer
	Fetcher
}

// Configurable is implemented by adapters that need credentials.
type Configurable interface {
	Configured() bool
}
