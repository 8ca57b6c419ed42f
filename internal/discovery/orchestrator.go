// Package discovery runs the source adapters and records what they find in
// the series catalogue.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/econ-series-crawler/internal/crawler"
	"github.com/JakeFAU/econ-series-crawler/internal/metrics"
	"github.com/JakeFAU/econ-series-crawler/internal/sources"
)

// DefaultConcurrency bounds how many adapters run at once.
const DefaultConcurrency = 4

// Store is the persistence discovery needs.
type Store interface {
	EnsureDefaultSources(ctx context.Context, defaults []crawler.DataSource, now time.Time) error
	ListSources(ctx context.Context) ([]crawler.DataSource, error)
	UpsertSeries(ctx context.Context, sourceID string, info crawler.SeriesInfo, now time.Time) (crawler.CatalogSeries, bool, error)
}

// DiscovererRegistry resolves a source name to its discovery adapter.
type DiscovererRegistry interface {
	Discoverer(name string) (sources.Discoverer, error)
}

// Options narrows a run.
type Options struct {
	// SourceFilter limits discovery to one source (any spelling).
	SourceFilter string
	// MaxSeriesPerSource truncates each adapter's list; 0 keeps everything.
	MaxSeriesPerSource int
}

// SourceError records one adapter failure.
type SourceError struct {
	Source string `json:"source"`
	Error  string `json:"error"`
}

// Result summarises a discovery run.
type Result struct {
	PerSource       map[string]int `json:"per_source"`
	TotalDiscovered int            `json:"total_discovered"`
	NewSeries       int            `json:"new_series"`
	Errors          []SourceError  `json:"errors,omitempty"`
}

// Orchestrator fans discovery out across sources.
type Orchestrator struct {
	store       Store
	registry    DiscovererRegistry
	logger      *zap.Logger
	clock       crawler.Clock
	concurrency int
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithConcurrency overrides DefaultConcurrency.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(c crawler.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// New builds an Orchestrator.
func New(store Store, registry DiscovererRegistry, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		store:       store,
		registry:    registry,
		logger:      logger.Named("discovery"),
		clock:       crawler.SystemClock{},
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run discovers series for every crawlable source. One source failing does
// not stop the others; its error lands in Result.Errors. Only failures to
// read the source table are returned.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (Result, error) {
	result := Result{PerSource: make(map[string]int)}
	now := o.clock.Now()
	if err := o.store.EnsureDefaultSources(ctx, crawler.DefaultDataSources(), now); err != nil {
		return result, fmt.Errorf("seed data sources: %w", err)
	}
	all, err := o.store.ListSources(ctx)
	if err != nil {
		return result, fmt.Errorf("list data sources: %w", err)
	}

	filter := crawler.NormalizeSourceName(opts.SourceFilter)
	var targets []crawler.DataSource
	for _, src := range all {
		if !src.Crawlable() {
			continue
		}
		if filter != "" && src.Key() != filter {
			continue
		}
		targets = append(targets, src)
	}
	if filter != "" && len(targets) == 0 {
		return result, fmt.Errorf("source %q: %w", opts.SourceFilter, sources.ErrUnsupportedSource)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for _, src := range targets {
		g.Go(func() error {
			found, created, err := o.discoverSource(gctx, src, opts.MaxSeriesPerSource)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors = append(result.Errors, SourceError{Source: src.Name, Error: err.Error()})
			}
			result.PerSource[src.Name] = found
			result.TotalDiscovered += found
			result.NewSeries += created
			return nil
		})
	}
	_ = g.Wait()
	sort.Slice(result.Errors, func(i, j int) bool { return result.Errors[i].Source < result.Errors[j].Source })

	o.logger.Info("discovery finished",
		zap.Int("sources", len(targets)),
		zap.Int("discovered", result.TotalDiscovered),
		zap.Int("new", result.NewSeries),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}

func (o *Orchestrator) discoverSource(ctx context.Context, src crawler.DataSource, limit int) (int, int, error) {
	log := o.logger.With(zap.String("source", src.Name))
	d, err := o.registry.Discoverer(src.Name)
	if err != nil {
		if errors.Is(err, sources.ErrUnsupportedSource) {
			log.Debug("no discovery adapter")
		}
		return 0, 0, err
	}
	infos, err := d.DiscoverSeries(ctx)
	if err != nil {
		log.Warn("discovery failed", zap.Error(err))
		return 0, 0, fmt.Errorf("discover %s: %w", src.Name, err)
	}
	if limit > 0 && len(infos) > limit {
		infos = infos[:limit]
	}

	var found, created int
	for _, info := range infos {
		if info.ExternalID == "" {
			continue
		}
		_, isNew, err := o.store.UpsertSeries(ctx, src.ID, info, o.clock.Now())
		if err != nil {
			return found, created, fmt.Errorf("upsert %s/%s: %w", src.Name, info.ExternalID, err)
		}
		found++
		if isNew {
			created++
		}
	}
	metrics.ObserveDiscovered(src.Name, found)
	log.Info("source discovered", zap.Int("series", found), zap.Int("new", created))
	return found, created, nil
}
