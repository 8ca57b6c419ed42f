package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/econ-series-crawler/internal/crawler"
)

const seriesColumns = `s.id::text, s.source_id::text, s.external_id, s.title, COALESCE(s.description, ''),
	COALESCE(s.units, ''), COALESCE(s.frequency, ''), COALESCE(s.geographic_level, ''), COALESCE(s.source_url, ''),
	s.start_date, s.end_date, s.is_active, s.first_discovered_at, s.last_crawled_at,
	COALESCE(s.crawl_status, ''), COALESCE(s.crawl_error_message, ''), s.created_at, s.updated_at`

func seriesDest(row *crawler.CatalogSeries, status *string) []any {
	return []any{
		&row.ID,
		&row.SourceID,
		&row.ExternalID,
		&row.Title,
		&row.Description,
		&row.Units,
		&row.Frequency,
		&row.GeographicLevel,
		&row.SourceURL,
		&row.StartDate,
		&row.EndDate,
		&row.IsActive,
		&row.FirstDiscoveredAt,
		&row.LastCrawledAt,
		status,
		&row.CrawlErrorMessage,
		&row.CreatedAt,
		&row.UpdatedAt,
	}
}

func scanSeries(row pgx.Row) (crawler.CatalogSeries, error) {
	var (
		out    crawler.CatalogSeries
		status string
	)
	if err := row.Scan(seriesDest(&out, &status)...); err != nil {
		return crawler.CatalogSeries{}, err
	}
	out.CrawlStatus = crawler.SeriesCrawlStatus(status)
	return out, nil
}

// UpsertSeries inserts a series or refreshes the metadata of an existing
// (source, external id) row. xmax = 0 identifies a fresh insert.
func (s *Store) UpsertSeries(
	ctx context.Context,
	sourceID string,
	info crawler.SeriesInfo,
	now time.Time,
) (crawler.CatalogSeries, bool, error) {
	id, err := s.newID()
	if err != nil {
		return crawler.CatalogSeries{}, false, err
	}
	var (
		out     crawler.CatalogSeries
		status  string
		created bool
	)
	dest := append(seriesDest(&out, &status), &created)
	err = s.pool.QueryRow(ctx, `
		INSERT INTO economic_series AS s (
			id, source_id, external_id, title, description, units, frequency, geographic_level, source_url,
			is_active, first_discovered_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, $10, $10, $10)
		ON CONFLICT (source_id, external_id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			units = EXCLUDED.units,
			frequency = EXCLUDED.frequency,
			geographic_level = EXCLUDED.geographic_level,
			source_url = EXCLUDED.source_url,
			updated_at = EXCLUDED.updated_at
		RETURNING `+seriesColumns+`, (xmax = 0)`,
		id,
		sourceID,
		info.ExternalID,
		info.Title,
		nullString(info.Description),
		nullString(info.Units),
		nullString(info.Frequency),
		nullString(info.GeographicLevel),
		nullString(info.DataURL),
		now,
	).Scan(dest...)
	if err != nil {
		return crawler.CatalogSeries{}, false, fmt.Errorf("upsert series %s: %w", info.ExternalID, err)
	}
	out.CrawlStatus = crawler.SeriesCrawlStatus(status)
	return out, created, nil
}

// GetSeries returns a series by id.
func (s *Store) GetSeries(ctx context.Context, id string) (crawler.CatalogSeries, error) {
	out, err := scanSeries(s.pool.QueryRow(ctx, `SELECT `+seriesColumns+` FROM economic_series s WHERE s.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.CatalogSeries{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.CatalogSeries{}, fmt.Errorf("get series: %w", err)
	}
	return out, nil
}

// FindSeries returns the series for a (source, external id) pair.
func (s *Store) FindSeries(ctx context.Context, sourceID, externalID string) (crawler.CatalogSeries, error) {
	out, err := scanSeries(s.pool.QueryRow(ctx, `
		SELECT `+seriesColumns+` FROM economic_series s
		WHERE s.source_id = $1 AND s.external_id = $2`, sourceID, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.CatalogSeries{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.CatalogSeries{}, fmt.Errorf("find series: %w", err)
	}
	return out, nil
}

// ListCrawlCandidates returns active series of enabled, visible sources that
// do not require admin approval. An empty sourceID lists every source.
func (s *Store) ListCrawlCandidates(ctx context.Context, sourceID string) ([]crawler.CrawlCandidate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+seriesColumns+`, `+sourceColumns+`
		FROM economic_series s
		JOIN data_sources d ON d.id = s.source_id
		WHERE s.is_active
		  AND d.is_enabled AND d.is_visible AND NOT d.requires_admin_approval
		  AND ($1 = '' OR d.id::text = $1)
		ORDER BY s.created_at ASC, s.id ASC`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("list crawl candidates: %w", err)
	}
	defer rows.Close()

	var out []crawler.CrawlCandidate
	for rows.Next() {
		var (
			c            crawler.CrawlCandidate
			seriesStatus string
		)
		dest := append(seriesDest(&c.Series, &seriesStatus), sourceDest(&c.Source)...)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan crawl candidate: %w", err)
		}
		c.Series.CrawlStatus = crawler.SeriesCrawlStatus(seriesStatus)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate crawl candidates: %w", err)
	}
	return out, nil
}

// UpdateSeriesCrawlStatus writes the crawl outcome fields of a series.
func (s *Store) UpdateSeriesCrawlStatus(
	ctx context.Context,
	id string,
	status crawler.SeriesCrawlStatus,
	errMsg string,
	at time.Time,
) error {
	return s.execOne(ctx, "update series crawl status", `
		UPDATE economic_series
		SET last_crawled_at = $2, crawl_status = $3, crawl_error_message = $4, updated_at = $2
		WHERE id = $1`, id, at, string(status), nullString(errMsg))
}

// CountSeries returns the number of catalog rows.
func (s *Store) CountSeries(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM economic_series`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count series: %w", err)
	}
	return n, nil
}
