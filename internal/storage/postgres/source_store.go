package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/econ-series-crawler/internal/crawler"
)

const sourceColumns = `d.id::text, d.name, COALESCE(d.description, ''), d.base_url, d.api_key_required,
	d.rate_limit_per_minute, d.crawl_frequency_hours, d.is_visible, d.is_enabled, d.requires_admin_approval,
	d.last_crawl_at, COALESCE(d.crawl_status, ''), COALESCE(d.crawl_error_message, ''), d.created_at, d.updated_at`

func sourceDest(src *crawler.DataSource) []any {
	return []any{
		&src.ID,
		&src.Name,
		&src.Description,
		&src.BaseURL,
		&src.APIKeyRequired,
		&src.RateLimitPerMinute,
		&src.CrawlFrequencyHours,
		&src.IsVisible,
		&src.IsEnabled,
		&src.RequiresAdminApproval,
		&src.LastCrawlAt,
		&src.CrawlStatus,
		&src.CrawlErrorMessage,
		&src.CreatedAt,
		&src.UpdatedAt,
	}
}

// EnsureDefaultSources inserts every default whose name is not present yet.
// Existing rows keep their operator-edited flags.
func (s *Store) EnsureDefaultSources(ctx context.Context, defaults []crawler.DataSource, now time.Time) error {
	existing, err := s.ListSources(ctx)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(existing))
	for _, src := range existing {
		have[src.Key()] = true
	}
	for _, d := range defaults {
		if have[d.Key()] {
			continue
		}
		id, err := s.newID()
		if err != nil {
			return err
		}
		_, err = s.pool.Exec(ctx, `
			INSERT INTO data_sources (
				id, name, description, base_url, api_key_required, rate_limit_per_minute,
				crawl_frequency_hours, is_visible, is_enabled, requires_admin_approval, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
			ON CONFLICT (name) DO NOTHING`,
			id,
			d.Name,
			nullString(d.Description),
			d.BaseURL,
			d.APIKeyRequired,
			d.RateLimitPerMinute,
			d.CrawlFrequencyHours,
			d.IsVisible,
			d.IsEnabled,
			d.RequiresAdminApproval,
			now,
		)
		if err != nil {
			return fmt.Errorf("insert source %s: %w", d.Name, err)
		}
		have[d.Key()] = true
	}
	return nil
}

// ListSources returns every source ordered by name.
func (s *Store) ListSources(ctx context.Context) ([]crawler.DataSource, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+sourceColumns+` FROM data_sources d ORDER BY d.name`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()
	var out []crawler.DataSource
	for rows.Next() {
		var src crawler.DataSource
		if err := rows.Scan(sourceDest(&src)...); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return out, nil
}

// GetSourceByName matches the name ignoring case, spaces, underscores and hyphens.
func (s *Store) GetSourceByName(ctx context.Context, name string) (crawler.DataSource, error) {
	var src crawler.DataSource
	err := s.pool.QueryRow(ctx, `
		SELECT `+sourceColumns+` FROM data_sources d
		WHERE regexp_replace(lower(d.name), '[ _-]', '', 'g') = $1
		LIMIT 1`, crawler.NormalizeSourceName(name)).Scan(sourceDest(&src)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.DataSource{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.DataSource{}, fmt.Errorf("get source %s: %w", name, err)
	}
	return src, nil
}

// UpdateSourceCrawlStatus records the outcome of a cycle for a source.
func (s *Store) UpdateSourceCrawlStatus(ctx context.Context, u crawler.SourceStatusUpdate) error {
	return s.execOne(ctx, "update source crawl status", `
		UPDATE data_sources
		SET last_crawl_at = $2, crawl_status = $3, crawl_error_message = $4, updated_at = $2
		WHERE id = $1`, u.SourceID, u.At, u.Status, nullString(u.ErrorMessage))
}
