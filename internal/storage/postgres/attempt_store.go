package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/econ-series-crawler/internal/crawler"
)

// CreateAttempt inserts an in-flight attempt.
func (s *Store) CreateAttempt(ctx context.Context, a crawler.CrawlAttempt) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO crawl_attempts (
			id, series_id, attempted_at, crawl_method, crawl_url, retry_count, user_agent, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		a.ID,
		a.SeriesID,
		a.AttemptedAt,
		a.CrawlMethod,
		nullString(a.CrawlURL),
		a.RetryCount,
		nullString(a.UserAgent),
		a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create attempt: %w", err)
	}
	return nil
}

// CompleteAttempt fills the completion fields of an attempt. An empty crawl
// URL leaves the stored URL untouched.
func (s *Store) CompleteAttempt(ctx context.Context, id string, o crawler.AttemptOutcome) error {
	var errType *string
	if o.ErrorType != nil {
		v := string(*o.ErrorType)
		errType = &v
	}
	return s.execOne(ctx, "complete attempt", `
		UPDATE crawl_attempts SET
			completed_at = $2,
			success = $3,
			data_found = $4,
			new_data_points = $5,
			crawl_url = COALESCE($6, crawl_url),
			http_status_code = $7,
			latest_data_date = $8,
			data_freshness_hours = $9,
			error_type = $10,
			error_message = $11,
			response_time_ms = $12,
			data_size_bytes = $13,
			raw_payload_uri = $14,
			updated_at = $2
		WHERE id = $1`,
		id,
		o.CompletedAt,
		o.Success,
		o.DataFound,
		o.NewDataPoints,
		nullString(o.CrawlURL),
		o.HTTPStatusCode,
		o.LatestDataDate,
		o.DataFreshnessHours,
		errType,
		nullString(o.ErrorMessage),
		o.ResponseTimeMs,
		o.DataSizeBytes,
		nullString(o.RawPayloadURI),
	)
}

// ListAttemptsSince returns a series' attempts at or after since, newest first.
func (s *Store) ListAttemptsSince(ctx context.Context, seriesID string, since time.Time) ([]crawler.CrawlAttempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, series_id::text, attempted_at, completed_at, crawl_method, COALESCE(crawl_url, ''),
			http_status_code, data_found, new_data_points, latest_data_date, data_freshness_hours, success,
			error_type, COALESCE(error_message, ''), retry_count, response_time_ms, data_size_bytes,
			COALESCE(user_agent, ''), COALESCE(raw_payload_uri, ''), created_at, updated_at
		FROM crawl_attempts
		WHERE series_id = $1 AND attempted_at >= $2
		ORDER BY attempted_at DESC`, seriesID, since)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var out []crawler.CrawlAttempt
	for rows.Next() {
		var (
			a       crawler.CrawlAttempt
			errType *string
		)
		if err := rows.Scan(
			&a.ID,
			&a.SeriesID,
			&a.AttemptedAt,
			&a.CompletedAt,
			&a.CrawlMethod,
			&a.CrawlURL,
			&a.HTTPStatusCode,
			&a.DataFound,
			&a.NewDataPoints,
			&a.LatestDataDate,
			&a.DataFreshnessHours,
			&a.Success,
			&errType,
			&a.ErrorMessage,
			&a.RetryCount,
			&a.ResponseTimeMs,
			&a.DataSizeBytes,
			&a.UserAgent,
			&a.RawPayloadURI,
			&a.CreatedAt,
			&a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		if errType != nil {
			et := crawler.ErrorType(*errType)
			a.ErrorType = &et
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return out, nil
}

// DataPointExists reports whether any revision exists for (series, date).
func (s *Store) DataPointExists(ctx context.Context, seriesID string, date time.Time) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM data_points WHERE series_id = $1 AND date = $2)`,
		seriesID, date).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check data point: %w", err)
	}
	return exists, nil
}

// InsertDataPoint stores an observation; a duplicate revision is ignored.
func (s *Store) InsertDataPoint(ctx context.Context, p crawler.DataPoint) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO data_points (series_id, date, value, revision_date, is_original_release, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (series_id, date, revision_date) DO NOTHING`,
		p.SeriesID, p.Date, p.Value, p.RevisionDate, p.IsOriginalRelease, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert data point: %w", err)
	}
	return nil
}
