package crawler

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"
)

// CrawlMethodAPI is the only crawl method the service performs.
const CrawlMethodAPI = "api"

// ErrorType classifies a failed crawl attempt.
type ErrorType string

// Attempt error types.
const (
	ErrorTypeNetwork        ErrorType = "network"
	ErrorTypeAPILimit       ErrorType = "api_limit"
	ErrorTypeDataFormat     ErrorType = "data_format"
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeAuthentication ErrorType = "authentication"
	ErrorTypeRateLimit      ErrorType = "rate_limit"
	ErrorTypeTimeout        ErrorType = "timeout"
	ErrorTypeServerError    ErrorType = "server_error"
	ErrorTypeUnknown        ErrorType = "unknown"
)

// CrawlAttempt is the audit record of one fetch try.
type CrawlAttempt struct {
	ID          string     `json:"id"`
	SeriesID    string     `json:"series_id"`
	AttemptedAt time.Time  `json:"attempted_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CrawlMethod string     `json:"crawl_method"`
	CrawlURL    string     `json:"crawl_url,omitempty"`
	// HTTPStatusCode is nil when no response was received.
	HTTPStatusCode     *int       `json:"http_status_code,omitempty"`
	DataFound          bool       `json:"data_found"`
	NewDataPoints      int        `json:"new_data_points"`
	LatestDataDate     *time.Time `json:"latest_data_date,omitempty"`
	DataFreshnessHours *int       `json:"data_freshness_hours,omitempty"`
	Success            bool       `json:"success"`
	ErrorType          *ErrorType `json:"error_type,omitempty"`
	ErrorMessage       string     `json:"error_message,omitempty"`
	RetryCount         int        `json:"retry_count"`
	ResponseTimeMs     *int64     `json:"response_time_ms,omitempty"`
	DataSizeBytes      *int64     `json:"data_size_bytes,omitempty"`
	UserAgent          string     `json:"user_agent,omitempty"`
	RawPayloadURI      string     `json:"raw_payload_uri,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// AttemptOutcome carries the completion fields for an in-flight attempt.
type AttemptOutcome struct {
	Success            bool
	DataFound          bool
	NewDataPoints      int
	CrawlURL           string
	HTTPStatusCode     *int
	LatestDataDate     *time.Time
	DataFreshnessHours *int
	ErrorType          *ErrorType
	ErrorMessage       string
	ResponseTimeMs     *int64
	DataSizeBytes      *int64
	RawPayloadURI      string
	// PayloadDigest travels on the attempt event only; it is not persisted.
	PayloadDigest string
	CompletedAt   time.Time
}

// HTTPStatusError reports a non-2xx provider response.
type HTTPStatusError struct {
	StatusCode int
	URL        string
}

func (e *HTTPStatusError) Error() string {
	return "unexpected status " + strconv.Itoa(e.StatusCode) + " from " + e.URL
}

// ClassifyError maps an execution error onto an attempt error type.
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}
	if errors.Is(err, ErrDataFormat) {
		return ErrorTypeDataFormat
	}
	if errors.Is(err, ErrMissingAPIKey) {
		return ErrorTypeAuthentication
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == 429:
			return ErrorTypeRateLimit
		case statusErr.StatusCode == 401 || statusErr.StatusCode == 403:
			return ErrorTypeAuthentication
		case statusErr.StatusCode == 404:
			return ErrorTypeNotFound
		case statusErr.StatusCode >= 500:
			return ErrorTypeServerError
		}
		return ErrorTypeUnknown
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTypeTimeout
		}
		return ErrorTypeNetwork
	}
	if strings.Contains(strings.ToLower(err.Error()), "limit exceeded") {
		return ErrorTypeAPILimit
	}
	return ErrorTypeUnknown
}
