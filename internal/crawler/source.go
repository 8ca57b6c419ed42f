package crawler

import (
	"strings"
	"time"
)

// Source crawl statuses written by the scheduler.
const (
	SourceCrawlCompleted = "completed"
	SourceCrawlFailed    = "failed"
)

// DataSource is an external statistical provider and its crawl settings.
type DataSource struct {
	ID                    string     `json:"id"`
	Name                  string     `json:"name"`
	Description           string     `json:"description,omitempty"`
	BaseURL               string     `json:"base_url"`
	APIKeyRequired        bool       `json:"api_key_required"`
	RateLimitPerMinute    int        `json:"rate_limit_per_minute"`
	CrawlFrequencyHours   int        `json:"crawl_frequency_hours"`
	IsVisible             bool       `json:"is_visible"`
	IsEnabled             bool       `json:"is_enabled"`
	RequiresAdminApproval bool       `json:"requires_admin_approval"`
	LastCrawlAt           *time.Time `json:"last_crawl_at,omitempty"`
	CrawlStatus           string     `json:"crawl_status,omitempty"`
	CrawlErrorMessage     string     `json:"crawl_error_message,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// Crawlable reports whether the scheduler may crawl this source.
func (d DataSource) Crawlable() bool {
	return d.IsEnabled && d.IsVisible && !d.RequiresAdminApproval
}

// Key returns the normalised lookup key for the source name.
func (d DataSource) Key() string {
	return NormalizeSourceName(d.Name)
}

// NormalizeSourceName folds case, spaces and separators so "World Bank",
// "world_bank" and "worldbank" resolve to the same source.
func NormalizeSourceName(name string) string {
	r := strings.NewReplacer(" ", "", "_", "", "-", "")
	return r.Replace(strings.ToLower(strings.TrimSpace(name)))
}

// SourceStatusUpdate is the per-source outcome recorded after a cycle.
type SourceStatusUpdate struct {
	SourceID     string
	Status       string
	ErrorMessage string
	At           time.Time
}

// DefaultDataSources returns the built-in provider catalogue.
func DefaultDataSources() []DataSource {
	return []DataSource{
		defaultSource("FRED", "Federal Reserve Economic Data", "https://api.stlouisfed.org/fred", true, 120, 6),
		defaultSource("BLS", "Bureau of Labor Statistics", "https://api.bls.gov/publicAPI/v2", true, 500, 12),
		defaultSource("Census", "U.S. Census Bureau", "https://api.census.gov/data", false, 500, 24),
		defaultSource("BEA", "Bureau of Economic Analysis", "https://apps.bea.gov/api/data", true, 1000, 24),
		defaultSource("World Bank", "World Bank Open Data", "https://api.worldbank.org/v2", false, 1000, 24),
		defaultSource("IMF", "International Monetary Fund", "https://dataservices.imf.org/REST/SDMX_JSON.svc", false, 1000, 24),
		defaultSource("FHFA", "Federal Housing Finance Agency", "https://api.fhfa.gov", false, 1000, 24),
		defaultSource("ECB", "European Central Bank", "https://sdw-wsrest.ecb.europa.eu/service", false, 1000, 24),
		defaultSource("OECD", "Organisation for Economic Co-operation and Development", "https://sdmx.oecd.org/public/rest/data", false, 1000, 24),
		defaultSource("BoE", "Bank of England", "https://www.bankofengland.co.uk/boeapps/database", false, 1000, 24),
		defaultSource("WTO", "World Trade Organization", "https://api.wto.org/timeseries/v1", false, 1000, 24),
		defaultSource("BoJ", "Bank of Japan", "https://www.stat-search.boj.or.jp/ssi/mtshtml", false, 1000, 24),
	}
}

func defaultSource(name, description, baseURL string, keyRequired bool, perMinute, hours int) DataSource {
	return DataSource{
		Name:                name,
		Description:         description,
		BaseURL:             baseURL,
		APIKeyRequired:      keyRequired,
		RateLimitPerMinute:  perMinute,
		CrawlFrequencyHours: hours,
		IsVisible:           true,
		IsEnabled:           true,
	}
}
