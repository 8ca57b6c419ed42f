package crawler

import "time"

// StatsWindow is how far back attempt statistics look.
const StatsWindow = 30 * 24 * time.Hour

// CrawlStatistics aggregates recent attempts for one series.
type CrawlStatistics struct {
	SeriesID                       string     `json:"series_id"`
	TotalAttempts                  int        `json:"total_attempts"`
	SuccessfulAttempts             int        `json:"successful_attempts"`
	DataFoundAttempts              int        `json:"data_found_attempts"`
	SuccessRate                    float64    `json:"success_rate"`
	DataFoundRate                  float64    `json:"data_found_rate"`
	AvgDataFreshnessHours          *float64   `json:"avg_data_freshness_hours,omitempty"`
	AvgResponseTimeMs              *float64   `json:"avg_response_time_ms,omitempty"`
	LastAttempt                    *time.Time `json:"last_attempt,omitempty"`
	LastAttemptSucceeded           bool       `json:"last_attempt_succeeded"`
	LastAttemptRetryCount          int        `json:"last_attempt_retry_count"`
	RecommendedCrawlFrequencyHours int        `json:"recommended_crawl_frequency_hours"`
}

// ComputeCrawlStatistics folds attempts (any order) into statistics.
func ComputeCrawlStatistics(seriesID string, attempts []CrawlAttempt) CrawlStatistics {
	stats := CrawlStatistics{SeriesID: seriesID, TotalAttempts: len(attempts)}
	var freshSum, respSum float64
	var freshN, respN int
	var last *CrawlAttempt
	for i := range attempts {
		a := &attempts[i]
		if a.Success {
			stats.SuccessfulAttempts++
		}
		if a.DataFound {
			stats.DataFoundAttempts++
		}
		if a.DataFreshnessHours != nil {
			freshSum += float64(*a.DataFreshnessHours)
			freshN++
		}
		if a.ResponseTimeMs != nil {
			respSum += float64(*a.ResponseTimeMs)
			respN++
		}
		if last == nil || a.AttemptedAt.After(last.AttemptedAt) {
			last = a
		}
	}
	if stats.TotalAttempts > 0 {
		stats.SuccessRate = float64(stats.SuccessfulAttempts) / float64(stats.TotalAttempts)
		stats.DataFoundRate = float64(stats.DataFoundAttempts) / float64(stats.TotalAttempts)
	}
	if freshN > 0 {
		avg := freshSum / float64(freshN)
		stats.AvgDataFreshnessHours = &avg
	}
	if respN > 0 {
		avg := respSum / float64(respN)
		stats.AvgResponseTimeMs = &avg
	}
	if last != nil {
		at := last.AttemptedAt
		stats.LastAttempt = &at
		stats.LastAttemptSucceeded = last.Success
		stats.LastAttemptRetryCount = last.RetryCount
	}
	stats.RecommendedCrawlFrequencyHours = RecommendedCrawlFrequency(
		stats.AvgDataFreshnessHours, stats.SuccessRate, stats.DataFoundRate,
	)
	return stats
}

// RecommendedCrawlFrequency derives a re-crawl interval in hours, clamped to [1, 672].
func RecommendedCrawlFrequency(avgFreshnessHours *float64, successRate, dataFoundRate float64) int {
	base := 24
	if avgFreshnessHours != nil {
		switch {
		case *avgFreshnessHours < 24:
			base = 6
		case *avgFreshnessHours < 168:
			base = 24
		default:
			base = 168
		}
	}

	successMul := 4
	switch {
	case successRate > 0.9:
		successMul = 1
	case successRate > 0.7:
		successMul = 2
	}

	dataMul := 4
	switch {
	case dataFoundRate > 0.8:
		dataMul = 1
	case dataFoundRate > 0.5:
		dataMul = 2
	}

	hours := base * successMul * dataMul
	if hours < 1 {
		return 1
	}
	if hours > 672 {
		return 672
	}
	return hours
}
