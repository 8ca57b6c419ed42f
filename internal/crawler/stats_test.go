package crawler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

func TestComputeCrawlStatisticsEmpty(t *testing.T) {
	t.Parallel()

	stats := ComputeCrawlStatistics("series-1", nil)
	require.Equal(t, "series-1", stats.SeriesID)
	require.Zero(t, stats.TotalAttempts)
	require.Nil(t, stats.LastAttempt)
	require.Nil(t, stats.AvgDataFreshnessHours)
	// No freshness (24) * success x4 * data x4.
	require.Equal(t, 384, stats.RecommendedCrawlFrequencyHours)
}

func TestComputeCrawlStatisticsAggregates(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	attempts := []CrawlAttempt{
		{AttemptedAt: base, Success: true, DataFound: true, DataFreshnessHours: intPtr(12), ResponseTimeMs: int64Ptr(100)},
		{AttemptedAt: base.Add(2 * time.Hour), Success: false, RetryCount: 1, ResponseTimeMs: int64Ptr(300)},
		{AttemptedAt: base.Add(time.Hour), Success: true, DataFound: false, DataFreshnessHours: intPtr(36)},
		{AttemptedAt: base.Add(-time.Hour), Success: true, DataFound: true},
	}

	stats := ComputeCrawlStatistics("s", attempts)
	require.Equal(t, 4, stats.TotalAttempts)
	require.Equal(t, 3, stats.SuccessfulAttempts)
	require.Equal(t, 2, stats.DataFoundAttempts)
	require.InDelta(t, 0.75, stats.SuccessRate, 1e-9)
	require.InDelta(t, 0.5, stats.DataFoundRate, 1e-9)
	require.NotNil(t, stats.AvgDataFreshnessHours)
	require.InDelta(t, 24.0, *stats.AvgDataFreshnessHours, 1e-9)
	require.NotNil(t, stats.AvgResponseTimeMs)
	require.InDelta(t, 200.0, *stats.AvgResponseTimeMs, 1e-9)
	require.NotNil(t, stats.LastAttempt)
	require.True(t, stats.LastAttempt.Equal(base.Add(2*time.Hour)))
	require.False(t, stats.LastAttemptSucceeded)
	require.Equal(t, 1, stats.LastAttemptRetryCount)
}

func TestRecommendedCrawlFrequency(t *testing.T) {
	t.Parallel()

	f := func(v float64) *float64 { return &v }
	cases := []struct {
		name      string
		freshness *float64
		success   float64
		dataFound float64
		want      int
	}{
		{"fast healthy", f(6), 0.95, 0.9, 6},
		{"daily healthy", f(48), 0.95, 0.9, 24},
		{"weekly healthy", f(500), 0.95, 0.9, 168},
		{"no freshness", nil, 0.95, 0.9, 24},
		{"mediocre success", f(6), 0.8, 0.9, 12},
		{"poor data", f(6), 0.95, 0.2, 24},
		{"half data", f(6), 0.95, 0.6, 12},
		{"clamped", f(500), 0.1, 0.1, 672},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, RecommendedCrawlFrequency(tc.freshness, tc.success, tc.dataFound))
		})
	}
}
