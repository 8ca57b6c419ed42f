package scheduler

import (
	"sort"

	"github.com/JakeFAU/econ-series-crawler/internal/crawler"
)

// Score weights.
const (
	scoreNeverCrawled    = 1000
	scoreHighSuccess     = 500
	scoreMediumSuccess   = 200
	scoreRetryBoost      = 300
	scoreFastMoving      = 400
	scoreStale           = 100
	retryBoostMaxRetries = 3
)

// Candidate is a series with its computed priority.
type Candidate struct {
	Series   crawler.CatalogSeries   `json:"series"`
	Source   crawler.DataSource      `json:"-"`
	Stats    crawler.CrawlStatistics `json:"stats"`
	Score    int                     `json:"score"`
	Priority crawler.QueuePriority   `json:"priority"`
}

// Ref converts the candidate into the execution service's input.
func (c Candidate) Ref() crawler.SeriesRef {
	return crawler.SeriesRef{
		SeriesID:   c.Series.ID,
		ExternalID: c.Series.ExternalID,
		Source:     c.Source.Key(),
		Title:      c.Series.Title,
		RetryCount: c.Stats.LastAttemptRetryCount,
	}
}

// Score ranks a series for crawling. Stats comes from the attempts in the
// statistics window; a series without attempts has zero rates.
func Score(series crawler.CatalogSeries, src crawler.DataSource, stats crawler.CrawlStatistics) int {
	score := 0
	if series.LastCrawledAt == nil {
		score += scoreNeverCrawled
	}
	switch {
	case stats.SuccessRate > 0.8:
		score += scoreHighSuccess
	case stats.SuccessRate > 0.5:
		score += scoreMediumSuccess
	}
	if stats.LastAttempt != nil && !stats.LastAttemptSucceeded && stats.LastAttemptRetryCount < retryBoostMaxRetries {
		score += scoreRetryBoost
	}
	if stats.AvgDataFreshnessHours != nil {
		switch {
		case *stats.AvgDataFreshnessHours < 24:
			score += scoreFastMoving
		case *stats.AvgDataFreshnessHours > 168:
			score += scoreStale
		}
	}
	return score + src.CrawlFrequencyHours
}

// PriorityForScore maps a score onto a queue priority band.
func PriorityForScore(score int) crawler.QueuePriority {
	switch {
	case score >= 1500:
		return crawler.PriorityCritical
	case score >= 1000:
		return crawler.PriorityHigh
	case score >= 500:
		return crawler.PriorityNormal
	case score >= 200:
		return 3
	default:
		return crawler.PriorityLow
	}
}

// rank sorts candidates by score, highest first, and truncates to limit.
// Ties go to the series discovered first.
func rank(cands []Candidate, limit int) []Candidate {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].Series.FirstDiscoveredAt.Before(cands[j].Series.FirstDiscoveredAt)
	})
	if limit > 0 && len(cands) > limit {
		cands = cands[:limit]
	}
	return cands
}
