package scheduler

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/econ-series-crawler/internal/discovery"
	"github.com/JakeFAU/econ-series-crawler/internal/execution"
)

// CrawlingReport is the outcome of one cycle.
type CrawlingReport struct {
	Discovery          *discovery.Result       `json:"discovery,omitempty"`
	Candidates         []Candidate             `json:"candidates,omitempty"`
	Enqueued           int                     `json:"enqueued"`
	CrawlResults       []execution.CrawlResult `json:"crawl_results"`
	TotalSeriesCrawled int                     `json:"total_series_crawled"`
	TotalNewDataPoints int                     `json:"total_new_data_points"`
	Errors             []string                `json:"errors"`
	Insights           Insights                `json:"insights"`
	DryRun             bool                    `json:"dry_run"`
	StartTime          time.Time               `json:"start_time"`
	EndTime            time.Time               `json:"end_time"`
}

// SourceInsight is the per-source success breakdown.
type SourceInsight struct {
	Source      string  `json:"source"`
	Attempts    int     `json:"attempts"`
	Successful  int     `json:"successful"`
	SuccessRate float64 `json:"success_rate"`
}

// Insights are advisory; they never fail a cycle.
type Insights struct {
	Sources            []SourceInsight `json:"sources"`
	AvgNewPointsPerRun float64         `json:"avg_new_points_per_series"`
	HighErrorRate      bool            `json:"high_error_rate"`
	LowDataYield       bool            `json:"low_data_yield"`
	Recommendations    []string        `json:"recommendations,omitempty"`
}

// Summarize fills the totals and insights from CrawlResults.
func (r *CrawlingReport) Summarize() {
	r.TotalSeriesCrawled = 0
	r.TotalNewDataPoints = 0
	bySource := map[string]*SourceInsight{}
	failed := 0
	for _, res := range r.CrawlResults {
		si, ok := bySource[res.Source]
		if !ok {
			si = &SourceInsight{Source: res.Source}
			bySource[res.Source] = si
		}
		si.Attempts++
		if res.Success {
			si.Successful++
			r.TotalSeriesCrawled++
			r.TotalNewDataPoints += res.NewDataPoints
		} else {
			failed++
		}
	}

	ins := Insights{}
	for _, si := range bySource {
		si.SuccessRate = float64(si.Successful) / float64(si.Attempts) * 100
		ins.Sources = append(ins.Sources, *si)
	}
	sort.Slice(ins.Sources, func(i, j int) bool { return ins.Sources[i].Source < ins.Sources[j].Source })

	attempts := len(r.CrawlResults)
	if attempts > 0 && failed*4 > attempts {
		ins.HighErrorRate = true
		ins.Recommendations = append(ins.Recommendations,
			"high error rate: check API keys and rate limits",
			"high error rate: review network connectivity",
			"high error rate: lower crawl frequency for failing sources",
		)
	}
	if r.TotalSeriesCrawled > 0 {
		ins.AvgNewPointsPerRun = float64(r.TotalNewDataPoints) / float64(r.TotalSeriesCrawled)
	}
	if attempts > 0 && ins.AvgNewPointsPerRun < 1 {
		ins.LowDataYield = true
		ins.Recommendations = append(ins.Recommendations,
			"low data yield: crawl high-value series more often",
			"low data yield: review series selection",
		)
	}
	r.Insights = ins
}

// Log writes the report summary and advisories.
func (r *CrawlingReport) Log(logger *zap.Logger) {
	for _, si := range r.Insights.Sources {
		logger.Info("source success rate",
			zap.String("source", si.Source),
			zap.String("rate", fmt.Sprintf("%.1f%%", si.SuccessRate)),
			zap.Int("successful", si.Successful),
			zap.Int("attempts", si.Attempts),
		)
	}
	for _, rec := range r.Insights.Recommendations {
		logger.Warn("crawl advisory", zap.String("recommendation", rec))
	}
	logger.Info("crawl cycle complete",
		zap.Bool("dry_run", r.DryRun),
		zap.Int("candidates", len(r.Candidates)),
		zap.Int("enqueued", r.Enqueued),
		zap.Int("series_crawled", r.TotalSeriesCrawled),
		zap.Int("new_data_points", r.TotalNewDataPoints),
		zap.Float64("avg_new_points", r.Insights.AvgNewPointsPerRun),
		zap.Int("errors", len(r.Errors)),
		zap.Duration("elapsed", r.EndTime.Sub(r.StartTime)),
	)
}
