package execution

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/econ-series-crawler/internal/crawler"
)

var dateLayouts = []string{"2006-01-02", "2006-01", "2006"}

// ParseObservationDate accepts daily, monthly, annual and quarterly
// (2006-Q1 or 2006Q1) period strings and returns the first day of the period.
func ParseObservationDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if year, q, ok := splitQuarter(s); ok {
		return time.Date(year, time.Month((q-1)*3+1), 1, 0, 0, 0, 0, time.UTC), nil
	}
	for _, layout := range dateLayouts {
		if len(s) != len(layout) {
			continue
		}
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("date %q: %w", s, crawler.ErrDataFormat)
}

func splitQuarter(s string) (int, int, bool) {
	upper := strings.ToUpper(s)
	idx := strings.Index(upper, "Q")
	if idx != 4 && idx != 5 {
		return 0, 0, false
	}
	yearPart := upper[:4]
	if idx == 5 && upper[4] != '-' {
		return 0, 0, false
	}
	year, err := strconv.Atoi(yearPart)
	if err != nil {
		return 0, 0, false
	}
	q, err := strconv.Atoi(upper[idx+1:])
	if err != nil || q < 1 || q > 4 {
		return 0, 0, false
	}
	return year, q, true
}

// ParseObservationValue parses a numeric observation.
func ParseObservationValue(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(s, ",", "")), 64)
	if err != nil {
		return 0, fmt.Errorf("value %q: %w", s, crawler.ErrDataFormat)
	}
	return v, nil
}

// FreshnessHours is whole days between latest and now, in hours.
func FreshnessHours(latest, now time.Time) int {
	days := int(now.Sub(latest).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return days * 24
}
