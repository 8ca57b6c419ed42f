package sources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/econ-series-crawler/internal/crawler"
)

// fredSearchTerms are walked after the popularity listing.
var fredSearchTerms = []string{
	"GDP", "unemployment", "inflation", "interest rate", "employment",
	"consumer price", "producer price", "retail sales", "industrial production",
	"housing", "trade", "balance", "debt", "revenue", "expenditure",
}

// FRED adapts the St. Louis Fed API.
type FRED struct {
	client    *Client
	baseURL   string
	apiKey    string
	maxSeries int
}

// NewFRED creates the adapter. maxSeries <= 0 means no cap.
func NewFRED(client *Client, baseURL, apiKey string, maxSeries int) *FRED {
	return &FRED{client: client, baseURL: baseURL, apiKey: apiKey, maxSeries: maxSeries}
}

// Name implements Discoverer.
func (f *FRED) Name() string { return "FRED" }

// Configured reports whether an API key is present.
func (f *FRED) Configured() bool { return f.apiKey != "" }

type fredSeriesResponse struct {
	Seriess []struct {
		ID        string `json:"id"`
		Title     string `json:"title"`
		Notes     string `json:"notes"`
		Units     string `json:"units"`
		Frequency string `json:"frequency"`
	} `json:"seriess"`
}

type fredObservationsResponse struct {
	Observations []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"observations"`
}

func (f *FRED) full(n int) bool {
	return f.maxSeries > 0 && n >= f.maxSeries
}

// DiscoverSeries walks popular series, then each search term, de-duplicating by id.
func (f *FRED) DiscoverSeries(ctx context.Context) ([]crawler.SeriesInfo, error) {
	if !f.Configured() {
		return nil, fmt.Errorf("fred discovery: %w", crawler.ErrMissingAPIKey)
	}
	seen := make(map[string]bool)
	var out []crawler.SeriesInfo
	queries := append([]string{"*"}, fredSearchTerms...)
	for _, term := range queries {
		if f.full(len(out)) {
			break
		}
		params := map[string]string{
			"search_text": term,
			"api_key":     f.apiKey,
			"file_type":   "json",
			"limit":       "100",
		}
		if term == "*" {
			params["sort_order"] = "popularity"
		}
		resp, err := f.client.Get(ctx, f.baseURL+"/series/search", params)
		if err != nil {
			return out, fmt.Errorf("fred search %q: %w", term, err)
		}
		var parsed fredSeriesResponse
		if err := json.Unmarshal(resp.Body, &parsed); err != nil {
			return out, fmt.Errorf("fred search %q: %w: %v", term, crawler.ErrDataFormat, err)
		}
		for _, s := range parsed.Seriess {
			if s.ID == "" || seen[s.ID] {
				continue
			}
			seen[s.ID] = true
			out = append(out, crawler.SeriesInfo{
				ExternalID:      s.ID,
				Title:           s.Title,
				Description:     s.Notes,
				Units:           s.Units,
				Frequency:       s.Frequency,
				GeographicLevel: "United States",
				DataURL:         f.baseURL + "/series?series_id=" + s.ID,
			})
			if f.full(len(out)) {
				break
			}
		}
	}
	return out, nil
}

// FetchObservations downloads up to 1000 observations.
func (f *FRED) FetchObservations(ctx context.Context, externalID string) (FetchResult, error) {
	if !f.Configured() {
		return FetchResult{}, fmt.Errorf("fred fetch: %w", crawler.ErrMissingAPIKey)
	}
	resp, err := f.client.Get(ctx, f.baseURL+"/series/observations", map[string]string{
		"series_id": externalID,
		"api_key":   f.apiKey,
		"file_type": "json",
		"limit":     "1000",
	})
	result := FetchResult{URL: resp.URL + "?series_id=" + externalID, StatusCode: resp.StatusCode, Body: resp.Body}
	if err != nil {
		return result, err
	}
	var parsed fredObservationsResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return result, fmt.Errorf("fred observations: %w: %v", crawler.ErrDataFormat, err)
	}
	result.Observations = make([]crawler.Observation, 0, len(parsed.Observations))
	for _, o := range parsed.Observations {
		result.Observations = append(result.Observations, crawler.Observation{Date: o.Date, Value: o.Value})
	}
	return result, nil
}
