package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/econ-series-crawler/internal/crawler"
)

const blsSucceeded = "REQUEST_SUCCEEDED"

var blsSeries = []crawler.SeriesInfo{
	{ExternalID: "LAUCN040010000000005", Title: "Unemployment Rate - Apache County, AZ", Units: "Percent", Frequency: "Monthly", GeographicLevel: "County"},
	{ExternalID: "LAUCN040010000000003", Title: "Labor Force - Apache County, AZ", Units: "Persons", Frequency: "Monthly", GeographicLevel: "County"},
	{ExternalID: "LAUCN040010000000004", Title: "Employment - Apache County, AZ", Units: "Persons", Frequency: "Monthly", GeographicLevel: "County"},
	{ExternalID: "CUSR0000SA0", Title: "CPI for All Urban Consumers: All Items in U.S. City Average", Units: "Index 1982-1984=100", Frequency: "Monthly", GeographicLevel: "National"},
	{ExternalID: "CUSR0000SA0L1E", Title: "CPI for All Urban Consumers: All Items Less Food and Energy", Units: "Index 1982-1984=100", Frequency: "Monthly", GeographicLevel: "National"},
	{ExternalID: "CUSR0000SETB01", Title: "CPI for All Urban Consumers: Gasoline (all types)", Units: "Index 1982-1984=100", Frequency: "Monthly", GeographicLevel: "National"},
	{ExternalID: "CES0000000001", Title: "All Employees, Total Nonfarm", Units: "Thousands of Persons", Frequency: "Monthly", GeographicLevel: "National"},
	{ExternalID: "CES0500000003", Title: "Average Hourly Earnings of All Employees, Total Private", Units: "Dollars per Hour", Frequency: "Monthly", GeographicLevel: "National"},
	{ExternalID: "CES0000000007", Title: "Average Weekly Hours of All Employees, Total Private", Units: "Hours", Frequency: "Monthly", GeographicLevel: "National"},
	{ExternalID: "WPU00000000", Title: "Producer Price Index by Commodity: All Commodities", Units: "Index 1982=100", Frequency: "Monthly", GeographicLevel: "National"},
	{ExternalID: "WPUFD49507", Title: "Producer Price Index by Commodity: Finished Goods", Units: "Index 1982=100", Frequency: "Monthly", GeographicLevel: "National"},
	{ExternalID: "MXUS0000000000", Title: "Import Price Index: All Imports", Units: "Index", Frequency: "Monthly", GeographicLevel: "National"},
	{ExternalID: "MXUS0000000001", Title: "Export Price Index: All Exports", Units: "Index", Frequency: "Monthly", GeographicLevel: "National"},
	{ExternalID: "CIU2010000000000A", Title: "Employment Cost Index: Wages and Salaries: Private Industry Workers", Units: "Percent Change", Frequency: "Quarterly", GeographicLevel: "National"},
	{ExternalID: "CIU2020000000000A", Title: "Employment Cost Index: Benefits: Private Industry Workers", Units: "Percent Change", Frequency: "Quarterly", GeographicLevel: "National"},
}

// blsMaxSurveys bounds how many surveys are walked per discovery run.
const blsMaxSurveys = 25

// BLS adapts the Bureau of Labor Statistics v2 API.
type BLS struct {
	client     *Client
	baseURL    string
	apiKey     string
	maxSeries  int
	maxSurveys int
}

// NewBLS creates the adapter. maxSeries <= 0 means no cap.
func NewBLS(client *Client, baseURL, apiKey string, maxSeries int) *BLS {
	return &BLS{
		client:     client,
		baseURL:    baseURL,
		apiKey:     apiKey,
		maxSeries:  maxSeries,
		maxSurveys: blsMaxSurveys,
	}
}

// Name implements Discoverer.
func (b *BLS) Name() string { return "BLS" }

// Configured reports whether a registration key is present.
func (b *BLS) Configured() bool { return b.apiKey != "" }

func (b *BLS) full(n int) bool {
	return b.maxSeries > 0 && n >= b.maxSeries
}

func (b *BLS) seriesURL(id string) string {
	return b.baseURL + "/timeseries/data/" + id
}

type blsSurveysResponse struct {
	Status  string   `json:"status"`
	Message []string `json:"message"`
	Results struct {
		Survey []struct {
			Abbreviation string `json:"survey_abbreviation"`
			Name         string `json:"survey_name"`
		} `json:"survey"`
	} `json:"Results"`
}

type blsSurveySeriesResponse struct {
	Status  string   `json:"status"`
	Message []string `json:"message"`
	Results struct {
		Series []struct {
			SeriesID string `json:"seriesID"`
			Title    string `json:"title"`
		} `json:"series"`
	} `json:"Results"`
}

// DiscoverSeries lists the surveys and then the series of each survey. The
// curated list is returned when the survey listing fails or nothing is found;
// a survey whose series cannot be listed is skipped.
func (b *BLS) DiscoverSeries(ctx context.Context) ([]crawler.SeriesInfo, error) {
	out, err := b.walkSurveys(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("bls discovery: %w", ctxErr)
	}
	if err != nil || len(out) == 0 {
		return b.curated(), nil
	}
	return out, nil
}

func (b *BLS) walkSurveys(ctx context.Context) ([]crawler.SeriesInfo, error) {
	resp, err := b.client.Get(ctx, b.baseURL+"/surveys", nil)
	if err != nil {
		return nil, fmt.Errorf("bls surveys: %w", err)
	}
	var surveys blsSurveysResponse
	if err := json.Unmarshal(resp.Body, &surveys); err != nil {
		return nil, fmt.Errorf("bls surveys: %w: %v", crawler.ErrDataFormat, err)
	}
	if surveys.Status != blsSucceeded {
		return nil, errors.New("bls surveys not processed: " + strings.Join(surveys.Message, "; "))
	}

	seen := make(map[string]bool)
	var out []crawler.SeriesInfo
	for i, survey := range surveys.Results.Survey {
		if i >= b.maxSurveys || b.full(len(out)) {
			break
		}
		abbr := strings.TrimSpace(survey.Abbreviation)
		if abbr == "" {
			continue
		}
		resp, err := b.client.Get(ctx, b.baseURL+"/survey/"+abbr+"/series", nil)
		if err != nil {
			if ctx.Err() != nil {
				return out, err
			}
			continue
		}
		var listing blsSurveySeriesResponse
		if err := json.Unmarshal(resp.Body, &listing); err != nil || listing.Status != blsSucceeded {
			continue
		}
		for _, series := range listing.Results.Series {
			if series.SeriesID == "" || seen[series.SeriesID] {
				continue
			}
			seen[series.SeriesID] = true
			out = append(out, crawler.SeriesInfo{
				ExternalID:      series.SeriesID,
				Title:           series.Title,
				Description:     survey.Name,
				GeographicLevel: "United States",
				DataURL:         b.seriesURL(series.SeriesID),
			})
			if b.full(len(out)) {
				break
			}
		}
	}
	return out, nil
}

func (b *BLS) curated() []crawler.SeriesInfo {
	out := make([]crawler.SeriesInfo, 0, len(blsSeries))
	for _, s := range blsSeries {
		if b.full(len(out)) {
			break
		}
		s.DataURL = b.seriesURL(s.ExternalID)
		out = append(out, s)
	}
	return out
}

type blsRequest struct {
	SeriesID        []string `json:"seriesid"`
	RegistrationKey string   `json:"registrationkey,omitempty"`
}

type blsResponse struct {
	Status  string   `json:"status"`
	Message []string `json:"message"`
	Results struct {
		Series []struct {
			SeriesID string `json:"seriesID"`
			Data     []struct {
				Year   string `json:"year"`
				Period string `json:"period"`
				Value  string `json:"value"`
			} `json:"data"`
		} `json:"series"`
	} `json:"Results"`
}

// FetchObservations posts a single-series timeseries request.
func (b *BLS) FetchObservations(ctx context.Context, externalID string) (FetchResult, error) {
	if !b.Configured() {
		return FetchResult{}, fmt.Errorf("bls fetch: %w", crawler.ErrMissingAPIKey)
	}
	resp, err := b.client.PostJSON(ctx, b.baseURL+"/timeseries/data/", blsRequest{
		SeriesID:        []string{externalID},
		RegistrationKey: b.apiKey,
	})
	result := FetchResult{URL: resp.URL, StatusCode: resp.StatusCode, Body: resp.Body}
	if err != nil {
		return result, err
	}
	var parsed blsResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return result, fmt.Errorf("bls observations: %w: %v", crawler.ErrDataFormat, err)
	}
	if parsed.Status != blsSucceeded {
		return result, errors.New("bls request not processed: " + strings.Join(parsed.Message, "; "))
	}
	for _, series := range parsed.Results.Series {
		for _, d := range series.Data {
			date, ok := blsPeriodDate(d.Year, d.Period)
			if !ok {
				continue
			}
			result.Observations = append(result.Observations, crawler.Observation{Date: date, Value: d.Value})
		}
	}
	return result, nil
}

// blsPeriodDate converts a BLS (year, period) pair. M13 annual averages and
// unknown period codes are dropped.
func blsPeriodDate(year, period string) (string, bool) {
	if len(period) != 3 || year == "" {
		return "", false
	}
	code, num := period[0], period[1:]
	switch code {
	case 'M':
		if num == "13" || num < "01" || num > "12" {
			return "", false
		}
		return year + "-" + num, true
	case 'Q':
		if num < "01" || num > "04" {
			return "", false
		}
		return year + "-Q" + num[1:], true
	case 'A':
		return year, true
	}
	return "", false
}
