package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/JakeFAU/econ-series-crawler/internal/crawler"
)

var worldBankIndicators = []crawler.SeriesInfo{
	{ExternalID: "NY.GDP.MKTP.CD", Title: "GDP (current US$)", Units: "Current US$"},
	{ExternalID: "NY.GDP.MKTP.KD.ZG", Title: "GDP growth (annual %)", Units: "Percent"},
	{ExternalID: "FP.CPI.TOTL.ZG", Title: "Inflation, consumer prices (annual %)", Units: "Percent"},
	{ExternalID: "SL.UEM.TOTL.ZS", Title: "Unemployment, total (% of total labor force)", Units: "Percent"},
	{ExternalID: "FR.INR.RINR", Title: "Real interest rate (%)", Units: "Percent"},
	{ExternalID: "NE.TRD.GNFS.ZS", Title: "Trade (% of GDP)", Units: "Percent of GDP"},
	{ExternalID: "GC.DOD.TOTL.GD.ZS", Title: "Central government debt, total (% of GDP)", Units: "Percent of GDP"},
	{ExternalID: "GC.REV.XGRT.GD.ZS", Title: "Revenue, excluding grants (% of GDP)", Units: "Percent of GDP"},
	{ExternalID: "GC.XPN.TOTL.GD.ZS", Title: "Expense (% of GDP)", Units: "Percent of GDP"},
	{ExternalID: "BN.CAB.XOKA.GD.ZS", Title: "Current account balance (% of GDP)", Units: "Percent of GDP"},
}

// worldBankMaxPages bounds the indicator walk; the full listing runs to
// several hundred pages.
const worldBankMaxPages = 10

// worldBankKeywords and worldBankIDPrefixes select economic indicators from
// the full listing.
var (
	worldBankKeywords = []string{
		"gdp", "gross domestic product", "inflation", "unemployment", "interest rate",
		"exchange rate", "trade", "debt", "revenue", "expenditure", "current account",
		"balance of payments", "economic", "financial", "monetary", "fiscal", "price",
		"wage", "income", "consumption", "investment", "savings", "export", "import",
		"surplus", "deficit", "budget",
	}
	worldBankIDPrefixes = []string{
		"ny.gdp", "fp.cpi", "sl.uem", "fr.inr", "ne.trd", "gc.rev", "gc.xpn", "bn.cab", "dt.dod",
	}
)

// WorldBank adapts the World Bank indicators API for the United States.
type WorldBank struct {
	client    *Client
	baseURL   string
	country   string
	maxSeries int
	maxPages  int
}

// NewWorldBank creates the adapter. maxSeries <= 0 means no cap.
func NewWorldBank(client *Client, baseURL string, maxSeries int) *WorldBank {
	return &WorldBank{
		client:    client,
		baseURL:   baseURL,
		country:   "USA",
		maxSeries: maxSeries,
		maxPages:  worldBankMaxPages,
	}
}

// Name implements Discoverer.
func (w *WorldBank) Name() string { return "World Bank" }

func (w *WorldBank) indicatorURL(id string) string {
	return w.baseURL + "/country/" + w.country + "/indicator/" + id
}

func (w *WorldBank) full(n int) bool {
	return w.maxSeries > 0 && n >= w.maxSeries
}

type worldBankPage struct {
	Page  int `json:"page"`
	Pages int `json:"pages"`
}

type worldBankIndicator struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Unit       string `json:"unit"`
	SourceNote string `json:"sourceNote"`
}

func isEconomicIndicator(ind worldBankIndicator) bool {
	name := strings.ToLower(ind.Name)
	for _, k := range worldBankKeywords {
		if strings.Contains(name, k) {
			return true
		}
	}
	id := strings.ToLower(ind.ID)
	for _, p := range worldBankIDPrefixes {
		if strings.HasPrefix(id, p) {
			return true
		}
	}
	return false
}

// DiscoverSeries walks the paginated indicator listing and keeps economic
// indicators. The curated list is returned when the walk fails or finds
// nothing.
func (w *WorldBank) DiscoverSeries(ctx context.Context) ([]crawler.SeriesInfo, error) {
	out, err := w.walkIndicators(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("world bank discovery: %w", ctxErr)
	}
	if err != nil || len(out) == 0 {
		return w.curated(), nil
	}
	return out, nil
}

func (w *WorldBank) walkIndicators(ctx context.Context) ([]crawler.SeriesInfo, error) {
	seen := make(map[string]bool)
	var out []crawler.SeriesInfo
	for page, pages := 1, 1; page <= pages && page <= w.maxPages; page++ {
		resp, err := w.client.Get(ctx, w.baseURL+"/indicator", map[string]string{
			"format":   "json",
			"per_page": "100",
			"page":     strconv.Itoa(page),
		})
		if err != nil {
			return out, fmt.Errorf("world bank indicators page %d: %w", page, err)
		}
		meta, rows, err := parseWorldBankIndicators(resp.Body)
		if err != nil {
			return out, fmt.Errorf("world bank indicators page %d: %w", page, err)
		}
		pages = meta.Pages
		for _, ind := range rows {
			if ind.ID == "" || seen[ind.ID] || !isEconomicIndicator(ind) {
				continue
			}
			seen[ind.ID] = true
			out = append(out, crawler.SeriesInfo{
				ExternalID:      ind.ID,
				Title:           ind.Name,
				Description:     ind.SourceNote,
				Units:           ind.Unit,
				Frequency:       "Annual",
				GeographicLevel: "Country",
				DataURL:         w.indicatorURL(ind.ID),
			})
			if w.full(len(out)) {
				return out, nil
			}
		}
	}
	return out, nil
}

// parseWorldBankIndicators splits the [metadata, rows] envelope.
func parseWorldBankIndicators(body []byte) (worldBankPage, []worldBankIndicator, error) {
	var meta worldBankPage
	var envelope []json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return meta, nil, fmt.Errorf("%w: %v", crawler.ErrDataFormat, err)
	}
	if len(envelope) < 2 {
		return meta, nil, fmt.Errorf("%w: missing data page", crawler.ErrDataFormat)
	}
	if err := json.Unmarshal(envelope[0], &meta); err != nil {
		return meta, nil, fmt.Errorf("%w: %v", crawler.ErrDataFormat, err)
	}
	var rows []worldBankIndicator
	if err := json.Unmarshal(envelope[1], &rows); err != nil {
		return meta, nil, fmt.Errorf("%w: %v", crawler.ErrDataFormat, err)
	}
	return meta, rows, nil
}

func (w *WorldBank) curated() []crawler.SeriesInfo {
	out := make([]crawler.SeriesInfo, 0, len(worldBankIndicators))
	for _, s := range worldBankIndicators {
		if w.full(len(out)) {
			break
		}
		s.Frequency = "Annual"
		s.GeographicLevel = "Country"
		s.DataURL = w.indicatorURL(s.ExternalID)
		out = append(out, s)
	}
	return out
}

type worldBankObservation struct {
	Date  string   `json:"date"`
	Value *float64 `json:"value"`
}

// FetchObservations downloads one indicator. The payload is a two element
// array of page metadata followed by observations.
func (w *WorldBank) FetchObservations(ctx context.Context, externalID string) (FetchResult, error) {
	resp, err := w.client.Get(ctx, w.indicatorURL(externalID), map[string]string{
		"format":   "json",
		"per_page": "1000",
	})
	result := FetchResult{URL: resp.URL, StatusCode: resp.StatusCode, Body: resp.Body}
	if err != nil {
		return result, err
	}
	var envelope []json.RawMessage
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return result, fmt.Errorf("world bank observations: %w: %v", crawler.ErrDataFormat, err)
	}
	if len(envelope) < 2 {
		return result, fmt.Errorf("world bank observations: %w: missing data page", crawler.ErrDataFormat)
	}
	var rows []worldBankObservation
	if err := json.Unmarshal(envelope[1], &rows); err != nil {
		return result, fmt.Errorf("world bank observations: %w: %v", crawler.ErrDataFormat, err)
	}
	for _, row := range rows {
		obs := crawler.Observation{Date: row.Date}
		if row.Value != nil {
			obs.Value = strconv.FormatFloat(*row.Value, 'f', -1, 64)
		}
		result.Observations = append(result.Observations, obs)
	}
	return result, nil
}
