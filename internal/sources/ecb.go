package sources

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/JakeFAU/econ-series-crawler/internal/crawler"
)

var ecbFlows = []crawler.SeriesInfo{
	{ExternalID: "ICP.M.U2.N.000000.4.ANR", Title: "Euro area - HICP (all items)", Units: "Annual rate of change", Frequency: "Monthly"},
	{ExternalID: "ICP.M.U2.N.XEF000.4.ANR", Title: "Euro area - HICP (excluding energy and food)", Units: "Annual rate of change", Frequency: "Monthly"},
	{ExternalID: "MNA.Q.N.I8.W2.S1.S1.B.B1GQ._Z._Z._Z.EUR.LR.N", Title: "Euro area - Gross domestic product", Units: "Millions of euro", Frequency: "Quarterly"},
	{ExternalID: "LFSI.M.I8.S.UNEHRT.TOTAL0.15_74.T", Title: "Euro area - Unemployment rate", Units: "Percent", Frequency: "Monthly"},
	{ExternalID: "BTS.M.U2.N.000000.4.ANR", Title: "Euro area - Balance of trade", Units: "Millions of euro", Frequency: "Monthly"},
	{ExternalID: "ICP.M.U2.N.000000.4.ANR", Title: "Euro area - HICP", Units: "Annual rate of change", Frequency: "Monthly"},
}

// ECB adapts the ECB statistical data warehouse SDMX API.
type ECB struct {
	client  *Client
	baseURL string
}

// NewECB creates the adapter.
func NewECB(client *Client, baseURL string) *ECB {
	return &ECB{client: client, baseURL: baseURL}
}

// Name implements Discoverer.
func (e *ECB) Name() string { return "ECB" }

func (e *ECB) dataURL(externalID string) (string, error) {
	flow, key, ok := strings.Cut(externalID, ".")
	if !ok || flow == "" || key == "" {
		return "", fmt.Errorf("ecb series id %q: %w", externalID, crawler.ErrDataFormat)
	}
	return e.baseURL + "/data/" + flow + "/" + key, nil
}

// DiscoverSeries returns the curated flows with duplicates removed.
func (e *ECB) DiscoverSeries(context.Context) ([]crawler.SeriesInfo, error) {
	seen := make(map[string]bool)
	var out []crawler.SeriesInfo
	for _, s := range ecbFlows {
		if seen[s.ExternalID] {
			continue
		}
		seen[s.ExternalID] = true
		s.GeographicLevel = "Euro area"
		s.DataURL, _ = e.dataURL(s.ExternalID)
		out = append(out, s)
	}
	return out, nil
}

// FetchObservations downloads the series as csvdata.
func (e *ECB) FetchObservations(ctx context.Context, externalID string) (FetchResult, error) {
	url, err := e.dataURL(externalID)
	if err != nil {
		return FetchResult{}, err
	}
	resp, err := e.client.Get(ctx, url, map[string]string{"format": "csvdata"})
	result := FetchResult{URL: resp.URL, StatusCode: resp.StatusCode, Body: resp.Body}
	if err != nil {
		return result, err
	}
	obs, err := parseSDMXCSV(resp.Body)
	if err != nil {
		return result, fmt.Errorf("ecb observations: %w", err)
	}
	result.Observations = obs
	return result, nil
}

// parseSDMXCSV reads TIME_PERIOD and OBS_VALUE columns from an SDMX csv payload.
func parseSDMXCSV(body []byte) ([]crawler.Observation, error) {
	r := csv.NewReader(bytes.NewReader(body))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", crawler.ErrDataFormat, err)
	}
	timeIdx, valueIdx := -1, -1
	for i, col := range header {
		switch strings.TrimSpace(strings.TrimPrefix(col, "\ufeff")) {
		case "TIME_PERIOD":
			timeIdx = i
		case "OBS_VALUE":
			valueIdx = i
		}
	}
	if timeIdx < 0 || valueIdx < 0 {
		return nil, fmt.Errorf("%w: TIME_PERIOD or OBS_VALUE column missing", crawler.ErrDataFormat)
	}
	var out []crawler.Observation
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", crawler.ErrDataFormat, err)
		}
		if timeIdx >= len(rec) || valueIdx >= len(rec) {
			continue
		}
		out = append(out, crawler.Observation{
			Date:  strings.TrimSpace(rec[timeIdx]),
			Value: strings.TrimSpace(rec[valueIdx]),
		})
	}
	return out, nil
}
