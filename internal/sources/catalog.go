package sources

import (
	"context"
	"fmt"

	"github.com/JakeFAU/econ-series-crawler/internal/crawler"
)

// Catalog is a discovery-only adapter backed by a curated series list.
type Catalog struct {
	name   string
	series []crawler.SeriesInfo
}

// NewCatalog creates a curated adapter.
func NewCatalog(name string, series []crawler.SeriesInfo) *Catalog {
	return &Catalog{name: name, series: series}
}

// Name implements Discoverer.
func (c *Catalog) Name() string { return c.name }

// DiscoverSeries returns a copy of the curated list.
func (c *Catalog) DiscoverSeries(context.Context) ([]crawler.SeriesInfo, error) {
	out := make([]crawler.SeriesInfo, len(c.series))
	copy(out, c.series)
	return out, nil
}

// FetchObservations is not available for curated catalogues.
func (c *Catalog) FetchObservations(context.Context, string) (FetchResult, error) {
	return FetchResult{}, fmt.Errorf("%w: %s", ErrFetchUnsupported, c.name)
}

func withURLs(base string, series []crawler.SeriesInfo, geo string) []crawler.SeriesInfo {
	for i := range series {
		if series[i].DataURL == "" {
			series[i].DataURL = base + "/" + series[i].ExternalID
		}
		if series[i].GeographicLevel == "" {
			series[i].GeographicLevel = geo
		}
	}
	return series
}

func censusSeries(base string) []crawler.SeriesInfo {
	return withURLs(base, []crawler.SeriesInfo{
		{ExternalID: "ACS_B01003_001E", Title: "Total Population", Units: "Persons", Frequency: "Annual"},
		{ExternalID: "ACS_B19013_001E", Title: "Median Household Income", Units: "Dollars", Frequency: "Annual"},
		{ExternalID: "ACS_B25077_001E", Title: "Median Home Value", Units: "Dollars", Frequency: "Annual"},
		{ExternalID: "EITS_MARTS_44X72", Title: "Advance Retail Sales: Retail and Food Services", Units: "Millions of Dollars", Frequency: "Monthly"},
	}, "United States")
}

func beaSeries(base string) []crawler.SeriesInfo {
	return withURLs(base, []crawler.SeriesInfo{
		{ExternalID: "NIPA_GDP_TOTAL", Title: "Gross Domestic Product", Units: "Billions of Dollars", Frequency: "Quarterly"},
		{ExternalID: "NIPA_GDP_PC", Title: "Gross Domestic Product Per Capita", Units: "Dollars", Frequency: "Quarterly"},
		{ExternalID: "NIPA_PCE_TOTAL", Title: "Personal Consumption Expenditures", Units: "Billions of Dollars", Frequency: "Quarterly"},
		{ExternalID: "FA_NET_STOCK_TOTAL", Title: "Net Stock of Fixed Assets", Units: "Billions of Dollars", Frequency: "Annual"},
		{ExternalID: "ITA_EXPORTS_TOTAL", Title: "Total Exports of Goods and Services", Units: "Millions of Dollars", Frequency: "Quarterly"},
		{ExternalID: "ITA_IMPORTS_TOTAL", Title: "Total Imports of Goods and Services", Units: "Millions of Dollars", Frequency: "Quarterly"},
		{ExternalID: "REG_GDP_TOTAL", Title: "Gross Domestic Product by State", Units: "Millions of Dollars", Frequency: "Annual", GeographicLevel: "State"},
	}, "United States")
}

func imfSeries(base string) []crawler.SeriesInfo {
	return withURLs(base, []crawler.SeriesInfo{
		{ExternalID: "IFS_US_PCPI_IX", Title: "Consumer Price Index - United States", Units: "Index", Frequency: "Monthly"},
		{ExternalID: "IFS_US_LP_IX", Title: "Labor Force Participation Rate - United States", Units: "Index", Frequency: "Monthly"},
		{ExternalID: "IFS_US_EREER_IX", Title: "Real Effective Exchange Rate - United States", Units: "Index", Frequency: "Monthly"},
		{ExternalID: "BOP_US_CA_BP6_USD", Title: "Current Account Balance - United States", Units: "US Dollars", Frequency: "Quarterly"},
		{ExternalID: "BOP_US_FA_BP6_USD", Title: "Financial Account Balance - United States", Units: "US Dollars", Frequency: "Quarterly"},
		{ExternalID: "GFS_US_GGR_G01_GDP_PT", Title: "General Government Revenue - United States", Units: "Percent of GDP", Frequency: "Annual"},
		{ExternalID: "GFS_US_GGX_G01_GDP_PT", Title: "General Government Expenditure - United States", Units: "Percent of GDP", Frequency: "Annual"},
		{ExternalID: "WEO_US_NGDP_RPCH", Title: "Real GDP Growth - United States", Units: "Percent Change", Frequency: "Annual"},
		{ExternalID: "WEO_US_PCPIPCH", Title: "Inflation Rate - United States", Units: "Percent Change", Frequency: "Annual"},
	}, "Country")
}

func oecdSeries(base string) []crawler.SeriesInfo {
	return withURLs(base, []crawler.SeriesInfo{
		{ExternalID: "SNA_TABLE1.1.GDP.B1_GE.CPCAR_M", Title: "OECD - GDP at current prices", Units: "Millions", Frequency: "Annual"},
		{ExternalID: "SNA_TABLE1.1.GDP.B1_GE.CPMP_NAC", Title: "OECD - GDP at constant prices", Units: "Millions", Frequency: "Annual"},
		{ExternalID: "SNA_TABLE1.1.GDP.B1_GE.CPMP_PPP", Title: "OECD - GDP at constant prices (PPP)", Units: "Millions", Frequency: "Annual"},
		{ExternalID: "PRICES_CPI.CPI.TOTIDX.M", Title: "OECD - Consumer Price Index", Units: "Index", Frequency: "Monthly"},
		{ExternalID: "PRICES_CPI.CPI.TOTIDX.Q", Title: "OECD - Consumer Price Index (Quarterly)", Units: "Index", Frequency: "Quarterly"},
		{ExternalID: "LFS_SEXAGE_I_R.UNEM_RT.AGE15_64.T", Title: "OECD - Unemployment rate", Units: "Percent", Frequency: "Monthly"},
	}, "OECD members")
}

func boeSeries(base string) []crawler.SeriesInfo {
	return withURLs(base, []crawler.SeriesInfo{
		{ExternalID: "IUDBEDR", Title: "Bank Rate", Units: "Percent", Frequency: "Daily"},
		{ExternalID: "LPMVWYR", Title: "M4 money supply annual growth rate", Units: "Percent", Frequency: "Monthly"},
		{ExternalID: "XUDLBK67", Title: "Sterling effective exchange rate index", Units: "Index", Frequency: "Daily"},
	}, "United Kingdom")
}

func wtoSeries(base string) []crawler.SeriesInfo {
	return withURLs(base, []crawler.SeriesInfo{
		{ExternalID: "MT_GOODS_EXP", Title: "WTO - Merchandise exports", Units: "Millions of US Dollars", Frequency: "Annual"},
		{ExternalID: "MT_GOODS_IMP", Title: "WTO - Merchandise imports", Units: "Millions of US Dollars", Frequency: "Annual"},
		{ExternalID: "ST_SERVICES_EXP", Title: "WTO - Services exports", Units: "Millions of US Dollars", Frequency: "Annual"},
		{ExternalID: "ST_SERVICES_IMP", Title: "WTO - Services imports", Units: "Millions of US Dollars", Frequency: "Annual"},
		{ExternalID: "TP_TARIFFS", Title: "WTO - Applied tariffs", Units: "Percent", Frequency: "Annual"},
	}, "World")
}

func bojSeries(base string) []crawler.SeriesInfo {
	return withURLs(base, []crawler.SeriesInfo{
		{ExternalID: "BOJ_UNRATE", Title: "Japan - Policy interest rate", Units: "Percent", Frequency: "Monthly"},
		{ExternalID: "BOJ_TONAR", Title: "Japan - Tokyo Overnight Average Rate (TONAR)", Units: "Percent", Frequency: "Daily"},
		{ExternalID: "BOJ_CPI", Title: "Japan - Consumer Price Index (CPI)", Units: "Index", Frequency: "Monthly"},
		{ExternalID: "BOJ_CORE_CPI", Title: "Japan - Core Consumer Price Index", Units: "Index", Frequency: "Monthly"},
		{ExternalID: "BOJ_GDP_CURRENT", Title: "Japan - GDP at current prices", Units: "Billions of Yen", Frequency: "Quarterly"},
		{ExternalID: "BOJ_GDP_CONSTANT", Title: "Japan - GDP at constant prices", Units: "Billions of Yen", Frequency: "Quarterly"},
	}, "Japan")
}

func fhfaSeries(base string) []crawler.SeriesInfo {
	out := []crawler.SeriesInfo{
		{ExternalID: "USHPI", Title: "U.S. House Price Index", Units: "Index 1991Q1=100", Frequency: "Quarterly", GeographicLevel: "National"},
	}
	states := []struct{ code, name string }{
		{"CA", "California"}, {"TX", "Texas"}, {"FL", "Florida"}, {"NY", "New York"}, {"IL", "Illinois"},
	}
	for _, s := range states {
		out = append(out, crawler.SeriesInfo{
			ExternalID:      s.code + "HPI",
			Title:           s.name + " House Price Index",
			Units:           "Index 1991Q1=100",
			Frequency:       "Quarterly",
			GeographicLevel: "State",
		})
	}
	return withURLs(base, out, "")
}
