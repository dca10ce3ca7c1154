// Package agents implements the market analysis collaborators driven by the
// supervisor.
package agents

import (
	"time"

	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
)

// Source is a cited web document.
type Source struct {
	Title string  `json:"title"`
	URL   string  `json:"url"`
	Score float64 `json:"score"`
}

// MarketReport is the payload of market_researcher.
type MarketReport struct {
	Summary      string   `json:"summary"`
	KeyCompanies []string `json:"key_companies"`
	KeyTrends    []string `json:"key_trends"`
	Sources      []Source `json:"sources"`
	Queries      []string `json:"queries"`
	PagesRead    int      `json:"pages_read"`
	Synthesized  bool     `json:"synthesized"`
}

// Aspect is one analyzed dimension of a company.
type Aspect struct {
	Name     string         `json:"name"`
	Findings string         `json:"findings"`
	Passages []core.Passage `json:"passages,omitempty"`
}

// CompanyProfile is the analysis of one company.
type CompanyProfile struct {
	Name        string   `json:"name"`
	Ticker      string   `json:"ticker,omitempty"`
	Summary     string   `json:"summary"`
	Aspects     []Aspect `json:"aspects"`
	HasDocs     bool     `json:"has_documents"`
	Synthesized bool     `json:"synthesized"`
}

// CompanyReport is the payload of company_analyzer.
type CompanyReport struct {
	Companies []CompanyProfile `json:"companies"`
}

// PriceInfo summarizes closing prices over the lookback window.
type PriceInfo struct {
	Current    float64 `json:"current_price"`
	Previous   float64 `json:"prev_price"`
	Change     float64 `json:"change"`
	ChangePct  float64 `json:"change_pct"`
	PeriodHigh float64 `json:"period_high"`
	PeriodLow  float64 `json:"period_low"`
	Average    float64 `json:"avg_price"`
}

// VolumeInfo summarizes traded volume.
type VolumeInfo struct {
	Recent    float64 `json:"recent_volume"`
	Average   float64 `json:"avg_volume"`
	ChangePct float64 `json:"volume_change_pct"`
}

// Trend labels.
const (
	TrendStrongUp   = "strong_up"
	TrendUp         = "up"
	TrendStrongDown = "strong_down"
	TrendDown       = "down"
	TrendNeutral    = "neutral"
)

// TrendInfo is the moving-average reading.
type TrendInfo struct {
	Trend      string   `json:"trend"`
	MA20       *float64 `json:"ma20,omitempty"`
	MA60       *float64 `json:"ma60,omitempty"`
	Volatility float64  `json:"volatility_pct"`
}

// SeriesPoint is one day of the charted series.
type SeriesPoint struct {
	Date  time.Time `json:"date"`
	Close float64   `json:"close"`
	MA20  *float64  `json:"ma20,omitempty"`
	MA60  *float64  `json:"ma60,omitempty"`
}

// Daily move signals.
const (
	SignalSurge  = "surge"
	SignalPlunge = "plunge"
)

// StockAnalysis is the analysis of one ticker.
type StockAnalysis struct {
	Ticker     string        `json:"ticker"`
	Company    string        `json:"company"`
	Period     string        `json:"period"`
	DataPoints int           `json:"data_points"`
	Price      PriceInfo     `json:"price_info"`
	Volume     *VolumeInfo   `json:"volume_info,omitempty"`
	Trend      TrendInfo     `json:"trend_analysis"`
	Signal     string        `json:"signal,omitempty"`
	Series     []SeriesPoint `json:"series"`
}

// StockReport is the payload of stock_analyzer.
type StockReport struct {
	Tickers     []string          `json:"tickers"`
	Stocks      []StockAnalysis   `json:"stocks"`
	Failed      map[string]string `json:"failed,omitempty"`
	KeyInsights []string          `json:"key_insights"`
}

// ChartFile is one written chart specification.
type ChartFile struct {
	Ticker string `json:"ticker"`
	Path   string `json:"path,omitempty"`
	// Spec is the Vega-Lite document.
	Spec map[string]any `json:"spec"`
}

// ChartReport is the payload of chart_generator.
type ChartReport struct {
	Charts []ChartFile `json:"charts"`
}

// Section states in the final report.
const (
	SectionIncluded    = "included"
	SectionUnavailable = "unavailable"
)

// SectionStatus records how a report section was produced.
type SectionStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// FinalReport is the payload of report_compiler.
type FinalReport struct {
	Path     string          `json:"path,omitempty"`
	Markdown string          `json:"markdown"`
	Sections []SectionStatus `json:"sections"`
}

// Unavailable returns the names of sections marked unavailable.
func (r FinalReport) Unavailable() []string {
	var out []string
	for _, s := range r.Sections {
		if s.Status == SectionUnavailable {
			out = append(out, s.Name)
		}
	}
	return out
}
