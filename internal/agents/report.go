package agents

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
	"github.com/hugo-lorenzo-mato/marketflow/internal/fsutil"
	"github.com/hugo-lorenzo-mato/marketflow/internal/logging"
)

// Report section names.
const (
	SectionMarket  = "market"
	SectionCompany = "companies"
	SectionStock   = "stocks"
	SectionCharts  = "charts"
)

// ReportCompiler assembles the final markdown report.
type ReportCompiler struct {
	outputDir string
	now       func() time.Time
	logger    *logging.Logger
}

// NewReportCompiler creates the report unit. An empty outputDir keeps the
// report in the result only.
func NewReportCompiler(outputDir string, logger *logging.Logger) *ReportCompiler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ReportCompiler{
		outputDir: outputDir,
		now:       time.Now,
		logger:    logger.WithAgent(string(core.AgentReportCompiler)),
	}
}

func (r *ReportCompiler) ID() core.AgentID { return core.AgentReportCompiler }

func (r *ReportCompiler) Applicable(core.IntentSet) bool { return true }

func (r *ReportCompiler) RequiredInputs() []core.AgentID {
	return []core.AgentID{core.AgentStockAnalyzer}
}

func (r *ReportCompiler) OptionalInputs() []core.AgentID {
	return []core.AgentID{core.AgentMarketResearcher, core.AgentCompanyAnalyzer, core.AgentChartGenerator}
}

// ReportPath is where the report of a run is written.
func ReportPath(outputDir string, runID core.RunID) string {
	return filepath.Join(outputDir, string(runID), "report.md")
}

func (r *ReportCompiler) Execute(ctx context.Context, inv core.Invocation) (core.Result, error) {
	in, ok := inv.Input(core.AgentStockAnalyzer)
	if !ok {
		return core.Result{}, core.ErrFatalAgent(core.CodeMissingInput, "stock analysis result missing")
	}
	var stocks StockReport
	if err := in.Decode(&stocks); err != nil {
		return core.Result{}, err
	}

	var (
		market    *MarketReport
		companies *CompanyReport
		charts    *ChartReport
	)
	decodeOptional(inv, core.AgentMarketResearcher, &market)
	decodeOptional(inv, core.AgentCompanyAnalyzer, &companies)
	decodeOptional(inv, core.AgentChartGenerator, &charts)

	final := FinalReport{}
	var b strings.Builder
	fmt.Fprintf(&b, "# EV Market Analysis Report\n\n")
	fmt.Fprintf(&b, "- Request: %s\n- Run: `%s`\n- Generated: %s\n\n", inv.Request, inv.RunID, r.now().UTC().Format(time.RFC3339))

	b.WriteString("## Summary\n\n")
	for _, line := range stocks.KeyInsights {
		fmt.Fprintf(&b, "- %s\n", line)
	}
	if market != nil && len(market.KeyCompanies) > 0 {
		fmt.Fprintf(&b, "- Key companies in market coverage: %s\n", strings.Join(market.KeyCompanies, ", "))
	}
	b.WriteString("\n")

	// Optional sections appear when their unit ran, successfully or not.
	if market != nil || inv.IsUnavailable(core.AgentMarketResearcher) {
		final.Sections = append(final.Sections, writeMarket(&b, market))
	}
	if companies != nil || inv.IsUnavailable(core.AgentCompanyAnalyzer) {
		final.Sections = append(final.Sections, writeCompanies(&b, companies))
	}
	final.Sections = append(final.Sections, writeStocks(&b, stocks))
	if charts != nil || inv.IsUnavailable(core.AgentChartGenerator) {
		final.Sections = append(final.Sections, writeCharts(&b, charts, r.outputDir, inv.RunID))
	}
	final.Markdown = b.String()

	if r.outputDir != "" {
		path := ReportPath(r.outputDir, inv.RunID)
		if err := fsutil.WriteFileAtomicMkdir(path, []byte(final.Markdown), 0o644); err != nil {
			return core.Result{}, core.ErrRecoverable(core.CodeAgentFailed, "writing report").WithCause(err)
		}
		final.Path = path
		r.logger.Info("report written", "path", path)
	}

	summary := "report compiled"
	if missing := final.Unavailable(); len(missing) > 0 {
		summary = fmt.Sprintf("report compiled, unavailable: %s", strings.Join(missing, ", "))
	}
	return core.NewResult(r.ID(), summary, final)
}

func decodeOptional[T any](inv core.Invocation, id core.AgentID, dst **T) {
	res, ok := inv.Input(id)
	if !ok {
		return
	}
	var v T
	if err := res.Decode(&v); err != nil {
		return
	}
	*dst = &v
}

func unavailable(b *strings.Builder, name string) SectionStatus {
	b.WriteString("_This section is unavailable: the analysis step failed._\n\n")
	return SectionStatus{Name: name, Status: SectionUnavailable}
}

func writeMarket(b *strings.Builder, m *MarketReport) SectionStatus {
	b.WriteString("## Market Overview\n\n")
	if m == nil {
		return unavailable(b, SectionMarket)
	}
	if m.Summary != "" {
		b.WriteString(m.Summary + "\n\n")
	}
	if len(m.KeyTrends) > 0 {
		fmt.Fprintf(b, "**Key trends:** %s\n\n", strings.Join(m.KeyTrends, ", "))
	}
	if len(m.Sources) > 0 {
		b.WriteString("**Sources**\n\n")
		for _, s := range m.Sources {
			fmt.Fprintf(b, "- [%s](%s)\n", s.Title, s.URL)
		}
		b.WriteString("\n")
	}
	return SectionStatus{Name: SectionMarket, Status: SectionIncluded}
}

func writeCompanies(b *strings.Builder, c *CompanyReport) SectionStatus {
	b.WriteString("## Company Analysis\n\n")
	if c == nil {
		return unavailable(b, SectionCompany)
	}
	for _, p := range c.Companies {
		if p.Ticker != "" {
			fmt.Fprintf(b, "### %s (%s)\n\n", p.Name, p.Ticker)
		} else {
			fmt.Fprintf(b, "### %s\n\n", p.Name)
		}
		b.WriteString(p.Summary + "\n\n")
	}
	return SectionStatus{Name: SectionCompany, Status: SectionIncluded}
}

func writeStocks(b *strings.Builder, s StockReport) SectionStatus {
	b.WriteString("## Stock Analysis\n\n")
	b.WriteString("| Ticker | Company | Price | Change % | Trend | MA20 | MA60 | Volatility % | Signal |\n")
	b.WriteString("|---|---|---:|---:|---|---:|---:|---:|---|\n")
	for _, a := range s.Stocks {
		fmt.Fprintf(b, "| %s | %s | %.2f | %+.2f | %s | %s | %s | %.2f | %s |\n",
			a.Ticker, dash(a.Company), a.Price.Current, a.Price.ChangePct, a.Trend.Trend,
			optional(a.Trend.MA20), optional(a.Trend.MA60), a.Trend.Volatility, dash(a.Signal))
	}
	b.WriteString("\n")
	failed := make([]string, 0, len(s.Failed))
	for ticker := range s.Failed {
		failed = append(failed, ticker)
	}
	sort.Strings(failed)
	for _, ticker := range failed {
		fmt.Fprintf(b, "- %s: data unavailable (%s)\n", ticker, s.Failed[ticker])
	}
	if len(failed) > 0 {
		b.WriteString("\n")
	}
	return SectionStatus{Name: SectionStock, Status: SectionIncluded}
}

func writeCharts(b *strings.Builder, c *ChartReport, outputDir string, runID core.RunID) SectionStatus {
	b.WriteString("## Charts\n\n")
	if c == nil {
		return unavailable(b, SectionCharts)
	}
	base := ""
	if outputDir != "" {
		base = filepath.Join(outputDir, string(runID))
	}
	for _, ch := range c.Charts {
		if ch.Path == "" {
			fmt.Fprintf(b, "- %s: chart specification embedded in the run result\n", ch.Ticker)
			continue
		}
		link := ch.Path
		if rel, err := filepath.Rel(base, ch.Path); base != "" && err == nil {
			link = filepath.ToSlash(rel)
		}
		fmt.Fprintf(b, "- [%s](%s)\n", ch.Ticker, link)
	}
	b.WriteString("\n")
	return SectionStatus{Name: SectionCharts, Status: SectionIncluded}
}

func optional(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
