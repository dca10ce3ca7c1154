package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
	"github.com/hugo-lorenzo-mato/marketflow/internal/fsutil"
	"github.com/hugo-lorenzo-mato/marketflow/internal/logging"
)

const vegaLiteSchema = "https://vega.github.io/schema/vega-lite/v5.json"

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// ChartGenerator renders Vega-Lite line charts of analyzed tickers.
type ChartGenerator struct {
	outputDir string
	logger    *logging.Logger
}

// NewChartGenerator creates the chart unit. An empty outputDir keeps the
// chart specifications in the result only.
func NewChartGenerator(outputDir string, logger *logging.Logger) *ChartGenerator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ChartGenerator{outputDir: outputDir, logger: logger.WithAgent(string(core.AgentChartGenerator))}
}

func (c *ChartGenerator) ID() core.AgentID { return core.AgentChartGenerator }

func (c *ChartGenerator) Applicable(core.IntentSet) bool { return true }

func (c *ChartGenerator) RequiredInputs() []core.AgentID {
	return []core.AgentID{core.AgentStockAnalyzer}
}

func (c *ChartGenerator) Execute(ctx context.Context, inv core.Invocation) (core.Result, error) {
	in, ok := inv.Input(core.AgentStockAnalyzer)
	if !ok {
		return core.Result{}, core.ErrFatalAgent(core.CodeMissingInput, "stock analysis result missing")
	}
	var stocks StockReport
	if err := in.Decode(&stocks); err != nil {
		return core.Result{}, err
	}

	report := ChartReport{}
	for _, a := range stocks.Stocks {
		if err := ctx.Err(); err != nil {
			return core.Result{}, err
		}
		chart := ChartFile{Ticker: a.Ticker, Spec: LineChartSpec(a)}
		if c.outputDir != "" {
			path := ChartPath(c.outputDir, inv.RunID, a.Ticker)
			data, err := json.MarshalIndent(chart.Spec, "", "  ")
			if err != nil {
				return core.Result{}, core.ErrFatalAgent(core.CodeMalformedPayload, "encoding chart").WithCause(err)
			}
			if err := fsutil.WriteFileAtomicMkdir(path, data, 0o644); err != nil {
				return core.Result{}, core.ErrRecoverable(core.CodeAgentFailed, "writing chart for "+a.Ticker).WithCause(err)
			}
			chart.Path = path
			c.logger.Debug("chart written", "ticker", a.Ticker, "path", path)
		}
		report.Charts = append(report.Charts, chart)
	}

	return core.NewResult(c.ID(), fmt.Sprintf("%d charts", len(report.Charts)), report)
}

// ChartPath is where the chart of ticker for a run is written.
func ChartPath(outputDir string, runID core.RunID, ticker string) string {
	return filepath.Join(outputDir, string(runID), "charts", unsafeFileChars.ReplaceAllString(ticker, "_")+".vl.json")
}

// LineChartSpec builds a Vega-Lite document plotting close, MA20 and MA60.
func LineChartSpec(a StockAnalysis) map[string]any {
	values := make([]map[string]any, 0, len(a.Series)*3)
	for _, p := range a.Series {
		date := p.Date.Format("2006-01-02")
		values = append(values, map[string]any{"date": date, "series": "Close", "value": p.Close})
		if p.MA20 != nil {
			values = append(values, map[string]any{"date": date, "series": "MA20", "value": *p.MA20})
		}
		if p.MA60 != nil {
			values = append(values, map[string]any{"date": date, "series": "MA60", "value": *p.MA60})
		}
	}
	title := a.Ticker
	if a.Company != "" {
		title = fmt.Sprintf("%s (%s)", a.Company, a.Ticker)
	}
	return map[string]any{
		"$schema":     vegaLiteSchema,
		"title":       title,
		"description": fmt.Sprintf("%s closing price with moving averages, %s", a.Ticker, a.Period),
		"width":       640,
		"height":      320,
		"data":        map[string]any{"values": values},
		"mark":        map[string]any{"type": "line", "interpolate": "monotone"},
		"encoding": map[string]any{
			"x":     map[string]any{"field": "date", "type": "temporal", "title": "Date"},
			"y":     map[string]any{"field": "value", "type": "quantitative", "title": "Price", "scale": map[string]any{"zero": false}},
			"color": map[string]any{"field": "series", "type": "nominal", "title": nil},
		},
	}
}
