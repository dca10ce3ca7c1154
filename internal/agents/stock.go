package agents

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
	"github.com/hugo-lorenzo-mato/marketflow/internal/logging"
)

// signalThreshold is the daily move, in percent, flagged as surge or plunge.
const signalThreshold = 5.0

// StockAnalyzer computes price, volume and trend indicators per ticker.
type StockAnalyzer struct {
	prices   core.PriceSource
	lookback time.Duration
	now      func() time.Time
	logger   *logging.Logger
}

// NewStockAnalyzer creates the stock analysis unit.
func NewStockAnalyzer(prices core.PriceSource, lookbackDays int, logger *logging.Logger) *StockAnalyzer {
	if lookbackDays <= 0 {
		lookbackDays = 90
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &StockAnalyzer{
		prices:   prices,
		lookback: time.Duration(lookbackDays) * 24 * time.Hour,
		now:      time.Now,
		logger:   logger.WithAgent(string(core.AgentStockAnalyzer)),
	}
}

func (s *StockAnalyzer) ID() core.AgentID { return core.AgentStockAnalyzer }

func (s *StockAnalyzer) Applicable(core.IntentSet) bool { return true }

func (s *StockAnalyzer) RequiredInputs() []core.AgentID { return nil }

func (s *StockAnalyzer) OptionalInputs() []core.AgentID {
	return []core.AgentID{core.AgentMarketResearcher}
}

// ResolveTickers picks up to five tickers for a request. Explicit symbols
// win over company names; market research fills in when neither is present.
func ResolveTickers(request string, market *MarketReport) []string {
	var out []string
	seen := map[string]bool{}
	add := func(t string) {
		if t != "" && !seen[t] && len(out) < maxSubjects {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range ExplicitTickers(request) {
		add(t)
	}
	for _, c := range MentionedCompanies(request) {
		add(c.Ticker)
	}
	if len(out) == 0 && market != nil {
		for _, name := range market.KeyCompanies {
			if c, ok := CompanyByName(name); ok {
				add(c.Ticker)
			}
		}
	}
	return out
}

func (s *StockAnalyzer) Execute(ctx context.Context, inv core.Invocation) (core.Result, error) {
	if s.prices == nil {
		return core.Result{}, core.ErrFatalAgent(core.CodeNotConfigured, "no price source configured")
	}

	var market *MarketReport
	if r, ok := inv.Input(core.AgentMarketResearcher); ok {
		var m MarketReport
		if err := r.Decode(&m); err == nil {
			market = &m
		} else {
			s.logger.Warn("ignoring unreadable market research", "error", err)
		}
	}

	tickers := ResolveTickers(inv.Request, market)
	if len(tickers) == 0 {
		return core.Result{}, core.ErrFatalAgent(core.CodeNoTicker, "no ticker could be resolved from the request")
	}

	to := s.now().UTC()
	from := to.Add(-s.lookback)
	report := StockReport{Tickers: tickers}
	var lastErr error
	for _, ticker := range tickers {
		bars, err := s.prices.History(ctx, ticker, from, to)
		if err == nil && len(bars) == 0 {
			err = core.ErrFatalAgent(core.CodeNoTicker, "no price data for "+ticker)
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return core.Result{}, ctxErr
			}
			s.logger.Warn("price history failed", "ticker", ticker, "error", err)
			if report.Failed == nil {
				report.Failed = make(map[string]string)
			}
			report.Failed[ticker] = err.Error()
			lastErr = err
			continue
		}
		a := Analyze(ticker, bars)
		if c, ok := CompanyByTicker(ticker); ok {
			a.Company = c.Name
		}
		report.Stocks = append(report.Stocks, a)
		report.KeyInsights = append(report.KeyInsights, insight(a))
	}

	if len(report.Stocks) == 0 {
		return core.Result{}, core.ErrRecoverable(core.CodeUpstreamFailed,
			fmt.Sprintf("price data unavailable for all tickers %v", tickers)).WithCause(lastErr)
	}

	summary := fmt.Sprintf("%d of %d tickers analyzed", len(report.Stocks), len(tickers))
	return core.NewResult(s.ID(), summary, report)
}

// Analyze computes the indicators of one ticker from bars ordered oldest
// first. bars must not be empty.
func Analyze(ticker string, bars []core.PriceBar) StockAnalysis {
	n := len(bars)
	closes := make([]float64, n)
	for i, b := range bars {
		closes[i] = b.Close
	}

	cur := closes[n-1]
	prev := cur
	if n > 1 {
		prev = closes[n-2]
	}
	high, low := math.Inf(-1), math.Inf(1)
	for _, b := range bars {
		h, l := b.High, b.Low
		if h == 0 {
			h = b.Close
		}
		if l == 0 {
			l = b.Close
		}
		high = math.Max(high, h)
		low = math.Min(low, l)
	}

	price := PriceInfo{
		Current:    round2(cur),
		Previous:   round2(prev),
		Change:     round2(cur - prev),
		PeriodHigh: round2(high),
		PeriodLow:  round2(low),
		Average:    round2(mean(closes)),
	}
	if prev != 0 {
		price.ChangePct = round2((cur - prev) / prev * 100)
	}

	a := StockAnalysis{
		Ticker:     ticker,
		Period:     fmt.Sprintf("%s ~ %s", bars[0].Date.Format("2006-01-02"), bars[n-1].Date.Format("2006-01-02")),
		DataPoints: n,
		Price:      price,
		Volume:     volumeInfo(bars),
		Trend:      trendInfo(closes),
		Series:     series(bars, closes),
	}
	switch {
	case price.ChangePct > signalThreshold:
		a.Signal = SignalSurge
	case price.ChangePct < -signalThreshold:
		a.Signal = SignalPlunge
	}
	return a
}

func volumeInfo(bars []core.PriceBar) *VolumeInfo {
	vols := make([]float64, len(bars))
	total := 0.0
	for i, b := range bars {
		vols[i] = b.Volume
		total += b.Volume
	}
	if total == 0 {
		return nil
	}
	v := &VolumeInfo{Recent: vols[len(vols)-1], Average: round2(mean(vols))}
	if avg := mean(vols); avg > 0 {
		v.ChangePct = round2((v.Recent/avg - 1) * 100)
	}
	return v
}

func trendInfo(closes []float64) TrendInfo {
	t := TrendInfo{Trend: TrendNeutral, Volatility: round2(Volatility(closes))}
	n := len(closes)
	if n >= 20 {
		v := round2(mean(closes[n-20:]))
		t.MA20 = &v
	}
	if n >= 60 {
		v := round2(mean(closes[n-60:]))
		t.MA60 = &v
	}
	t.Trend = Trend(closes[n-1], t.MA20, t.MA60)
	return t
}

// Trend labels the current price against its moving averages.
func Trend(cur float64, ma20, ma60 *float64) string {
	if ma20 == nil || ma60 == nil {
		return TrendNeutral
	}
	switch {
	case cur > *ma20 && *ma20 > *ma60:
		return TrendStrongUp
	case cur > *ma20:
		return TrendUp
	case cur < *ma20 && *ma20 < *ma60:
		return TrendStrongDown
	case cur < *ma20:
		return TrendDown
	}
	return TrendNeutral
}

// Volatility is the sample standard deviation of daily percent changes,
// expressed in percent.
func Volatility(closes []float64) float64 {
	var changes []float64
	for i := 1; i < len(closes); i++ {
		if closes[i-1] != 0 {
			changes = append(changes, (closes[i]-closes[i-1])/closes[i-1])
		}
	}
	if len(changes) < 2 {
		return 0
	}
	m := mean(changes)
	ss := 0.0
	for _, c := range changes {
		ss += (c - m) * (c - m)
	}
	return math.Sqrt(ss/float64(len(changes)-1)) * 100
}

func series(bars []core.PriceBar, closes []float64) []SeriesPoint {
	out := make([]SeriesPoint, len(bars))
	for i, b := range bars {
		p := SeriesPoint{Date: b.Date, Close: b.Close}
		if i >= 19 {
			v := round2(mean(closes[i-19 : i+1]))
			p.MA20 = &v
		}
		if i >= 59 {
			v := round2(mean(closes[i-59 : i+1]))
			p.MA60 = &v
		}
		out[i] = p
	}
	return out
}

func insight(a StockAnalysis) string {
	name := a.Ticker
	if a.Company != "" {
		name = fmt.Sprintf("%s (%s)", a.Company, a.Ticker)
	}
	parts := []string{fmt.Sprintf("%s closed at %.2f (%+.2f%%)", name, a.Price.Current, a.Price.ChangePct)}
	parts = append(parts, "trend "+strings.ReplaceAll(a.Trend.Trend, "_", " "))
	if a.Signal != "" {
		parts = append(parts, a.Signal+" signal")
	}
	return strings.Join(parts, ", ")
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
