// Package prices retrieves daily price history.
package prices

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
)

// DefaultStooqURL is the public Stooq host.
const DefaultStooqURL = "https://stooq.com"

var (
	krxCodeRe  = regexp.MustCompile(`^\d{6}$`)
	usTickerRe = regexp.MustCompile(`^[A-Z]{1,5}$`)
)

// Stooq downloads daily bars as CSV from stooq.com.
type Stooq struct {
	baseURL string
	client  *http.Client
}

// NewStooq creates a Stooq source. An empty baseURL uses the public host.
func NewStooq(baseURL string, client *http.Client) *Stooq {
	if baseURL == "" {
		baseURL = DefaultStooqURL
	}
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &Stooq{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Symbol maps a ticker onto Stooq's market-suffixed form.
func Symbol(ticker string) string {
	t := strings.ToUpper(strings.TrimSpace(ticker))
	switch {
	case strings.Contains(t, "."):
		return strings.ToLower(t)
	case krxCodeRe.MatchString(t):
		return strings.ToLower(t) + ".kr"
	case usTickerRe.MatchString(t):
		return strings.ToLower(t) + ".us"
	default:
		return strings.ToLower(t)
	}
}

// History returns bars between from and to inclusive, oldest first.
func (s *Stooq) History(ctx context.Context, ticker string, from, to time.Time) ([]core.PriceBar, error) {
	q := url.Values{}
	q.Set("s", Symbol(ticker))
	q.Set("i", "d")
	q.Set("d1", from.Format("20060102"))
	q.Set("d2", to.Format("20060102"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/q/d/l/?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating price request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, core.ErrRecoverable(core.CodeUpstreamFailed, "price request for "+ticker).WithCause(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, core.ErrRateLimit("stooq rate limited")
	case resp.StatusCode >= 500:
		return nil, core.ErrRecoverable(core.CodeUpstreamFailed, fmt.Sprintf("stooq returned %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, core.ErrFatalAgent(core.CodeUpstreamFailed, fmt.Sprintf("stooq returned %d", resp.StatusCode))
	}

	bars, err := ParseCSV(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ticker, err)
	}
	return bars, nil
}

// ErrNoData is returned when the provider knows nothing about a symbol.
var ErrNoData = core.ErrFatalAgent(core.CodeNoTicker, "no price data")

// ParseCSV reads Date,Open,High,Low,Close,Volume rows. Short rows and rows
// with unparsable prices are skipped; a missing volume column reads as zero.
func ParseCSV(r io.Reader) ([]core.PriceBar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoData
	}
	if err != nil {
		return nil, core.ErrRecoverable(core.CodeMalformedPayload, "reading csv header").WithCause(err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"date", "close"} {
		if _, ok := cols[required]; !ok {
			// Stooq answers unknown symbols with a plain "No data" body.
			return nil, ErrNoData
		}
	}

	field := func(rec []string, name string) (float64, bool) {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return 0, false
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
		return v, err == nil
	}

	var bars []core.PriceBar
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, core.ErrRecoverable(core.CodeMalformedPayload, "reading csv row").WithCause(err)
		}
		di := cols["date"]
		if di >= len(rec) {
			continue
		}
		date, err := time.Parse("2006-01-02", strings.TrimSpace(rec[di]))
		if err != nil {
			continue
		}
		closePrice, ok := field(rec, "close")
		if !ok {
			continue
		}
		bar := core.PriceBar{Date: date, Close: closePrice}
		bar.Open, _ = field(rec, "open")
		bar.High, _ = field(rec, "high")
		bar.Low, _ = field(rec, "low")
		bar.Volume, _ = field(rec, "volume")
		bars = append(bars, bar)
	}
	if len(bars) == 0 {
		return nil, ErrNoData
	}
	return bars, nil
}
