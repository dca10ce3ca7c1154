package agents

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
	"github.com/hugo-lorenzo-mato/marketflow/internal/logging"
)

// baseMarketQueries always run for market research.
var baseMarketQueries = []string{
	"electric vehicle market trends 2025",
	"EV sales growth forecast 2025",
	"전기차 시장 전망 2025",
	"lithium battery supply chain issues 2025",
	"EV market outlook Asia Pacific",
	"전기차 배터리 공급망",
	"Tesla BYD market share 2025",
	"electric vehicle industry challenges",
}

// DefaultWhitelist lists domains treated as reliable sources.
var DefaultWhitelist = []string{
	"bloomberg.com", "reuters.com", "ft.com", "wsj.com", "iea.org",
	"mckinsey.com", "bcg.com", "deloitte.com", "pwc.com", "tesla.com",
	"marketwatch.com", "cnbc.com", "insideevs.com", "electrek.co",
	"cleantechnica.com", "mk.co.kr", "hankyung.com", "chosun.com",
	"joongang.co.kr", "etnews.com",
}

var trendKeywords = []string{
	"battery", "charging", "subsidy", "tariff", "lithium", "solid-state",
	"autonomous", "price war", "supply chain", "hybrid", "demand",
	"배터리", "충전", "보조금",
}

// MarketOptions configures MarketResearcher.
type MarketOptions struct {
	MaxResults  int
	MaxPages    int
	MaxChars    int
	Parallelism int
	Whitelist   []string
}

func (o MarketOptions) withDefaults() MarketOptions {
	if o.MaxResults <= 0 {
		o.MaxResults = 5
	}
	if o.MaxPages < 0 {
		o.MaxPages = 0
	}
	if o.MaxChars <= 0 {
		o.MaxChars = 8000
	}
	if o.Parallelism <= 0 {
		o.Parallelism = 4
	}
	if len(o.Whitelist) == 0 {
		o.Whitelist = DefaultWhitelist
	}
	return o
}

// MarketResearcher surveys the EV market through web search.
type MarketResearcher struct {
	searcher   core.Searcher
	fetcher    core.PageFetcher
	summarizer core.Summarizer
	opts       MarketOptions
	logger     *logging.Logger
}

// NewMarketResearcher creates the market research unit. fetcher and
// summarizer may be nil.
func NewMarketResearcher(searcher core.Searcher, fetcher core.PageFetcher, summarizer core.Summarizer, opts MarketOptions, logger *logging.Logger) *MarketResearcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &MarketResearcher{
		searcher:   searcher,
		fetcher:    fetcher,
		summarizer: summarizer,
		opts:       opts.withDefaults(),
		logger:     logger.WithAgent(string(core.AgentMarketResearcher)),
	}
}

func (m *MarketResearcher) ID() core.AgentID { return core.AgentMarketResearcher }

func (m *MarketResearcher) Applicable(intents core.IntentSet) bool {
	return intents.Any(core.IntentMarket, core.IntentComparison)
}

func (m *MarketResearcher) RequiredInputs() []core.AgentID { return nil }

// MarketQueries builds the query plan for a request.
func MarketQueries(request string) []string {
	queries := append([]string(nil), baseMarketQueries...)
	lower := strings.ToLower(request)
	if strings.Contains(lower, "tesla") || strings.Contains(request, "테슬라") {
		queries = append(queries, "Tesla market strategy 2025")
	}
	if strings.Contains(lower, "byd") || strings.Contains(request, "비야디") {
		queries = append(queries, "BYD electric vehicle growth")
	}
	if r := strings.TrimSpace(request); r != "" {
		queries = append(queries, r)
	}
	return queries
}

func (m *MarketResearcher) Execute(ctx context.Context, inv core.Invocation) (core.Result, error) {
	if m.searcher == nil {
		return core.Result{}, core.ErrFatalAgent(core.CodeNotConfigured, "no web search provider configured")
	}

	queries := MarketQueries(inv.Request)
	hits, err := m.searchAll(ctx, queries)
	if err != nil {
		return core.Result{}, err
	}
	if len(hits) == 0 {
		return core.Result{}, core.ErrRecoverable(core.CodeUpstreamFailed, "web search returned no results")
	}

	selected := FilterReliable(hits, m.opts.Whitelist, 5)
	m.logger.Debug("search complete", "queries", len(queries), "hits", len(hits), "selected", len(selected))

	pages := m.fetchPages(ctx, selected)

	report := MarketReport{
		Queries:      queries,
		PagesRead:    len(pages),
		KeyCompanies: keyCompanies(selected, pages),
		KeyTrends:    keyTrends(selected, pages),
	}
	for i, h := range selected {
		if i == 10 {
			break
		}
		report.Sources = append(report.Sources, Source{Title: h.Title, URL: h.URL, Score: h.Score})
	}

	report.Summary = extractiveSummary(selected, 3)
	if m.summarizer != nil {
		text, err := m.summarizer.Summarize(ctx, marketInstruction, marketContext(inv.Request, selected, pages, m.opts.MaxChars))
		switch {
		case err == nil && strings.TrimSpace(text) != "":
			report.Summary = strings.TrimSpace(text)
			report.Synthesized = true
		case ctx.Err() != nil:
			return core.Result{}, ctx.Err()
		case err != nil:
			m.logger.Warn("synthesis failed, keeping extractive summary", "error", err)
		}
	}

	summary := fmt.Sprintf("%d sources, %d pages, key companies: %s",
		len(report.Sources), report.PagesRead, strings.Join(report.KeyCompanies, ", "))
	return core.NewResult(m.ID(), summary, report)
}

const marketInstruction = "You are an EV market analyst. Summarize the market size, growth, " +
	"key players, trends, opportunities and risks described in the material. " +
	"Answer in concise markdown paragraphs and cite no URLs."

func (m *MarketResearcher) searchAll(ctx context.Context, queries []string) ([]core.SearchHit, error) {
	var (
		mu       sync.Mutex
		all      []core.SearchHit
		failures []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Parallelism)
	for _, q := range queries {
		g.Go(func() error {
			hits, err := m.searcher.Search(gctx, q, m.opts.MaxResults)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// Auth and configuration problems affect every query.
				if core.ClassifyError(err) == core.OutcomeFatal {
					return err
				}
				failures = append(failures, err)
				return nil
			}
			all = append(all, hits...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(all) == 0 && len(failures) > 0 {
		return nil, failures[0]
	}
	for _, err := range failures {
		m.logger.Warn("query failed", "error", err)
	}
	return DedupeHits(all), nil
}

// DedupeHits drops repeated URLs, keeping the best scored hit, and sorts by
// score descending.
func DedupeHits(hits []core.SearchHit) []core.SearchHit {
	best := make(map[string]int, len(hits))
	var out []core.SearchHit
	for _, h := range hits {
		key := strings.TrimSuffix(strings.TrimSpace(h.URL), "/")
		if key == "" {
			continue
		}
		if i, ok := best[key]; ok {
			if h.Score > out[i].Score {
				out[i] = h
			}
			continue
		}
		best[key] = len(out)
		out = append(out, h)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// FilterReliable keeps hits whose host is on the whitelist. When none
// survive it returns the top fallback hits.
func FilterReliable(hits []core.SearchHit, whitelist []string, fallback int) []core.SearchHit {
	var out []core.SearchHit
	for _, h := range hits {
		if reliableHost(h.URL, whitelist) {
			out = append(out, h)
		}
	}
	if len(out) > 0 {
		return out
	}
	if len(hits) > fallback {
		return hits[:fallback]
	}
	return hits
}

func reliableHost(raw string, whitelist []string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range whitelist {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func (m *MarketResearcher) fetchPages(ctx context.Context, hits []core.SearchHit) []core.Page {
	if m.fetcher == nil || m.opts.MaxPages == 0 {
		return nil
	}
	n := min(m.opts.MaxPages, len(hits))
	pages := make([]core.Page, n)
	ok := make([]bool, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := m.fetcher.FetchPage(ctx, hits[i].URL)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					m.logger.Debug("page fetch failed", "url", hits[i].URL, "error", err)
				}
				return
			}
			pages[i], ok[i] = p, true
		}()
	}
	wg.Wait()

	var out []core.Page
	for i, p := range pages {
		if ok[i] {
			out = append(out, p)
		}
	}
	return out
}

func keyCompanies(hits []core.SearchHit, pages []core.Page) []string {
	counts := map[string]int{}
	count := func(text string) {
		for _, c := range MentionedCompanies(text) {
			counts[c.Name]++
		}
	}
	for _, h := range hits {
		count(h.Title + " " + h.Content)
	}
	for _, p := range pages {
		count(p.Markdown)
	}
	return topKeys(counts, maxSubjects)
}

func keyTrends(hits []core.SearchHit, pages []core.Page) []string {
	counts := map[string]int{}
	var b strings.Builder
	for _, h := range hits {
		b.WriteString(strings.ToLower(h.Title + " " + h.Content))
		b.WriteByte(' ')
	}
	for _, p := range pages {
		b.WriteString(strings.ToLower(p.Markdown))
		b.WriteByte(' ')
	}
	text := b.String()
	for _, kw := range trendKeywords {
		if n := strings.Count(text, kw); n > 0 {
			counts[kw] = n
		}
	}
	return topKeys(counts, 5)
}

func topKeys(counts map[string]int, n int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

func extractiveSummary(hits []core.SearchHit, n int) string {
	var parts []string
	for _, h := range hits {
		if len(parts) == n {
			break
		}
		snippet := strings.TrimSpace(h.Content)
		if snippet == "" {
			continue
		}
		parts = append(parts, firstSentences(snippet, 2))
	}
	return strings.Join(parts, " ")
}

func firstSentences(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	end := 0
	for i := 0; i < n; i++ {
		j := strings.Index(text[end:], ". ")
		if j < 0 {
			return text
		}
		end += j + 2
	}
	return strings.TrimSpace(text[:end])
}

func marketContext(request string, hits []core.SearchHit, pages []core.Page, maxChars int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\n\n## Search results\n", request)
	for _, h := range hits {
		fmt.Fprintf(&b, "- %s: %s\n", h.Title, h.Content)
	}
	for _, p := range pages {
		fmt.Fprintf(&b, "\n## %s\n%s\n", p.Title, truncateRunes(p.Markdown, maxChars))
	}
	return b.String()
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
