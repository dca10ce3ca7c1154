package agents

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
)

type fakeSearcher struct {
	mu      sync.Mutex
	queries []string
	hits    map[string][]core.SearchHit
	all     []core.SearchHit
	err     error
}

func (f *fakeSearcher) Search(_ context.Context, query string, _ int) ([]core.SearchHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	if h, ok := f.hits[query]; ok {
		return h, nil
	}
	return f.all, nil
}

type fakeFetcher struct {
	pages map[string]core.Page
}

func (f *fakeFetcher) FetchPage(_ context.Context, url string) (core.Page, error) {
	if p, ok := f.pages[url]; ok {
		return p, nil
	}
	return core.Page{}, core.ErrFatalAgent(core.CodeUpstreamFailed, "not found")
}

type fakePrices struct {
	bars map[string][]core.PriceBar
	errs map[string]error
	got  []string
}

func (f *fakePrices) History(_ context.Context, ticker string, _, _ time.Time) ([]core.PriceBar, error) {
	f.got = append(f.got, ticker)
	if err, ok := f.errs[ticker]; ok {
		return nil, err
	}
	return f.bars[ticker], nil
}

type fakeDocs struct {
	passages map[string][]core.Passage
}

func (f *fakeDocs) Companies() []string {
	out := make([]string, 0, len(f.passages))
	for name := range f.passages {
		out = append(out, name)
	}
	return out
}

func (f *fakeDocs) Query(company, _ string, topK int) []core.Passage {
	for name, ps := range f.passages {
		if strings.EqualFold(name, company) {
			if len(ps) > topK {
				return ps[:topK]
			}
			return ps
		}
	}
	return nil
}

type fakeSummarizer struct {
	text  string
	err   error
	calls int
}

func (f *fakeSummarizer) Summarize(context.Context, string, string) (string, error) {
	f.calls++
	return f.text, f.err
}

// rampBars returns n daily bars whose close rises by step from start.
func rampBars(n int, start, step float64) []core.PriceBar {
	day := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]core.PriceBar, n)
	for i := range n {
		c := start + float64(i)*step
		bars[i] = core.PriceBar{
			Date:   day.AddDate(0, 0, i),
			Open:   c,
			High:   c + 1,
			Low:    c - 1,
			Close:  c,
			Volume: 1000,
		}
	}
	return bars
}

func invocation(request string, inputs ...core.Result) core.Invocation {
	inv := core.Invocation{RunID: "run-1", Request: request, Attempt: 1, Inputs: map[core.AgentID]core.Result{}}
	for _, r := range inputs {
		inv.Inputs[r.Agent] = r
	}
	return inv
}

func mustResult(agent core.AgentID, data any) core.Result {
	r, err := core.NewResult(agent, "", data)
	if err != nil {
		panic(err)
	}
	return r
}
