package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
)

const articleHTML = `<html><head><title>EV demand cools in Europe</title></head>
<body>
<nav><a href="/">Home</a><a href="/markets">Markets</a></nav>
<div class="ad">Buy now</div>
<article>
  <h1>EV demand cools in Europe</h1>
  <p>Battery electric registrations fell <strong>4%</strong> in May.</p>
  <div class="share">Share on X</div>
  <ul><li>Tesla down</li><li>BYD up</li></ul>
</article>
<footer>Copyright</footer>
</body></html>`

func TestConverter_ExtractsArticle(t *testing.T) {
	t.Parallel()
	got, err := NewConverter().Convert([]byte(articleHTML))
	require.NoError(t, err)

	assert.Equal(t, "EV demand cools in Europe", got.Title)
	assert.Contains(t, got.Markdown, "**4%**")
	assert.Contains(t, got.Markdown, "BYD up")
	assert.NotContains(t, got.Markdown, "Home")
	assert.NotContains(t, got.Markdown, "Share on X")
	assert.NotContains(t, got.Markdown, "Copyright")
}

func TestConverter_TitleFromHeading(t *testing.T) {
	t.Parallel()
	got, err := NewConverter().Convert([]byte(`<body><main><h1>Battery Day</h1><p>text</p></main></body>`))
	require.NoError(t, err)
	assert.Equal(t, "Battery Day", got.Title)
}

func TestFetcher_FetchPage(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "marketflow-test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	f := NewFetcher(FetcherConfig{UserAgent: "marketflow-test", MaxChars: 20, HTTPClient: srv.Client()})
	page, err := f.FetchPage(context.Background(), srv.URL+"/ev")
	require.NoError(t, err)
	assert.Equal(t, "EV demand cools in Europe", page.Title)
	assert.LessOrEqual(t, len([]rune(page.Markdown)), 20)
	assert.Equal(t, srv.URL+"/ev", page.URL)
}

func TestFetcher_Errors(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/busy":
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/gone":
			w.WriteHeader(http.StatusNotFound)
		case "/pdf":
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("%PDF"))
		}
	}))
	defer srv.Close()
	f := NewFetcher(FetcherConfig{HTTPClient: srv.Client()})

	_, err := f.FetchPage(context.Background(), srv.URL+"/busy")
	assert.Equal(t, core.OutcomeRecoverable, core.ClassifyError(err))

	_, err = f.FetchPage(context.Background(), srv.URL+"/gone")
	assert.Equal(t, core.OutcomeFatal, core.ClassifyError(err))

	_, err = f.FetchPage(context.Background(), srv.URL+"/pdf")
	assert.Equal(t, core.OutcomeFatal, core.ClassifyError(err))

	_, err = f.FetchPage(context.Background(), "ftp://example.com/x")
	assert.Equal(t, core.OutcomeFatal, core.ClassifyError(err))
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "abc", Truncate("abc", 0))
	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Equal(t, "시장", Truncate("시장동향", 2))
}
