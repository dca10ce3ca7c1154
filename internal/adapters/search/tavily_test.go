package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
)

func newTestTavily(t *testing.T, handler http.HandlerFunc) *Tavily {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	tv, err := NewTavily(TavilyConfig{APIKey: "tvly-test", BaseURL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)
	return tv
}

func TestTavily_Search(t *testing.T) {
	t.Parallel()
	var got tavilyRequest
	tv := newTestTavily(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"results":[
			{"title":"EV sales 2025","url":"https://www.reuters.com/a","content":"EV sales grew","score":0.91},
			{"title":"BYD","url":"https://electrek.co/b","content":"BYD leads","score":0.72,"published_date":"2025-06-01"}
		]}`))
	})

	hits, err := tv.Search(context.Background(), "EV market trends", 3)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "https://www.reuters.com/a", hits[0].URL)
	assert.InDelta(t, 0.91, hits[0].Score, 1e-9)
	assert.Equal(t, "2025-06-01", hits[1].PublishedDate)

	assert.Equal(t, "EV market trends", got.Query)
	assert.Equal(t, 3, got.MaxResults)
	assert.Equal(t, "advanced", got.SearchDepth)
	assert.Equal(t, "tvly-test", got.APIKey)
}

func TestTavily_StatusMapping(t *testing.T) {
	t.Parallel()
	tests := []struct {
		status int
		want   core.OutcomeKind
	}{
		{http.StatusTooManyRequests, core.OutcomeRecoverable},
		{http.StatusBadGateway, core.OutcomeRecoverable},
		{http.StatusUnauthorized, core.OutcomeFatal},
		{http.StatusBadRequest, core.OutcomeFatal},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			t.Parallel()
			tv := newTestTavily(t, func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tt.status)
			})
			_, err := tv.Search(context.Background(), "q", 5)
			require.Error(t, err)
			assert.Equal(t, tt.want, core.ClassifyError(err))
		})
	}
}

func TestTavily_MalformedBodyIsRecoverable(t *testing.T) {
	t.Parallel()
	tv := newTestTavily(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"results": [`))
	})
	_, err := tv.Search(context.Background(), "q", 5)
	require.Error(t, err)
	assert.Equal(t, core.OutcomeRecoverable, core.ClassifyError(err))
}

func TestTavily_CancelledContext(t *testing.T) {
	t.Parallel()
	tv := newTestTavily(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"results":[]}`))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tv.Search(ctx, "q", 5)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewTavily_RequiresKey(t *testing.T) {
	t.Parallel()
	_, err := NewTavily(TavilyConfig{})
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}
