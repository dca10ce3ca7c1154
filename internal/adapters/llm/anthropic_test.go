package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
)

const messageResponse = `{
  "id": "msg_01",
  "type": "message",
  "role": "assistant",
  "model": "claude-sonnet-4-5",
  "content": [{"type": "text", "text": "EV demand is slowing in Europe."}],
  "stop_reason": "end_turn",
  "usage": {"input_tokens": 120, "output_tokens": 12}
}`

func newTestSummarizer(t *testing.T, h http.HandlerFunc) *Summarizer {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	s, err := New(Config{APIKey: "sk-ant-test", BaseURL: srv.URL, Model: "claude-sonnet-4-5", MaxTokens: 256})
	require.NoError(t, err)
	return s
}

func TestSummarizer_Summarize(t *testing.T) {
	t.Parallel()
	var body map[string]any
	s := newTestSummarizer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant-test", r.Header.Get("X-Api-Key"))
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(messageResponse))
	})

	out, err := s.Summarize(context.Background(), "Summarize the EV market.", "Registrations fell 4%.")
	require.NoError(t, err)
	assert.Equal(t, "EV demand is slowing in Europe.", out)

	assert.Equal(t, "claude-sonnet-4-5", body["model"])
	assert.EqualValues(t, 256, body["max_tokens"])

	in, outTok, calls := s.Usage()
	assert.EqualValues(t, 120, in)
	assert.EqualValues(t, 12, outTok)
	assert.Equal(t, 1, calls)
}

func TestSummarizer_ErrorMapping(t *testing.T) {
	t.Parallel()
	tests := []struct {
		status int
		want   core.OutcomeKind
	}{
		{http.StatusTooManyRequests, core.OutcomeRecoverable},
		{http.StatusInternalServerError, core.OutcomeRecoverable},
		{http.StatusUnauthorized, core.OutcomeFatal},
		{http.StatusBadRequest, core.OutcomeFatal},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			t.Parallel()
			s := newTestSummarizer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"boom"}}`))
			})
			_, err := s.Summarize(context.Background(), "x", "y")
			require.Error(t, err)
			assert.Equal(t, tt.want, core.ClassifyError(err))
		})
	}
}

func TestNew_RequiresKey(t *testing.T) {
	t.Parallel()
	_, err := New(Config{})
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}
