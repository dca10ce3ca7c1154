// Package search implements web search providers.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
)

// DefaultTavilyURL is the public Tavily endpoint.
const DefaultTavilyURL = "https://api.tavily.com"

// maxErrorBody bounds how much of an error response is kept in messages.
const maxErrorBody = 512

// TavilyConfig configures the Tavily client.
type TavilyConfig struct {
	APIKey      string
	BaseURL     string
	SearchDepth string
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// Tavily searches the web through the Tavily REST API.
type Tavily struct {
	apiKey  string
	baseURL string
	depth   string
	client  *http.Client
}

// NewTavily creates a Tavily client. An empty key is a configuration error.
func NewTavily(cfg TavilyConfig) (*Tavily, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, core.ErrValidation(core.CodeNotConfigured, "tavily api key is not set")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultTavilyURL
	}
	depth := cfg.SearchDepth
	if depth == "" {
		depth = "advanced"
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Tavily{apiKey: cfg.APIKey, baseURL: baseURL, depth: depth, client: client}, nil
}

type tavilyRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	MaxResults    int    `json:"max_results"`
	SearchDepth   string `json:"search_depth"`
	IncludeAnswer bool   `json:"include_answer"`
}

type tavilyResponse struct {
	Results []struct {
		Title         string  `json:"title"`
		URL           string  `json:"url"`
		Content       string  `json:"content"`
		Score         float64 `json:"score"`
		PublishedDate string  `json:"published_date"`
	} `json:"results"`
}

// Search runs one query. Provider errors are mapped onto the domain taxonomy
// so the supervisor can tell transient failures from permanent ones.
func (t *Tavily) Search(ctx context.Context, query string, maxResults int) ([]core.SearchHit, error) {
	if maxResults <= 0 {
		maxResults = 5
	}
	body, err := json.Marshal(tavilyRequest{
		APIKey:      t.apiKey,
		Query:       query,
		MaxResults:  maxResults,
		SearchDepth: t.depth,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, core.ErrRecoverable(core.CodeUpstreamFailed, "search request failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, statusError(resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, core.ErrRecoverable(core.CodeMalformedPayload, "decoding search response").WithCause(err)
	}

	hits := make([]core.SearchHit, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		hits = append(hits, core.SearchHit{
			Title:         r.Title,
			URL:           r.URL,
			Content:       r.Content,
			Score:         r.Score,
			PublishedDate: r.PublishedDate,
		})
	}
	return hits, nil
}

func statusError(code int, body string) error {
	msg := fmt.Sprintf("tavily returned %d", code)
	if body != "" {
		msg += ": " + body
	}
	switch {
	case code == http.StatusTooManyRequests:
		return core.ErrRateLimit(msg)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return core.ErrAuth(msg)
	case code >= 500:
		return core.ErrRecoverable(core.CodeUpstreamFailed, msg)
	default:
		return core.ErrFatalAgent(core.CodeUpstreamFailed, msg)
	}
}

// IsConfigError reports whether err means the provider cannot be built.
func IsConfigError(err error) bool {
	var de *core.DomainError
	return errors.As(err, &de) && de.Code == core.CodeNotConfigured
}
