// Package web fetches news pages and reduces them to markdown for research.
package web

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
)

const defaultMaxBodyBytes = 2 << 20

// FetcherConfig configures a Fetcher.
type FetcherConfig struct {
	Timeout   time.Duration
	UserAgent string
	// MaxChars truncates extracted markdown. Zero keeps everything.
	MaxChars     int
	MaxBodyBytes int64
	HTTPClient   *http.Client
}

// Fetcher downloads HTML pages and converts their main content to markdown.
type Fetcher struct {
	client    *http.Client
	userAgent string
	maxChars  int
	maxBody   int64
	converter *Converter
}

// NewFetcher creates a Fetcher.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		client = &http.Client{
			Timeout: timeout,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (max 5)")
				}
				return nil
			},
		}
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "marketflow/1.0"
	}
	return &Fetcher{
		client:    client,
		userAgent: ua,
		maxChars:  cfg.MaxChars,
		maxBody:   maxBody,
		converter: NewConverter(),
	}
}

// FetchPage retrieves rawURL and returns its title and markdown body.
func (f *Fetcher) FetchPage(ctx context.Context, rawURL string) (core.Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return core.Page{}, core.ErrFatalAgent(core.CodeMalformedPayload, fmt.Sprintf("invalid page url %q", rawURL))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return core.Page{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return core.Page{}, ctxErr
		}
		return core.Page{}, core.ErrRecoverable(core.CodeUpstreamFailed, "fetch "+u.Host).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("fetch %s: HTTP %d", u.Host, resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return core.Page{}, core.ErrRecoverable(core.CodeUpstreamFailed, msg)
		}
		return core.Page{}, core.ErrFatalAgent(core.CodeUpstreamFailed, msg)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil && !strings.Contains(mt, "html") && mt != "text/plain" {
			return core.Page{}, core.ErrFatalAgent(core.CodeMalformedPayload, "unsupported content type "+mt)
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return core.Page{}, core.ErrRecoverable(core.CodeUpstreamFailed, "read body").WithCause(err)
	}
	if int64(len(body)) > f.maxBody {
		body = body[:f.maxBody]
	}

	converted, err := f.converter.Convert(body)
	if err != nil {
		return core.Page{}, core.ErrFatalAgent(core.CodeMalformedPayload, "convert page").WithCause(err)
	}

	return core.Page{
		URL:      u.String(),
		Title:    converted.Title,
		Markdown: Truncate(converted.Markdown, f.maxChars),
	}, nil
}

// Truncate cuts s to at most max runes. Zero or negative max keeps s.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
