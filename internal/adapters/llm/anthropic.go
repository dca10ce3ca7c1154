// Package llm provides the optional summarizer used by research agents.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
)

const systemPrompt = `You are a financial research assistant covering the electric vehicle
and battery industry. Answer only from the material provided. Be concise and
factual, keep figures and dates exactly as given, and say so when the
material does not answer the question.`

// Config configures the Anthropic summarizer.
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
	// MaxRetries is the SDK-level retry count for transport errors.
	MaxRetries int
}

// Summarizer implements core.Summarizer with the Anthropic Messages API.
type Summarizer struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64

	mu        sync.Mutex
	inputTok  int64
	outputTok int64
	calls     int
}

// New creates a Summarizer. The API key is required.
func New(cfg Config) (*Summarizer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, core.ErrValidation(core.CodeNotConfigured, "anthropic api key is not set")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_5_20250929
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	return &Summarizer{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

// Summarize sends the instruction and content as one user turn and returns
// the concatenated text blocks of the reply.
func (s *Summarizer) Summarize(ctx context.Context, instruction, content string) (string, error) {
	prompt := instruction + "\n\n<material>\n" + content + "\n</material>"

	resp, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     s.model,
		MaxTokens: s.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", classify(ctx, err)
	}

	s.mu.Lock()
	s.inputTok += resp.Usage.InputTokens
	s.outputTok += resp.Usage.OutputTokens
	s.calls++
	s.mu.Unlock()

	var b strings.Builder
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(text.Text)
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", core.ErrRecoverable(core.CodeMalformedPayload, "empty completion")
	}
	return out, nil
}

// Usage returns accumulated token counts and call count.
func (s *Summarizer) Usage() (input, output int64, calls int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputTok, s.outputTok, s.calls
}

func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		msg := fmt.Sprintf("anthropic returned %d", apiErr.StatusCode)
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return core.ErrRateLimit(msg)
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return core.ErrAuth(msg)
		case apiErr.StatusCode >= 500:
			return core.ErrRecoverable(core.CodeUpstreamFailed, msg).WithCause(err)
		default:
			return core.ErrFatalAgent(core.CodeUpstreamFailed, msg).WithCause(err)
		}
	}
	return core.ErrRecoverable(core.CodeUpstreamFailed, "anthropic request failed").WithCause(err)
}
