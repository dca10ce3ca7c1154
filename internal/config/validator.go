package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{errors: make(ValidationErrors, 0)}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateSupervisor(&cfg.Supervisor)
	v.validateAgents(&cfg.Agents)
	v.validateIntents(&cfg.Intents)
	v.validateState(&cfg.State)
	v.validateSearch(&cfg.Search)
	v.validateWeb(&cfg.Web)
	v.validatePrices(&cfg.Prices)
	v.validateLLM(&cfg.LLM)
	v.validateDocuments(&cfg.Documents)
	v.validateEvents(&cfg.Events)
	v.validateServer(&cfg.Server)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{Field: field, Value: value, Message: msg})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	switch cfg.Level {
	case "debug", "info", "warn", "error":
	default:
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}
	switch cfg.Format {
	case "auto", "text", "json":
	default:
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}
	if cfg.File != "" && !isValidPath(cfg.File) {
		v.addError("log.file", cfg.File, "invalid file path")
	}
}

func (v *Validator) validateSupervisor(cfg *SupervisorConfig) {
	if cfg.Timeout < 0 {
		v.addError("supervisor.timeout", cfg.Timeout, "must not be negative")
	}
	if cfg.MaxParallel < 0 {
		v.addError("supervisor.max_parallel", cfg.MaxParallel, "must not be negative")
	}
	if cfg.DefaultMaxRetries < 1 {
		v.addError("supervisor.default_max_retries", cfg.DefaultMaxRetries, "must be at least 1")
	}
	if cfg.DefaultTimeout <= 0 {
		v.addError("supervisor.default_timeout", cfg.DefaultTimeout, "must be positive")
	}
	if cfg.Backoff.Enabled {
		if cfg.Backoff.BaseDelay < 0 {
			v.addError("supervisor.backoff.base_delay", cfg.Backoff.BaseDelay, "must not be negative")
		}
		if cfg.Backoff.MaxDelay < cfg.Backoff.BaseDelay {
			v.addError("supervisor.backoff.max_delay", cfg.Backoff.MaxDelay, "must be >= base_delay")
		}
		if cfg.Backoff.Jitter < 0 || cfg.Backoff.Jitter > 1 {
			v.addError("supervisor.backoff.jitter", cfg.Backoff.Jitter, "must be between 0 and 1")
		}
		if cfg.Backoff.Multiplier < 1 {
			v.addError("supervisor.backoff.multiplier", cfg.Backoff.Multiplier, "must be at least 1")
		}
	}
}

func (v *Validator) validateAgents(cfg *AgentsConfig) {
	enabled := 0
	for _, id := range core.AllAgents() {
		a, _ := cfg.Get(id)
		field := "agents." + string(id)
		if !a.Enabled {
			if id == core.AgentStockAnalyzer || id == core.AgentReportCompiler {
				v.addError(field+".enabled", a.Enabled, "agent is required by every request")
			}
			continue
		}
		enabled++
		if a.MaxRetries < 0 {
			v.addError(field+".max_retries", a.MaxRetries, "must not be negative")
		}
		if a.Timeout < 0 {
			v.addError(field+".timeout", a.Timeout, "must not be negative")
		}
	}
	if enabled == 0 {
		v.addError("agents", enabled, "at least one agent must be enabled")
	}
	// Downstream agents depend on stock_analyzer through a hard edge.
	if !cfg.StockAnalyzer.Critical && (cfg.ChartGenerator.Enabled || cfg.ReportCompiler.Enabled) {
		v.addError("agents.stock_analyzer.critical", false, "must be critical while chart_generator or report_compiler requires it")
	}
}

func (v *Validator) validateIntents(cfg *IntentsConfig) {
	valid := make(map[string]bool)
	for _, i := range core.AllIntents() {
		valid[string(i)] = true
	}
	if len(cfg.Fallback) == 0 {
		v.addError("intents.fallback", cfg.Fallback, "at least one fallback intent required")
	}
	for _, f := range cfg.Fallback {
		if !valid[f] {
			v.addError("intents.fallback", f, "unknown intent")
		}
	}
}

func (v *Validator) validateState(cfg *StateConfig) {
	switch strings.ToLower(cfg.Backend) {
	case "sqlite", "json":
	default:
		v.addError("state.backend", cfg.Backend, "must be one of: sqlite, json")
	}
	if cfg.Path == "" {
		v.addError("state.path", cfg.Path, "path required")
	} else if !isValidPath(cfg.Path) {
		v.addError("state.path", cfg.Path, "invalid path")
	}
}

func (v *Validator) validateSearch(cfg *SearchConfig) {
	switch cfg.Provider {
	case "tavily", "none":
	default:
		v.addError("search.provider", cfg.Provider, "must be one of: tavily, none")
	}
	if cfg.Provider == "tavily" {
		v.validateURL("search.base_url", cfg.BaseURL)
	}
	if cfg.MaxResults < 1 || cfg.MaxResults > 20 {
		v.addError("search.max_results", cfg.MaxResults, "must be between 1 and 20")
	}
	switch cfg.SearchDepth {
	case "basic", "advanced":
	default:
		v.addError("search.search_depth", cfg.SearchDepth, "must be one of: basic, advanced")
	}
	v.validateRateLimit("search.rate_limit", cfg.RateLimit)
}

func (v *Validator) validateRateLimit(field string, cfg RateLimitConfig) {
	if cfg.PerSecond < 0 {
		v.addError(field+".per_second", cfg.PerSecond, "must not be negative")
	}
	if cfg.PerSecond > 0 && cfg.Burst < 1 {
		v.addError(field+".burst", cfg.Burst, "must be at least 1 when limiting is enabled")
	}
}

func (v *Validator) validateWeb(cfg *WebConfig) {
	if !cfg.Enabled {
		return
	}
	if cfg.MaxPages < 0 {
		v.addError("web.max_pages", cfg.MaxPages, "must not be negative")
	}
	if cfg.MaxTokens <= 0 {
		v.addError("web.max_tokens", cfg.MaxTokens, "must be positive")
	}
	v.validateRateLimit("web.rate_limit", cfg.RateLimit)
}

func (v *Validator) validatePrices(cfg *PricesConfig) {
	switch cfg.Provider {
	case "stooq":
		v.validateURL("prices.base_url", cfg.BaseURL)
	default:
		v.addError("prices.provider", cfg.Provider, "must be: stooq")
	}
	if cfg.LookbackDays < 60 {
		v.addError("prices.lookback_days", cfg.LookbackDays, "must be at least 60 to compute MA60")
	}
	if cfg.CacheTTL < 0 {
		v.addError("prices.cache_ttl", cfg.CacheTTL, "must not be negative")
	}
	v.validateRateLimit("prices.rate_limit", cfg.RateLimit)
}

func (v *Validator) validateLLM(cfg *LLMConfig) {
	if !cfg.Enabled {
		return
	}
	if cfg.Model == "" {
		v.addError("llm.model", cfg.Model, "model required when llm is enabled")
	}
	if cfg.MaxTokens <= 0 {
		v.addError("llm.max_tokens", cfg.MaxTokens, "must be positive")
	}
	if cfg.BaseURL != "" {
		v.validateURL("llm.base_url", cfg.BaseURL)
	}
}

func (v *Validator) validateDocuments(cfg *DocumentsConfig) {
	if cfg.ChunkSize <= 0 {
		v.addError("documents.chunk_size", cfg.ChunkSize, "must be positive")
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		v.addError("documents.chunk_overlap", cfg.ChunkOverlap, "must be >= 0 and smaller than chunk_size")
	}
	if cfg.TopK <= 0 {
		v.addError("documents.top_k", cfg.TopK, "must be positive")
	}
}

func (v *Validator) validateEvents(cfg *EventsConfig) {
	if cfg.BufferSize <= 0 {
		v.addError("events.buffer_size", cfg.BufferSize, "must be positive")
	}
	if cfg.NATS.Enabled {
		if !strings.HasPrefix(cfg.NATS.URL, "nats://") && !strings.HasPrefix(cfg.NATS.URL, "tls://") {
			v.addError("events.nats.url", cfg.NATS.URL, "must start with nats:// or tls://")
		}
		if cfg.NATS.SubjectPrefix == "" || strings.ContainsAny(cfg.NATS.SubjectPrefix, " *>") {
			v.addError("events.nats.subject_prefix", cfg.NATS.SubjectPrefix, "must be a plain subject token")
		}
	}
}

func (v *Validator) validateServer(cfg *ServerConfig) {
	if cfg.Port < 1 || cfg.Port > 65535 {
		v.addError("server.port", cfg.Port, "must be between 1 and 65535")
	}
}

func (v *Validator) validateURL(field, raw string) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		v.addError(field, raw, "must be an absolute http(s) URL")
	}
}

func isValidPath(path string) bool {
	dir := filepath.Dir(path)
	_, err := os.Stat(dir)
	return err == nil || os.IsNotExist(err)
}

// ValidateConfig is a convenience function that creates a validator and validates config.
func ValidateConfig(cfg *Config) error {
	return NewValidator().Validate(cfg)
}
