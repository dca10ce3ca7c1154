package config

import (
	"time"

	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
)

// Config holds all application configuration.
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Agents     AgentsConfig     `mapstructure:"agents"`
	Intents    IntentsConfig    `mapstructure:"intents"`
	State      StateConfig      `mapstructure:"state"`
	Search     SearchConfig     `mapstructure:"search"`
	Web        WebConfig        `mapstructure:"web"`
	Prices     PricesConfig     `mapstructure:"prices"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Documents  DocumentsConfig  `mapstructure:"documents"`
	Output     OutputConfig     `mapstructure:"output"`
	Events     EventsConfig     `mapstructure:"events"`
	Server     ServerConfig     `mapstructure:"server"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// SupervisorConfig configures the decision loop.
type SupervisorConfig struct {
	// Timeout bounds a whole run. Zero disables the deadline.
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxParallel       int           `mapstructure:"max_parallel"`
	DefaultMaxRetries int           `mapstructure:"default_max_retries"`
	DefaultTimeout    time.Duration `mapstructure:"default_timeout"`
	Backoff           BackoffConfig `mapstructure:"backoff"`
}

// BackoffConfig configures the delay between attempts of one agent.
type BackoffConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	Jitter     float64       `mapstructure:"jitter"`
	Multiplier float64       `mapstructure:"multiplier"`
}

// AgentsConfig holds per-agent policy.
type AgentsConfig struct {
	MarketResearcher AgentConfig `mapstructure:"market_researcher"`
	CompanyAnalyzer  AgentConfig `mapstructure:"company_analyzer"`
	StockAnalyzer    AgentConfig `mapstructure:"stock_analyzer"`
	ChartGenerator   AgentConfig `mapstructure:"chart_generator"`
	ReportCompiler   AgentConfig `mapstructure:"report_compiler"`
}

// AgentConfig configures one collaborator.
type AgentConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Critical   bool          `mapstructure:"critical"`
	Priority   int           `mapstructure:"priority"`
	MaxRetries int           `mapstructure:"max_retries"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// Get returns the configuration of an agent by id.
func (a AgentsConfig) Get(id core.AgentID) (AgentConfig, bool) {
	switch id {
	case core.AgentMarketResearcher:
		return a.MarketResearcher, true
	case core.AgentCompanyAnalyzer:
		return a.CompanyAnalyzer, true
	case core.AgentStockAnalyzer:
		return a.StockAnalyzer, true
	case core.AgentChartGenerator:
		return a.ChartGenerator, true
	case core.AgentReportCompiler:
		return a.ReportCompiler, true
	default:
		return AgentConfig{}, false
	}
}

// IntentsConfig configures request classification.
type IntentsConfig struct {
	Fallback []string `mapstructure:"fallback"`
	Stock    []string `mapstructure:"stock"`
	Market   []string `mapstructure:"market"`
	Company  []string `mapstructure:"company"`
	// Comparison keywords; " vs " keeps its spaces.
	Comparison []string `mapstructure:"comparison"`
}

// Keywords returns the configured keyword lists, or nil when none are set.
func (c IntentsConfig) Keywords() map[core.Intent][]string {
	if len(c.Stock)+len(c.Market)+len(c.Company)+len(c.Comparison) == 0 {
		return nil
	}
	return map[core.Intent][]string{
		core.IntentStock:      c.Stock,
		core.IntentMarket:     c.Market,
		core.IntentCompany:    c.Company,
		core.IntentComparison: c.Comparison,
	}
}

// FallbackIntents returns the fallback list as typed intents.
func (c IntentsConfig) FallbackIntents() []core.Intent {
	out := make([]core.Intent, 0, len(c.Fallback))
	for _, s := range c.Fallback {
		out = append(out, core.Intent(s))
	}
	return out
}

// StateConfig configures run persistence.
type StateConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// SearchConfig configures the web search provider.
type SearchConfig struct {
	Provider    string          `mapstructure:"provider"`
	APIKey      string          `mapstructure:"api_key"`
	BaseURL     string          `mapstructure:"base_url"`
	MaxResults  int             `mapstructure:"max_results"`
	SearchDepth string          `mapstructure:"search_depth"`
	Timeout     time.Duration   `mapstructure:"timeout"`
	Whitelist   []string        `mapstructure:"whitelist"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig bounds outbound requests to one provider with a token
// bucket. A zero PerSecond disables limiting.
type RateLimitConfig struct {
	Burst     float64 `mapstructure:"burst"`
	PerSecond float64 `mapstructure:"per_second"`
}

// WebConfig configures page fetching for market research.
type WebConfig struct {
	Enabled   bool            `mapstructure:"enabled"`
	MaxPages  int             `mapstructure:"max_pages"`
	MaxTokens int             `mapstructure:"max_tokens"`
	Timeout   time.Duration   `mapstructure:"timeout"`
	UserAgent string          `mapstructure:"user_agent"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// PricesConfig configures daily price retrieval.
type PricesConfig struct {
	Provider     string          `mapstructure:"provider"`
	BaseURL      string          `mapstructure:"base_url"`
	CacheDir     string          `mapstructure:"cache_dir"`
	CacheTTL     time.Duration   `mapstructure:"cache_ttl"`
	LookbackDays int             `mapstructure:"lookback_days"`
	Timeout      time.Duration   `mapstructure:"timeout"`
	RateLimit    RateLimitConfig `mapstructure:"rate_limit"`
}

// LLMConfig configures the optional summarizer.
type LLMConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	Model     string        `mapstructure:"model"`
	MaxTokens int           `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// DocumentsConfig configures the local company document store.
type DocumentsConfig struct {
	Dir          string `mapstructure:"dir"`
	ChunkSize    int    `mapstructure:"chunk_size"`
	ChunkOverlap int    `mapstructure:"chunk_overlap"`
	TopK         int    `mapstructure:"top_k"`
	Watch        bool   `mapstructure:"watch"`
}

// OutputConfig configures where charts and reports are written.
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

// EventsConfig configures the event bus and its NATS bridge.
type EventsConfig struct {
	BufferSize int        `mapstructure:"buffer_size"`
	NATS       NATSConfig `mapstructure:"nats"`
}

// NATSConfig configures event forwarding to NATS.
type NATSConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}
