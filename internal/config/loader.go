package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides (MARKETFLOW_LOG_LEVEL...).
const EnvPrefix = "MARKETFLOW"

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return NewLoaderWithViper(viper.New())
}

// NewLoaderWithViper creates a loader using an existing viper instance so
// CLI flags bound to it take precedence.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: EnvPrefix,
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// ConfigFileUsed returns the file read by the last Load, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags bound to the viper instance
// 2. Environment variables (MARKETFLOW_*)
// 3. Project config (.marketflow/config.yaml, then ./.marketflow.yaml)
// 4. User config (~/.config/marketflow/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	setDefaults(l.v)

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName("config")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".marketflow")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "marketflow"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if l.configFile == "" {
			if err := l.readLegacyProjectFile(); err != nil {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	applySecretFallbacks(&cfg)

	return &cfg, nil
}

// Default returns the built-in configuration, ignoring files and the
// environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return &cfg
}

// readLegacyProjectFile reads ./.marketflow.yaml when no config.yaml exists.
func (l *Loader) readLegacyProjectFile() error {
	const name = ".marketflow.yaml"
	if _, err := os.Stat(name); err != nil {
		return nil
	}
	l.v.SetConfigFile(name)
	if err := l.v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	return nil
}

// applySecretFallbacks fills provider keys from their conventional variables.
func applySecretFallbacks(cfg *Config) {
	if cfg.Search.APIKey == "" {
		cfg.Search.APIKey = os.Getenv("TAVILY_API_KEY")
	}
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")
	v.SetDefault("log.file", "")

	v.SetDefault("supervisor.timeout", "30m")
	v.SetDefault("supervisor.max_parallel", 0)
	v.SetDefault("supervisor.default_max_retries", 3)
	v.SetDefault("supervisor.default_timeout", "2m")
	v.SetDefault("supervisor.backoff.enabled", true)
	v.SetDefault("supervisor.backoff.base_delay", "1s")
	v.SetDefault("supervisor.backoff.max_delay", "30s")
	v.SetDefault("supervisor.backoff.jitter", 0.1)
	v.SetDefault("supervisor.backoff.multiplier", 2.0)

	agentDefaults := []struct {
		key      string
		critical bool
		priority int
		timeout  string
	}{
		{"market_researcher", false, 50, "3m"},
		{"company_analyzer", false, 50, "3m"},
		{"stock_analyzer", true, 100, "2m"},
		{"chart_generator", false, 40, "1m"},
		{"report_compiler", true, 10, "1m"},
	}
	for _, a := range agentDefaults {
		prefix := "agents." + a.key + "."
		v.SetDefault(prefix+"enabled", true)
		v.SetDefault(prefix+"critical", a.critical)
		v.SetDefault(prefix+"priority", a.priority)
		v.SetDefault(prefix+"max_retries", 3)
		v.SetDefault(prefix+"timeout", a.timeout)
	}

	v.SetDefault("intents.fallback", []string{"market", "company"})
	v.SetDefault("intents.stock", []string{})
	v.SetDefault("intents.market", []string{})
	v.SetDefault("intents.company", []string{})
	v.SetDefault("intents.comparison", []string{})

	v.SetDefault("state.backend", "sqlite")
	v.SetDefault("state.path", ".marketflow/state/runs.db")

	v.SetDefault("search.provider", "tavily")
	v.SetDefault("search.api_key", "")
	v.SetDefault("search.base_url", "https://api.tavily.com")
	v.SetDefault("search.max_results", 5)
	v.SetDefault("search.search_depth", "advanced")
	v.SetDefault("search.timeout", "30s")
	v.SetDefault("search.whitelist", []string{})
	v.SetDefault("search.rate_limit.burst", 5)
	v.SetDefault("search.rate_limit.per_second", 1)

	v.SetDefault("web.enabled", true)
	v.SetDefault("web.max_pages", 3)
	v.SetDefault("web.max_tokens", 2000)
	v.SetDefault("web.timeout", "20s")
	v.SetDefault("web.user_agent", "marketflow/1.0")
	v.SetDefault("web.rate_limit.burst", 4)
	v.SetDefault("web.rate_limit.per_second", 2)

	v.SetDefault("prices.provider", "stooq")
	v.SetDefault("prices.base_url", "https://stooq.com")
	v.SetDefault("prices.cache_dir", ".marketflow/cache/prices")
	v.SetDefault("prices.cache_ttl", "2h")
	v.SetDefault("prices.lookback_days", 90)
	v.SetDefault("prices.timeout", "20s")
	v.SetDefault("prices.rate_limit.burst", 3)
	v.SetDefault("prices.rate_limit.per_second", 0.5)

	v.SetDefault("llm.enabled", false)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", "claude-sonnet-4-5")
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.timeout", "60s")

	v.SetDefault("documents.dir", ".marketflow/documents")
	v.SetDefault("documents.chunk_size", 1000)
	v.SetDefault("documents.chunk_overlap", 200)
	v.SetDefault("documents.top_k", 3)
	v.SetDefault("documents.watch", false)

	v.SetDefault("output.dir", ".marketflow/output")

	v.SetDefault("events.buffer_size", 256)
	v.SetDefault("events.nats.enabled", false)
	v.SetDefault("events.nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("events.nats.subject_prefix", "marketflow")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"http://localhost:5173"})
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
}
