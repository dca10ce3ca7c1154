package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/marketflow/internal/adapters/docs"
	"github.com/hugo-lorenzo-mato/marketflow/internal/adapters/llm"
	"github.com/hugo-lorenzo-mato/marketflow/internal/adapters/prices"
	"github.com/hugo-lorenzo-mato/marketflow/internal/adapters/ratelimit"
	"github.com/hugo-lorenzo-mato/marketflow/internal/adapters/search"
	"github.com/hugo-lorenzo-mato/marketflow/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/marketflow/internal/adapters/web"
	"github.com/hugo-lorenzo-mato/marketflow/internal/agents"
	"github.com/hugo-lorenzo-mato/marketflow/internal/config"
	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
	"github.com/hugo-lorenzo-mato/marketflow/internal/events"
	"github.com/hugo-lorenzo-mato/marketflow/internal/logging"
	"github.com/hugo-lorenzo-mato/marketflow/internal/supervisor"
)

// app holds everything a command needs to drive or inspect runs.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	store  core.StateManager
	bus    *events.EventBus
	runner *supervisor.Runner
	docs   *docs.Store

	cancel  context.CancelFunc
	closers []func() error
}

// loadConfig reads and validates the configuration through the global
// viper instance so persistent flags take precedence.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger. The returned func closes the log
// file, if one was opened.
func newLogger(cfg *config.Config) (*logging.Logger, func() error) {
	lc := logging.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  os.Stderr,
		NoColor: noColor,
	}
	closeFn := func() error { return nil }
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err == nil {
			lc.Output = f
			lc.Format = "json"
			closeFn = f.Close
		}
	}
	if quiet && cfg.Log.File == "" {
		lc.Level = "error"
	}
	return logging.New(lc), closeFn
}

// newApp wires configuration, adapters, the agent registry and the runner.
// Background work (document watching, NATS forwarding) is bound to ctx and
// stopped by Close.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, closeLog := newLogger(cfg)

	ctx, cancel := context.WithCancel(ctx)
	a := &app{
		cfg:     cfg,
		logger:  logger,
		bus:     events.New(cfg.Events.BufferSize),
		cancel:  cancel,
		closers: []func() error{closeLog},
	}

	store, err := state.NewStateManager(cfg.State.Backend, cfg.State.Path)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("creating state manager: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, func() error { return state.CloseStateManager(store) })

	src, err := a.sources(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	registry, err := agents.NewRegistry(cfg, src)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("building agent registry: %w", err)
	}

	var backoff *supervisor.Backoff
	if b := cfg.Supervisor.Backoff; b.Enabled {
		backoff = supervisor.NewBackoff(
			supervisor.WithBaseDelay(b.BaseDelay),
			supervisor.WithMaxDelay(b.MaxDelay),
			supervisor.WithJitter(b.Jitter),
			supervisor.WithMultiplier(b.Multiplier),
		)
	}

	runner, err := supervisor.NewRunner(supervisor.RunnerConfig{
		Registry:     registry,
		Store:        store,
		Bus:          a.bus,
		Logger:       logger,
		Classifier:   supervisor.NewIntentClassifier(cfg.Intents.Keywords(), cfg.Intents.FallbackIntents()),
		RunTimeout:   cfg.Supervisor.Timeout,
		MaxParallel:  cfg.Supervisor.MaxParallel,
		AgentTimeout: cfg.Supervisor.DefaultTimeout,
		Backoff:      backoff,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("creating runner: %w", err)
	}
	a.runner = runner

	a.startNATS(ctx)
	return a, nil
}

// sources builds the adapters behind the agents. Missing credentials are
// not fatal here: the affected agent fails with a configuration error and
// the supervisor degrades or fails the run according to its policy.
func (a *app) sources(ctx context.Context) (agents.Sources, error) {
	cfg, logger := a.cfg, a.logger
	src := agents.Sources{Logger: logger}

	if cfg.Search.Provider == "tavily" {
		tavily, err := search.NewTavily(search.TavilyConfig{
			APIKey:      cfg.Search.APIKey,
			BaseURL:     cfg.Search.BaseURL,
			SearchDepth: cfg.Search.SearchDepth,
			Timeout:     cfg.Search.Timeout,
		})
		if err != nil {
			logger.Warn("web search unavailable", "error", err)
		} else {
			src.Searcher = ratelimit.Searcher(tavily, newLimiter(cfg.Search.RateLimit))
		}
	}

	if cfg.Web.Enabled {
		fetcher := web.NewFetcher(web.FetcherConfig{
			Timeout:   cfg.Web.Timeout,
			UserAgent: cfg.Web.UserAgent,
			MaxChars:  cfg.Web.MaxTokens * 4,
		})
		src.Fetcher = ratelimit.PageFetcher(fetcher, newLimiter(cfg.Web.RateLimit))
	}

	stooq := prices.NewStooq(cfg.Prices.BaseURL, &http.Client{Timeout: cfg.Prices.Timeout})
	limited := ratelimit.PriceSource(stooq, newLimiter(cfg.Prices.RateLimit))
	src.Prices = prices.NewCachedSource(limited, cfg.Prices.CacheDir, cfg.Prices.CacheTTL)

	store, err := docs.NewStore(cfg.Documents.Dir, docs.Options{
		ChunkSize:    cfg.Documents.ChunkSize,
		ChunkOverlap: cfg.Documents.ChunkOverlap,
	})
	if err != nil {
		return src, fmt.Errorf("loading documents: %w", err)
	}
	a.docs = store
	src.Documents = store
	logger.Debug("documents loaded", "dir", store.Dir(), "companies", len(store.Companies()), "chunks", store.ChunkCount())
	if cfg.Documents.Watch {
		go func() {
			if err := store.Watch(ctx, 0, logger.WithComponent("documents")); err != nil {
				logger.Warn("document watch stopped", "error", err)
			}
		}()
	}

	if cfg.LLM.Enabled {
		summarizer, err := llm.New(llm.Config{
			APIKey:    cfg.LLM.APIKey,
			BaseURL:   cfg.LLM.BaseURL,
			Model:     cfg.LLM.Model,
			MaxTokens: cfg.LLM.MaxTokens,
			Timeout:   cfg.LLM.Timeout,
		})
		if err != nil {
			logger.Warn("llm synthesis unavailable, using extractive summaries", "error", err)
		} else {
			src.Summarizer = summarizer
		}
	}
	return src, nil
}

// newLimiter returns nil when cfg disables limiting.
func newLimiter(cfg config.RateLimitConfig) *ratelimit.Limiter {
	rl := ratelimit.Config{Burst: cfg.Burst, PerSecond: cfg.PerSecond}
	if !rl.Enabled() {
		return nil
	}
	return ratelimit.New(rl)
}

// startNATS forwards bus events to NATS when enabled. A connection failure
// only disables forwarding.
func (a *app) startNATS(ctx context.Context) {
	nc := a.cfg.Events.NATS
	if !nc.Enabled {
		return
	}
	conn, err := events.ConnectNATS(nc.URL)
	if err != nil {
		a.logger.Warn("nats unavailable, events stay local", "url", nc.URL, "error", err)
		return
	}
	bridge := events.NewNATSBridge(conn, nc.SubjectPrefix, a.logger.WithComponent("nats"))
	ch := a.bus.Subscribe()
	go bridge.Run(ctx, ch)
	a.closers = append(a.closers, func() error {
		conn.Close()
		return nil
	})
	a.logger.Info("forwarding events to nats", "url", nc.URL, "prefix", nc.SubjectPrefix)
}

// Close stops background work and releases resources.
func (a *app) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	a.bus.Close()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("cleanup failed", "error", err)
		}
	}
	a.closers = nil
}
