package agents

import (
	"github.com/hugo-lorenzo-mato/marketflow/internal/config"
	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
	"github.com/hugo-lorenzo-mato/marketflow/internal/logging"
	"github.com/hugo-lorenzo-mato/marketflow/internal/supervisor"
)

// Sources bundles the adapters the collaborators talk to. Nil members
// degrade or disable the units that need them.
type Sources struct {
	Searcher   core.Searcher
	Fetcher    core.PageFetcher
	Prices     core.PriceSource
	Documents  core.DocumentIndex
	Summarizer core.Summarizer
	Logger     *logging.Logger
}

// Build instantiates every built-in collaborator, in pipeline order.
func Build(cfg *config.Config, src Sources) []core.Collaborator {
	maxPages := 0
	if cfg.Web.Enabled {
		maxPages = cfg.Web.MaxPages
	}
	market := NewMarketResearcher(src.Searcher, src.Fetcher, src.Summarizer, MarketOptions{
		MaxResults: cfg.Search.MaxResults,
		MaxPages:   maxPages,
		MaxChars:   cfg.Web.MaxTokens * 4,
		Whitelist:  cfg.Search.Whitelist,
	}, src.Logger)

	return []core.Collaborator{
		market,
		NewCompanyAnalyzer(src.Documents, src.Summarizer, cfg.Documents.TopK, src.Logger),
		NewStockAnalyzer(src.Prices, cfg.Prices.LookbackDays, src.Logger),
		NewChartGenerator(cfg.Output.Dir, src.Logger),
		NewReportCompiler(cfg.Output.Dir, src.Logger),
	}
}

// Policy derives the supervisor policy of an agent from configuration.
func Policy(cfg *config.Config, id core.AgentID) (supervisor.AgentPolicy, bool) {
	ac, ok := cfg.Agents.Get(id)
	if !ok {
		return supervisor.AgentPolicy{}, false
	}
	p := supervisor.AgentPolicy{
		Critical:   ac.Critical,
		Priority:   ac.Priority,
		MaxRetries: ac.MaxRetries,
		Timeout:    ac.Timeout,
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = cfg.Supervisor.DefaultMaxRetries
	}
	if p.Timeout <= 0 {
		p.Timeout = cfg.Supervisor.DefaultTimeout
	}
	return p, ac.Enabled
}

// NewRegistry registers the enabled collaborators and validates the graph.
// Optional inputs pointing at disabled agents are dropped, since those
// agents never run.
func NewRegistry(cfg *config.Config, src Sources) (*supervisor.Registry, error) {
	collaborators := Build(cfg, src)
	enabled := make(map[core.AgentID]bool, len(collaborators))
	policies := make(map[core.AgentID]supervisor.AgentPolicy, len(collaborators))
	for _, c := range collaborators {
		p, on := Policy(cfg, c.ID())
		enabled[c.ID()] = on
		policies[c.ID()] = p
	}

	reg := supervisor.NewRegistry()
	for _, c := range collaborators {
		if !enabled[c.ID()] {
			continue
		}
		desc := supervisor.DescriptorFor(c, policies[c.ID()])
		kept := desc.OptionalInputs[:0]
		for _, dep := range desc.OptionalInputs {
			if enabled[dep] {
				kept = append(kept, dep)
			}
		}
		desc.OptionalInputs = kept
		if err := reg.RegisterDescriptor(desc, c); err != nil {
			return nil, err
		}
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return reg, nil
}
