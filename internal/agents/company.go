package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
	"github.com/hugo-lorenzo-mato/marketflow/internal/logging"
)

// companyAspects are the dimensions analyzed for every company, with the
// retrieval query used for each.
var companyAspects = []struct {
	name  string
	query string
}{
	{"strategy", "business strategy vision goals expansion market plan"},
	{"products", "products models lineup vehicles battery cells launch"},
	{"partnerships", "partnership joint venture supply agreement customer alliance"},
	{"technology", "technology research development innovation patent chemistry"},
	{"risks", "risk challenge competition regulation decline uncertainty"},
}

// CompanyAnalyzer profiles companies from local documents.
type CompanyAnalyzer struct {
	docs       core.DocumentIndex
	summarizer core.Summarizer
	topK       int
	logger     *logging.Logger
}

// NewCompanyAnalyzer creates the company analysis unit. docs and summarizer
// may be nil.
func NewCompanyAnalyzer(docs core.DocumentIndex, summarizer core.Summarizer, topK int, logger *logging.Logger) *CompanyAnalyzer {
	if topK <= 0 {
		topK = 3
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &CompanyAnalyzer{
		docs:       docs,
		summarizer: summarizer,
		topK:       topK,
		logger:     logger.WithAgent(string(core.AgentCompanyAnalyzer)),
	}
}

func (a *CompanyAnalyzer) ID() core.AgentID { return core.AgentCompanyAnalyzer }

func (a *CompanyAnalyzer) Applicable(intents core.IntentSet) bool {
	return intents.Any(core.IntentCompany, core.IntentComparison)
}

func (a *CompanyAnalyzer) RequiredInputs() []core.AgentID { return nil }

// TargetCompanies returns the companies a request is about: catalog
// companies it names, then companies with local documents it names, else
// the defaults.
func TargetCompanies(request string, docs core.DocumentIndex) []string {
	var out []string
	seen := map[string]bool{}
	add := func(name string) {
		key := strings.ToLower(name)
		if !seen[key] && len(out) < maxSubjects {
			seen[key] = true
			out = append(out, name)
		}
	}
	for _, c := range MentionedCompanies(request) {
		add(c.Name)
	}
	if docs != nil {
		lower := strings.ToLower(request)
		for _, name := range docs.Companies() {
			if containsWord(lower, strings.ToLower(name)) {
				add(name)
			}
		}
	}
	if len(out) == 0 {
		for _, name := range DefaultCompanies {
			add(name)
		}
	}
	return out
}

func (a *CompanyAnalyzer) Execute(ctx context.Context, inv core.Invocation) (core.Result, error) {
	targets := TargetCompanies(inv.Request, a.docs)
	report := CompanyReport{}
	withDocs := 0

	for _, name := range targets {
		if err := ctx.Err(); err != nil {
			return core.Result{}, err
		}
		profile := CompanyProfile{Name: name}
		if c, ok := CompanyByName(name); ok {
			profile.Ticker = c.Ticker
		}
		for _, asp := range companyAspects {
			aspect := Aspect{Name: asp.name}
			if a.docs != nil {
				aspect.Passages = a.docs.Query(name, asp.query, a.topK)
			}
			if len(aspect.Passages) > 0 {
				profile.HasDocs = true
				aspect.Findings = firstSentences(aspect.Passages[0].Text, 2)
			} else {
				aspect.Findings = "No local documents cover this aspect."
			}
			profile.Aspects = append(profile.Aspects, aspect)
		}
		profile.Summary = a.summarize(ctx, inv.Request, &profile)
		if profile.HasDocs {
			withDocs++
		}
		report.Companies = append(report.Companies, profile)
	}
	if err := ctx.Err(); err != nil {
		return core.Result{}, err
	}

	names := make([]string, len(report.Companies))
	for i, c := range report.Companies {
		names[i] = c.Name
	}
	summary := fmt.Sprintf("%d companies (%d with documents): %s", len(names), withDocs, strings.Join(names, ", "))
	return core.NewResult(a.ID(), summary, report)
}

func (a *CompanyAnalyzer) summarize(ctx context.Context, request string, p *CompanyProfile) string {
	fallback := fmt.Sprintf("%s: no local documents available.", p.Name)
	if p.HasDocs {
		var parts []string
		for _, asp := range p.Aspects {
			if len(asp.Passages) > 0 {
				parts = append(parts, fmt.Sprintf("%s: %s", asp.Name, asp.Findings))
			}
		}
		fallback = strings.Join(parts, " ")
	}
	if a.summarizer == nil || !p.HasDocs {
		return fallback
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\nCompany: %s\n", request, p.Name)
	for _, asp := range p.Aspects {
		fmt.Fprintf(&b, "\n## %s\n", asp.Name)
		for _, ps := range asp.Passages {
			fmt.Fprintf(&b, "%s\n", ps.Text)
		}
	}
	text, err := a.summarizer.Summarize(ctx, companyInstruction, b.String())
	if err != nil || strings.TrimSpace(text) == "" {
		if err != nil {
			a.logger.Warn("synthesis failed", "company", p.Name, "error", err)
		}
		return fallback
	}
	p.Synthesized = true
	return strings.TrimSpace(text)
}

const companyInstruction = "You are an equity analyst. Using only the excerpts, describe the " +
	"company's strategy, products, partnerships, technology and risks in one short paragraph."
