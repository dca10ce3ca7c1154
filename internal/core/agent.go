package core

import (
	"encoding/json"
	"sort"
	"time"
)

// AgentID identifies a work unit.
type AgentID string

// Well-known agents of the market analysis pipeline.
const (
	AgentMarketResearcher AgentID = "market_researcher"
	AgentCompanyAnalyzer  AgentID = "company_analyzer"
	AgentStockAnalyzer    AgentID = "stock_analyzer"
	AgentChartGenerator   AgentID = "chart_generator"
	AgentReportCompiler   AgentID = "report_compiler"
)

// AllAgents lists the built-in agents in pipeline order.
func AllAgents() []AgentID {
	return []AgentID{
		AgentMarketResearcher,
		AgentCompanyAnalyzer,
		AgentStockAnalyzer,
		AgentChartGenerator,
		AgentReportCompiler,
	}
}

// Intent is an analysis category derived from a request.
type Intent string

const (
	IntentStock      Intent = "stock"
	IntentMarket     Intent = "market"
	IntentCompany    Intent = "company"
	IntentComparison Intent = "comparison"
)

// AllIntents lists the supported intents in display order.
func AllIntents() []Intent {
	return []Intent{IntentStock, IntentMarket, IntentCompany, IntentComparison}
}

// AgentSet is a set of agent identifiers. It serializes as a sorted array.
type AgentSet map[AgentID]bool

// NewAgentSet creates a set containing ids.
func NewAgentSet(ids ...AgentID) AgentSet {
	s := make(AgentSet, len(ids))
	for _, id := range ids {
		s[id] = true
	}
	return s
}

// Has reports whether id is in the set.
func (s AgentSet) Has(id AgentID) bool { return s[id] }

// Sorted returns the members in lexical order.
func (s AgentSet) Sorted() []AgentID {
	out := make([]AgentID, 0, len(s))
	for id, ok := range s {
		if ok {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns an independent copy.
func (s AgentSet) Clone() AgentSet {
	c := make(AgentSet, len(s))
	for id, ok := range s {
		if ok {
			c[id] = true
		}
	}
	return c
}

// MarshalJSON implements json.Marshaler.
func (s AgentSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *AgentSet) UnmarshalJSON(data []byte) error {
	var ids []AgentID
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewAgentSet(ids...)
	return nil
}

// IntentSet is a set of intents. It serializes as a sorted array.
type IntentSet map[Intent]bool

// NewIntentSet creates a set containing intents.
func NewIntentSet(intents ...Intent) IntentSet {
	s := make(IntentSet, len(intents))
	for _, in := range intents {
		s[in] = true
	}
	return s
}

// Has reports whether the intent is present.
func (s IntentSet) Has(in Intent) bool { return s[in] }

// Any reports whether at least one of the intents is present.
func (s IntentSet) Any(intents ...Intent) bool {
	for _, in := range intents {
		if s[in] {
			return true
		}
	}
	return false
}

// Sorted returns the intents in lexical order.
func (s IntentSet) Sorted() []Intent {
	out := make([]Intent, 0, len(s))
	for in, ok := range s {
		if ok {
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MarshalJSON implements json.Marshaler.
func (s IntentSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *IntentSet) UnmarshalJSON(data []byte) error {
	var intents []Intent
	if err := json.Unmarshal(data, &intents); err != nil {
		return err
	}
	*s = NewIntentSet(intents...)
	return nil
}

// AgentDescriptor is the static registry entry of a work unit.
type AgentDescriptor struct {
	ID             AgentID
	RequiredInputs []AgentID
	// OptionalInputs must be settled (completed or permanently failed) before
	// dispatch but may be missing from the inputs.
	OptionalInputs []AgentID
	Applicable     func(IntentSet) bool
	Critical       bool
	Priority       int
	MaxRetries     int
	Timeout        time.Duration
}

// AttemptLimit returns the number of failed attempts after which the agent is
// permanently failed.
func (d AgentDescriptor) AttemptLimit() int {
	if d.MaxRetries < 1 {
		return 1
	}
	return d.MaxRetries
}

// Dependencies returns required and optional inputs together.
func (d AgentDescriptor) Dependencies() []AgentID {
	deps := make([]AgentID, 0, len(d.RequiredInputs)+len(d.OptionalInputs))
	deps = append(deps, d.RequiredInputs...)
	deps = append(deps, d.OptionalInputs...)
	return deps
}

// IsApplicable evaluates the applicability rule. A nil rule means always.
func (d AgentDescriptor) IsApplicable(intents IntentSet) bool {
	if d.Applicable == nil {
		return true
	}
	return d.Applicable(intents)
}
