package supervisor

import (
	"errors"
	"testing"

	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
)

func codeOf(err error) string {
	var domErr *core.DomainError
	if errors.As(err, &domErr) {
		return domErr.Code
	}
	return ""
}

func TestRegistry_RegisterRejectsDuplicate(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(&fakeAgent{id: "a"}, AgentPolicy{}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	err := reg.Register(&fakeAgent{id: "a"}, AgentPolicy{})
	if codeOf(err) != core.CodeDuplicateAgent {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestRegistry_RegisterRejectsCycle(t *testing.T) {
	reg := NewRegistry()
	// Forward references are allowed until the cycle closes.
	if err := reg.Register(&fakeAgent{id: "a", requires: []core.AgentID{"c"}}, AgentPolicy{Critical: true}); err != nil {
		t.Fatalf("Register(a) error = %v", err)
	}
	if err := reg.Register(&fakeAgent{id: "b", requires: []core.AgentID{"a"}}, AgentPolicy{Critical: true}); err != nil {
		t.Fatalf("Register(b) error = %v", err)
	}
	err := reg.Register(&fakeAgent{id: "c", optional: []core.AgentID{"b"}}, AgentPolicy{Critical: true})
	if codeOf(err) != core.CodeDAGCycle {
		t.Fatalf("expected cycle error, got %v", err)
	}
	if _, ok := reg.Descriptor("c"); ok {
		t.Error("rejected agent must not stay registered")
	}
	if got := reg.Dependents("b"); len(got) != 0 {
		t.Errorf("rejected agent left reverse edges: %v", got)
	}
	if reg.Len() != 2 {
		t.Errorf("Len() = %d, want 2", reg.Len())
	}
}

func TestRegistry_ValidateUnknownDependency(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(&fakeAgent{id: "a", requires: []core.AgentID{"missing"}}, AgentPolicy{})
	if err := reg.Validate(); codeOf(err) != core.CodeUnknownAgent {
		t.Fatalf("expected unknown agent error, got %v", err)
	}
}

func TestRegistry_ValidateRequiresCriticalUpstream(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(&fakeAgent{id: "up"}, AgentPolicy{Critical: false})
	_ = reg.Register(&fakeAgent{id: "down", requires: []core.AgentID{"up"}}, AgentPolicy{})
	if err := reg.Validate(); codeOf(err) != core.CodeUnsafeRequire {
		t.Fatalf("expected unsafe require error, got %v", err)
	}

	ok := NewRegistry()
	_ = ok.Register(&fakeAgent{id: "up"}, AgentPolicy{Critical: false})
	_ = ok.Register(&fakeAgent{id: "down", optional: []core.AgentID{"up"}}, AgentPolicy{})
	if err := ok.Validate(); err != nil {
		t.Fatalf("optional edge onto non-critical agent should validate: %v", err)
	}
}

func TestRegistry_ValidateEmpty(t *testing.T) {
	if err := NewRegistry().Validate(); codeOf(err) != core.CodeNoAgents {
		t.Fatalf("expected no agents error, got %v", err)
	}
}

func TestRegistry_RequiredSet(t *testing.T) {
	reg := newPipeline().registry(t)

	tests := []struct {
		name    string
		intents core.IntentSet
		want    int
	}{
		{"stock", core.NewIntentSet(core.IntentStock), 3},
		{"market", core.NewIntentSet(core.IntentMarket), 4},
		{"company", core.NewIntentSet(core.IntentCompany), 4},
		{"comparison", core.NewIntentSet(core.IntentComparison), 5},
		{"market and company", core.NewIntentSet(core.IntentMarket, core.IntentCompany), 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := reg.RequiredSet(tt.intents); len(got) != tt.want {
				t.Errorf("RequiredSet() = %v, want %d agents", got, tt.want)
			}
		})
	}
}

func TestRegistry_ReadySetOrdering(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(&fakeAgent{id: "low"}, AgentPolicy{Priority: 1})
	_ = reg.Register(&fakeAgent{id: "first-tie"}, AgentPolicy{Priority: 5})
	_ = reg.Register(&fakeAgent{id: "high"}, AgentPolicy{Priority: 9})
	_ = reg.Register(&fakeAgent{id: "second-tie"}, AgentPolicy{Priority: 5})

	snap := core.NewWorkflowState("r", "q", core.IntentSet{}).Snapshot()
	got := reg.ReadySet(snap)
	want := []core.AgentID{"high", "first-tie", "second-tie", "low"}
	if len(got) != len(want) {
		t.Fatalf("ReadySet() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ReadySet() = %v, want %v", got, want)
		}
	}
}

func TestRegistry_ReadySetOptionalInputs(t *testing.T) {
	reg := newPipeline().registry(t)
	ws := core.NewWorkflowState("r", "q", core.NewIntentSet(core.IntentMarket))

	ready := reg.ReadySet(ws.Snapshot())
	if len(ready) != 1 || ready[0] != core.AgentMarketResearcher {
		t.Fatalf("stock analyzer must wait for market research, got %v", ready)
	}

	ws.Merge(core.Outcome{Agent: core.AgentMarketResearcher, Kind: core.OutcomeFatal, Err: errors.New("x")}, 3)
	ready = reg.ReadySet(ws.Snapshot())
	if len(ready) != 1 || ready[0] != core.AgentStockAnalyzer {
		t.Fatalf("failed optional input should unblock stock analyzer, got %v", ready)
	}

	// Without the market intent the optional input is ignored.
	stockOnly := core.NewWorkflowState("r2", "q", core.NewIntentSet(core.IntentStock))
	ready = reg.ReadySet(stockOnly.Snapshot())
	if len(ready) != 1 || ready[0] != core.AgentStockAnalyzer {
		t.Fatalf("ReadySet() = %v", ready)
	}
}

func TestRegistry_Levels(t *testing.T) {
	reg := newPipeline().registry(t)
	levels := reg.Levels()
	if len(levels) != 4 {
		t.Fatalf("Levels() = %v, want 4 levels", levels)
	}
	if len(levels[0]) != 2 {
		t.Errorf("first level = %v, want market and company", levels[0])
	}
	if levels[3][0] != core.AgentReportCompiler {
		t.Errorf("last level = %v", levels[3])
	}
}
