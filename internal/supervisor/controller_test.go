package supervisor

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
)

func TestController_DecideBranches(t *testing.T) {
	reg := newPipeline().registry(t)
	c := NewController(reg)

	ws := core.NewWorkflowState("r", "q", core.NewIntentSet(core.IntentStock))
	if d := c.SelectNext(ws, nil); d.Kind != DecisionDispatch || len(d.IDs) != 1 || d.IDs[0] != core.AgentStockAnalyzer {
		t.Fatalf("initial decision = %+v", d)
	}

	ws.Merge(core.Outcome{Agent: core.AgentStockAnalyzer, Kind: core.OutcomeSuccess}, 3)
	ws.Merge(core.Outcome{Agent: core.AgentChartGenerator, Kind: core.OutcomeFatal, Err: errors.New("x")}, 3)
	if d := c.SelectNext(ws, nil); d.Kind != DecisionDispatch || d.IDs[0] != core.AgentReportCompiler {
		t.Fatalf("report should be dispatched after chart failure, got %+v", d)
	}

	ws.Merge(core.Outcome{Agent: core.AgentReportCompiler, Kind: core.OutcomeSuccess}, 3)
	if d := c.SelectNext(ws, nil); d.Kind != DecisionDone {
		t.Fatalf("expected done, got %+v", d)
	}
	if !IsDone(reg, ws.Snapshot()) {
		t.Error("IsDone() should agree with the controller")
	}
}

func TestController_CriticalFailure(t *testing.T) {
	reg := newPipeline().registry(t)
	c := NewController(reg)

	ws := core.NewWorkflowState("r", "q", core.NewIntentSet(core.IntentStock))
	ws.Merge(core.Outcome{Agent: core.AgentStockAnalyzer, Kind: core.OutcomeFatal, Err: errors.New("x")}, 3)

	d := c.SelectNext(ws, nil)
	if d.Kind != DecisionFailed {
		t.Fatalf("expected failed, got %+v", d)
	}
	if len(d.FailedCritical) != 1 || d.FailedCritical[0] != core.AgentStockAnalyzer {
		t.Errorf("FailedCritical = %v", d.FailedCritical)
	}
	if IsDone(reg, ws.Snapshot()) {
		t.Error("IsDone() must be false after a critical failure")
	}
}

func TestController_CycleBlocksInOneEvaluation(t *testing.T) {
	reg := NewRegistry()
	reg.registerUnchecked(core.AgentDescriptor{ID: "a", RequiredInputs: []core.AgentID{"b"}}, &fakeAgent{id: "a"})
	reg.registerUnchecked(core.AgentDescriptor{ID: "b", RequiredInputs: []core.AgentID{"a"}}, &fakeAgent{id: "b"})
	reg.registerUnchecked(core.AgentDescriptor{ID: "free"}, &fakeAgent{id: "free"})

	if err := reg.Validate(); codeOf(err) != core.CodeDAGCycle {
		t.Fatalf("Validate() should report the cycle, got %v", err)
	}

	c := NewController(reg)
	ws := core.NewWorkflowState("r", "q", core.IntentSet{})
	d := c.SelectNext(ws, nil)
	if d.Kind != DecisionDispatch || len(d.IDs) != 1 || d.IDs[0] != "free" {
		t.Fatalf("independent agent should still run, got %+v", d)
	}
	ws.Merge(core.Outcome{Agent: "free", Kind: core.OutcomeSuccess}, 1)

	d = c.SelectNext(ws, nil)
	if d.Kind != DecisionBlocked {
		t.Fatalf("expected blocked, got %+v", d)
	}
	if len(d.Pending) != 2 {
		t.Errorf("Pending = %v", d.Pending)
	}
	if len(reg.Levels()) != 1 {
		t.Errorf("Levels() must terminate and skip cyclic agents, got %v", reg.Levels())
	}
}

func TestController_MaxParallel(t *testing.T) {
	reg := newPipeline().registry(t)
	c := NewController(reg, WithMaxParallel(1))

	ws := core.NewWorkflowState("r", "q", core.NewIntentSet(core.IntentComparison))
	d := c.SelectNext(ws, nil)
	if d.Kind != DecisionDispatch || len(d.IDs) != 1 || d.IDs[0] != core.AgentMarketResearcher {
		t.Fatalf("decision = %+v", d)
	}
}

// TestController_NeverDispatchesUnmetDependencies explores random reachable
// states of the pipeline registry.
func TestController_NeverDispatchesUnmetDependencies(t *testing.T) {
	reg := newPipeline().registry(t)
	c := NewController(reg)
	rng := rand.New(rand.NewSource(42))
	kinds := []core.OutcomeKind{core.OutcomeSuccess, core.OutcomeRecoverable, core.OutcomeTimeout, core.OutcomeFatal}
	intentSets := []core.IntentSet{
		core.NewIntentSet(core.IntentStock),
		core.NewIntentSet(core.IntentMarket, core.IntentCompany),
		core.NewIntentSet(core.IntentComparison),
	}

	for run := 0; run < 200; run++ {
		ws := core.NewWorkflowState("r", "q", intentSets[run%len(intentSets)])
		for step := 0; step < 50; step++ {
			snap := ws.Snapshot()
			d := c.Decide(snap, nil)
			if d.Kind != DecisionDispatch {
				break
			}
			for _, id := range d.IDs {
				if snap.Settled(id) {
					t.Fatalf("dispatched settled agent %s", id)
				}
				desc, _ := reg.Descriptor(id)
				for _, dep := range desc.RequiredInputs {
					if !snap.CompletedAgents.Has(dep) {
						t.Fatalf("dispatched %s before %s completed", id, dep)
					}
				}
			}
			for _, id := range d.IDs {
				kind := kinds[rng.Intn(len(kinds))]
				var err error
				if kind != core.OutcomeSuccess {
					err = errors.New("scripted")
				}
				ws.Merge(core.Outcome{Agent: id, Kind: kind, Err: err}, 3)
			}
		}
		if d := c.Decide(ws.Snapshot(), nil); d.Kind == DecisionDispatch || d.Kind == DecisionBlocked {
			t.Fatalf("run %d did not terminate: %+v", run, d)
		}
	}
}

func TestController_InFlightAgents(t *testing.T) {
	reg := newPipeline().registry(t)
	ws := core.NewWorkflowState("r", "q", core.NewIntentSet(core.IntentMarket, core.IntentCompany))

	c := NewController(reg)
	d := c.SelectNext(ws, core.NewAgentSet(core.AgentMarketResearcher))
	if d.Kind != DecisionDispatch || len(d.IDs) != 1 || d.IDs[0] != core.AgentCompanyAnalyzer {
		t.Fatalf("in-flight agent must not be dispatched twice, got %+v", d)
	}

	d = c.SelectNext(ws, core.NewAgentSet(core.AgentMarketResearcher, core.AgentCompanyAnalyzer))
	if d.Kind != DecisionWait {
		t.Fatalf("expected wait while agents are in flight, got %+v", d)
	}

	limited := NewController(reg, WithMaxParallel(1))
	if d := limited.SelectNext(ws, core.NewAgentSet(core.AgentMarketResearcher)); d.Kind != DecisionWait {
		t.Fatalf("no slot is free, got %+v", d)
	}
}
