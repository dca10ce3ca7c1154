package supervisor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
	"github.com/hugo-lorenzo-mato/marketflow/internal/events"
)

type execFunc func(ctx context.Context, inv core.Invocation) (core.Result, error)

// fakeAgent is a scripted collaborator.
type fakeAgent struct {
	id         core.AgentID
	requires   []core.AgentID
	optional   []core.AgentID
	applicable func(core.IntentSet) bool
	exec       execFunc

	mu          sync.Mutex
	calls       int
	invocations []core.Invocation
}

func (f *fakeAgent) ID() core.AgentID { return f.id }
func (f *fakeAgent) RequiredInputs() []core.AgentID { return f.requires }
func (f *fakeAgent) OptionalInputs() []core.AgentID { return f.optional }
func (f *fakeAgent) Applicable(in core.IntentSet) bool { return f.applicable == nil || f.applicable(in) }

func (f *fakeAgent) Execute(ctx context.Context, inv core.Invocation) (core.Result, error) {
	f.mu.Lock()
	f.calls++
	f.invocations = append(f.invocations, inv)
	f.mu.Unlock()
	if f.exec != nil {
		return f.exec(ctx, inv)
	}
	return core.Result{Summary: fmt.Sprintf("%s output", f.id)}, nil
}

func (f *fakeAgent) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeAgent) LastInvocation() core.Invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invocations[len(f.invocations)-1]
}

// pipeline mirrors the market analysis agent set with scripted behavior.
type pipeline struct {
	agents   map[core.AgentID]*fakeAgent
	policies map[core.AgentID]AgentPolicy
	order    []core.AgentID

	violations []string
	vmu        sync.Mutex
}

func newPipeline() *pipeline {
	p := &pipeline{
		agents:   make(map[core.AgentID]*fakeAgent),
		policies: make(map[core.AgentID]AgentPolicy),
	}
	marketOrComparison := func(in core.IntentSet) bool { return in.Any(core.IntentMarket, core.IntentComparison) }
	companyOrComparison := func(in core.IntentSet) bool { return in.Any(core.IntentCompany, core.IntentComparison) }

	p.add(&fakeAgent{id: core.AgentMarketResearcher, applicable: marketOrComparison},
		AgentPolicy{Priority: 50, MaxRetries: 3, Timeout: time.Second})
	p.add(&fakeAgent{id: core.AgentCompanyAnalyzer, applicable: companyOrComparison},
		AgentPolicy{Priority: 50, MaxRetries: 3, Timeout: time.Second})
	p.add(&fakeAgent{id: core.AgentStockAnalyzer, optional: []core.AgentID{core.AgentMarketResearcher}},
		AgentPolicy{Critical: true, Priority: 100, MaxRetries: 3, Timeout: time.Second})
	p.add(&fakeAgent{id: core.AgentChartGenerator, requires: []core.AgentID{core.AgentStockAnalyzer}},
		AgentPolicy{Priority: 40, MaxRetries: 3, Timeout: time.Second})
	p.add(&fakeAgent{
		id:       core.AgentReportCompiler,
		requires: []core.AgentID{core.AgentStockAnalyzer},
		optional: []core.AgentID{core.AgentMarketResearcher, core.AgentCompanyAnalyzer, core.AgentChartGenerator},
	}, AgentPolicy{Critical: true, Priority: 10, MaxRetries: 3, Timeout: time.Second})
	return p
}

func (p *pipeline) add(a *fakeAgent, policy AgentPolicy) {
	p.agents[a.id] = a
	p.policies[a.id] = policy
	p.order = append(p.order, a.id)
}

// script replaces an agent's behavior while still checking that its required
// inputs were delivered.
func (p *pipeline) script(id core.AgentID, fn execFunc) {
	p.agents[id].exec = fn
}

func (p *pipeline) registry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	for _, id := range p.order {
		a := p.agents[id]
		inner := a.exec
		a.exec = p.guard(a, inner)
		if err := reg.Register(a, p.policies[id]); err != nil {
			t.Fatalf("Register(%s) error = %v", id, err)
		}
	}
	return reg
}

func (p *pipeline) guard(a *fakeAgent, inner execFunc) execFunc {
	return func(ctx context.Context, inv core.Invocation) (core.Result, error) {
		for _, dep := range a.requires {
			if _, ok := inv.Inputs[dep]; !ok {
				p.vmu.Lock()
				p.violations = append(p.violations, fmt.Sprintf("%s dispatched without %s", a.id, dep))
				p.vmu.Unlock()
			}
		}
		if inner != nil {
			return inner(ctx, inv)
		}
		return core.Result{Summary: fmt.Sprintf("%s output", a.id)}, nil
	}
}

func (p *pipeline) assertNoViolations(t *testing.T) {
	t.Helper()
	p.vmu.Lock()
	defer p.vmu.Unlock()
	for _, v := range p.violations {
		t.Errorf("dependency violation: %s", v)
	}
}

func (p *pipeline) runner(t *testing.T, cfg RunnerConfig) *Runner {
	t.Helper()
	cfg.Registry = p.registry(t)
	r, err := NewRunner(cfg)
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}
	return r
}

// batches collects dispatch events by batch number.
func batches(ch <-chan events.Event) [][]core.AgentID {
	byBatch := make(map[int][]core.AgentID)
	max := 0
	for {
		select {
		case e := <-ch:
			d, ok := e.(events.AgentDispatchedEvent)
			if !ok {
				continue
			}
			byBatch[d.Batch] = append(byBatch[d.Batch], core.AgentID(d.Agent))
			if d.Batch > max {
				max = d.Batch
			}
		default:
			out := make([][]core.AgentID, 0, max)
			for i := 1; i <= max; i++ {
				ids := byBatch[i]
				sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
				out = append(out, ids)
			}
			return out
		}
	}
}

func fail(err error) execFunc {
	return func(context.Context, core.Invocation) (core.Result, error) {
		return core.Result{}, err
	}
}

// memoryStore is an in-memory StateManager.
type memoryStore struct {
	mu    sync.Mutex
	runs  map[core.RunID]*core.Snapshot
	saves int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{runs: make(map[core.RunID]*core.Snapshot)}
}

func (m *memoryStore) Save(_ context.Context, snap *core.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[snap.RequestID] = snap.Clone()
	m.saves++
	return nil
}

func (m *memoryStore) Load(_ context.Context, id core.RunID) (*core.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.runs[id]
	if !ok {
		return nil, core.ErrNotFound("run", string(id))
	}
	return snap.Clone(), nil
}

func (m *memoryStore) List(context.Context) ([]core.RunSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.RunSummary, 0, len(m.runs))
	for _, s := range m.runs {
		out = append(out, core.Summarize(s))
	}
	return out, nil
}

func (m *memoryStore) Delete(_ context.Context, id core.RunID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runs, id)
	return nil
}

func (m *memoryStore) Close() error { return nil }
