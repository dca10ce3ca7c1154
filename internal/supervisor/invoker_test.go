package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
)

func singleAgentRegistry(t *testing.T, a *fakeAgent, policy AgentPolicy) *Registry {
	t.Helper()
	reg := NewRegistry()
	if err := reg.Register(a, policy); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return reg
}

func TestInvoker_Success(t *testing.T) {
	t.Parallel()
	a := &fakeAgent{id: "a"}
	inv := NewInvoker(singleAgentRegistry(t, a, AgentPolicy{Timeout: time.Second}))
	ws := core.NewWorkflowState("r", "q", core.IntentSet{})

	out := inv.Invoke(context.Background(), "a", ws)
	if out.Kind != core.OutcomeSuccess || out.Result == nil {
		t.Fatalf("Invoke() = %+v", out)
	}
	if out.Attempt != 1 {
		t.Errorf("Attempt = %d", out.Attempt)
	}
}

func TestInvoker_ClassifiesErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want core.OutcomeKind
	}{
		{"recoverable", core.ErrRecoverable("X", "m"), core.OutcomeRecoverable},
		{"fatal", core.ErrFatalAgent("X", "m"), core.OutcomeFatal},
		{"plain", errors.New("connection reset"), core.OutcomeRecoverable},
		{"self cancelled", context.Canceled, core.OutcomeRecoverable},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := &fakeAgent{id: "a", exec: fail(tt.err)}
			inv := NewInvoker(singleAgentRegistry(t, a, AgentPolicy{Timeout: time.Second}))
			out := inv.Invoke(context.Background(), "a", core.NewWorkflowState("r", "q", core.IntentSet{}))
			if out.Kind != tt.want {
				t.Errorf("Kind = %s, want %s", out.Kind, tt.want)
			}
		})
	}
}

func TestInvoker_TimeoutEvenWhenAgentIgnoresContext(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	defer close(release)
	a := &fakeAgent{id: "a", exec: func(context.Context, core.Invocation) (core.Result, error) {
		<-release
		return core.Result{}, nil
	}}
	inv := NewInvoker(singleAgentRegistry(t, a, AgentPolicy{Timeout: 20 * time.Millisecond}))

	start := time.Now()
	out := inv.Invoke(context.Background(), "a", core.NewWorkflowState("r", "q", core.IntentSet{}))
	if out.Kind != core.OutcomeTimeout {
		t.Fatalf("Kind = %s, want timeout", out.Kind)
	}
	if !core.IsCategory(out.Err, core.ErrCatTimeout) {
		t.Errorf("Err = %v", out.Err)
	}
	if time.Since(start) > time.Second {
		t.Error("invoker waited for the agent instead of its deadline")
	}
}

func TestInvoker_RecoversPanics(t *testing.T) {
	t.Parallel()
	a := &fakeAgent{id: "a", exec: func(context.Context, core.Invocation) (core.Result, error) {
		panic("nil map")
	}}
	inv := NewInvoker(singleAgentRegistry(t, a, AgentPolicy{Timeout: time.Second}))

	out := inv.Invoke(context.Background(), "a", core.NewWorkflowState("r", "q", core.IntentSet{}))
	if out.Kind != core.OutcomeFatal {
		t.Fatalf("Kind = %s, want fatal", out.Kind)
	}
	if codeOf(out.Err) != core.CodeAgentPanic {
		t.Errorf("Err = %v", out.Err)
	}
}

func TestInvoker_UnknownAgent(t *testing.T) {
	t.Parallel()
	inv := NewInvoker(NewRegistry())
	out := inv.Invoke(context.Background(), "ghost", core.NewWorkflowState("r", "q", core.IntentSet{}))
	if out.Kind != core.OutcomeFatal {
		t.Fatalf("Kind = %s, want fatal", out.Kind)
	}
}

func TestInvoker_AbortedWhileWaitingForBackoff(t *testing.T) {
	t.Parallel()
	a := &fakeAgent{id: "a"}
	inv := NewInvoker(singleAgentRegistry(t, a, AgentPolicy{Timeout: time.Second}),
		WithBackoff(NewBackoff(WithBaseDelay(time.Hour), WithJitter(0))))
	ws := core.NewWorkflowState("r", "q", core.IntentSet{})
	ws.Merge(core.Outcome{Agent: "a", Kind: core.OutcomeRecoverable, Err: errors.New("x")}, 3)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	out := inv.Invoke(ctx, "a", ws)
	if out.Kind != core.OutcomeAborted {
		t.Fatalf("Kind = %s, want aborted", out.Kind)
	}
	if out.Attempt != 2 {
		t.Errorf("Attempt = %d, want 2", out.Attempt)
	}
	if a.Calls() != 0 {
		t.Error("agent must not run after cancellation")
	}
}

func TestBackoff_Delay(t *testing.T) {
	t.Parallel()
	b := NewBackoff(WithBaseDelay(100*time.Millisecond), WithMaxDelay(300*time.Millisecond), WithJitter(0), WithMultiplier(2))

	cases := map[int]time.Duration{
		0: 0,
		1: 100 * time.Millisecond,
		2: 200 * time.Millisecond,
		3: 300 * time.Millisecond,
		9: 300 * time.Millisecond,
	}
	for failures, want := range cases {
		if got := b.Delay(failures); got != want {
			t.Errorf("Delay(%d) = %v, want %v", failures, got, want)
		}
	}

	var nilBackoff *Backoff
	if nilBackoff.Delay(3) != 0 {
		t.Error("nil backoff must not delay")
	}

	jittered := NewBackoff(WithBaseDelay(time.Second), WithJitter(0.5))
	for i := 0; i < 20; i++ {
		d := jittered.Delay(1)
		if d < 500*time.Millisecond || d > 1500*time.Millisecond {
			t.Fatalf("jittered delay %v out of range", d)
		}
	}
}

func TestMetricsCollector(t *testing.T) {
	t.Parallel()
	m := NewMetricsCollector()
	m.RunStarted()
	m.BatchDispatched()
	m.RecordOutcome(core.Outcome{Agent: "a", Kind: core.OutcomeRecoverable, Duration: time.Second}, core.MergeResult{Applied: true})
	m.RecordOutcome(core.Outcome{Agent: "a", Kind: core.OutcomeSuccess, Duration: 3 * time.Second}, core.MergeResult{Applied: true, Completed: true})
	m.RecordOutcome(core.Outcome{Agent: "b", Kind: core.OutcomeFatal}, core.MergeResult{Applied: true, PermanentlyFailed: true})
	m.RunFinished(core.StatusDone)

	snap := m.Snapshot()
	if snap.Runs.Started != 1 || snap.Runs.Done != 1 || snap.Runs.Batches != 1 {
		t.Errorf("Runs = %+v", snap.Runs)
	}
	if len(snap.Agents) != 2 || snap.Agents[0].Agent != "a" {
		t.Fatalf("Agents = %+v", snap.Agents)
	}
	a := snap.Agents[0]
	if a.Invocations != 2 || a.Successes != 1 || a.Recoverable != 1 || a.AvgDuration != 2*time.Second {
		t.Errorf("agent a = %+v", a)
	}
	if snap.Agents[1].Exhausted != 1 {
		t.Errorf("agent b = %+v", snap.Agents[1])
	}
}
