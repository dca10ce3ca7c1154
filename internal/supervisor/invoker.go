package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
	"github.com/hugo-lorenzo-mato/marketflow/internal/logging"
)

// DefaultAgentTimeout applies when a descriptor has no timeout.
const DefaultAgentTimeout = 2 * time.Minute

// Invoker executes one agent attempt against a run. Every failure is
// contained and reported as an outcome; Invoke never panics or returns an
// error to the caller.
type Invoker struct {
	registry       *Registry
	backoff        *Backoff
	defaultTimeout time.Duration
	logger         *logging.Logger
}

// InvokerOption configures an invoker.
type InvokerOption func(*Invoker)

// WithBackoff pauses between attempts of the same agent.
func WithBackoff(b *Backoff) InvokerOption {
	return func(i *Invoker) {
		i.backoff = b
	}
}

// WithDefaultTimeout sets the timeout used when a descriptor has none.
func WithDefaultTimeout(d time.Duration) InvokerOption {
	return func(i *Invoker) {
		if d > 0 {
			i.defaultTimeout = d
		}
	}
}

// WithInvokerLogger sets the logger.
func WithInvokerLogger(l *logging.Logger) InvokerOption {
	return func(i *Invoker) {
		if l != nil {
			i.logger = l
		}
	}
}

// NewInvoker creates an invoker over a registry.
func NewInvoker(registry *Registry, opts ...InvokerOption) *Invoker {
	i := &Invoker{
		registry:       registry,
		defaultTimeout: DefaultAgentTimeout,
		logger:         logging.NewNop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Invoke runs one attempt of agent id. ctx is the run context; its
// cancellation turns the attempt into an aborted outcome.
func (i *Invoker) Invoke(ctx context.Context, id core.AgentID, state *core.WorkflowState) core.Outcome {
	desc, ok := i.registry.Descriptor(id)
	agent, bound := i.registry.Collaborator(id)
	if !ok || !bound {
		return core.Outcome{
			Agent:   id,
			Kind:    core.OutcomeFatal,
			Err:     core.ErrFatalAgent(core.CodeAgentNotBound, fmt.Sprintf("agent %s is not registered", id)),
			Attempt: state.RetryCount(id) + 1,
		}
	}

	inv := state.View(desc)
	out := core.Outcome{Agent: id, Attempt: inv.Attempt}

	if inv.Attempt > 1 {
		if err := i.backoff.Wait(ctx, inv.Attempt-1); err != nil {
			out.Kind = core.OutcomeAborted
			out.Err = core.ErrWorkflowAbort("cancelled while waiting to retry").WithCause(err)
			return out
		}
	}

	timeout := desc.Timeout
	if timeout <= 0 {
		timeout = i.defaultTimeout
	}

	out.StartedAt = time.Now()
	result, err := i.execute(ctx, agent, inv, timeout)
	out.Duration = time.Since(out.StartedAt)

	switch {
	case ctx.Err() != nil:
		out.Kind = core.OutcomeAborted
		out.Err = core.ErrWorkflowAbort(fmt.Sprintf("run cancelled while %s was in flight", id)).WithCause(ctx.Err())
	case err != nil:
		out.Kind = core.ClassifyError(err)
		out.Err = err
		if out.Kind == core.OutcomeAborted {
			// The run context is alive, so the agent cancelled itself.
			out.Kind = core.OutcomeRecoverable
		}
	default:
		out.Kind = core.OutcomeSuccess
		out.Result = &result
	}
	return out
}

type execResult struct {
	result core.Result
	err    error
}

// execute runs the collaborator under its own deadline. The collaborator is
// abandoned when the deadline fires even if it ignores its context.
func (i *Invoker) execute(ctx context.Context, agent core.Collaborator, inv core.Invocation, timeout time.Duration) (core.Result, error) {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan execResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				i.logger.Error("agent panicked", "agent", agent.ID(), "panic", r, "stack", string(debug.Stack()))
				done <- execResult{err: core.ErrFatalAgent(core.CodeAgentPanic, fmt.Sprintf("agent %s panicked: %v", agent.ID(), r))}
			}
		}()
		res, err := agent.Execute(tctx, inv)
		done <- execResult{result: res, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return core.Result{}, core.ErrTimeout(fmt.Sprintf("agent %s exceeded %s", agent.ID(), timeout)).WithCause(r.err)
		}
		return r.result, r.err
	case <-tctx.Done():
		if ctx.Err() != nil {
			return core.Result{}, ctx.Err()
		}
		return core.Result{}, core.ErrTimeout(fmt.Sprintf("agent %s exceeded %s", agent.ID(), timeout))
	}
}
