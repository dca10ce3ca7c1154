package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
	"github.com/hugo-lorenzo-mato/marketflow/internal/events"
	"github.com/hugo-lorenzo-mato/marketflow/internal/logging"
)

// RunnerConfig wires a Runner.
type RunnerConfig struct {
	Registry   *Registry
	Store      core.StateManager
	Bus        *events.EventBus
	Metrics    *MetricsCollector
	Logger     *logging.Logger
	Classifier *IntentClassifier

	// RunTimeout bounds a whole run. Zero means no deadline.
	RunTimeout time.Duration
	// MaxParallel caps the number of agents in flight. Zero means no cap.
	MaxParallel int
	// AgentTimeout applies to agents whose descriptor has no timeout.
	AgentTimeout time.Duration
	Backoff      *Backoff
}

type activeRun struct {
	state  *core.WorkflowState
	cancel context.CancelFunc
}

// Runner drives runs to a terminal status: it asks the controller what is
// next, starts the selected agents, and merges each outcome as soon as it
// arrives, persisting the state after every merge. Newly ready agents start
// without waiting for slower siblings.
type Runner struct {
	registry   *Registry
	controller *Controller
	invoker    *Invoker
	classifier *IntentClassifier
	store      core.StateManager
	bus        *events.EventBus
	metrics    *MetricsCollector
	logger     *logging.Logger
	runTimeout time.Duration

	mu       sync.Mutex
	active   map[core.RunID]*activeRun
	finished map[core.RunID]*core.Snapshot // used when there is no store
	saveMu   sync.Mutex
}

// NewRunner validates the registry and builds a runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Registry == nil {
		return nil, core.ErrValidation(core.CodeNoAgents, "runner needs a registry")
	}
	if err := cfg.Registry.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	classifier := cfg.Classifier
	if classifier == nil {
		classifier = NewIntentClassifier(nil, nil)
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetricsCollector()
	}

	return &Runner{
		registry:   cfg.Registry,
		controller: NewController(cfg.Registry, WithMaxParallel(cfg.MaxParallel)),
		invoker: NewInvoker(cfg.Registry,
			WithBackoff(cfg.Backoff),
			WithDefaultTimeout(cfg.AgentTimeout),
			WithInvokerLogger(logger),
		),
		classifier: classifier,
		store:      cfg.Store,
		bus:        cfg.Bus,
		metrics:    metrics,
		logger:     logger,
		runTimeout: cfg.RunTimeout,
		active:     make(map[core.RunID]*activeRun),
		finished:   make(map[core.RunID]*core.Snapshot),
	}, nil
}

// Registry returns the agent registry.
func (r *Runner) Registry() *Registry { return r.registry }

// Metrics returns the metrics collector.
func (r *Runner) Metrics() *MetricsCollector { return r.metrics }

// Classify returns the intents the runner would derive from a request.
func (r *Runner) Classify(request string) core.IntentSet {
	return r.classifier.Classify(request)
}

// NewRunID generates a run identifier.
func NewRunID() core.RunID {
	return core.RunID(uuid.NewString())
}

func validateRequest(request string) error {
	if strings.TrimSpace(request) == "" {
		return core.ErrValidation(core.CodeEmptyRequest, "request cannot be empty")
	}
	if len(request) > core.MaxRequestLength {
		return core.ErrValidation(core.CodeRequestTooLong,
			fmt.Sprintf("request exceeds %d characters", core.MaxRequestLength))
	}
	return nil
}

// Run drives a new run for request and blocks until it is terminal. The
// returned snapshot is always non-nil once the run started. An error is
// returned for invalid requests, dependency deadlocks and aborted runs; a
// critical agent failure yields a Failed snapshot and a nil error.
func (r *Runner) Run(ctx context.Context, request string) (*core.Snapshot, error) {
	return r.RunWithID(ctx, NewRunID(), request)
}

// RunWithID is Run with a caller-chosen run identifier.
func (r *Runner) RunWithID(ctx context.Context, id core.RunID, request string) (*core.Snapshot, error) {
	if err := validateRequest(request); err != nil {
		return nil, err
	}
	state := core.NewWorkflowState(id, request, r.classifier.Classify(request))
	runCtx, err := r.begin(ctx, state)
	if err != nil {
		return nil, err
	}
	return r.drive(runCtx, state, false)
}

// Start launches a run in the background and returns its identifier once
// the initial state is persisted.
func (r *Runner) Start(ctx context.Context, request string) (core.RunID, error) {
	if err := validateRequest(request); err != nil {
		return "", err
	}
	state := core.NewWorkflowState(NewRunID(), request, r.classifier.Classify(request))
	runCtx, err := r.begin(ctx, state)
	if err != nil {
		return "", err
	}
	r.persist(state)
	go func() {
		_, _ = r.drive(runCtx, state, false)
	}()
	return state.ID(), nil
}

// Resume continues a persisted run that did not reach a terminal status.
func (r *Runner) Resume(ctx context.Context, id core.RunID) (*core.Snapshot, error) {
	snap, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if snap.Status.IsTerminal() {
		return snap, core.ErrState(core.CodeRunAlreadyFinal, fmt.Sprintf("run %s already %s", id, snap.Status))
	}
	state, err := core.RestoreWorkflowState(snap)
	if err != nil {
		return nil, err
	}
	runCtx, err := r.begin(ctx, state)
	if err != nil {
		return nil, err
	}
	return r.drive(runCtx, state, true)
}

// Cancel aborts an in-flight run. It reports whether the run was active.
func (r *Runner) Cancel(id core.RunID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.active[id]
	if ok {
		run.cancel()
	}
	return ok
}

// Active lists the runs currently driven by this runner.
func (r *Runner) Active() []core.RunID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]core.RunID, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	return ids
}

// Get returns the latest snapshot of a run.
func (r *Runner) Get(ctx context.Context, id core.RunID) (*core.Snapshot, error) {
	r.mu.Lock()
	if run, ok := r.active[id]; ok {
		r.mu.Unlock()
		return run.state.Snapshot(), nil
	}
	if snap, ok := r.finished[id]; ok {
		r.mu.Unlock()
		return snap.Clone(), nil
	}
	r.mu.Unlock()

	if r.store == nil {
		return nil, core.ErrNotFound("run", string(id))
	}
	return r.store.Load(ctx, id)
}

// ExecutionLog returns the ordered attempt history of a run.
func (r *Runner) ExecutionLog(ctx context.Context, id core.RunID) ([]core.HistoryEntry, error) {
	snap, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return snap.History, nil
}

// IsDone reports whether a run has succeeded, without driving it.
func (r *Runner) IsDone(ctx context.Context, id core.RunID) (bool, error) {
	snap, err := r.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return IsDone(r.registry, snap), nil
}

// List returns persisted runs.
func (r *Runner) List(ctx context.Context) ([]core.RunSummary, error) {
	if r.store != nil {
		return r.store.List(ctx)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.RunSummary, 0, len(r.active)+len(r.finished))
	for _, run := range r.active {
		out = append(out, core.Summarize(run.state.Snapshot()))
	}
	for _, snap := range r.finished {
		out = append(out, core.Summarize(snap))
	}
	return out, nil
}

// begin registers a run as active and derives its context.
func (r *Runner) begin(ctx context.Context, state *core.WorkflowState) (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.active[state.ID()]; ok {
		return nil, core.ErrState(core.CodeLockAcquireFailed, fmt.Sprintf("run %s is already active", state.ID()))
	}
	runCtx, cancel := context.WithCancel(ctx)
	if r.runTimeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, r.runTimeout)
		parent := cancel
		cancel = func() {
			cancelTimeout()
			parent()
		}
	}
	r.active[state.ID()] = &activeRun{state: state, cancel: cancel}
	return runCtx, nil
}

func (r *Runner) end(state *core.WorkflowState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run, ok := r.active[state.ID()]; ok {
		run.cancel()
		delete(r.active, state.ID())
	}
	if r.store == nil {
		r.finished[state.ID()] = state.Snapshot()
	}
}

func (r *Runner) drive(ctx context.Context, state *core.WorkflowState, resumed bool) (*core.Snapshot, error) {
	defer r.end(state)

	snap := state.Snapshot()
	log := r.logger.WithRun(string(state.ID()))
	required := r.registry.RequiredSet(snap.Intents)
	log.Info("run started",
		"intents", snap.Intents.Sorted(),
		"required", required,
		"resumed", resumed,
	)
	r.metrics.RunStarted()
	r.publish(events.NewRunStartedEvent(string(state.ID()), snap.Request,
		intentStrings(snap.Intents.Sorted()), agentStrings(required), resumed))
	r.persist(state)

	outcomes := make(chan core.Outcome)
	inFlight := core.NewAgentSet()
	var g errgroup.Group
	defer func() { _ = g.Wait() }()

	round := 0
	for {
		if err := ctx.Err(); err != nil {
			r.drain(state, outcomes, inFlight, log)
			abort := core.ErrWorkflowAbort(abortReason(err)).WithCause(err)
			return r.finish(state, core.StatusFailed, abort.Message, abort)
		}

		d := r.controller.SelectNext(state, inFlight)
		switch d.Kind {
		case DecisionDone:
			return r.finish(state, core.StatusDone, "", nil)
		case DecisionFailed:
			r.drain(state, outcomes, inFlight, log)
			reason := fmt.Sprintf("critical agent %s failed permanently", joinIDs(d.FailedCritical))
			return r.finish(state, core.StatusFailed, reason, nil)
		case DecisionBlocked:
			deadlock := core.ErrDependencyDeadlock(d.Pending)
			return r.finish(state, core.StatusBlocked, deadlock.Message, deadlock)
		case DecisionDispatch:
			round++
			r.dispatch(ctx, &g, state, d.IDs, round, inFlight, outcomes, log)
		}

		// Something is in flight on every path that reaches here.
		out := <-outcomes
		delete(inFlight, out.Agent)
		r.settle(state, out, log)
	}
}

// dispatch starts agents without waiting for them. Each one is bounded by
// its own timeout and delivers its outcome on outcomes.
func (r *Runner) dispatch(ctx context.Context, g *errgroup.Group, state *core.WorkflowState, ids []core.AgentID,
	round int, inFlight core.AgentSet, outcomes chan<- core.Outcome, log *logging.Logger) {
	log.Info("dispatching agents", "batch", round, "agents", ids, "in_flight", len(inFlight))
	r.metrics.BatchDispatched()

	for _, id := range ids {
		id := id
		inFlight[id] = true
		attempt := state.RetryCount(id) + 1
		r.publish(events.NewAgentDispatchedEvent(string(state.ID()), string(id), attempt, round))
		g.Go(func() error {
			outcomes <- r.invoker.Invoke(ctx, id, state)
			return nil
		})
	}
}

// settle merges one outcome, persists the state and reports it.
func (r *Runner) settle(state *core.WorkflowState, out core.Outcome, log *logging.Logger) {
	desc, _ := r.registry.Descriptor(out.Agent)
	merged := state.Merge(out, desc.AttemptLimit())
	r.metrics.RecordOutcome(out, merged)
	if merged.Applied {
		r.persist(state)
	}
	r.report(state.ID(), desc, out, merged, log)
}

// drain waits for every in-flight agent and merges its outcome.
func (r *Runner) drain(state *core.WorkflowState, outcomes <-chan core.Outcome, inFlight core.AgentSet, log *logging.Logger) {
	for len(inFlight) > 0 {
		out := <-outcomes
		delete(inFlight, out.Agent)
		r.settle(state, out, log)
	}
}

func (r *Runner) report(id core.RunID, desc core.AgentDescriptor, out core.Outcome, merged core.MergeResult, log *logging.Logger) {
	alog := log.WithAgent(string(out.Agent)).With("attempt", out.Attempt, "duration", out.Duration)

	var eventType string
	switch {
	case !merged.Applied:
		alog.Debug("outcome ignored", "outcome", out.Kind)
		return
	case out.Kind == core.OutcomeSuccess:
		eventType = events.TypeAgentSucceeded
		alog.Info("agent succeeded")
	case out.Kind == core.OutcomeAborted:
		eventType = events.TypeAgentAborted
		alog.Warn("agent aborted", "error", out.Err)
	case merged.PermanentlyFailed:
		eventType = events.TypeAgentFailed
		alog.Error("agent failed permanently",
			"outcome", out.Kind,
			"failures", merged.Failures,
			"critical", desc.Critical,
			"error", out.Err,
		)
	default:
		eventType = events.TypeAgentRetrying
		alog.Warn("agent attempt failed, will retry",
			"outcome", out.Kind,
			"failures", merged.Failures,
			"limit", desc.AttemptLimit(),
			"error", out.Err,
		)
	}

	e := events.NewAgentOutcomeEvent(eventType, string(id), string(out.Agent), string(out.Kind),
		out.Attempt, desc.Critical, out.Duration).WithError(out.Err)
	if out.Result != nil {
		e = e.WithSummary(out.Result.Summary)
	}
	r.publish(e)
}

func (r *Runner) finish(state *core.WorkflowState, status core.WorkflowStatus, reason string, cause error) (*core.Snapshot, error) {
	if err := state.Finalize(status, reason); err != nil {
		return state.Snapshot(), err
	}
	r.persist(state)
	r.metrics.RunFinished(status)

	snap := state.Snapshot()
	var duration time.Duration
	if snap.FinishedAt != nil {
		duration = snap.FinishedAt.Sub(snap.StartedAt)
	}
	log := r.logger.WithRun(string(state.ID()))
	if status == core.StatusDone {
		log.Info("run finished", "status", status, "duration", duration,
			"degraded", snap.PermanentlyFailedAgents.Sorted())
	} else {
		log.Error("run finished", "status", status, "reason", reason, "duration", duration)
	}
	r.publish(events.NewRunFinishedEvent(string(state.ID()), string(status), reason, duration,
		agentStrings(snap.CompletedAgents.Sorted()), agentStrings(snap.PermanentlyFailedAgents.Sorted())))
	return snap, cause
}

// persist saves the latest snapshot. Saves are serialized so an older
// snapshot never overwrites a newer one. Failures are logged; the run
// continues in memory.
func (r *Runner) persist(state *core.WorkflowState) {
	if r.store == nil {
		return
	}
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.store.Save(ctx, state.Snapshot()); err != nil {
		r.logger.WithRun(string(state.ID())).Warn("failed to persist run state", "error", err)
	}
}

func (r *Runner) publish(e events.Event) {
	if r.bus != nil {
		r.bus.Publish(e)
	}
}

func abortReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "run deadline exceeded"
	}
	return "run cancelled"
}

func joinIDs(ids []core.AgentID) string {
	return strings.Join(agentStrings(ids), ", ")
}

func agentStrings(ids []core.AgentID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func intentStrings(intents []core.Intent) []string {
	out := make([]string, len(intents))
	for i, in := range intents {
		out[i] = string(in)
	}
	return out
}
