package supervisor

import (
	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
)

// DecisionKind is the verdict of one controller evaluation.
type DecisionKind string

const (
	DecisionDispatch DecisionKind = "dispatch"
	// DecisionWait means nothing new can start until an in-flight agent settles.
	DecisionWait     DecisionKind = "wait"
	DecisionBlocked  DecisionKind = "blocked"
	DecisionDone     DecisionKind = "done"
	DecisionFailed   DecisionKind = "failed"
)

// Decision is returned by SelectNext.
type Decision struct {
	Kind DecisionKind
	// IDs holds the agents to dispatch, ordered by priority.
	IDs []core.AgentID
	// Pending holds required agents that can never become ready (Blocked).
	Pending []core.AgentID
	// FailedCritical holds permanently failed critical agents (Failed).
	FailedCritical []core.AgentID
}

// Controller decides what runs next. It never mutates state.
type Controller struct {
	registry    *Registry
	maxParallel int
}

// ControllerOption configures a controller.
type ControllerOption func(*Controller)

// WithMaxParallel limits how many agents may be in flight at once.
// Zero or less means no limit.
func WithMaxParallel(n int) ControllerOption {
	return func(c *Controller) {
		c.maxParallel = n
	}
}

// NewController creates a controller over a registry.
func NewController(registry *Registry, opts ...ControllerOption) *Controller {
	c := &Controller{registry: registry}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SelectNext evaluates the current state of a run. inFlight holds agents
// already dispatched whose outcome has not been merged yet.
func (c *Controller) SelectNext(state *core.WorkflowState, inFlight core.AgentSet) Decision {
	return c.Decide(state.Snapshot(), inFlight)
}

// Decide evaluates a snapshot.
func (c *Controller) Decide(snap *core.Snapshot, inFlight core.AgentSet) Decision {
	required := c.registry.RequiredSet(snap.Intents)

	var failedCritical, pending []core.AgentID
	for _, id := range required {
		if snap.PermanentlyFailedAgents.Has(id) {
			if desc, _ := c.registry.Descriptor(id); desc.Critical {
				failedCritical = append(failedCritical, id)
			}
			continue
		}
		if !snap.CompletedAgents.Has(id) {
			pending = append(pending, id)
		}
	}

	if len(failedCritical) > 0 {
		return Decision{Kind: DecisionFailed, FailedCritical: failedCritical}
	}
	if len(pending) == 0 {
		return Decision{Kind: DecisionDone}
	}

	ready := make([]core.AgentID, 0)
	for _, id := range c.registry.ReadySet(snap) {
		if !inFlight.Has(id) {
			ready = append(ready, id)
		}
	}
	busy := len(inFlight)
	if len(ready) == 0 {
		if busy > 0 {
			return Decision{Kind: DecisionWait}
		}
		return Decision{Kind: DecisionBlocked, Pending: pending}
	}
	if c.maxParallel > 0 {
		free := c.maxParallel - busy
		if free <= 0 {
			return Decision{Kind: DecisionWait}
		}
		if len(ready) > free {
			ready = ready[:free]
		}
	}
	return Decision{Kind: DecisionDispatch, IDs: ready}
}
