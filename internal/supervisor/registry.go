// Package supervisor implements the decision engine that schedules agents
// of a market analysis run.
package supervisor

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
)

// AgentPolicy carries the per-agent settings that come from configuration.
type AgentPolicy struct {
	Critical   bool
	Priority   int
	MaxRetries int
	Timeout    time.Duration
}

type registryEntry struct {
	desc  core.AgentDescriptor
	agent core.Collaborator
	seq   int
}

// Registry holds the static descriptors of the available agents and the
// dependency graph between them.
type Registry struct {
	entries map[core.AgentID]*registryEntry
	order   []core.AgentID
	edges   map[core.AgentID][]core.AgentID // agent -> dependencies
	reverse map[core.AgentID][]core.AgentID // agent -> dependents
	mu      sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[core.AgentID]*registryEntry),
		edges:   make(map[core.AgentID][]core.AgentID),
		reverse: make(map[core.AgentID][]core.AgentID),
	}
}

// DescriptorFor builds the descriptor of a collaborator under a policy.
func DescriptorFor(agent core.Collaborator, policy AgentPolicy) core.AgentDescriptor {
	desc := core.AgentDescriptor{
		ID:             agent.ID(),
		RequiredInputs: append([]core.AgentID(nil), agent.RequiredInputs()...),
		Applicable:     agent.Applicable,
		Critical:       policy.Critical,
		Priority:       policy.Priority,
		MaxRetries:     policy.MaxRetries,
		Timeout:        policy.Timeout,
	}
	if oc, ok := agent.(core.OptionalInputConsumer); ok {
		desc.OptionalInputs = append([]core.AgentID(nil), oc.OptionalInputs()...)
	}
	return desc
}

// Register adds a collaborator. Registration fails if the agent is already
// known or if its dependencies would close a cycle among registered agents.
// Dependencies on agents that are not registered yet are allowed; Validate
// reports the ones that never get registered.
func (r *Registry) Register(agent core.Collaborator, policy AgentPolicy) error {
	if agent == nil {
		return core.ErrValidation(core.CodeAgentNotBound, "nil collaborator")
	}
	return r.RegisterDescriptor(DescriptorFor(agent, policy), agent)
}

// RegisterDescriptor adds a descriptor bound to a collaborator.
func (r *Registry) RegisterDescriptor(desc core.AgentDescriptor, agent core.Collaborator) error {
	if desc.ID == "" {
		return core.ErrValidation(core.CodeInvalidConfig, "agent id is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[desc.ID]; exists {
		return core.ErrValidation(core.CodeDuplicateAgent, fmt.Sprintf("agent %s already registered", desc.ID))
	}
	r.add(desc, agent)
	if cycle := r.findCycle(); cycle != nil {
		r.remove(desc.ID)
		return core.ErrValidation(core.CodeDAGCycle,
			fmt.Sprintf("registering %s introduces dependency cycle %s", desc.ID, formatPath(cycle)))
	}
	return nil
}

// registerUnchecked adds an entry without cycle detection.
func (r *Registry) registerUnchecked(desc core.AgentDescriptor, agent core.Collaborator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add(desc, agent)
}

func (r *Registry) add(desc core.AgentDescriptor, agent core.Collaborator) {
	r.entries[desc.ID] = &registryEntry{desc: desc, agent: agent, seq: len(r.order)}
	r.order = append(r.order, desc.ID)

	seen := make(map[core.AgentID]bool)
	deps := make([]core.AgentID, 0)
	for _, dep := range desc.Dependencies() {
		if seen[dep] {
			continue
		}
		seen[dep] = true
		deps = append(deps, dep)
		r.reverse[dep] = append(r.reverse[dep], desc.ID)
	}
	r.edges[desc.ID] = deps
}

func (r *Registry) remove(id core.AgentID) {
	for _, dep := range r.edges[id] {
		r.reverse[dep] = removeID(r.reverse[dep], id)
	}
	delete(r.edges, id)
	delete(r.entries, id)
	r.order = removeID(r.order, id)
}

// findCycle returns a dependency cycle among registered agents, if any.
func (r *Registry) findCycle() []core.AgentID {
	visited := make(map[core.AgentID]bool)
	recStack := make(map[core.AgentID]bool)
	var path []core.AgentID

	var dfs func(id core.AgentID) []core.AgentID
	dfs = func(id core.AgentID) []core.AgentID {
		visited[id] = true
		recStack[id] = true
		path = append(path, id)

		for _, dep := range r.edges[id] {
			if _, registered := r.entries[dep]; !registered {
				continue
			}
			if !visited[dep] {
				if c := dfs(dep); c != nil {
					return c
				}
			} else if recStack[dep] {
				for i, p := range path {
					if p == dep {
						return append(append([]core.AgentID(nil), path[i:]...), dep)
					}
				}
			}
		}

		recStack[id] = false
		path = path[:len(path)-1]
		return nil
	}

	for _, id := range r.order {
		if !visited[id] {
			if c := dfs(id); c != nil {
				return c
			}
		}
	}
	return nil
}

// Validate checks the registry as a whole. It is meant to run once all
// agents are registered, and any error is fatal for startup.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.entries) == 0 {
		return core.ErrValidation(core.CodeNoAgents, "no agents registered")
	}
	if cycle := r.findCycle(); cycle != nil {
		return core.ErrValidation(core.CodeDAGCycle, "dependency cycle "+formatPath(cycle))
	}
	for _, id := range r.order {
		e := r.entries[id]
		for _, dep := range e.desc.Dependencies() {
			if _, ok := r.entries[dep]; !ok {
				return core.ErrValidation(core.CodeUnknownAgent,
					fmt.Sprintf("agent %s depends on unregistered agent %s", id, dep))
			}
		}
		for _, dep := range e.desc.RequiredInputs {
			if !r.entries[dep].desc.Critical {
				return core.ErrValidation(core.CodeUnsafeRequire,
					fmt.Sprintf("agent %s requires non-critical agent %s; declare it as an optional input or mark it critical", id, dep))
			}
		}
		if e.agent == nil {
			return core.ErrValidation(core.CodeAgentNotBound, fmt.Sprintf("agent %s has no collaborator", id))
		}
	}
	return nil
}

// Descriptor returns the descriptor of an agent.
func (r *Registry) Descriptor(id core.AgentID) (core.AgentDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return core.AgentDescriptor{}, false
	}
	return e.desc, true
}

// Collaborator returns the collaborator bound to an agent.
func (r *Registry) Collaborator(id core.AgentID) (core.Collaborator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok || e.agent == nil {
		return nil, false
	}
	return e.agent, true
}

// Descriptors returns all descriptors in registration order.
func (r *Registry) Descriptors() []core.AgentDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.AgentDescriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].desc)
	}
	return out
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// RequiredSet returns the agents applicable to the intents, in registration
// order.
func (r *Registry) RequiredSet(intents core.IntentSet) []core.AgentID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.requiredSet(intents)
}

func (r *Registry) requiredSet(intents core.IntentSet) []core.AgentID {
	out := make([]core.AgentID, 0, len(r.order))
	for _, id := range r.order {
		if r.entries[id].desc.IsApplicable(intents) {
			out = append(out, id)
		}
	}
	return out
}

// ReadySet returns the required agents that have not settled and whose inputs
// are satisfied. The result is ordered by descending priority, then by
// registration order.
func (r *Registry) ReadySet(snap *core.Snapshot) []core.AgentID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	required := r.requiredSet(snap.Intents)
	inRun := make(map[core.AgentID]bool, len(required))
	for _, id := range required {
		inRun[id] = true
	}

	ready := make([]core.AgentID, 0)
	for _, id := range required {
		if snap.Settled(id) {
			continue
		}
		if r.inputsSatisfied(r.entries[id].desc, snap, inRun) {
			ready = append(ready, id)
		}
	}
	r.sortByPriority(ready)
	return ready
}

func (r *Registry) inputsSatisfied(desc core.AgentDescriptor, snap *core.Snapshot, inRun map[core.AgentID]bool) bool {
	for _, dep := range desc.RequiredInputs {
		if !snap.CompletedAgents.Has(dep) {
			return false
		}
	}
	for _, dep := range desc.OptionalInputs {
		if inRun[dep] && !snap.Settled(dep) {
			return false
		}
	}
	return true
}

func (r *Registry) sortByPriority(ids []core.AgentID) {
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := r.entries[ids[i]], r.entries[ids[j]]
		if a.desc.Priority != b.desc.Priority {
			return a.desc.Priority > b.desc.Priority
		}
		return a.seq < b.seq
	})
}

// Dependencies returns the declared inputs of an agent.
func (r *Registry) Dependencies(id core.AgentID) []core.AgentID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]core.AgentID(nil), r.edges[id]...)
}

// Dependents returns the agents that declare id as an input.
func (r *Registry) Dependents(id core.AgentID) []core.AgentID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]core.AgentID(nil), r.reverse[id]...)
}

// Levels groups agents into layers that can run in parallel when every
// dependency succeeds. Agents caught in a cycle are omitted.
func (r *Registry) Levels() [][]core.AgentID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	levels := make([][]core.AgentID, 0)
	assigned := make(map[core.AgentID]bool)

	for len(assigned) < len(r.order) {
		level := make([]core.AgentID, 0)
		for _, id := range r.order {
			if assigned[id] {
				continue
			}
			allDepsAssigned := true
			for _, dep := range r.edges[id] {
				if _, registered := r.entries[dep]; registered && !assigned[dep] {
					allDepsAssigned = false
					break
				}
			}
			if allDepsAssigned {
				level = append(level, id)
			}
		}
		if len(level) == 0 {
			break
		}
		for _, id := range level {
			assigned[id] = true
		}
		r.sortByPriority(level)
		levels = append(levels, level)
	}
	return levels
}

func removeID(ids []core.AgentID, id core.AgentID) []core.AgentID {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func formatPath(path []core.AgentID) string {
	parts := make([]string, len(path))
	for i, id := range path {
		parts[i] = string(id)
	}
	return strings.Join(parts, " -> ")
}
