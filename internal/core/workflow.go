package core

import (
	"fmt"
	"sync"
	"time"
)

// RunID identifies a single workflow run.
type RunID string

// WorkflowStatus represents the run lifecycle state.
type WorkflowStatus string

const (
	StatusRunning WorkflowStatus = "running"
	StatusBlocked WorkflowStatus = "blocked"
	StatusDone    WorkflowStatus = "done"
	StatusFailed  WorkflowStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s WorkflowStatus) IsTerminal() bool {
	return s == StatusBlocked || s == StatusDone || s == StatusFailed
}

// Snapshot is a point-in-time copy of a run. It is also the persisted form.
type Snapshot struct {
	RequestID               RunID              `json:"request_id"`
	Request                 string             `json:"request"`
	Intents                 IntentSet          `json:"intents"`
	CompletedAgents         AgentSet           `json:"completed_agents"`
	PermanentlyFailedAgents AgentSet           `json:"permanently_failed_agents"`
	Results                 map[AgentID]Result `json:"results"`
	Errors                  map[AgentID]string `json:"errors"`
	RetryCounts             map[AgentID]int    `json:"retry_counts"`
	History                 []HistoryEntry     `json:"history"`
	Status                  WorkflowStatus     `json:"status"`
	Reason                  string             `json:"reason,omitempty"`
	StartedAt               time.Time          `json:"started_at"`
	FinishedAt              *time.Time         `json:"finished_at,omitempty"`
	UpdatedAt               time.Time          `json:"updated_at"`
}

// Settled reports whether the agent completed or failed permanently.
func (s *Snapshot) Settled(id AgentID) bool {
	return s.CompletedAgents.Has(id) || s.PermanentlyFailedAgents.Has(id)
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	c.Intents = make(IntentSet, len(s.Intents))
	for k, v := range s.Intents {
		c.Intents[k] = v
	}
	c.CompletedAgents = s.CompletedAgents.Clone()
	c.PermanentlyFailedAgents = s.PermanentlyFailedAgents.Clone()
	c.Results = make(map[AgentID]Result, len(s.Results))
	for k, v := range s.Results {
		c.Results[k] = v.Clone()
	}
	c.Errors = make(map[AgentID]string, len(s.Errors))
	for k, v := range s.Errors {
		c.Errors[k] = v
	}
	c.RetryCounts = make(map[AgentID]int, len(s.RetryCounts))
	for k, v := range s.RetryCounts {
		c.RetryCounts[k] = v
	}
	c.History = append([]HistoryEntry(nil), s.History...)
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// Validate checks the structural invariants of a run.
func (s *Snapshot) Validate() error {
	if s.RequestID == "" {
		return ErrState(CodeStateInvariant, "run id is empty")
	}
	switch s.Status {
	case StatusRunning, StatusBlocked, StatusDone, StatusFailed:
	default:
		return ErrState(CodeStateInvariant, fmt.Sprintf("unknown status %q", s.Status))
	}
	for id := range s.CompletedAgents {
		if s.PermanentlyFailedAgents.Has(id) {
			return ErrState(CodeStateInvariant, fmt.Sprintf("agent %s is both completed and permanently failed", id))
		}
		if _, ok := s.Results[id]; !ok {
			return ErrState(CodeStateInvariant, fmt.Sprintf("completed agent %s has no result", id))
		}
	}
	for id := range s.Results {
		if !s.CompletedAgents.Has(id) {
			return ErrState(CodeStateInvariant, fmt.Sprintf("result for agent %s that did not complete", id))
		}
	}
	if s.Status.IsTerminal() && s.FinishedAt == nil {
		return ErrState(CodeStateInvariant, "terminal run has no finish time")
	}
	return nil
}

// Attempts counts history entries of failed attempts for an agent.
func (s *Snapshot) Attempts(id AgentID, kinds ...OutcomeKind) int {
	n := 0
	for _, h := range s.History {
		if h.Agent != id {
			continue
		}
		if len(kinds) == 0 {
			n++
			continue
		}
		for _, k := range kinds {
			if h.Outcome == k {
				n++
				break
			}
		}
	}
	return n
}

// MergeResult describes the effect of a merge.
type MergeResult struct {
	Applied           bool
	Completed         bool
	PermanentlyFailed bool
	Failures          int
}

// WorkflowState is the mutable record of a single run. All writes go through
// Merge and Finalize, which are serialized by an internal mutex.
type WorkflowState struct {
	mu   sync.Mutex
	snap *Snapshot
	now  func() time.Time
}

// NewWorkflowState creates a running state for a request.
func NewWorkflowState(id RunID, request string, intents IntentSet) *WorkflowState {
	now := time.Now().UTC()
	in := make(IntentSet, len(intents))
	for k, v := range intents {
		in[k] = v
	}
	return &WorkflowState{
		snap: &Snapshot{
			RequestID:               id,
			Request:                 request,
			Intents:                 in,
			CompletedAgents:         AgentSet{},
			PermanentlyFailedAgents: AgentSet{},
			Results:                 make(map[AgentID]Result),
			Errors:                  make(map[AgentID]string),
			RetryCounts:             make(map[AgentID]int),
			History:                 []HistoryEntry{},
			Status:                  StatusRunning,
			StartedAt:               now,
			UpdatedAt:               now,
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// RestoreWorkflowState rebuilds a state from a persisted snapshot.
func RestoreWorkflowState(s *Snapshot) (*WorkflowState, error) {
	if s == nil {
		return nil, ErrState(CodeStateCorrupted, "nil snapshot")
	}
	c := s.Clone()
	if c.CompletedAgents == nil {
		c.CompletedAgents = AgentSet{}
	}
	if c.PermanentlyFailedAgents == nil {
		c.PermanentlyFailedAgents = AgentSet{}
	}
	if c.Intents == nil {
		c.Intents = IntentSet{}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &WorkflowState{snap: c, now: func() time.Time { return time.Now().UTC() }}, nil
}

// ID returns the run identifier.
func (w *WorkflowState) ID() RunID {
	return w.snap.RequestID
}

// Request returns the immutable original query.
func (w *WorkflowState) Request() string {
	return w.snap.Request
}

// Status returns the current status.
func (w *WorkflowState) Status() WorkflowStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snap.Status
}

// RetryCount returns the number of failed attempts recorded for id.
func (w *WorkflowState) RetryCount(id AgentID) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snap.RetryCounts[id]
}

// Snapshot returns a deep copy of the current state.
func (w *WorkflowState) Snapshot() *Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snap.Clone()
}

// View builds the read view for one invocation of desc. Inputs are restricted
// to the agent's declared dependencies.
func (w *WorkflowState) View(desc AgentDescriptor) Invocation {
	w.mu.Lock()
	defer w.mu.Unlock()

	inv := Invocation{
		RunID:   w.snap.RequestID,
		Request: w.snap.Request,
		Intents: make(IntentSet, len(w.snap.Intents)),
		Attempt: w.snap.RetryCounts[desc.ID] + 1,
		Inputs:  make(map[AgentID]Result),
	}
	for k, v := range w.snap.Intents {
		inv.Intents[k] = v
	}
	for _, dep := range desc.Dependencies() {
		if r, ok := w.snap.Results[dep]; ok {
			inv.Inputs[dep] = r.Clone()
		}
	}
	for _, dep := range desc.OptionalInputs {
		if w.snap.PermanentlyFailedAgents.Has(dep) {
			inv.Unavailable = append(inv.Unavailable, dep)
		}
	}
	return inv
}

// Merge applies an outcome as a single indivisible step. limit is the number
// of failed attempts after which the agent is permanently failed.
// Outcomes for agents that already settled, or arriving after the run
// reached a terminal status, are ignored.
func (w *WorkflowState) Merge(o Outcome, limit int) MergeResult {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := w.snap
	if s.Status.IsTerminal() || s.Settled(o.Agent) {
		return MergeResult{Failures: s.RetryCounts[o.Agent]}
	}
	if limit < 1 {
		limit = 1
	}

	now := w.now()
	entry := HistoryEntry{
		Agent:     o.Agent,
		Outcome:   o.Kind,
		Attempt:   o.Attempt,
		Timestamp: now,
		Duration:  o.Duration,
	}
	if o.Err != nil {
		entry.Error = o.Err.Error()
	}

	res := MergeResult{Applied: true}
	switch o.Kind {
	case OutcomeSuccess:
		r := Result{Agent: o.Agent}
		if o.Result != nil {
			r = o.Result.Clone()
			r.Agent = o.Agent
		}
		s.Results[o.Agent] = r
		s.CompletedAgents[o.Agent] = true
		delete(s.Errors, o.Agent)
		res.Completed = true
	case OutcomeRecoverable, OutcomeTimeout:
		s.RetryCounts[o.Agent]++
		s.Errors[o.Agent] = entry.Error
		if s.RetryCounts[o.Agent] >= limit {
			s.PermanentlyFailedAgents[o.Agent] = true
			res.PermanentlyFailed = true
		}
	case OutcomeFatal:
		s.RetryCounts[o.Agent]++
		s.Errors[o.Agent] = entry.Error
		s.PermanentlyFailedAgents[o.Agent] = true
		res.PermanentlyFailed = true
	case OutcomeAborted:
		// Recorded for audit, does not count as an attempt.
	default:
		return MergeResult{Failures: s.RetryCounts[o.Agent]}
	}

	s.History = append(s.History, entry)
	s.UpdatedAt = now
	res.Failures = s.RetryCounts[o.Agent]
	return res
}

// Finalize moves a running state to a terminal status.
func (w *WorkflowState) Finalize(status WorkflowStatus, reason string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !status.IsTerminal() {
		return ErrState(CodeInvalidTransition, fmt.Sprintf("cannot finalize with status %s", status))
	}
	if w.snap.Status != StatusRunning {
		return ErrState(CodeInvalidTransition, fmt.Sprintf("run already %s", w.snap.Status))
	}
	now := w.now()
	w.snap.Status = status
	w.snap.Reason = reason
	w.snap.FinishedAt = &now
	w.snap.UpdatedAt = now
	return nil
}
