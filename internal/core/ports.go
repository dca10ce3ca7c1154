package core

import (
	"context"
	"time"
)

// Collaborator is the capability every work unit exposes to the supervisor.
type Collaborator interface {
	// ID returns the unique agent identifier.
	ID() AgentID

	// Applicable reports whether the agent is needed for the intents.
	Applicable(intents IntentSet) bool

	// RequiredInputs lists agents that must complete before this one runs.
	RequiredInputs() []AgentID

	// Execute runs the agent against the read view of the state.
	Execute(ctx context.Context, inv Invocation) (Result, error)
}

// OptionalInputConsumer is implemented by collaborators that use upstream
// results when they are available and degrade when they are not.
type OptionalInputConsumer interface {
	OptionalInputs() []AgentID
}

// RunSummary is a lightweight listing entry for persisted runs.
type RunSummary struct {
	RunID      RunID          `json:"run_id"`
	Request    string         `json:"request"`
	Status     WorkflowStatus `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Completed  int            `json:"completed"`
	Failed     int            `json:"failed"`
}

// StateManager persists run snapshots.
type StateManager interface {
	// Save persists the snapshot, replacing any previous version of the run.
	Save(ctx context.Context, snap *Snapshot) error

	// Load returns a persisted run, or a not-found error.
	Load(ctx context.Context, id RunID) (*Snapshot, error)

	// List returns persisted runs, newest first.
	List(ctx context.Context) ([]RunSummary, error)

	// Delete removes a run.
	Delete(ctx context.Context, id RunID) error

	// Close releases resources.
	Close() error
}

// Summarize builds a listing entry from a snapshot.
func Summarize(s *Snapshot) RunSummary {
	return RunSummary{
		RunID:      s.RequestID,
		Request:    s.Request,
		Status:     s.Status,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		Completed:  len(s.CompletedAgents),
		Failed:     len(s.PermanentlyFailedAgents),
	}
}
