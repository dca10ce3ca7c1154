package events

import "time"

// Event type constants for supervisor events.
const (
	TypeRunStarted      = "run_started"
	TypeAgentDispatched = "agent_dispatched"
	TypeAgentSucceeded  = "agent_succeeded"
	TypeAgentRetrying   = "agent_retrying"
	TypeAgentFailed     = "agent_failed"
	TypeAgentAborted    = "agent_aborted"
	TypeRunFinished     = "run_finished"
)

// RunStartedEvent is emitted when a run begins or resumes.
type RunStartedEvent struct {
	BaseEvent
	Request  string   `json:"request"`
	Intents  []string `json:"intents"`
	Required []string `json:"required"`
	Resumed  bool     `json:"resumed,omitempty"`
}

// NewRunStartedEvent creates a run started event.
func NewRunStartedEvent(runID, request string, intents, required []string, resumed bool) RunStartedEvent {
	return RunStartedEvent{
		BaseEvent: NewBaseEvent(TypeRunStarted, runID),
		Request:   request,
		Intents:   intents,
		Required:  required,
		Resumed:   resumed,
	}
}

// AgentDispatchedEvent is emitted for every agent of a dispatch batch.
type AgentDispatchedEvent struct {
	BaseEvent
	Agent   string `json:"agent"`
	Attempt int    `json:"attempt"`
	Batch   int    `json:"batch"`
}

// NewAgentDispatchedEvent creates an agent dispatched event.
func NewAgentDispatchedEvent(runID, agent string, attempt, batch int) AgentDispatchedEvent {
	return AgentDispatchedEvent{
		BaseEvent: NewBaseEvent(TypeAgentDispatched, runID),
		Agent:     agent,
		Attempt:   attempt,
		Batch:     batch,
	}
}

// AgentOutcomeEvent reports the merged outcome of one attempt.
type AgentOutcomeEvent struct {
	BaseEvent
	Agent    string        `json:"agent"`
	Outcome  string        `json:"outcome"`
	Attempt  int           `json:"attempt"`
	Critical bool          `json:"critical"`
	Duration time.Duration `json:"duration"`
	Summary  string        `json:"summary,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// NewAgentOutcomeEvent creates an outcome event. eventType is one of
// TypeAgentSucceeded, TypeAgentRetrying, TypeAgentFailed or TypeAgentAborted.
func NewAgentOutcomeEvent(eventType, runID, agent, outcome string, attempt int, critical bool, duration time.Duration) AgentOutcomeEvent {
	return AgentOutcomeEvent{
		BaseEvent: NewBaseEvent(eventType, runID),
		Agent:     agent,
		Outcome:   outcome,
		Attempt:   attempt,
		Critical:  critical,
		Duration:  duration,
	}
}

// WithSummary attaches the result summary.
func (e AgentOutcomeEvent) WithSummary(summary string) AgentOutcomeEvent {
	e.Summary = summary
	return e
}

// WithError attaches an error message.
func (e AgentOutcomeEvent) WithError(err error) AgentOutcomeEvent {
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// RunFinishedEvent is emitted once per run when it reaches a terminal status.
type RunFinishedEvent struct {
	BaseEvent
	Status    string        `json:"status"`
	Reason    string        `json:"reason,omitempty"`
	Duration  time.Duration `json:"duration"`
	Completed []string      `json:"completed"`
	Failed    []string      `json:"failed"`
}

// NewRunFinishedEvent creates a run finished event.
func NewRunFinishedEvent(runID, status, reason string, duration time.Duration, completed, failed []string) RunFinishedEvent {
	return RunFinishedEvent{
		BaseEvent: NewBaseEvent(TypeRunFinished, runID),
		Status:    status,
		Reason:    reason,
		Duration:  duration,
		Completed: completed,
		Failed:    failed,
	}
}
