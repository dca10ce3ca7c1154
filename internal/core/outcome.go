package core

import "time"

// OutcomeKind classifies the result of one agent attempt.
type OutcomeKind string

const (
	OutcomeSuccess     OutcomeKind = "success"
	OutcomeRecoverable OutcomeKind = "recoverable_failure"
	OutcomeTimeout     OutcomeKind = "timeout"
	OutcomeFatal       OutcomeKind = "fatal_failure"
	OutcomeAborted     OutcomeKind = "aborted"
)

// IsFailure reports whether the outcome counts as a failed attempt.
func (k OutcomeKind) IsFailure() bool {
	switch k {
	case OutcomeRecoverable, OutcomeTimeout, OutcomeFatal:
		return true
	}
	return false
}

// Outcome is what an invocation produced.
type Outcome struct {
	Agent     AgentID
	Kind      OutcomeKind
	Result    *Result
	Err       error
	Attempt   int
	StartedAt time.Time
	Duration  time.Duration
}

// HistoryEntry is one line of the execution log.
type HistoryEntry struct {
	Agent     AgentID       `json:"agent"`
	Outcome   OutcomeKind   `json:"outcome"`
	Attempt   int           `json:"attempt"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration_ns,omitempty"`
}
