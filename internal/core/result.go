package core

import (
	"encoding/json"
	"fmt"
)

// Result is the output payload of a successful agent execution.
type Result struct {
	Agent   AgentID         `json:"agent"`
	Summary string          `json:"summary,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NewResult encodes data as the result payload.
func NewResult(agent AgentID, summary string, data interface{}) (Result, error) {
	r := Result{Agent: agent, Summary: summary}
	if data == nil {
		return r, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Result{}, ErrFatalAgent(CodeMalformedPayload, fmt.Sprintf("encoding %s result", agent)).WithCause(err)
	}
	r.Data = raw
	return r, nil
}

// Decode unmarshals the payload into v.
func (r Result) Decode(v interface{}) error {
	if len(r.Data) == 0 {
		return ErrFatalAgent(CodeMalformedPayload, fmt.Sprintf("%s result has no payload", r.Agent))
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return ErrFatalAgent(CodeMalformedPayload, fmt.Sprintf("decoding %s result", r.Agent)).WithCause(err)
	}
	return nil
}

// Clone returns a copy that shares no memory with r.
func (r Result) Clone() Result {
	c := r
	if r.Data != nil {
		c.Data = append(json.RawMessage(nil), r.Data...)
	}
	return c
}

// Invocation is the read view handed to a collaborator.
type Invocation struct {
	RunID   RunID
	Request string
	Intents IntentSet
	Attempt int
	// Inputs holds the results of completed required and optional inputs.
	Inputs map[AgentID]Result
	// Unavailable lists optional inputs that failed permanently.
	Unavailable []AgentID
}

// Input returns the result of a completed upstream agent.
func (inv Invocation) Input(id AgentID) (Result, bool) {
	r, ok := inv.Inputs[id]
	return r, ok
}

// IsUnavailable reports whether an optional upstream agent failed.
func (inv Invocation) IsUnavailable(id AgentID) bool {
	for _, u := range inv.Unavailable {
		if u == id {
			return true
		}
	}
	return false
}
