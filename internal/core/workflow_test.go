package core

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestState() *WorkflowState {
	return NewWorkflowState("run-1", "analyze TSLA", NewIntentSet(IntentStock))
}

func success(id AgentID, summary string) Outcome {
	return Outcome{Agent: id, Kind: OutcomeSuccess, Result: &Result{Summary: summary}, Attempt: 1}
}

func TestWorkflowState_MergeSuccess(t *testing.T) {
	t.Parallel()
	ws := newTestState()

	res := ws.Merge(success(AgentStockAnalyzer, "ok"), 3)
	assert.True(t, res.Applied)
	assert.True(t, res.Completed)

	snap := ws.Snapshot()
	assert.True(t, snap.CompletedAgents.Has(AgentStockAnalyzer))
	assert.Equal(t, "ok", snap.Results[AgentStockAnalyzer].Summary)
	assert.Equal(t, AgentStockAnalyzer, snap.Results[AgentStockAnalyzer].Agent)
	require.Len(t, snap.History, 1)
	assert.Equal(t, OutcomeSuccess, snap.History[0].Outcome)
	assert.NoError(t, snap.Validate())
}

func TestWorkflowState_MergeIsIdempotentForCompleted(t *testing.T) {
	t.Parallel()
	ws := newTestState()

	ws.Merge(success(AgentStockAnalyzer, "first"), 3)
	res := ws.Merge(success(AgentStockAnalyzer, "second"), 3)
	assert.False(t, res.Applied)

	late := ws.Merge(Outcome{Agent: AgentStockAnalyzer, Kind: OutcomeRecoverable, Err: errors.New("late")}, 3)
	assert.False(t, late.Applied)

	snap := ws.Snapshot()
	assert.Equal(t, "first", snap.Results[AgentStockAnalyzer].Summary)
	assert.Len(t, snap.History, 1)
	assert.Zero(t, snap.RetryCounts[AgentStockAnalyzer])
}

func TestWorkflowState_RecoverableUntilLimit(t *testing.T) {
	t.Parallel()
	ws := newTestState()
	fail := Outcome{Agent: AgentStockAnalyzer, Kind: OutcomeRecoverable, Err: errors.New("boom")}

	for attempt := 1; attempt <= 2; attempt++ {
		fail.Attempt = attempt
		res := ws.Merge(fail, 3)
		assert.True(t, res.Applied)
		assert.False(t, res.PermanentlyFailed, "attempt %d", attempt)
		assert.Equal(t, attempt, res.Failures)
	}
	fail.Attempt = 3
	res := ws.Merge(fail, 3)
	assert.True(t, res.PermanentlyFailed)

	snap := ws.Snapshot()
	assert.True(t, snap.PermanentlyFailedAgents.Has(AgentStockAnalyzer))
	assert.Equal(t, 3, snap.RetryCounts[AgentStockAnalyzer])
	assert.Equal(t, 3, snap.Attempts(AgentStockAnalyzer, OutcomeRecoverable))
	assert.Equal(t, "boom", snap.Errors[AgentStockAnalyzer])
}

func TestWorkflowState_TimeoutCountsAsRecoverable(t *testing.T) {
	t.Parallel()
	ws := newTestState()

	res := ws.Merge(Outcome{Agent: AgentChartGenerator, Kind: OutcomeTimeout, Err: ErrTimeout("slow")}, 2)
	assert.False(t, res.PermanentlyFailed)
	res = ws.Merge(Outcome{Agent: AgentChartGenerator, Kind: OutcomeTimeout, Err: ErrTimeout("slow")}, 2)
	assert.True(t, res.PermanentlyFailed)
}

func TestWorkflowState_FatalFailsImmediately(t *testing.T) {
	t.Parallel()
	ws := newTestState()

	res := ws.Merge(Outcome{Agent: AgentStockAnalyzer, Kind: OutcomeFatal, Err: ErrFatalAgent(CodeNoTicker, "none")}, 5)
	assert.True(t, res.PermanentlyFailed)
	assert.Equal(t, 1, res.Failures)
}

func TestWorkflowState_AbortDoesNotCountAsAttempt(t *testing.T) {
	t.Parallel()
	ws := newTestState()

	res := ws.Merge(Outcome{Agent: AgentStockAnalyzer, Kind: OutcomeAborted, Err: ErrWorkflowAbort("cancelled")}, 1)
	assert.True(t, res.Applied)
	assert.False(t, res.PermanentlyFailed)

	snap := ws.Snapshot()
	assert.Zero(t, snap.RetryCounts[AgentStockAnalyzer])
	require.Len(t, snap.History, 1)
	assert.Equal(t, OutcomeAborted, snap.History[0].Outcome)
}

func TestWorkflowState_ConcurrentMerges(t *testing.T) {
	t.Parallel()
	ws := NewWorkflowState("run-c", "market and companies", NewIntentSet(IntentMarket, IntentCompany))
	ids := []AgentID{AgentMarketResearcher, AgentCompanyAnalyzer, AgentStockAnalyzer, AgentChartGenerator}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		for _, id := range ids {
			wg.Add(1)
			go func(id AgentID) {
				defer wg.Done()
				ws.Merge(success(id, string(id)), 3)
			}(id)
		}
	}
	wg.Wait()

	snap := ws.Snapshot()
	assert.Len(t, snap.CompletedAgents, len(ids))
	assert.Len(t, snap.Results, len(ids))
	assert.Len(t, snap.History, len(ids))
	assert.NoError(t, snap.Validate())
}

func TestWorkflowState_FinalizeForwardOnly(t *testing.T) {
	t.Parallel()
	ws := newTestState()

	assert.Error(t, ws.Finalize(StatusRunning, ""))
	require.NoError(t, ws.Finalize(StatusDone, ""))
	assert.Equal(t, StatusDone, ws.Status())

	err := ws.Finalize(StatusFailed, "again")
	require.Error(t, err)
	assert.True(t, IsCategory(err, ErrCatState))

	res := ws.Merge(success(AgentStockAnalyzer, "late"), 3)
	assert.False(t, res.Applied, "terminal state must be frozen")
	assert.NotNil(t, ws.Snapshot().FinishedAt)
}

func TestWorkflowState_ViewRestrictsInputs(t *testing.T) {
	t.Parallel()
	ws := NewWorkflowState("run-v", "full", NewIntentSet(IntentMarket))
	ws.Merge(success(AgentStockAnalyzer, "stock"), 3)
	ws.Merge(success(AgentCompanyAnalyzer, "company"), 3)
	ws.Merge(Outcome{Agent: AgentChartGenerator, Kind: OutcomeFatal, Err: errors.New("x")}, 3)

	view := ws.View(AgentDescriptor{
		ID:             AgentReportCompiler,
		RequiredInputs: []AgentID{AgentStockAnalyzer},
		OptionalInputs: []AgentID{AgentChartGenerator, AgentMarketResearcher},
	})

	assert.Equal(t, 1, view.Attempt)
	assert.Contains(t, view.Inputs, AgentStockAnalyzer)
	assert.NotContains(t, view.Inputs, AgentCompanyAnalyzer)
	assert.True(t, view.IsUnavailable(AgentChartGenerator))
	assert.False(t, view.IsUnavailable(AgentMarketResearcher))
}

func TestSnapshot_ValidateDetectsViolations(t *testing.T) {
	t.Parallel()
	snap := newTestState().Snapshot()
	snap.CompletedAgents[AgentStockAnalyzer] = true
	assert.Error(t, snap.Validate(), "completed without result")

	snap.Results[AgentStockAnalyzer] = Result{Agent: AgentStockAnalyzer}
	assert.NoError(t, snap.Validate())

	snap.PermanentlyFailedAgents[AgentStockAnalyzer] = true
	assert.Error(t, snap.Validate(), "completed and failed")
}

func TestSnapshot_JSONSchema(t *testing.T) {
	t.Parallel()
	ws := newTestState()
	ws.Merge(success(AgentStockAnalyzer, "ok"), 3)
	require.NoError(t, ws.Finalize(StatusDone, ""))

	data, err := json.Marshal(ws.Snapshot())
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"request_id", "intents", "completed_agents", "permanently_failed_agents", "results", "errors", "started_at", "finished_at", "status"} {
		assert.Contains(t, raw, key)
	}
	assert.JSONEq(t, `["stock_analyzer"]`, string(raw["completed_agents"]))

	var back Snapshot
	require.NoError(t, json.Unmarshal(data, &back))
	restored, err := RestoreWorkflowState(&back)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, restored.Status())
	assert.True(t, restored.Snapshot().CompletedAgents.Has(AgentStockAnalyzer))
}
