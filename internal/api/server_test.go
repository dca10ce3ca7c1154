package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
	"github.com/hugo-lorenzo-mato/marketflow/internal/events"
	"github.com/hugo-lorenzo-mato/marketflow/internal/supervisor"
)

type stubAgent struct {
	id       core.AgentID
	requires []core.AgentID
	block    bool
}

func (a *stubAgent) ID() core.AgentID { return a.id }
func (a *stubAgent) Applicable(core.IntentSet) bool { return true }
func (a *stubAgent) RequiredInputs() []core.AgentID { return a.requires }

func (a *stubAgent) Execute(ctx context.Context, _ core.Invocation) (core.Result, error) {
	if a.block {
		<-ctx.Done()
		return core.Result{}, ctx.Err()
	}
	return core.Result{Summary: string(a.id) + " ok"}, nil
}

func newTestServer(t *testing.T, block bool) (*Server, *events.EventBus) {
	t.Helper()
	reg := supervisor.NewRegistry()
	policy := supervisor.AgentPolicy{Critical: true, Priority: 10, MaxRetries: 1, Timeout: 5 * time.Second}
	require.NoError(t, reg.Register(&stubAgent{id: core.AgentStockAnalyzer, block: block}, policy))
	require.NoError(t, reg.Register(&stubAgent{id: core.AgentReportCompiler, requires: []core.AgentID{core.AgentStockAnalyzer}}, policy))

	bus := events.New(100)
	t.Cleanup(bus.Close)
	runner, err := supervisor.NewRunner(supervisor.RunnerConfig{Registry: reg, Bus: bus})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewServer(runner, bus, WithRunContext(ctx), WithMetrics(NewMetrics(bus))), bus
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func startRun(t *testing.T, s *Server) core.RunID {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/api/v1/runs", `{"request":"stock analysis"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	created := decode[RunCreatedResponse](t, rec)
	require.NotEmpty(t, created.RunID)
	assert.Equal(t, "/api/v1/runs/"+string(created.RunID), rec.Header().Get("Location"))
	return created.RunID
}

func waitStatus(t *testing.T, s *Server, id core.RunID) core.Snapshot {
	t.Helper()
	var snap core.Snapshot
	require.Eventually(t, func() bool {
		rec := do(t, s, http.MethodGet, "/api/v1/runs/"+string(id), "")
		if rec.Code != http.StatusOK {
			return false
		}
		snap = decode[core.Snapshot](t, rec)
		return snap.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)
	return snap
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, false)
	rec := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	health := decode[HealthResponse](t, rec)
	assert.Equal(t, "healthy", health.Status)
	assert.Empty(t, health.ActiveRuns)
}

func TestHealth_ListsActiveRuns(t *testing.T) {
	s, _ := newTestServer(t, true)
	id := startRun(t, s)

	health := decode[HealthResponse](t, do(t, s, http.MethodGet, "/health", ""))
	assert.Equal(t, []core.RunID{id}, health.ActiveRuns)

	require.Equal(t, http.StatusAccepted, do(t, s, http.MethodDelete, "/api/v1/runs/"+string(id), "").Code)
	waitStatus(t, s, id)
	require.Eventually(t, func() bool {
		return len(decode[HealthResponse](t, do(t, s, http.MethodGet, "/health", "")).ActiveRuns) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStats(t *testing.T) {
	s, _ := newTestServer(t, false)
	id := startRun(t, s)
	waitStatus(t, s, id)

	var stats supervisor.MetricsSnapshot
	require.Eventually(t, func() bool {
		rec := do(t, s, http.MethodGet, "/api/v1/stats", "")
		if rec.Code != http.StatusOK {
			return false
		}
		stats = decode[supervisor.MetricsSnapshot](t, rec)
		return stats.Runs.Done == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, stats.Runs.Started)
	assert.Equal(t, 2, stats.Runs.Batches)
	require.Len(t, stats.Agents, 2)
	assert.Equal(t, core.AgentReportCompiler, stats.Agents[0].Agent)
	assert.Equal(t, 1, stats.Agents[0].Invocations)
	assert.Equal(t, 1, stats.Agents[1].Successes)
}

func TestListAgents(t *testing.T) {
	s, _ := newTestServer(t, false)
	rec := do(t, s, http.MethodGet, "/api/v1/agents", "")
	require.Equal(t, http.StatusOK, rec.Code)

	agents := decode[[]AgentResponse](t, rec)
	require.Len(t, agents, 2)
	assert.Equal(t, core.AgentStockAnalyzer, agents[0].ID)
	assert.Equal(t, "5s", agents[0].Timeout)
	assert.Empty(t, agents[0].RequiredInputs)
	assert.Equal(t, []core.AgentID{core.AgentStockAnalyzer}, agents[1].RequiredInputs)
	assert.Equal(t, 0, agents[0].Level)
	assert.Equal(t, 1, agents[1].Level)
	assert.Equal(t, []core.AgentID{core.AgentReportCompiler}, agents[0].Dependents)
	assert.Empty(t, agents[1].Dependents)
}

func TestRunLifecycle(t *testing.T) {
	s, _ := newTestServer(t, false)
	id := startRun(t, s)

	snap := waitStatus(t, s, id)
	assert.Equal(t, core.StatusDone, snap.Status)
	assert.Equal(t, "stock analysis", snap.Request)

	rec := do(t, s, http.MethodGet, "/api/v1/runs/"+string(id)+"/log", "")
	require.Equal(t, http.StatusOK, rec.Code)
	log := decode[[]core.HistoryEntry](t, rec)
	assert.Len(t, log, 2)

	rec = do(t, s, http.MethodGet, "/api/v1/runs/"+string(id)+"/done", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[map[string]interface{}](t, rec)["done"])

	rec = do(t, s, http.MethodGet, "/api/v1/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[[]core.RunSummary](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].RunID)

	rec = do(t, s, http.MethodGet, "/api/v1/runs?status=failed", "")
	assert.Empty(t, decode[[]core.RunSummary](t, rec))

	rec = do(t, s, http.MethodDelete, "/api/v1/runs/"+string(id), "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/v1/runs/"+string(id)+"/resume", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelRun(t *testing.T) {
	s, _ := newTestServer(t, true)
	id := startRun(t, s)

	rec := do(t, s, http.MethodDelete, "/api/v1/runs/"+string(id), "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	snap := waitStatus(t, s, id)
	assert.NotEqual(t, core.StatusDone, snap.Status)
}

func TestCreateRun_Errors(t *testing.T) {
	s, _ := newTestServer(t, false)

	rec := do(t, s, http.MethodPost, "/api/v1/runs", `{"request":"   "}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, core.CodeEmptyRequest, decode[map[string]string](t, rec)["code"])

	rec = do(t, s, http.MethodPost, "/api/v1/runs", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownRun(t *testing.T) {
	s, _ := newTestServer(t, false)
	for _, path := range []string{"/api/v1/runs/nope", "/api/v1/runs/nope/log", "/api/v1/runs/nope/done"} {
		rec := do(t, s, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodDelete, "/api/v1/runs/nope", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodPost, "/api/v1/runs/nope/resume", "").Code)
}

func TestHTTPStatusForDomainError(t *testing.T) {
	status, ok := httpStatusForDomainError(core.ErrNotFound("run", "x"))
	assert.True(t, ok)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = httpStatusForDomainError(core.ErrState(core.CodeRunAlreadyFinal, "done"))
	assert.Equal(t, http.StatusConflict, status)

	status, _ = httpStatusForDomainError(core.ErrDependencyDeadlock([]core.AgentID{core.AgentReportCompiler}))
	assert.Equal(t, http.StatusConflict, status)

	status, _ = httpStatusForDomainError(core.ErrRecoverable(core.CodeUpstreamFailed, "tavily 503"))
	assert.Equal(t, http.StatusBadGateway, status)

	_, ok = httpStatusForDomainError(assert.AnError)
	assert.False(t, ok)
}

func TestMetrics_Observe(t *testing.T) {
	m := NewMetrics(nil)
	m.Observe(events.NewRunStartedEvent("r1", "req", nil, nil, false))
	m.Observe(events.NewAgentDispatchedEvent("r1", "stock_analyzer", 1, 1))
	m.Observe(events.NewAgentOutcomeEvent(events.TypeAgentSucceeded, "r1", "stock_analyzer", "success", 1, true, time.Second))
	m.Observe(events.NewRunFinishedEvent("r1", "done", "", 2*time.Second, nil, nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsStarted))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.runsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsFinished.WithLabelValues("done")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatched.WithLabelValues("stock_analyzer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outcomes.WithLabelValues("stock_analyzer", "success")))
}

func TestMetricsEndpoint(t *testing.T) {
	s, bus := newTestServer(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.metrics.Run(ctx, bus.SubscribePriority())

	id := startRun(t, s)
	waitStatus(t, s, id)

	require.Eventually(t, func() bool {
		rec := do(t, s, http.MethodGet, "/metrics", "")
		return rec.Code == http.StatusOK &&
			strings.Contains(rec.Body.String(), `marketflow_runs_finished_total{status="done"} 1`)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSSE_FiltersByRun(t *testing.T) {
	s, bus := newTestServer(t, false)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events?run=r1", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: connected\n", line)

	bus.Publish(events.NewRunStartedEvent("r2", "other", nil, nil, false))
	bus.Publish(events.NewRunStartedEvent("r1", "mine", nil, nil, false))

	var got []string
	for i := 0; i < 10; i++ {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		got = append(got, line)
		if strings.Contains(line, `"mine"`) {
			break
		}
	}
	joined := strings.Join(got, "")
	assert.Contains(t, joined, `"mine"`)
	assert.NotContains(t, joined, `"other"`)
}
