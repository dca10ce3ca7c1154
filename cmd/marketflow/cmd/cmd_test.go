package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/marketflow/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/marketflow/internal/agents"
	"github.com/hugo-lorenzo-mato/marketflow/internal/config"
	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
)

func chdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
	return dir
}

func sampleSnapshot(t *testing.T) *core.Snapshot {
	t.Helper()
	started := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	finished := started.Add(4 * time.Second)

	stock, err := core.NewResult(core.AgentStockAnalyzer, "2 of 2 tickers analyzed", nil)
	require.NoError(t, err)
	report, err := core.NewResult(core.AgentReportCompiler, "report compiled, unavailable: market", agents.FinalReport{
		Path:     ".marketflow/output/run-7/report.md",
		Markdown: "# Report\n\nTesla closed higher.",
		Sections: []agents.SectionStatus{
			{Name: "market", Status: agents.SectionUnavailable},
			{Name: "stocks", Status: agents.SectionIncluded},
		},
	})
	require.NoError(t, err)

	return &core.Snapshot{
		RequestID:               "run-7",
		Request:                 "Compare Tesla and BYD",
		Intents:                 core.NewIntentSet(core.IntentComparison, core.IntentStock),
		CompletedAgents:         core.NewAgentSet(core.AgentStockAnalyzer, core.AgentReportCompiler),
		PermanentlyFailedAgents: core.NewAgentSet(core.AgentMarketResearcher),
		Results: map[core.AgentID]core.Result{
			core.AgentStockAnalyzer:  stock,
			core.AgentReportCompiler: report,
		},
		Errors:      map[core.AgentID]string{core.AgentMarketResearcher: "tavily: invalid api key"},
		RetryCounts: map[core.AgentID]int{core.AgentMarketResearcher: 1, core.AgentStockAnalyzer: 1},
		Status:      core.StatusDone,
		StartedAt:   started,
		FinishedAt:  &finished,
		UpdatedAt:   finished,
	}
}

func TestVersionCommand(t *testing.T) {
	SetVersion("v1.2.3", "abc123def", "2026-01-15")
	defer SetVersion("dev", "none", "unknown")

	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	defer versionCmd.SetOut(nil)
	versionCmd.Run(versionCmd, nil)

	out := buf.String()
	assert.Contains(t, out, "marketflow v1.2.3")
	assert.Contains(t, out, "commit: abc123def")
	assert.Contains(t, out, "built:  2026-01-15")
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "resume", "status", "log", "runs", "agents", "serve", "doctor", "init", "config", "version"} {
		assert.True(t, names[want], "command %s should be registered", want)
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 2, ExitCode(errRunUnsuccessful))
	assert.Equal(t, 64, ExitCode(core.ErrValidation(core.CodeEmptyRequest, "empty")))
	assert.Equal(t, 1, ExitCode(errors.New("boom")))
}

func TestRunInit(t *testing.T) {
	dir := chdir(t)
	initForce = false
	defer func() { initForce = false }()

	require.NoError(t, runInit(initCmd, nil))
	assert.FileExists(t, filepath.Join(dir, config.DefaultConfigPath))
	assert.DirExists(t, filepath.Join(dir, ".marketflow", "documents"))

	err := runInit(initCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	initForce = true
	assert.NoError(t, runInit(initCmd, nil))
}

func TestPrintSnapshot(t *testing.T) {
	var buf bytes.Buffer
	printSnapshot(&buf, sampleSnapshot(t), false)
	out := buf.String()

	assert.Contains(t, out, "Run run-7: done (4s)")
	assert.Contains(t, out, "Intents: comparison, stock")
	assert.Contains(t, out, "✗  market_researcher")
	assert.Contains(t, out, "tavily: invalid api key")
	assert.Contains(t, out, "2 of 2 tickers analyzed")
	assert.Contains(t, out, "Report: .marketflow/output/run-7/report.md")
	assert.Contains(t, out, "Unavailable sections: market")
}

func TestFinalReport(t *testing.T) {
	report := finalReport(sampleSnapshot(t))
	require.NotNil(t, report)
	assert.Equal(t, []string{"market"}, report.Unavailable())

	assert.Nil(t, finalReport(nil))
	assert.Nil(t, finalReport(&core.Snapshot{}))
}

func TestTouchedAgents_PipelineOrder(t *testing.T) {
	snap := sampleSnapshot(t)
	snap.RetryCounts["custom"] = 1
	assert.Equal(t, []core.AgentID{
		core.AgentMarketResearcher,
		core.AgentStockAnalyzer,
		core.AgentReportCompiler,
		"custom",
	}, touchedAgents(snap))
}

func TestFilterRuns(t *testing.T) {
	runs := []core.RunSummary{
		{RunID: "a", Status: core.StatusDone},
		{RunID: "b", Status: core.StatusFailed},
		{RunID: "c", Status: core.StatusDone},
		{RunID: "d", Status: core.StatusDone},
	}
	assert.Len(t, filterRuns(runs, "", 0), 4)
	assert.Len(t, filterRuns(runs, "", 2), 2)

	done := filterRuns(runs, "DONE", 2)
	require.Len(t, done, 2)
	assert.Equal(t, core.RunID("a"), done[0].RunID)
	assert.Equal(t, core.RunID("c"), done[1].RunID)
}

func TestPrintHistory(t *testing.T) {
	var buf bytes.Buffer
	printHistory(&buf, nil)
	assert.Contains(t, buf.String(), "No agent attempts recorded.")

	buf.Reset()
	printHistory(&buf, []core.HistoryEntry{
		{Agent: core.AgentStockAnalyzer, Outcome: core.OutcomeTimeout, Attempt: 1, Error: "deadline exceeded", Duration: time.Second},
		{Agent: core.AgentStockAnalyzer, Outcome: core.OutcomeSuccess, Attempt: 2, Duration: 1500 * time.Millisecond},
	})
	out := buf.String()
	assert.Contains(t, out, "AGENT")
	assert.Contains(t, out, "timeout")
	assert.Contains(t, out, "deadline exceeded")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "2 attempts, 1 failed")
}

func TestLoadHistory(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	ws := core.NewWorkflowState("run-log", "stock analysis", core.NewIntentSet(core.IntentStock))
	ws.Merge(core.Outcome{Agent: core.AgentStockAnalyzer, Kind: core.OutcomeRecoverable, Attempt: 1, Err: errors.New("stooq 503")}, 3)
	ws.Merge(core.Outcome{Agent: core.AgentStockAnalyzer, Kind: core.OutcomeSuccess, Attempt: 2, Result: &core.Result{Summary: "ok"}}, 3)

	sqlite, err := state.NewStateManager(state.BackendSQLite, filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	defer sqlite.Close()
	require.NoError(t, sqlite.Save(ctx, ws.Snapshot()))

	byRun, err := loadHistory(ctx, sqlite, []string{"run-log"}, "", 0)
	require.NoError(t, err)
	require.Len(t, byRun, 2)

	byAgent, err := loadHistory(ctx, sqlite, nil, core.AgentStockAnalyzer, 10)
	require.NoError(t, err)
	require.Len(t, byAgent, 2)
	kinds := []core.OutcomeKind{byAgent[0].Outcome, byAgent[1].Outcome}
	assert.ElementsMatch(t, []core.OutcomeKind{core.OutcomeRecoverable, core.OutcomeSuccess}, kinds)

	none, err := loadHistory(ctx, sqlite, nil, core.AgentChartGenerator, 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	jsonStore, err := state.NewStateManager(state.BackendJSON, filepath.Join(dir, "runs"))
	require.NoError(t, err)
	defer jsonStore.Close()
	_, err = loadHistory(ctx, jsonStore, nil, core.AgentStockAnalyzer, 10)
	assert.ErrorContains(t, err, "sqlite")
}

func TestAgentsCatalog(t *testing.T) {
	registry, err := inspectRegistry(config.Default())
	require.NoError(t, err)

	desc, ok := registry.Descriptor(core.AgentMarketResearcher)
	require.True(t, ok)
	intents := applicableIntents(desc)
	assert.Contains(t, intents, core.IntentMarket)
	assert.Contains(t, intents, core.IntentComparison)
	assert.NotContains(t, intents, core.IntentStock)

	desc, ok = registry.Descriptor(core.AgentReportCompiler)
	require.True(t, ok)
	assert.Len(t, applicableIntents(desc), len(core.AllIntents()))
}

func TestDescribeAgents_DependencyLayout(t *testing.T) {
	registry, err := inspectRegistry(config.Default())
	require.NoError(t, err)

	infos := describeAgents(registry)
	require.Len(t, infos, 5)
	levels := make(map[core.AgentID]int)
	feeds := make(map[core.AgentID][]core.AgentID)
	for _, a := range infos {
		levels[a.ID] = a.Level
		feeds[a.ID] = a.Feeds
	}
	assert.Equal(t, 0, levels[core.AgentMarketResearcher])
	assert.Equal(t, 0, levels[core.AgentCompanyAnalyzer])
	assert.Equal(t, 1, levels[core.AgentStockAnalyzer])
	assert.Equal(t, 2, levels[core.AgentChartGenerator])
	assert.Equal(t, 3, levels[core.AgentReportCompiler])
	assert.Equal(t, core.AgentReportCompiler, infos[len(infos)-1].ID)

	assert.ElementsMatch(t, []core.AgentID{core.AgentChartGenerator, core.AgentReportCompiler}, feeds[core.AgentStockAnalyzer])
	assert.Empty(t, feeds[core.AgentReportCompiler])

	var buf bytes.Buffer
	printAgents(&buf, infos)
	out := buf.String()
	assert.Contains(t, out, "LEVEL")
	assert.Contains(t, out, "FEEDS")
}

func TestMaskSecrets(t *testing.T) {
	settings := map[string]interface{}{
		"search": map[string]interface{}{"provider": "tavily"},
	}
	setNested(settings, "search.api_key", "tvly-abcdefghijkl")
	setNested(settings, "llm.api_key", "")
	maskNested(settings, "search.api_key")
	maskNested(settings, "llm.api_key")
	maskNested(settings, "missing.api_key")

	search := settings["search"].(map[string]interface{})
	assert.Equal(t, "tvly****kl", search["api_key"])
	assert.Equal(t, "tavily", search["provider"])
	assert.Equal(t, "", settings["llm"].(map[string]interface{})["api_key"])
	assert.Equal(t, "****", mask("short"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "line one...", truncate("line one\nline two", 11))
}

func TestNewLimiter(t *testing.T) {
	assert.Nil(t, newLimiter(config.RateLimitConfig{Burst: 5}))

	l := newLimiter(config.Default().Search.RateLimit)
	require.NotNil(t, l)
	assert.Equal(t, 1.0, l.Rate())
	assert.Equal(t, 5.0, l.Available())
}
