package supervisor

import (
	"sort"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
)

// MetricsCollector aggregates agent and run statistics across runs.
type MetricsCollector struct {
	agents map[core.AgentID]*AgentMetrics
	runs   RunMetrics
	mu     sync.RWMutex
}

// AgentMetrics holds agent-level metrics.
type AgentMetrics struct {
	Agent         core.AgentID  `json:"agent"`
	Invocations   int           `json:"invocations"`
	Successes     int           `json:"successes"`
	Recoverable   int           `json:"recoverable_failures"`
	Timeouts      int           `json:"timeouts"`
	Fatal         int           `json:"fatal_failures"`
	Aborted       int           `json:"aborted"`
	Exhausted     int           `json:"permanently_failed"`
	TotalDuration time.Duration `json:"total_duration"`
	AvgDuration   time.Duration `json:"avg_duration"`
}

// RunMetrics holds run-level counters.
type RunMetrics struct {
	Started int `json:"started"`
	Done    int `json:"done"`
	Failed  int `json:"failed"`
	Blocked int `json:"blocked"`
	Batches int `json:"batches"`
}

// MetricsSnapshot is a copy of the collected metrics.
type MetricsSnapshot struct {
	Runs   RunMetrics     `json:"runs"`
	Agents []AgentMetrics `json:"agents"`
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{agents: make(map[core.AgentID]*AgentMetrics)}
}

// RunStarted counts a started run.
func (m *MetricsCollector) RunStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs.Started++
}

// BatchDispatched counts a dispatch batch.
func (m *MetricsCollector) BatchDispatched() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs.Batches++
}

// RunFinished counts a run by terminal status.
func (m *MetricsCollector) RunFinished(status core.WorkflowStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch status {
	case core.StatusDone:
		m.runs.Done++
	case core.StatusFailed:
		m.runs.Failed++
	case core.StatusBlocked:
		m.runs.Blocked++
	}
}

// RecordOutcome records one attempt.
func (m *MetricsCollector) RecordOutcome(o core.Outcome, merged core.MergeResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	am, ok := m.agents[o.Agent]
	if !ok {
		am = &AgentMetrics{Agent: o.Agent}
		m.agents[o.Agent] = am
	}
	am.Invocations++
	am.TotalDuration += o.Duration
	am.AvgDuration = am.TotalDuration / time.Duration(am.Invocations)

	switch o.Kind {
	case core.OutcomeSuccess:
		am.Successes++
	case core.OutcomeRecoverable:
		am.Recoverable++
	case core.OutcomeTimeout:
		am.Timeouts++
	case core.OutcomeFatal:
		am.Fatal++
	case core.OutcomeAborted:
		am.Aborted++
	}
	if merged.PermanentlyFailed {
		am.Exhausted++
	}
}

// Snapshot returns a copy of the metrics with agents sorted by id.
func (m *MetricsCollector) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := MetricsSnapshot{Runs: m.runs, Agents: make([]AgentMetrics, 0, len(m.agents))}
	for _, am := range m.agents {
		out.Agents = append(out.Agents, *am)
	}
	sort.Slice(out.Agents, func(i, j int) bool { return out.Agents[i].Agent < out.Agents[j].Agent })
	return out
}
