package api

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hugo-lorenzo-mato/marketflow/internal/events"
)

const metricsNamespace = "marketflow"

// Metrics exports supervisor activity in Prometheus format. It is fed by
// the event bus.
type Metrics struct {
	registry      *prometheus.Registry
	runsStarted   prometheus.Counter
	runsActive    prometheus.Gauge
	runsFinished  *prometheus.CounterVec
	runDuration   prometheus.Histogram
	dispatched    *prometheus.CounterVec
	outcomes      *prometheus.CounterVec
	agentDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors on a private registry. bus may be nil;
// when set, its drop counter is exported too.
func NewMetrics(bus *events.EventBus) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "runs_started_total",
			Help:      "Runs started or resumed.",
		}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "runs_active",
			Help:      "Runs currently being driven.",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "runs_finished_total",
			Help:      "Runs that reached a terminal status.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of finished runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "agent_dispatches_total",
			Help:      "Agent attempts dispatched.",
		}, []string{"agent"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "agent_outcomes_total",
			Help:      "Merged agent attempt outcomes.",
		}, []string{"agent", "outcome"}),
		agentDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "agent_duration_seconds",
			Help:      "Duration of agent attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"agent"}),
	}

	m.registry.MustRegister(
		m.runsStarted, m.runsActive, m.runsFinished, m.runDuration,
		m.dispatched, m.outcomes, m.agentDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if bus != nil {
		m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped by slow bus subscribers.",
		}, func() float64 { return float64(bus.DroppedCount()) }))
	}
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Observe updates the collectors from one event.
func (m *Metrics) Observe(e events.Event) {
	switch ev := e.(type) {
	case events.RunStartedEvent:
		m.runsStarted.Inc()
		m.runsActive.Inc()
	case events.RunFinishedEvent:
		m.runsActive.Dec()
		m.runsFinished.WithLabelValues(ev.Status).Inc()
		m.runDuration.Observe(ev.Duration.Seconds())
	case events.AgentDispatchedEvent:
		m.dispatched.WithLabelValues(ev.Agent).Inc()
	case events.AgentOutcomeEvent:
		m.outcomes.WithLabelValues(ev.Agent, ev.Outcome).Inc()
		if ev.Duration > 0 {
			m.agentDuration.WithLabelValues(ev.Agent).Observe(ev.Duration.Seconds())
		}
	}
}

// Run consumes events until ch closes or ctx is done.
func (m *Metrics) Run(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			m.Observe(e)
		}
	}
}
