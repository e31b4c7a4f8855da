package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "idpportal"

// Metrics holds the supervisor's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	runs          *prometheus.CounterVec
	decisions     *prometheus.CounterVec
	delegations   *prometheus.CounterVec
	toolCalls     *prometheus.CounterVec
	runDuration   prometheus.Histogram
	registrations *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Supervisor runs by outcome",
		}, []string{"outcome"}),
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Parsed supervisor decisions by kind",
		}, []string{"kind"}),
		delegations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delegations_total",
			Help:      "Handler invocations by agent and status",
		}, []string{"agent", "status"}),
		toolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool executions by agent, tool and status",
		}, []string{"agent", "tool", "status"}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a supervisor run",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		registrations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_registrations_total",
			Help:      "Handler constructor outcomes at startup",
		}, []string{"agent", "status"}),
	}
}

// RecordRun records a finished run. outcome is one of "completed",
// "truncated" or "error".
func (m *Metrics) RecordRun(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordDecision(kind string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordDelegation(agent string, err error) {
	if m == nil {
		return
	}
	m.delegations.WithLabelValues(agent, status(err)).Inc()
}

func (m *Metrics) RecordToolCall(agent, tool string, err error) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(agent, tool, status(err)).Inc()
}

func (m *Metrics) RecordRegistration(agent string, err error) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(agent, status(err)).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
