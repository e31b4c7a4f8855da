package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
	metrics:
		for _, m := range fam.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metrics
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordRun("completed", 2*time.Second)
	m.RecordDecision("delegate")
	m.RecordDecision("delegate")
	m.RecordDelegation("kubernetes", nil)
	m.RecordDelegation("kubernetes", errors.New("boom"))
	m.RecordToolCall("kubernetes", "list_pods", nil)
	m.RecordRegistration("vault", errors.New("missing token"))

	if got := counterValue(t, reg, "idpportal_decisions_total", map[string]string{"kind": "delegate"}); got != 2 {
		t.Errorf("decisions{delegate} = %v, want 2", got)
	}
	if got := counterValue(t, reg, "idpportal_delegations_total", map[string]string{"agent": "kubernetes", "status": "error"}); got != 1 {
		t.Errorf("delegations{error} = %v, want 1", got)
	}
	if got := counterValue(t, reg, "idpportal_handler_registrations_total", map[string]string{"status": "error"}); got != 1 {
		t.Errorf("registrations{error} = %v, want 1", got)
	}
	if got := counterValue(t, reg, "idpportal_runs_total", map[string]string{"outcome": "completed"}); got != 1 {
		t.Errorf("runs{completed} = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordRun("error", time.Second)
	m.RecordDecision("terminate")
	m.RecordDelegation("x", nil)
	m.RecordToolCall("x", "y", nil)
	m.RecordRegistration("x", nil)
}
