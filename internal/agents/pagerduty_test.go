package agents

import (
	"testing"

	"github.com/opentalon/idpportal/internal/config"
)

func TestPagerDutyListIncidents(t *testing.T) {
	b := newBackend(t, map[string]string{"GET /incidents": `{"incidents":[{"id":"P1","title":"db down","status":"triggered","urgency":"high","service":{"summary":"db"},"html_url":"u"}]}`})
	tools := toolMap(t, newPagerDuty(nil, b.client("pagerduty"), config.PagerDutyConfig{}))

	incidents := asJSON(t, call(t, tools, "list_incidents", map[string]any{"status": "triggered, acknowledged"})).([]any)
	if len(incidents) != 1 || incidents[0].(map[string]any)["service"] != "db" {
		t.Errorf("incidents = %v", incidents)
	}
	want := "limit=10&sort_by=created_at%3Adesc&statuses%5B%5D=triggered&statuses%5B%5D=acknowledged"
	if q := b.last(t).Query; q != want {
		t.Errorf("query = %q\nwant    %q", q, want)
	}
}

func TestPagerDutyWritesSendFrom(t *testing.T) {
	b := newBackend(t, map[string]string{"PUT /incidents/P1": `{}`})
	tools := toolMap(t, newPagerDuty(nil, b.client("pagerduty"), config.PagerDutyConfig{From: "oncall@example.com"}))

	out := call(t, tools, "acknowledge_incident", map[string]any{"incident_id": "P1"})
	req := b.last(t)
	if req.Header.Get("From") != "oncall@example.com" {
		t.Errorf("From = %q", req.Header.Get("From"))
	}
	if req.Body["incident"].(map[string]any)["status"] != "acknowledged" {
		t.Errorf("body = %v", req.Body)
	}
	if m := out.(map[string]any); m["status"] != "acknowledged" {
		t.Errorf("out = %v", m)
	}
}

func TestPagerDutyWriteWithoutFrom(t *testing.T) {
	b := newBackend(t, nil)
	tools := toolMap(t, newPagerDuty(nil, b.client("pagerduty"), config.PagerDutyConfig{}))
	if _, err := tools["resolve_incident"].Call(t.Context(), map[string]any{"incident_id": "P1"}); err == nil {
		t.Error("expected error without from address")
	}
	if len(b.requests) != 0 {
		t.Errorf("requests = %d", len(b.requests))
	}
}

func TestPagerDutyTriggerUsesDefaultService(t *testing.T) {
	b := newBackend(t, map[string]string{"POST /incidents": `{"incident":{"id":"P9","status":"triggered","html_url":"u"}}`})
	tools := toolMap(t, newPagerDuty(nil, b.client("pagerduty"), config.PagerDutyConfig{ServiceID: "SVC1", From: "a@b"}))

	out := call(t, tools, "trigger_incident", map[string]any{"title": "disk full"})
	inc := b.last(t).Body["incident"].(map[string]any)
	if inc["service"].(map[string]any)["id"] != "SVC1" || inc["urgency"] != "high" {
		t.Errorf("incident = %v", inc)
	}
	if m := out.(map[string]any); m["id"] != "P9" {
		t.Errorf("out = %v", m)
	}
	if _, err := tools["trigger_incident"].Call(t.Context(), map[string]any{"title": "x", "urgency": "urgent"}); err == nil {
		t.Error("expected error for invalid urgency")
	}
}
