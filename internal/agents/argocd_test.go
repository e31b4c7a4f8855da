package agents

import (
	"errors"
	"testing"

	"github.com/opentalon/idpportal/internal/agents/rest"
	"github.com/opentalon/idpportal/internal/config"
	"github.com/opentalon/idpportal/internal/orchestrator"
)

const argoAppJSON = `{"metadata":{"name":"shop"},
 "spec":{"source":{"repoURL":"https://github.com/acme/shop","path":"deploy","targetRevision":"HEAD"},"destination":{"namespace":"shop"}},
 "status":{"sync":{"status":"OutOfSync","revision":"0123456789abcdef"},"health":{"status":"Degraded"},
  "history":[{"id":4,"revision":"0123456789abcdef0123","deployedAt":"2026-10-01T10:00:00Z","source":{"repoURL":"https://github.com/acme/shop"}}]}}`

func TestArgoCDListApplications(t *testing.T) {
	b := newBackend(t, map[string]string{"GET /api/v1/applications": `{"items":[` + argoAppJSON + `,{"metadata":{"name":"bare"},"spec":{},"status":{}}]}`})
	tools := toolMap(t, newArgoCD(nil, b.client("argocd", rest.WithBearer("tok"))))

	apps := asJSON(t, call(t, tools, "list_applications", map[string]any{"project": "retail"})).([]any)
	req := b.last(t)
	if req.Query != "projects=retail" || req.Header.Get("Authorization") != "Bearer tok" {
		t.Errorf("request = %+v", req)
	}
	if len(apps) != 2 {
		t.Fatalf("apps = %v", apps)
	}
	if a := apps[0].(map[string]any); a["status"] != "OutOfSync" || a["health"] != "Degraded" || a["namespace"] != "shop" {
		t.Errorf("app = %v", a)
	}
	if a := apps[1].(map[string]any); a["status"] != "Unknown" || a["health"] != "Unknown" {
		t.Errorf("bare app = %v", a)
	}
}

func TestArgoCDSyncAndRollback(t *testing.T) {
	b := newBackend(t, map[string]string{
		"POST /api/v1/applications/shop/sync":     `{}`,
		"POST /api/v1/applications/shop/rollback": `{}`,
	})
	tools := toolMap(t, newArgoCD(nil, b.client("argocd")))

	call(t, tools, "sync_application", map[string]any{"app_name": "shop", "prune": true})
	if req := b.last(t); req.Body["prune"] != true {
		t.Errorf("sync body = %v", req.Body)
	}
	out := call(t, tools, "rollback_application", map[string]any{"app_name": "shop", "revision_id": float64(4)})
	if req := b.last(t); req.Body["id"] != float64(4) {
		t.Errorf("rollback body = %v", req.Body)
	}
	if m := out.(map[string]any); m["status"] != "rollback_triggered" {
		t.Errorf("out = %v", m)
	}
}

func TestArgoCDHistoryTruncatesRevision(t *testing.T) {
	b := newBackend(t, map[string]string{"GET /api/v1/applications/shop": argoAppJSON})
	tools := toolMap(t, newArgoCD(nil, b.client("argocd")))

	history := asJSON(t, call(t, tools, "get_deployment_history", map[string]any{"app_name": "shop"})).([]any)
	if h := history[0].(map[string]any); h["revision"] != "0123456789ab" || h["id"] != float64(4) {
		t.Errorf("history = %v", h)
	}
}

func TestArgoCDErrorsAreClassified(t *testing.T) {
	b := newBackend(t, map[string]string{"GET /api/v1/applications/flaky": "503|unavailable"})
	tools := toolMap(t, newArgoCD(nil, b.client("argocd")))

	tests := []struct {
		app       string
		retryable bool
	}{
		{"flaky", true},
		{"missing", false},
	}
	for _, tt := range tests {
		_, err := tools["get_application_status"].Call(t.Context(), map[string]any{"app_name": tt.app})
		var te *orchestrator.ToolError
		if !errors.As(err, &te) {
			t.Fatalf("%s: err = %v", tt.app, err)
		}
		if te.Retryable != tt.retryable {
			t.Errorf("%s: retryable = %v, want %v", tt.app, te.Retryable, tt.retryable)
		}
	}
}

func TestNewArgoCDRequiresCredentials(t *testing.T) {
	if _, err := NewArgoCD(envWith(config.BackendsConfig{ArgoCD: config.EndpointConfig{URL: "https://argo"}})); err == nil {
		t.Error("expected error without token")
	}
	h, err := NewArgoCD(envWith(config.BackendsConfig{ArgoCD: config.EndpointConfig{URL: "https://argo", Token: "t"}}))
	if err != nil || h.Manifest().Name != "argocd" {
		t.Errorf("h = %v, err = %v", h, err)
	}
}
