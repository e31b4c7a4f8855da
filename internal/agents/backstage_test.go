package agents

import (
	"testing"

	"github.com/opentalon/idpportal/internal/config"
)

func TestParseEntityRef(t *testing.T) {
	tests := []struct {
		ref                   string
		kind, namespace, name string
		wantErr               bool
	}{
		{ref: "component:default/shop", kind: "component", namespace: "default", name: "shop"},
		{ref: "api:payments/billing-api", kind: "api", namespace: "payments", name: "billing-api"},
		{ref: "component:shop", kind: "component", namespace: "default", name: "shop"},
		{ref: "shop", wantErr: true},
		{ref: "component:team/", wantErr: true},
	}
	for _, tt := range tests {
		kind, ns, name, err := parseEntityRef(tt.ref)
		if (err != nil) != tt.wantErr {
			t.Errorf("%q: err = %v", tt.ref, err)
			continue
		}
		if kind != tt.kind || ns != tt.namespace || name != tt.name {
			t.Errorf("%q = %q %q %q", tt.ref, kind, ns, name)
		}
	}
}

func TestBackstageListEntities(t *testing.T) {
	b := newBackend(t, map[string]string{"GET /api/catalog/entities": `[{"kind":"Component","metadata":{"name":"shop","description":"storefront"},"spec":{"owner":"team-a"}}]`})
	tools := toolMap(t, newBackstage(nil, b.client("backstage")))

	entities := asJSON(t, call(t, tools, "list_catalog_entities", map[string]any{"filter_query": "spec.owner=team-a"})).([]any)
	e := entities[0].(map[string]any)
	if e["owner"] != "team-a" || e["namespace"] != "default" {
		t.Errorf("entity = %v", e)
	}
	if q := b.last(t).Query; q != "filter=kind%3DComponent%2Cspec.owner%3Dteam-a" {
		t.Errorf("query = %q", q)
	}
}

func TestBackstageScaffolder(t *testing.T) {
	b := newBackend(t, map[string]string{"POST /api/scaffolder/v2/tasks": `{"id":"task-1"}`})
	tools := toolMap(t, newBackstage(nil, b.client("backstage")))

	out := call(t, tools, "trigger_scaffolder_template", map[string]any{"template_name": "go-service", "parameters": map[string]any{"name": "orders"}})
	body := b.last(t).Body
	if body["templateRef"] != "template:default/go-service" || body["values"].(map[string]any)["name"] != "orders" {
		t.Errorf("body = %v", body)
	}
	if m := out.(map[string]any); m["task_id"] != "task-1" || m["status"] != "created" {
		t.Errorf("out = %v", m)
	}
}

func TestBackstageEntityDetails(t *testing.T) {
	b := newBackend(t, map[string]string{"GET /api/catalog/entities/by-name/component/default/shop": `{"kind":"Component","metadata":{"name":"shop"},"spec":{"lifecycle":"production"}}`})
	tools := toolMap(t, newBackstage(nil, b.client("backstage")))

	m := call(t, tools, "get_entity_details", map[string]any{"entity_ref": "component:default/shop"}).(map[string]any)
	if m["name"] != "shop" || m["spec"].(map[string]any)["lifecycle"] != "production" {
		t.Errorf("out = %v", m)
	}
}

func TestNewBackstageRequiresURL(t *testing.T) {
	if _, err := NewBackstage(envWith(config.BackendsConfig{})); err == nil {
		t.Error("expected error")
	}
}
