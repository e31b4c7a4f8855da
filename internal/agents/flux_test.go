package agents

import (
	"testing"
	"time"

	"github.com/opentalon/idpportal/internal/config"
)

func TestFluxReconcileAnnotates(t *testing.T) {
	fk := &fakeKubectl{}
	now := func() time.Time { return time.Unix(1700000000, 0) }
	tools := toolMap(t, newFlux(nil, fk.kubectl(), config.FluxConfig{Namespace: "flux-system"}, now))

	out := call(t, tools, "reconcile_kustomization", map[string]any{"name": "apps"})
	want := "annotate kustomizations.kustomize.toolkit.fluxcd.io apps -n flux-system reconcile.fluxcd.io/requestedAt=1700000000 --overwrite"
	if got := fk.last().args; got != want {
		t.Errorf("args = %q\nwant   %q", got, want)
	}
	if m := out.(map[string]any); m["status"] != "reconciliation_triggered" {
		t.Errorf("out = %v", m)
	}
}

func TestFluxSuspendResume(t *testing.T) {
	fk := &fakeKubectl{}
	tools := toolMap(t, newFlux(nil, fk.kubectl(), config.FluxConfig{Namespace: "flux-system"}, time.Now))

	call(t, tools, "suspend_kustomization", map[string]any{"name": "apps", "namespace": "team-a"})
	if got := fk.last().args; got != `patch kustomizations.kustomize.toolkit.fluxcd.io apps -n team-a --type=merge -p {"spec":{"suspend":true}}` {
		t.Errorf("suspend args = %q", got)
	}
	out := call(t, tools, "resume_kustomization", map[string]any{"name": "apps"})
	if got := fk.last().args; got != `patch kustomizations.kustomize.toolkit.fluxcd.io apps -n flux-system --type=merge -p {"spec":{"suspend":false}}` {
		t.Errorf("resume args = %q", got)
	}
	if m := out.(map[string]any); m["status"] != "resumed" {
		t.Errorf("out = %v", m)
	}
}

func TestFluxListAllNamespaces(t *testing.T) {
	fk := &fakeKubectl{outputs: map[string]string{"get kustomizations": `{"items":[
		{"metadata":{"name":"apps","namespace":"flux-system"},"spec":{"path":"./apps","suspend":true,"sourceRef":{"name":"fleet"}},
		 "status":{"conditions":[{"type":"Ready","status":"False"}]}}]}`}}
	tools := toolMap(t, newFlux(nil, fk.kubectl(), config.FluxConfig{Namespace: "flux-system"}, time.Now))

	items := asJSON(t, call(t, tools, "list_kustomizations", nil)).([]any)
	if got := fk.last().args; got != "get kustomizations.kustomize.toolkit.fluxcd.io -A -o json" {
		t.Errorf("args = %q", got)
	}
	k := items[0].(map[string]any)
	if k["ready"] != "False" || k["suspended"] != true || k["source"] != "fleet" {
		t.Errorf("kustomization = %v", k)
	}
}

func TestFluxSourceStatus(t *testing.T) {
	fk := &fakeKubectl{outputs: map[string]string{"get gitrepositories": `{"metadata":{"name":"fleet"},
		"spec":{"url":"https://github.com/acme/fleet","ref":{"branch":"main"}},
		"status":{"conditions":[{"type":"Ready","status":"True"}],"artifact":{"revision":"main@sha1:abc"}}}`}}
	tools := toolMap(t, newFlux(nil, fk.kubectl(), config.FluxConfig{Namespace: "flux-system"}, time.Now))

	m := call(t, tools, "get_source_status", map[string]any{"name": "fleet"}).(map[string]any)
	if m["branch"] != "main" || m["ready"] != "True" || m["last_revision"] != "main@sha1:abc" {
		t.Errorf("out = %v", m)
	}
}
