package agents

import (
	"context"
	"errors"
	"net/url"

	"github.com/opentalon/idpportal/internal/agents/rest"
	"github.com/opentalon/idpportal/internal/orchestrator"
	"github.com/opentalon/idpportal/internal/provider"
)

const argocdCharter = `You are an ArgoCD operations agent for the IDP Portal.
You manage GitOps deployments: list applications, report sync and health status, trigger syncs and rollbacks, and show deployment history.
Always check the current status and history of an application before a rollback.`

// NewArgoCD builds the argocd agent against the ArgoCD REST API.
func NewArgoCD(env *orchestrator.Env) (orchestrator.Handler, error) {
	cfg := backends(env).ArgoCD
	if cfg.URL == "" || cfg.Token == "" {
		return nil, errors.New("argocd url and token are required")
	}
	return newArgoCD(env, endpointClient("argocd", cfg)), nil
}

func newArgoCD(env *orchestrator.Env, c *rest.Client) *orchestrator.ToolAgent {
	a := &argocdTools{c: c}
	manifest := orchestrator.CapabilityManifest{
		Name:        "argocd",
		Description: "Manages ArgoCD applications: sync status, health, deployments and rollbacks",
		Capabilities: []orchestrator.Capability{
			{Name: "application_status", Description: "List applications and report sync and health",
				Tools: []string{"list_applications", "get_application_status", "get_deployment_history"}},
			{Name: "deployment_control", Description: "Sync and roll back applications",
				Tools: []string{"sync_application", "rollback_application"}},
		},
	}
	app := required(str("app_name", "ArgoCD application name"))
	return orchestrator.NewToolAgent(env, manifest, argocdCharter,
		orchestrator.NewTool("list_applications", "List ArgoCD applications, optionally filtered by project", []provider.Parameter{
			str("project", "ArgoCD project"),
		}, a.list),
		orchestrator.NewTool("get_application_status", "Get detailed status of an application", []provider.Parameter{app}, a.status),
		orchestrator.NewTool("sync_application", "Trigger a sync for an application", []provider.Parameter{
			app, boolean("prune", "Prune resources no longer in git"),
		}, a.sync),
		orchestrator.NewTool("rollback_application", "Roll back an application to a history entry", []provider.Parameter{
			app, required(integer("revision_id", "History id from get_deployment_history")),
		}, a.rollback),
		orchestrator.NewTool("get_deployment_history", "Get deployment history of an application", []provider.Parameter{app}, a.history),
	)
}

type argocdTools struct {
	c *rest.Client
}

type argoSource struct {
	RepoURL        string `json:"repoURL"`
	Path           string `json:"path"`
	TargetRevision string `json:"targetRevision"`
}

type argoApp struct {
	Metadata objectMeta `json:"metadata"`
	Spec     struct {
		Source      argoSource `json:"source"`
		Destination struct {
			Namespace string `json:"namespace"`
		} `json:"destination"`
	} `json:"spec"`
	Status struct {
		Sync struct {
			Status   string `json:"status"`
			Revision string `json:"revision"`
		} `json:"sync"`
		Health struct {
			Status string `json:"status"`
		} `json:"health"`
		History []struct {
			ID         int        `json:"id"`
			Revision   string     `json:"revision"`
			DeployedAt string     `json:"deployedAt"`
			Source     argoSource `json:"source"`
		} `json:"history"`
	} `json:"status"`
}

func appPath(args map[string]any) string {
	return "/api/v1/applications/" + url.PathEscape(orchestrator.String(args, "app_name", ""))
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

func (a *argocdTools) list(ctx context.Context, args map[string]any) (any, error) {
	q := url.Values{}
	if p := orchestrator.String(args, "project", ""); p != "" {
		q.Set("projects", p)
	}
	var list struct {
		Items []argoApp `json:"items"`
	}
	if err := a.c.Get(ctx, "/api/v1/applications", q, &list); err != nil {
		return nil, err
	}
	type application struct {
		Name      string `json:"name"`
		Namespace string `json:"namespace"`
		Status    string `json:"status"`
		Health    string `json:"health"`
		Repo      string `json:"repo"`
	}
	out := make([]application, 0, len(list.Items))
	for _, app := range list.Items {
		out = append(out, application{
			Name:      app.Metadata.Name,
			Namespace: app.Spec.Destination.Namespace,
			Status:    orUnknown(app.Status.Sync.Status),
			Health:    orUnknown(app.Status.Health.Status),
			Repo:      app.Spec.Source.RepoURL,
		})
	}
	return out, nil
}

func (a *argocdTools) status(ctx context.Context, args map[string]any) (any, error) {
	var app argoApp
	if err := a.c.Get(ctx, appPath(args), nil, &app); err != nil {
		return nil, err
	}
	return map[string]any{
		"name":            app.Metadata.Name,
		"sync_status":     orUnknown(app.Status.Sync.Status),
		"health_status":   orUnknown(app.Status.Health.Status),
		"revision":        app.Status.Sync.Revision,
		"repo":            app.Spec.Source.RepoURL,
		"path":            app.Spec.Source.Path,
		"target_revision": app.Spec.Source.TargetRevision,
	}, nil
}

func (a *argocdTools) sync(ctx context.Context, args map[string]any) (any, error) {
	prune, err := orchestrator.Bool(args, "prune", false)
	if err != nil {
		return nil, err
	}
	if err := a.c.Post(ctx, appPath(args)+"/sync", map[string]any{"prune": prune}, nil); err != nil {
		return nil, err
	}
	return map[string]any{"status": "sync_triggered", "app": orchestrator.String(args, "app_name", "")}, nil
}

func (a *argocdTools) rollback(ctx context.Context, args map[string]any) (any, error) {
	id, err := orchestrator.Int(args, "revision_id", 0)
	if err != nil {
		return nil, err
	}
	if err := a.c.Post(ctx, appPath(args)+"/rollback", map[string]any{"id": id}, nil); err != nil {
		return nil, err
	}
	return map[string]any{"status": "rollback_triggered", "app": orchestrator.String(args, "app_name", ""), "revision": id}, nil
}

func (a *argocdTools) history(ctx context.Context, args map[string]any) (any, error) {
	var app argoApp
	if err := a.c.Get(ctx, appPath(args), nil, &app); err != nil {
		return nil, err
	}
	type deployment struct {
		ID         int    `json:"id"`
		Revision   string `json:"revision"`
		DeployedAt string `json:"deployed_at"`
		Source     string `json:"source"`
	}
	out := make([]deployment, 0, len(app.Status.History))
	for _, h := range app.Status.History {
		rev := h.Revision
		if len(rev) > 12 {
			rev = rev[:12]
		}
		out = append(out, deployment{ID: h.ID, Revision: rev, DeployedAt: h.DeployedAt, Source: h.Source.RepoURL})
	}
	return out, nil
}
