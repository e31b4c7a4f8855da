package agents

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/opentalon/idpportal/internal/agents/rest"
	"github.com/opentalon/idpportal/internal/orchestrator"
	"github.com/opentalon/idpportal/internal/provider"
)

const backstageCharter = `You are a Backstage developer portal agent for the IDP Portal.
You browse and search the service catalog, describe entities and run scaffolder templates to create new components.
Entity references have the form kind:namespace/name.`

// NewBackstage builds the backstage agent. The token is optional.
func NewBackstage(env *orchestrator.Env) (orchestrator.Handler, error) {
	cfg := backends(env).Backstage
	if cfg.URL == "" {
		return nil, errors.New("backstage url is required")
	}
	return newBackstage(env, endpointClient("backstage", cfg)), nil
}

func newBackstage(env *orchestrator.Env, c *rest.Client) *orchestrator.ToolAgent {
	b := &backstageTools{c: c}
	manifest := orchestrator.CapabilityManifest{
		Name:        "backstage",
		Description: "Browses the Backstage service catalog and runs scaffolder templates",
		Capabilities: []orchestrator.Capability{
			{Name: "catalog", Description: "List, search and describe catalog entities",
				Tools: []string{"list_catalog_entities", "get_entity_details", "search_catalog"}},
			{Name: "scaffolding", Description: "Create components from templates", Tools: []string{"trigger_scaffolder_template"}},
		},
	}
	return orchestrator.NewToolAgent(env, manifest, backstageCharter,
		orchestrator.NewTool("list_catalog_entities", "List catalog entities of a kind", []provider.Parameter{
			str("kind", "Entity kind, default Component"),
			str("filter_query", "Additional filter, e.g. spec.owner=team-a"),
		}, b.list),
		orchestrator.NewTool("get_entity_details", "Get an entity by reference", []provider.Parameter{
			required(str("entity_ref", "Reference as kind:namespace/name")),
		}, b.entity),
		orchestrator.NewTool("trigger_scaffolder_template", "Run a scaffolder template", []provider.Parameter{
			required(str("template_name", "Template name in the default namespace")),
			object("parameters", "Template input values"),
		}, b.scaffold),
		orchestrator.NewTool("search_catalog", "Full text search across the catalog", []provider.Parameter{
			required(str("query", "Search term")),
		}, b.search),
	)
}

type backstageTools struct {
	c *rest.Client
}

type backstageEntity struct {
	Kind     string `json:"kind"`
	Metadata struct {
		Name        string            `json:"name"`
		Namespace   string            `json:"namespace"`
		Description string            `json:"description"`
		Annotations map[string]string `json:"annotations"`
	} `json:"metadata"`
	Spec      map[string]any `json:"spec"`
	Relations []any          `json:"relations"`
}

// parseEntityRef splits kind:namespace/name. The namespace defaults to
// "default".
func parseEntityRef(ref string) (kind, namespace, name string, err error) {
	kind, remainder, ok := strings.Cut(ref, ":")
	if !ok || kind == "" || remainder == "" {
		return "", "", "", fmt.Errorf("entity_ref %q must have the form kind:namespace/name", ref)
	}
	namespace, name, ok = strings.Cut(remainder, "/")
	if !ok {
		namespace, name = "default", remainder
	}
	if name == "" {
		return "", "", "", fmt.Errorf("entity_ref %q has no name", ref)
	}
	return kind, namespace, name, nil
}

func (b *backstageTools) list(ctx context.Context, args map[string]any) (any, error) {
	filter := "kind=" + orchestrator.String(args, "kind", "Component")
	if f := orchestrator.String(args, "filter_query", ""); f != "" {
		filter += "," + f
	}
	var entities []backstageEntity
	if err := b.c.Get(ctx, "/api/catalog/entities", url.Values{"filter": {filter}}, &entities); err != nil {
		return nil, err
	}
	type entity struct {
		Name        string `json:"name"`
		Kind        string `json:"kind"`
		Namespace   string `json:"namespace"`
		Description string `json:"description"`
		Owner       string `json:"owner"`
	}
	out := make([]entity, 0, len(entities))
	for _, e := range entities {
		ns := e.Metadata.Namespace
		if ns == "" {
			ns = "default"
		}
		owner, _ := e.Spec["owner"].(string)
		out = append(out, entity{Name: e.Metadata.Name, Kind: e.Kind, Namespace: ns, Description: e.Metadata.Description, Owner: owner})
	}
	return out, nil
}

func (b *backstageTools) entity(ctx context.Context, args map[string]any) (any, error) {
	kind, ns, name, err := parseEntityRef(orchestrator.String(args, "entity_ref", ""))
	if err != nil {
		return nil, err
	}
	var e backstageEntity
	path := "/api/catalog/entities/by-name/" + url.PathEscape(kind) + "/" + url.PathEscape(ns) + "/" + url.PathEscape(name)
	if err := b.c.Get(ctx, path, nil, &e); err != nil {
		return nil, err
	}
	return map[string]any{
		"name":        e.Metadata.Name,
		"kind":        e.Kind,
		"description": e.Metadata.Description,
		"annotations": e.Metadata.Annotations,
		"spec":        e.Spec,
		"relations":   e.Relations,
	}, nil
}

func (b *backstageTools) scaffold(ctx context.Context, args map[string]any) (any, error) {
	values, _ := args["parameters"].(map[string]any)
	if values == nil {
		values = map[string]any{}
	}
	body := map[string]any{
		"templateRef": "template:default/" + orchestrator.String(args, "template_name", ""),
		"values":      values,
	}
	var res struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := b.c.Post(ctx, "/api/scaffolder/v2/tasks", body, &res); err != nil {
		return nil, err
	}
	status := res.Status
	if status == "" {
		status = "created"
	}
	return map[string]any{"task_id": res.ID, "status": status}, nil
}

func (b *backstageTools) search(ctx context.Context, args map[string]any) (any, error) {
	var res struct {
		Results []struct {
			Type     string `json:"type"`
			Document struct {
				Title    string `json:"title"`
				Location string `json:"location"`
			} `json:"document"`
		} `json:"results"`
	}
	if err := b.c.Get(ctx, "/api/search/query", url.Values{"term": {orchestrator.String(args, "query", "")}}, &res); err != nil {
		return nil, err
	}
	type hit struct {
		Title    string `json:"title"`
		Type     string `json:"type"`
		Location string `json:"location"`
	}
	results := res.Results
	if len(results) > 10 {
		results = results[:10]
	}
	out := make([]hit, 0, len(results))
	for _, r := range results {
		out = append(out, hit{Title: r.Document.Title, Type: r.Type, Location: r.Document.Location})
	}
	return out, nil
}
