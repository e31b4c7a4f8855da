package agents

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/opentalon/idpportal/internal/agents/rest"
	"github.com/opentalon/idpportal/internal/orchestrator"
	"github.com/opentalon/idpportal/internal/provider"
)

const rancherCharter = `You are a Rancher multi-cluster agent for the IDP Portal.
You list managed clusters, report cluster status and events, and scale node pools.
Check cluster status before scaling a node pool.`

// NewRancher builds the rancher agent against the v3 API.
func NewRancher(env *orchestrator.Env) (orchestrator.Handler, error) {
	cfg := backends(env).Rancher
	if cfg.URL == "" || cfg.Token == "" {
		return nil, errors.New("rancher url and token are required")
	}
	return newRancher(env, endpointClient("rancher", cfg)), nil
}

func newRancher(env *orchestrator.Env, c *rest.Client) *orchestrator.ToolAgent {
	r := &rancherTools{c: c}
	manifest := orchestrator.CapabilityManifest{
		Name:        "rancher",
		Description: "Manages Rancher clusters: status, node pools and events",
		Capabilities: []orchestrator.Capability{
			{Name: "cluster_overview", Description: "List clusters and report status and events",
				Tools: []string{"list_clusters", "get_cluster_status", "get_cluster_events"}},
			{Name: "capacity", Description: "Scale node pools", Tools: []string{"scale_nodepool"}},
		},
	}
	cluster := required(str("cluster_id", "Cluster id, e.g. c-abc12"))
	return orchestrator.NewToolAgent(env, manifest, rancherCharter,
		orchestrator.NewTool("list_clusters", "List clusters managed by Rancher", nil, r.list),
		orchestrator.NewTool("get_cluster_status", "Get the status of a cluster", []provider.Parameter{cluster}, r.status),
		orchestrator.NewTool("scale_nodepool", "Set the node count of a node pool", []provider.Parameter{
			cluster, required(str("nodepool_id", "Node pool id")), required(integer("quantity", "Node count")),
		}, r.scale),
		orchestrator.NewTool("get_cluster_events", "Get recent events of a cluster", []provider.Parameter{
			cluster, integer("limit", "Maximum events, default 20"),
		}, r.events),
	)
}

type rancherTools struct {
	c *rest.Client
}

type rancherCluster struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	State     string `json:"state"`
	Driver    string `json:"driver"`
	NodeCount int    `json:"nodeCount"`
	Version   struct {
		GitVersion string `json:"gitVersion"`
	} `json:"version"`
	Allocatable struct {
		CPU    string `json:"cpu"`
		Memory string `json:"memory"`
	} `json:"allocatable"`
	Conditions []condition `json:"conditions"`
}

func clusterPath(args map[string]any) string {
	return "/v3/clusters/" + url.PathEscape(orchestrator.String(args, "cluster_id", ""))
}

func (r *rancherTools) list(ctx context.Context, _ map[string]any) (any, error) {
	var res struct {
		Data []rancherCluster `json:"data"`
	}
	if err := r.c.Get(ctx, "/v3/clusters", nil, &res); err != nil {
		return nil, err
	}
	type cluster struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		State      string `json:"state"`
		Provider   string `json:"provider"`
		K8sVersion string `json:"k8s_version"`
		NodeCount  int    `json:"node_count"`
	}
	out := make([]cluster, 0, len(res.Data))
	for _, c := range res.Data {
		out = append(out, cluster{ID: c.ID, Name: c.Name, State: c.State, Provider: c.Driver,
			K8sVersion: c.Version.GitVersion, NodeCount: c.NodeCount})
	}
	return out, nil
}

func (r *rancherTools) status(ctx context.Context, args map[string]any) (any, error) {
	var c rancherCluster
	if err := r.c.Get(ctx, clusterPath(args), nil, &c); err != nil {
		return nil, err
	}
	conds := make([]condition, 0, 5)
	for i, cd := range c.Conditions {
		if i == 5 {
			break
		}
		conds = append(conds, condition{Type: cd.Type, Status: cd.Status})
	}
	return map[string]any{
		"id":          c.ID,
		"name":        c.Name,
		"state":       c.State,
		"provider":    c.Driver,
		"k8s_version": c.Version.GitVersion,
		"node_count":  c.NodeCount,
		"cpu":         c.Allocatable.CPU,
		"memory":      c.Allocatable.Memory,
		"conditions":  conds,
	}, nil
}

func (r *rancherTools) scale(ctx context.Context, args map[string]any) (any, error) {
	qty, err := orchestrator.Int(args, "quantity", 0)
	if err != nil {
		return nil, err
	}
	if qty < 0 {
		return nil, fmt.Errorf("quantity must not be negative, got %d", qty)
	}
	pool := orchestrator.String(args, "nodepool_id", "")
	if err := r.c.Put(ctx, clusterPath(args)+"/nodePools/"+url.PathEscape(pool), map[string]any{"quantity": qty}, nil); err != nil {
		return nil, err
	}
	return map[string]any{
		"cluster_id":   orchestrator.String(args, "cluster_id", ""),
		"nodepool_id":  pool,
		"new_quantity": qty,
		"status":       "scaling",
	}, nil
}

func (r *rancherTools) events(ctx context.Context, args map[string]any) (any, error) {
	limit, err := orchestrator.Int(args, "limit", 20)
	if err != nil {
		return nil, err
	}
	q := url.Values{"limit": {strconv.Itoa(limit)}, "sort": {"created"}, "order": {"desc"}}
	var res struct {
		Data []struct {
			EventType string `json:"eventType"`
			Reason    string `json:"reason"`
			Message   string `json:"message"`
			Created   string `json:"created"`
			Source    struct {
				Component string `json:"component"`
			} `json:"source"`
		} `json:"data"`
	}
	if err := r.c.Get(ctx, clusterPath(args)+"/events", q, &res); err != nil {
		return nil, err
	}
	type event struct {
		Type    string `json:"type"`
		Reason  string `json:"reason"`
		Message string `json:"message"`
		Source  string `json:"source"`
		Created string `json:"created"`
	}
	out := make([]event, 0, len(res.Data))
	for _, e := range res.Data {
		out = append(out, event{Type: e.EventType, Reason: e.Reason, Message: e.Message, Source: e.Source.Component, Created: e.Created})
	}
	return out, nil
}
