package agents

import (
	"context"
	"fmt"
	"strconv"

	"github.com/opentalon/idpportal/internal/agents/kube"
	"github.com/opentalon/idpportal/internal/orchestrator"
	"github.com/opentalon/idpportal/internal/provider"
)

const kubernetesCharter = `You are a Kubernetes operations agent for the IDP Portal.
You inspect workloads directly on the cluster: pods, services, namespaces, logs and events, and you can scale deployments.
Check the current state of a deployment before scaling it, and report namespaces explicitly.`

// NewKubernetes builds the kubernetes agent. It needs a kubectl binary.
func NewKubernetes(env *orchestrator.Env) (orchestrator.Handler, error) {
	kc, err := kube.New(backends(env).Kubernetes)
	if err != nil {
		return nil, err
	}
	return newKubernetes(env, kc), nil
}

func newKubernetes(env *orchestrator.Env, kc *kube.Kubectl) *orchestrator.ToolAgent {
	k := &kubernetesTools{kc: kc}
	manifest := orchestrator.CapabilityManifest{
		Name:        "kubernetes",
		Description: "Manages Kubernetes clusters directly: pods, services, namespaces, logs, deployment scaling and events",
		Capabilities: []orchestrator.Capability{
			{Name: "workload_inspection", Description: "Inspect pods, logs and events", Tools: []string{"list_pods", "get_pod_status", "get_logs", "get_events"}},
			{Name: "cluster_discovery", Description: "List namespaces and services", Tools: []string{"list_namespaces", "list_services"}},
			{Name: "scaling", Description: "Scale deployments", Tools: []string{"scale_deployment"}},
		},
	}
	ns := str("namespace", "Namespace, default \"default\"")
	return orchestrator.NewToolAgent(env, manifest, kubernetesCharter,
		orchestrator.NewTool("list_pods", "List pods in a namespace, optionally filtered by label selector", []provider.Parameter{
			ns, str("label_selector", "Label selector, e.g. app=web"),
		}, k.listPods),
		orchestrator.NewTool("get_pod_status", "Get detailed status of a pod including container states", []provider.Parameter{
			required(str("pod_name", "Pod name")), ns,
		}, k.podStatus),
		orchestrator.NewTool("list_services", "List services in a namespace", []provider.Parameter{ns}, k.listServices),
		orchestrator.NewTool("list_namespaces", "List all namespaces", nil, k.listNamespaces),
		orchestrator.NewTool("get_logs", "Get recent logs from a pod", []provider.Parameter{
			required(str("pod_name", "Pod name")), ns,
			str("container", "Container name for multi-container pods"),
			integer("tail_lines", "Number of lines, default 100"),
		}, k.logs),
		orchestrator.NewTool("scale_deployment", "Scale a deployment to a number of replicas", []provider.Parameter{
			required(str("deployment_name", "Deployment name")),
			required(integer("replicas", "Desired replica count")), ns,
		}, k.scale),
		orchestrator.NewTool("get_events", "Get recent events in a namespace", []provider.Parameter{
			ns, integer("limit", "Maximum events, default 20"),
		}, k.events),
	)
}

type kubernetesTools struct {
	kc *kube.Kubectl
}

type containerStatus struct {
	Name         string                    `json:"name"`
	Ready        bool                      `json:"ready"`
	RestartCount int                       `json:"restartCount"`
	Image        string                    `json:"image"`
	State        map[string]map[string]any `json:"state"`
}

type pod struct {
	Metadata objectMeta `json:"metadata"`
	Spec     struct {
		NodeName string `json:"nodeName"`
	} `json:"spec"`
	Status struct {
		Phase             string            `json:"phase"`
		PodIP             string            `json:"podIP"`
		Conditions        []condition       `json:"conditions"`
		ContainerStatuses []containerStatus `json:"containerStatuses"`
	} `json:"status"`
}

type podSummary struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
	Status    string `json:"status"`
	Ready     bool   `json:"ready"`
	Restarts  int    `json:"restarts"`
	Node      string `json:"node"`
	Age       string `json:"age"`
}

func namespace(args map[string]any) string {
	return orchestrator.String(args, "namespace", "default")
}

func (k *kubernetesTools) listPods(ctx context.Context, args map[string]any) (any, error) {
	cmd := []string{"get", "pods", "-n", namespace(args)}
	if sel := orchestrator.String(args, "label_selector", ""); sel != "" {
		cmd = append(cmd, "-l", sel)
	}
	var list struct {
		Items []pod `json:"items"`
	}
	if err := k.kc.GetJSON(ctx, &list, cmd...); err != nil {
		return nil, err
	}
	out := make([]podSummary, 0, len(list.Items))
	for _, p := range list.Items {
		s := podSummary{
			Name:      p.Metadata.Name,
			Namespace: p.Metadata.Namespace,
			Status:    p.Status.Phase,
			Ready:     true,
			Node:      p.Spec.NodeName,
			Age:       p.Metadata.CreationTimestamp,
		}
		if s.Status == "" {
			s.Status = "Unknown"
		}
		for _, c := range p.Status.ContainerStatuses {
			s.Ready = s.Ready && c.Ready
			s.Restarts += c.RestartCount
		}
		out = append(out, s)
	}
	return out, nil
}

func (k *kubernetesTools) podStatus(ctx context.Context, args map[string]any) (any, error) {
	name := orchestrator.String(args, "pod_name", "")
	var p pod
	if err := k.kc.GetJSON(ctx, &p, "get", "pod", name, "-n", namespace(args)); err != nil {
		return nil, err
	}
	type container struct {
		Name         string `json:"name"`
		Ready        bool   `json:"ready"`
		RestartCount int    `json:"restart_count"`
		State        string `json:"state"`
		Image        string `json:"image"`
	}
	containers := make([]container, 0, len(p.Status.ContainerStatuses))
	for _, c := range p.Status.ContainerStatuses {
		state := "unknown"
		for s := range c.State {
			state = s
		}
		containers = append(containers, container{Name: c.Name, Ready: c.Ready, RestartCount: c.RestartCount, State: state, Image: c.Image})
	}
	return map[string]any{
		"name":       p.Metadata.Name,
		"namespace":  p.Metadata.Namespace,
		"phase":      p.Status.Phase,
		"conditions": p.Status.Conditions,
		"containers": containers,
		"node":       p.Spec.NodeName,
		"ip":         p.Status.PodIP,
	}, nil
}

func (k *kubernetesTools) listServices(ctx context.Context, args map[string]any) (any, error) {
	var list struct {
		Items []struct {
			Metadata objectMeta `json:"metadata"`
			Spec     struct {
				Type      string `json:"type"`
				ClusterIP string `json:"clusterIP"`
				Ports     []struct {
					Port       int    `json:"port"`
					TargetPort any    `json:"targetPort"`
					Protocol   string `json:"protocol"`
				} `json:"ports"`
			} `json:"spec"`
			Status struct {
				LoadBalancer struct {
					Ingress []struct {
						IP       string `json:"ip"`
						Hostname string `json:"hostname"`
					} `json:"ingress"`
				} `json:"loadBalancer"`
			} `json:"status"`
		} `json:"items"`
	}
	if err := k.kc.GetJSON(ctx, &list, "get", "services", "-n", namespace(args)); err != nil {
		return nil, err
	}
	type port struct {
		Port       int    `json:"port"`
		TargetPort string `json:"target_port"`
		Protocol   string `json:"protocol"`
	}
	type service struct {
		Name       string `json:"name"`
		Namespace  string `json:"namespace"`
		Type       string `json:"type"`
		ClusterIP  string `json:"cluster_ip"`
		Ports      []port `json:"ports"`
		ExternalIP string `json:"external_ip,omitempty"`
	}
	out := make([]service, 0, len(list.Items))
	for _, item := range list.Items {
		svc := service{
			Name:      item.Metadata.Name,
			Namespace: item.Metadata.Namespace,
			Type:      item.Spec.Type,
			ClusterIP: item.Spec.ClusterIP,
			Ports:     []port{},
		}
		if svc.Type == "" {
			svc.Type = "ClusterIP"
		}
		for _, p := range item.Spec.Ports {
			svc.Ports = append(svc.Ports, port{Port: p.Port, TargetPort: fmt.Sprint(p.TargetPort), Protocol: p.Protocol})
		}
		if svc.Type == "LoadBalancer" && len(item.Status.LoadBalancer.Ingress) > 0 {
			ing := item.Status.LoadBalancer.Ingress[0]
			svc.ExternalIP = ing.Hostname
			if svc.ExternalIP == "" {
				svc.ExternalIP = ing.IP
			}
		}
		out = append(out, svc)
	}
	return out, nil
}

func (k *kubernetesTools) listNamespaces(ctx context.Context, _ map[string]any) (any, error) {
	var list struct {
		Items []struct {
			Metadata objectMeta `json:"metadata"`
			Status   struct {
				Phase string `json:"phase"`
			} `json:"status"`
		} `json:"items"`
	}
	if err := k.kc.GetJSON(ctx, &list, "get", "namespaces"); err != nil {
		return nil, err
	}
	type ns struct {
		Name   string            `json:"name"`
		Status string            `json:"status"`
		Labels map[string]string `json:"labels,omitempty"`
		Age    string            `json:"age"`
	}
	out := make([]ns, 0, len(list.Items))
	for _, item := range list.Items {
		status := item.Status.Phase
		if status == "" {
			status = "Active"
		}
		out = append(out, ns{Name: item.Metadata.Name, Status: status, Labels: item.Metadata.Labels, Age: item.Metadata.CreationTimestamp})
	}
	return out, nil
}

func (k *kubernetesTools) logs(ctx context.Context, args map[string]any) (any, error) {
	tail, err := orchestrator.Int(args, "tail_lines", 100)
	if err != nil {
		return nil, err
	}
	cmd := []string{"logs", orchestrator.String(args, "pod_name", ""), "-n", namespace(args), "--tail=" + strconv.Itoa(tail)}
	if c := orchestrator.String(args, "container", ""); c != "" {
		cmd = append(cmd, "-c", c)
	}
	return k.kc.Run(ctx, cmd...)
}

func (k *kubernetesTools) scale(ctx context.Context, args map[string]any) (any, error) {
	replicas, err := orchestrator.Int(args, "replicas", 0)
	if err != nil {
		return nil, err
	}
	if replicas < 0 {
		return nil, fmt.Errorf("replicas must not be negative, got %d", replicas)
	}
	name := orchestrator.String(args, "deployment_name", "")
	ns := namespace(args)
	if _, err := k.kc.Run(ctx, "scale", "deployment", name, "--replicas="+strconv.Itoa(replicas), "-n", ns); err != nil {
		return nil, err
	}
	return map[string]any{"deployment": name, "namespace": ns, "replicas": replicas, "status": "scaling"}, nil
}

func (k *kubernetesTools) events(ctx context.Context, args map[string]any) (any, error) {
	limit, err := orchestrator.Int(args, "limit", 20)
	if err != nil {
		return nil, err
	}
	var list struct {
		Items []struct {
			Type           string `json:"type"`
			Reason         string `json:"reason"`
			Message        string `json:"message"`
			Count          int    `json:"count"`
			LastTimestamp  string `json:"lastTimestamp"`
			InvolvedObject struct {
				Kind string `json:"kind"`
				Name string `json:"name"`
			} `json:"involvedObject"`
		} `json:"items"`
	}
	if err := k.kc.GetJSON(ctx, &list, "get", "events", "-n", namespace(args), "--sort-by=.lastTimestamp"); err != nil {
		return nil, err
	}
	items := list.Items
	if limit > 0 && len(items) > limit {
		items = items[len(items)-limit:]
	}
	type event struct {
		Type     string `json:"type"`
		Reason   string `json:"reason"`
		Message  string `json:"message"`
		Object   string `json:"object"`
		Count    int    `json:"count"`
		LastSeen string `json:"last_seen"`
	}
	out := make([]event, 0, len(items))
	for _, e := range items {
		out = append(out, event{
			Type:     e.Type,
			Reason:   e.Reason,
			Message:  e.Message,
			Object:   e.InvolvedObject.Kind + "/" + e.InvolvedObject.Name,
			Count:    e.Count,
			LastSeen: e.LastTimestamp,
		})
	}
	return out, nil
}
