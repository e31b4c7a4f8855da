package agents

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/opentalon/idpportal/internal/agents/kube"
	"github.com/opentalon/idpportal/internal/config"
	"github.com/opentalon/idpportal/internal/orchestrator"
	"github.com/opentalon/idpportal/internal/provider"
)

const (
	kustomizationResource = "kustomizations.kustomize.toolkit.fluxcd.io"
	gitRepositoryResource = "gitrepositories.source.toolkit.fluxcd.io"
	reconcileAnnotation   = "reconcile.fluxcd.io/requestedAt"
)

const fluxCharter = `You are a Flux CD operations agent for the IDP Portal.
You manage GitOps deployments through Flux Kustomizations and GitRepository sources: list, reconcile, suspend and resume.
Check source status when a Kustomization is not ready.`

// NewFlux builds the flux agent on top of kubectl.
func NewFlux(env *orchestrator.Env) (orchestrator.Handler, error) {
	b := backends(env)
	if b.Flux.Disabled {
		return nil, errors.New("flux backend is disabled")
	}
	kc, err := kube.New(b.Kubernetes)
	if err != nil {
		return nil, err
	}
	return newFlux(env, kc, b.Flux, time.Now), nil
}

func newFlux(env *orchestrator.Env, kc *kube.Kubectl, cfg config.FluxConfig, now func() time.Time) *orchestrator.ToolAgent {
	f := &fluxTools{kc: kc, cfg: cfg, now: now}
	manifest := orchestrator.CapabilityManifest{
		Name:        "flux",
		Description: "Manages Flux CD GitOps resources including Kustomizations and GitRepository sources",
		Capabilities: []orchestrator.Capability{
			{Name: "kustomization_management", Description: "List, reconcile, suspend, and resume Flux Kustomizations",
				Tools: []string{"list_kustomizations", "reconcile_kustomization", "suspend_kustomization", "resume_kustomization"}},
			{Name: "source_monitoring", Description: "Check GitRepository source status", Tools: []string{"get_source_status"}},
		},
	}
	name := required(str("name", "Resource name"))
	ns := str("namespace", "Namespace, default "+strconv.Quote(cfg.Namespace))
	return orchestrator.NewToolAgent(env, manifest, fluxCharter,
		orchestrator.NewTool("list_kustomizations", "List Kustomizations in a namespace, or in all namespaces when none is given", []provider.Parameter{
			str("namespace", "Namespace; empty lists all namespaces"),
		}, f.list),
		orchestrator.NewTool("reconcile_kustomization", "Request an immediate reconciliation", []provider.Parameter{name, ns}, f.reconcile),
		orchestrator.NewTool("suspend_kustomization", "Suspend reconciliation of a Kustomization", []provider.Parameter{name, ns}, f.suspend),
		orchestrator.NewTool("resume_kustomization", "Resume a suspended Kustomization", []provider.Parameter{name, ns}, f.resume),
		orchestrator.NewTool("get_source_status", "Get the status of a GitRepository source", []provider.Parameter{name, ns}, f.sourceStatus),
	)
}

type fluxTools struct {
	kc  *kube.Kubectl
	cfg config.FluxConfig
	now func() time.Time
}

func (f *fluxTools) namespace(args map[string]any) string {
	return orchestrator.String(args, "namespace", f.cfg.Namespace)
}

func (f *fluxTools) list(ctx context.Context, args map[string]any) (any, error) {
	cmd := []string{"get", kustomizationResource}
	if ns := orchestrator.String(args, "namespace", ""); ns != "" {
		cmd = append(cmd, "-n", ns)
	} else {
		cmd = append(cmd, "-A")
	}
	var list struct {
		Items []struct {
			Metadata objectMeta `json:"metadata"`
			Spec     struct {
				Path      string `json:"path"`
				Suspend   bool   `json:"suspend"`
				SourceRef struct {
					Name string `json:"name"`
				} `json:"sourceRef"`
			} `json:"spec"`
			Status struct {
				Conditions []condition `json:"conditions"`
			} `json:"status"`
		} `json:"items"`
	}
	if err := f.kc.GetJSON(ctx, &list, cmd...); err != nil {
		return nil, err
	}
	type kustomization struct {
		Name      string `json:"name"`
		Namespace string `json:"namespace"`
		Ready     string `json:"ready"`
		Suspended bool   `json:"suspended"`
		Source    string `json:"source"`
		Path      string `json:"path"`
	}
	out := make([]kustomization, 0, len(list.Items))
	for _, item := range list.Items {
		out = append(out, kustomization{
			Name:      item.Metadata.Name,
			Namespace: item.Metadata.Namespace,
			Ready:     conditionStatus(item.Status.Conditions, "Ready"),
			Suspended: item.Spec.Suspend,
			Source:    item.Spec.SourceRef.Name,
			Path:      item.Spec.Path,
		})
	}
	return out, nil
}

func (f *fluxTools) reconcile(ctx context.Context, args map[string]any) (any, error) {
	name := orchestrator.String(args, "name", "")
	stamp := strconv.FormatInt(f.now().Unix(), 10)
	out, err := f.kc.Run(ctx, "annotate", kustomizationResource, name, "-n", f.namespace(args),
		reconcileAnnotation+"="+stamp, "--overwrite")
	if err != nil {
		return nil, err
	}
	return map[string]any{"status": "reconciliation_triggered", "name": name, "output": out}, nil
}

func (f *fluxTools) setSuspend(ctx context.Context, args map[string]any, suspend bool) (string, error) {
	patch := `{"spec":{"suspend":` + strconv.FormatBool(suspend) + `}}`
	return f.kc.Run(ctx, "patch", kustomizationResource, orchestrator.String(args, "name", ""),
		"-n", f.namespace(args), "--type=merge", "-p", patch)
}

func (f *fluxTools) suspend(ctx context.Context, args map[string]any) (any, error) {
	out, err := f.setSuspend(ctx, args, true)
	if err != nil {
		return nil, err
	}
	return map[string]any{"status": "suspended", "name": orchestrator.String(args, "name", ""), "output": out}, nil
}

func (f *fluxTools) resume(ctx context.Context, args map[string]any) (any, error) {
	out, err := f.setSuspend(ctx, args, false)
	if err != nil {
		return nil, err
	}
	return map[string]any{"status": "resumed", "name": orchestrator.String(args, "name", ""), "output": out}, nil
}

func (f *fluxTools) sourceStatus(ctx context.Context, args map[string]any) (any, error) {
	var repo struct {
		Metadata objectMeta `json:"metadata"`
		Spec     struct {
			URL string `json:"url"`
			Ref struct {
				Branch string `json:"branch"`
				Tag    string `json:"tag"`
			} `json:"ref"`
		} `json:"spec"`
		Status struct {
			Conditions []condition `json:"conditions"`
			Artifact   struct {
				Revision string `json:"revision"`
			} `json:"artifact"`
		} `json:"status"`
	}
	if err := f.kc.GetJSON(ctx, &repo, "get", gitRepositoryResource, orchestrator.String(args, "name", ""), "-n", f.namespace(args)); err != nil {
		return nil, err
	}
	return map[string]any{
		"name":          repo.Metadata.Name,
		"url":           repo.Spec.URL,
		"branch":        repo.Spec.Ref.Branch,
		"ready":         conditionStatus(repo.Status.Conditions, "Ready"),
		"last_revision": repo.Status.Artifact.Revision,
	}, nil
}
