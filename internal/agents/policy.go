package agents

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opentalon/idpportal/internal/agents/rest"
	"github.com/opentalon/idpportal/internal/orchestrator"
	"github.com/opentalon/idpportal/internal/provider"
)

// Generation and remediation run a model on the policy service side.
const policyTimeout = 60 * time.Second

var policyDomains = []string{"kafka", "kubernetes", "terraform", "cicd", "gitops"}

const policyCharter = `You are a policy compliance agent for the IDP Portal.
You validate configurations against OPA/Rego policies, generate compliant configurations from requirements, fix violations and list policies.
Supported domains are kafka, kubernetes, terraform, cicd and gitops. Always validate a generated or fixed configuration before presenting it.`

// NewPolicy builds the policy agent against the policy service.
func NewPolicy(env *orchestrator.Env) (orchestrator.Handler, error) {
	cfg := backends(env).Policy
	if cfg.URL == "" {
		return nil, errors.New("policy url is required")
	}
	return newPolicy(env, endpointClient("policy", cfg, rest.WithHTTPClient(&http.Client{Timeout: policyTimeout}))), nil
}

func newPolicy(env *orchestrator.Env, c *rest.Client) *orchestrator.ToolAgent {
	p := &policyTools{c: c}
	manifest := orchestrator.CapabilityManifest{
		Name:        "policy",
		Description: "Validates, generates and fixes configurations against OPA/Rego policies",
		Capabilities: []orchestrator.Capability{
			{Name: "compliance", Description: "Validate configurations and list policies",
				Tools: []string{"validate_config", "list_policies"}},
			{Name: "remediation", Description: "Generate compliant configurations and fix violations",
				Tools: []string{"generate_config", "fix_violations"}},
		},
	}
	domain := required(str("domain", "Policy domain: kafka, kubernetes, terraform, cicd or gitops"))
	cfgYAML := required(str("config_yaml", "Configuration as YAML"))
	return orchestrator.NewToolAgent(env, manifest, policyCharter,
		orchestrator.NewTool("validate_config", "Validate a configuration against the domain's policies", []provider.Parameter{domain, cfgYAML}, p.validate),
		orchestrator.NewTool("generate_config", "Generate a compliant configuration from natural language requirements", []provider.Parameter{
			domain, required(str("requirements", "Requirements")),
		}, p.generate),
		orchestrator.NewTool("fix_violations", "Rewrite a configuration so it no longer violates policies", []provider.Parameter{
			domain, cfgYAML, array("violations", "Violation messages from validate_config"),
		}, p.fix),
		orchestrator.NewTool("list_policies", "List policies, optionally for one domain", []provider.Parameter{
			str("domain", "Policy domain"),
		}, p.list),
	)
}

type policyTools struct {
	c *rest.Client
}

func policyDomain(args map[string]any) (string, error) {
	d := orchestrator.String(args, "domain", "")
	for _, known := range policyDomains {
		if d == known {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown policy domain %q", d)
}

// configYAML returns the config argument after checking that it parses.
// Malformed YAML is rejected locally.
func configYAML(args map[string]any) (string, error) {
	src := orchestrator.String(args, "config_yaml", "")
	if src == "" {
		return "", errors.New("config_yaml is required")
	}
	var doc any
	if err := yaml.Unmarshal([]byte(src), &doc); err != nil {
		return "", fmt.Errorf("config_yaml is not valid YAML: %w", err)
	}
	return src, nil
}

func (p *policyTools) validate(ctx context.Context, args map[string]any) (any, error) {
	domain, err := policyDomain(args)
	if err != nil {
		return nil, err
	}
	cfg, err := configYAML(args)
	if err != nil {
		return nil, err
	}
	var res struct {
		Valid      bool  `json:"valid"`
		Violations []any `json:"violations"`
	}
	if err := p.c.Post(ctx, "/validate", map[string]any{"domain": domain, "config": cfg}, &res); err != nil {
		return nil, err
	}
	if res.Violations == nil {
		res.Violations = []any{}
	}
	return map[string]any{
		"valid":            res.Valid,
		"violations":       res.Violations,
		"violations_count": len(res.Violations),
		"domain":           domain,
	}, nil
}

func (p *policyTools) generate(ctx context.Context, args map[string]any) (any, error) {
	domain, err := policyDomain(args)
	if err != nil {
		return nil, err
	}
	var res map[string]any
	body := map[string]any{"domain": domain, "requirements": orchestrator.String(args, "requirements", "")}
	if err := p.c.Post(ctx, "/generate", body, &res); err != nil {
		return nil, err
	}
	return res, nil
}

func (p *policyTools) fix(ctx context.Context, args map[string]any) (any, error) {
	domain, err := policyDomain(args)
	if err != nil {
		return nil, err
	}
	cfg, err := configYAML(args)
	if err != nil {
		return nil, err
	}
	violations := orchestrator.Strings(args, "violations")
	if violations == nil {
		violations = []string{}
	}
	var res map[string]any
	body := map[string]any{"domain": domain, "config": cfg, "violations": violations}
	if err := p.c.Post(ctx, "/fix", body, &res); err != nil {
		return nil, err
	}
	return res, nil
}

func (p *policyTools) list(ctx context.Context, args map[string]any) (any, error) {
	path := "/policies"
	if d := orchestrator.String(args, "domain", ""); d != "" {
		if _, err := policyDomain(args); err != nil {
			return nil, err
		}
		path += "/" + url.PathEscape(d)
	}
	var res struct {
		Policies []any `json:"policies"`
	}
	if err := p.c.Get(ctx, path, nil, &res); err != nil {
		return nil, err
	}
	if res.Policies == nil {
		return []any{}, nil
	}
	return res.Policies, nil
}
