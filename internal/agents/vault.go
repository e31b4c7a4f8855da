package agents

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/opentalon/idpportal/internal/agents/rest"
	"github.com/opentalon/idpportal/internal/orchestrator"
	"github.com/opentalon/idpportal/internal/provider"
)

const vaultCharter = `You are a HashiCorp Vault secrets agent for the IDP Portal.
You read secret metadata, write and list secrets in the KV-v2 engine, manage policies and enable secrets engines.
Never reveal secret values: report key names and versions only.`

// NewVault builds the vault agent against the HTTP API.
func NewVault(env *orchestrator.Env) (orchestrator.Handler, error) {
	cfg := backends(env).Vault
	if cfg.URL == "" || cfg.Token == "" {
		return nil, errors.New("vault url and token are required")
	}
	opts := []rest.Option{rest.WithHeader("X-Vault-Token", cfg.Token)}
	if cfg.Insecure {
		opts = append(opts, rest.WithInsecureTLS())
	}
	return newVault(env, rest.New("vault", cfg.URL, opts...)), nil
}

func newVault(env *orchestrator.Env, c *rest.Client) *orchestrator.ToolAgent {
	v := &vaultTools{c: c}
	manifest := orchestrator.CapabilityManifest{
		Name:        "vault",
		Description: "Manages HashiCorp Vault secrets, policies and secrets engines",
		Capabilities: []orchestrator.Capability{
			{Name: "secret_management", Description: "Read key names, write and list KV-v2 secrets",
				Tools: []string{"read_secret", "write_secret", "list_secrets"}},
			{Name: "vault_administration", Description: "Manage policies and secrets engines",
				Tools: []string{"create_vault_policy", "enable_secrets_engine"}},
		},
	}
	path := required(str("path", "Secret path without the secret/data/ prefix"))
	return orchestrator.NewToolAgent(env, manifest, vaultCharter,
		orchestrator.NewTool("read_secret", "Read the key names and version of a secret", []provider.Parameter{path}, v.read),
		orchestrator.NewTool("write_secret", "Write a secret", []provider.Parameter{
			path, required(object("data", "Secret key/value pairs")),
		}, v.write),
		orchestrator.NewTool("list_secrets", "List secrets under a path", []provider.Parameter{
			str("path", "Folder path, default the engine root"),
		}, v.list),
		orchestrator.NewTool("create_vault_policy", "Create or update a policy from HCL rules", []provider.Parameter{
			required(str("name", "Policy name")), required(str("rules_hcl", "Policy rules in HCL")),
		}, v.policy),
		orchestrator.NewTool("enable_secrets_engine", "Mount a secrets engine", []provider.Parameter{
			required(str("path", "Mount path")), str("engine_type", "Engine type, default kv-v2"),
		}, v.enable),
	)
}

type vaultTools struct {
	c *rest.Client
}

// escapePath escapes each segment of a slash separated path. Empty, "." and
// ".." segments are rejected so a path cannot leave its mount.
func escapePath(p string) (string, error) {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range parts {
		escaped, err := escapeSegment(s)
		if err != nil {
			return "", fmt.Errorf("path %q: %w", p, err)
		}
		parts[i] = escaped
	}
	return strings.Join(parts, "/"), nil
}

func escapeSegment(s string) (string, error) {
	switch s {
	case "":
		return "", errors.New("empty segment")
	case ".", "..":
		return "", fmt.Errorf("invalid segment %q", s)
	}
	return url.PathEscape(s), nil
}

// secretPath returns the KV path from args and its escaped form.
func secretPath(args map[string]any) (string, string, error) {
	p := strings.TrimPrefix(strings.Trim(orchestrator.String(args, "path", ""), "/"), "secret/data/")
	if p == "" {
		return "", "", errors.New("path is required")
	}
	escaped, err := escapePath(p)
	if err != nil {
		return "", "", err
	}
	return p, escaped, nil
}

func (v *vaultTools) read(ctx context.Context, args map[string]any) (any, error) {
	p, escaped, err := secretPath(args)
	if err != nil {
		return nil, err
	}
	var res struct {
		Data struct {
			Data     map[string]any `json:"data"`
			Metadata struct {
				Version int `json:"version"`
			} `json:"metadata"`
		} `json:"data"`
	}
	if err := v.c.Get(ctx, "/v1/secret/data/"+escaped, nil, &res); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(res.Data.Data))
	for k := range res.Data.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return map[string]any{"path": p, "keys": keys, "version": res.Data.Metadata.Version}, nil
}

func (v *vaultTools) write(ctx context.Context, args map[string]any) (any, error) {
	p, escaped, err := secretPath(args)
	if err != nil {
		return nil, err
	}
	data, _ := args["data"].(map[string]any)
	if len(data) == 0 {
		return nil, errors.New("data must be a non-empty object")
	}
	var res struct {
		Data struct {
			Version     int    `json:"version"`
			CreatedTime string `json:"created_time"`
		} `json:"data"`
	}
	if err := v.c.Post(ctx, "/v1/secret/data/"+escaped, map[string]any{"data": data}, &res); err != nil {
		return nil, err
	}
	return map[string]any{"path": p, "version": res.Data.Version, "created_time": res.Data.CreatedTime}, nil
}

func (v *vaultTools) list(ctx context.Context, args map[string]any) (any, error) {
	path := "/v1/secret/metadata/"
	if p := strings.Trim(orchestrator.String(args, "path", ""), "/"); p != "" {
		escaped, err := escapePath(p)
		if err != nil {
			return nil, err
		}
		path += escaped + "/"
	}
	var res struct {
		Data struct {
			Keys []string `json:"keys"`
		} `json:"data"`
	}
	if err := v.c.Do(ctx, "LIST", path, nil, nil, &res); err != nil {
		if rest.NotFound(err) {
			return []string{}, nil
		}
		return nil, err
	}
	if res.Data.Keys == nil {
		return []string{}, nil
	}
	return res.Data.Keys, nil
}

func (v *vaultTools) policy(ctx context.Context, args map[string]any) (any, error) {
	name := orchestrator.String(args, "name", "")
	escaped, err := escapeSegment(name)
	if err != nil {
		return nil, fmt.Errorf("policy name: %w", err)
	}
	if err := v.c.Put(ctx, "/v1/sys/policy/"+escaped, map[string]any{"policy": orchestrator.String(args, "rules_hcl", "")}, nil); err != nil {
		return nil, err
	}
	return map[string]any{"policy": name, "status": "created"}, nil
}

func (v *vaultTools) enable(ctx context.Context, args map[string]any) (any, error) {
	p := strings.Trim(orchestrator.String(args, "path", ""), "/")
	if p == "" {
		return nil, errors.New("path is required")
	}
	escaped, err := escapePath(p)
	if err != nil {
		return nil, err
	}
	engine := orchestrator.String(args, "engine_type", "kv-v2")
	options := map[string]string{}
	if engine == "kv" {
		options["version"] = "2"
	}
	if err := v.c.Post(ctx, "/v1/sys/mounts/"+escaped, map[string]any{"type": engine, "options": options}, nil); err != nil {
		return nil, fmt.Errorf("enable %s at %s: %w", engine, p, err)
	}
	return map[string]any{"path": p, "type": engine, "status": "enabled"}, nil
}
