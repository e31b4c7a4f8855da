package agents

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/opentalon/idpportal/internal/config"
	"github.com/opentalon/idpportal/internal/lua"
	"github.com/opentalon/idpportal/internal/orchestrator"
	"github.com/opentalon/idpportal/internal/provider"
)

const scriptsCharter = `You are the scripts agent for the IDP Portal.
You run the organization's own Lua tools. Each tool is described by its name, description and parameters; pick the one that matches the task and pass its arguments exactly.`

// NewScripts exposes every configured Lua script as a tool. It fails when
// no script is configured or a script file is missing.
func NewScripts(env *orchestrator.Env) (orchestrator.Handler, error) {
	var cfg config.ScriptsConfig
	if env != nil && env.Config != nil {
		cfg = env.Config.Scripts
	}
	if len(cfg.Tools) == 0 {
		return nil, errors.New("no script tools configured")
	}
	tools := make([]orchestrator.Tool, 0, len(cfg.Tools))
	names := make([]string, 0, len(cfg.Tools))
	for _, sc := range cfg.Tools {
		t, err := scriptTool(cfg, sc)
		if err != nil {
			return nil, err
		}
		tools = append(tools, t)
		names = append(names, sc.Name)
	}
	manifest := orchestrator.CapabilityManifest{
		Name:        "scripts",
		Description: "Runs organization specific Lua tools",
		Capabilities: []orchestrator.Capability{
			{Name: "custom_tools", Description: "Organization specific operations implemented as scripts", Tools: names},
		},
	}
	return orchestrator.NewToolAgent(env, manifest, scriptsCharter, tools...), nil
}

func scriptTool(cfg config.ScriptsConfig, sc config.ScriptConfig) (orchestrator.Tool, error) {
	path := cfg.Path(sc.File)
	if _, err := os.Stat(path); err != nil {
		return orchestrator.Tool{}, fmt.Errorf("script %s: %w", sc.Name, err)
	}
	params := make([]provider.Parameter, 0, len(sc.Parameters))
	for _, p := range sc.Parameters {
		typ := provider.ParamType(p.Type)
		if typ == "" {
			typ = provider.TypeString
		}
		params = append(params, provider.Parameter{Name: p.Name, Type: typ, Description: p.Description, Required: p.Required})
	}
	desc := sc.Description
	if desc == "" {
		desc = "Run the " + sc.Name + " script"
	}
	return orchestrator.NewTool(sc.Name, desc, params, func(ctx context.Context, args map[string]any) (any, error) {
		return lua.RunTool(ctx, path, args)
	}), nil
}
