package agents

import (
	"errors"
	"fmt"

	"github.com/opentalon/idpportal/internal/orchestrator"
	"github.com/opentalon/idpportal/internal/requestpkg"
)

const requestsCharter = `You are the requests agent for the IDP Portal.
You call internal HTTP services through declared request packages. Tool names are <service>_<action>; pick the one matching the task and pass its arguments exactly.`

// NewRequests exposes every request package under requests.dir as a tool.
func NewRequests(env *orchestrator.Env) (orchestrator.Handler, error) {
	if env == nil || env.Config == nil || env.Config.Requests.Dir == "" {
		return nil, errors.New("requests.dir is not configured")
	}
	sets, err := requestpkg.LoadDir(env.Config.Requests.Dir)
	if err != nil {
		return nil, err
	}
	if len(sets) == 0 {
		return nil, fmt.Errorf("no request packages in %s", env.Config.Requests.Dir)
	}

	manifest := orchestrator.CapabilityManifest{
		Name:        "requests",
		Description: "Calls internal HTTP services through declared request packages",
	}
	var tools []orchestrator.Tool
	for _, set := range sets {
		names := make([]string, 0, len(set.Packages))
		for _, p := range set.Packages {
			names = append(names, set.ToolName(p))
		}
		desc := set.Description
		if desc == "" {
			desc = "Requests against " + set.Service
		}
		manifest.Capabilities = append(manifest.Capabilities, orchestrator.Capability{Name: set.Service, Description: desc, Tools: names})
		tools = append(tools, set.Tools()...)
	}
	return orchestrator.NewToolAgent(env, manifest, requestsCharter, tools...), nil
}
