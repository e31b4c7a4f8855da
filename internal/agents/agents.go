// Package agents holds the backend handlers the supervisor delegates to.
package agents

import (
	"fmt"
	"strconv"

	"github.com/opentalon/idpportal/internal/agents/rest"
	"github.com/opentalon/idpportal/internal/config"
	"github.com/opentalon/idpportal/internal/orchestrator"
	"github.com/opentalon/idpportal/internal/provider"
)

func backends(env *orchestrator.Env) config.BackendsConfig {
	if env == nil || env.Config == nil {
		return config.BackendsConfig{}
	}
	return env.Config.Backends
}

func endpointClient(service string, cfg config.EndpointConfig, opts ...rest.Option) *rest.Client {
	if cfg.Token != "" {
		opts = append([]rest.Option{rest.WithBearer(cfg.Token)}, opts...)
	}
	if cfg.Insecure {
		opts = append(opts, rest.WithInsecureTLS())
	}
	return rest.New(service, cfg.URL, opts...)
}

func str(name, desc string) provider.Parameter {
	return provider.Parameter{Name: name, Type: provider.TypeString, Description: desc}
}

func integer(name, desc string) provider.Parameter {
	return provider.Parameter{Name: name, Type: provider.TypeInteger, Description: desc}
}

func boolean(name, desc string) provider.Parameter {
	return provider.Parameter{Name: name, Type: provider.TypeBoolean, Description: desc}
}

func object(name, desc string) provider.Parameter {
	return provider.Parameter{Name: name, Type: provider.TypeObject, Description: desc}
}

func array(name, desc string) provider.Parameter {
	return provider.Parameter{Name: name, Type: provider.TypeArray, Description: desc}
}

func required(p provider.Parameter) provider.Parameter {
	p.Required = true
	return p
}

// objectMeta is the subset of Kubernetes object metadata the agents report.
type objectMeta struct {
	Name              string            `json:"name"`
	Namespace         string            `json:"namespace"`
	Labels            map[string]string `json:"labels"`
	CreationTimestamp string            `json:"creationTimestamp"`
}

type condition struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// conditionStatus returns the status of the condition named typ, or Unknown.
func conditionStatus(conds []condition, typ string) string {
	for _, c := range conds {
		if c.Type == typ {
			return c.Status
		}
	}
	return "Unknown"
}

func stringMap(v map[string]any) map[string]string {
	out := make(map[string]string, len(v))
	for k, val := range v {
		switch s := val.(type) {
		case string:
			out[k] = s
		case float64:
			out[k] = strconv.FormatFloat(s, 'f', -1, 64)
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}
