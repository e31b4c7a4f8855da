// Package requestpkg loads request packages: HTTP calls declared in YAML
// with URL, body and headers templated by {{env.X}} and {{args.Y}}. Each
// package becomes one tool of the requests agent.
package requestpkg

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/opentalon/idpportal/internal/agents/rest"
	"github.com/opentalon/idpportal/internal/orchestrator"
	"github.com/opentalon/idpportal/internal/provider"
)

// Package is one templated HTTP call.
type Package struct {
	Action      string            `yaml:"action"`
	Description string            `yaml:"description"`
	Method      string            `yaml:"method"`
	URL         string            `yaml:"url"`  // {{env.BACKSTAGE_URL}}/api/catalog/entities/{{args.name}}
	Body        string            `yaml:"body"` // JSON template
	Headers     map[string]string `yaml:"headers"`
	RequiredEnv []string          `yaml:"required_env"`
	Parameters  []ParamDefinition `yaml:"parameters"`
}

type ParamDefinition struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
	Required    bool   `yaml:"required"`
}

// Set groups the packages of one service. Tool names are prefixed with
// the service name.
type Set struct {
	Service     string    `yaml:"service"`
	Description string    `yaml:"description"`
	Packages    []Package `yaml:"packages"`
}

var (
	envRe  = regexp.MustCompile(`\{\{env\.(\w+)\}\}`)
	argsRe = regexp.MustCompile(`\{\{args\.(\w+)\}\}`)
)

// Substitute replaces {{env.X}} and {{args.Y}} in s. Missing env vars are
// empty; missing args are left as literal. Argument values pass through
// escape before insertion.
func Substitute(s string, args map[string]any, escape func(string) string) string {
	s = envRe.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envRe.FindStringSubmatch(match)[1])
	})
	return argsRe.ReplaceAllStringFunc(s, func(match string) string {
		v, ok := args[argsRe.FindStringSubmatch(match)[1]]
		if !ok || v == nil {
			return match
		}
		text := fmt.Sprint(v)
		if escape != nil {
			text = escape(text)
		}
		return text
	})
}

func jsonEscape(s string) string {
	b, _ := json.Marshal(s)
	return string(b[1 : len(b)-1])
}

// ToolName is the tool a package is exposed as.
func (s Set) ToolName(p Package) string {
	return s.Service + "_" + p.Action
}

// Tools converts every package of the set into an orchestrator tool.
func (s Set) Tools() []orchestrator.Tool {
	tools := make([]orchestrator.Tool, 0, len(s.Packages))
	for _, p := range s.Packages {
		params := make([]provider.Parameter, 0, len(p.Parameters))
		for _, q := range p.Parameters {
			typ := provider.ParamType(q.Type)
			if typ == "" {
				typ = provider.TypeString
			}
			params = append(params, provider.Parameter{Name: q.Name, Type: typ, Description: q.Description, Required: q.Required})
		}
		desc := p.Description
		if desc == "" {
			desc = fmt.Sprintf("%s %s on %s", strings.ToUpper(p.Method), p.Action, s.Service)
		}
		tools = append(tools, orchestrator.NewTool(s.ToolName(p), desc, params, s.executor(p)))
	}
	return tools
}

func (s Set) executor(p Package) orchestrator.ToolFunc {
	return func(ctx context.Context, args map[string]any) (any, error) {
		for _, name := range p.RequiredEnv {
			if os.Getenv(name) == "" {
				return nil, fmt.Errorf("required env %q is not set", name)
			}
		}
		target := Substitute(p.URL, args, url.PathEscape)
		if target == "" {
			return nil, fmt.Errorf("%s: url is empty after substitution", s.ToolName(p))
		}

		opts := make([]rest.Option, 0, len(p.Headers))
		for k, v := range p.Headers {
			opts = append(opts, rest.WithHeader(k, Substitute(v, args, nil)))
		}
		client := rest.New(s.Service, "", opts...)

		var in any
		if p.Body != "" {
			in = json.RawMessage(Substitute(p.Body, args, jsonEscape))
		}
		method := strings.ToUpper(p.Method)
		if method == "" {
			method = "GET"
		}
		var out any
		if err := client.Do(ctx, method, target, nil, in, &out); err != nil {
			return nil, err
		}
		if out == nil {
			return map[string]any{"status": "ok"}, nil
		}
		return out, nil
	}
}
