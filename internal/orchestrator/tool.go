package orchestrator

import (
	"context"
	"errors"
	"net"

	"github.com/opentalon/idpportal/internal/provider"
)

// ToolFunc executes a tool. The returned value must be JSON-serializable.
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

// Tool is a named operation a handler exposes to the model.
type Tool struct {
	Spec provider.ToolSpec
	Fn   ToolFunc
}

func NewTool(name, description string, params []provider.Parameter, fn ToolFunc) Tool {
	return Tool{
		Spec: provider.ToolSpec{Name: name, Description: description, Parameters: params},
		Fn:   fn,
	}
}

func (t Tool) Name() string { return t.Spec.Name }

// Call runs the tool. Missing required arguments fail before Fn runs. An
// untyped error from Fn is retryable when it reports Retryable() or is a
// timeout, and terminal otherwise.
func (t Tool) Call(ctx context.Context, args map[string]any) (any, error) {
	if args == nil {
		args = map[string]any{}
	}
	for _, p := range t.Spec.Parameters {
		if !p.Required {
			continue
		}
		if v, ok := args[p.Name]; !ok || v == nil {
			return nil, Terminal(t.Name(), errors.New("missing required argument "+p.Name))
		}
	}
	v, err := t.Fn(ctx, args)
	if err != nil {
		var te *ToolError
		if errors.As(err, &te) {
			return nil, err
		}
		return nil, classify(t.Name(), err)
	}
	return v, nil
}

type retryable interface {
	Retryable() bool
}

func classify(tool string, err error) error {
	var r retryable
	if errors.As(err, &r) && r.Retryable() {
		return Transient(tool, err)
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return Transient(tool, err)
	}
	return Terminal(tool, err)
}
