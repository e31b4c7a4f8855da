package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/opentalon/idpportal/internal/config"
	"github.com/opentalon/idpportal/internal/metrics"
	"github.com/opentalon/idpportal/internal/provider"
)

type LLMClient interface {
	Complete(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error)
}

// Handler is a specialized agent the supervisor can delegate to.
type Handler interface {
	Manifest() CapabilityManifest
	Tools() []Tool
	Invoke(ctx context.Context, task string, taskCtx map[string]any) (HandlerResult, error)
}

// Env is the shared configuration every handler constructor receives.
type Env struct {
	Config  *config.Config
	LLM     LLMClient
	Model   string
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Guard   *Guard
}

func (e *Env) logger() *zap.Logger {
	if e == nil || e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func (e *Env) recorder() *metrics.Metrics {
	if e == nil {
		return nil
	}
	return e.Metrics
}

// Constructor builds a handler. It fails when the handler cannot work with
// the given configuration, typically because credentials are missing.
type Constructor func(env *Env) (Handler, error)

type taskContextKey struct{}

// WithTaskContext attaches the supervisor's context mapping to ctx so
// tools can read it.
func WithTaskContext(ctx context.Context, m map[string]any) context.Context {
	return context.WithValue(ctx, taskContextKey{}, m)
}

// TaskContext returns the mapping attached by WithTaskContext.
func TaskContext(ctx context.Context) map[string]any {
	m, _ := ctx.Value(taskContextKey{}).(map[string]any)
	return m
}

// ToolAgent implements Handler with a two-turn tool protocol: one model
// turn that may request tools, then one synthesis turn over their results.
type ToolAgent struct {
	manifest CapabilityManifest
	charter  string
	tools    []Tool
	byName   map[string]Tool

	llm         LLMClient
	model       string
	maxTokens   int
	temperature *float64
	guard       *Guard
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// NewToolAgent builds a ToolAgent. charter is the fixed system instruction
// for every invocation.
func NewToolAgent(env *Env, manifest CapabilityManifest, charter string, tools ...Tool) *ToolAgent {
	if manifest.Version == "" {
		manifest.Version = DefaultManifestVersion
	}
	if manifest.Protocol == "" {
		manifest.Protocol = DefaultProtocol
	}
	a := &ToolAgent{
		manifest: manifest,
		charter:  charter,
		tools:    tools,
		byName:   make(map[string]Tool, len(tools)),
		logger:   env.logger().With(zap.String("agent", manifest.Name)),
	}
	for _, t := range tools {
		a.byName[t.Name()] = t
	}
	if env != nil {
		a.llm = env.LLM
		a.model = env.Model
		a.guard = env.Guard
		a.metrics = env.Metrics
		if env.Config != nil {
			a.maxTokens = env.Config.Orchestrator.MaxTokens
			a.temperature = env.Config.Orchestrator.Temperature
		}
	}
	return a
}

func (a *ToolAgent) Manifest() CapabilityManifest { return a.manifest }

func (a *ToolAgent) Tools() []Tool { return a.tools }

func (a *ToolAgent) Charter() string { return a.charter }

// Invoke runs the task. A model failure in either turn, or a tool that
// fails, aborts the invocation with a HandlerInvocationError. Tool requests
// in the synthesis turn are ignored.
func (a *ToolAgent) Invoke(ctx context.Context, task string, taskCtx map[string]any) (HandlerResult, error) {
	name := a.manifest.Name
	if a.llm == nil {
		return HandlerResult{}, &HandlerInvocationError{Handler: name, Err: fmt.Errorf("no model client configured")}
	}
	ctx = WithTaskContext(ctx, taskCtx)

	messages := []provider.Message{
		{Role: provider.RoleSystem, Content: a.charter},
		{Role: provider.RoleUser, Content: task},
	}

	resp, err := a.complete(ctx, messages)
	if err != nil {
		return HandlerResult{}, &HandlerInvocationError{Handler: name, Err: err}
	}
	if len(resp.ToolCalls) == 0 {
		return HandlerResult{Content: resp.Content, ToolsUsed: []string{}}, nil
	}

	messages = append(messages, resp.Message())
	used := make([]string, 0, len(resp.ToolCalls))
	for _, call := range resp.ToolCalls {
		tool, ok := a.byName[call.Name]
		if !ok {
			a.logger.Warn("model requested unknown tool", zap.String("tool", call.Name))
			messages = append(messages, provider.Message{
				Role:       provider.RoleTool,
				Name:       call.Name,
				ToolCallID: call.ID,
				Content:    fmt.Sprintf("unknown tool %q", call.Name),
				IsError:    true,
			})
			continue
		}

		value, err := a.guard.Execute(ctx, tool, call.Arguments)
		a.metrics.RecordToolCall(name, call.Name, err)
		if err != nil {
			a.logger.Warn("tool failed", zap.String("tool", call.Name), zap.Bool("retryable", IsRetryable(err)), zap.Error(err))
			return HandlerResult{}, &HandlerInvocationError{Handler: name, Err: err}
		}
		content, err := serializeResult(value)
		if err != nil {
			return HandlerResult{}, &HandlerInvocationError{Handler: name, Err: Terminal(call.Name, err)}
		}
		a.logger.Debug("tool executed", zap.String("tool", call.Name), zap.Int("bytes", len(content)))

		messages = append(messages, provider.Message{
			Role:       provider.RoleTool,
			Name:       call.Name,
			ToolCallID: call.ID,
			Content:    a.guard.Sanitize(content),
		})
		used = append(used, call.Name)
	}

	final, err := a.complete(ctx, messages)
	if err != nil {
		return HandlerResult{}, &HandlerInvocationError{Handler: name, Err: err}
	}
	if len(final.ToolCalls) > 0 {
		a.logger.Debug("ignoring tool requests in synthesis turn", zap.Int("count", len(final.ToolCalls)))
	}
	return HandlerResult{Content: final.Content, ToolsUsed: used}, nil
}

func (a *ToolAgent) complete(ctx context.Context, messages []provider.Message) (*provider.CompletionResponse, error) {
	specs := make([]provider.ToolSpec, 0, len(a.tools))
	for _, t := range a.tools {
		specs = append(specs, t.Spec)
	}
	resp, err := a.llm.Complete(ctx, &provider.CompletionRequest{
		Model:       a.model,
		Messages:    messages,
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
		Tools:       specs,
	})
	if err != nil {
		return nil, fmt.Errorf("completion: %w", err)
	}
	return resp, nil
}

// serializeResult renders a tool value for the model. Strings pass through
// unchanged; everything else is JSON.
func serializeResult(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	case nil:
		return "null", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("serialize result: %w", err)
	}
	return string(data), nil
}

// ValidateManifest checks that the handler has a name, that its tool names
// are unique and that every tool a capability lists is exposed.
func ValidateManifest(h Handler) error {
	m := h.Manifest()
	if m.Name == "" {
		return fmt.Errorf("manifest has no name")
	}
	exposed := make(map[string]bool)
	for _, t := range h.Tools() {
		if exposed[t.Name()] {
			return fmt.Errorf("tool %q is declared twice", t.Name())
		}
		exposed[t.Name()] = true
	}
	for _, c := range m.Capabilities {
		for _, name := range c.Tools {
			if !exposed[name] {
				return fmt.Errorf("capability %q lists tool %q which is not exposed", c.Name, name)
			}
		}
	}
	return nil
}
