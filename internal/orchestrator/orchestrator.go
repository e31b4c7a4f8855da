package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/opentalon/idpportal/internal/actor"
	"github.com/opentalon/idpportal/internal/metrics"
	"github.com/opentalon/idpportal/internal/provider"
)

const (
	DefaultMaxIterations = 5

	// TaskCompletedMessage is the final message when the supervisor ends a
	// run without a response of its own.
	TaskCompletedMessage = "Task completed."

	continuePrompt = "Decide whether more work remains. Reply with the JSON decision object only."
)

// RunObserver is notified after every successful run.
type RunObserver interface {
	RunCompleted(ctx context.Context, res *RunResult)
}

// Supervisor routes a request to handlers until the model decides the
// work is done or the iteration limit is reached.
type Supervisor struct {
	llm           LLMClient
	model         string
	maxTokens     int
	temperature   *float64
	registry      *Registry
	parser        DecisionParser
	rules         *RulesConfig
	maxIterations int
	observers     []RunObserver
	logger        *zap.Logger
	metrics       *metrics.Metrics
}

type Option func(*Supervisor)

func WithModel(model string) Option {
	return func(s *Supervisor) { s.model = model }
}

func WithMaxTokens(n int) Option {
	return func(s *Supervisor) { s.maxTokens = n }
}

func WithTemperature(t *float64) Option {
	return func(s *Supervisor) { s.temperature = t }
}

func WithMaxIterations(n int) Option {
	return func(s *Supervisor) {
		if n > 0 {
			s.maxIterations = n
		}
	}
}

func WithParser(p DecisionParser) Option {
	return func(s *Supervisor) { s.parser = p }
}

func WithRules(custom []string) Option {
	return func(s *Supervisor) { s.rules = NewRulesConfig(custom) }
}

func WithObserver(o RunObserver) Option {
	return func(s *Supervisor) { s.observers = append(s.observers, o) }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

func NewSupervisor(llm LLMClient, registry *Registry, opts ...Option) *Supervisor {
	s := &Supervisor{
		llm:           llm,
		registry:      registry,
		parser:        StrictParser,
		rules:         DefaultRulesConfig(),
		maxIterations: DefaultMaxIterations,
		logger:        zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// State is the working state of one run. Messages only grow.
type State struct {
	Messages       []provider.Message
	ConversationID string
	Outputs        *Outputs
	Context        map[string]any
}

func (st *State) appendAssistant(content, name string) {
	st.Messages = append(st.Messages, provider.Message{
		Role:    provider.RoleAssistant,
		Content: content,
		Name:    name,
	})
}

type RunResult struct {
	Messages       []provider.Message `json:"messages"`
	Outputs        *Outputs           `json:"agent_outputs"`
	ConversationID string             `json:"conversation_id"`
	Iterations     int                `json:"iterations"`
	// Truncated is set when the iteration limit ended the run.
	Truncated bool `json:"truncated"`
}

// FinalMessage returns the content of the last message.
func (r *RunResult) FinalMessage() string {
	if len(r.Messages) == 0 {
		return ""
	}
	return r.Messages[len(r.Messages)-1].Content
}

// Run executes one supervisor run for message. Handler failures are
// recorded in the transcript and do not end the run; only a failed
// supervisor model call returns an error.
func (s *Supervisor) Run(ctx context.Context, message, conversationID string) (*RunResult, error) {
	start := time.Now()
	log := s.logger.With(zap.String("conversation_id", conversationID))

	st := &State{
		Messages:       []provider.Message{{Role: provider.RoleUser, Content: message}},
		ConversationID: conversationID,
		Outputs:        NewOutputs(),
		Context:        make(map[string]any),
	}
	if who := actor.Actor(ctx); who != "" {
		st.Context["actor"] = who
	}
	st.Context["conversation_id"] = conversationID

	system := s.buildSystemPrompt()
	res := &RunResult{ConversationID: conversationID}

	done := false
	for res.Iterations < s.maxIterations && !done {
		res.Iterations++

		resp, err := s.llm.Complete(ctx, &provider.CompletionRequest{
			Model:       s.model,
			Messages:    s.buildMessages(system, st.Messages),
			MaxTokens:   s.maxTokens,
			Temperature: s.temperature,
		})
		if err != nil {
			s.metrics.RecordRun("error", time.Since(start))
			return nil, fmt.Errorf("supervisor decision: %w", err)
		}

		done = s.step(ctx, log, st, message, s.parser.Parse(resp.Content))
	}

	res.Messages = st.Messages
	res.Outputs = st.Outputs
	res.Truncated = !done

	outcome := "completed"
	if res.Truncated {
		outcome = "truncated"
		log.Warn("run stopped at iteration limit", zap.Int("iterations", res.Iterations))
	}
	s.metrics.RecordRun(outcome, time.Since(start))

	for _, o := range s.observers {
		o.RunCompleted(ctx, res)
	}
	return res, nil
}

// step applies one decision to st and reports whether the run is over.
func (s *Supervisor) step(ctx context.Context, log *zap.Logger, st *State, message string, d Decision) bool {
	switch d := d.(type) {
	case Malformed:
		s.metrics.RecordDecision("malformed")
		log.Debug("supervisor answered without a decision object", zap.Error(d.Err))
		st.appendAssistant(d.Raw, "")
		return true

	case Terminate:
		s.metrics.RecordDecision("terminate")
		final := d.Response
		if final == "" {
			final = TaskCompletedMessage
		}
		st.appendAssistant(final, "")
		return true

	case Delegate:
		h, ok := s.registry.Get(d.Agent)
		if !ok {
			s.metrics.RecordDecision("unknown_agent")
			err := &UnknownHandlerError{Name: d.Agent}
			log.Warn("supervisor chose an unknown agent", zap.Error(err))
			st.appendAssistant(strings.TrimSpace(fmt.Sprintf("Agent '%s' not available. %s", d.Agent, d.Response)), "")
			return true
		}
		s.metrics.RecordDecision("delegate")

		task := d.Task
		if task == "" {
			task = message
		}
		log.Info("delegating", zap.String("agent", d.Agent), zap.String("reasoning", d.Reasoning))

		result, err := h.Invoke(ctx, task, st.Context)
		s.metrics.RecordDelegation(d.Agent, err)
		if err != nil {
			log.Error("agent failed", zap.String("agent", d.Agent), zap.Error(err))
			st.appendAssistant(fmt.Sprintf("[%s agent] Error: %s", d.Agent, invocationMessage(err)), d.Agent)
			return false
		}
		if result.ToolsUsed == nil {
			result.ToolsUsed = []string{}
		}
		st.Outputs.Set(d.Agent, result)
		st.appendAssistant(fmt.Sprintf("[%s agent]: %s", d.Agent, result.Content), d.Agent)
		return false

	default:
		panic(fmt.Sprintf("orchestrator: unhandled decision %T", d))
	}
}

// invocationMessage strips the HandlerInvocationError prefix, since the
// transcript label already names the agent.
func invocationMessage(err error) string {
	var hie *HandlerInvocationError
	if errors.As(err, &hie) {
		return hie.Err.Error()
	}
	return err.Error()
}

// buildMessages prepends the system prompt. When the transcript ends with
// an assistant entry a user turn is added to the request only, so the
// model is asked for a new decision rather than a continuation.
func (s *Supervisor) buildMessages(system string, transcript []provider.Message) []provider.Message {
	messages := make([]provider.Message, 0, len(transcript)+2)
	messages = append(messages, provider.Message{Role: provider.RoleSystem, Content: system})
	messages = append(messages, transcript...)
	if n := len(transcript); n > 0 && transcript[n-1].Role != provider.RoleUser {
		messages = append(messages, provider.Message{Role: provider.RoleUser, Content: continuePrompt})
	}
	return messages
}

func (s *Supervisor) buildSystemPrompt() string {
	var sb strings.Builder
	sb.WriteString("You are the IDP Portal Supervisor Agent. You orchestrate platform engineering tasks\n")
	sb.WriteString("by delegating to specialized sub-agents.\n\n")

	sb.WriteString("Available agents:\n")
	sb.WriteString(s.registry.Describe())
	sb.WriteString("\n\n")

	sb.WriteString(`When a user sends a message:
1. Analyze what they need
2. Decide which agent(s) to delegate to
3. If the task requires multiple agents, execute them in the right order
4. Synthesize the results into a clear response

Respond with a JSON object:
{
    "reasoning": "your analysis of what needs to be done",
    "agent": "agent_name" or null if you can answer directly,
    "task": "specific task to delegate" or null,
    "response": "direct response if no agent needed" or null
}

If the task is complete, set "agent" to null and provide the final "response".

`)
	sb.WriteString(s.rules.BuildPromptSection())
	return sb.String()
}
