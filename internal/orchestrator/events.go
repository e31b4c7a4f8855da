package orchestrator

import (
	"context"
	"encoding/json"
	"iter"
	"sync/atomic"

	"go.uber.org/zap"
)

type EventType string

const (
	EventThinking    EventType = "thinking"
	EventAgentOutput EventType = "agent_output"
	EventMessage     EventType = "message"
	EventError       EventType = "error"
	EventDone        EventType = "done"
)

const thinkingContent = "Analyzing your request..."

// Event is one step of a streamed run.
type Event struct {
	Type           EventType
	Content        string
	Agent          string
	ToolsUsed      []string
	ConversationID string
}

// MarshalJSON emits only the fields that belong to the event type.
func (e Event) MarshalJSON() ([]byte, error) {
	out := map[string]any{"type": e.Type}
	switch e.Type {
	case EventThinking, EventError:
		out["content"] = e.Content
	case EventAgentOutput:
		tools := e.ToolsUsed
		if tools == nil {
			tools = []string{}
		}
		out["agent"] = e.Agent
		out["content"] = e.Content
		out["tools_used"] = tools
	case EventMessage:
		out["content"] = e.Content
		out["conversation_id"] = e.ConversationID
	}
	return json.Marshal(out)
}

// Runner executes a supervisor run. *Supervisor implements it.
type Runner interface {
	Run(ctx context.Context, message, conversationID string) (*RunResult, error)
}

// Emitter replays a run as a sequence of events.
type Emitter struct {
	runner Runner
	logger *zap.Logger
}

func NewEmitter(runner Runner, logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{runner: runner, logger: logger}
}

// Stream returns the events of one run: thinking, one agent_output per
// handler result, the final message, then done. A failed run yields
// thinking, error, done. The run executes in full after thinking is
// consumed; stopping early only stops delivery. The sequence can be
// ranged over once.
func (e *Emitter) Stream(ctx context.Context, message, conversationID string) iter.Seq[Event] {
	var used atomic.Bool
	return func(yield func(Event) bool) {
		if !used.CompareAndSwap(false, true) {
			return
		}
		if !yield(Event{Type: EventThinking, Content: thinkingContent}) {
			return
		}

		res, err := e.runner.Run(ctx, message, conversationID)
		if err != nil {
			e.logger.Error("run failed", zap.String("conversation_id", conversationID), zap.Error(err))
			if !yield(Event{Type: EventError, Content: err.Error()}) {
				return
			}
			yield(Event{Type: EventDone})
			return
		}

		for name, out := range res.Outputs.All() {
			if !yield(Event{Type: EventAgentOutput, Agent: name, Content: out.Content, ToolsUsed: out.ToolsUsed}) {
				return
			}
		}
		if len(res.Messages) > 0 {
			if !yield(Event{Type: EventMessage, Content: res.FinalMessage(), ConversationID: res.ConversationID}) {
				return
			}
		}
		yield(Event{Type: EventDone})
	}
}
