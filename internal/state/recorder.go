package state

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/opentalon/idpportal/internal/actor"
	"github.com/opentalon/idpportal/internal/orchestrator"
)

// Recorder appends every completed run to its conversation in a Store.
type Recorder struct {
	store       Store
	maxMessages int // 0 = no cap
	logger      *zap.Logger
}

// NewRecorder returns a recorder that keeps at most maxMessages messages
// per conversation (0 = no cap).
func NewRecorder(store Store, maxMessages int, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, maxMessages: maxMessages, logger: logger}
}

// RunCompleted implements orchestrator.RunObserver. Runs without a
// conversation id are not stored. Failures are logged only.
func (r *Recorder) RunCompleted(ctx context.Context, res *orchestrator.RunResult) {
	if res.ConversationID == "" {
		return
	}
	if err := r.Append(ctx, res); err != nil {
		r.logger.Error("failed to store conversation",
			zap.String("conversation_id", res.ConversationID), zap.Error(err))
	}
}

// Append adds the run's transcript to the stored conversation, creating
// it on first use. Outputs are replaced by the run's outputs.
func (r *Recorder) Append(ctx context.Context, res *orchestrator.RunResult) error {
	conv, err := r.store.Get(ctx, res.ConversationID)
	if errors.Is(err, ErrNotFound) {
		conv = NewConversation(res.ConversationID, actor.Actor(ctx))
	} else if err != nil {
		return err
	}

	conv.Messages = append(conv.Messages, res.Messages...)
	conv.TrimMessages(r.maxMessages)
	conv.Outputs = OutputsFromRun(res)
	conv.Runs++
	conv.Truncated = res.Truncated
	conv.UpdatedAt = time.Now().UTC()
	return r.store.Save(ctx, conv)
}

// OutputsFromRun flattens the run's outputs in insertion order.
func OutputsFromRun(res *orchestrator.RunResult) []AgentOutput {
	out := make([]AgentOutput, 0)
	if res.Outputs == nil {
		return out
	}
	for name, r := range res.Outputs.All() {
		tools := r.ToolsUsed
		if tools == nil {
			tools = []string{}
		}
		out = append(out, AgentOutput{Agent: name, Content: r.Content, ToolsUsed: tools})
	}
	return out
}
