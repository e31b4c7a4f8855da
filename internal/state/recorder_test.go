package state

import (
	"context"
	"testing"

	"github.com/opentalon/idpportal/internal/actor"
	"github.com/opentalon/idpportal/internal/orchestrator"
	"github.com/opentalon/idpportal/internal/provider"
)

func runResult(id, final string) *orchestrator.RunResult {
	outs := orchestrator.NewOutputs()
	outs.Set("argocd", orchestrator.HandlerResult{Content: "synced"})
	return &orchestrator.RunResult{
		Messages: []provider.Message{
			{Role: provider.RoleUser, Content: "sync payments"},
			{Role: provider.RoleAssistant, Content: final},
		},
		Outputs:        outs,
		ConversationID: id,
	}
}

func TestRecorderAppendsRuns(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store, 0, nil)
	ctx := actor.WithActor(context.Background(), "alice")

	rec.RunCompleted(ctx, runResult("c1", "first"))
	rec.RunCompleted(ctx, runResult("c1", "second"))

	conv, err := store.Get(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if conv.Runs != 2 || len(conv.Messages) != 4 {
		t.Errorf("runs = %d messages = %d", conv.Runs, len(conv.Messages))
	}
	if conv.Messages[3].Content != "second" {
		t.Errorf("last message = %q", conv.Messages[3].Content)
	}
	if conv.Actor != "alice" {
		t.Errorf("actor = %q", conv.Actor)
	}
	if len(conv.Outputs) != 1 || conv.Outputs[0].ToolsUsed == nil {
		t.Errorf("outputs = %+v", conv.Outputs)
	}
}

func TestRecorderCapsMessages(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store, 3, nil)
	ctx := context.Background()

	for _, final := range []string{"first", "second", "third"} {
		rec.RunCompleted(ctx, runResult("c1", final))
	}
	conv, err := store.Get(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if conv.Runs != 3 || len(conv.Messages) != 3 {
		t.Fatalf("runs = %d messages = %d", conv.Runs, len(conv.Messages))
	}
	if conv.Messages[2].Content != "third" || conv.Messages[0].Content != "second" {
		t.Errorf("messages = %+v", conv.Messages)
	}
}

func TestRecorderSkipsAnonymousRuns(t *testing.T) {
	store := NewMemoryStore()
	NewRecorder(store, 0, nil).RunCompleted(context.Background(), runResult("", "x"))
	ids, _ := store.List(context.Background())
	if len(ids) != 0 {
		t.Errorf("ids = %v", ids)
	}
}

func TestOutputsFromRunOrder(t *testing.T) {
	outs := orchestrator.NewOutputs()
	outs.Set("vault", orchestrator.HandlerResult{Content: "a"})
	outs.Set("slack", orchestrator.HandlerResult{Content: "b"})
	got := OutputsFromRun(&orchestrator.RunResult{Outputs: outs})
	if len(got) != 2 || got[0].Agent != "vault" || got[1].Agent != "slack" {
		t.Errorf("outputs = %+v", got)
	}
	if len(OutputsFromRun(&orchestrator.RunResult{})) != 0 {
		t.Error("nil outputs should flatten to empty")
	}
}
