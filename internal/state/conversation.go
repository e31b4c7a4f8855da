package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/opentalon/idpportal/internal/provider"
)

// ErrNotFound is returned by stores for an unknown conversation id.
var ErrNotFound = errors.New("conversation not found")

// AgentOutput is the last result one agent produced in a run.
type AgentOutput struct {
	Agent     string   `json:"agent"`
	Content   string   `json:"content"`
	ToolsUsed []string `json:"tools_used"`
}

// Conversation is the stored transcript of every run under one id.
type Conversation struct {
	ID        string             `json:"id"`
	Actor     string             `json:"actor,omitempty"`
	Messages  []provider.Message `json:"messages"`
	Outputs   []AgentOutput      `json:"agent_outputs"`
	Runs      int                `json:"runs"`
	Truncated bool               `json:"truncated"` // last run hit the iteration limit
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// NewConversation returns an empty conversation stamped with the current time.
func NewConversation(id, actor string) *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		ID:        id,
		Actor:     actor,
		Messages:  make([]provider.Message, 0),
		Outputs:   make([]AgentOutput, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Store persists conversations.
type Store interface {
	Get(ctx context.Context, id string) (*Conversation, error)
	Save(ctx context.Context, conv *Conversation) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
}

// TrimMessages drops the oldest messages so at most max remain. max <= 0
// keeps everything.
func (c *Conversation) TrimMessages(max int) {
	if max > 0 && len(c.Messages) > max {
		c.Messages = append([]provider.Message(nil), c.Messages[len(c.Messages)-max:]...)
	}
}

// Pruner removes idle conversations and reports the ids it removed.
type Pruner interface {
	PruneIdle(ctx context.Context) ([]string, error)
}

// MemoryStore keeps conversations in memory.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{conversations: make(map[string]*Conversation)}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return clone(conv), nil
}

func (s *MemoryStore) Save(_ context.Context, conv *Conversation) error {
	if conv.ID == "" {
		return errors.New("conversation id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ID] = clone(conv)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, id)
	return nil
}

// List returns conversation ids sorted.
func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.conversations))
	for id := range s.conversations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func clone(c *Conversation) *Conversation {
	out := *c
	out.Messages = append([]provider.Message(nil), c.Messages...)
	out.Outputs = append([]AgentOutput(nil), c.Outputs...)
	return &out
}
