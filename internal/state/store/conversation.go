package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opentalon/idpportal/internal/provider"
	"github.com/opentalon/idpportal/internal/state"
)

// timeLayout is fixed-width so stored timestamps sort as strings.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// ConversationStore is the SQL-backed state.Store.
type ConversationStore struct {
	db          *DB
	maxMessages int // 0 = no cap
	maxIdleDays int // 0 = don't prune
}

var _ state.Store = (*ConversationStore)(nil)

// NewConversationStore returns a store that uses the given DB.
// maxMessages caps stored messages per conversation (0 = no cap);
// maxIdleDays enables pruning of idle conversations (0 = off).
func NewConversationStore(db *DB, maxMessages, maxIdleDays int) *ConversationStore {
	return &ConversationStore{db: db, maxMessages: maxMessages, maxIdleDays: maxIdleDays}
}

func (s *ConversationStore) Get(ctx context.Context, id string) (*state.Conversation, error) {
	var actor, messagesJSON, outputsJSON, createdAt, updatedAt string
	var runs, truncated int
	err := s.db.SQLDB().QueryRowContext(ctx, s.db.rebind(
		`SELECT actor, messages, outputs, runs, truncated, created_at, updated_at FROM conversations WHERE id = ?`),
		id,
	).Scan(&actor, &messagesJSON, &outputsJSON, &runs, &truncated, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", state.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("conversation get: %w", err)
	}

	conv := &state.Conversation{
		ID:        id,
		Actor:     actor,
		Messages:  []provider.Message{},
		Outputs:   []state.AgentOutput{},
		Runs:      runs,
		Truncated: truncated != 0,
	}
	if err := json.Unmarshal([]byte(messagesJSON), &conv.Messages); err != nil {
		return nil, fmt.Errorf("conversation get: decode messages: %w", err)
	}
	if err := json.Unmarshal([]byte(outputsJSON), &conv.Outputs); err != nil {
		return nil, fmt.Errorf("conversation get: decode outputs: %w", err)
	}
	conv.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	conv.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return conv, nil
}

// Save inserts or replaces the conversation. With maxMessages set only the
// newest messages are kept, and conv is trimmed to match what is stored.
func (s *ConversationStore) Save(ctx context.Context, conv *state.Conversation) error {
	if conv.ID == "" {
		return errors.New("conversation id is required")
	}
	conv.TrimMessages(s.maxMessages)
	messages := conv.Messages
	if messages == nil {
		messages = []provider.Message{}
	}
	outputs := conv.Outputs
	if outputs == nil {
		outputs = []state.AgentOutput{}
	}

	messagesJSON, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("conversation save: marshal messages: %w", err)
	}
	outputsJSON, err := json.Marshal(outputs)
	if err != nil {
		return fmt.Errorf("conversation save: marshal outputs: %w", err)
	}
	created := conv.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	updated := conv.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	truncated := 0
	if conv.Truncated {
		truncated = 1
	}

	_, err = s.db.SQLDB().ExecContext(ctx, s.db.rebind(s.upsertQuery()),
		conv.ID, conv.Actor, string(messagesJSON), string(outputsJSON), conv.Runs, truncated,
		created.UTC().Format(timeLayout), updated.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("conversation save: %w", err)
	}
	return nil
}

func (s *ConversationStore) upsertQuery() string {
	const insert = `INSERT INTO conversations (id, actor, messages, outputs, runs, truncated, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if s.db.Dialect() == MySQL {
		return insert + ` ON DUPLICATE KEY UPDATE actor = VALUES(actor), messages = VALUES(messages), outputs = VALUES(outputs), runs = VALUES(runs), truncated = VALUES(truncated), updated_at = VALUES(updated_at)`
	}
	return insert + ` ON CONFLICT (id) DO UPDATE SET actor = excluded.actor, messages = excluded.messages, outputs = excluded.outputs, runs = excluded.runs, truncated = excluded.truncated, updated_at = excluded.updated_at`
}

func (s *ConversationStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.SQLDB().ExecContext(ctx, s.db.rebind(`DELETE FROM conversations WHERE id = ?`), id)
	return err
}

// List returns conversation ids, most recently updated first.
func (s *ConversationStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.SQLDB().QueryContext(ctx, `SELECT id FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

var _ state.Pruner = (*ConversationStore)(nil)

// PruneIdle deletes conversations not updated in the last maxIdleDays days
// and returns the removed ids. No-op if maxIdleDays <= 0.
func (s *ConversationStore) PruneIdle(ctx context.Context) ([]string, error) {
	if s.maxIdleDays <= 0 {
		return nil, nil
	}
	cutoff := time.Now().AddDate(0, 0, -s.maxIdleDays).UTC().Format(timeLayout)
	rows, err := s.db.SQLDB().QueryContext(ctx, s.db.rebind(`SELECT id FROM conversations WHERE updated_at < ?`), cutoff)
	if err != nil {
		return nil, fmt.Errorf("conversation prune: %w", err)
	}
	var candidates []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("conversation prune: %w", err)
		}
		candidates = append(candidates, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation prune: %w", err)
	}

	// A conversation updated after the scan keeps its row.
	var pruned []string
	for _, id := range candidates {
		res, err := s.db.SQLDB().ExecContext(ctx, s.db.rebind(`DELETE FROM conversations WHERE id = ? AND updated_at < ?`), id, cutoff)
		if err != nil {
			return pruned, fmt.Errorf("conversation prune %q: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			pruned = append(pruned, id)
		}
	}
	return pruned, nil
}
