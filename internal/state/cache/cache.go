// Package cache puts a Redis read-through cache in front of a state.Store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/opentalon/idpportal/internal/config"
	"github.com/opentalon/idpportal/internal/state"
)

const keyPrefix = "idpportal:conversation:"

// Store caches conversations of the wrapped store in Redis. The wrapped
// store stays authoritative: cache failures are logged and bypassed.
type Store struct {
	next   state.Store
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

var (
	_ state.Store  = (*Store)(nil)
	_ state.Pruner = (*Store)(nil)
)

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis: addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return client, nil
}

// Wrap returns next with a cache in front of it. A ttl <= 0 keeps entries
// until they are overwritten or deleted.
func Wrap(next state.Store, client *redis.Client, ttl time.Duration, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{next: next, client: client, ttl: ttl, logger: logger}
}

func (s *Store) Get(ctx context.Context, id string) (*state.Conversation, error) {
	data, err := s.client.Get(ctx, keyPrefix+id).Bytes()
	switch {
	case err == nil:
		var conv state.Conversation
		if err := json.Unmarshal(data, &conv); err == nil {
			return &conv, nil
		}
		s.logger.Warn("dropping undecodable cache entry", zap.String("conversation_id", id))
		_ = s.client.Del(ctx, keyPrefix+id).Err()
	case errors.Is(err, redis.Nil):
	default:
		s.logger.Warn("cache read failed", zap.String("conversation_id", id), zap.Error(err))
	}

	conv, err := s.next.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.put(ctx, conv)
	return conv, nil
}

func (s *Store) Save(ctx context.Context, conv *state.Conversation) error {
	if err := s.next.Save(ctx, conv); err != nil {
		return err
	}
	s.put(ctx, conv)
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, keyPrefix+id).Err(); err != nil {
		s.logger.Warn("cache delete failed", zap.String("conversation_id", id), zap.Error(err))
	}
	return s.next.Delete(ctx, id)
}

func (s *Store) List(ctx context.Context) ([]string, error) {
	return s.next.List(ctx)
}

// PruneIdle prunes the wrapped store and drops the removed conversations
// from the cache. It fails when the wrapped store does not prune.
func (s *Store) PruneIdle(ctx context.Context) ([]string, error) {
	p, ok := s.next.(state.Pruner)
	if !ok {
		return nil, errors.New("cache: wrapped store does not prune")
	}
	ids, err := p.PruneIdle(ctx)
	if len(ids) > 0 {
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = keyPrefix + id
		}
		if derr := s.client.Del(ctx, keys...).Err(); derr != nil {
			s.logger.Warn("cache delete after prune failed", zap.Int("count", len(ids)), zap.Error(derr))
		}
	}
	return ids, err
}

// Ping reports whether Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) put(ctx context.Context, conv *state.Conversation) {
	data, err := json.Marshal(conv)
	if err != nil {
		s.logger.Warn("cache encode failed", zap.String("conversation_id", conv.ID), zap.Error(err))
		return
	}
	if err := s.client.Set(ctx, keyPrefix+conv.ID, data, s.ttl).Err(); err != nil {
		s.logger.Warn("cache write failed", zap.String("conversation_id", conv.ID), zap.Error(err))
	}
}
