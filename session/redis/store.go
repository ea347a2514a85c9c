// Package redis provides a Session backend on a Redis list, suitable for
// sharing history between short-lived processes.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/loopworks/agentrun/types"
)

const (
	defaultTTL    = 72 * time.Hour
	defaultPrefix = "agentrun"
)

type Store struct {
	client    *goredis.Client
	sessionID string
	ttl       time.Duration
	prefix    string
	addr      string
	db        int
	password  string
}

type Option func(*Store)

func WithPassword(password string) Option {
	return func(s *Store) { s.password = password }
}

func WithDB(db int) Option {
	return func(s *Store) { s.db = db }
}

func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if strings.TrimSpace(prefix) != "" {
			s.prefix = strings.TrimSpace(prefix)
		}
	}
}

func WithClient(client *goredis.Client) Option {
	return func(s *Store) {
		if client != nil {
			s.client = client
		}
	}
}

func New(addr, sessionID string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("session id is required")
	}

	s := &Store{
		sessionID: sessionID,
		ttl:       defaultTTL,
		prefix:    defaultPrefix,
		addr:      addr,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = goredis.NewClient(&goredis.Options{
			Addr:     s.addr,
			Password: s.password,
			DB:       s.db,
		})
	}

	if err := s.client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return s, nil
}

func (s *Store) key() string {
	return fmt.Sprintf("%s:session:%s:items", s.prefix, s.sessionID)
}

func (s *Store) GetItems(ctx context.Context, limit int) ([]types.ProtocolItem, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raw, err := s.client.LRange(ctx, s.key(), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session items: %w", err)
	}
	items := make([]types.ProtocolItem, 0, len(raw))
	for _, entry := range raw {
		var item types.ProtocolItem
		if err := json.Unmarshal([]byte(entry), &item); err != nil {
			return nil, fmt.Errorf("failed to decode session item: %w", err)
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *Store) AddItems(ctx context.Context, items []types.ProtocolItem) error {
	if len(items) == 0 {
		return nil
	}
	encoded := make([]any, 0, len(items))
	for _, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to encode session item: %w", err)
		}
		encoded = append(encoded, string(raw))
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.key(), encoded...)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.key(), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append session items: %w", err)
	}
	return nil
}

func (s *Store) PopItem(ctx context.Context) (*types.ProtocolItem, error) {
	raw, err := s.client.RPop(ctx, s.key()).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop session item: %w", err)
	}
	var item types.ProtocolItem
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		return nil, fmt.Errorf("failed to decode session item: %w", err)
	}
	return &item, nil
}

func (s *Store) ClearSession(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key()).Err(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
