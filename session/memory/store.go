// Package memory provides an in-process Session backend, mainly for tests
// and short-lived runs.
package memory

import (
	"context"
	"sync"

	"github.com/loopworks/agentrun/types"
)

type Store struct {
	mu    sync.Mutex
	items []types.ProtocolItem
}

func New() *Store {
	return &Store{}
}

func (s *Store) GetItems(_ context.Context, limit int) ([]types.ProtocolItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.items
	if limit > 0 && len(items) > limit {
		items = items[len(items)-limit:]
	}
	out := make([]types.ProtocolItem, len(items))
	copy(out, items)
	return out, nil
}

func (s *Store) AddItems(_ context.Context, items []types.ProtocolItem) error {
	if len(items) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, items...)
	return nil
}

func (s *Store) PopItem(_ context.Context) (*types.ProtocolItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		return nil, nil
	}
	last := s.items[len(s.items)-1]
	s.items = s.items[:len(s.items)-1]
	return &last, nil
}

func (s *Store) ClearSession(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	return nil
}

func (s *Store) Close() error { return nil }
