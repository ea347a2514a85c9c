// Package hybrid layers a fast cache session over a durable one. Writes land
// in the durable backend first; cache failures are logged and tolerated.
package hybrid

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loopworks/agentrun/session"
	"github.com/loopworks/agentrun/types"
)

type Store struct {
	durable session.Session
	cache   session.Session
}

func New(durable, cache session.Session) (*Store, error) {
	if durable == nil {
		return nil, fmt.Errorf("durable session is required")
	}
	return &Store{durable: durable, cache: cache}, nil
}

func (h *Store) GetItems(ctx context.Context, limit int) ([]types.ProtocolItem, error) {
	if h.cache != nil {
		items, err := h.cache.GetItems(ctx, limit)
		if err == nil && len(items) > 0 {
			return items, nil
		}
		if err != nil {
			slog.Warn("hybrid session cache read failed", "error", err)
		}
	}
	return h.durable.GetItems(ctx, limit)
}

func (h *Store) AddItems(ctx context.Context, items []types.ProtocolItem) error {
	if err := h.durable.AddItems(ctx, items); err != nil {
		return err
	}
	if h.cache != nil {
		if err := h.cache.AddItems(ctx, items); err != nil {
			slog.Warn("hybrid session cache append failed", "error", err)
		}
	}
	return nil
}

func (h *Store) PopItem(ctx context.Context) (*types.ProtocolItem, error) {
	item, err := h.durable.PopItem(ctx)
	if err != nil {
		return nil, err
	}
	if h.cache != nil {
		if _, err := h.cache.PopItem(ctx); err != nil {
			slog.Warn("hybrid session cache pop failed", "error", err)
		}
	}
	return item, nil
}

func (h *Store) ClearSession(ctx context.Context) error {
	if err := h.durable.ClearSession(ctx); err != nil {
		return err
	}
	if h.cache != nil {
		if err := h.cache.ClearSession(ctx); err != nil {
			slog.Warn("hybrid session cache clear failed", "error", err)
		}
	}
	return nil
}

func (h *Store) Close() error {
	if h.cache != nil {
		_ = h.cache.Close()
	}
	return h.durable.Close()
}
