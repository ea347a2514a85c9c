// Package session defines the storage port the runner uses to seed and
// persist conversation history. Backends only need the narrow contract
// below; the engine never assumes exclusive access to the backing store.
package session

import (
	"context"
	"errors"

	"github.com/loopworks/agentrun/types"
)

var (
	ErrNotFound = errors.New("session: not found")
	ErrConflict = errors.New("session: conflict")
)

type Session interface {
	// GetItems returns conversation items in insertion order. A positive
	// limit returns only the latest items.
	GetItems(ctx context.Context, limit int) ([]types.ProtocolItem, error)

	// AddItems appends items to the conversation.
	AddItems(ctx context.Context, items []types.ProtocolItem) error

	// PopItem removes and returns the most recent item, or nil when the
	// session is empty.
	PopItem(ctx context.Context) (*types.ProtocolItem, error)

	// ClearSession removes all items.
	ClearSession(ctx context.Context) error

	Close() error
}
