// Package llm defines the model provider port the run engine calls into.
// Concrete clients (OpenAI-style HTTP, local inference, test stubs) live
// outside the engine and only need to satisfy these interfaces.
package llm

import (
	"context"
	"errors"

	"github.com/loopworks/agentrun/types"
)

var ErrNotSupported = errors.New("operation not supported by model")

// ErrConversationLocked reports a transient conflict on a server-managed
// conversation. The runner retries the same turn exactly once when a
// provider returns an error wrapping this sentinel.
var ErrConversationLocked = errors.New("conversation is locked")

type Capabilities struct {
	Tools               bool
	Streaming           bool
	StructuredOutput    bool
	ServerConversations bool
}

type Model interface {
	Name() string
	Capabilities() Capabilities
	Call(ctx context.Context, req types.ModelRequest) (types.ModelResponse, error)
}

// StreamEvent is the tagged union produced by streaming model calls:
// either an incremental Delta or the terminal Response, never both.
type StreamEvent struct {
	Delta    string
	Response *types.ModelResponse
}

// StreamingModel is implemented by models that can yield incremental
// output. The returned channel is closed after the terminal event; the
// terminal event carries the same response shape as Call.
type StreamingModel interface {
	Model
	CallStreamed(ctx context.Context, req types.ModelRequest) (<-chan StreamEvent, error)
}
