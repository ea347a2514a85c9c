package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/loopworks/agentrun/types"
)

// ErrNoApprovalCallback reports that a hosted tool received an approval
// request but declares no callback to answer it.
var ErrNoApprovalCallback = errors.New("no approval callback registered")

// HostedTool declares a tool that executes on a remote protocol server. The
// server runs the call itself; the engine only records the call/output items
// the model reports and resolves any approval requests the server raises.
type HostedTool struct {
	Server      string
	Name        string
	Description string

	// OnApprovalRequest answers server-side approval requests. When nil,
	// requested calls proceed with a logged warning.
	OnApprovalRequest func(ctx context.Context, request types.ProtocolItem) (ApprovalDecision, error)
}

func (t HostedTool) Definition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		Kind:        types.ToolKindHosted,
		Server:      t.Server,
	}
}

func (t HostedTool) Execute(context.Context, json.RawMessage) (any, error) {
	return nil, fmt.Errorf("hosted tool %q executes on server %q, not locally", t.Name, t.Server)
}

func (t HostedTool) Origin() Origin {
	return Origin{Kind: OriginProtocol, Server: t.Server}
}

func (t HostedTool) ResolveApproval(ctx context.Context, request types.ProtocolItem) (ApprovalDecision, error) {
	if t.OnApprovalRequest == nil {
		return ApprovalDecision{}, fmt.Errorf("hosted tool %q: %w", t.Name, ErrNoApprovalCallback)
	}
	return t.OnApprovalRequest(ctx, request)
}
