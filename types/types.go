package types

import "encoding/json"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ItemType discriminates the closed set of protocol item kinds the engine
// understands. Anything else decodes as ItemTypeUnknown with the payload
// preserved in Raw.
type ItemType string

const (
	ItemTypeMessage            ItemType = "message"
	ItemTypeReasoning          ItemType = "reasoning"
	ItemTypeFunctionCall       ItemType = "function_call"
	ItemTypeFunctionCallOutput ItemType = "function_call_output"
	ItemTypeApprovalRequest    ItemType = "approval_request"
	ItemTypeApprovalResponse   ItemType = "approval_response"
	ItemTypeToolListing        ItemType = "tool_listing"
	ItemTypeShellCall          ItemType = "shell_call"
	ItemTypeApplyPatchCall     ItemType = "apply_patch_call"
	ItemTypeComputerCall       ItemType = "computer_call"
	ItemTypeLocalShellCall     ItemType = "local_shell_call"
	ItemTypeUnknown            ItemType = "unknown"
)

// ProtocolItem is the canonical wire shape of one conversation item. It is a
// flat tagged union: Type selects which fields are meaningful. Provider
// payloads are normalized into this shape exactly once, at the boundary;
// nothing deeper in the engine branches on provider casing.
type ProtocolItem struct {
	Type      ItemType        `json:"type"`
	ID        string          `json:"id,omitempty"`
	Role      Role            `json:"role,omitempty"`
	Content   string          `json:"content,omitempty"`
	Summary   string          `json:"summary,omitempty"`
	Name      string          `json:"name,omitempty"`
	CallID    string          `json:"callId,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
	Status    string          `json:"status,omitempty"`
	Server    string          `json:"server,omitempty"`
	Approved  *bool           `json:"approved,omitempty"`
	Reason    string          `json:"reason,omitempty"`

	// Raw carries the unrecognized payload for ItemTypeUnknown so
	// forward-compatible items survive a round trip untouched.
	Raw json.RawMessage `json:"raw,omitempty"`
}

type ToolCall struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolKind describes how a tool call is dispatched.
type ToolKind string

const (
	ToolKindFunction   ToolKind = "function"
	ToolKindHosted     ToolKind = "hosted"
	ToolKindShell      ToolKind = "shell"
	ToolKindApplyPatch ToolKind = "apply_patch"
	ToolKindComputer   ToolKind = "computer"
	ToolKindLocalShell ToolKind = "local_shell"
)

type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Kind        ToolKind       `json:"kind,omitempty"`
	Server      string         `json:"server,omitempty"`
	JSONSchema  map[string]any `json:"jsonSchema,omitempty"`
}

// ModelRequest is the input to one model call.
type ModelRequest struct {
	SystemInstructions string           `json:"systemInstructions,omitempty"`
	Input              []ProtocolItem   `json:"input"`
	Tools              []ToolDefinition `json:"tools,omitempty"`
	Handoffs           []ToolDefinition `json:"handoffs,omitempty"`
	OutputSchema       map[string]any   `json:"outputSchema,omitempty"`
	ConversationID     string           `json:"conversationId,omitempty"`
	PreviousResponseID string           `json:"previousResponseId,omitempty"`
	// DisableTools forces a plain-text answer; used by the max-turns
	// escape hatch.
	DisableTools bool `json:"disableTools,omitempty"`
}

// ModelResponse is one model call's output.
type ModelResponse struct {
	Output     []ProtocolItem `json:"output"`
	Usage      Usage          `json:"usage"`
	ResponseID string         `json:"responseId,omitempty"`
}

// Usage accumulates monotonically across a run. A request is counted even
// when the call fails before token counts are known.
type Usage struct {
	Requests     int                        `json:"requests,omitempty"`
	InputTokens  int                        `json:"inputTokens,omitempty"`
	OutputTokens int                        `json:"outputTokens,omitempty"`
	TotalTokens  int                        `json:"totalTokens,omitempty"`
	Details      map[string]json.RawMessage `json:"details,omitempty"`
}

func (u *Usage) Add(other Usage) {
	u.Requests += other.Requests
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
	for key, value := range other.Details {
		if u.Details == nil {
			u.Details = make(map[string]json.RawMessage, len(other.Details))
		}
		u.Details[key] = value
	}
}

// UserMessage builds the ProtocolItem for plain caller input.
func UserMessage(text string) ProtocolItem {
	return ProtocolItem{
		Type:    ItemTypeMessage,
		Role:    RoleUser,
		Content: text,
	}
}

// SystemMessage builds an instruction item injected by the engine.
func SystemMessage(text string) ProtocolItem {
	return ProtocolItem{
		Type:    ItemTypeMessage,
		Role:    RoleSystem,
		Content: text,
	}
}
