package runner

import (
	"github.com/loopworks/agentrun/tools"
	"github.com/loopworks/agentrun/types"
)

// RunItemType discriminates the engine-level item variants a run produces.
type RunItemType string

const (
	ItemMessageOutput    RunItemType = "message_output_item"
	ItemToolCall         RunItemType = "tool_call_item"
	ItemToolCallOutput   RunItemType = "tool_call_output_item"
	ItemHandoffCall      RunItemType = "handoff_call_item"
	ItemHandoffOutput    RunItemType = "handoff_output_item"
	ItemReasoning        RunItemType = "reasoning_item"
	ItemToolApproval     RunItemType = "tool_approval_item"
	ItemApprovalRequest  RunItemType = "approval_request_item"
	ItemApprovalResponse RunItemType = "approval_response_item"
	ItemToolListing      RunItemType = "tool_listing_item"
)

// RunItem is one entry in a run's transcript: the raw protocol item plus
// the engine-level classification and the metadata serialization needs.
// Agent is the owning agent's name. Origin is set on tool items and is
// preserved through rejection and snapshot round trips. Handoff items carry
// source/target agent names; approval items carry an explicit tool name so
// it need not be re-derived from the raw payload.
type RunItem struct {
	Type        RunItemType        `json:"type"`
	Agent       string             `json:"agent"`
	Item        types.ProtocolItem `json:"rawItem"`
	Origin      *tools.Origin      `json:"origin,omitempty"`
	ToolName    string             `json:"toolName,omitempty"`
	SourceAgent string             `json:"sourceAgent,omitempty"`
	TargetAgent string             `json:"targetAgent,omitempty"`
}

// Fingerprint keys the item for deduplication, preferring the underlying
// call id.
func (r RunItem) Fingerprint() string {
	return string(r.Type) + "/" + r.Item.Fingerprint()
}

func messageItem(agentName string, item types.ProtocolItem) RunItem {
	return RunItem{Type: ItemMessageOutput, Agent: agentName, Item: item}
}

func reasoningItem(agentName string, item types.ProtocolItem) RunItem {
	return RunItem{Type: ItemReasoning, Agent: agentName, Item: item}
}

func toolCallItem(agentName string, item types.ProtocolItem, origin tools.Origin) RunItem {
	return RunItem{Type: ItemToolCall, Agent: agentName, Item: item, Origin: &origin, ToolName: item.Name}
}

func toolOutputItem(agentName string, item types.ProtocolItem, origin tools.Origin, toolName string) RunItem {
	return RunItem{Type: ItemToolCallOutput, Agent: agentName, Item: item, Origin: &origin, ToolName: toolName}
}

func approvalItem(agentName string, call types.ProtocolItem, origin tools.Origin) RunItem {
	return RunItem{Type: ItemToolApproval, Agent: agentName, Item: call, Origin: &origin, ToolName: call.Name}
}
