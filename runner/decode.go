package runner

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/loopworks/agentrun/agent"
	"github.com/loopworks/agentrun/tools"
	"github.com/loopworks/agentrun/types"
)

// FinalResultToolName is the reserved tool name the model calls to deliver
// a structured final output when the agent declares an output schema.
const FinalResultToolName = "final_result"

// toolRun pairs a call item with the tool that will serve it. Tool is nil
// for the synthesized structured-output run.
type toolRun struct {
	Call  types.ProtocolItem
	Tool  tools.Tool
	Final bool
}

// handoffRun pairs a handoff call with its resolved target agent.
type handoffRun struct {
	Call   types.ProtocolItem
	Target *agent.Agent
}

// ProcessedResponse is the decoder's classification of one model response.
// It is retained on the run state so a paused run can be resumed exactly.
type ProcessedResponse struct {
	NewItems         []RunItem
	Functions        []toolRun
	Handoffs         []handoffRun
	Exotic           []toolRun
	ApprovalRequests []types.ProtocolItem
	ToolsUsed        []string
}

// hasRunnableWork reports whether execution has anything left to do.
func (p *ProcessedResponse) hasRunnableWork() bool {
	return len(p.Functions) > 0 || len(p.Handoffs) > 0 || len(p.Exotic) > 0 || len(p.ApprovalRequests) > 0
}

// processModelResponse classifies one model response against the agent's
// tools and handoff targets. It is pure: nothing is executed here. A single
// unroutable item fails the whole response, since partial execution of a
// malformed turn is unsafe.
func processModelResponse(a *agent.Agent, resp types.ModelResponse) (*ProcessedResponse, error) {
	processed := &ProcessedResponse{}

	for _, item := range resp.Output {
		switch item.Type {
		case types.ItemTypeMessage:
			processed.NewItems = append(processed.NewItems, messageItem(a.Name, item))

		case types.ItemTypeReasoning:
			processed.NewItems = append(processed.NewItems, reasoningItem(a.Name, item))

		case types.ItemTypeFunctionCall:
			if err := routeFunctionCall(a, item, processed); err != nil {
				return nil, err
			}

		case types.ItemTypeShellCall, types.ItemTypeApplyPatchCall,
			types.ItemTypeComputerCall, types.ItemTypeLocalShellCall:
			tool, ok := toolForKind(a, exoticKind(item.Type))
			if !ok {
				return nil, &ModelBehaviorError{
					Agent:   a.Name,
					Message: "model emitted a " + string(item.Type) + " but the agent has no tool of that kind",
				}
			}
			ensureCallID(&item)
			processed.Exotic = append(processed.Exotic, toolRun{Call: item, Tool: tool})
			processed.NewItems = append(processed.NewItems, toolCallItem(a.Name, item, tools.OriginOf(tool)))
			processed.ToolsUsed = append(processed.ToolsUsed, tool.Definition().Name)

		case types.ItemTypeApprovalRequest:
			processed.ApprovalRequests = append(processed.ApprovalRequests, item)
			processed.NewItems = append(processed.NewItems, RunItem{
				Type: ItemApprovalRequest, Agent: a.Name, Item: item, ToolName: item.Name,
			})

		case types.ItemTypeApprovalResponse:
			processed.NewItems = append(processed.NewItems, RunItem{
				Type: ItemApprovalResponse, Agent: a.Name, Item: item, ToolName: item.Name,
			})

		case types.ItemTypeToolListing:
			processed.NewItems = append(processed.NewItems, RunItem{
				Type: ItemToolListing, Agent: a.Name, Item: item,
			})

		case types.ItemTypeUnknown:
			slog.Warn("skipping unrecognized model output item", "agent", a.Name)

		default:
			return nil, &ModelBehaviorError{
				Agent:   a.Name,
				Message: "model emitted an item the engine cannot route: " + string(item.Type),
			}
		}
	}

	return processed, nil
}

func routeFunctionCall(a *agent.Agent, item types.ProtocolItem, processed *ProcessedResponse) error {
	ensureCallID(&item)

	if item.Name == FinalResultToolName && a.OutputSchema != nil {
		processed.Functions = append(processed.Functions, toolRun{Call: item, Final: true})
		processed.NewItems = append(processed.NewItems, toolCallItem(a.Name, item, tools.Origin{Kind: tools.OriginFunction}))
		return nil
	}

	if target, ok := a.HandoffByToolName(item.Name); ok {
		processed.Handoffs = append(processed.Handoffs, handoffRun{Call: item, Target: target})
		processed.NewItems = append(processed.NewItems, RunItem{
			Type:        ItemHandoffCall,
			Agent:       a.Name,
			Item:        item,
			ToolName:    item.Name,
			SourceAgent: a.Name,
			TargetAgent: target.Name,
		})
		return nil
	}

	if tool, ok := a.ToolByName(item.Name); ok {
		processed.Functions = append(processed.Functions, toolRun{Call: item, Tool: tool})
		processed.NewItems = append(processed.NewItems, toolCallItem(a.Name, item, tools.OriginOf(tool)))
		processed.ToolsUsed = append(processed.ToolsUsed, item.Name)
		return nil
	}

	return &ModelBehaviorError{
		Agent:   a.Name,
		Message: "model called tool " + item.Name + " which is not registered on the agent",
	}
}

func exoticKind(t types.ItemType) types.ToolKind {
	switch t {
	case types.ItemTypeShellCall:
		return types.ToolKindShell
	case types.ItemTypeApplyPatchCall:
		return types.ToolKindApplyPatch
	case types.ItemTypeComputerCall:
		return types.ToolKindComputer
	case types.ItemTypeLocalShellCall:
		return types.ToolKindLocalShell
	}
	return ""
}

func toolForKind(a *agent.Agent, kind types.ToolKind) (tools.Tool, bool) {
	if kind == "" {
		return nil, false
	}
	for _, t := range a.Tools {
		if t.Definition().Kind == kind {
			return t, true
		}
	}
	return nil, false
}

// ensureCallID synthesizes a call id when the provider omitted one, so
// approval gating and deduplication always have a key.
func ensureCallID(item *types.ProtocolItem) {
	if item.CallID == "" {
		if item.ID != "" {
			item.CallID = item.ID
			return
		}
		item.CallID = "call_" + uuid.NewString()
	}
}
