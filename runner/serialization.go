package runner

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/buger/jsonparser"

	"github.com/loopworks/agentrun/agent"
	"github.com/loopworks/agentrun/types"
)

type agentRef struct {
	Name string `json:"name"`
}

type stepWire struct {
	Type          string          `json:"type"`
	Output        json.RawMessage `json:"output,omitempty"`
	TargetAgent   string          `json:"targetAgent,omitempty"`
	Interruptions []RunItem       `json:"interruptions,omitempty"`
}

type contextWire struct {
	Payload   json.RawMessage `json:"payload,omitempty"`
	Usage     types.Usage     `json:"usage"`
	Approvals *ApprovalLedger `json:"approvals"`
}

type toolRunWire struct {
	Call     types.ProtocolItem `json:"call"`
	ToolName string             `json:"toolName,omitempty"`
	Final    bool               `json:"final,omitempty"`
}

type handoffRunWire struct {
	Call        types.ProtocolItem `json:"call"`
	TargetAgent string             `json:"targetAgent"`
}

type processedWire struct {
	NewItems         []RunItem            `json:"newItems,omitempty"`
	Functions        []toolRunWire        `json:"functions,omitempty"`
	Handoffs         []handoffRunWire     `json:"handoffs,omitempty"`
	Exotic           []toolRunWire        `json:"exotic,omitempty"`
	ApprovalRequests []types.ProtocolItem `json:"approvalRequests,omitempty"`
	ToolsUsed        []string             `json:"toolsUsed,omitempty"`
}

type stateWire struct {
	SchemaVersion      string                `json:"$schemaVersion"`
	RunID              string                `json:"runId"`
	CurrentAgent       agentRef              `json:"currentAgent"`
	OriginalInput      []types.ProtocolItem  `json:"originalInput"`
	MaxTurns           int                   `json:"maxTurns"`
	CurrentTurn        int                   `json:"currentTurn"`
	ModelResponses     []types.ModelResponse `json:"modelResponses,omitempty"`
	GeneratedItems     []json.RawMessage     `json:"generatedItems,omitempty"`
	LastProcessed      *processedWire        `json:"lastProcessedResponse,omitempty"`
	CurrentStep        *stepWire             `json:"currentStep,omitempty"`
	Context            contextWire           `json:"context"`
	ConversationID     string                `json:"conversationId,omitempty"`
	PreviousResponseID string                `json:"previousResponseId,omitempty"`
}

// ToDocument serializes the state to a portable JSON snapshot. Agent
// references serialize as names only; the loader resolves them against the
// handoff graph of a caller-supplied root agent.
func (s *RunState) ToDocument() ([]byte, error) {
	if s.currentAgent == nil {
		return nil, &SnapshotError{Message: "state has no current agent"}
	}

	wire := stateWire{
		SchemaVersion:      SchemaVersion,
		RunID:              s.runID,
		CurrentAgent:       agentRef{Name: s.currentAgent.Name},
		OriginalInput:      s.originalInput,
		MaxTurns:           s.maxTurns,
		CurrentTurn:        s.currentTurn,
		ModelResponses:     s.responses,
		ConversationID:     s.conversationID,
		PreviousResponseID: s.previousResponseID,
	}

	for _, item := range s.generatedItems {
		raw, err := json.Marshal(item)
		if err != nil {
			return nil, &SnapshotError{Message: "serializing run item", Err: err}
		}
		wire.GeneratedItems = append(wire.GeneratedItems, raw)
	}

	if s.lastProcessed != nil {
		wire.LastProcessed = marshalProcessed(s.lastProcessed)
	}

	if s.currentStep != nil {
		step, err := marshalStep(s.currentStep)
		if err != nil {
			return nil, err
		}
		wire.CurrentStep = step
	}

	wire.Context.Usage = s.Usage()
	wire.Context.Approvals = s.context.Approvals
	if s.context.Payload != nil {
		payload, err := json.Marshal(s.context.Payload)
		if err != nil {
			return nil, &SnapshotError{Message: "serializing context payload", Err: err}
		}
		wire.Context.Payload = payload
	}

	doc, err := json.Marshal(wire)
	if err != nil {
		return nil, &SnapshotError{Message: "serializing state", Err: err}
	}
	return doc, nil
}

// StateFromDocument loads a snapshot. Agent names resolve against the
// handoff graph reachable from root; the schema version must match exactly.
// Individual items that fail shape validation or reference unknown agents
// are skipped with a warning rather than failing the whole load.
func StateFromDocument(doc []byte, root *agent.Agent) (*RunState, error) {
	if root == nil {
		return nil, &SnapshotError{Message: "root agent is nil"}
	}
	var wire stateWire
	if err := json.Unmarshal(doc, &wire); err != nil {
		return nil, &SnapshotError{Message: "malformed snapshot document", Err: err}
	}
	if wire.SchemaVersion != SchemaVersion {
		return nil, &SnapshotError{Message: fmt.Sprintf("unsupported schema version %q (want %q)", wire.SchemaVersion, SchemaVersion)}
	}

	agents := agent.AgentsByName(root)
	current, ok := agents[wire.CurrentAgent.Name]
	if !ok {
		return nil, &SnapshotError{Message: fmt.Sprintf("current agent %q is not reachable from root agent %q", wire.CurrentAgent.Name, root.Name)}
	}

	state := &RunState{
		runID:              wire.RunID,
		currentAgent:       current,
		originalInput:      wire.OriginalInput,
		maxTurns:           wire.MaxTurns,
		currentTurn:        wire.CurrentTurn,
		responses:          wire.ModelResponses,
		conversationID:     wire.ConversationID,
		previousResponseID: wire.PreviousResponseID,
		context:            NewRunContext(nil),
	}
	if wire.Context.Payload != nil {
		state.context.Payload = json.RawMessage(wire.Context.Payload)
	}
	*state.context.Usage = wire.Context.Usage
	if wire.Context.Approvals != nil {
		state.context.Approvals = wire.Context.Approvals
	}

	seen := map[string]struct{}{}
	for _, raw := range wire.GeneratedItems {
		var item RunItem
		if err := json.Unmarshal(raw, &item); err != nil {
			id, callID := snapshotItemIdentity(raw)
			slog.Warn("skipping malformed run item in snapshot", "id", id, "callId", callID, "error", err)
			continue
		}
		if _, ok := agents[item.Agent]; !ok {
			slog.Warn("skipping run item for unknown agent", "agent", item.Agent, "type", item.Type)
			continue
		}
		seen[item.Fingerprint()] = struct{}{}
		state.generatedItems = append(state.generatedItems, item)
	}

	if wire.LastProcessed != nil {
		processed := unmarshalProcessed(wire.LastProcessed, current, agents)
		state.lastProcessed = processed
		// The last response's own new items belong in the transcript;
		// merge without duplicating anything already recorded.
		for _, item := range processed.NewItems {
			key := item.Fingerprint()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			state.generatedItems = append(state.generatedItems, item)
		}
	}

	if wire.CurrentStep != nil {
		step, err := unmarshalStep(wire.CurrentStep, agents)
		if err != nil {
			return nil, err
		}
		state.currentStep = step
	}

	return state, nil
}

// snapshotItemIdentity recovers whatever identity survives from a run item
// that failed shape validation, so the skip warning can name the item.
func snapshotItemIdentity(raw json.RawMessage) (id, callID string) {
	if inner, _, _, err := jsonparser.Get(raw, "rawItem"); err == nil {
		return types.ItemIdentity(inner)
	}
	return types.ItemIdentity(raw)
}

func marshalProcessed(p *ProcessedResponse) *processedWire {
	wire := &processedWire{
		NewItems:         p.NewItems,
		ApprovalRequests: p.ApprovalRequests,
		ToolsUsed:        p.ToolsUsed,
	}
	for _, tr := range p.Functions {
		w := toolRunWire{Call: tr.Call, Final: tr.Final}
		if tr.Tool != nil {
			w.ToolName = tr.Tool.Definition().Name
		}
		wire.Functions = append(wire.Functions, w)
	}
	for _, tr := range p.Exotic {
		w := toolRunWire{Call: tr.Call}
		if tr.Tool != nil {
			w.ToolName = tr.Tool.Definition().Name
		}
		wire.Exotic = append(wire.Exotic, w)
	}
	for _, h := range p.Handoffs {
		wire.Handoffs = append(wire.Handoffs, handoffRunWire{Call: h.Call, TargetAgent: h.Target.Name})
	}
	return wire
}

func unmarshalProcessed(wire *processedWire, current *agent.Agent, agents map[string]*agent.Agent) *ProcessedResponse {
	p := &ProcessedResponse{
		NewItems:         wire.NewItems,
		ApprovalRequests: wire.ApprovalRequests,
		ToolsUsed:        wire.ToolsUsed,
	}
	for _, w := range wire.Functions {
		tr := toolRun{Call: w.Call, Final: w.Final}
		if w.ToolName != "" {
			if tool, ok := current.ToolByName(w.ToolName); ok {
				tr.Tool = tool
			} else {
				slog.Warn("pending tool not registered on current agent", "tool", w.ToolName, "agent", current.Name)
			}
		}
		p.Functions = append(p.Functions, tr)
	}
	for _, w := range wire.Exotic {
		tr := toolRun{Call: w.Call}
		if tool, ok := current.ToolByName(w.ToolName); ok {
			tr.Tool = tool
		} else {
			slog.Warn("pending tool not registered on current agent", "tool", w.ToolName, "agent", current.Name)
		}
		p.Exotic = append(p.Exotic, tr)
	}
	for _, w := range wire.Handoffs {
		target, ok := agents[w.TargetAgent]
		if !ok {
			slog.Warn("skipping pending handoff to unknown agent", "agent", w.TargetAgent)
			continue
		}
		p.Handoffs = append(p.Handoffs, handoffRun{Call: w.Call, Target: target})
	}
	return p
}

func marshalStep(step NextStep) (*stepWire, error) {
	switch s := step.(type) {
	case NextStepRunAgain:
		return &stepWire{Type: "run_again"}, nil
	case NextStepFinalOutput:
		output, err := json.Marshal(s.Output)
		if err != nil {
			return nil, &SnapshotError{Message: "serializing final output", Err: err}
		}
		return &stepWire{Type: "final_output", Output: output}, nil
	case NextStepHandoff:
		return &stepWire{Type: "handoff", TargetAgent: s.NewAgent.Name}, nil
	case NextStepInterruption:
		return &stepWire{Type: "interruption", Interruptions: s.Interruptions}, nil
	}
	return nil, &SnapshotError{Message: fmt.Sprintf("unknown next step %T", step)}
}

func unmarshalStep(wire *stepWire, agents map[string]*agent.Agent) (NextStep, error) {
	switch wire.Type {
	case "run_again":
		return NextStepRunAgain{}, nil
	case "final_output":
		var output any
		if len(wire.Output) > 0 {
			if err := json.Unmarshal(wire.Output, &output); err != nil {
				return nil, &SnapshotError{Message: "malformed final output", Err: err}
			}
		}
		return NextStepFinalOutput{Output: output}, nil
	case "handoff":
		target, ok := agents[wire.TargetAgent]
		if !ok {
			return nil, &SnapshotError{Message: fmt.Sprintf("handoff target %q is not reachable from the root agent", wire.TargetAgent)}
		}
		return NextStepHandoff{NewAgent: target}, nil
	case "interruption":
		return NextStepInterruption{Interruptions: wire.Interruptions}, nil
	}
	return nil, &SnapshotError{Message: fmt.Sprintf("unknown next step type %q", wire.Type)}
}
