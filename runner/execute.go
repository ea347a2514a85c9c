package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/loopworks/agentrun/agent"
	"github.com/loopworks/agentrun/guardrail"
	"github.com/loopworks/agentrun/observe"
	"github.com/loopworks/agentrun/tools"
	"github.com/loopworks/agentrun/types"
)

const rejectionMessage = "Tool execution was not approved."

type planMode int

const (
	modeExecute planMode = iota
	modeInterrupt
	modeReject
	modeFinal
)

type toolPlan struct {
	run  toolRun
	mode planMode
}

// executeToolsAndSideEffects runs one decoded response: approval gating is
// evaluated for the whole batch first, then every runnable call executes
// concurrently with results appended in call order, then hosted approval
// requests and handoffs are resolved. The returned items are the transcript
// additions for this turn, in order.
func (r *activeRun) executeToolsAndSideEffects(ctx context.Context, a *agent.Agent, processed *ProcessedResponse, resolveApprovals bool) ([]RunItem, NextStep, error) {
	ledger := r.state.context.Approvals

	runs := make([]toolRun, 0, len(processed.Functions)+len(processed.Exotic))
	runs = append(runs, processed.Functions...)
	runs = append(runs, processed.Exotic...)

	// Gate the whole batch before anything executes, so a paused caller
	// sees the complete pending set at once.
	plans := make([]toolPlan, 0, len(runs))
	for _, tr := range runs {
		if tr.Final {
			plans = append(plans, toolPlan{run: tr, mode: modeFinal})
			continue
		}
		name := tr.Tool.Definition().Name
		callID := tr.Call.CallID

		needs := false
		if gate, ok := tr.Tool.(tools.ApprovalGate); ok {
			var err error
			needs, err = gate.NeedsApproval(ctx, tr.Call.Arguments, callID)
			if err != nil {
				return nil, nil, &ToolExecutionError{ToolName: name, CallID: callID, Err: fmt.Errorf("approval check: %w", err)}
			}
		}
		if !needs {
			plans = append(plans, toolPlan{run: tr, mode: modeExecute})
			continue
		}
		approved, known := ledger.Decision(name, callID)
		switch {
		case !known:
			plans = append(plans, toolPlan{run: tr, mode: modeInterrupt})
		case approved:
			plans = append(plans, toolPlan{run: tr, mode: modeExecute})
		default:
			plans = append(plans, toolPlan{run: tr, mode: modeReject})
		}
	}

	// Announce every executing tool before dispatch so stream consumers
	// observe a stable started/output/ended order per tool.
	for _, p := range plans {
		if p.mode == modeExecute {
			r.emitStream(StreamEvent{Type: EventToolStarted, ToolName: p.run.Tool.Definition().Name, CallID: p.run.Call.CallID})
		}
	}

	results := make([]RunItem, len(plans))
	errs := make([]error, len(plans))
	var finalOutput any
	var finalSeen bool

	var wg sync.WaitGroup
	for i, p := range plans {
		switch p.mode {
		case modeInterrupt:
			origin := tools.OriginOf(p.run.Tool)
			results[i] = approvalItem(a.Name, p.run.Call, origin)
		case modeReject:
			origin := tools.OriginOf(p.run.Tool)
			out := functionOutput(p.run.Call.CallID, rejectionMessage, "rejected")
			results[i] = toolOutputItem(a.Name, out, origin, p.run.Tool.Definition().Name)
		case modeFinal:
			output, err := r.validateStructuredOutput(a, p.run.Call)
			if err != nil {
				return nil, nil, err
			}
			finalOutput = output
			finalSeen = true
			out := functionOutput(p.run.Call.CallID, "ok", "completed")
			results[i] = toolOutputItem(a.Name, out, tools.Origin{Kind: tools.OriginFunction}, FinalResultToolName)
		case modeExecute:
			wg.Add(1)
			go func(i int, tr toolRun) {
				defer wg.Done()
				results[i], errs[i] = r.invokeTool(ctx, a, tr)
			}(i, p.run)
		}
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, nil, err
		}
	}

	var newItems []RunItem
	var interruptions []RunItem
	for i, p := range plans {
		newItems = append(newItems, results[i])
		if p.mode == modeInterrupt {
			interruptions = append(interruptions, results[i])
		}
		if p.mode == modeExecute {
			r.emitStream(StreamEvent{Type: EventToolOutput, ToolName: p.run.Tool.Definition().Name, CallID: p.run.Call.CallID, Item: &results[i]})
			r.emitStream(StreamEvent{Type: EventToolEnded, ToolName: p.run.Tool.Definition().Name, CallID: p.run.Call.CallID})
		}
	}

	if resolveApprovals {
		responses, err := r.resolveApprovalRequests(ctx, a, processed.ApprovalRequests)
		if err != nil {
			return nil, nil, err
		}
		newItems = append(newItems, responses...)
	}

	// A paused batch leaves its handoffs untouched: no agent swap happens,
	// so no handoff output may reach the transcript yet. Resumption replays
	// them once every gated call is decided.
	if len(interruptions) > 0 {
		return newItems, NextStepInterruption{Interruptions: interruptions}, nil
	}

	handoffItems, handoffTarget := r.resolveHandoffs(a, processed.Handoffs)
	newItems = append(newItems, handoffItems...)

	switch {
	case handoffTarget != nil:
		return newItems, NextStepHandoff{NewAgent: handoffTarget}, nil
	case finalSeen:
		return newItems, NextStepFinalOutput{Output: finalOutput}, nil
	}

	if len(runs) == 0 && len(processed.Handoffs) == 0 && a.OutputSchema == nil {
		if text, ok := lastMessageText(processed.NewItems); ok {
			return newItems, NextStepFinalOutput{Output: text}, nil
		}
	}
	return newItems, NextStepRunAgain{}, nil
}

// invokeTool runs one approved or ungated call: input guardrails, the tool
// itself, then output guardrails. Input guardrails take precedence; a block
// skips invocation entirely. Guardrail evaluation errors fold into a
// rejection-shaped output instead of crashing the run.
func (r *activeRun) invokeTool(ctx context.Context, a *agent.Agent, tr toolRun) (RunItem, error) {
	name := tr.Tool.Definition().Name
	callID := tr.Call.CallID
	origin := tools.OriginOf(tr.Tool)
	hooks := hooksOf(a)
	started := time.Now()

	inputData := guardrail.InputData{
		ToolName:  name,
		CallID:    callID,
		Arguments: tr.Call.Arguments,
		Agent:     a.Name,
	}

	if guarded, ok := tr.Tool.(tools.Guarded); ok {
		for _, g := range guarded.InputGuardrails() {
			res, err := g.CheckInput(ctx, inputData)
			if err != nil {
				slog.Warn("input guardrail failed, rejecting call", "guardrail", g.Name(), "tool", name, "error", err)
				res = guardrail.Block(fmt.Sprintf("guardrail %q failed: %v", g.Name(), err))
			}
			if res.Blocked {
				out := functionOutput(callID, res.ModelMessage, "rejected")
				return toolOutputItem(a.Name, out, origin, name), nil
			}
		}
	}

	if err := hooks.OnToolStart(ctx, a, tr.Tool); err != nil {
		return RunItem{}, &ToolExecutionError{ToolName: name, CallID: callID, Err: fmt.Errorf("tool start hook: %w", err)}
	}
	r.observeEvent(ctx, observe.Event{Kind: observe.KindTool, Status: observe.StatusStarted, Agent: a.Name, ToolName: name, ToolCallID: callID})

	result, err := tr.Tool.Execute(ctx, tr.Call.Arguments)
	if err != nil {
		if translator, ok := tr.Tool.(tools.ErrorTranslator); ok {
			if msg, handled := translator.TranslateToolError(ctx, err); handled {
				result, err = msg, nil
			}
		}
	}
	if err != nil {
		r.observeEvent(ctx, observe.Event{Kind: observe.KindTool, Status: observe.StatusFailed, Agent: a.Name, ToolName: name, ToolCallID: callID, Error: err.Error(), DurationMs: time.Since(started).Milliseconds()})
		return RunItem{}, &ToolExecutionError{ToolName: name, CallID: callID, Err: err}
	}

	status := "completed"
	if guarded, ok := tr.Tool.(tools.Guarded); ok {
		outputData := guardrail.OutputData{InputData: inputData, Output: result}
		for _, g := range guarded.OutputGuardrails() {
			res, gerr := g.CheckOutput(ctx, outputData)
			if gerr != nil {
				slog.Warn("output guardrail failed, withholding result", "guardrail", g.Name(), "tool", name, "error", gerr)
				res = guardrail.Block(fmt.Sprintf("guardrail %q failed: %v", g.Name(), gerr))
			}
			if res.Blocked {
				result = res.ModelMessage
				status = "rejected"
				break
			}
		}
	}

	if err := hooks.OnToolEnd(ctx, a, tr.Tool, result); err != nil {
		return RunItem{}, &ToolExecutionError{ToolName: name, CallID: callID, Err: fmt.Errorf("tool end hook: %w", err)}
	}
	r.observeEvent(ctx, observe.Event{Kind: observe.KindTool, Status: observe.StatusCompleted, Agent: a.Name, ToolName: name, ToolCallID: callID, DurationMs: time.Since(started).Milliseconds()})

	out := functionOutput(callID, result, status)
	return toolOutputItem(a.Name, out, origin, name), nil
}

// resolveApprovalRequests answers hosted (server-side) approval requests
// through the tool's resolver. A missing resolver lets the call proceed,
// with a warning, rather than hang forever.
func (r *activeRun) resolveApprovalRequests(ctx context.Context, a *agent.Agent, requests []types.ProtocolItem) ([]RunItem, error) {
	var items []RunItem
	for _, req := range requests {
		var decision tools.ApprovalDecision
		resolved := false
		if tool, ok := a.ToolByName(req.Name); ok {
			if resolver, ok := tool.(tools.ApprovalResolver); ok {
				d, err := resolver.ResolveApproval(ctx, req)
				switch {
				case errors.Is(err, tools.ErrNoApprovalCallback):
					// Fall through to the proceed-with-warning default.
				case err != nil:
					return nil, &ToolExecutionError{ToolName: req.Name, CallID: req.CallID, Err: fmt.Errorf("approval callback: %w", err)}
				default:
					decision = d
					resolved = true
				}
			}
		}
		if !resolved {
			slog.Warn("no approval callback registered for hosted tool, allowing call", "tool", req.Name, "server", req.Server)
			decision = tools.ApprovalDecision{Approve: true, Reason: "no approval callback registered"}
		}
		approved := decision.Approve
		r.observeEvent(ctx, observe.Event{Kind: observe.KindApproval, Status: observe.StatusCompleted, Agent: a.Name, ToolName: req.Name, ToolCallID: req.CallID, Message: decision.Reason})
		items = append(items, RunItem{
			Type:  ItemApprovalResponse,
			Agent: a.Name,
			Item: types.ProtocolItem{
				Type:     types.ItemTypeApprovalResponse,
				CallID:   req.CallID,
				Name:     req.Name,
				Server:   req.Server,
				Approved: &approved,
				Reason:   decision.Reason,
			},
			ToolName: req.Name,
		})
	}
	return items, nil
}

// resolveHandoffs honors at most one handoff per turn. The first by output
// order wins; later requests are recorded as discarded outputs.
func (r *activeRun) resolveHandoffs(a *agent.Agent, handoffs []handoffRun) ([]RunItem, *agent.Agent) {
	if len(handoffs) == 0 {
		return nil, nil
	}
	winner := handoffs[0]
	items := []RunItem{{
		Type:        ItemHandoffOutput,
		Agent:       a.Name,
		Item:        functionOutput(winner.Call.CallID, map[string]string{"assistant": winner.Target.Name}, "completed"),
		ToolName:    winner.Call.Name,
		SourceAgent: a.Name,
		TargetAgent: winner.Target.Name,
	}}
	for _, skipped := range handoffs[1:] {
		items = append(items, RunItem{
			Type:        ItemHandoffOutput,
			Agent:       a.Name,
			Item:        functionOutput(skipped.Call.CallID, "Handoff ignored: another handoff was already accepted this turn.", "rejected"),
			ToolName:    skipped.Call.Name,
			SourceAgent: a.Name,
			TargetAgent: skipped.Target.Name,
		})
	}
	return items, winner.Target
}

// validateStructuredOutput checks a final_result call's arguments against
// the agent's declared schema and decodes them as the run's final output.
func (r *activeRun) validateStructuredOutput(a *agent.Agent, call types.ProtocolItem) (any, error) {
	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(a.OutputSchema),
		gojsonschema.NewBytesLoader(args),
	)
	if err != nil {
		return nil, &ModelBehaviorError{Agent: a.Name, Message: fmt.Sprintf("structured output validation failed: %v", err)}
	}
	if !result.Valid() {
		msgs := ""
		for _, desc := range result.Errors() {
			if msgs != "" {
				msgs += "; "
			}
			msgs += desc.String()
		}
		return nil, &ModelBehaviorError{Agent: a.Name, Message: "structured output does not match the declared schema: " + msgs}
	}
	var output any
	if err := json.Unmarshal(args, &output); err != nil {
		return nil, &ModelBehaviorError{Agent: a.Name, Message: fmt.Sprintf("structured output is not valid JSON: %v", err)}
	}
	return output, nil
}

func functionOutput(callID string, payload any, status string) types.ProtocolItem {
	return types.ProtocolItem{
		Type:   types.ItemTypeFunctionCallOutput,
		CallID: callID,
		Output: toRawJSON(payload),
		Status: status,
	}
}

func toRawJSON(v any) json.RawMessage {
	switch val := v.(type) {
	case nil:
		return json.RawMessage("null")
	case json.RawMessage:
		return val
	}
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(fmt.Sprintf("%v", v))
	}
	return data
}

// lastMessageText returns the last assistant message's text content from a
// decoded response's recorded items.
func lastMessageText(items []RunItem) (string, bool) {
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].Type == ItemMessageOutput && items[i].Item.Content != "" {
			return items[i].Item.Content, true
		}
	}
	return "", false
}

func hooksOf(a *agent.Agent) agent.Hooks {
	if a.Hooks != nil {
		return a.Hooks
	}
	return agent.NoopHooks{}
}
