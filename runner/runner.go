// Package runner is the turn-execution engine: it repeatedly calls the
// model, decodes the response into actions, executes tools under guardrail
// and approval gating, and decides whether to continue, stop, hand off, or
// pause for human approval. Every pause boundary is captured in a
// serializable RunState so runs resume across process boundaries.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loopworks/agentrun/agent"
	"github.com/loopworks/agentrun/llm"
	"github.com/loopworks/agentrun/observe"
	"github.com/loopworks/agentrun/session"
	"github.com/loopworks/agentrun/types"
)

// DefaultMaxTurns bounds a run when the caller does not set a budget.
const DefaultMaxTurns = 10

// Runner drives agent runs against one model. A Runner is safe to reuse
// across runs; each run owns its own state.
type Runner struct {
	model          llm.Model
	session        session.Session
	sink           observe.Sink
	maxTurns       int
	conversationID string
	payload        any
}

type Option func(*Runner)

// WithSession seeds input from and persists new items to the given session.
func WithSession(s session.Session) Option {
	return func(r *Runner) { r.session = s }
}

// WithSink routes run telemetry to the given sink.
func WithSink(s observe.Sink) Option {
	return func(r *Runner) { r.sink = s }
}

// WithMaxTurns sets the turn budget.
func WithMaxTurns(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxTurns = n
		}
	}
}

// WithConversationID switches the run to a server-managed conversation: the
// provider retains history under this id and the engine sends each item
// exactly once.
func WithConversationID(id string) Option {
	return func(r *Runner) { r.conversationID = id }
}

// WithPayload attaches an opaque caller value to the run context.
func WithPayload(v any) Option {
	return func(r *Runner) { r.payload = v }
}

func New(model llm.Model, opts ...Option) *Runner {
	r := &Runner{
		model:    model,
		sink:     observe.NoopSink{},
		maxTurns: DefaultMaxTurns,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.sink == nil {
		r.sink = observe.NoopSink{}
	}
	return r
}

// Run executes a full run for plain text input.
func (r *Runner) Run(ctx context.Context, a *agent.Agent, input string) (*RunResult, error) {
	return r.RunItems(ctx, a, []types.ProtocolItem{types.UserMessage(input)})
}

// RunItems executes a full run for prepared input items.
func (r *Runner) RunItems(ctx context.Context, a *agent.Agent, input []types.ProtocolItem) (*RunResult, error) {
	if a == nil {
		return nil, newUserError("agent is nil")
	}
	if r.model == nil && a.Model == nil {
		return nil, newUserError("no model configured")
	}

	seeded, err := r.seedInput(ctx, input)
	if err != nil {
		return nil, err
	}

	state := newRunState(a, seeded, r.maxTurns, r.payload)
	state.conversationID = r.conversationID
	run := r.newActiveRun(state, nil)

	run.observeEvent(ctx, observe.Event{Kind: observe.KindRun, Status: observe.StatusStarted, Agent: a.Name})
	if err := hooksOf(a).OnAgentStart(ctx, a); err != nil {
		return nil, fmt.Errorf("agent start hook: %w", err)
	}
	return run.loop(ctx)
}

// Resume continues a run paused at an interruption. The caller is expected
// to have recorded decisions on the state's approval ledger via Approve and
// Reject; approved calls execute, rejected calls synthesize rejection
// outputs, and anything still undecided pauses the run again with the
// remaining set.
func (r *Runner) Resume(ctx context.Context, state *RunState) (*RunResult, error) {
	if state == nil {
		return nil, newUserError("state is nil")
	}
	step, ok := state.currentStep.(NextStepInterruption)
	if !ok {
		return nil, newUserError("state is not paused at an interruption")
	}
	if state.lastProcessed == nil {
		return nil, newUserError("state has no processed response to resume from")
	}

	run := r.newActiveRun(state, nil)
	if run.tracker != nil {
		run.tracker.hydrate(state)
	}
	return run.resume(ctx, step)
}

type activeRun struct {
	runner  *Runner
	state   *RunState
	tracker *conversationTracker
	emit    func(StreamEvent)
}

func (r *Runner) newActiveRun(state *RunState, emit func(StreamEvent)) *activeRun {
	run := &activeRun{runner: r, state: state, emit: emit}
	if state.conversationID != "" {
		run.tracker = newConversationTracker(state.conversationID)
	}
	return run
}

func (run *activeRun) loop(ctx context.Context) (*RunResult, error) {
	state := run.state
	a := state.currentAgent

	for {
		if state.currentTurn >= state.maxTurns {
			err := &MaxTurnsExceededError{MaxTurns: state.maxTurns, runner: run.runner, state: state}
			run.observeEvent(ctx, observe.Event{Kind: observe.KindRun, Status: observe.StatusFailed, Agent: a.Name, RunID: state.runID, Turn: state.currentTurn, Error: err.Error()})
			run.emitStream(StreamEvent{Type: EventRunFailed, Err: err})
			return nil, err
		}
		state.currentTurn++

		req := run.buildRequest(a, false, "")
		resp, err := run.callModel(ctx, a, req)
		if err != nil {
			run.observeEvent(ctx, observe.Event{Kind: observe.KindRun, Status: observe.StatusFailed, Agent: a.Name, RunID: state.runID, Turn: state.currentTurn, Error: err.Error()})
			run.emitStream(StreamEvent{Type: EventRunFailed, Err: err})
			return nil, err
		}
		state.responses = append(state.responses, resp)
		if run.tracker != nil {
			run.tracker.markInputSent()
			run.tracker.trackResponse(resp)
			state.previousResponseID = run.tracker.previousResponseID
		}

		processed, err := processModelResponse(a, resp)
		if err != nil {
			run.observeEvent(ctx, observe.Event{Kind: observe.KindRun, Status: observe.StatusFailed, Agent: a.Name, RunID: state.runID, Turn: state.currentTurn, Error: err.Error()})
			run.emitStream(StreamEvent{Type: EventRunFailed, Err: err})
			return nil, err
		}
		state.lastProcessed = processed
		state.appendItems(processed.NewItems)
		for i := range processed.NewItems {
			run.emitStream(StreamEvent{Type: EventItemCreated, Item: &processed.NewItems[i]})
		}

		items, next, err := run.executeToolsAndSideEffects(ctx, a, processed, true)
		if err != nil {
			run.observeEvent(ctx, observe.Event{Kind: observe.KindRun, Status: observe.StatusFailed, Agent: a.Name, RunID: state.runID, Turn: state.currentTurn, Error: err.Error()})
			run.emitStream(StreamEvent{Type: EventRunFailed, Err: err})
			return nil, err
		}
		state.appendItems(items)
		if err := run.persistTurn(ctx, processed.NewItems, items); err != nil {
			return nil, err
		}
		state.currentStep = next

		switch step := next.(type) {
		case NextStepRunAgain:
			continue

		case NextStepHandoff:
			run.observeEvent(ctx, observe.Event{Kind: observe.KindHandoff, Status: observe.StatusCompleted, Agent: a.Name, RunID: state.runID, Turn: state.currentTurn, Message: step.NewAgent.Name})
			run.emitStream(StreamEvent{Type: EventHandoff, SourceAgent: a.Name, TargetAgent: step.NewAgent.Name})
			a = step.NewAgent
			state.currentAgent = a
			if err := hooksOf(a).OnAgentStart(ctx, a); err != nil {
				return nil, fmt.Errorf("agent start hook: %w", err)
			}
			continue

		case NextStepFinalOutput:
			if err := hooksOf(a).OnAgentEnd(ctx, a, step.Output); err != nil {
				return nil, fmt.Errorf("agent end hook: %w", err)
			}
			result := resultFromState(state)
			run.observeEvent(ctx, observe.Event{Kind: observe.KindRun, Status: observe.StatusCompleted, Agent: a.Name, RunID: state.runID, Turn: state.currentTurn})
			run.emitStream(StreamEvent{Type: EventRunCompleted, Result: result})
			return result, nil

		case NextStepInterruption:
			result := resultFromState(state)
			run.observeEvent(ctx, observe.Event{Kind: observe.KindRun, Status: observe.StatusInterrupted, Agent: a.Name, RunID: state.runID, Turn: state.currentTurn})
			run.emitStream(StreamEvent{Type: EventRunInterrupted, Result: result})
			return result, nil
		}
	}
}

// resume re-executes the paused batch against the updated ledger, then
// rejoins the ordinary loop.
func (run *activeRun) resume(ctx context.Context, step NextStepInterruption) (*RunResult, error) {
	state := run.state
	a := state.currentAgent

	// Handoffs from the paused turn were never resolved; replay them so the
	// agent swap the model asked for still happens once the batch clears.
	pending := &ProcessedResponse{Handoffs: state.lastProcessed.Handoffs}
	for _, item := range step.Interruptions {
		tr, ok := run.pendingRun(item)
		if !ok {
			return nil, newUserError("pending call %s for tool %q no longer resolvable on agent %q", item.Item.CallID, item.ToolName, a.Name)
		}
		pending.Functions = append(pending.Functions, tr)
	}

	// Hosted approval requests that were never decided carry forward
	// unchanged; resumption must not force a decision.
	items, next, err := run.executeToolsAndSideEffects(ctx, a, pending, false)
	if err != nil {
		run.observeEvent(ctx, observe.Event{Kind: observe.KindRun, Status: observe.StatusFailed, Agent: a.Name, RunID: state.runID, Turn: state.currentTurn, Error: err.Error()})
		return nil, err
	}
	state.appendItems(items)
	if err := run.persistTurn(ctx, nil, items); err != nil {
		return nil, err
	}
	state.currentStep = next

	switch step := next.(type) {
	case NextStepInterruption, NextStepFinalOutput:
		result := resultFromState(state)
		return result, nil

	case NextStepHandoff:
		run.observeEvent(ctx, observe.Event{Kind: observe.KindHandoff, Status: observe.StatusCompleted, Agent: a.Name, RunID: state.runID, Turn: state.currentTurn, Message: step.NewAgent.Name})
		run.emitStream(StreamEvent{Type: EventHandoff, SourceAgent: a.Name, TargetAgent: step.NewAgent.Name})
		state.currentAgent = step.NewAgent
		if err := hooksOf(step.NewAgent).OnAgentStart(ctx, step.NewAgent); err != nil {
			return nil, fmt.Errorf("agent start hook: %w", err)
		}
	}
	return run.loop(ctx)
}

// pendingRun locates the stored run for one interruption item, falling back
// to re-resolving the tool by name for snapshots loaded from a document.
func (run *activeRun) pendingRun(item RunItem) (toolRun, bool) {
	processed := run.state.lastProcessed
	for _, tr := range processed.Functions {
		if !tr.Final && tr.Call.CallID == item.Item.CallID {
			if tr.Tool != nil {
				return tr, true
			}
		}
	}
	for _, tr := range processed.Exotic {
		if tr.Call.CallID == item.Item.CallID && tr.Tool != nil {
			return tr, true
		}
	}
	if tool, ok := run.state.currentAgent.ToolByName(item.ToolName); ok {
		return toolRun{Call: item.Item, Tool: tool}, true
	}
	return toolRun{}, false
}

// buildRequest assembles the model input: original input plus every
// generated item except still-pending approvals. Server-managed
// conversations filter through the tracker.
func (run *activeRun) buildRequest(a *agent.Agent, disableTools bool, extraInstruction string) types.ModelRequest {
	state := run.state
	input := make([]types.ProtocolItem, 0, len(state.originalInput)+len(state.generatedItems)+1)
	input = append(input, state.originalInput...)
	for _, item := range state.generatedItems {
		if item.Type == ItemToolApproval {
			continue
		}
		input = append(input, item.Item)
	}
	if extraInstruction != "" {
		input = append(input, types.SystemMessage(extraInstruction))
	}
	if run.tracker != nil {
		input = run.tracker.prepareInput(input)
	}

	req := types.ModelRequest{
		SystemInstructions: a.Instructions,
		Input:              input,
		ConversationID:     state.conversationID,
		PreviousResponseID: state.previousResponseID,
		DisableTools:       disableTools,
	}
	if !disableTools {
		req.Tools = a.ToolDefinitions()
		req.Handoffs = a.HandoffDefinitions()
		req.OutputSchema = a.OutputSchema
	}
	return req
}

// callModel makes the single model call for this iteration. A transient
// conversation-lock conflict rewinds the tracker and retries exactly once.
// A failed call still counts one request.
func (run *activeRun) callModel(ctx context.Context, a *agent.Agent, req types.ModelRequest) (types.ModelResponse, error) {
	model := a.Model
	if model == nil {
		model = run.runner.model
	}
	usage := run.state.context.Usage

	retried := false
	for {
		started := time.Now()
		run.observeEvent(ctx, observe.Event{Kind: observe.KindModel, Status: observe.StatusStarted, Agent: a.Name, RunID: run.state.runID, Turn: run.state.currentTurn, Model: model.Name()})

		resp, err := run.invokeModel(ctx, model, req)
		if err != nil {
			usage.Add(types.Usage{Requests: 1})
			if errors.Is(err, llm.ErrConversationLocked) && run.tracker != nil && !retried {
				retried = true
				run.tracker.rewind()
				req.Input = run.tracker.prepareInput(req.Input)
				continue
			}
			run.observeEvent(ctx, observe.Event{Kind: observe.KindModel, Status: observe.StatusFailed, Agent: a.Name, RunID: run.state.runID, Turn: run.state.currentTurn, Model: model.Name(), Error: err.Error(), DurationMs: time.Since(started).Milliseconds()})
			return types.ModelResponse{}, fmt.Errorf("model call failed: %w", err)
		}

		if resp.Usage.Requests == 0 {
			resp.Usage.Requests = 1
		}
		usage.Add(resp.Usage)
		run.observeEvent(ctx, observe.Event{Kind: observe.KindModel, Status: observe.StatusCompleted, Agent: a.Name, RunID: run.state.runID, Turn: run.state.currentTurn, Model: model.Name(), DurationMs: time.Since(started).Milliseconds()})
		return resp, nil
	}
}

// invokeModel prefers the streaming surface when the run has stream
// consumers and the model supports it.
func (run *activeRun) invokeModel(ctx context.Context, model llm.Model, req types.ModelRequest) (types.ModelResponse, error) {
	streaming, ok := model.(llm.StreamingModel)
	if run.emit == nil || !ok || !model.Capabilities().Streaming {
		return model.Call(ctx, req)
	}

	events, err := streaming.CallStreamed(ctx, req)
	if err != nil {
		return types.ModelResponse{}, err
	}
	var final *types.ModelResponse
	for event := range events {
		if event.Response != nil {
			final = event.Response
			continue
		}
		if event.Delta != "" {
			run.emitStream(StreamEvent{Type: EventTextDelta, Delta: event.Delta})
		}
	}
	if final == nil {
		return types.ModelResponse{}, fmt.Errorf("stream ended without a terminal response")
	}
	return *final, nil
}

// persistTurn appends the turn's new items to the session, excluding
// still-pending approval items.
func (run *activeRun) persistTurn(ctx context.Context, decoded, executed []RunItem) error {
	if run.runner.session == nil {
		return nil
	}
	var out []types.ProtocolItem
	for _, item := range decoded {
		out = append(out, item.Item)
	}
	for _, item := range executed {
		if item.Type == ItemToolApproval {
			continue
		}
		out = append(out, item.Item)
	}
	if len(out) == 0 {
		return nil
	}
	if err := run.runner.session.AddItems(ctx, out); err != nil {
		return fmt.Errorf("persisting turn items: %w", err)
	}
	return nil
}

// seedInput prepends session history to the caller's input and records the
// input itself.
func (r *Runner) seedInput(ctx context.Context, input []types.ProtocolItem) ([]types.ProtocolItem, error) {
	if r.session == nil {
		return input, nil
	}
	history, err := r.session.GetItems(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("reading session history: %w", err)
	}
	if err := r.session.AddItems(ctx, input); err != nil {
		return nil, fmt.Errorf("recording run input: %w", err)
	}
	seeded := make([]types.ProtocolItem, 0, len(history)+len(input))
	seeded = append(seeded, history...)
	seeded = append(seeded, input...)
	return seeded, nil
}

// forceFinalAnswer is the max-turns escape hatch: one model call with tools
// disabled, returning whatever text the model produces as a forced final
// output.
func (r *Runner) forceFinalAnswer(ctx context.Context, state *RunState, extraInstruction string) (*RunResult, error) {
	a := state.currentAgent
	run := r.newActiveRun(state, nil)
	if run.tracker != nil {
		run.tracker.hydrate(state)
	}

	state.currentTurn++
	req := run.buildRequest(a, true, extraInstruction)
	resp, err := run.callModel(ctx, a, req)
	if err != nil {
		return nil, err
	}
	state.responses = append(state.responses, resp)
	if run.tracker != nil {
		run.tracker.markInputSent()
		run.tracker.trackResponse(resp)
		state.previousResponseID = run.tracker.previousResponseID
	}

	text := ""
	for _, item := range resp.Output {
		if item.Type == types.ItemTypeMessage && item.Content != "" {
			text = item.Content
			state.appendItems([]RunItem{messageItem(a.Name, item)})
		}
	}
	state.currentStep = NextStepFinalOutput{Output: text}
	run.observeEvent(ctx, observe.Event{Kind: observe.KindRun, Status: observe.StatusCompleted, Agent: a.Name, RunID: state.runID, Turn: state.currentTurn, Message: "forced final answer"})
	return resultFromState(state), nil
}

func (run *activeRun) observeEvent(ctx context.Context, event observe.Event) {
	if run.runner.sink == nil {
		return
	}
	if event.RunID == "" {
		event.RunID = run.state.runID
	}
	if event.Turn == 0 {
		event.Turn = run.state.currentTurn
	}
	event.Normalize()
	_ = run.runner.sink.Emit(ctx, event)
}

func (run *activeRun) emitStream(event StreamEvent) {
	if run.emit != nil {
		run.emit(event)
	}
}
