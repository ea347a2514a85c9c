package runner

import (
	"github.com/google/uuid"

	"github.com/loopworks/agentrun/agent"
	"github.com/loopworks/agentrun/types"
)

// SchemaVersion tags every serialized snapshot. Loading refuses any other
// value.
const SchemaVersion = "1.0"

// RunState is the resumable snapshot of an in-flight or paused run. It is
// plain data: created at run start, mutated only at turn boundaries, and
// owned exclusively by one run at a time.
type RunState struct {
	runID         string
	currentAgent  *agent.Agent
	originalInput []types.ProtocolItem
	maxTurns      int
	currentTurn   int

	responses      []types.ModelResponse
	generatedItems []RunItem
	lastProcessed  *ProcessedResponse
	currentStep    NextStep
	context        *RunContext

	conversationID     string
	previousResponseID string
}

func newRunState(a *agent.Agent, input []types.ProtocolItem, maxTurns int, payload any) *RunState {
	return &RunState{
		runID:         uuid.NewString(),
		currentAgent:  a,
		originalInput: input,
		maxTurns:      maxTurns,
		context:       NewRunContext(payload),
	}
}

// RunID identifies the run for telemetry and logs.
func (s *RunState) RunID() string { return s.runID }

// CurrentAgent is the agent that will handle the next turn.
func (s *RunState) CurrentAgent() *agent.Agent { return s.currentAgent }

// CurrentTurn is the number of model calls made so far.
func (s *RunState) CurrentTurn() int { return s.currentTurn }

// MaxTurns is the run's turn budget.
func (s *RunState) MaxTurns() int { return s.maxTurns }

// Context exposes the run context: caller payload, usage, approval ledger.
func (s *RunState) Context() *RunContext { return s.context }

// Usage returns the accumulated usage counters.
func (s *RunState) Usage() types.Usage {
	if s.context == nil || s.context.Usage == nil {
		return types.Usage{}
	}
	return *s.context.Usage
}

// NewItems returns the transcript generated so far, in order.
func (s *RunState) NewItems() []RunItem { return s.generatedItems }

// RawResponses returns every model response received so far, in order.
func (s *RunState) RawResponses() []types.ModelResponse { return s.responses }

// Interruptions returns the pending tool-approval items when the run is
// paused, or nil.
func (s *RunState) Interruptions() []RunItem {
	if step, ok := s.currentStep.(NextStepInterruption); ok {
		return step.Interruptions
	}
	return nil
}

// ApprovalOption modifies an Approve or Reject call.
type ApprovalOption func(*approvalOpts)

type approvalOpts struct {
	always bool
}

// WithAlways extends the decision to every future call of the same tool.
func WithAlways() ApprovalOption {
	return func(o *approvalOpts) { o.always = true }
}

// Approve records an approval for a pending tool-approval item. The run can
// then be resumed.
func (s *RunState) Approve(item RunItem, opts ...ApprovalOption) error {
	return s.decide(item, true, opts)
}

// Reject records a rejection for a pending tool-approval item. On
// resumption the call synthesizes a rejection output instead of executing.
func (s *RunState) Reject(item RunItem, opts ...ApprovalOption) error {
	return s.decide(item, false, opts)
}

func (s *RunState) decide(item RunItem, approve bool, opts []ApprovalOption) error {
	if item.Type != ItemToolApproval {
		return newUserError("cannot decide item of type %q: only tool approval items carry decisions", item.Type)
	}
	if item.ToolName == "" {
		return newUserError("approval item has no tool name")
	}
	var o approvalOpts
	for _, opt := range opts {
		opt(&o)
	}
	if s.context == nil {
		s.context = NewRunContext(nil)
	}
	if approve {
		s.context.Approvals.Approve(item.ToolName, item.Item.CallID, o.always)
	} else {
		s.context.Approvals.Reject(item.ToolName, item.Item.CallID, o.always)
	}
	return nil
}

// appendItems records a turn's transcript additions.
func (s *RunState) appendItems(items []RunItem) {
	s.generatedItems = append(s.generatedItems, items...)
}
