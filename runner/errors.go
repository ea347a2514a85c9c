package runner

import (
	"context"
	"fmt"
)

// UserError reports a misuse of the engine API by the caller, such as
// resuming a state that is not paused or approving an item that is not an
// approval item.
type UserError struct {
	Message string
}

func (e *UserError) Error() string { return e.Message }

func newUserError(format string, args ...any) *UserError {
	return &UserError{Message: fmt.Sprintf(format, args...)}
}

// ModelBehaviorError reports unroutable or malformed model output: a call to
// a tool the agent does not own, an exotic call with no registered handler,
// or a structured output that fails schema validation. It is fatal for the
// run.
type ModelBehaviorError struct {
	Agent   string
	Message string
}

func (e *ModelBehaviorError) Error() string {
	if e.Agent != "" {
		return fmt.Sprintf("model behavior error (agent %q): %s", e.Agent, e.Message)
	}
	return "model behavior error: " + e.Message
}

// ToolExecutionError wraps a tool failure that propagated out of the
// execute phase and terminated the run.
type ToolExecutionError struct {
	ToolName string
	CallID   string
	Err      error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %q (call %s) failed: %v", e.ToolName, e.CallID, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// SnapshotError reports a failure to serialize or load a run snapshot:
// version mismatch, malformed document, or an unresolvable agent reference.
type SnapshotError struct {
	Message string
	Err     error
}

func (e *SnapshotError) Error() string {
	if e.Err != nil {
		return "snapshot error: " + e.Message + ": " + e.Err.Error()
	}
	return "snapshot error: " + e.Message
}

func (e *SnapshotError) Unwrap() error { return e.Err }

// MaxTurnsExceededError reports that the turn budget ran out before the run
// reached a final output. It is resumable: Resume re-invokes the model
// exactly once more with tool use disabled to force a best-effort final
// answer.
type MaxTurnsExceededError struct {
	MaxTurns int

	runner  *Runner
	state   *RunState
	resumed bool
}

func (e *MaxTurnsExceededError) Error() string {
	return fmt.Sprintf("max turns exceeded (%d)", e.MaxTurns)
}

// State returns the run state captured at the moment the budget ran out.
func (e *MaxTurnsExceededError) State() *RunState { return e.state }

// Resume makes one final model call with tools disabled, appending
// extraInstruction as a system message, and returns the forced final
// output. It can be called at most once per error.
func (e *MaxTurnsExceededError) Resume(ctx context.Context, extraInstruction string) (*RunResult, error) {
	if e.runner == nil || e.state == nil {
		return nil, newUserError("max-turns error is not resumable: no attached run")
	}
	if e.resumed {
		return nil, newUserError("max-turns error was already resumed")
	}
	e.resumed = true
	return e.runner.forceFinalAnswer(ctx, e.state, extraInstruction)
}
