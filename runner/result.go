package runner

import (
	"fmt"

	"github.com/loopworks/agentrun/types"
)

// RunResult is what a run returns: the final output when the run completed,
// or the pending interruptions when it paused.
type RunResult struct {
	// FinalOutput is the assistant's final answer: a string for plain
	// text, or the schema-validated decoded value for structured output.
	// Nil when the run paused.
	FinalOutput any

	// NewItems is the full ordered transcript the run generated.
	NewItems []RunItem

	// Interruptions holds the pending tool-approval items when the run
	// paused for human decisions.
	Interruptions []RunItem

	Usage        types.Usage
	RawResponses []types.ModelResponse

	state *RunState
}

// ToState captures the resumable snapshot behind this result. Callers
// approve or reject the pending items on the state and resume it.
func (r *RunResult) ToState() *RunState { return r.state }

// Interrupted reports whether the run paused awaiting decisions.
func (r *RunResult) Interrupted() bool { return len(r.Interruptions) > 0 }

// TextOutput renders the final output as a string.
func (r *RunResult) TextOutput() string {
	switch v := r.FinalOutput.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

func resultFromState(state *RunState) *RunResult {
	res := &RunResult{
		NewItems:     state.generatedItems,
		Usage:        state.Usage(),
		RawResponses: state.responses,
		state:        state,
	}
	switch step := state.currentStep.(type) {
	case NextStepFinalOutput:
		res.FinalOutput = step.Output
	case NextStepInterruption:
		res.Interruptions = step.Interruptions
	}
	return res
}
