package runner

import "github.com/loopworks/agentrun/agent"

// NextStep is the decision made at the end of one turn. Exactly one of the
// concrete variants below is produced per iteration.
type NextStep interface {
	isNextStep()
}

// NextStepRunAgain continues the loop with another model call.
type NextStepRunAgain struct{}

// NextStepFinalOutput terminates the run successfully. Output is the plain
// assistant text, or the schema-validated decoded value when the agent
// declares an output schema.
type NextStepFinalOutput struct {
	Output any
}

// NextStepHandoff transfers control to another agent; the loop continues
// under the new agent without an extra turn charge.
type NextStepHandoff struct {
	NewAgent *agent.Agent
}

// NextStepInterruption pauses the run awaiting approval decisions on the
// carried tool-approval items.
type NextStepInterruption struct {
	Interruptions []RunItem
}

func (NextStepRunAgain) isNextStep()     {}
func (NextStepFinalOutput) isNextStep()  {}
func (NextStepHandoff) isNextStep()      {}
func (NextStepInterruption) isNextStep() {}
