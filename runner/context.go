package runner

import "github.com/loopworks/agentrun/types"

// RunContext travels with one run: the caller's custom payload, the usage
// counters, and the approval ledger. A context is owned exclusively by the
// run that created it; concurrent runs never share one.
type RunContext struct {
	// Payload is an opaque caller value carried through the run and
	// serialized as JSON in snapshots.
	Payload any

	Usage     *types.Usage
	Approvals *ApprovalLedger
}

func NewRunContext(payload any) *RunContext {
	return &RunContext{
		Payload:   payload,
		Usage:     &types.Usage{},
		Approvals: NewApprovalLedger(),
	}
}
