package observe

import "time"

type Kind string

type Status string

const (
	KindRun      Kind = "run"
	KindModel    Kind = "model"
	KindTool     Kind = "tool"
	KindHandoff  Kind = "handoff"
	KindApproval Kind = "approval"
	KindCustom   Kind = "custom"
)

const (
	StatusStarted     Status = "started"
	StatusCompleted   Status = "completed"
	StatusInterrupted Status = "interrupted"
	StatusFailed      Status = "failed"
)

// Event is one telemetry record emitted by the run engine: a run starting or
// finishing, a model call, a tool invocation, a handoff, or an approval
// decision point.
type Event struct {
	ID         string         `json:"id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	RunID      string         `json:"runId,omitempty"`
	Agent      string         `json:"agent,omitempty"`
	Turn       int            `json:"turn,omitempty"`
	Kind       Kind           `json:"kind"`
	Status     Status         `json:"status,omitempty"`
	Model      string         `json:"model,omitempty"`
	ToolName   string         `json:"toolName,omitempty"`
	ToolCallID string         `json:"toolCallId,omitempty"`
	Message    string         `json:"message,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"durationMs,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

func (e *Event) Normalize() {
	if e == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Kind == "" {
		e.Kind = KindCustom
	}
	if e.Attributes == nil {
		e.Attributes = map[string]any{}
	}
}
