package runner

import (
	"context"

	"github.com/loopworks/agentrun/agent"
	"github.com/loopworks/agentrun/types"
)

// StreamEventType tags the events a streamed run yields.
type StreamEventType string

const (
	EventTextDelta      StreamEventType = "text_delta"
	EventItemCreated    StreamEventType = "item_created"
	EventToolStarted    StreamEventType = "tool_started"
	EventToolOutput     StreamEventType = "tool_output"
	EventToolEnded      StreamEventType = "tool_ended"
	EventHandoff        StreamEventType = "handoff"
	EventRunCompleted   StreamEventType = "run_completed"
	EventRunInterrupted StreamEventType = "run_interrupted"
	EventRunFailed      StreamEventType = "run_failed"
)

// StreamEvent is one tagged event from a streamed run. Exactly the fields
// relevant to Type are set. Tool events for concurrent calls arrive in a
// consistent per-tool order: started, then output, then ended.
type StreamEvent struct {
	Type        StreamEventType
	Delta       string
	ToolName    string
	CallID      string
	Item        *RunItem
	SourceAgent string
	TargetAgent string
	Result      *RunResult
	Err         error
}

// RunStream is a handle on an in-flight streamed run.
type RunStream struct {
	events chan StreamEvent
	done   chan struct{}
	result *RunResult
	err    error
}

// Events yields the run's event stream. The channel closes after the
// terminal run_completed, run_interrupted, or run_failed event.
func (s *RunStream) Events() <-chan StreamEvent { return s.events }

// Result blocks until the run finishes and returns its outcome.
func (s *RunStream) Result() (*RunResult, error) {
	<-s.done
	return s.result, s.err
}

// RunStreamed starts a run that yields incremental events. Text deltas are
// forwarded when the model supports streaming; otherwise only item and
// lifecycle events are produced.
func (r *Runner) RunStreamed(ctx context.Context, a *agent.Agent, input string) *RunStream {
	stream := &RunStream{
		events: make(chan StreamEvent, 64),
		done:   make(chan struct{}),
	}

	go func() {
		defer close(stream.done)
		defer close(stream.events)

		emit := func(event StreamEvent) {
			select {
			case stream.events <- event:
			case <-ctx.Done():
			}
		}

		if a == nil {
			stream.err = newUserError("agent is nil")
			emit(StreamEvent{Type: EventRunFailed, Err: stream.err})
			return
		}
		seeded, err := r.seedInput(ctx, []types.ProtocolItem{types.UserMessage(input)})
		if err != nil {
			stream.err = err
			emit(StreamEvent{Type: EventRunFailed, Err: err})
			return
		}

		state := newRunState(a, seeded, r.maxTurns, r.payload)
		state.conversationID = r.conversationID
		run := r.newActiveRun(state, emit)

		if err := hooksOf(a).OnAgentStart(ctx, a); err != nil {
			stream.err = err
			emit(StreamEvent{Type: EventRunFailed, Err: err})
			return
		}
		stream.result, stream.err = run.loop(ctx)
	}()

	return stream
}
