package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/loopworks/agentrun/agent"
	"github.com/loopworks/agentrun/llm"
	"github.com/loopworks/agentrun/tools"
	"github.com/loopworks/agentrun/types"
)

// InterruptedError is returned when a nested agent-as-tool run paused for
// approval. It carries the sub-run's pending items so the parent caller can
// see what was awaited; the parent run itself terminates, since a nested
// pause cannot be resumed through the parent's ledger.
type InterruptedError struct {
	Agent         string
	Interruptions []RunItem
}

func (e *InterruptedError) Error() string {
	return fmt.Sprintf("nested run of agent %q paused awaiting %d approval decision(s)", e.Agent, len(e.Interruptions))
}

type agentToolArgs struct {
	Input string `json:"input"`
}

// AgentTool exposes a sub-agent as a function tool with agent origin: the
// model calls it like any other tool, the sub-agent runs to completion, and
// its final text becomes the tool output.
func AgentTool(sub *agent.Agent, model llm.Model, opts ...tools.Option) tools.Tool {
	name := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(sub.Name), " ", "_"))
	description := sub.HandoffDescription
	if description == "" {
		description = "Run agent " + sub.Name + " on the given input."
	}

	fn := func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args agentToolArgs
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("invalid arguments for agent tool %q: %w", name, err)
			}
		}
		result, err := New(model).Run(ctx, sub, args.Input)
		if err != nil {
			return nil, err
		}
		if result.Interrupted() {
			return nil, &InterruptedError{Agent: sub.Name, Interruptions: result.Interruptions}
		}
		return result.TextOutput(), nil
	}

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"input": map[string]any{"type": "string"},
		},
		"required": []string{"input"},
	}

	allOpts := append([]tools.Option{
		tools.WithOrigin(tools.Origin{Kind: tools.OriginAgent, Agent: sub.Name}),
		tools.WithKind(types.ToolKindFunction),
	}, opts...)

	return tools.NewFuncTool(name, description, schema, fn, allOpts...)
}
