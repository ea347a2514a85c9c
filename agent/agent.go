// Package agent defines the agent description the run engine executes: a
// named set of instructions, tools, and handoff targets. Agents are plain
// data; all execution lives in the runner.
package agent

import (
	"context"
	"regexp"
	"strings"

	"github.com/loopworks/agentrun/llm"
	"github.com/loopworks/agentrun/tools"
	"github.com/loopworks/agentrun/types"
)

// Hooks receive lifecycle notifications during a run. Implementations must
// be fast; they run inline with the turn loop.
type Hooks interface {
	OnAgentStart(ctx context.Context, a *Agent) error
	OnAgentEnd(ctx context.Context, a *Agent, output any) error
	OnToolStart(ctx context.Context, a *Agent, tool tools.Tool) error
	OnToolEnd(ctx context.Context, a *Agent, tool tools.Tool, result any) error
}

// NoopHooks is a Hooks implementation that does nothing; embed it to
// implement only the callbacks you care about.
type NoopHooks struct{}

func (NoopHooks) OnAgentStart(context.Context, *Agent) error               { return nil }
func (NoopHooks) OnAgentEnd(context.Context, *Agent, any) error            { return nil }
func (NoopHooks) OnToolStart(context.Context, *Agent, tools.Tool) error    { return nil }
func (NoopHooks) OnToolEnd(context.Context, *Agent, tools.Tool, any) error { return nil }

// Agent describes one participant in a run. Name is the agent's identity
// for serialization; two agents with the same name are the same agent as
// far as a snapshot is concerned.
type Agent struct {
	Name         string
	Instructions string
	// HandoffDescription is shown to other agents that can hand off to
	// this one.
	HandoffDescription string
	Tools              []tools.Tool
	Handoffs           []*Agent
	// OutputSchema, when set, declares a JSON schema the final output
	// must validate against.
	OutputSchema map[string]any
	Hooks        Hooks
	// Model optionally overrides the run-level model for this agent.
	Model llm.Model
}

var handoffNameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

// HandoffToolName is the reserved tool name under which a handoff target is
// exposed to the model.
func HandoffToolName(target *Agent) string {
	name := strings.ToLower(strings.TrimSpace(target.Name))
	name = handoffNameSanitizer.ReplaceAllString(name, "_")
	return "transfer_to_" + name
}

// HandoffDefinitions returns the tool definitions advertising this agent's
// handoff targets.
func (a *Agent) HandoffDefinitions() []types.ToolDefinition {
	if len(a.Handoffs) == 0 {
		return nil
	}
	defs := make([]types.ToolDefinition, 0, len(a.Handoffs))
	for _, target := range a.Handoffs {
		description := target.HandoffDescription
		if description == "" {
			description = "Transfer the conversation to agent " + target.Name + "."
		}
		defs = append(defs, types.ToolDefinition{
			Name:        HandoffToolName(target),
			Description: description,
			Kind:        types.ToolKindFunction,
			JSONSchema:  map[string]any{"type": "object", "properties": map[string]any{}},
		})
	}
	return defs
}

// ToolDefinitions returns the definitions of the agent's own tools.
func (a *Agent) ToolDefinitions() []types.ToolDefinition {
	if len(a.Tools) == 0 {
		return nil
	}
	defs := make([]types.ToolDefinition, 0, len(a.Tools))
	for _, t := range a.Tools {
		defs = append(defs, t.Definition())
	}
	return defs
}

// ToolByName finds a registered tool.
func (a *Agent) ToolByName(name string) (tools.Tool, bool) {
	for _, t := range a.Tools {
		if t.Definition().Name == name {
			return t, true
		}
	}
	return nil, false
}

// HandoffByToolName resolves a handoff target from its reserved tool name.
func (a *Agent) HandoffByToolName(toolName string) (*Agent, bool) {
	for _, target := range a.Handoffs {
		if HandoffToolName(target) == toolName {
			return target, true
		}
	}
	return nil, false
}

// AgentsByName walks the handoff graph reachable from root and indexes every
// agent by name. The traversal is cycle-safe.
func AgentsByName(root *Agent) map[string]*Agent {
	out := map[string]*Agent{}
	if root == nil {
		return out
	}
	stack := []*Agent{root}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if current == nil {
			continue
		}
		if _, seen := out[current.Name]; seen {
			continue
		}
		out[current.Name] = current
		stack = append(stack, current.Handoffs...)
	}
	return out
}
