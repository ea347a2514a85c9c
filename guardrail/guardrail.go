// Package guardrail provides the contract for validating tool invocations.
//
// Input guardrails run before a tool is invoked and can veto the invocation
// entirely; output guardrails run on the tool's real result and can replace
// it. A blocking guardrail substitutes a model-visible message for the
// tool's recorded output, so the model sees what happened on the next turn.
package guardrail

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Result is returned by a guardrail check.
type Result struct {
	// Blocked is true when the guardrail rejects the data.
	Blocked bool `json:"blocked"`
	// ModelMessage is recorded as the tool output in place of the real
	// result when Blocked is true.
	ModelMessage string `json:"modelMessage,omitempty"`
}

// InputData describes a tool call about to be invoked.
type InputData struct {
	ToolName  string          `json:"toolName"`
	CallID    string          `json:"callId"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Agent     string          `json:"agent,omitempty"`
}

// OutputData describes a tool call that has produced a result.
type OutputData struct {
	InputData
	Output any `json:"output,omitempty"`
}

type InputGuardrail interface {
	Name() string
	CheckInput(ctx context.Context, data InputData) (Result, error)
}

type OutputGuardrail interface {
	Name() string
	CheckOutput(ctx context.Context, data OutputData) (Result, error)
}

// InputFunc adapts a function to InputGuardrail.
type InputFunc struct {
	GuardName string
	Fn        func(ctx context.Context, data InputData) (Result, error)
}

func (g InputFunc) Name() string { return g.GuardName }

func (g InputFunc) CheckInput(ctx context.Context, data InputData) (Result, error) {
	if g.Fn == nil {
		return Result{}, nil
	}
	return g.Fn(ctx, data)
}

// OutputFunc adapts a function to OutputGuardrail.
type OutputFunc struct {
	GuardName string
	Fn        func(ctx context.Context, data OutputData) (Result, error)
}

func (g OutputFunc) Name() string { return g.GuardName }

func (g OutputFunc) CheckOutput(ctx context.Context, data OutputData) (Result, error) {
	if g.Fn == nil {
		return Result{}, nil
	}
	return g.Fn(ctx, data)
}

// Block is a helper for a blocking result.
func Block(message string) Result {
	return Result{Blocked: true, ModelMessage: message}
}

// Pass indicates the guardrail did not trigger.
func Pass() Result { return Result{} }

// MaxArgumentBytes blocks tool calls whose serialized arguments exceed the
// given size.
func MaxArgumentBytes(limit int) InputGuardrail {
	return InputFunc{
		GuardName: "max_argument_bytes",
		Fn: func(_ context.Context, data InputData) (Result, error) {
			if limit > 0 && len(data.Arguments) > limit {
				return Block(fmt.Sprintf("tool %q arguments exceed %d bytes and were rejected", data.ToolName, limit)), nil
			}
			return Pass(), nil
		},
	}
}

var secretPattern = regexp.MustCompile(`(?i)(api[_-]?key|secret|token|password)["':\s]*[=:]`)

// SecretArguments blocks tool calls whose arguments appear to carry
// credential material.
func SecretArguments() InputGuardrail {
	return InputFunc{
		GuardName: "secret_arguments",
		Fn: func(_ context.Context, data InputData) (Result, error) {
			if secretPattern.Match(data.Arguments) {
				return Block(fmt.Sprintf("tool %q arguments look like they contain a secret; the call was rejected", data.ToolName)), nil
			}
			return Pass(), nil
		},
	}
}

// DenySubstrings blocks tool output containing any of the given substrings.
func DenySubstrings(substrings ...string) OutputGuardrail {
	return OutputFunc{
		GuardName: "deny_substrings",
		Fn: func(_ context.Context, data OutputData) (Result, error) {
			text := fmt.Sprintf("%v", data.Output)
			for _, s := range substrings {
				if s != "" && strings.Contains(text, s) {
					return Block(fmt.Sprintf("tool %q output was withheld by policy", data.ToolName)), nil
				}
			}
			return Pass(), nil
		},
	}
}
