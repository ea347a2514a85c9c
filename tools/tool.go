package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"

	"github.com/loopworks/agentrun/guardrail"
	"github.com/loopworks/agentrun/types"
)

// OriginKind distinguishes where a tool's behavior lives.
type OriginKind string

const (
	// OriginFunction is a direct in-process function tool.
	OriginFunction OriginKind = "function"
	// OriginProtocol is a tool served by a remote protocol server.
	OriginProtocol OriginKind = "protocol_tool"
	// OriginAgent is another agent exposed as a tool.
	OriginAgent OriginKind = "agent_as_tool"
)

// Origin tags every tool call and tool output item produced by a run. It
// survives rejection paths and snapshot round trips.
type Origin struct {
	Kind   OriginKind `json:"kind"`
	Server string     `json:"server,omitempty"`
	Agent  string     `json:"agent,omitempty"`
}

type Tool interface {
	Definition() types.ToolDefinition
	Execute(ctx context.Context, args json.RawMessage) (any, error)
}

// ApprovalGate is implemented by tools whose execution may require a human
// decision. The engine consults it per call before invoking the tool.
type ApprovalGate interface {
	NeedsApproval(ctx context.Context, args json.RawMessage, callID string) (bool, error)
}

// Guarded exposes per-tool guardrails. Input guardrails run before
// invocation; output guardrails run on the result.
type Guarded interface {
	InputGuardrails() []guardrail.InputGuardrail
	OutputGuardrails() []guardrail.OutputGuardrail
}

// ErrorTranslator turns a tool failure into a model-visible message instead
// of terminating the run.
type ErrorTranslator interface {
	TranslateToolError(ctx context.Context, err error) (string, bool)
}

// HasOrigin overrides the default origin derived from the definition.
type HasOrigin interface {
	Origin() Origin
}

// ApprovalDecision is the outcome of a hosted approval callback.
type ApprovalDecision struct {
	Approve bool   `json:"approve"`
	Reason  string `json:"reason,omitempty"`
}

// ApprovalResolver is implemented by hosted/protocol tools that can answer
// server-side approval requests programmatically.
type ApprovalResolver interface {
	ResolveApproval(ctx context.Context, request types.ProtocolItem) (ApprovalDecision, error)
}

// OriginOf derives the origin tag for a tool.
func OriginOf(t Tool) Origin {
	if o, ok := t.(HasOrigin); ok {
		return o.Origin()
	}
	def := t.Definition()
	if def.Kind == types.ToolKindHosted {
		return Origin{Kind: OriginProtocol, Server: def.Server}
	}
	return Origin{Kind: OriginFunction}
}

// FuncTool wraps a Go function as a tool.
type FuncTool struct {
	def              types.ToolDefinition
	fn               func(ctx context.Context, args json.RawMessage) (any, error)
	needsApproval    func(ctx context.Context, args json.RawMessage, callID string) (bool, error)
	inputGuardrails  []guardrail.InputGuardrail
	outputGuardrails []guardrail.OutputGuardrail
	failureMessage   func(ctx context.Context, err error) string
	origin           *Origin
}

type Option func(*FuncTool)

// WithApproval gates every call behind an approval decision.
func WithApproval() Option {
	return func(t *FuncTool) {
		t.needsApproval = func(context.Context, json.RawMessage, string) (bool, error) {
			return true, nil
		}
	}
}

// WithApprovalFunc gates calls behind a per-call predicate.
func WithApprovalFunc(fn func(ctx context.Context, args json.RawMessage, callID string) (bool, error)) Option {
	return func(t *FuncTool) { t.needsApproval = fn }
}

func WithInputGuardrails(guards ...guardrail.InputGuardrail) Option {
	return func(t *FuncTool) {
		t.inputGuardrails = append(t.inputGuardrails, guards...)
	}
}

func WithOutputGuardrails(guards ...guardrail.OutputGuardrail) Option {
	return func(t *FuncTool) {
		t.outputGuardrails = append(t.outputGuardrails, guards...)
	}
}

// WithFailureMessage makes tool errors non-fatal: the returned message is
// recorded as the tool's output and the run continues.
func WithFailureMessage(fn func(ctx context.Context, err error) string) Option {
	return func(t *FuncTool) { t.failureMessage = fn }
}

// WithKind overrides the dispatch kind (shell, apply_patch, computer,
// local_shell) for tools that answer exotic call types.
func WithKind(kind types.ToolKind) Option {
	return func(t *FuncTool) { t.def.Kind = kind }
}

// WithOrigin overrides the derived origin tag.
func WithOrigin(origin Origin) Option {
	return func(t *FuncTool) { t.origin = &origin }
}

func NewFuncTool(name, description string, schema map[string]any, fn func(ctx context.Context, args json.RawMessage) (any, error), opts ...Option) *FuncTool {
	t := &FuncTool{
		def: types.ToolDefinition{
			Name:        name,
			Description: description,
			Kind:        types.ToolKindFunction,
			JSONSchema:  schema,
		},
		fn: fn,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewTypedTool derives the argument schema from the args struct type via
// reflection, so handlers get decoded arguments instead of raw JSON.
func NewTypedTool[Args any](name, description string, fn func(ctx context.Context, args Args) (any, error), opts ...Option) *FuncTool {
	schema := reflectSchema[Args]()
	wrapped := func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args Args
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("invalid arguments for tool %q: %w", name, err)
			}
		}
		return fn(ctx, args)
	}
	return NewFuncTool(name, description, schema, wrapped, opts...)
}

func (t *FuncTool) Definition() types.ToolDefinition { return t.def }

func (t *FuncTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	if t.fn == nil {
		return nil, fmt.Errorf("tool %q has no execute function", t.def.Name)
	}
	return t.fn(ctx, args)
}

func (t *FuncTool) NeedsApproval(ctx context.Context, args json.RawMessage, callID string) (bool, error) {
	if t.needsApproval == nil {
		return false, nil
	}
	return t.needsApproval(ctx, args, callID)
}

func (t *FuncTool) InputGuardrails() []guardrail.InputGuardrail   { return t.inputGuardrails }
func (t *FuncTool) OutputGuardrails() []guardrail.OutputGuardrail { return t.outputGuardrails }

func (t *FuncTool) TranslateToolError(ctx context.Context, err error) (string, bool) {
	if t.failureMessage == nil {
		return "", false
	}
	return t.failureMessage(ctx, err), true
}

func (t *FuncTool) Origin() Origin {
	if t.origin != nil {
		return *t.origin
	}
	if t.def.Kind == types.ToolKindHosted {
		return Origin{Kind: OriginProtocol, Server: t.def.Server}
	}
	return Origin{Kind: OriginFunction}
}

func reflectSchema[Args any]() map[string]any {
	t := reflect.TypeOf((*Args)(nil)).Elem()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	// ExpandedStruct resolves the root definition by type name, so unnamed
	// types (struct{}, anonymous argument structs) cannot go through the
	// reflector. They get the permissive empty-object schema instead;
	// arguments still decode normally at execution time.
	if t.Kind() != reflect.Struct || t.Name() == "" {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}

	reflector := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	var zero Args
	schema := reflector.Reflect(&zero)
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	delete(out, "$schema")
	return out
}
