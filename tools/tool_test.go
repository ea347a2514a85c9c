package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/loopworks/agentrun/types"
)

func TestTypedToolDecodesArguments(t *testing.T) {
	type args struct {
		City string `json:"city"`
		Days int    `json:"days"`
	}
	tool := NewTypedTool("forecast", "Weather forecast.", func(_ context.Context, in args) (any, error) {
		return in.City, nil
	})

	out, err := tool.Execute(context.Background(), json.RawMessage(`{"city":"Oslo","days":3}`))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out != "Oslo" {
		t.Fatalf("output = %v, want Oslo", out)
	}

	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"city":42}`)); err == nil {
		t.Fatal("mistyped arguments did not error")
	}
}

func TestTypedToolSchemaReflection(t *testing.T) {
	type args struct {
		Query string `json:"query" jsonschema:"description=Search query"`
		Limit int    `json:"limit,omitempty"`
	}
	tool := NewTypedTool("search", "Searches.", func(_ context.Context, in args) (any, error) {
		return nil, nil
	})

	schema := tool.Definition().JSONSchema
	if schema["type"] != "object" {
		t.Fatalf("schema type = %v, want object", schema["type"])
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		t.Fatalf("schema has no properties: %v", schema)
	}
	if _, ok := props["query"]; !ok {
		t.Fatalf("query not reflected into schema: %v", props)
	}
	if _, ok := schema["$schema"]; ok {
		t.Fatal("$schema marker leaked into the tool definition")
	}
}

func TestTypedToolUnnamedArgsGetEmptyObjectSchema(t *testing.T) {
	// The natural no-argument tool must construct without panicking and
	// advertise a permissive object schema.
	ping := NewTypedTool("ping", "", func(_ context.Context, _ struct{}) (any, error) {
		return "pong", nil
	})
	schema := ping.Definition().JSONSchema
	if schema["type"] != "object" {
		t.Fatalf("schema type = %v, want object", schema["type"])
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok || len(props) != 0 {
		t.Fatalf("schema properties = %v, want empty object", schema["properties"])
	}
	out, err := ping.Execute(context.Background(), nil)
	if err != nil || out != "pong" {
		t.Fatalf("execute = %v, %v", out, err)
	}

	// Anonymous structs with fields skip reflection too, but their
	// arguments still decode at execution time.
	anon := NewTypedTool("locate", "", func(_ context.Context, args struct {
		City string `json:"city"`
	}) (any, error) {
		return args.City, nil
	})
	out, err = anon.Execute(context.Background(), json.RawMessage(`{"city":"Oslo"}`))
	if err != nil || out != "Oslo" {
		t.Fatalf("execute = %v, %v", out, err)
	}
}

func TestApprovalOptions(t *testing.T) {
	plain := NewTypedTool("plain", "", func(_ context.Context, _ struct{}) (any, error) { return nil, nil })
	if needs, err := plain.NeedsApproval(context.Background(), nil, "call_1"); err != nil || needs {
		t.Fatalf("ungated tool needs approval: %v %v", needs, err)
	}

	gated := NewTypedTool("gated", "", func(_ context.Context, _ struct{}) (any, error) { return nil, nil },
		WithApproval())
	if needs, _ := gated.NeedsApproval(context.Background(), nil, "call_1"); !needs {
		t.Fatal("WithApproval did not gate the tool")
	}

	conditional := NewTypedTool("cond", "", func(_ context.Context, _ struct{}) (any, error) { return nil, nil },
		WithApprovalFunc(func(_ context.Context, args json.RawMessage, _ string) (bool, error) {
			return len(args) > 2, nil
		}))
	if needs, _ := conditional.NeedsApproval(context.Background(), json.RawMessage(`{}`), "c"); needs {
		t.Fatal("predicate ignored for small args")
	}
	if needs, _ := conditional.NeedsApproval(context.Background(), json.RawMessage(`{"x":1}`), "c"); !needs {
		t.Fatal("predicate ignored for large args")
	}
}

func TestFailureMessageTranslation(t *testing.T) {
	tool := NewFuncTool("flaky", "", nil,
		func(_ context.Context, _ json.RawMessage) (any, error) { return nil, errors.New("boom") },
		WithFailureMessage(func(_ context.Context, err error) string {
			return "tool failed: " + err.Error()
		}))

	msg, ok := tool.TranslateToolError(context.Background(), errors.New("boom"))
	if !ok || msg != "tool failed: boom" {
		t.Fatalf("translation = (%q, %v)", msg, ok)
	}

	bare := NewFuncTool("bare", "", nil, nil)
	if _, ok := bare.TranslateToolError(context.Background(), errors.New("boom")); ok {
		t.Fatal("tool without failure message claimed translation")
	}
}

func TestOriginDerivation(t *testing.T) {
	fn := NewTypedTool("fn", "", func(_ context.Context, _ struct{}) (any, error) { return nil, nil })
	if got := OriginOf(fn); got.Kind != OriginFunction {
		t.Fatalf("function origin = %+v", got)
	}

	hosted := HostedTool{Server: "files", Name: "read_file"}
	if got := OriginOf(hosted); got.Kind != OriginProtocol || got.Server != "files" {
		t.Fatalf("hosted origin = %+v", got)
	}

	overridden := NewTypedTool("sub", "", func(_ context.Context, _ struct{}) (any, error) { return nil, nil },
		WithOrigin(Origin{Kind: OriginAgent, Agent: "worker"}))
	if got := OriginOf(overridden); got.Kind != OriginAgent || got.Agent != "worker" {
		t.Fatalf("overridden origin = %+v", got)
	}
}

func TestHostedToolApproval(t *testing.T) {
	answered := HostedTool{
		Server: "files",
		Name:   "write_file",
		OnApprovalRequest: func(_ context.Context, req types.ProtocolItem) (ApprovalDecision, error) {
			return ApprovalDecision{Approve: true, Reason: "trusted"}, nil
		},
	}
	decision, err := answered.ResolveApproval(context.Background(), types.ProtocolItem{Type: types.ItemTypeApprovalRequest})
	if err != nil || !decision.Approve {
		t.Fatalf("decision = %+v, err = %v", decision, err)
	}

	silent := HostedTool{Server: "files", Name: "write_file"}
	if _, err := silent.ResolveApproval(context.Background(), types.ProtocolItem{}); !errors.Is(err, ErrNoApprovalCallback) {
		t.Fatalf("err = %v, want ErrNoApprovalCallback", err)
	}

	if _, err := silent.Execute(context.Background(), nil); err == nil {
		t.Fatal("local execution of a hosted tool did not error")
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	a := NewTypedTool("alpha", "", func(_ context.Context, _ struct{}) (any, error) { return nil, nil })
	b := NewTypedTool("beta", "", func(_ context.Context, _ struct{}) (any, error) { return nil, nil })

	if err := reg.Register(b); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(a); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(a); err == nil {
		t.Fatal("duplicate registration accepted")
	}
	if err := reg.Register(NewTypedTool("  ", "", func(_ context.Context, _ struct{}) (any, error) { return nil, nil })); err == nil {
		t.Fatal("blank tool name accepted")
	}

	if _, ok := reg.Get("alpha"); !ok {
		t.Fatal("registered tool not found")
	}

	listed := reg.List()
	if len(listed) != 2 || listed[0].Definition().Name != "alpha" || listed[1].Definition().Name != "beta" {
		names := make([]string, len(listed))
		for i, tool := range listed {
			names[i] = tool.Definition().Name
		}
		t.Fatalf("list order = %v, want [alpha beta]", names)
	}
}
