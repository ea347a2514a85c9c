package runner

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/loopworks/agentrun/agent"
	"github.com/loopworks/agentrun/tools"
	"github.com/loopworks/agentrun/types"
)

func pausedState(t *testing.T) (*RunState, *agent.Agent, *scriptedModel) {
	t.Helper()
	model := &scriptedModel{steps: []scriptedStep{
		{resp: callResponse(functionCall("echo", "call_1", `{"x":"go"}`))},
		{resp: messageResponse("done: echoed: go")},
	}}
	a := &agent.Agent{Name: "assistant", Tools: []tools.Tool{echoTool(tools.WithApproval())}}
	result, err := New(model).Run(context.Background(), a, "go")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.Interrupted() {
		t.Fatal("expected interruption")
	}
	return result.ToState(), a, model
}

func TestRoundTripLaw(t *testing.T) {
	state, a, _ := pausedState(t)
	state.context.Approvals.Approve("other_tool", "call_9", true)

	doc, err := state.ToDocument()
	if err != nil {
		t.Fatalf("ToDocument failed: %v", err)
	}
	loaded, err := StateFromDocument(doc, a)
	if err != nil {
		t.Fatalf("StateFromDocument failed: %v", err)
	}

	if loaded.CurrentTurn() != state.CurrentTurn() {
		t.Errorf("turn counter changed: %d != %d", loaded.CurrentTurn(), state.CurrentTurn())
	}
	if loaded.RunID() != state.RunID() {
		t.Errorf("run id changed: %q != %q", loaded.RunID(), state.RunID())
	}
	if diff := cmp.Diff(state.Usage(), loaded.Usage()); diff != "" {
		t.Errorf("usage mismatch (-want +got):\n%s", diff)
	}

	type itemKey struct {
		Type     RunItemType
		Agent    string
		CallID   string
		ToolName string
	}
	keysOf := func(items []RunItem) []itemKey {
		out := make([]itemKey, 0, len(items))
		for _, item := range items {
			out = append(out, itemKey{item.Type, item.Agent, item.Item.CallID, item.ToolName})
		}
		return out
	}
	if diff := cmp.Diff(keysOf(state.NewItems()), keysOf(loaded.NewItems())); diff != "" {
		t.Errorf("item list mismatch (-want +got):\n%s", diff)
	}

	// Ledger entries, including always flags, round-trip exactly.
	wantLedger, _ := json.Marshal(state.context.Approvals)
	gotLedger, _ := json.Marshal(loaded.context.Approvals)
	if string(wantLedger) != string(gotLedger) {
		t.Errorf("ledger mismatch: %s != %s", wantLedger, gotLedger)
	}

	// Origin survives the round trip.
	for _, item := range loaded.NewItems() {
		if item.Type == ItemToolCall {
			if item.Origin == nil || item.Origin.Kind != tools.OriginFunction {
				t.Errorf("origin lost through round trip: %+v", item)
			}
		}
	}
}

func TestRoundTripThenResume(t *testing.T) {
	state, a, model := pausedState(t)

	doc, err := state.ToDocument()
	if err != nil {
		t.Fatalf("ToDocument failed: %v", err)
	}
	loaded, err := StateFromDocument(doc, a)
	if err != nil {
		t.Fatalf("StateFromDocument failed: %v", err)
	}

	pending := loaded.Interruptions()
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending item after load, got %d", len(pending))
	}
	if err := loaded.Approve(pending[0]); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	result, err := New(model).Resume(context.Background(), loaded)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if result.TextOutput() != "done: echoed: go" {
		t.Errorf("unexpected final output %q", result.TextOutput())
	}
	if result.ToState().CurrentTurn() != 2 {
		t.Errorf("turn counter reset on resume: %d", result.ToState().CurrentTurn())
	}
}

func TestSchemaVersionRefused(t *testing.T) {
	state, a, _ := pausedState(t)
	doc, err := state.ToDocument()
	if err != nil {
		t.Fatalf("ToDocument failed: %v", err)
	}

	tampered := strings.Replace(string(doc), `"$schemaVersion":"1.0"`, `"$schemaVersion":"9.9"`, 1)
	if tampered == string(doc) {
		t.Fatal("could not tamper version tag")
	}
	var snapErr *SnapshotError
	if _, err := StateFromDocument([]byte(tampered), a); !errors.As(err, &snapErr) {
		t.Fatalf("expected SnapshotError for unknown version, got %v", err)
	}

	missing := strings.Replace(string(doc), `"$schemaVersion":"1.0",`, ``, 1)
	if _, err := StateFromDocument([]byte(missing), a); !errors.As(err, &snapErr) {
		t.Fatalf("expected SnapshotError for missing version, got %v", err)
	}
}

func TestUnresolvableCurrentAgentIsFatal(t *testing.T) {
	state, _, _ := pausedState(t)
	doc, err := state.ToDocument()
	if err != nil {
		t.Fatalf("ToDocument failed: %v", err)
	}
	stranger := &agent.Agent{Name: "stranger"}
	var snapErr *SnapshotError
	if _, err := StateFromDocument(doc, stranger); !errors.As(err, &snapErr) {
		t.Fatalf("expected SnapshotError for unreachable agent, got %v", err)
	}
}

func TestUnknownItemAgentIsSkippedNotFatal(t *testing.T) {
	state, a, _ := pausedState(t)

	// Inject an item owned by an agent the handoff graph cannot resolve.
	state.generatedItems = append(state.generatedItems, RunItem{
		Type:  ItemMessageOutput,
		Agent: "ghost",
		Item:  types.ProtocolItem{Type: types.ItemTypeMessage, Role: types.RoleAssistant, Content: "boo"},
	})

	doc, err := state.ToDocument()
	if err != nil {
		t.Fatalf("ToDocument failed: %v", err)
	}
	loaded, err := StateFromDocument(doc, a)
	if err != nil {
		t.Fatalf("defensive load failed outright: %v", err)
	}
	for _, item := range loaded.NewItems() {
		if item.Agent == "ghost" {
			t.Errorf("item for unknown agent was not skipped: %+v", item)
		}
	}
}

func TestMalformedItemIsSkippedNotFatal(t *testing.T) {
	state, a, _ := pausedState(t)

	doc, err := state.ToDocument()
	if err != nil {
		t.Fatalf("ToDocument failed: %v", err)
	}

	// Corrupt one generated item: the run-item shape breaks while the inner
	// protocol item still carries its call id.
	var wire map[string]json.RawMessage
	if err := json.Unmarshal(doc, &wire); err != nil {
		t.Fatalf("decoding snapshot: %v", err)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(wire["generatedItems"], &items); err != nil {
		t.Fatalf("decoding generated items: %v", err)
	}
	items = append(items, json.RawMessage(`{"type":7,"agent":"assistant","rawItem":{"type":"function_call","callId":"call_broken"}}`))
	wire["generatedItems"], _ = json.Marshal(items)
	doc, _ = json.Marshal(wire)

	loaded, err := StateFromDocument(doc, a)
	if err != nil {
		t.Fatalf("defensive load failed outright: %v", err)
	}
	for _, item := range loaded.NewItems() {
		if item.Item.CallID == "call_broken" {
			t.Errorf("malformed item was not skipped: %+v", item)
		}
	}
	if got, want := len(loaded.NewItems()), len(state.NewItems()); got != want {
		t.Errorf("loaded %d items, want %d", got, want)
	}
}

func TestMergeDeduplicatesByCallID(t *testing.T) {
	state, a, _ := pausedState(t)
	doc, err := state.ToDocument()
	if err != nil {
		t.Fatalf("ToDocument failed: %v", err)
	}
	loaded, err := StateFromDocument(doc, a)
	if err != nil {
		t.Fatalf("StateFromDocument failed: %v", err)
	}

	// The generated list and the processed response's new items overlap;
	// the merge must not duplicate the tool call.
	var callItems int
	for _, item := range loaded.NewItems() {
		if item.Type == ItemToolCall && item.Item.CallID == "call_1" {
			callItems++
		}
	}
	if callItems != 1 {
		t.Errorf("expected exactly 1 call item after merge, got %d", callItems)
	}
}

func TestHandoffStepRoundTrip(t *testing.T) {
	billing := &agent.Agent{Name: "billing"}
	root := &agent.Agent{Name: "triage", Handoffs: []*agent.Agent{billing}}

	state := newRunState(root, []types.ProtocolItem{types.UserMessage("hi")}, 5, nil)
	state.currentTurn = 1
	state.currentStep = NextStepHandoff{NewAgent: billing}

	doc, err := state.ToDocument()
	if err != nil {
		t.Fatalf("ToDocument failed: %v", err)
	}
	loaded, err := StateFromDocument(doc, root)
	if err != nil {
		t.Fatalf("StateFromDocument failed: %v", err)
	}
	step, ok := loaded.currentStep.(NextStepHandoff)
	if !ok {
		t.Fatalf("expected handoff step, got %T", loaded.currentStep)
	}
	if step.NewAgent != billing {
		t.Errorf("handoff target not resolved to the graph agent")
	}
}

func TestPendingHandoffSurvivesRoundTripAndResume(t *testing.T) {
	billing := &agent.Agent{Name: "billing"}
	triage := &agent.Agent{
		Name:     "triage",
		Tools:    []tools.Tool{echoTool(tools.WithApproval())},
		Handoffs: []*agent.Agent{billing},
	}
	model := &scriptedModel{steps: []scriptedStep{
		{resp: callResponse(
			functionCall("echo", "call_1", `{"x":"go"}`),
			functionCall(agent.HandoffToolName(billing), "call_2", `{}`),
		)},
		{resp: messageResponse("billing here")},
	}}
	r := New(model)

	result, err := r.Run(context.Background(), triage, "help")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.Interrupted() {
		t.Fatal("expected interruption")
	}

	doc, err := result.ToState().ToDocument()
	if err != nil {
		t.Fatalf("ToDocument failed: %v", err)
	}
	loaded, err := StateFromDocument(doc, triage)
	if err != nil {
		t.Fatalf("StateFromDocument failed: %v", err)
	}
	if len(loaded.lastProcessed.Handoffs) != 1 || loaded.lastProcessed.Handoffs[0].Target != billing {
		t.Fatalf("pending handoff lost in round trip: %+v", loaded.lastProcessed.Handoffs)
	}

	pending := loaded.Interruptions()
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending item after load, got %d", len(pending))
	}
	if err := loaded.Approve(pending[0]); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	resumed, err := r.Resume(context.Background(), loaded)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if got := resumed.ToState().CurrentAgent().Name; got != "billing" {
		t.Errorf("control still under %q, want billing", got)
	}
	if resumed.TextOutput() != "billing here" {
		t.Errorf("unexpected final output %q", resumed.TextOutput())
	}
}
