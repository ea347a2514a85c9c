package types

import (
	"encoding/json"
	"testing"
)

func TestDecodeProtocolItemAliasesCallID(t *testing.T) {
	raw := json.RawMessage(`{"type":"function_call","name":"lookup","call_id":"call_1","arguments":"{}"}`)

	item := DecodeProtocolItem(raw)
	if item.Type != ItemTypeFunctionCall {
		t.Fatalf("type = %q, want function_call", item.Type)
	}
	if item.CallID != "call_1" {
		t.Fatalf("callId = %q, want call_1", item.CallID)
	}
}

func TestDecodeProtocolItemCanonicalKeyWins(t *testing.T) {
	raw := json.RawMessage(`{"type":"function_call","name":"lookup","callId":"call_keep","call_id":"call_drop"}`)

	item := DecodeProtocolItem(raw)
	if item.CallID != "call_keep" {
		t.Fatalf("callId = %q, want call_keep", item.CallID)
	}
}

func TestDecodeProtocolItemStripsProviderMetadata(t *testing.T) {
	raw := json.RawMessage(`{"type":"totally_new_item","providerData":{"secret":1},"created_by":"gw","payload":42}`)

	item := DecodeProtocolItem(raw)
	if item.Type != ItemTypeUnknown {
		t.Fatalf("type = %q, want unknown", item.Type)
	}
	var kept map[string]any
	if err := json.Unmarshal(item.Raw, &kept); err != nil {
		t.Fatalf("raw payload not JSON: %v", err)
	}
	for _, key := range []string{"providerData", "created_by"} {
		if _, ok := kept[key]; ok {
			t.Fatalf("metadata key %q survived sanitization", key)
		}
	}
	if kept["payload"] != float64(42) {
		t.Fatalf("payload field lost: %v", kept)
	}
}

func TestDecodeProtocolItemMalformedBecomesUnknown(t *testing.T) {
	item := DecodeProtocolItem(json.RawMessage(`{"type":`))
	if item.Type != ItemTypeUnknown {
		t.Fatalf("type = %q, want unknown", item.Type)
	}
}

func TestItemIdentity(t *testing.T) {
	id, callID := ItemIdentity(json.RawMessage(`{"id":"msg_1","call_id":"call_2"}`))
	if id != "msg_1" || callID != "call_2" {
		t.Fatalf("identity = (%q, %q), want (msg_1, call_2)", id, callID)
	}

	id, callID = ItemIdentity(nil)
	if id != "" || callID != "" {
		t.Fatalf("empty payload yielded identity (%q, %q)", id, callID)
	}
}

func TestFingerprintPreference(t *testing.T) {
	withCall := ProtocolItem{Type: ItemTypeFunctionCall, ID: "msg_1", CallID: "call_1"}
	if got := withCall.Fingerprint(); got != "function_call:call_1" {
		t.Fatalf("fingerprint = %q, want function_call:call_1", got)
	}

	withID := ProtocolItem{Type: ItemTypeMessage, ID: "msg_1"}
	if got := withID.Fingerprint(); got != "message:msg_1" {
		t.Fatalf("fingerprint = %q, want message:msg_1", got)
	}

	a := ProtocolItem{Type: ItemTypeMessage, Role: RoleUser, Content: "hi"}
	b := ProtocolItem{Type: ItemTypeMessage, Role: RoleUser, Content: "bye"}
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatal("distinct id-less items share a fingerprint")
	}
	if a.Fingerprint() != a.Fingerprint() {
		t.Fatal("fingerprint is not stable")
	}
}

func TestUsageAdd(t *testing.T) {
	var total Usage
	total.Add(Usage{Requests: 1, InputTokens: 10, OutputTokens: 5, TotalTokens: 15})
	total.Add(Usage{Requests: 1, InputTokens: 3, Details: map[string]json.RawMessage{"cached": json.RawMessage(`2`)}})

	if total.Requests != 2 || total.InputTokens != 13 || total.OutputTokens != 5 || total.TotalTokens != 15 {
		t.Fatalf("usage = %+v", total)
	}
	if string(total.Details["cached"]) != "2" {
		t.Fatalf("details not merged: %+v", total.Details)
	}
}
