package runner

import (
	"encoding/json"
	"testing"
)

func TestLedgerDecisions(t *testing.T) {
	ledger := NewApprovalLedger()

	if _, known := ledger.Decision("echo", "call_1"); known {
		t.Error("empty ledger should not know any call")
	}

	ledger.Approve("echo", "call_1", false)
	approved, known := ledger.Decision("echo", "call_1")
	if !known || !approved {
		t.Errorf("expected approved/known, got %v/%v", approved, known)
	}
	if _, known := ledger.Decision("echo", "call_2"); known {
		t.Error("per-call approval leaked to another call")
	}

	ledger.Reject("echo", "call_2", false)
	approved, known = ledger.Decision("echo", "call_2")
	if !known || approved {
		t.Errorf("expected rejected/known, got %v/%v", approved, known)
	}
}

func TestLedgerAlwaysRules(t *testing.T) {
	ledger := NewApprovalLedger()

	ledger.Approve("echo", "call_1", true)
	if approved, known := ledger.Decision("echo", "call_99"); !known || !approved {
		t.Error("always-approve did not cover an undecided call")
	}

	// Per-call rejection beats the tool-level always rule.
	ledger.Reject("echo", "call_2", false)
	if approved, known := ledger.Decision("echo", "call_2"); !known || approved {
		t.Error("per-call rejection should win over always-approve")
	}

	// Flipping to always-reject clears always-approve.
	ledger.Reject("risky", "", true)
	if approved, known := ledger.Decision("risky", "anything"); !known || approved {
		t.Error("always-reject did not apply")
	}
	ledger.Approve("risky", "", true)
	if approved, known := ledger.Decision("risky", "anything"); !known || !approved {
		t.Error("always-approve did not replace always-reject")
	}
}

func TestLedgerJSONRoundTripPreservesOrder(t *testing.T) {
	ledger := NewApprovalLedger()
	ledger.Approve("zeta", "call_1", false)
	ledger.Reject("alpha", "call_2", true)
	ledger.Approve("mid", "call_3", true)

	data, err := json.Marshal(ledger)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	loaded := NewApprovalLedger()
	if err := json.Unmarshal(data, loaded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	again, err := json.Marshal(loaded)
	if err != nil {
		t.Fatalf("re-marshal failed: %v", err)
	}
	if string(data) != string(again) {
		t.Errorf("ledger serialization not stable:\n%s\n%s", data, again)
	}

	if approved, known := loaded.Decision("alpha", "other"); !known || approved {
		t.Error("always-reject flag lost in round trip")
	}
	if approved, known := loaded.Decision("zeta", "call_1"); !known || !approved {
		t.Error("per-call approval lost in round trip")
	}
}
