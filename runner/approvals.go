package runner

import (
	"encoding/json"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ApprovalRecord is one tool's approval history: explicitly decided call
// ids plus tool-level always rules.
type ApprovalRecord struct {
	Approved      []string `json:"approved,omitempty"`
	Rejected      []string `json:"rejected,omitempty"`
	AlwaysApprove bool     `json:"alwaysApprove,omitempty"`
	AlwaysReject  bool     `json:"alwaysReject,omitempty"`
}

// ApprovalLedger records approve/reject decisions for gated tool calls. It
// is the only channel the execute phase trusts when deciding whether a
// gated tool may run. Records keep insertion order so snapshots are
// deterministic.
type ApprovalLedger struct {
	records *orderedmap.OrderedMap[string, *ApprovalRecord]
}

func NewApprovalLedger() *ApprovalLedger {
	return &ApprovalLedger{records: orderedmap.New[string, *ApprovalRecord]()}
}

func (l *ApprovalLedger) record(toolName string) *ApprovalRecord {
	if rec, ok := l.records.Get(toolName); ok {
		return rec
	}
	rec := &ApprovalRecord{}
	l.records.Set(toolName, rec)
	return rec
}

// Approve marks one call approved. With always set, every future call to
// the tool is approved without a per-call entry.
func (l *ApprovalLedger) Approve(toolName, callID string, always bool) {
	rec := l.record(toolName)
	if always {
		rec.AlwaysApprove = true
		rec.AlwaysReject = false
	}
	if callID != "" && !containsString(rec.Approved, callID) {
		rec.Approved = append(rec.Approved, callID)
	}
}

// Reject marks one call rejected. With always set, every future call to the
// tool is rejected.
func (l *ApprovalLedger) Reject(toolName, callID string, always bool) {
	rec := l.record(toolName)
	if always {
		rec.AlwaysReject = true
		rec.AlwaysApprove = false
	}
	if callID != "" && !containsString(rec.Rejected, callID) {
		rec.Rejected = append(rec.Rejected, callID)
	}
}

// Decision reports the ledger's verdict for one call: approved tells the
// outcome and known tells whether any decision exists at all. Per-call
// entries take precedence over always rules.
func (l *ApprovalLedger) Decision(toolName, callID string) (approved, known bool) {
	rec, ok := l.records.Get(toolName)
	if !ok {
		return false, false
	}
	if containsString(rec.Rejected, callID) {
		return false, true
	}
	if containsString(rec.Approved, callID) {
		return true, true
	}
	if rec.AlwaysReject {
		return false, true
	}
	if rec.AlwaysApprove {
		return true, true
	}
	return false, false
}

// Len reports how many tools have records.
func (l *ApprovalLedger) Len() int {
	if l == nil || l.records == nil {
		return 0
	}
	return l.records.Len()
}

func (l *ApprovalLedger) MarshalJSON() ([]byte, error) {
	if l == nil || l.records == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(l.records)
}

func (l *ApprovalLedger) UnmarshalJSON(data []byte) error {
	records := orderedmap.New[string, *ApprovalRecord]()
	if err := json.Unmarshal(data, records); err != nil {
		return err
	}
	l.records = records
	return nil
}

func containsString(list []string, s string) bool {
	if s == "" {
		return false
	}
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
