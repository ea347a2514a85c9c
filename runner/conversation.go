package runner

import (
	"github.com/loopworks/agentrun/types"
)

// conversationTracker manages input for server-managed conversations, where
// the provider retains history by id and the engine must send each item
// exactly once. Items are keyed by their type-qualified fingerprint (call
// id when present, item id otherwise), so a call and its output stay
// distinct while retries of the same item collapse. A send is tentative
// until markInputSent; rewind drops the tentative batch so a
// locked-conversation retry resends exactly the same items.
type conversationTracker struct {
	conversationID     string
	previousResponseID string

	sent    map[string]struct{}
	pending []types.ProtocolItem
	primed  bool
}

func newConversationTracker(conversationID string) *conversationTracker {
	return &conversationTracker{
		conversationID: conversationID,
		sent:           map[string]struct{}{},
	}
}

// hydrate primes the tracker from a resumed run's history: everything the
// state has already sent or received is marked acknowledged so resumption
// never resends it. Priming twice is a no-op.
func (t *conversationTracker) hydrate(state *RunState) {
	if t.primed {
		return
	}
	t.primed = true
	if state == nil {
		return
	}
	t.previousResponseID = state.previousResponseID
	for _, item := range state.originalInput {
		t.acknowledge(item)
	}
	for _, item := range state.generatedItems {
		t.acknowledge(item.Item)
	}
	for _, resp := range state.responses {
		for _, item := range resp.Output {
			t.acknowledge(item)
		}
	}
}

func (t *conversationTracker) acknowledge(item types.ProtocolItem) {
	t.sent[item.Fingerprint()] = struct{}{}
}

func (t *conversationTracker) seen(item types.ProtocolItem) bool {
	_, ok := t.sent[item.Fingerprint()]
	return ok
}

// prepareInput filters candidate items down to those the server has not
// acknowledged. The returned batch is held as tentative until
// markInputSent or rewind.
func (t *conversationTracker) prepareInput(candidates []types.ProtocolItem) []types.ProtocolItem {
	out := make([]types.ProtocolItem, 0, len(candidates))
	for _, item := range candidates {
		if t.seen(item) {
			continue
		}
		out = append(out, item)
	}
	t.pending = out
	return out
}

// markInputSent commits the tentative batch as acknowledged.
func (t *conversationTracker) markInputSent() {
	for _, item := range t.pending {
		t.acknowledge(item)
	}
	t.pending = nil
}

// rewind discards the tentative batch after a transient conflict so the
// retry resends exactly the same items.
func (t *conversationTracker) rewind() {
	t.pending = nil
}

// trackResponse records the server-side items a response produced, so they
// are never echoed back as input.
func (t *conversationTracker) trackResponse(resp types.ModelResponse) {
	if resp.ResponseID != "" {
		t.previousResponseID = resp.ResponseID
	}
	for _, item := range resp.Output {
		t.acknowledge(item)
	}
}
