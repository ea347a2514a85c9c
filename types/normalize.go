package types

import (
	"bytes"
	"encoding/json"

	"github.com/buger/jsonparser"
)

// Wire payloads arrive with mixed conventions: snake_case field names from
// some providers, camelCase from others, plus side-channel metadata the
// engine must not carry into portable snapshots. Normalization happens here,
// once, so the rest of the engine only ever sees the canonical ProtocolItem
// shape.

var strippedKeys = []string{"providerData", "provider_data", "createdBy", "created_by"}

var keyAliases = map[string]string{
	"call_id": "callId",
}

// DecodeProtocolItem parses one raw provider item into the canonical shape.
// Unrecognized types are preserved as ItemTypeUnknown with the (sanitized)
// payload kept in Raw.
func DecodeProtocolItem(raw json.RawMessage) ProtocolItem {
	sanitized := sanitizeRawItem(raw)

	var item ProtocolItem
	if err := json.Unmarshal(sanitized, &item); err != nil {
		return ProtocolItem{Type: ItemTypeUnknown, Raw: sanitized}
	}
	if !knownItemType(item.Type) {
		return ProtocolItem{Type: ItemTypeUnknown, Raw: sanitized}
	}
	item.Raw = nil
	return item
}

// ItemIdentity extracts the id and call id used for deduplication without a
// full decode.
func ItemIdentity(raw json.RawMessage) (id, callID string) {
	if len(raw) == 0 {
		return "", ""
	}
	if v, err := jsonparser.GetString(raw, "id"); err == nil {
		id = v
	}
	if v, err := jsonparser.GetString(raw, "callId"); err == nil {
		callID = v
	} else if v, err := jsonparser.GetString(raw, "call_id"); err == nil {
		callID = v
	}
	return id, callID
}

// Fingerprint returns a stable key for one item, preferring call id, then
// item id, then the serialized content itself.
func (p ProtocolItem) Fingerprint() string {
	if p.CallID != "" {
		return string(p.Type) + ":" + p.CallID
	}
	if p.ID != "" {
		return string(p.Type) + ":" + p.ID
	}
	data, err := json.Marshal(p)
	if err != nil {
		return string(p.Type)
	}
	return string(p.Type) + ":" + string(data)
}

func knownItemType(t ItemType) bool {
	switch t {
	case ItemTypeMessage, ItemTypeReasoning, ItemTypeFunctionCall,
		ItemTypeFunctionCallOutput, ItemTypeApprovalRequest,
		ItemTypeApprovalResponse, ItemTypeToolListing, ItemTypeShellCall,
		ItemTypeApplyPatchCall, ItemTypeComputerCall, ItemTypeLocalShellCall:
		return true
	}
	return false
}

func sanitizeRawItem(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || raw[0] != '{' {
		return raw
	}
	out := bytes.Clone(raw)
	for _, key := range strippedKeys {
		out = jsonparser.Delete(out, key)
	}
	for from, to := range keyAliases {
		value, dataType, _, err := jsonparser.Get(out, from)
		if err != nil || dataType == jsonparser.NotExist {
			continue
		}
		if _, _, _, existsErr := jsonparser.Get(out, to); existsErr == nil {
			out = jsonparser.Delete(out, from)
			continue
		}
		if dataType == jsonparser.String {
			value = []byte(`"` + string(value) + `"`)
		}
		if updated, setErr := jsonparser.Set(out, value, to); setErr == nil {
			out = jsonparser.Delete(updated, from)
		}
	}
	return out
}
