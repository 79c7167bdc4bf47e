package bench

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"
)

// accepted reports whether a response counts toward an ok record: an
// object, a non-empty array, or a non-null scalar that is not an error
// string. Everything else (null, [], {}, "error: ..." strings) is empty.
func accepted(raw json.RawMessage) bool {
	if len(bytes.TrimSpace(raw)) == 0 {
		return false
	}
	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return false
	}
	switch v := value.(type) {
	case nil:
		return false
	case []interface{}:
		return len(v) > 0
	case map[string]interface{}:
		return len(v) > 0
	case string:
		return !strings.HasPrefix(v, "error:")
	default:
		return true
	}
}

// equalJSON compares two responses by deep JSON equality, ignoring
// formatting differences.
func equalJSON(a, b json.RawMessage) bool {
	var va, vb interface{}
	if err := json.Unmarshal(a, &va); err != nil {
		return bytes.Equal(a, b)
	}
	if err := json.Unmarshal(b, &vb); err != nil {
		return false
	}
	return reflect.DeepEqual(va, vb)
}

// capResponse truncates string-valued responses to the configured cap.
// Structured responses are stored whole; limit 0 disables the cap.
func capResponse(raw json.RawMessage, limit int) json.RawMessage {
	if limit <= 0 {
		return raw
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return raw
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return raw
	}
	capped, err := json.Marshal(string(runes[:limit]) + "…")
	if err != nil {
		return raw
	}
	return capped
}

// errorResponse renders an rpc error as the string response stored in the
// artifact, e.g. `"error: Unknown method textDocument/declaration"`.
func errorResponse(message string) json.RawMessage {
	raw, err := json.Marshal("error: " + message)
	if err != nil {
		return json.RawMessage(`"error: unknown"`)
	}
	return raw
}
