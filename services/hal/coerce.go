package hal

import (
	"encoding/json"
	"strings"
)

// Payloads arrive as whatever the publisher put on the bus: typed structs
// from firmware code, map[string]any or json.RawMessage off the bridge.
// The helpers here flatten that variety into the shapes the service and
// adaptors work with.

// decodeJSON fills dst from bytes, a string, or any JSON-marshalable
// value (maps, structs). Unknown keys are ignored, so configs may carry
// fields this build does not know.
func decodeJSON[T any](src any, dst *T) error {
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		raw = b
	}
	return json.Unmarshal(raw, dst)
}

func mapFromAny(v any) map[string]any {
	m, _ := v.(map[string]any)
	if m == nil {
		return map[string]any{}
	}
	return m
}

// asInt accepts every numeric type JSON decoding or in-process publishing
// may produce. Topic id tokens and params both come through here.
func asInt(t any) (int, bool) {
	switch v := t.(type) {
	case int:
		return v, true
	case int8:
		return int(v), true
	case int16:
		return int(v), true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint:
		return int(v), true
	case uint8:
		return int(v), true
	case uint16:
		return int(v), true
	case uint32:
		return int(v), true
	case uint64:
		return int(v), true
	case float32:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// wantBool reads a level/flag from a map payload by key, or from a bare
// scalar. Accepts bools, numbers, and on/off style strings.
func wantBool(src any, key string) bool {
	if m, ok := src.(map[string]any); ok {
		v, ok := m[key]
		return ok && wantBool(v, "")
	}
	switch v := src.(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "on", "yes":
			return true
		}
		return false
	}
	n, ok := asInt(src)
	return ok && n != 0
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
