package graphapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// canonicalRaw compacts and html-escapes a raw value so it re-marshals byte for byte.
// encoding/json applies the same transformation when it writes a RawMessage.
func canonicalRaw(raw json.RawMessage) json.RawMessage {
	var compacted bytes.Buffer
	if err := json.Compact(&compacted, raw); err != nil {
		return append(json.RawMessage(nil), raw...)
	}
	var escaped bytes.Buffer
	json.HTMLEscape(&escaped, compacted.Bytes())
	return json.RawMessage(escaped.Bytes())
}

// splitFields separates the members of a JSON object into the recognised ones and
// everything else. Unrecognised members are kept in canonical form, nil when there are none.
func splitFields(obj map[string]json.RawMessage, known ...string) map[string]json.RawMessage {
	var extra map[string]json.RawMessage
	for k, v := range obj {
		if containsString(known, k) {
			continue
		}
		if extra == nil {
			extra = make(map[string]json.RawMessage)
		}
		extra[k] = canonicalRaw(v)
	}
	return extra
}

func containsString(slice []string, target string) bool {
	for _, item := range slice {
		if item == target {
			return true
		}
	}
	return false
}

type orderedMember struct {
	Key   string
	Value json.RawMessage
}

// decodeOrderedObject reads a JSON object keeping the order of its members, which
// a map would lose. Widget values in the direct-embed format are positional.
func decodeOrderedObject(b []byte) ([]orderedMember, error) {
	dec := json.NewDecoder(bytes.NewReader(b))

	t, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := t.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("expected a JSON object")
	}

	members := make([]orderedMember, 0)
	for dec.More() {
		t, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := t.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected object key %v", t)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		members = append(members, orderedMember{Key: key, Value: raw})
	}

	if _, err := dec.Token(); err != nil { // consume closing brace
		return nil, err
	}
	return members, nil
}

// rawKind returns the first significant byte of a raw value
func rawKind(raw json.RawMessage) byte {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

// decodeID accepts both numeric and string identifiers
func decodeID(raw json.RawMessage) (string, bool) {
	if isNull(raw) {
		return "", false
	}
	switch rawKind(raw) {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || s == "" {
			return "", false
		}
		return s, true
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", false
		}
		return normaliseNumber(n.String()), true
	}
}

// normaliseNumber turns "12.0" into "12" so ids written as floats still match
func normaliseNumber(s string) string {
	if i := strings.IndexByte(s, '.'); i > 0 && strings.Trim(s[i+1:], "0") == "" {
		return s[:i]
	}
	return s
}

// decodeTypeTag reads a slot or link type. LiteGraph writes strings for data types and
// numbers for event slots.
func decodeTypeTag(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(canonicalRaw(raw))
}

func decodeInt(raw json.RawMessage) (int, bool) {
	if isNull(raw) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	return int(f), true
}
