// Package jsonrpc implements the JSON-RPC 2.0 message framing used by all
// transports: request/response envelopes, error objects, and batch packets.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ID is a JSON-RPC request identifier: a number, a string, or null.
// The zero value is the null ID. IDs round-trip exactly: a server must echo
// the ID in the same JSON form it was received in.
type ID struct {
	raw json.RawMessage
}

var nullID = json.RawMessage("null")

// NumberID creates an ID from a number.
func NumberID(n int64) ID {
	return ID{raw: json.RawMessage(strconv.FormatInt(n, 10))}
}

// StringID creates an ID from a string.
func StringID(s string) ID {
	raw, _ := json.Marshal(s)
	return ID{raw: raw}
}

// IsNull returns true for the null / absent ID.
func (id ID) IsNull() bool {
	return len(id.raw) == 0 || bytes.Equal(id.raw, nullID)
}

func (id ID) String() string {
	if id.IsNull() {
		return "null"
	}
	return string(id.raw)
}

func (id ID) MarshalJSON() ([]byte, error) {
	if len(id.raw) == 0 {
		return nullID, nil
	}
	return id.raw, nil
}

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, nullID) {
		id.raw = nil
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("invalid string ID: %w", err)
		}
	case '{', '[', 't', 'f':
		return fmt.Errorf("invalid ID: %s", data)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("invalid numeric ID: %w", err)
		}
	}
	id.raw = append(json.RawMessage(nil), data...)
	return nil
}

// Equal compares two IDs by their JSON representation.
func (id ID) Equal(other ID) bool {
	if id.IsNull() || other.IsNull() {
		return id.IsNull() == other.IsNull()
	}
	return bytes.Equal(id.raw, other.raw)
}
