package cache

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ValueKind tags how a cache value is encoded on the wire.
type ValueKind string

const (
	// KindText is a raw string stored verbatim.
	KindText ValueKind = "text"
	// KindStructured is a JSON document.
	KindStructured ValueKind = "structured"
)

// Value is a cache value that is either raw text or a structured document.
// The tag makes the encode/decode contract explicit: text passes through
// verbatim, structured values are JSON on the wire.
type Value struct {
	kind ValueKind
	text string
	raw  json.RawMessage
}

// Text builds a raw text value.
func Text(s string) Value {
	return Value{kind: KindText, text: s}
}

// Structured builds a JSON-encoded value from v.
func Structured(v interface{}) (Value, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Value{}, fmt.Errorf("encode cache value: %w", err)
	}
	return Value{kind: KindStructured, raw: raw}, nil
}

// Decode interprets a stored string. Valid JSON becomes a structured value;
// anything else is returned as raw text, which tolerates entries written by
// callers that never went through Structured.
func Decode(s string) Value {
	if json.Valid([]byte(s)) {
		return Value{kind: KindStructured, raw: json.RawMessage(s)}
	}
	return Text(s)
}

// Kind reports how the value is encoded.
func (v Value) Kind() ValueKind { return v.kind }

// Encode returns the wire form of the value.
func (v Value) Encode() string {
	if v.kind == KindStructured {
		return string(v.raw)
	}
	return v.text
}

// String returns the text form. For structured values this is the JSON
// document; a structured JSON string is unquoted first.
func (v Value) String() string {
	if v.kind == KindStructured {
		var s string
		if err := json.Unmarshal(v.raw, &s); err == nil {
			return s
		}
		return string(v.raw)
	}
	return v.text
}

// Int64 parses the value as an integer. Returns 0 when the value does not
// hold a number.
func (v Value) Int64() int64 {
	n, err := strconv.ParseInt(v.Encode(), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Unmarshal decodes a structured value into dst.
func (v Value) Unmarshal(dst interface{}) error {
	if v.kind != KindStructured {
		return fmt.Errorf("cache value is not structured")
	}
	return json.Unmarshal(v.raw, dst)
}
