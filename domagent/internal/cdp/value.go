package cdp

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Value is the JSON result of a script call, returned by value.
type Value json.RawMessage

// ValueOf marshals v into a Value. It is used by fakes and tests.
func ValueOf(v any) Value {
	b, err := json.Marshal(v)
	if err != nil {
		return Value("null")
	}
	return Value(b)
}

// IsNull reports whether the script returned null or undefined.
func (v Value) IsNull() bool {
	t := bytes.TrimSpace(v)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// Bool decodes a boolean result; anything else is false.
func (v Value) Bool() bool {
	var b bool
	if err := json.Unmarshal(v, &b); err != nil {
		return false
	}
	return b
}

// Str decodes a string result; non-strings render as their JSON text.
func (v Value) Str() string {
	if v.IsNull() {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return string(v)
}

// Float decodes a numeric result.
func (v Value) Float() float64 {
	var f float64
	if err := json.Unmarshal(v, &f); err != nil {
		return 0
	}
	return f
}

// Decode unmarshals the result into out.
func (v Value) Decode(out any) error {
	if v.IsNull() {
		return fmt.Errorf("cdp: decode: null result")
	}
	if err := json.Unmarshal(v, out); err != nil {
		return fmt.Errorf("cdp: decode: %w", err)
	}
	return nil
}
