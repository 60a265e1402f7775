package agent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ParseFailure is the error text carried by the sentinel map.
const ParseFailure = "Failed to parse LLM response"

var (
	errNoJSON    = errors.New("no JSON object found")
	errNotObject = errors.New("JSON value is not an object")
	errNull      = errors.New("JSON value is null")
)

// Unparsed is returned in place of a decoded value when model output
// cannot be read as JSON.
type Unparsed struct {
	Raw string
	Err error
}

func (u *Unparsed) Error() string {
	return fmt.Sprintf("unparsed response: %v", u.Err)
}

func (u *Unparsed) Unwrap() error { return u.Err }

// Sentinel returns the map form of the failure.
func (u *Unparsed) Sentinel() map[string]any {
	return map[string]any{"error": ParseFailure, "raw_response": u.Raw}
}

// extract tries decode on the raw text, then on the fence-stripped span
// between the first '{' and the last '}'.
func extract(raw string, decode func([]byte) error) error {
	if err := decode([]byte(raw)); err == nil {
		return nil
	}

	cleaned := strings.ReplaceAll(raw, "```json", "")
	cleaned = strings.TrimSpace(strings.ReplaceAll(cleaned, "```", ""))

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start == -1 || end < start {
		return errNoJSON
	}
	return decode([]byte(cleaned[start : end+1]))
}

// Decode reads model output into T. On failure it returns the zero T and a
// non-nil *Unparsed; it never panics. A bare null is a failure.
func Decode[T any](raw string) (T, *Unparsed) {
	var out T
	err := extract(raw, func(b []byte) error {
		if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
			return errNull
		}
		var v T
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, &Unparsed{Raw: raw, Err: err}
	}
	return out, nil
}

// ParseJSON reads model output as a JSON object. Unreadable output yields
// {"error": ParseFailure, "raw_response": raw}.
func ParseJSON(raw string) map[string]any {
	var out map[string]any
	err := extract(raw, func(b []byte) error {
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			return err
		}
		if m == nil {
			return errNotObject
		}
		out = m
		return nil
	})
	if err != nil {
		return (&Unparsed{Raw: raw, Err: err}).Sentinel()
	}
	return out
}

// IsSentinel reports whether m is a parse or generation failure sentinel.
func IsSentinel(m map[string]any) bool {
	if m == nil {
		return false
	}
	_, hasErr := m["error"]
	_, hasRaw := m["raw_response"]
	return hasErr && hasRaw
}

// SentinelError returns the failure text carried by a sentinel, or "".
func SentinelError(m map[string]any) string {
	if !IsSentinel(m) {
		return ""
	}
	return Str(m, "error")
}
