// Package probe reads loosely-typed JSON values without panicking.
//
// Every accessor accepts an arbitrary decoded JSON value (the result of
// json.Unmarshal into any) and either returns the requested shape or reports
// absence. Numbers may arrive as float64, json.Number, integers or numeric
// strings; anything else is rejected rather than coerced to zero.
package probe

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Record returns v as a JSON object, or nil when v is not an object.
func Record(v any) map[string]any {
	switch m := v.(type) {
	case map[string]any:
		return m
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			if s, ok := k.(string); ok {
				out[s] = val
			}
		}
		return out
	}
	return nil
}

// Path walks nested objects by key and returns the value found, or nil.
func Path(v any, keys ...string) any {
	cur := v
	for _, k := range keys {
		rec := Record(cur)
		if rec == nil {
			return nil
		}
		cur = rec[k]
	}
	return cur
}

// Number returns v as a finite float64.
func Number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// NumberPtr is Number returning nil for absence.
func NumberPtr(v any) *float64 {
	f, ok := Number(v)
	if !ok {
		return nil
	}
	return &f
}

// Int returns v as an int64 when it is an integral number.
func Int(v any) (int64, bool) {
	f, ok := Number(v)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}

// Bool returns v as a boolean. Only real booleans qualify.
func Bool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

// BoolPtr is Bool returning nil for absence.
func BoolPtr(v any) *bool {
	b, ok := Bool(v)
	if !ok {
		return nil
	}
	return &b
}

// String returns v as a string. Numbers and booleans are not stringified.
func String(v any) string {
	s, _ := v.(string)
	return s
}

// Strings returns the non-empty string elements of v when v is an array.
func Strings(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		if ss, ok := v.([]string); ok {
			raw = make([]any, len(ss))
			for i, s := range ss {
				raw[i] = s
			}
		} else {
			return []string{}
		}
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Array returns v as a JSON array, or nil.
func Array(v any) []any {
	a, _ := v.([]any)
	return a
}
