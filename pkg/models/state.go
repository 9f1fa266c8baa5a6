package models

import (
	"encoding/json"
	"maps"
)

// State holds the user-defined fields of a workflow instance. It is stored as a JSON object.
type State map[string]any

// Get returns the raw value stored under key.
func (s State) Get(key string) (any, bool) {
	v, ok := s[key]

	return v, ok
}

// Set stores value under key.
func (s State) Set(key string, value any) {
	s[key] = value
}

// Int returns the value under key as an int. Numbers decoded from JSON arrive as float64.
func (s State) Int(key string) int {
	switch v := s[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	case float32:
		return int(v)
	case json.Number:
		n, _ := v.Int64()

		return int(n)
	default:
		return 0
	}
}

// String returns the value under key as a string, or "" when absent or not a string.
func (s State) String(key string) string {
	v, _ := s[key].(string)

	return v
}

// Bool returns the value under key as a bool.
func (s State) Bool(key string) bool {
	v, _ := s[key].(bool)

	return v
}

// Subset returns a copy holding only the given keys. Missing keys are carried as nil.
func (s State) Subset(keys []string) State {
	out := make(State, len(keys))
	for _, k := range keys {
		out[k] = s[k]
	}

	return out
}

// Clone returns a shallow copy of the state.
func (s State) Clone() State {
	if s == nil {
		return State{}
	}

	return maps.Clone(s)
}

// Keys returns the keys present in the state.
func (s State) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}

	return keys
}
