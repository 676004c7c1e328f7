package domain

import (
	"encoding/json"
	"log/slog"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Memory is the caller-owned working memory of an execution context.
// Keys keep their insertion order so serialized payloads are stable.
type Memory struct {
	om *orderedmap.OrderedMap[string, any]
}

// NewMemory creates an empty working memory.
func NewMemory() *Memory {
	return &Memory{om: orderedmap.New[string, any]()}
}

// MemoryFrom copies data into a new working memory. Map iteration order is
// random, so callers needing a stable order should Set keys explicitly.
func MemoryFrom(data map[string]any) *Memory {
	m := NewMemory()
	for k, v := range data {
		m.Set(k, v)
	}
	return m
}

func (m *Memory) lazy() {
	if m.om == nil {
		m.om = orderedmap.New[string, any]()
	}
}

// Get returns the value stored under key.
func (m *Memory) Get(key string) (any, bool) {
	if m == nil || m.om == nil {
		return nil, false
	}
	return m.om.Get(key)
}

// GetString returns the value under key if it is a string.
func (m *Memory) GetString(key string) string {
	v, _ := m.Get(key)
	s, _ := v.(string)
	return s
}

// Set stores value under key, keeping the original position of existing keys.
func (m *Memory) Set(key string, value any) {
	m.lazy()
	m.om.Set(key, value)
}

// Delete removes key.
func (m *Memory) Delete(key string) {
	if m == nil || m.om == nil {
		return
	}
	m.om.Delete(key)
}

// Len returns the number of keys.
func (m *Memory) Len() int {
	if m == nil || m.om == nil {
		return 0
	}
	return m.om.Len()
}

// Keys returns the keys in insertion order.
func (m *Memory) Keys() []string {
	if m == nil || m.om == nil {
		return nil
	}
	keys := make([]string, 0, m.om.Len())
	for pair := m.om.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Map returns an unordered snapshot of the memory.
func (m *Memory) Map() map[string]any {
	out := make(map[string]any, m.Len())
	if m == nil || m.om == nil {
		return out
	}
	for pair := m.om.Oldest(); pair != nil; pair = pair.Next() {
		out[pair.Key] = pair.Value
	}
	return out
}

// Clone returns a detached copy. Nested maps and slices are copied through a
// JSON round trip so forks never share mutable values.
func (m *Memory) Clone() *Memory {
	out := NewMemory()
	if m == nil || m.om == nil {
		return out
	}
	for pair := m.om.Oldest(); pair != nil; pair = pair.Next() {
		out.Set(pair.Key, deepCopy(pair.Value))
	}
	return out
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case nil, string, bool, int, int32, int64, float32, float64, json.Number:
		return t
	case []string:
		return append([]string(nil), t...)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

// MarshalJSON encodes the memory as a JSON object in insertion order.
func (m *Memory) MarshalJSON() ([]byte, error) {
	if m == nil || m.om == nil {
		return []byte("{}"), nil
	}
	return m.om.MarshalJSON()
}

// UnmarshalJSON decodes a JSON object, preserving key order.
func (m *Memory) UnmarshalJSON(data []byte) error {
	m.om = orderedmap.New[string, any]()
	return m.om.UnmarshalJSON(data)
}

// LogValue renders the keys only; values may be large or sensitive.
func (m *Memory) LogValue() slog.Value {
	return slog.AnyValue(m.Keys())
}
