// Package codec converts job store records to and from flat items.
//
// An Item is a string-keyed map whose values are int64, float64, string,
// bool, []any or map[string]any. Timestamps are epoch milliseconds.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"

	"github.com/openjobspec/ojs-jobstore-nats/internal/core"
)

// Item is the flat persisted form of a record.
type Item map[string]any

// Clone returns a copy of the top level of the item.
func (it Item) Clone() Item {
	return maps.Clone(it)
}

// String returns the string attribute name, or "" when absent.
func (it Item) String(name string) string {
	s, _ := it[name].(string)
	return s
}

// Int returns the integer attribute name, or 0 when absent.
func (it Item) Int(name string) int64 {
	switch v := it[name].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// Bool returns the boolean attribute name, or false when absent.
func (it Item) Bool(name string) bool {
	b, _ := it[name].(bool)
	return b
}

// Map returns the map attribute name, or nil when absent.
func (it Item) Map(name string) map[string]any {
	m, _ := it[name].(map[string]any)
	return m
}

// Has reports whether the attribute is present.
func (it Item) Has(name string) bool {
	_, ok := it[name]
	return ok
}

// setString sets the attribute only when s is non-empty.
func (it Item) setString(name, s string) {
	if s != "" {
		it[name] = s
	}
}

// setMillis sets the attribute only when ms is non-zero.
func (it Item) setMillis(name string, ms int64) {
	if ms != 0 {
		it[name] = ms
	}
}

// Marshal encodes an item as JSON.
func Marshal(it Item) ([]byte, error) {
	data, err := json.Marshal(map[string]any(it))
	if err != nil {
		return nil, fmt.Errorf("marshal item: %w", err)
	}
	return data, nil
}

// Unmarshal decodes JSON into an item, mapping integral numbers to int64.
func Unmarshal(data []byte) (Item, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: unmarshal item: %v", core.ErrDecode, err)
	}
	return Item(normalizeMap(raw)), nil
}

// Normalize converts arbitrary JSON-compatible values to the item value set.
func Normalize(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	case float64:
		if x == float64(int64(x)) {
			return int64(x)
		}
		return x
	case map[string]any:
		return normalizeMap(x)
	case core.JobDataMap:
		return normalizeMap(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = Normalize(e)
		}
		return out
	}
	return v
}

func normalizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = Normalize(v)
	}
	return out
}
