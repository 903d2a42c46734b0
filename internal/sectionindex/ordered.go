package sectionindex

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// OrderedMap is a JSON object decoded with its key order preserved, so
// Compile can walk structural siblings (preliminaries/body/finals and
// similar) in source order instead of Go's randomized map iteration order
// (SPEC_FULL.md §4.10: "children visited in source order").
type OrderedMap struct {
	keys   []string
	values map[string]any
}

// NewOrderedMap returns an empty OrderedMap, for callers building a format
// definition programmatically rather than decoding it from JSON.
func NewOrderedMap() *OrderedMap {
	return &OrderedMap{values: map[string]any{}}
}

// Set appends key to the iteration order on first use and stores value.
func (m *OrderedMap) Set(key string, value any) *OrderedMap {
	if _, exists := m.values[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
	return m
}

// Get returns the value stored under key, if any.
func (m *OrderedMap) Get(key string) (any, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Keys returns the object's keys in source (insertion) order.
func (m *OrderedMap) Keys() []string {
	return m.keys
}

// DecodeOrdered parses data as JSON, decoding every object into an
// *OrderedMap (instead of encoding/json's unordered map[string]any) so the
// result compiles deterministically and in source order.
func DecodeOrdered(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := decodeOrderedValue(dec)
	if err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("sectionindex: unexpected trailing data after top-level value")
	}
	return v, nil
}

func decodeOrderedValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	return decodeOrderedToken(dec, tok)
}

func decodeOrderedToken(dec *json.Decoder, tok json.Token) (any, error) {
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}

	switch delim {
	case '{':
		m := NewOrderedMap()
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := keyTok.(string)
			if !ok {
				return nil, fmt.Errorf("sectionindex: expected object key, got %v", keyTok)
			}
			value, err := decodeOrderedValue(dec)
			if err != nil {
				return nil, err
			}
			m.Set(key, value)
		}
		if _, err := dec.Token(); err != nil { // consume '}'
			return nil, err
		}
		return m, nil
	case '[':
		arr := []any{}
		for dec.More() {
			value, err := decodeOrderedValue(dec)
			if err != nil {
				return nil, err
			}
			arr = append(arr, value)
		}
		if _, err := dec.Token(); err != nil { // consume ']'
			return nil, err
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("sectionindex: unexpected delimiter %v", delim)
	}
}

// entry is one key/value pair visited by walk, in the order entries()
// returns them.
type entry struct {
	key   string
	value any
}

// entries returns obj's key/value pairs in source order for an *OrderedMap,
// or in sorted order for a plain map[string]any (a deterministic fallback
// for callers that build a format definition in Go without going through
// DecodeOrdered; a plain map has already lost its source order by the time
// it reaches this package, so sorting is the best available guarantee).
func entries(obj any) ([]entry, bool) {
	switch v := obj.(type) {
	case *OrderedMap:
		out := make([]entry, 0, len(v.keys))
		for _, k := range v.keys {
			out = append(out, entry{k, v.values[k]})
		}
		return out, true
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]entry, 0, len(keys))
		for _, k := range keys {
			out = append(out, entry{k, v[k]})
		}
		return out, true
	default:
		return nil, false
	}
}

func findEntry(ents []entry, key string) (any, bool) {
	for _, e := range ents {
		if e.key == key {
			return e.value, true
		}
	}
	return nil, false
}
