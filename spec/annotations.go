package spec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// OrderedAnnotations preserves the insertion order of the container's
// annotation keys across a load/save round trip. A plain map[string]string
// is sufficient for OCI consumers but loses order, which the container
// data model treats as significant (annotations are surfaced back to
// callers in the order they were declared in config.json).
type OrderedAnnotations struct {
	keys   []string
	values map[string]string
}

// NewOrderedAnnotations builds an OrderedAnnotations from a plain map,
// ordering keys lexically since a map has no original order to recover.
func NewOrderedAnnotations(m map[string]string) *OrderedAnnotations {
	oa := &OrderedAnnotations{values: make(map[string]string, len(m))}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		oa.Set(k, m[k])
	}
	return oa
}

// Set inserts or updates a key, appending it to the order on first insert.
func (oa *OrderedAnnotations) Set(key, value string) {
	if oa.values == nil {
		oa.values = make(map[string]string)
	}
	if _, ok := oa.values[key]; !ok {
		oa.keys = append(oa.keys, key)
	}
	oa.values[key] = value
}

// Get returns the value for key and whether it was present.
func (oa *OrderedAnnotations) Get(key string) (string, bool) {
	if oa == nil {
		return "", false
	}
	v, ok := oa.values[key]
	return v, ok
}

// Keys returns annotation keys in insertion order.
func (oa *OrderedAnnotations) Keys() []string {
	if oa == nil {
		return nil
	}
	out := make([]string, len(oa.keys))
	copy(out, oa.keys)
	return out
}

// ToMap returns a plain map copy, for callers that don't need order.
func (oa *OrderedAnnotations) ToMap() map[string]string {
	if oa == nil {
		return nil
	}
	m := make(map[string]string, len(oa.values))
	for k, v := range oa.values {
		m[k] = v
	}
	return m
}

// MarshalJSON writes the annotations as a JSON object with keys in
// insertion order.
func (oa OrderedAnnotations) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range oa.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(oa.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, recording key order as encountered.
func (oa *OrderedAnnotations) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("annotations: expected JSON object")
	}

	oa.keys = nil
	oa.values = make(map[string]string)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("annotations: expected string key")
		}
		var val string
		if err := dec.Decode(&val); err != nil {
			return err
		}
		oa.Set(key, val)
	}
	_, err = dec.Token()
	return err
}
