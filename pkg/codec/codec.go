// Package codec defines the serialization capability injected into the cache.
// L2 and L3 store encoded bytes; L1 stores native values and never touches
// the codec.
package codec

import (
	"encoding/json"
	"fmt"
)

// Codec converts values of type V to and from their stored byte form.
type Codec[V any] interface {
	Marshal(v V) ([]byte, error)
	Unmarshal(data []byte) (V, error)
}

// JSON encodes values with encoding/json. It suits the typical cached
// artifacts (geometry, mesh and analysis results marshal cleanly to JSON).
type JSON[V any] struct{}

// NewJSON returns a JSON codec for V.
func NewJSON[V any]() JSON[V] {
	return JSON[V]{}
}

// Marshal implements Codec.
func (JSON[V]) Marshal(v V) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return data, nil
}

// Unmarshal implements Codec.
func (JSON[V]) Unmarshal(data []byte) (V, error) {
	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode value: %w", err)
	}
	return v, nil
}

// Raw is the identity codec for values that are already byte slices.
// Marshal and Unmarshal alias the input; callers that mutate a cached
// value after Set should copy it first.
type Raw struct{}

// Marshal implements Codec.
func (Raw) Marshal(v []byte) ([]byte, error) {
	return v, nil
}

// Unmarshal implements Codec.
func (Raw) Unmarshal(data []byte) ([]byte, error) {
	return data, nil
}

var (
	_ Codec[map[string]any] = JSON[map[string]any]{}
	_ Codec[[]byte]         = Raw{}
)
