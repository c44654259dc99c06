// Package json provides a storage.Codec backed by encoding/json.
package json

import "encoding/json"

// Codec implements storage.Codec[T] using encoding/json, indenting output
// for human-readable diffs of the on-disk file.
type Codec[T any] struct{}

// New returns a JSON codec for T.
func New[T any]() Codec[T] { return Codec[T]{} }

func (Codec[T]) Marshal(v *T) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func (Codec[T]) Unmarshal(data []byte, v *T) error {
	return json.Unmarshal(data, v)
}
