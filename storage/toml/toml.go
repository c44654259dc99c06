// Package toml provides a storage.Codec backed by BurntSushi/toml, used for
// the VM "config" file.
package toml

import (
	"bytes"

	"github.com/BurntSushi/toml"
)

// Codec implements storage.Codec[T] using BurntSushi/toml.
type Codec[T any] struct{}

// New returns a TOML codec for T.
func New[T any]() Codec[T] { return Codec[T]{} }

func (Codec[T]) Marshal(v *T) ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (Codec[T]) Unmarshal(data []byte, v *T) error {
	_, err := toml.Decode(string(data), v)
	return err
}
