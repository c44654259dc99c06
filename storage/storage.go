// Package storage provides flock-protected read/modify/write access to a
// single-file data store, generic over both the stored type T and the wire
// codec used to (de)serialize it, so the same engine backs a JSON-encoded
// store and a TOML-encoded one.
package storage

import (
	"context"
	"fmt"
	"os"

	"github.com/transientvm/transient/lock"
	"github.com/transientvm/transient/lock/flock"
	"github.com/transientvm/transient/utils"
)

// Initer is optionally implemented by T to initialize zero-value fields
// (e.g., nil maps) after deserialization or when the backing store is empty.
type Initer interface {
	Init()
}

// Codec marshals and unmarshals a T to and from the store's on-disk
// representation. Implementations live in storage/json and storage/toml.
type Codec[T any] interface {
	Marshal(v *T) ([]byte, error)
	Unmarshal(data []byte, v *T) error
}

// Store provides locked read/modify/write access to a data store.
// T is the top-level structure managed by the store.
type Store[T any] interface {
	// With loads the data under lock and passes it to fn.
	// If *T implements Initer, Init() is called before fn.
	// The lock is held for the duration of fn.
	With(ctx context.Context, fn func(*T) error) error
	// Update performs a read-modify-write under lock.
	// If fn returns nil the data is persisted.
	Update(ctx context.Context, fn func(*T) error) error
}

// FileStore is the generic flock-protected, codec-parameterized Store[T]
// implementation shared by every concrete store in the project.
type FileStore[T any] struct {
	lockPath string
	filePath string
	codec    Codec[T]
}

// New creates a FileStore for the given lock path, data file path, and codec.
func New[T any](lockPath, filePath string, codec Codec[T]) *FileStore[T] {
	return &FileStore[T]{lockPath: lockPath, filePath: filePath, codec: codec}
}

// With loads the file under flock and passes the deserialized data to fn.
// If the file does not exist, fn receives a zero-value T.
// If *T implements Initer, Init() is called before fn (handles nil maps, etc.).
// The lock is held for the duration of fn.
func (s *FileStore[T]) With(ctx context.Context, fn func(*T) error) error {
	return lock.WithLock(ctx, flock.New(s.lockPath), func() error {
		var data T
		raw, err := os.ReadFile(s.filePath) //nolint:gosec // internal metadata
		if err != nil {
			if os.IsNotExist(err) {
				initData(&data)
				return fn(&data)
			}
			return fmt.Errorf("read %s: %w", s.filePath, err)
		}
		if err := s.codec.Unmarshal(raw, &data); err != nil {
			return fmt.Errorf("parse %s: %w", s.filePath, err)
		}
		initData(&data)
		return fn(&data)
	})
}

// Update performs a read-modify-write on the file under flock.
// If fn returns nil the data is atomically written back.
func (s *FileStore[T]) Update(ctx context.Context, fn func(*T) error) error {
	return s.With(ctx, func(data *T) error {
		if err := fn(data); err != nil {
			return err
		}
		raw, err := s.codec.Marshal(data)
		if err != nil {
			return fmt.Errorf("encode %s: %w", s.filePath, err)
		}
		return utils.AtomicWriteFile(s.filePath, raw, 0o644)
	})
}

func initData[T any](data *T) {
	if initer, ok := any(data).(Initer); ok {
		initer.Init()
	}
}
