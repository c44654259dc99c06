// Package images implements the backend image store and the retrieval
// protocols that fill it (see the vagrant, http, and file subpackages).
package images

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/transientvm/transient/lock"
	"github.com/transientvm/transient/lock/flock"
	"github.com/transientvm/transient/progress"
	"github.com/transientvm/transient/qemuimg"
	"github.com/transientvm/transient/types"
)

const readOnlyMode = 0o440

// Protocol retrieves the bytes named by spec into sink, reporting progress.
// Implementations live in images/vagrant, images/http, images/file.
type Protocol interface {
	// Matches reports whether this Protocol handles spec.Protocol.
	Matches(p types.Protocol) bool
	// Retrieve streams spec's referenced content into sink.
	Retrieve(ctx context.Context, spec types.ImageSpec, sink *os.File, tracker progress.Tracker) error
}

// Store maps logical image names to files in a backend directory,
// enforcing at-most-one-concurrent-retrieval-per-name and that the final
// file never appears partially written.
type Store struct {
	BackendDir string
	WorkingDir string
	Protocols  []Protocol
}

// New creates a Store. protocols are consulted in order; the first whose
// Matches returns true handles the retrieval.
func New(backendDir, workingDir string, protocols []Protocol) *Store {
	return &Store{BackendDir: backendDir, WorkingDir: workingDir, Protocols: protocols}
}

// finalPath returns the on-disk path for an image's encoded name.
func (s *Store) finalPath(name string) string {
	return filepath.Join(s.BackendDir, EncodeName(name))
}

func (s *Store) workPath(name string) string {
	return filepath.Join(s.WorkingDir, EncodeName(name))
}

// Get returns the BackendImage descriptor if present, retrieving it first
// if necessary: stat the final path, lock and retry on a concurrent
// winner, retrieve into a working path, then atomically promote it.
func (s *Store) Get(ctx context.Context, spec types.ImageSpec, tracker progress.Tracker) (types.BackendImage, error) {
	final := s.finalPath(spec.Name)
	if info, err := os.Stat(final); err == nil {
		return s.describe(spec.Name, final, info)
	} else if !os.IsNotExist(err) {
		return types.BackendImage{}, fmt.Errorf("images: stat %s: %w", final, err)
	}

	work := s.workPath(spec.Name)
	locker := flock.New(work + ".lock")

	var result types.BackendImage
	err := lock.WithLock(ctx, locker, func() error {
		if info, statErr := os.Stat(final); statErr == nil {
			desc, descErr := s.describe(spec.Name, final, info)
			result = desc
			return descErr
		}

		proto, err := s.protocolFor(spec.Protocol)
		if err != nil {
			return err
		}

		if err := os.MkdirAll(s.WorkingDir, 0o750); err != nil {
			return fmt.Errorf("images: create working dir: %w", err)
		}
		out, err := os.OpenFile(work, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640) //nolint:gosec
		if err != nil {
			return fmt.Errorf("images: open %s: %w", work, err)
		}
		if err := proto.Retrieve(ctx, spec, out, tracker); err != nil {
			out.Close() //nolint:errcheck
			os.Remove(work) //nolint:errcheck
			return fmt.Errorf("images: retrieve %s: %w", spec.Name, err)
		}
		if err := out.Close(); err != nil {
			return fmt.Errorf("images: close %s: %w", work, err)
		}
		if err := os.Rename(work, final); err != nil {
			return fmt.Errorf("images: promote %s: %w", spec.Name, err)
		}
		if err := os.Chmod(final, readOnlyMode); err != nil {
			return fmt.Errorf("images: chmod %s: %w", final, err)
		}

		info, statErr := os.Stat(final)
		if statErr != nil {
			return fmt.Errorf("images: stat %s: %w", final, statErr)
		}
		desc, descErr := s.describe(spec.Name, final, info)
		result = desc
		return descErr
	})
	return result, err
}

func (s *Store) protocolFor(p types.Protocol) (Protocol, error) {
	for _, proto := range s.Protocols {
		if proto.Matches(p) {
			return proto, nil
		}
	}
	return nil, fmt.Errorf("images: no protocol registered for %q", p)
}

func (s *Store) describe(name, path string, info os.FileInfo) (types.BackendImage, error) {
	return types.BackendImage{
		Name:         name,
		Path:         path,
		ActualBytes:  info.Size(),
		VirtualBytes: info.Size(),
		CreatedAt:    info.ModTime(),
	}, nil
}

// Commit promotes srcPath (a VM's primary overlay) to a new backend image
// named name, flattening the overlay chain via qemu-img convert. Refuses
// if the final name already exists.
func (s *Store) Commit(ctx context.Context, name, srcPath string) (types.BackendImage, error) {
	final := s.finalPath(name)
	if _, err := os.Stat(final); err == nil {
		return types.BackendImage{}, fmt.Errorf("images: commit %s: image already exists", name)
	}

	work := s.workPath(name)
	locker := flock.New(work + ".lock")

	var result types.BackendImage
	err := lock.WithLock(ctx, locker, func() error {
		if _, err := os.Stat(final); err == nil {
			return fmt.Errorf("images: commit %s: image already exists", name)
		}
		if err := qemuimg.Flatten(ctx, srcPath, work); err != nil {
			return fmt.Errorf("images: stage commit %s: %w", name, err)
		}
		if err := os.Rename(work, final); err != nil {
			return fmt.Errorf("images: promote commit %s: %w", name, err)
		}
		if err := os.Chmod(final, readOnlyMode); err != nil {
			return fmt.Errorf("images: chmod %s: %w", final, err)
		}
		info, err := os.Stat(final)
		if err != nil {
			return fmt.Errorf("images: stat %s: %w", final, err)
		}
		desc, descErr := s.describe(name, final, info)
		result = desc
		return descErr
	})
	return result, err
}

// Delete unlinks a backend image. Callers are responsible for refusing
// deletion when a FrontendImage still references it.
func (s *Store) Delete(name string) error {
	if err := os.Remove(s.finalPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("images: delete %s: %w", name, err)
	}
	return nil
}
