//go:build !linux

package lifecycle

import (
	"fmt"
	"os"
)

// descriptorFile falls back to an unlinked temp file where memfd_create
// isn't available: the directory entry is removed immediately, but the
// open fd keeps the data alive and seekable for the life of the process,
// the same re-readable property a memfd gives on Linux. Process discovery
// itself is Linux-only (see discovery.NewRegistry's darwin stub), but
// lifecycle.Run still needs a descriptor fd to hand the child on every
// platform it launches on.
func descriptorFile() (*os.File, error) {
	f, err := os.CreateTemp("", "transient-descriptor-*")
	if err != nil {
		return nil, fmt.Errorf("lifecycle: create descriptor temp file: %w", err)
	}
	if err := os.Remove(f.Name()); err != nil {
		f.Close() //nolint:errcheck
		return nil, fmt.Errorf("lifecycle: unlink descriptor temp file: %w", err)
	}
	return f, nil
}
