// Package file implements the "file" image retrieval protocol: a local
// path, streamed through the auto-detecting decompressor.
package file

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/transientvm/transient/decompress"
	"github.com/transientvm/transient/progress"
	"github.com/transientvm/transient/types"
)

// Protocol implements images.Protocol for local file sources.
type Protocol struct{}

func (Protocol) Matches(p types.Protocol) bool { return p == types.ProtocolFile }

func (Protocol) Retrieve(ctx context.Context, spec types.ImageSpec, sink *os.File, tracker progress.Tracker) error {
	src, err := os.Open(spec.Source) //nolint:gosec // operator-supplied local path
	if err != nil {
		return fmt.Errorf("file: open %s: %w", spec.Source, err)
	}
	defer src.Close() //nolint:errcheck

	det := decompress.NewDetector(sink, tracker)
	if _, err := io.Copy(det, src); err != nil {
		return fmt.Errorf("file: copy %s: %w", spec.Source, err)
	}
	if err := det.Close(); err != nil {
		return fmt.Errorf("file: finish %s: %w", spec.Source, err)
	}
	return ctx.Err()
}
