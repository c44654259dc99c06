// Package http implements the "http" image retrieval protocol: stream the
// URL body through the auto-detecting decompressor, reporting
// Content-Length to the progress tracker when present.
package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/transientvm/transient/decompress"
	"github.com/transientvm/transient/progress"
	"github.com/transientvm/transient/types"
)

// Protocol implements images.Protocol for HTTP(S) sources.
type Protocol struct {
	Client *http.Client
}

func (Protocol) Matches(p types.Protocol) bool { return p == types.ProtocolHTTP }

// SizeEvent reports the response Content-Length, when known, before the
// body starts streaming.
type SizeEvent struct {
	ContentLength int64
}

func (p Protocol) Retrieve(ctx context.Context, spec types.ImageSpec, sink *os.File, tracker progress.Tracker) error {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec.Source, nil)
	if err != nil {
		return fmt.Errorf("http: build request for %s: %w", spec.Source, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("http: fetch %s: %w", spec.Source, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http: fetch %s: unexpected status %s", spec.Source, resp.Status)
	}
	if resp.ContentLength > 0 {
		tracker.OnEvent(SizeEvent{ContentLength: resp.ContentLength})
	}

	det := decompress.NewDetector(sink, tracker)
	if _, err := io.Copy(det, resp.Body); err != nil {
		return fmt.Errorf("http: copy %s: %w", spec.Source, err)
	}
	return det.Close()
}
