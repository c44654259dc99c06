// Package decompress provides an io.Writer that auto-detects gzip, bzip2,
// or xz framing on the first bytes written and transparently decompresses
// the stream to an underlying destination, passing through unrecognized
// input unchanged.
package decompress

import (
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/ulikunitz/xz"

	"github.com/transientvm/transient/progress"
)

// family identifies a detected compression format by its header magic.
type family int

const (
	familyUnknown family = iota
	familyGzip
	familyBzip2
	familyXz
	familyPlain
)

var magics = []struct {
	family family
	magic  []byte
}{
	{familyGzip, []byte{0x1f, 0x8b}},
	{familyBzip2, []byte{0x42, 0x5a, 0x68}},
	{familyXz, []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}},
}

// longestMagic is the number of bytes that must be buffered before a
// definitive family decision can be made.
var longestMagic = func() int {
	n := 0
	for _, m := range magics {
		if len(m.magic) > n {
			n = len(m.magic)
		}
	}
	return n
}()

// Detector is an io.Writer that sniffs the compression family from the
// first bytes it sees, lazily builds the matching decompressing reader
// chain, and streams decompressed output to dst. Every Write call reports
// the number of source (pre-decompression) bytes consumed to tracker, so
// progress reporting tracks bytes read rather than bytes produced.
type Detector struct {
	dst     io.Writer
	tracker progress.Tracker

	prefix   bytes.Buffer
	resolved bool
	fam      family

	pr *io.PipeReader
	pw *io.PipeWriter
	// done receives the copy goroutine's error once the decompressing
	// reader chain has drained pr to EOF (or failed).
	done chan error
}

// NewDetector wraps dst, the final decompressed-bytes destination. tracker
// receives a ByteEvent per Write call reporting the source-byte count; pass
// progress.Nop if no reporting is needed.
func NewDetector(dst io.Writer, tracker progress.Tracker) *Detector {
	if tracker == nil {
		tracker = progress.Nop
	}
	return &Detector{dst: dst, tracker: tracker}
}

// ByteEvent is published to the Detector's tracker on every Write,
// reporting the number of source bytes consumed by that Write.
type ByteEvent struct {
	SourceBytes int64
}

// Write implements io.Writer. The first call(s) buffer up to longestMagic
// bytes to make a family determination before any decompression begins;
// once resolved, every byte is forwarded through the decompression chain.
func (d *Detector) Write(p []byte) (int, error) {
	n := len(p)
	if !d.resolved {
		d.prefix.Write(p)
		if d.prefix.Len() < longestMagic {
			d.reportBytes(int64(n))
			return n, nil
		}
		if err := d.resolve(); err != nil {
			return 0, err
		}
		p = nil // prefix already queued by resolve via the pipe writer
	}
	if p != nil {
		if _, err := d.pw.Write(p); err != nil {
			return 0, fmt.Errorf("decompress: write to pipe: %w", err)
		}
	}
	d.reportBytes(int64(n))
	return n, nil
}

// Close finalizes the stream, flushing any still-buffered prefix (for
// inputs shorter than the longest magic number) and waiting for the
// decompression goroutine to finish copying into dst.
func (d *Detector) Close() error {
	if !d.resolved {
		if err := d.resolve(); err != nil {
			return err
		}
	}
	if err := d.pw.Close(); err != nil {
		return fmt.Errorf("decompress: close pipe: %w", err)
	}
	return <-d.done
}

func (d *Detector) reportBytes(n int64) {
	d.tracker.OnEvent(ByteEvent{SourceBytes: n})
}

// resolve determines the compression family from the buffered prefix,
// starts the pipe and the background reader-chain goroutine, and replays
// the buffered prefix bytes through the pipe.
func (d *Detector) resolve() error {
	buf := d.prefix.Bytes()
	d.fam = familyPlain
	for _, m := range magics {
		if bytes.HasPrefix(buf, m.magic) {
			d.fam = m.family
			break
		}
	}
	d.resolved = true

	d.pr, d.pw = io.Pipe()
	d.done = make(chan error, 1)
	go d.runChain()

	if len(buf) > 0 {
		if _, err := d.pw.Write(buf); err != nil {
			return fmt.Errorf("decompress: replay prefix: %w", err)
		}
	}
	return nil
}

// runChain builds the decompressing reader for the resolved family (if
// any) and copies its output to dst, reporting the terminal error (or nil)
// on done.
func (d *Detector) runChain() {
	var src io.Reader = d.pr
	var chainErr error

	switch d.fam {
	case familyGzip:
		gr, err := gzip.NewReader(d.pr)
		if err != nil {
			d.done <- fmt.Errorf("decompress: open gzip stream: %w", err)
			io.Copy(io.Discard, d.pr) //nolint:errcheck
			return
		}
		defer gr.Close() //nolint:errcheck
		src = gr
	case familyBzip2:
		src = bzip2.NewReader(d.pr)
	case familyXz:
		xr, err := xz.NewReader(d.pr)
		if err != nil {
			d.done <- fmt.Errorf("decompress: open xz stream: %w", err)
			io.Copy(io.Discard, d.pr) //nolint:errcheck
			return
		}
		src = xr
	case familyPlain, familyUnknown:
		// passthrough
	}

	if _, err := io.Copy(d.dst, src); err != nil {
		chainErr = fmt.Errorf("decompress: copy decompressed stream: %w", err)
	}
	d.done <- chainErr
}
