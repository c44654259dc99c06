package decompress

import (
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transientvm/transient/progress"
)

func TestDetectorGzip(t *testing.T) {
	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, err := gw.Write([]byte("hello decompress world"))
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	var dst bytes.Buffer
	d := NewDetector(&dst, progress.Nop)
	_, err = d.Write(gz.Bytes())
	require.NoError(t, err)
	require.NoError(t, d.Close())

	assert.Equal(t, "hello decompress world", dst.String())
}

func TestDetectorPlainPassthrough(t *testing.T) {
	var dst bytes.Buffer
	d := NewDetector(&dst, progress.Nop)
	_, err := d.Write([]byte("not compressed at all"))
	require.NoError(t, err)
	require.NoError(t, d.Close())

	assert.Equal(t, "not compressed at all", dst.String())
}

func TestDetectorShortInputNeverResolves(t *testing.T) {
	var dst bytes.Buffer
	d := NewDetector(&dst, progress.Nop)
	_, err := d.Write([]byte{0x1f})
	require.NoError(t, err)
	require.NoError(t, d.Close())

	assert.Equal(t, []byte{0x1f}, dst.Bytes())
}

func TestDetectorTracksSourceBytes(t *testing.T) {
	var total int64
	tracker := progress.NewTracker(func(e ByteEvent) {
		total += e.SourceBytes
	})

	var dst bytes.Buffer
	d := NewDetector(&dst, tracker)
	payload := []byte("twenty-four source bytes")
	_, err := d.Write(payload)
	require.NoError(t, err)
	require.NoError(t, d.Close())

	assert.EqualValues(t, len(payload), total)
}
