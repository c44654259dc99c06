package images

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transientvm/transient/progress"
	"github.com/transientvm/transient/types"
)

type countingProtocol struct {
	calls atomic.Int32
	delay time.Duration
	body  []byte
}

func (p *countingProtocol) Matches(types.Protocol) bool { return true }

func (p *countingProtocol) Retrieve(_ context.Context, _ types.ImageSpec, sink *os.File, _ progress.Tracker) error {
	p.calls.Add(1)
	time.Sleep(p.delay)
	_, err := sink.Write(p.body)
	return err
}

func TestStoreGetRetrievesOnce(t *testing.T) {
	dir := t.TempDir()
	proto := &countingProtocol{delay: 50 * time.Millisecond, body: []byte("disk-bytes")}
	store := New(filepath.Join(dir, "backend"), filepath.Join(dir, "backend", ".working"), []Protocol{proto})
	require.NoError(t, os.MkdirAll(store.BackendDir, 0o750))

	spec := types.ImageSpec{Name: "myimg", Protocol: types.ProtocolFile, Source: "x"}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Get(context.Background(), spec, progress.Nop)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, proto.calls.Load())

	data, err := os.ReadFile(store.finalPath("myimg"))
	require.NoError(t, err)
	assert.Equal(t, "disk-bytes", string(data))

	info, err := os.Stat(store.finalPath("myimg"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(readOnlyMode), info.Mode().Perm())
}

func TestStoreCommitRefusesExisting(t *testing.T) {
	dir := t.TempDir()
	store := New(filepath.Join(dir, "backend"), filepath.Join(dir, "backend", ".working"), nil)
	require.NoError(t, os.MkdirAll(store.BackendDir, 0o750))
	require.NoError(t, os.WriteFile(store.finalPath("existing"), []byte("x"), 0o440))

	src := filepath.Join(dir, "src.img")
	require.NoError(t, os.WriteFile(src, []byte("y"), 0o640))

	_, err := store.Commit(context.Background(), "existing", src)
	require.Error(t, err)
}
