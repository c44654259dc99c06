package vmstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transientvm/transient/types"
)

func writeConfig(t *testing.T, store *Store, name string) {
	t.Helper()
	dir := store.vmDir(name)
	require.NoError(t, os.MkdirAll(dir, 0o750))
	h := &Handle{Name: name, Dir: dir, configPath: store.configPath(dir)}
	require.NoError(t, h.Write(types.CreateConfig{Name: name, CPU: 2, Memory: 1 << 30}))
}

func TestLockByNameMissingConfigIsLockedElsewhere(t *testing.T) {
	store := New(t.TempDir(), nil)
	_, err := store.LockByName(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, ErrLockedElsewhere)
}

func TestLockByNameRoundTripsConfig(t *testing.T) {
	store := New(t.TempDir(), nil)
	writeConfig(t, store, "vm1")

	h, err := store.LockByName(context.Background(), "vm1", nil)
	require.NoError(t, err)
	defer h.Unlock() //nolint:errcheck

	cfg, err := h.Read()
	require.NoError(t, err)
	assert.Equal(t, "vm1", cfg.Name)
	assert.Equal(t, 2, cfg.CPU)
}

func TestLockByNameTimesOutWhenHeldElsewhere(t *testing.T) {
	store := New(t.TempDir(), nil)
	writeConfig(t, store, "vm2")

	first, err := store.LockByName(context.Background(), "vm2", nil)
	require.NoError(t, err)
	defer first.Unlock() //nolint:errcheck

	timeout := 100 * time.Millisecond
	_, err = store.LockByName(context.Background(), "vm2", &timeout)
	assert.ErrorIs(t, err, ErrLockedElsewhere)
}

func TestUnlockedSnapshotSkipsUnparseable(t *testing.T) {
	store := New(t.TempDir(), nil)
	dir := store.vmDir("broken")
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config"), []byte("not toml {{{"), 0o640))

	_, ok := store.UnlockedSnapshot("broken")
	assert.False(t, ok)
}

func TestHandleDiskPathsOrdersByIndex(t *testing.T) {
	store := New(t.TempDir(), nil)
	writeConfig(t, store, "vm4")
	dir := store.vmDir("vm4")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vm4-1-backend2"), []byte("x"), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vm4-0-backend1"), []byte("x"), 0o640))

	h, err := store.LockByName(context.Background(), "vm4", nil)
	require.NoError(t, err)
	defer h.Unlock() //nolint:errcheck

	paths, err := h.DiskPaths()
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Contains(t, paths[0], "vm4-0-backend1")
	assert.Contains(t, paths[1], "vm4-1-backend2")
}

func TestRmByNameRemovesDirectory(t *testing.T) {
	store := New(t.TempDir(), nil)
	writeConfig(t, store, "vm3")

	require.NoError(t, store.RmByName(context.Background(), "vm3", nil))
	_, err := os.Stat(store.vmDir("vm3"))
	assert.True(t, os.IsNotExist(err))
}
