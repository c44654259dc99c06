package gc

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transientvm/transient/config"
)

func TestResolveBackendTargetsSkipsReferencedAndTargetsStaleWorking(t *testing.T) {
	snap := backendSnapshot{
		present:    []string{"img-a", "img-b", "img-c"},
		referenced: map[string]struct{}{"img-b": {}},
		staleWorking: []string{
			"download-1",
		},
	}
	targets := resolveBackendTargets(snap, nil)
	assert.ElementsMatch(t, []string{"img-a", "img-c", "working:download-1"}, targets)
}

func TestReadBackendSnapshotSkipsZeroByteAndRecordsReferencedEntries(t *testing.T) {
	dir := t.TempDir()
	conf := &config.Config{
		BackendDir: filepath.Join(dir, "backend"),
		VmstoreDir: filepath.Join(dir, "vmstore"),
	}
	require.NoError(t, os.MkdirAll(conf.BackendDir, 0o750))
	require.NoError(t, os.MkdirAll(conf.VmstoreDir, 0o750))
	require.NoError(t, os.MkdirAll(conf.WorkingDir(), 0o750))

	require.NoError(t, os.WriteFile(filepath.Join(conf.BackendDir, "img%2Dreferenced"), []byte("data"), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(conf.BackendDir, "img%2Dorphaned"), []byte("data"), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(conf.BackendDir, "img-empty"), nil, 0o640))

	vmDir := filepath.Join(conf.VmstoreDir, "some-vm")
	require.NoError(t, os.MkdirAll(vmDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(vmDir, "some%2Dvm-0-img%2Dreferenced"), []byte("overlay"), 0o640))

	snap, err := readBackendSnapshot(conf)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"img%2Dreferenced", "img%2Dorphaned"}, snap.present)
	assert.Contains(t, snap.referenced, "img%2Dreferenced")
	assert.NotContains(t, snap.referenced, "img%2Dorphaned")
}

func TestReadVmstoreSnapshotFindsOnlyStaleDotDirs(t *testing.T) {
	dir := t.TempDir()
	conf := &config.Config{VmstoreDir: dir}

	fresh := filepath.Join(dir, ".fresh-tmp")
	stale := filepath.Join(dir, ".stale-tmp")
	require.NoError(t, os.MkdirAll(fresh, 0o750))
	require.NoError(t, os.MkdirAll(stale, 0o750))
	old := time.Now().Add(-2 * staleTempAge)
	require.NoError(t, os.Chtimes(stale, old, old))

	snap, err := readVmstoreSnapshot(conf)
	require.NoError(t, err)
	assert.Equal(t, []string{".stale-tmp"}, snap.staleTemp)
}
