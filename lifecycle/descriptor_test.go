//go:build linux

package lifecycle

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/transientvm/transient/types"
)

func TestPublishDescriptorRoundTrips(t *testing.T) {
	f, err := descriptorFile()
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	require.NoError(t, publishDescriptor(f, types.RunningInstance{Name: "vm1", SSHPort: 2222}))

	path := "/proc/self/fd/" + strconv.Itoa(int(f.Fd()))
	encoded, err := os.ReadFile(path)
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(string(encoded))
	require.NoError(t, err)

	var got types.RunningInstance
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Equal(t, "vm1", got.Name)
	require.Equal(t, 2222, got.SSHPort)
	require.Equal(t, os.Getpid(), got.ControllerPID)
}

// TestPublishDescriptorIsRepeatableAcrossIndependentReads guards against the
// destructive-pipe regression: the descriptor must survive being read more
// than once, the way two independent "ps" invocations would each open and
// read the same hypervisor's descriptor fd.
func TestPublishDescriptorIsRepeatableAcrossIndependentReads(t *testing.T) {
	f, err := descriptorFile()
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	require.NoError(t, publishDescriptor(f, types.RunningInstance{Name: "vm2"}))

	path := "/proc/self/fd/" + strconv.Itoa(int(f.Fd()))
	first, err := os.ReadFile(path)
	require.NoError(t, err)
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.NotEmpty(t, first)
}
