package sharedfolder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMountScriptIncludesSentinelAndSlaveMode(t *testing.T) {
	script := mountScript("/mnt/data", "/home/user/data")
	assert.Contains(t, script, sentinel)
	assert.Contains(t, script, "-o slave,allow_other")
	assert.Contains(t, script, "/mnt/data")
	assert.Contains(t, script, "/home/user/data")
}

func TestWatchSentinelSucceedsOnSentinelLine(t *testing.T) {
	ready := make(chan error, 1)
	watchSentinel(strings.NewReader(sentinel+"\n"), ready)
	require.NoError(t, <-ready)
}

func TestWatchSentinelFailsOnUnexpectedOutput(t *testing.T) {
	ready := make(chan error, 1)
	watchSentinel(strings.NewReader("mkdir: permission denied\n"), ready)
	err := <-ready
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}
