package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunnerStartAndWaitExit(t *testing.T) {
	r := New()
	ctx := context.Background()

	err := r.Start(ctx, Options{Binary: "/bin/sh", Args: []string{"-c", "exit 0"}, Quiet: true})
	require.NoError(t, err)
	assert.Equal(t, StateRunning, r.State())

	err = r.Wait(ctx, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StateExited, r.State())
}

func TestRunnerTerminateKillsLongRunning(t *testing.T) {
	r := New()
	ctx := context.Background()

	err := r.Start(ctx, Options{Binary: "/bin/sh", Args: []string{"-c", "trap '' TERM; sleep 30"}, Quiet: true})
	require.NoError(t, err)

	err = r.Terminate(ctx, 200*time.Millisecond)
	require.NoError(t, err)

	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process not reaped after Terminate")
	}
}

func TestRunnerShutdownWithoutMonitorErrors(t *testing.T) {
	r := New()
	err := r.Shutdown(context.Background(), time.Second)
	require.Error(t, err)
}
