package utils

import (
	"context"
	"os"
	"syscall"
	"time"
)

const killWaitTimeout = 5 * time.Second

// IsProcessAlive returns true if a process with the given PID currently exists.
// Uses kill(pid, 0) — no signal is sent, only existence is checked.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// TerminateProcess sends SIGTERM to pid, waits up to gracePeriod for it to
// exit, then falls back to SIGKILL. Respects context cancellation during the
// grace period. Waits for the process to actually exit after SIGKILL.
func TerminateProcess(ctx context.Context, pid int, gracePeriod time.Duration) error {
	if !IsProcessAlive(pid) {
		return nil
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		if !IsProcessAlive(pid) {
			return nil
		}
		return killAndWait(ctx, proc, pid)
	}

	// Wait for graceful exit.
	if err := WaitFor(ctx, gracePeriod, 100*time.Millisecond, func() (bool, error) { //nolint:mnd
		return !IsProcessAlive(pid), nil
	}); err == nil {
		return nil
	}

	// Escalate to SIGKILL.
	return killAndWait(ctx, proc, pid)
}

func killAndWait(ctx context.Context, proc *os.Process, pid int) error {
	_ = proc.Kill()
	return WaitFor(ctx, killWaitTimeout, 50*time.Millisecond, func() (bool, error) { //nolint:mnd
		return !IsProcessAlive(pid), nil
	})
}
