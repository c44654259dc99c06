// Package sharedfolder mounts a host directory inside a guest over a
// reverse SFTP channel: the host runs an sftp-server subprocess whose
// stdio is wired directly to an ssh subprocess's stdio, and the guest
// runs "sshfs -o slave" against that same ssh channel instead of dialing
// out, so no network listener is ever exposed.
package sharedfolder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/transientvm/transient/ssh"
)

// maxConcurrentMounts bounds how many mount establishments may be in
// flight at once, avoiding overloading the guest's sudo/sshfs startup path
// when many shared folders are configured on one VM.
const maxConcurrentMounts = 8

var mountGate = semaphore.NewWeighted(maxConcurrentMounts)

// sentinel is printed to the guest's stderr once the mount point exists,
// just before the mount script execs sshfs on the reversed channel.
const sentinel = "transient-sharedfolder-ready"

// sftpServerBinary is the local SFTP subsystem binary path.
const sftpServerBinary = "/usr/lib/openssh/sftp-server"

// Worker owns one host:guest shared-folder mount for the lifetime of the
// VM session it belongs to.
type Worker struct {
	HostDir  string
	GuestDir string

	sftpCmd *exec.Cmd
	sshCmd  *exec.Cmd
}

// Mount establishes the reverse-SFTP channel and waits for the guest-side
// sentinel, then waits out settle as the success signal: the mount itself
// is expected to outlive settle for the life of the SSH session, so a
// settle timeout with no error is success, not failure.
func (w *Worker) Mount(ctx context.Context, cfg ssh.Config, settle time.Duration) error {
	if err := mountGate.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("sharedfolder: acquire mount slot: %w", err)
	}
	defer mountGate.Release(1)

	sftpCmd := exec.CommandContext(ctx, sftpServerBinary) //nolint:gosec
	sftpOut, err := sftpCmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("sharedfolder: sftp-server stdout pipe: %w", err)
	}
	sftpIn, err := sftpCmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("sharedfolder: sftp-server stdin pipe: %w", err)
	}
	if err := sftpCmd.Start(); err != nil {
		return fmt.Errorf("sharedfolder: start sftp-server: %w", err)
	}
	w.sftpCmd = sftpCmd

	args := append(cfg.BaseArgs(), cfg.Target(), mountScript(w.GuestDir, w.HostDir))
	sshCmd := exec.CommandContext(ctx, "ssh", args...) //nolint:gosec
	sshCmd.Stdin = sftpOut
	sshCmd.Stdout = sftpIn
	stderr, err := sshCmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("sharedfolder: ssh stderr pipe: %w", err)
	}
	if err := sshCmd.Start(); err != nil {
		return fmt.Errorf("sharedfolder: start ssh: %w", err)
	}
	w.sshCmd = sshCmd

	ready := make(chan error, 1)
	go watchSentinel(stderr, ready)

	select {
	case err := <-ready:
		if err != nil {
			w.Close() //nolint:errcheck
			return fmt.Errorf("sharedfolder: mount %s:%s: %w", w.HostDir, w.GuestDir, err)
		}
	case <-ctx.Done():
		w.Close() //nolint:errcheck
		return ctx.Err()
	}

	timer := time.NewTimer(settle)
	defer timer.Stop()
	exited := make(chan error, 1)
	go func() { exited <- sshCmd.Wait() }()

	select {
	case <-timer.C:
		return nil // settle elapsed with no exit: mount is live, per spec.
	case err := <-exited:
		if err != nil {
			return fmt.Errorf("sharedfolder: mount %s:%s exited early: %w", w.HostDir, w.GuestDir, err)
		}
		return fmt.Errorf("sharedfolder: mount %s:%s exited before settling", w.HostDir, w.GuestDir)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// watchSentinel scans stderr lines until it sees the sentinel token,
// treating any preceding non-empty line as a fatal mount error.
func watchSentinel(stderr io.Reader, ready chan<- error) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		if line == sentinel {
			ready <- nil
			return
		}
		if line != "" {
			ready <- fmt.Errorf("guest mount script: %s", line)
			return
		}
	}
	ready <- fmt.Errorf("guest mount script: closed before sentinel (%w)", scanner.Err())
}

// mountScript is sent as the guest-side ssh command: create the mount
// point and hand the reversed channel to sshfs.
func mountScript(guestDir, hostDir string) string {
	return fmt.Sprintf(
		`sudo mkdir -p %q && (echo %s >&2) && exec sudo sshfs -o slave,allow_other :%q %q`,
		guestDir, sentinel, hostDir, guestDir)
}

// Close terminates the sftp-server and ssh subprocesses.
func (w *Worker) Close() error {
	if w.sshCmd != nil && w.sshCmd.Process != nil {
		_ = w.sshCmd.Process.Kill()
	}
	if w.sftpCmd != nil && w.sftpCmd.Process != nil {
		_ = w.sftpCmd.Process.Kill()
	}
	return nil
}
