// Package editor implements the copy-on-write maintenance VM: a throwaway
// hypervisor instance that boots an embedded
// kernel/initramfs with a target disk attached as virtio-scsi, mounts its
// root filesystem under /mnt, and exposes a small guest-side API used by
// both the lifecycle controller (copy-in/out) and the build interpreter
// (every guest action of an Imagefile).
package editor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/transientvm/transient/runner"
	"github.com/transientvm/transient/ssh"
)

const (
	mountRoot          = "/mnt"
	defaultBootTimeout = 60 * time.Second
	defaultSSHUser     = "root"
)

// Options configures one maintenance VM boot.
type Options struct {
	HypervisorBinary string
	KernelPath       string
	InitrdPath       string
	NetDriver        string
	SSHIdentityKey   string

	// DiskPath is the target overlay whose filesystem will be probed and
	// mounted under /mnt. It is attached read-write as a virtio-scsi disk.
	DiskPath string

	// RuntimeDir holds the QMP unix socket for this instance.
	RuntimeDir string

	BootTimeout time.Duration
}

// MaintenanceVM is a booted, SSH-reachable maintenance instance with its
// target disk attached. The disk's root filesystem is mounted under /mnt
// only once MountRoot (or a caller's RunRaw mount script) has run.
type MaintenanceVM struct {
	runner   *runner.Runner
	launcher ssh.Launcher
	sshCfg   ssh.Config
}

// Boot starts the maintenance VM and waits for its SSH server to answer,
// but does not mount anything: a disk retrieved FROM an existing image has
// a filesystem to probe and mount (MountRoot); a "FROM scratch" disk has
// none yet and must be partitioned/formatted first (RunRaw). Callers must
// call Close to shut the instance down.
func Boot(ctx context.Context, opts Options) (*MaintenanceVM, error) {
	bootTimeout := opts.BootTimeout
	if bootTimeout == 0 {
		bootTimeout = defaultBootTimeout
	}

	socketPath := filepath.Join(opts.RuntimeDir, fmt.Sprintf("editor-%s.qmp", uuid.NewString()))
	args := buildArgs(opts, socketPath)

	r := runner.New()
	if err := r.Start(ctx, runner.Options{
		Binary:                opts.HypervisorBinary,
		Args:                  args,
		Quiet:                 true,
		QMPSocketPath:         socketPath,
		MonitorConnectTimeout: bootTimeout,
	}); err != nil {
		return nil, fmt.Errorf("editor: boot maintenance VM: %w", err)
	}

	port, err := ssh.FindSSHPortForward(ctx, r.Monitor(), bootTimeout)
	if err != nil {
		_ = r.Terminate(ctx, 5*time.Second) //nolint:mnd
		return nil, fmt.Errorf("editor: resolve ssh forward: %w", err)
	}

	cfg := ssh.Config{
		Host:           "127.0.0.1",
		Port:           port,
		User:           defaultSSHUser,
		IdentityFile:   opts.SSHIdentityKey,
		ConnectTimeout: 5 * time.Second, //nolint:mnd
	}

	mv := &MaintenanceVM{runner: r, sshCfg: cfg}
	if err := mv.launcher.Probe(ctx, cfg, bootTimeout); err != nil {
		_ = mv.Close(ctx)
		return nil, fmt.Errorf("editor: probe ssh: %w", err)
	}

	return mv, nil
}

func buildArgs(opts Options, socketPath string) []string {
	netDriver := opts.NetDriver
	if netDriver == "" {
		netDriver = "virtio-net-pci"
	}
	return []string{
		"-nographic",
		"-kernel", opts.KernelPath,
		"-initrd", opts.InitrdPath,
		"-append", "console=ttyS0 root=/dev/ram0 rdinit=/init panic=-1",
		"-drive", "file=" + opts.DiskPath + ",if=none,id=editor0,format=qcow2",
		"-device", "virtio-scsi-pci,id=scsi0",
		"-device", "scsi-hd,drive=editor0,bus=scsi0.0",
		"-netdev", "user,id=net0,hostfwd=tcp::0-:22",
		"-device", netDriver + ",netdev=net0",
		"-qmp", "unix:" + socketPath + ",server,nowait",
	}
}

// MountRoot probes every block device for one containing /etc/fstab, mounting the first hit at
// /mnt; unmount any unsuccessful probe before trying the next; bind-mount
// /dev /sys /proc into /mnt; chroot /mnt mount -a best-effort.
func (m *MaintenanceVM) MountRoot(ctx context.Context) error {
	script := `set -e
for dev in /dev/sd*[0-9] /dev/vd*[0-9]; do
  [ -b "$dev" ] || continue
  if mount "$dev" /mnt 2>/dev/null; then
    if [ -f /mnt/etc/fstab ]; then
      found=1
      break
    fi
    umount /mnt 2>/dev/null || true
  fi
done
[ -n "$found" ] || { echo "no root filesystem found" >&2; exit 1; }
mount --bind /dev /mnt/dev
mount --bind /sys /mnt/sys
mount --bind /proc /mnt/proc
chroot /mnt mount -a || true
`
	return m.RunRaw(ctx, script)
}

// CopyIn copies hostPath to guestPath (absolute, interpreted relative to the
// mounted root) via scp.
func (m *MaintenanceVM) CopyIn(ctx context.Context, hostPath, guestPath string) error {
	dst := m.remotePath(guestPath)
	if err := m.ensureParentDir(ctx, guestPath); err != nil {
		return err
	}
	if err := m.launcher.SCP(ctx, m.sshCfg, hostPath, m.sshCfg.Target()+":"+dst, false); err != nil {
		return fmt.Errorf("editor: copy in %s: %w", hostPath, err)
	}
	return nil
}

// CopyOut copies guestPath (absolute, interpreted relative to the mounted
// root) to hostPath via scp.
func (m *MaintenanceVM) CopyOut(ctx context.Context, guestPath, hostPath string) error {
	src := m.remotePath(guestPath)
	if err := m.launcher.SCP(ctx, m.sshCfg, m.sshCfg.Target()+":"+src, hostPath, true); err != nil {
		return fmt.Errorf("editor: copy out %s: %w", guestPath, err)
	}
	return nil
}

// ExtractTar pipes hostPath's contents into bsdtar on the guest, extracting
// under guestDst (relative to the mounted root). Used for ADD of
// .tar.gz/.tar.xz archives, which are extracted rather than copied verbatim.
func (m *MaintenanceVM) ExtractTar(ctx context.Context, hostPath, guestDst string) error {
	if err := m.ensureParentDir(ctx, guestDst); err != nil {
		return err
	}
	f, err := os.Open(hostPath) //nolint:gosec
	if err != nil {
		return fmt.Errorf("editor: open %s: %w", hostPath, err)
	}
	defer f.Close() //nolint:errcheck

	cmd := fmt.Sprintf("mkdir -p %s && bsdtar xfP - --directory=%s", m.remotePath(guestDst), m.remotePath(guestDst))
	if err := m.launcher.Connect(ctx, m.sshCfg, cmd, f, io.Discard, io.Discard); err != nil {
		return fmt.Errorf("editor: extract %s: %w", hostPath, err)
	}
	return nil
}

// RunCommand executes each of cmds in order inside a chroot of the mounted
// root, under unshare --fork --pid for PID-namespace isolation, failing
// fast on the first non-zero exit unless allowFail is set.
func (m *MaintenanceVM) RunCommand(ctx context.Context, cmds []string, allowFail bool) error {
	for _, c := range cmds {
		quoted := strings.ReplaceAll(c, "'", `'\''`)
		shell := fmt.Sprintf("unshare --fork --pid chroot %s /bin/bash -c '%s'", mountRoot, quoted)
		if err := m.launcher.Connect(ctx, m.sshCfg, shell, nil, io.Discard, io.Discard); err != nil {
			if allowFail {
				continue
			}
			return fmt.Errorf("editor: run %q: %w", c, err)
		}
	}
	return nil
}

// Inspect hands over an interactive, TTY-attached chroot shell and returns
// once the user exits.
func (m *MaintenanceVM) Inspect(ctx context.Context) error {
	shell := fmt.Sprintf("unshare --fork --pid chroot %s /bin/bash", mountRoot)
	if err := m.launcher.Connect(ctx, m.sshCfg, shell, os.Stdin, os.Stdout, os.Stderr); err != nil {
		return fmt.Errorf("editor: inspect: %w", err)
	}
	return nil
}

// Close shuts down the maintenance VM, falling back to a forced terminate
// if the graceful path doesn't complete promptly.
func (m *MaintenanceVM) Close(ctx context.Context) error {
	const shutdownTimeout = 10 * time.Second
	if err := m.runner.Shutdown(ctx, shutdownTimeout); err != nil {
		return m.runner.Terminate(ctx, shutdownTimeout)
	}
	return nil
}

func (m *MaintenanceVM) remotePath(guestPath string) string {
	return filepath.Join(mountRoot, guestPath)
}

func (m *MaintenanceVM) ensureParentDir(ctx context.Context, guestPath string) error {
	parent := filepath.Join(mountRoot, filepath.Dir(guestPath))
	cmd := fmt.Sprintf("mkdir -p %s", parent)
	if err := m.launcher.Connect(ctx, m.sshCfg, cmd, nil, io.Discard, io.Discard); err != nil {
		return fmt.Errorf("editor: mkdir %s: %w", parent, err)
	}
	return nil
}

// RunRaw executes script on the guest directly (no chroot/namespace
// wrapping), for setup that must happen before any root filesystem is
// mounted: partitioning, formatting, and MountRoot's own probe logic.
func (m *MaintenanceVM) RunRaw(ctx context.Context, script string) error {
	if err := m.launcher.Connect(ctx, m.sshCfg, script, strings.NewReader(""), io.Discard, os.Stderr); err != nil {
		return fmt.Errorf("editor: run script: %w", err)
	}
	return nil
}
