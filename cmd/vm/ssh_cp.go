package vm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	cmdcore "github.com/transientvm/transient/cmd/core"
	"github.com/transientvm/transient/config"
	"github.com/transientvm/transient/discovery"
	"github.com/transientvm/transient/editor"
	"github.com/transientvm/transient/ssh"
)

const (
	sshDiscoverTimeout = 10 * time.Second
	sshConnectTimeout  = 20 * time.Second
)

func (h Handler) sshCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:                "ssh <name> [-- command]",
		Short:              "Open an ssh session (or run a command) against a running VM",
		Args:               cobra.MinimumNArgs(1),
		DisableFlagParsing: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, conf, err := h.Init(cmd)
			if err != nil {
				return err
			}
			name := args[0]
			cfg, err := sshConfigFor(ctx, conf, name)
			if err != nil {
				return err
			}
			command := strings.Join(cmdcore.HypervisorArgs(cmd, args), " ")
			return (ssh.Launcher{}).Connect(ctx, cfg, command, os.Stdin, os.Stdout, os.Stderr)
		},
	}
	return cmd
}

func sshConfigFor(ctx context.Context, conf *config.Config, name string) (ssh.Config, error) {
	instances, err := discovery.List(ctx, discovery.NewRegistry(), discovery.Filter{Name: name, WithSSH: true, VmstorePath: conf.VmstoreDir}, sshDiscoverTimeout)
	if err != nil {
		return ssh.Config{}, fmt.Errorf("find running ssh-enabled instance %s: %w", name, err)
	}
	inst := instances[0]
	return ssh.Config{
		Host:           "127.0.0.1",
		Port:           inst.SSHPort,
		User:           "root",
		IdentityFile:   conf.SSHIdentityKey,
		ConnectTimeout: sshConnectTimeout,
	}, nil
}

func (h Handler) cpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cp <src> <dst>",
		Short: `Copy a file to/from a VM's disk; one side must be "<name>:<guest-path>"`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, conf, err := h.Init(cmd)
			if err != nil {
				return err
			}
			return runCp(ctx, conf, args[0], args[1])
		},
	}
	return cmd
}

func runCp(ctx context.Context, conf *config.Config, src, dst string) error {
	srcName, srcGuest, srcIsVM := splitVMPath(src)
	dstName, dstGuest, dstIsVM := splitVMPath(dst)

	switch {
	case srcIsVM && dstIsVM:
		return fmt.Errorf("cp: only one side may reference a VM")
	case srcIsVM:
		return copyVMSide(ctx, conf, srcName, srcGuest, dst, true)
	case dstIsVM:
		return copyVMSide(ctx, conf, dstName, dstGuest, src, false)
	default:
		return fmt.Errorf("cp: one side must be in <name>:<guest-path> form")
	}
}

// splitVMPath recognizes "<name>:<guest-path>"; a bare local path (no colon,
// or a Windows-style "C:\...") is reported as not a VM reference.
func splitVMPath(p string) (name, guestPath string, ok bool) {
	idx := strings.Index(p, ":")
	if idx <= 0 || idx == len(p)-1 {
		return "", "", false
	}
	if idx == 1 && p[2] == '\\' {
		return "", "", false
	}
	return p[:idx], p[idx+1:], true
}

// copyVMSide copies between a VM's guest path and a local path. If the VM
// is currently running with ssh available, it goes over scp; otherwise it
// boots a maintenance editor against the VM's primary disk.
func copyVMSide(ctx context.Context, conf *config.Config, name, guestPath, localPath string, fromGuest bool) error {
	instances, err := discovery.List(ctx, discovery.NewRegistry(), discovery.Filter{Name: name, WithSSH: true, VmstorePath: conf.VmstoreDir}, 0)
	if err == nil && len(instances) > 0 {
		cfg := ssh.Config{Host: "127.0.0.1", Port: instances[0].SSHPort, User: "root", IdentityFile: conf.SSHIdentityKey, ConnectTimeout: sshConnectTimeout}
		remote := cfg.Target() + ":" + guestPath
		if fromGuest {
			return (ssh.Launcher{}).SCP(ctx, cfg, remote, localPath, true)
		}
		return (ssh.Launcher{}).SCP(ctx, cfg, localPath, remote, false)
	}

	store := cmdcore.VMStore(conf)
	handle, lockErr := store.LockByName(ctx, name, nil)
	if lockErr != nil {
		return fmt.Errorf("cp: lock vm %s: %w", name, lockErr)
	}
	defer handle.Unlock() //nolint:errcheck

	diskPaths, diskErr := handle.DiskPaths()
	if diskErr != nil {
		return fmt.Errorf("cp: resolve disks for %s: %w", name, diskErr)
	}

	mv, bootErr := editor.Boot(ctx, editor.Options{
		HypervisorBinary: conf.HypervisorBinary,
		KernelPath:       conf.MaintenanceKernel,
		InitrdPath:       conf.MaintenanceInitrd,
		NetDriver:        conf.NetDriver,
		SSHIdentityKey:   conf.SSHIdentityKey,
		DiskPath:         diskPaths[0],
		RuntimeDir:       conf.RuntimeDir(),
	})
	if bootErr != nil {
		return fmt.Errorf("cp: boot maintenance editor for %s: %w", name, bootErr)
	}
	defer mv.Close(ctx) //nolint:errcheck

	if err := mv.MountRoot(ctx); err != nil {
		return fmt.Errorf("cp: mount root for %s: %w", name, err)
	}
	if fromGuest {
		return mv.CopyOut(ctx, guestPath, localPath)
	}
	return mv.CopyIn(ctx, localPath, guestPath)
}
