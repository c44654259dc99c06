// Package lifecycle implements run/start/stop orchestration: resolving
// disks, composing the hypervisor command line, launching and supervising
// the process, wiring SSH and shared folders,
// and running copy-in/copy-out through the maintenance editor.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/projecteru2/core/log"

	"github.com/transientvm/transient/config"
	"github.com/transientvm/transient/discovery"
	"github.com/transientvm/transient/editor"
	"github.com/transientvm/transient/images"
	"github.com/transientvm/transient/progress"
	"github.com/transientvm/transient/runner"
	"github.com/transientvm/transient/sharedfolder"
	"github.com/transientvm/transient/ssh"
	"github.com/transientvm/transient/types"
	"github.com/transientvm/transient/utils"
	"github.com/transientvm/transient/vmstore"
)

const (
	monitorConnectTimeout = 15 * time.Second
	sshProbeTimeout       = 20 * time.Second
	sharedFolderSettle    = 2 * time.Second
)

// Controller runs one VM invocation end to end.
type Controller struct {
	Config  *config.Config
	VMStore *vmstore.Store
	Images  *images.Store
}

// Result is Run's outcome, for the CLI layer to report.
type Result struct {
	Name     string
	ExitCode int
}

// Run executes rc's full lifecycle: resolve/create/lock state, copy-in,
// launch, wire SSH and shared folders, publish the discovery descriptor,
// run or wait, then copy-out and clean up.
func (c *Controller) Run(ctx context.Context, rc types.RunConfig) (Result, error) { //nolint:cyclop
	logger := log.WithFunc("lifecycle.Run")

	noCopies := len(rc.CopyInBefore) == 0 && len(rc.CopyOutAfter) == 0
	backendDirect := rc.Stateless && rc.Name == "" && noCopies
	needsSSH := rc.SSHCommand != "" || len(rc.SharedFolders) > 0

	name := rc.Name
	var (
		handle    *vmstore.Handle
		diskPaths []string
		ephemeral bool
	)

	switch {
	case backendDirect:
		spec, err := images.ParseSpec(rc.Image)
		if err != nil {
			return Result{}, fmt.Errorf("lifecycle: parse image %q: %w", rc.Image, err)
		}
		backend, err := c.Images.Get(ctx, spec, progress.Nop)
		if err != nil {
			return Result{}, fmt.Errorf("lifecycle: resolve image %q: %w", rc.Image, err)
		}
		diskPaths = []string{backend.Path}
		name = "anon-" + uuid.NewString()

	default:
		if name == "" {
			ephemeral = true
			created, err := c.VMStore.Create(ctx, rc.CreateConfig, progress.Nop)
			if err != nil {
				return Result{}, fmt.Errorf("lifecycle: create VM: %w", err)
			}
			name = created
		} else if !c.VMStore.Exists(name) {
			if _, err := c.VMStore.Create(ctx, rc.CreateConfig, progress.Nop); err != nil {
				return Result{}, fmt.Errorf("lifecycle: create VM %s: %w", name, err)
			}
		}
		h, err := c.VMStore.LockByName(ctx, name, nil)
		if err != nil {
			return Result{}, fmt.Errorf("lifecycle: lock VM %s: %w", name, err)
		}
		handle = h
		paths, err := h.DiskPaths()
		if err != nil {
			h.Unlock() //nolint:errcheck
			return Result{}, fmt.Errorf("lifecycle: resolve disks for %s: %w", name, err)
		}
		diskPaths = paths
	}

	cleanup := func() {
		if handle != nil {
			handle.Unlock() //nolint:errcheck
		}
		if ephemeral {
			if err := c.VMStore.RmByName(context.Background(), name, nil); err != nil {
				logger.Warnf(ctx, "remove ephemeral VM %s: %v", name, err)
			}
		}
	}

	if err := c.copyMappings(ctx, diskPaths[0], rc.CopyInBefore, true); err != nil {
		cleanup()
		return Result{}, fmt.Errorf("lifecycle: copy-in: %w", err)
	}

	runtimeDir := c.Config.RuntimeDir()
	if err := os.MkdirAll(runtimeDir, 0o750); err != nil {
		cleanup()
		return Result{}, fmt.Errorf("lifecycle: create runtime dir: %w", err)
	}
	socketPath := filepath.Join(runtimeDir, fmt.Sprintf("%s.qmp", uuid.NewString()))

	args := buildHypervisorArgs(name, diskPaths, rc.CPU, rc.Memory, rc.Stateless, needsSSH, c.Config.NetDriver)
	args = append(args, "-qmp", "unix:"+socketPath+",server,nowait")
	args = append(args, rc.HypervisorArgs...)

	descFile, err := descriptorFile()
	if err != nil {
		cleanup()
		return Result{}, fmt.Errorf("lifecycle: open descriptor memfd: %w", err)
	}
	env := append(os.Environ(),
		discovery.SentinelEnvKey+"="+discovery.SentinelEnvValue,
		discovery.DescriptorFDEnvKey+"=3",
	)

	r := runner.New()
	if err := r.Start(context.WithoutCancel(ctx), runner.Options{
		Binary:                c.Config.HypervisorBinary,
		Args:                  args,
		Env:                   env,
		Quiet:                 rc.SSHCommand == "",
		Interactive:           false,
		QMPSocketPath:         socketPath,
		MonitorConnectTimeout: monitorConnectTimeout,
		ExtraFiles:            []*os.File{descFile},
	}); err != nil {
		descFile.Close() //nolint:errcheck
		cleanup()
		return Result{}, fmt.Errorf("lifecycle: start hypervisor: %w", err)
	}

	var (
		sshCfg  ssh.Config
		workers []*sharedfolder.Worker
	)
	if needsSSH {
		port, err := ssh.FindSSHPortForward(ctx, r.Monitor(), monitorConnectTimeout)
		if err != nil {
			_ = r.Terminate(ctx, 5*time.Second) //nolint:mnd
			cleanup()
			return Result{}, fmt.Errorf("lifecycle: resolve ssh port: %w", err)
		}
		sshCfg = ssh.Config{Host: "127.0.0.1", Port: port, User: "root", IdentityFile: c.Config.SSHIdentityKey}
		if err := (ssh.Launcher{}).Probe(ctx, sshCfg, sshProbeTimeout); err != nil {
			_ = r.Terminate(ctx, 5*time.Second) //nolint:mnd
			cleanup()
			return Result{}, fmt.Errorf("lifecycle: probe ssh: %w", err)
		}

		for _, m := range rc.SharedFolders {
			w := &sharedfolder.Worker{HostDir: m.Host, GuestDir: m.Guest}
			if err := w.Mount(ctx, sshCfg, sharedFolderSettle); err != nil {
				for _, started := range workers {
					started.Close() //nolint:errcheck
				}
				_ = r.Terminate(ctx, 5*time.Second) //nolint:mnd
				cleanup()
				return Result{}, fmt.Errorf("lifecycle: mount shared folder %s: %w", m.Guest, err)
			}
			workers = append(workers, w)
		}
	}

	desc := types.RunningInstance{
		Name:         name,
		VmstorePath:  c.VMStore.Dir,
		PrimaryImage: rc.Image,
		Stateless:    rc.Stateless,
	}
	if needsSSH {
		desc.SSHPort = sshCfg.Port
	}
	if err := publishDescriptor(descFile, desc); err != nil {
		logger.Warnf(ctx, "publish discovery descriptor for %s: %v", name, err)
	}
	descFile.Close() //nolint:errcheck // the child keeps its own duplicate; memfd content outlives our fd

	var runErr error
	if rc.SSHCommand != "" {
		runErr = (ssh.Launcher{}).Connect(ctx, sshCfg, sshCommand(rc.SSHCommand), os.Stdin, os.Stdout, os.Stderr)
		shutdownTimeout := rc.ShutdownTimeout
		if shutdownTimeout == 0 {
			logger.Infof(ctx, "leaving %s running per zero shutdown timeout", name)
		} else if shutdownErr := r.Shutdown(ctx, shutdownTimeout); shutdownErr != nil {
			killAfter := rc.KillAfter
			if killAfter == 0 {
				killAfter = shutdownTimeout
			}
			_ = r.Terminate(ctx, killAfter)
		}
	} else {
		select {
		case <-r.Done():
		case <-ctx.Done():
			// A caller-level cancellation (e.g. "stop" signalling this
			// process) asks for a graceful shutdown rather than the abrupt
			// kill exec.CommandContext would otherwise deliver.
			shutdownCtx := context.WithoutCancel(ctx)
			shutdownTimeout := rc.ShutdownTimeout
			if shutdownTimeout == 0 {
				shutdownTimeout = 30 * time.Second //nolint:mnd
			}
			if err := r.Shutdown(shutdownCtx, shutdownTimeout); err != nil {
				killAfter := rc.KillAfter
				if killAfter == 0 {
					killAfter = shutdownTimeout
				}
				_ = r.Terminate(shutdownCtx, killAfter)
			}
			<-r.Done()
		}
		runErr = r.ExitErr()
	}

	for _, w := range workers {
		w.Close() //nolint:errcheck
	}

	if err := c.copyMappings(ctx, diskPaths[0], rc.CopyOutAfter, false); err != nil {
		logger.Warnf(ctx, "copy-out for %s: %v", name, err)
	}

	cleanup()

	exitCode := 0
	var exitErr *exec.ExitError
	switch {
	case errors.As(runErr, &exitErr):
		exitCode = exitErr.ExitCode()
	case runErr != nil:
		exitCode = 1
	}
	return Result{Name: name, ExitCode: exitCode}, runErrAsProcessError(runErr)
}

// copyMappings opens a maintenance editor against primaryDisk and replays
// mappings via CopyIn (in==true) or CopyOut.
func (c *Controller) copyMappings(ctx context.Context, primaryDisk string, mappings []types.PathMapping, in bool) error {
	if len(mappings) == 0 {
		return nil
	}
	mv, err := editor.Boot(ctx, editor.Options{
		HypervisorBinary: c.Config.HypervisorBinary,
		KernelPath:       c.Config.MaintenanceKernel,
		InitrdPath:       c.Config.MaintenanceInitrd,
		NetDriver:        c.Config.NetDriver,
		SSHIdentityKey:   c.Config.SSHIdentityKey,
		DiskPath:         primaryDisk,
		RuntimeDir:       c.Config.RuntimeDir(),
	})
	if err != nil {
		return fmt.Errorf("boot maintenance editor: %w", err)
	}
	defer mv.Close(ctx) //nolint:errcheck

	if err := mv.MountRoot(ctx); err != nil {
		return fmt.Errorf("mount root: %w", err)
	}
	for _, m := range mappings {
		if in {
			err = mv.CopyIn(ctx, m.Host, m.Guest)
		} else {
			err = mv.CopyOut(ctx, m.Guest, m.Host)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func buildHypervisorArgs(name string, diskPaths []string, cpu int, memoryBytes int64, stateless, needsSSH bool, netDriver string) []string {
	memoryMB := memoryBytes / (1 << 20) //nolint:mnd
	args := []string{"-name", name, "-nographic", "-smp", strconv.Itoa(cpu), "-m", fmt.Sprintf("%dM", memoryMB)}
	if utils.DetectHugePages() {
		args = append(args,
			"-object", fmt.Sprintf("memory-backend-file,id=mem,size=%dM,mem-path=/dev/hugepages,share=on", memoryMB),
			"-numa", "node,memdev=mem",
		)
	}
	if stateless {
		args = append(args, "-snapshot")
	}
	for i, path := range diskPaths {
		id := fmt.Sprintf("disk%d", i)
		args = append(args,
			"-drive", fmt.Sprintf("file=%s,if=none,id=%s,format=qcow2", path, id),
			"-device", fmt.Sprintf("virtio-blk-pci,drive=%s,bootindex=%d", id, i+1),
		)
	}
	if needsSSH {
		if netDriver == "" {
			netDriver = "virtio-net-pci"
		}
		args = append(args,
			"-netdev", "user,id=net0,hostfwd=tcp::0-:22",
			"-device", netDriver+",netdev=net0",
		)
	}
	return args
}

func sshCommand(cmd string) string {
	if cmd == "-" {
		return ""
	}
	return cmd
}

func runErrAsProcessError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("lifecycle: hypervisor process error: %w", err)
}
