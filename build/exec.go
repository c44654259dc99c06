package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/projecteru2/core/log"

	"github.com/transientvm/transient/editor"
	"github.com/transientvm/transient/images"
	"github.com/transientvm/transient/progress"
	"github.com/transientvm/transient/qemuimg"
	"github.com/transientvm/transient/types"
)

// Config configures one Imagefile execution.
type Config struct {
	HypervisorBinary  string
	NetDriver         string
	SSHIdentityKey    string
	MaintenanceKernel string
	MaintenanceInitrd string
	RuntimeDir        string

	ContextDir string // base for resolving ADD/COPY relative sources
	BuildDir   string // scratch area for the in-progress working disk

	Images *images.Store

	Local      bool
	OutputName string
}

// Result describes what Execute produced.
type Result struct {
	// LocalPath is set when Config.Local, naming the qcow2 left in BuildDir.
	LocalPath string
	// Backend is set when !Config.Local, naming the promoted backend image.
	Backend types.BackendImage
}

// Execute drives the maintenance VM through prog's six execution-order
// steps.
func Execute(ctx context.Context, prog *Program, cfg Config, tracker progress.Tracker) (Result, error) {
	if tracker == nil {
		tracker = progress.Nop
	}
	logger := log.WithFunc("build.Execute")

	from := prog.Instructions[0].(From) //nolint:forcetypeassert // Check guarantees this
	scratch := from.Ref == "scratch"
	total := len(prog.Instructions)

	if err := os.MkdirAll(cfg.BuildDir, 0o750); err != nil {
		return Result{}, fmt.Errorf("build: create build dir: %w", err)
	}
	workPath := filepath.Join(cfg.BuildDir, "."+uuid.NewString()+".qcow2")
	defer os.Remove(workPath) //nolint:errcheck

	logger.Infof(ctx, "step 1/%d: preparing working disk", total)
	if scratch {
		disk := findDisk(prog)
		if err := qemuimg.CreateScratch(ctx, workPath, disk.SizeBytes); err != nil {
			return Result{}, fmt.Errorf("build: create scratch disk: %w", err)
		}
	} else {
		spec, err := images.ParseSpec(from.Ref)
		if err != nil {
			return Result{}, fmt.Errorf("build: parse FROM ref %q: %w", from.Ref, err)
		}
		backend, err := cfg.Images.Get(ctx, spec, tracker)
		if err != nil {
			return Result{}, fmt.Errorf("build: resolve FROM ref %q: %w", from.Ref, err)
		}
		if err := qemuimg.Flatten(ctx, backend.Path, workPath); err != nil {
			return Result{}, fmt.Errorf("build: stream-copy FROM ref %q: %w", from.Ref, err)
		}
	}

	logger.Infof(ctx, "step 2/%d: booting maintenance VM", total)
	mv, err := editor.Boot(ctx, editor.Options{
		HypervisorBinary: cfg.HypervisorBinary,
		KernelPath:       cfg.MaintenanceKernel,
		InitrdPath:       cfg.MaintenanceInitrd,
		NetDriver:        cfg.NetDriver,
		SSHIdentityKey:   cfg.SSHIdentityKey,
		DiskPath:         workPath,
		RuntimeDir:       cfg.RuntimeDir,
	})
	if err != nil {
		return Result{}, fmt.Errorf("build: boot maintenance VM: %w", err)
	}
	defer mv.Close(ctx) //nolint:errcheck

	if scratch {
		logger.Infof(ctx, "step 3/%d: partitioning and formatting scratch disk", total)
		if err := partitionAndFormat(ctx, mv, prog); err != nil {
			return Result{}, fmt.Errorf("build: partition scratch disk: %w", err)
		}
	} else {
		logger.Infof(ctx, "step 4/%d: mounting existing root filesystem", total)
		if err := mv.MountRoot(ctx); err != nil {
			return Result{}, fmt.Errorf("build: mount FROM ref root: %w", err)
		}
	}

	logger.Infof(ctx, "step 5/%d: replaying instructions", total)
	for i, instr := range prog.Instructions[1:] {
		switch v := instr.(type) {
		case Disk, Partition:
			// consumed by the partitioning phase above
		case AddCopy:
			logger.Infof(ctx, "step %d/%d: %s -> %s", i+2, total, strings.Join(v.Sources, " "), v.Dest) //nolint:mnd
			if err := replayAddCopy(ctx, mv, cfg.ContextDir, v); err != nil {
				return Result{}, err
			}
		case Run:
			logger.Infof(ctx, "step %d/%d: RUN %s", i+2, total, v.Command) //nolint:mnd
			if err := mv.RunCommand(ctx, []string{v.Command}, false); err != nil {
				return Result{}, fmt.Errorf("build: line %d: RUN failed: %w", v.Line, err)
			}
		case Inspect:
			logger.Infof(ctx, "step %d/%d: INSPECT", i+2, total) //nolint:mnd
			if err := mv.Inspect(ctx); err != nil {
				return Result{}, fmt.Errorf("build: line %d: INSPECT failed: %w", v.Line, err)
			}
		}
	}

	logger.Infof(ctx, "step %d/%d: shutting down maintenance VM", total, total)
	if err := mv.Close(ctx); err != nil {
		return Result{}, fmt.Errorf("build: shut down maintenance VM: %w", err)
	}

	if cfg.Local {
		dst := filepath.Join(cfg.BuildDir, cfg.OutputName+".qcow2")
		if err := os.Rename(workPath, dst); err != nil {
			return Result{}, fmt.Errorf("build: promote local output: %w", err)
		}
		return Result{LocalPath: dst}, nil
	}

	backend, err := cfg.Images.Commit(ctx, cfg.OutputName, workPath)
	if err != nil {
		return Result{}, fmt.Errorf("build: promote to backend: %w", err)
	}
	return Result{Backend: backend}, nil
}

func findDisk(prog *Program) Disk {
	for _, instr := range prog.Instructions {
		if d, ok := instr.(Disk); ok {
			return d
		}
	}
	return Disk{}
}

// replayAddCopy handles one ADD/COPY instruction: .tar.gz/.tar.xz sources
// under ADD are extracted on the guest; everything else is copied verbatim.
func replayAddCopy(ctx context.Context, mv *editor.MaintenanceVM, contextDir string, instr AddCopy) error {
	for _, src := range instr.Sources {
		hostPath := src
		if !filepath.IsAbs(hostPath) {
			hostPath = filepath.Join(contextDir, hostPath)
		}
		if !instr.Copy && (strings.HasSuffix(src, ".tar.gz") || strings.HasSuffix(src, ".tar.xz")) {
			if err := mv.ExtractTar(ctx, hostPath, instr.Dest); err != nil {
				return fmt.Errorf("build: line %d: extract %s: %w", instr.Line, src, err)
			}
			continue
		}
		if err := mv.CopyIn(ctx, hostPath, instr.Dest); err != nil {
			return fmt.Errorf("build: line %d: copy %s: %w", instr.Line, src, err)
		}
	}
	return nil
}

// partitionAndFormat sfdisks the disk per prog's DISK label and PARTITION
// clauses, formats each per its FORMAT clause, then mounts cumulatively
// under /mnt sorted by mount-path depth.
func partitionAndFormat(ctx context.Context, mv *editor.MaintenanceVM, prog *Program) error {
	disk := findDisk(prog)
	var partitions []Partition
	for _, instr := range prog.Instructions {
		if p, ok := instr.(Partition); ok {
			partitions = append(partitions, p)
		}
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i].Index < partitions[j].Index })

	var script strings.Builder
	fmt.Fprintf(&script, "sfdisk /dev/sda <<'SFDISK_EOF'\nlabel: %s\n", strings.ToLower(disk.Label))
	for _, p := range partitions {
		script.WriteString(sfdiskLine(disk.Label, p))
	}
	script.WriteString("SFDISK_EOF\n")
	script.WriteString("partprobe /dev/sda || true\nudevadm settle || true\n")

	for _, p := range partitions {
		dev := fmt.Sprintf("/dev/sda%d", p.Index)
		if p.Format == nil {
			continue
		}
		mkfsCmd := "mkfs." + p.Format.FSName
		if p.Format.Options != "" {
			mkfsCmd += " " + p.Format.Options
		}
		fmt.Fprintf(&script, "%s %s\n", mkfsCmd, dev)
	}

	mounted := make([]Partition, 0, len(partitions))
	for _, p := range partitions {
		if p.Mount != "" {
			mounted = append(mounted, p)
		}
	}
	depth := func(m string) int { return strings.Count(strings.TrimRight(m, "/"), "/") }
	sort.Slice(mounted, func(i, j int) bool {
		return depth(mounted[i].Mount) < depth(mounted[j].Mount)
	})
	for _, p := range mounted {
		dev := fmt.Sprintf("/dev/sda%d", p.Index)
		mnt := filepath.Join("/mnt", p.Mount)
		fmt.Fprintf(&script, "mkdir -p %s\nmount %s %s\n", mnt, dev, mnt)
	}

	script.WriteString("mount --bind /dev /mnt/dev\nmount --bind /sys /mnt/sys\nmount --bind /proc /mnt/proc\n")
	script.WriteString("chroot /mnt mount -a || true\n")

	return mv.RunRaw(ctx, script.String())
}

// sfdiskLine renders one sfdisk script line for p, mapping flags to
// partition types: boot -> bootable flag, efi -> type U
// (GPT EFI System / MBR 0xef), bios_grub -> the BIOS-Boot GUID on GPT
// (no MBR equivalent, left as the Linux default there); anything else
// gets the plain Linux-filesystem type L.
func sfdiskLine(label string, p Partition) string {
	gpt := strings.EqualFold(label, "GPT")
	typ := "L"
	bootable := false
	for _, f := range p.Flags {
		switch f {
		case "boot":
			bootable = true
		case "efi":
			if gpt {
				typ = "U"
			} else {
				typ = "ef"
			}
		case "bios_grub":
			if gpt {
				typ = "21686148-6449-6E6F-744E-656564454649"
			}
		}
	}
	var b strings.Builder
	if p.Size != nil {
		fmt.Fprintf(&b, "size=%dMiB, type=%s", p.Size.Bytes/(1024*1024), typ) //nolint:mnd
	} else {
		fmt.Fprintf(&b, "size=+, type=%s", typ)
	}
	if bootable {
		b.WriteString(", bootable")
	}
	b.WriteString("\n")
	return b.String()
}
