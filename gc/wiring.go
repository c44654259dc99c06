package gc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/transientvm/transient/config"
	"github.com/transientvm/transient/images"
	"github.com/transientvm/transient/lock/flock"
	"github.com/transientvm/transient/utils"
)

// staleWorkingAge is how long a backend/.working lock/partial-download file
// must sit untouched before GC considers its owning process dead.
const staleWorkingAge = 24 * time.Hour

// staleTempAge is how long a vmstore ".<tmp>" in-progress creation directory
// must sit untouched before GC considers it abandoned.
const staleTempAge = utils.StaleTempAge

// backendSnapshot is the backend module's view of disk: every encoded
// backend-image filename present, every encoded name still referenced by a
// vmstore overlay, and .working entries old enough to be considered stale.
type backendSnapshot struct {
	dir          string
	present      []string
	referenced   map[string]struct{}
	staleWorking []string
}

// vmstoreSnapshot is the vmstore module's view: ".<tmp>" directories old
// enough to be considered abandoned creation attempts.
type vmstoreSnapshot struct {
	dir       string
	staleTemp []string
}

// NewDefault builds the Orchestrator transient runs via "transient gc":
// a backend module that removes backend
// images no VM overlay references plus stale .working entries, and a
// vmstore module that removes abandoned ".<tmp>" creation directories.
func NewDefault(conf *config.Config) *Orchestrator {
	o := New()
	Register(o, Module[backendSnapshot]{
		Name:           "backend",
		Locker:         flock.New(filepath.Join(conf.WorkingDir(), ".gc.lock")),
		ReadSnapshot:   func(ctx context.Context) (backendSnapshot, error) { return readBackendSnapshot(conf) },
		ResolveTargets: resolveBackendTargets,
		Collect:        func(ctx context.Context, ids []string) error { return collectBackend(ctx, conf, ids) },
	})
	Register(o, Module[vmstoreSnapshot]{
		Name:           "vmstore",
		Locker:         flock.New(filepath.Join(conf.VmstoreDir, ".gc.lock")),
		ReadSnapshot:   func(ctx context.Context) (vmstoreSnapshot, error) { return readVmstoreSnapshot(conf) },
		ResolveTargets: func(snap vmstoreSnapshot, _ map[string]any) []string { return snap.staleTemp },
		Collect:        func(ctx context.Context, ids []string) error { return collectVmstoreTemp(ctx, conf, ids) },
	})
	return o
}

func readBackendSnapshot(conf *config.Config) (backendSnapshot, error) {
	snap := backendSnapshot{dir: conf.BackendDir, referenced: map[string]struct{}{}}

	entries, err := os.ReadDir(conf.BackendDir)
	if err != nil {
		if os.IsNotExist(err) {
			return snap, nil
		}
		return snap, fmt.Errorf("gc: list backend dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || e.Name() == ".working" {
			continue
		}
		if !utils.ValidFile(filepath.Join(conf.BackendDir, e.Name())) {
			continue
		}
		snap.present = append(snap.present, e.Name())
	}

	for _, vmName := range utils.ScanSubdirs(conf.VmstoreDir) {
		overlays, err := os.ReadDir(filepath.Join(conf.VmstoreDir, vmName))
		if err != nil {
			continue
		}
		for _, o := range overlays {
			idx := strings.LastIndex(o.Name(), "-")
			if idx < 0 {
				continue
			}
			snap.referenced[o.Name()[idx+1:]] = struct{}{}
		}
	}

	workingEntries, err := os.ReadDir(conf.WorkingDir())
	if err != nil && !os.IsNotExist(err) {
		return snap, fmt.Errorf("gc: list working dir: %w", err)
	}
	cutoff := time.Now().Add(-staleWorkingAge)
	for _, e := range workingEntries {
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		snap.staleWorking = append(snap.staleWorking, e.Name())
	}
	return snap, nil
}

// resolveBackendTargets returns encoded backend-image names to delete: those
// present but unreferenced by any vmstore overlay, plus stale working
// entries (reported with a "working:" prefix so Collect knows which
// directory to remove from).
func resolveBackendTargets(snap backendSnapshot, _ map[string]any) []string {
	targets := utils.FilterUnreferenced(snap.present, snap.referenced)
	for _, name := range snap.staleWorking {
		targets = append(targets, "working:"+name)
	}
	return targets
}

func collectBackend(ctx context.Context, conf *config.Config, ids []string) error {
	workingIDs := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if rest, ok := strings.CutPrefix(id, "working:"); ok {
			workingIDs[rest] = struct{}{}
			continue
		}
		name, err := images.DecodeName(id)
		if err != nil {
			continue
		}
		store := images.New(conf.BackendDir, conf.WorkingDir(), nil)
		if err := store.Delete(name); err != nil {
			return fmt.Errorf("gc: delete backend image %s: %w", name, err)
		}
	}
	if len(workingIDs) == 0 {
		return nil
	}
	errs := utils.RemoveMatching(ctx, conf.WorkingDir(), func(e os.DirEntry) bool {
		_, ok := workingIDs[e.Name()]
		return ok
	})
	if len(errs) > 0 {
		return fmt.Errorf("gc: remove working entries: %w", errs[0])
	}
	return nil
}

func readVmstoreSnapshot(conf *config.Config) (vmstoreSnapshot, error) {
	snap := vmstoreSnapshot{dir: conf.VmstoreDir}
	entries, err := os.ReadDir(conf.VmstoreDir)
	if err != nil {
		if os.IsNotExist(err) {
			return snap, nil
		}
		return snap, fmt.Errorf("gc: list vmstore dir: %w", err)
	}
	cutoff := time.Now().Add(-staleTempAge)
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		snap.staleTemp = append(snap.staleTemp, e.Name())
	}
	return snap, nil
}

func collectVmstoreTemp(ctx context.Context, conf *config.Config, ids []string) error {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	errs := utils.RemoveMatching(ctx, conf.VmstoreDir, func(e os.DirEntry) bool {
		_, ok := want[e.Name()]
		return ok
	})
	if len(errs) > 0 {
		return fmt.Errorf("gc: remove stale temp dirs: %w", errs[0])
	}
	return nil
}
