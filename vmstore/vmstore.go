// Package vmstore implements the directory of VM state directories: each
// VM gets a directory named by the URL-safe encoding of its name, holding
// a "config" file and one overlay per disk.
package vmstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/transientvm/transient/images"
	"github.com/transientvm/transient/lock/flock"
	"github.com/transientvm/transient/progress"
	"github.com/transientvm/transient/qemuimg"
	"github.com/transientvm/transient/storage/toml"
	"github.com/transientvm/transient/types"
	"github.com/transientvm/transient/utils"
)

// ErrLockedElsewhere is the distinguished error LockByName returns when the
// VM's config file doesn't exist, or the lock could not be acquired within
// the given timeout.
var ErrLockedElsewhere = errors.New("vmstore: locked elsewhere")

// Store is the VM store rooted at Dir.
type Store struct {
	Dir    string
	Images *images.Store
}

// New creates a Store rooted at dir.
func New(dir string, imgStore *images.Store) *Store {
	return &Store{Dir: dir, Images: imgStore}
}

func (s *Store) vmDir(encodedName string) string  { return filepath.Join(s.Dir, encodedName) }
func (s *Store) tempDir(encodedName string) string { return filepath.Join(s.Dir, "."+encodedName) }
func (s *Store) configPath(vmDir string) string    { return filepath.Join(vmDir, "config") }

// Exists reports whether name has a persisted VM directory, without
// locking it.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.configPath(s.vmDir(images.EncodeName(name))))
	return err == nil
}

// Create derives a VM name (cfg.Name, or a generated one), refuses if its
// directory already exists, and builds the state in a dotfile-prefixed
// temp sibling (frontend overlays, then the config file) before an atomic
// rename into place.
func (s *Store) Create(ctx context.Context, cfg types.CreateConfig, tracker progress.Tracker) (string, error) {
	if tracker == nil {
		tracker = progress.Nop
	}
	name := cfg.Name
	if name == "" {
		name = uuid.NewString()
		cfg.Name = name
	}
	encoded := images.EncodeName(name)
	final := s.vmDir(encoded)
	if _, err := os.Stat(final); err == nil {
		return "", fmt.Errorf("vmstore: create %s: already exists", name)
	}

	temp := s.tempDir(encoded)
	if err := os.RemoveAll(temp); err != nil {
		return "", fmt.Errorf("vmstore: clear stale temp dir for %s: %w", name, err)
	}
	if err := os.MkdirAll(temp, 0o750); err != nil {
		return "", fmt.Errorf("vmstore: create temp dir for %s: %w", name, err)
	}

	cleanup := true
	defer func() {
		if cleanup {
			os.RemoveAll(temp) //nolint:errcheck
		}
	}()

	disks := append([]string{cfg.Image}, cfg.ExtraDisks...)
	for i, imageName := range disks {
		spec, err := images.ParseSpec(imageName)
		if err != nil {
			return "", fmt.Errorf("vmstore: parse disk %d spec (%s): %w", i, imageName, err)
		}
		backendImage, err := s.Images.Get(ctx, spec, tracker)
		if err != nil {
			return "", fmt.Errorf("vmstore: resolve disk %d (%s): %w", i, imageName, err)
		}
		overlayName := fmt.Sprintf("%s-%d-%s", encoded, i, images.EncodeName(backendImage.Name))
		overlayPath := filepath.Join(temp, overlayName)
		if err := qemuimg.CreateOverlay(ctx, backendImage.Path, overlayPath); err != nil {
			return "", fmt.Errorf("vmstore: create overlay for disk %d: %w", i, err)
		}
	}

	codec := toml.New[types.CreateConfig]()
	raw, err := codec.Marshal(&cfg)
	if err != nil {
		return "", fmt.Errorf("vmstore: encode config for %s: %w", name, err)
	}
	if err := os.WriteFile(s.configPath(temp), raw, 0o640); err != nil { //nolint:gosec
		return "", fmt.Errorf("vmstore: write config for %s: %w", name, err)
	}

	if err := os.Rename(temp, final); err != nil {
		return "", fmt.Errorf("vmstore: promote %s: %w", name, err)
	}
	cleanup = false
	return name, nil
}

// Handle is a held lock on a VM's config, yielding the parsed state.
type Handle struct {
	locker     *flock.Lock
	ctx        context.Context
	Name       string
	Dir        string
	configPath string
}

// LockByName acquires the lock on <dir>/config and returns a Handle for
// reading/mutating its persisted configuration. Returns ErrLockedElsewhere
// if the directory/config doesn't exist or the lock can't be acquired
// within timeout (nil timeout blocks indefinitely).
func (s *Store) LockByName(ctx context.Context, name string, timeout *time.Duration) (*Handle, error) {
	encoded := images.EncodeName(name)
	dir := s.vmDir(encoded)
	configPath := s.configPath(dir)
	if _, err := os.Stat(configPath); err != nil {
		return nil, ErrLockedElsewhere
	}

	l := flock.New(configPath + ".lock")
	interval := 200 * time.Millisecond
	if err := l.LockTimeout(ctx, timeout, interval); err != nil {
		return nil, ErrLockedElsewhere
	}

	return &Handle{locker: l, ctx: ctx, Name: name, Dir: dir, configPath: configPath}, nil
}

// Read loads the currently-persisted CreateConfig. Must be called while
// the Handle's lock is held.
func (h *Handle) Read() (types.CreateConfig, error) {
	var cfg types.CreateConfig
	raw, err := os.ReadFile(h.configPath) //nolint:gosec
	if err != nil {
		return cfg, fmt.Errorf("vmstore: read config for %s: %w", h.Name, err)
	}
	codec := toml.New[types.CreateConfig]()
	if err := codec.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("vmstore: parse config for %s: %w", h.Name, err)
	}
	return cfg, nil
}

// Write persists cfg atomically. Must be called while the Handle's lock
// is held.
func (h *Handle) Write(cfg types.CreateConfig) error {
	codec := toml.New[types.CreateConfig]()
	raw, err := codec.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("vmstore: encode config for %s: %w", h.Name, err)
	}
	if err := utils.AtomicWriteFile(h.configPath, raw, 0o640); err != nil {
		return fmt.Errorf("vmstore: write config for %s: %w", h.Name, err)
	}
	return nil
}

// Unlock releases the handle's lock. Safe to call multiple times.
func (h *Handle) Unlock() error {
	return h.locker.Unlock(h.ctx)
}

// DiskPaths returns this VM's overlay files in disk-index order (disk 0 is
// the primary/boot disk), by listing Dir for the "<encodedName>-<i>-..."
// names Create wrote them under.
func (h *Handle) DiskPaths() ([]string, error) {
	entries, err := os.ReadDir(h.Dir)
	if err != nil {
		return nil, fmt.Errorf("vmstore: list disks for %s: %w", h.Name, err)
	}
	encoded := images.EncodeName(h.Name)
	prefix := encoded + "-"
	byIndex := map[int]string{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		rest := strings.TrimPrefix(e.Name(), prefix)
		parts := strings.SplitN(rest, "-", 2)
		idx, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		byIndex[idx] = filepath.Join(h.Dir, e.Name())
	}
	paths := make([]string, len(byIndex))
	for i := range paths {
		p, ok := byIndex[i]
		if !ok {
			return nil, fmt.Errorf("vmstore: disk %d missing for %s", i, h.Name)
		}
		paths[i] = p
	}
	return paths, nil
}

// Snapshot is a best-effort, lockless read of a VM directory's state.
type Snapshot struct {
	Name   string
	State  types.VMState
	Config types.CreateConfig
}

// UnlockedSnapshot reads a VM's config without locking, for listers. It
// returns (Snapshot{}, false) if the directory is absent or unparseable.
func (s *Store) UnlockedSnapshot(name string) (Snapshot, bool) {
	encoded := images.EncodeName(name)
	configPath := s.configPath(s.vmDir(encoded))
	raw, err := os.ReadFile(configPath) //nolint:gosec
	if err != nil {
		return Snapshot{}, false
	}
	var cfg types.CreateConfig
	codec := toml.New[types.CreateConfig]()
	if err := codec.Unmarshal(raw, &cfg); err != nil {
		return Snapshot{}, false
	}
	return Snapshot{Name: name, Config: cfg, State: types.VMStateCreated}, true
}

// RmByName locks the VM (refusing if held elsewhere or absent, within
// timeout) then removes its directory.
func (s *Store) RmByName(ctx context.Context, name string, timeout *time.Duration) error {
	h, err := s.LockByName(ctx, name, timeout)
	if err != nil {
		return err
	}
	defer h.Unlock() //nolint:errcheck
	if err := os.RemoveAll(h.Dir); err != nil {
		return fmt.Errorf("vmstore: remove %s: %w", name, err)
	}
	return nil
}

// ForceRm removes a VM's directory without locking: used only once a
// prior forced stop is known to have terminated any holder.
func (s *Store) ForceRm(name string) error {
	dir := s.vmDir(images.EncodeName(name))
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("vmstore: force remove %s: %w", name, err)
	}
	return nil
}

// IterStates visits every non-dotfile directory entry, attempting a
// zero-timeout LockByName and invoking fn with the resulting snapshot;
// entries locked elsewhere or unparseable are skipped.
func (s *Store) IterStates(ctx context.Context, fn func(name string, snap Snapshot)) error {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("vmstore: list %s: %w", s.Dir, err)
	}
	zero := time.Duration(0)
	for _, e := range entries {
		if !e.IsDir() || e.Name()[0] == '.' {
			continue
		}
		name, decErr := images.DecodeName(e.Name())
		if decErr != nil {
			continue
		}
		h, lockErr := s.LockByName(ctx, name, &zero)
		if lockErr != nil {
			continue
		}
		snap, ok := s.UnlockedSnapshot(name)
		h.Unlock() //nolint:errcheck
		if !ok {
			continue
		}
		fn(name, snap)
	}
	return nil
}

