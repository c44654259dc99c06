// Package config holds transient's global configuration and the derived
// on-disk layout under the data root:
//
//	<data-root>/
//	  backend/
//	    <url-encoded-name>        # read-only image files
//	    .working/                 # lock files + partial downloads
//	  vmstore/
//	    <url-encoded-vmname>/
//	      config                  # TOML dump of CreateConfig
//	      <vmname>-0-<backend>    # overlay for disk 0 (primary)
//	      <vmname>-N-<backend>    # overlay for disk N
//	    .<tmpname>/                # in-progress creation (hidden)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
	coretypes "github.com/projecteru2/core/types"

	"github.com/transientvm/transient/utils"
)

// Config holds global transient configuration.
type Config struct {
	// BackendDir is the base directory for read-only backend images.
	// Overridden by TRANSIENT_BACKEND.
	BackendDir string `mapstructure:"backend-dir" toml:"backend-dir"`
	// VmstoreDir is the base directory for per-VM state directories.
	// Overridden by TRANSIENT_VMSTORE.
	VmstoreDir string `mapstructure:"vmstore-dir" toml:"vmstore-dir"`
	// DataDir is the root used to derive BackendDir/VmstoreDir defaults
	// when they are not set explicitly (XDG_DATA_HOME/transient, or
	// $HOME/.local/share/transient).
	DataDir string `mapstructure:"data-dir" toml:"data-dir"`

	// HypervisorBinary is the path to the QEMU-compatible launcher.
	HypervisorBinary string `mapstructure:"hypervisor-binary" toml:"hypervisor-binary"`
	// NetDriver is the virtual NIC driver passed to the hypervisor (e.g. "virtio-net-pci").
	NetDriver string `mapstructure:"net-driver" toml:"net-driver"`

	// MaintenanceKernel/MaintenanceInitrd boot the copy-on-write editor VM.
	MaintenanceKernel string `mapstructure:"maintenance-kernel" toml:"maintenance-kernel"`
	MaintenanceInitrd string `mapstructure:"maintenance-initrd" toml:"maintenance-initrd"`

	// SSHIdentityKey is the embedded private key material extracted into
	// DataDir/ssh/id_transient on first use.
	SSHIdentityKey string `mapstructure:"-" toml:"-"`

	// PoolSize defaults to runtime.NumCPU() if zero. No package reads it:
	// shared-folder mounts are bounded by sharedfolder's own fixed limit.
	PoolSize int `mapstructure:"pool-size" toml:"pool-size"`

	// Log configuration, reusing eru core's ServerLogConfig.
	Log coretypes.ServerLogConfig `mapstructure:"log" toml:"log"`
}

// DefaultConfig returns a Config with sensible defaults; DataDir-derived
// fields are resolved later by ResolveDataDir/EnsureDirs.
func DefaultConfig() *Config {
	return &Config{
		NetDriver: "virtio-net-pci",
		PoolSize:  runtime.NumCPU(),
		Log: coretypes.ServerLogConfig{
			Level:      "info",
			MaxSize:    500,
			MaxAge:     28,
			MaxBackups: 3,
		},
	}
}

// LoadConfigFile loads a TOML config file, falling back to defaults when
// path is empty or the file does not exist.
func LoadConfigFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("stat config %s: %w", path, err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ResolveDataDir fills in DataDir/BackendDir/VmstoreDir from environment
// variables and XDG conventions: HOME, XDG_DATA_HOME (data root
// resolution); TRANSIENT_BACKEND, TRANSIENT_VMSTORE (override default
// paths).
func (c *Config) ResolveDataDir() {
	if c.DataDir == "" {
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			c.DataDir = filepath.Join(xdg, "transient")
		} else {
			c.DataDir = filepath.Join(os.Getenv("HOME"), ".local", "share", "transient")
		}
	}
	if v := os.Getenv("TRANSIENT_BACKEND"); v != "" {
		c.BackendDir = v
	}
	if c.BackendDir == "" {
		c.BackendDir = filepath.Join(c.DataDir, "backend")
	}
	if v := os.Getenv("TRANSIENT_VMSTORE"); v != "" {
		c.VmstoreDir = v
	}
	if c.VmstoreDir == "" {
		c.VmstoreDir = filepath.Join(c.DataDir, "vmstore")
	}
	if c.SSHIdentityKey == "" {
		c.SSHIdentityKey = filepath.Join(c.DataDir, "ssh", "id_transient")
	}
	if c.PoolSize <= 0 {
		c.PoolSize = runtime.NumCPU()
	}
}

// EnsureDirs creates the backend, backend/.working, vmstore, and ssh-key
// parent directories.
func (c *Config) EnsureDirs() error {
	return utils.EnsureDirs(
		c.BackendDir,
		c.WorkingDir(),
		c.VmstoreDir,
		c.RuntimeDir(),
		filepath.Dir(c.SSHIdentityKey),
	)
}

// WorkingDir is the backend's lock+partial-download scratch area.
func (c *Config) WorkingDir() string { return filepath.Join(c.BackendDir, ".working") }

// BackendPath returns the on-disk path for an encoded backend image name.
func (c *Config) BackendPath(encodedName string) string {
	return filepath.Join(c.BackendDir, encodedName)
}

// WorkingPath returns the lock/partial-download path for an encoded backend image name.
func (c *Config) WorkingPath(encodedName string) string {
	return filepath.Join(c.WorkingDir(), encodedName)
}

// RuntimeDir holds transient ephemeral runtime files: maintenance-VM QMP
// sockets, in-flight shared-folder state. Unlike BackendDir/VmstoreDir it
// is never meant to persist across a reboot.
func (c *Config) RuntimeDir() string { return filepath.Join(c.DataDir, "run") }
