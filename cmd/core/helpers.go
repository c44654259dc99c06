// Package core holds the cobra command handlers' shared plumbing: config
// access, store construction, and the flag-to-type conversions every verb
// needs (sizes, path mappings, "--" passthrough args).
package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/transientvm/transient/config"
	"github.com/transientvm/transient/images"
	"github.com/transientvm/transient/images/file"
	"github.com/transientvm/transient/images/http"
	"github.com/transientvm/transient/images/vagrant"
	"github.com/transientvm/transient/lifecycle"
	"github.com/transientvm/transient/types"
	"github.com/transientvm/transient/vmstore"
)

// BaseHandler provides shared config/store access for all command handlers.
type BaseHandler struct {
	ConfProvider func() *config.Config
}

// Init returns the command context and validated config in one call.
func (h BaseHandler) Init(cmd *cobra.Command) (context.Context, *config.Config, error) {
	conf, err := h.Conf()
	if err != nil {
		return nil, nil, err
	}
	return CommandContext(cmd), conf, nil
}

// Conf validates and returns the config. All handlers call this first.
func (h BaseHandler) Conf() (*config.Config, error) {
	if h.ConfProvider == nil {
		return nil, fmt.Errorf("config provider is nil")
	}
	conf := h.ConfProvider()
	if conf == nil {
		return nil, fmt.Errorf("config not initialized")
	}
	return conf, nil
}

// CommandContext returns command context, falling back to Background.
func CommandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}

// ImageStore builds the backend image store wired with every retrieval
// protocol transient supports, consulted in declared order: vagrant box
// catalog, then plain HTTP(S), then a local file path.
func ImageStore(conf *config.Config) *images.Store {
	return images.New(conf.BackendDir, conf.WorkingDir(), []images.Protocol{
		vagrant.Protocol{},
		http.Protocol{},
		file.Protocol{},
	})
}

// VMStore builds the VM state directory store.
func VMStore(conf *config.Config) *vmstore.Store {
	return vmstore.New(conf.VmstoreDir, ImageStore(conf))
}

// Controller builds the lifecycle controller used by run/start/stop/ssh.
func Controller(conf *config.Config) *lifecycle.Controller {
	return &lifecycle.Controller{Config: conf, VMStore: VMStore(conf), Images: ImageStore(conf)}
}

// ParseSize parses a human size string ("512M", "2Gb", "1073741824") via
// go-units' binary-prefix convention, used for --memory/--storage flags.
func ParseSize(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return n, nil
}

// sizeUnits are the IEC binary suffixes FormatSize renders against, base 1024.
var sizeUnits = []string{"B", "KiB", "MiB", "GiB", "TiB"}

// FormatSize renders bytes as a human size, for "ps"/"image ls" tables:
// base-1024 with two decimal places, e.g. "1.00 KiB", "9.77 KiB".
func FormatSize(bytes int64) string {
	return units.CustomSize("%.2f %s", float64(bytes), 1024.0, sizeUnits)
}

// ParsePathMappings parses repeated "--copy-in host:guest" style flag values
// into PathMapping. The host side may itself contain ":" (Windows drive
// letters, URLs); only the LAST colon separates host from guest, matching
// the "<host>:<guest-absolute-path>" grammar.
func ParsePathMappings(raw []string) ([]types.PathMapping, error) {
	mappings := make([]types.PathMapping, 0, len(raw))
	for _, r := range raw {
		idx := strings.LastIndex(r, ":")
		if idx <= 0 || idx == len(r)-1 {
			return nil, fmt.Errorf("invalid path mapping %q: want host:guest", r)
		}
		mappings = append(mappings, types.PathMapping{Host: r[:idx], Guest: r[idx+1:]})
	}
	return mappings, nil
}

// HypervisorArgs returns the passthrough arguments after "--", using
// cobra's ArgsLenAtDash.
func HypervisorArgs(cmd *cobra.Command, args []string) []string {
	dash := cmd.ArgsLenAtDash()
	if dash < 0 || dash >= len(args) {
		return nil
	}
	return args[dash:]
}

// ParseSecondsFlag parses "--shutdown-timeout" style flags expressed as a
// whole number of seconds (an empty string yields 0, meaning "unset").
func ParseSecondsFlag(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid seconds value %q: %w", s, err)
	}
	return n, nil
}
