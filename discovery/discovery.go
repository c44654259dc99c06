// Package discovery finds running transient-managed hypervisor processes
// by scanning the host process table — no daemon, no shared index, just a
// sentinel environment variable and a descriptor published into a
// passed-through file descriptor at launch.
package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/transientvm/transient/types"
	"github.com/transientvm/transient/utils"
)

// SentinelEnvKey marks a process environment as a transient-controlled
// hypervisor. DescriptorFDEnvKey names the env var carrying the file
// descriptor number the RunningInstance JSON was written to.
const (
	SentinelEnvKey      = "TRANSIENT_SENTINEL"
	SentinelEnvValue    = "1"
	DescriptorFDEnvKey  = "TRANSIENT_DESCRIPTOR_FD"
	scanRetryInterval   = 200 * time.Millisecond
)

// Filter narrows List's results. A zero Filter matches every discovered
// instance.
type Filter struct {
	Name        string
	WithSSH     bool
	VmstorePath string
}

func (f Filter) matches(ri types.RunningInstance) bool {
	if f.Name != "" && ri.Name != f.Name {
		return false
	}
	if f.WithSSH && ri.SSHPort == 0 {
		return false
	}
	if f.VmstorePath != "" && ri.VmstorePath != f.VmstorePath {
		return false
	}
	return true
}

// ProcessRegistry performs one full scan of the host process table,
// returning every parseable transient-controlled instance. Implementations
// are OS-specific (see discovery_linux.go).
type ProcessRegistry interface {
	ScanOnce(ctx context.Context) ([]types.RunningInstance, error)
}

// List scans for instances matching filter. With timeout == 0, it performs
// exactly one scan. With timeout > 0 it repeats the scan until at least one
// match appears or the deadline passes — and since a timed search that
// can't narrow down to "did I find the thing I'm after" is meaningless,
// that mode requires filter.Name or filter.WithSSH to be set.
func List(ctx context.Context, reg ProcessRegistry, filter Filter, timeout time.Duration) ([]types.RunningInstance, error) {
	if timeout == 0 {
		all, err := reg.ScanOnce(ctx)
		if err != nil {
			return nil, err
		}
		return filterInstances(all, filter), nil
	}

	if filter.Name == "" && !filter.WithSSH {
		return nil, fmt.Errorf("discovery: a timed List requires Name or WithSSH in the filter")
	}

	var matches []types.RunningInstance
	err := utils.WaitFor(ctx, timeout, scanRetryInterval, func() (bool, error) {
		all, scanErr := reg.ScanOnce(ctx)
		if scanErr != nil {
			return false, scanErr
		}
		matches = filterInstances(all, filter)
		return len(matches) > 0, nil
	})
	if err != nil && len(matches) == 0 {
		return nil, fmt.Errorf("discovery: no matching instance found: %w", err)
	}
	return matches, nil
}

func filterInstances(all []types.RunningInstance, filter Filter) []types.RunningInstance {
	var out []types.RunningInstance
	for _, ri := range all {
		if filter.matches(ri) {
			out = append(out, ri)
		}
	}
	return out
}
