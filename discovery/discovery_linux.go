package discovery

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/transientvm/transient/types"
)

// LinuxRegistry scans /proc for transient-controlled hypervisor processes.
type LinuxRegistry struct{}

// NewRegistry returns the platform's ProcessRegistry implementation.
func NewRegistry() ProcessRegistry { return LinuxRegistry{} }

// ScanOnce walks /proc/<pid>, reading each process's environment for the
// sentinel key, then the descriptor JSON from the fd it names. Processes
// without the sentinel, or whose descriptor is empty/unparseable (the
// hypervisor just started and hasn't been handed the fd's contents yet,
// or was launched by something else entirely), are silently skipped.
func (LinuxRegistry) ScanOnce(_ context.Context) ([]types.RunningInstance, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, err
	}

	var out []types.RunningInstance
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil || pid <= 0 {
			continue
		}
		ri, ok := readInstance(pid)
		if ok {
			ri.ControllerPID = pid
			out = append(out, ri)
		}
	}
	return out, nil
}

func readInstance(pid int) (types.RunningInstance, bool) {
	environ, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "environ")) //nolint:gosec
	if err != nil {
		return types.RunningInstance{}, false
	}

	fd := ""
	sentinel := false
	for _, kv := range bytes.Split(environ, []byte{0}) {
		s := string(kv)
		switch {
		case s == SentinelEnvKey+"="+SentinelEnvValue:
			sentinel = true
		case strings.HasPrefix(s, DescriptorFDEnvKey+"="):
			fd = strings.TrimPrefix(s, DescriptorFDEnvKey+"=")
		}
	}
	if !sentinel || fd == "" {
		return types.RunningInstance{}, false
	}

	encoded, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "fd", fd)) //nolint:gosec
	if err != nil || len(encoded) == 0 {
		return types.RunningInstance{}, false
	}
	raw, err := base64.StdEncoding.DecodeString(string(encoded))
	if err != nil {
		return types.RunningInstance{}, false
	}

	var ri types.RunningInstance
	if err := json.Unmarshal(raw, &ri); err != nil {
		return types.RunningInstance{}, false
	}
	return ri, true
}
