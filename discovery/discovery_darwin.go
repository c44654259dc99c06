package discovery

import (
	"context"
	"fmt"

	"github.com/transientvm/transient/types"
)

// DarwinRegistry has no /proc to scan; process discovery is Linux-only.
type DarwinRegistry struct{}

// NewRegistry returns the platform's ProcessRegistry implementation.
func NewRegistry() ProcessRegistry { return DarwinRegistry{} }

func (DarwinRegistry) ScanOnce(_ context.Context) ([]types.RunningInstance, error) {
	return nil, fmt.Errorf("discovery: process discovery is not implemented on this platform")
}
