package gc

import (
	"context"

	"github.com/transientvm/transient/lock"
)

// Module is a typed GC participant. S is the module's own snapshot type,
// returned by ReadSnapshot and passed back (typed) to ResolveTargets.
// Register a Module with an Orchestrator via the package-level Register
// function (Go methods cannot carry their own type parameters).
type Module[S any] struct {
	// Name identifies the module in logs and in the cross-module snapshot map
	// passed to ResolveTargets.
	Name string
	// Locker gates ReadSnapshot and Collect; TryLock failures cause the
	// module to be skipped for that GC cycle rather than block it.
	Locker lock.Locker
	// ReadSnapshot captures the module's view of its on-disk state.
	ReadSnapshot func(ctx context.Context) (S, error)
	// ResolveTargets inspects the typed snapshot (optionally cross-checking
	// other modules' snapshots, keyed by Name) and returns the ids to collect.
	ResolveTargets func(snap S, others map[string]any) []string
	// Collect removes the resolved ids. Called even with a nil/empty slice so
	// modules can perform unconditional housekeeping (e.g. stale temp cleanup).
	Collect func(ctx context.Context, ids []string) error
}

var _ runner = Module[struct{}]{}

func (m Module[S]) getName() string        { return m.Name }
func (m Module[S]) getLocker() lock.Locker { return m.Locker }

func (m Module[S]) readSnapshot(ctx context.Context) (any, error) {
	return m.ReadSnapshot(ctx)
}

func (m Module[S]) resolveTargets(snap any, others map[string]any) []string {
	return m.ResolveTargets(snap.(S), others)
}

func (m Module[S]) collect(ctx context.Context, ids []string) error {
	return m.Collect(ctx, ids)
}
