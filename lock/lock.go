// Package lock defines the mutual-exclusion contract used across transient:
// a lock held on a path gates a retrieval-and-promote sequence or a VM
// state-mutating operation. See lock/flock for the on-disk implementation.
package lock

import "context"

// Locker provides mutual exclusion with context support.
type Locker interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
	TryLock(ctx context.Context) (bool, error)
}

// WithLock acquires l, runs fn, and releases l on every exit path (normal
// return or panic propagation via defer).
func WithLock(ctx context.Context, l Locker, fn func() error) error {
	if err := l.Lock(ctx); err != nil {
		return err
	}
	defer l.Unlock(ctx) //nolint:errcheck
	return fn()
}
