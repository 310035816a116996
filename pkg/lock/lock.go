// Package lock serialises work on a single workflow instance.
package lock

import (
	"context"
	"errors"
)

// ErrLockNotAcquired is returned when the lock could not be taken before the
// context expired or the wait timeout elapsed.
var ErrLockNotAcquired = errors.New("lock not acquired")

// Release gives the lock back. Calling it more than once is a no-op.
type Release func(ctx context.Context) error

// Locker hands out exclusive locks keyed by an arbitrary string.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// InstanceKey is the lock key used for a workflow instance.
func InstanceKey(instanceID string) string {
	return "instance:" + instanceID
}
