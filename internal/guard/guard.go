// Package guard provides the cross-process mutual exclusion lock that
// serializes update runs. The scheduled task can fire while a previous run
// is still busy (slow network, stuck scanner); without this lock two runs
// could interleave stop/copy/start against the same install directory.
package guard

import (
	"errors"
	"time"
)

// ErrLockTimeout is returned when the lock could not be acquired within the
// caller's timeout. The run must treat this as terminal.
var ErrLockTimeout = errors.New("timed out waiting for update lock")

// DefaultAcquireTimeout bounds how long a run waits for a concurrent run to
// finish before giving up entirely.
const DefaultAcquireTimeout = 30 * time.Minute

// Lease is the capability to release an acquired lock.
type Lease interface {
	// Release releases the lock. Idempotent: the second and later calls
	// are no-ops returning nil.
	Release() error
}

// Locker is the system-wide mutual exclusion primitive. Exactly one Acquire
// across all processes on the machine succeeds at a time.
type Locker interface {
	// Acquire blocks up to timeout attempting to take the lock. On success
	// it returns a Lease that must be released on every exit path. On
	// contention past the timeout it returns ErrLockTimeout.
	Acquire(timeout time.Duration) (Lease, error)
}
