//go:build windows

package guard

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/windows"
)

// mutexLocker implements Locker on a named Windows mutex. The Global\ prefix
// makes the lock machine-wide rather than session-local, so runs fired from
// the scheduled task and runs started interactively exclude each other.
type mutexLocker struct {
	name string
}

// NewSystemLocker returns a Locker backed by a named Windows mutex.
// The name must be stable across versions of the updater.
func NewSystemLocker(name string) Locker {
	return &mutexLocker{name: `Global\` + name}
}

func (l *mutexLocker) Acquire(timeout time.Duration) (Lease, error) {
	namePtr, err := windows.UTF16PtrFromString(l.name)
	if err != nil {
		return nil, fmt.Errorf("invalid mutex name %q: %w", l.name, err)
	}

	// CreateMutex succeeds whether or not the mutex already exists; the
	// wait below is what establishes ownership.
	handle, err := windows.CreateMutex(nil, false, namePtr)
	if err != nil && err != windows.ERROR_ALREADY_EXISTS {
		return nil, fmt.Errorf("failed to create mutex %q: %w", l.name, err)
	}

	event, err := windows.WaitForSingleObject(handle, uint32(timeout.Milliseconds()))
	if err != nil {
		windows.CloseHandle(handle)
		return nil, fmt.Errorf("failed to wait on mutex %q: %w", l.name, err)
	}

	switch event {
	case windows.WAIT_OBJECT_0, windows.WAIT_ABANDONED:
		// WAIT_ABANDONED means a previous holder died without releasing.
		// Ownership still transfers to us, and the install directory state
		// is whatever that run left behind; the copy step is idempotent
		// about that.
		return &mutexLease{handle: handle}, nil
	case windows.WAIT_TIMEOUT:
		windows.CloseHandle(handle)
		return nil, ErrLockTimeout
	default:
		windows.CloseHandle(handle)
		return nil, fmt.Errorf("unexpected wait result %#x on mutex %q", event, l.name)
	}
}

type mutexLease struct {
	handle windows.Handle
	once   sync.Once
}

func (m *mutexLease) Release() error {
	var err error
	m.once.Do(func() {
		if relErr := windows.ReleaseMutex(m.handle); relErr != nil {
			err = fmt.Errorf("failed to release mutex: %w", relErr)
		}
		windows.CloseHandle(m.handle)
	})
	return err
}
