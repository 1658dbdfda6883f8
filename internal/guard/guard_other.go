//go:build !windows

package guard

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/updraft-dev/updraft/internal/retry"
)

// fileLocker implements Locker with an advisory flock on a well-known file.
// Used on non-Windows hosts, mainly for development and tests.
type fileLocker struct {
	path string
}

// NewSystemLocker returns a Locker backed by an advisory file lock under the
// system temp directory.
func NewSystemLocker(name string) Locker {
	return &fileLocker{path: os.TempDir() + "/" + name + ".lock"}
}

func (l *fileLocker) Acquire(timeout time.Duration) (Lease, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %q: %w", l.path, err)
	}

	p := retry.Policy{
		Interval: time.Second,
		Deadline: timeout,
		Retryable: func(err error) bool {
			return errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN)
		},
	}
	err = retry.Do(context.Background(), p, func() error {
		return unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	})
	if err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) || errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrLockTimeout
		}
		return nil, fmt.Errorf("failed to lock %q: %w", l.path, err)
	}

	return &fileLease{f: f}, nil
}

type fileLease struct {
	f    *os.File
	once sync.Once
}

func (l *fileLease) Release() error {
	var err error
	l.once.Do(func() {
		if unlockErr := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); unlockErr != nil {
			err = fmt.Errorf("failed to unlock: %w", unlockErr)
		}
		l.f.Close()
	})
	return err
}
