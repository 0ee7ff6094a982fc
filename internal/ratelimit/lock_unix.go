//go:build unix

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned when the lock file could not be acquired before ctx ended.
var ErrLocked = errors.New("rate-limit state is locked by another process")

const lockPollInterval = 10 * time.Millisecond

// lockPath takes an exclusive flock(2) on path, polling with LOCK_NB so ctx
// cancellation is honored. The returned func releases the lock.
func lockPath(ctx context.Context, path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	for {
		err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return func() {
				unix.Flock(int(f.Fd()), unix.LOCK_UN)
				f.Close()
			}, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) {
			f.Close()
			return nil, fmt.Errorf("flock %s: %w", path, err)
		}
		select {
		case <-ctx.Done():
			f.Close()
			return nil, fmt.Errorf("%w: %v", ErrLocked, ctx.Err())
		case <-time.After(lockPollInterval):
		}
	}
}
