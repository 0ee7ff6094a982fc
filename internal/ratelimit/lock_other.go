//go:build !unix

package ratelimit

import (
	"context"
	"errors"
)

// ErrLocked is returned when the lock file could not be acquired before ctx ended.
var ErrLocked = errors.New("rate-limit state is locked by another process")

// lockPath is a no-op where flock(2) is unavailable; KeyedMutex still
// serializes callers inside one process.
func lockPath(ctx context.Context, _ string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return func() {}, nil
}
