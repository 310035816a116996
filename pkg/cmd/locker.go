// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"log/slog"

	"github.com/opsdesk/stepflow/pkg/lock"
)

// NewLocker returns a Redis locker when redisURL is set and an in-process
// locker otherwise. The returned close function is never nil.
func NewLocker(ctx context.Context, logger *slog.Logger, redisURL string) (lock.Locker, func() error, error) {
	if redisURL == "" {
		logger.InfoContext(ctx, "Using in-memory instance locks")

		return lock.NewMemoryLocker(), func() error { return nil }, nil
	}

	locker, err := lock.NewRedisLockerFromURL(ctx, redisURL, logger)
	if err != nil {
		return nil, nil, err
	}

	return locker, locker.Close, nil
}
