package lock_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/opsdesk/stepflow/pkg/lock"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping Redis container test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, testcontainers.TerminateContainer(container))
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestRedisLocker(t *testing.T) {
	client := setupRedis(t)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	ctx := context.Background()

	locker := lock.NewRedisLocker(client, logger, lock.RedisOptions{
		TTL:           time.Second,
		RetryInterval: 10 * time.Millisecond,
		WaitTimeout:   100 * time.Millisecond,
	})

	t.Run("exclusive", func(t *testing.T) {
		release, err := locker.Acquire(ctx, lock.InstanceKey("inst-1"))
		require.NoError(t, err)

		_, err = locker.Acquire(ctx, lock.InstanceKey("inst-1"))
		require.ErrorIs(t, err, lock.ErrLockNotAcquired)

		require.NoError(t, release(ctx))

		again, err := locker.Acquire(ctx, lock.InstanceKey("inst-1"))
		require.NoError(t, err)
		require.NoError(t, again(ctx))
	})

	t.Run("expired lock is taken over", func(t *testing.T) {
		short := lock.NewRedisLocker(client, logger, lock.RedisOptions{TTL: 50 * time.Millisecond})

		stale, err := short.Acquire(ctx, "expiring")
		require.NoError(t, err)

		time.Sleep(100 * time.Millisecond)

		fresh, err := locker.Acquire(ctx, "expiring")
		require.NoError(t, err)

		require.NoError(t, stale(ctx))

		exists, err := client.Exists(ctx, "stepflow:lock:expiring").Result()
		require.NoError(t, err)
		assert.Equal(t, int64(1), exists, "stale release must not delete the new holder's key")

		require.NoError(t, fresh(ctx))
	})
}
