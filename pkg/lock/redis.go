package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const (
	defaultTTL           = 30 * time.Second
	defaultRetryInterval = 50 * time.Millisecond
	defaultWaitTimeout   = 10 * time.Second
	keyPrefix            = "stepflow:lock:"
)

// Deletes the key only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisOptions tunes the Redis lock.
type RedisOptions struct {
	TTL           time.Duration
	RetryInterval time.Duration
	WaitTimeout   time.Duration
}

// RedisLocker implements Locker with SET NX PX so several API processes can
// share one store.
type RedisLocker struct {
	client  redis.UniversalClient
	logger  *slog.Logger
	options RedisOptions
}

func NewRedisLocker(client redis.UniversalClient, logger *slog.Logger, options RedisOptions) *RedisLocker {
	if options.TTL <= 0 {
		options.TTL = defaultTTL
	}

	if options.RetryInterval <= 0 {
		options.RetryInterval = defaultRetryInterval
	}

	if options.WaitTimeout <= 0 {
		options.WaitTimeout = defaultWaitTimeout
	}

	return &RedisLocker{
		client:  client,
		logger:  logger.With("module", "redis_lock"),
		options: options,
	}
}

// NewRedisLockerFromURL parses a redis:// URL and checks the connection.
func NewRedisLockerFromURL(ctx context.Context, url string, logger *slog.Logger) (*RedisLocker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(pingCtx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", opts.Addr, "db", opts.DB)

	return NewRedisLocker(client, logger, RedisOptions{}), nil
}

func (r *RedisLocker) Acquire(ctx context.Context, key string) (Release, error) {
	redisKey := keyPrefix + key
	token := uuid.NewString()

	ctx, cancel := context.WithTimeout(ctx, r.options.WaitTimeout)
	defer cancel()

	ticker := time.NewTicker(r.options.RetryInterval)
	defer ticker.Stop()

	for {
		acquired, err := r.client.SetNX(ctx, redisKey, token, r.options.TTL).Result()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}

		if acquired {
			return r.release(redisKey, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", ErrLockNotAcquired, key, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (r *RedisLocker) release(redisKey, token string) Release {
	released := false

	return func(ctx context.Context) error {
		if released {
			return nil
		}

		released = true

		deleted, err := releaseScript.Run(ctx, r.client, []string{redisKey}, token).Int()
		if err != nil {
			return fmt.Errorf("failed to release lock %s: %w", redisKey, err)
		}

		if deleted == 0 {
			r.logger.WarnContext(ctx, "Lock expired before release", "key", redisKey)
		}

		return nil
	}
}

// Close closes the underlying client.
func (r *RedisLocker) Close() error {
	return r.client.Close()
}
