package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker guards finalize calls for the same file name. Acquire returns
// ErrFinalizeInProgress when another holder has the key.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// NopLocker never blocks. Concurrent finalize calls for the same file name
// race on reassembly and cleanup.
type NopLocker struct{}

// Acquire always succeeds.
func (NopLocker) Acquire(context.Context, string) (func(), error) {
	return func() {}, nil
}

const (
	lockKeyPrefix = "volteras:finalize:"

	redisDialTimeout  = 5 * time.Second
	redisReadTimeout  = 3 * time.Second
	redisWriteTimeout = 3 * time.Second
)

// releaseScript deletes the key only if it still holds our token, so a lock
// that expired and was re-taken by someone else is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX on a shared Redis, so the
// guard holds across service instances sharing one chunk directory.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisLocker wraps an existing client.
func NewRedisLocker(client redis.UniversalClient, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl}
}

// NewRedisClient returns a configured go-redis client and validates the
// connection with PING.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("redis: addr is empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  redisDialTimeout,
		ReadTimeout:  redisReadTimeout,
		WriteTimeout: redisWriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisDialTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", addr, err)
	}

	return client, nil
}

// Acquire takes the lock for key or reports ErrFinalizeInProgress.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := lockKeyPrefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return nil, storageErr("acquire finalize lock", err)
	}
	if !ok {
		return nil, ErrFinalizeInProgress
	}

	release := func() {
		// The request context may already be done; release on a fresh one.
		ctx, cancel := context.WithTimeout(context.Background(), redisWriteTimeout)
		defer cancel()
		releaseScript.Run(ctx, l.client, []string{redisKey}, token)
	}
	return release, nil
}
