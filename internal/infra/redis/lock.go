package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

// ErrLockHeld is returned when the ingest lock is still held by another replica
// once the caller's context ends.
var ErrLockHeld = errors.New("ingest lock held by another replica")

// releaseScript deletes the key only if it still holds our token, so an expired
// lock re-acquired by another replica is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// IngestLock serializes webhook deliveries of one chain across replicas.
type IngestLock struct {
	rdb     *redis.Client
	key     string
	ttl     time.Duration
	backoff time.Duration
}

// NewIngestLock creates the lock for a chain.
func NewIngestLock(client *Client, chainID string) *IngestLock {
	return &IngestLock{
		rdb:     client.rdb,
		key:     lockKey(chainID),
		ttl:     client.cfg.LockTTL,
		backoff: 50 * time.Millisecond,
	}
}

// Acquire blocks until the lock is taken or ctx ends. The returned function
// releases it.
func (l *IngestLock) Acquire(ctx context.Context) (func(context.Context) error, error) {
	token := uuid.NewString()

	b := retry.NewExponential(l.backoff)
	b = retry.WithCappedDuration(time.Second, b)

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("setnx failed: %w", err)
		}
		if !ok {
			return retry.RetryableError(ErrLockHeld)
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrLockHeld, ctx.Err())
		}
		return nil, err
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, token).Err(); err != nil {
			return fmt.Errorf("failed to release ingest lock: %w", err)
		}
		return nil
	}
	return release, nil
}
