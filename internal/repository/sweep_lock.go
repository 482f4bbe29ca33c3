package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const sweepLockKey = "order_sync:sweep_lock"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisSweepLock is a best-effort lease that keeps replicas from running the
// same sweep tick. Row locks still protect each order without it.
type RedisSweepLock struct {
	client *redis.Client
	key    string
}

func NewRedisSweepLock(client *redis.Client) *RedisSweepLock {
	return &RedisSweepLock{client: client, key: sweepLockKey}
}

// TryAcquire takes the lease for ttl. When ok is false another holder owns it.
// The returned release func only deletes the lease if it is still ours.
func (l *RedisSweepLock) TryAcquire(ctx context.Context, ttl time.Duration) (release func(context.Context) error, ok bool, err error) {
	token := uuid.NewString()

	ok, err = l.client.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}

	release = func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.client, []string{l.key}, token).Err()
	}
	return release, true, nil
}
