package database

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	lockTTL          = 2 * time.Minute
	lockPollInterval = 100 * time.Millisecond
)

// unlockScript deletes the key only while it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// RedisLocker is a scheduling.Locker shared by every API instance that talks
// to the same Redis.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client, ttl: lockTTL}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	key = "lock:" + key

	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	return func() {
		// release with a fresh context so a cancelled request still unlocks
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = unlockScript.Run(releaseCtx, l.client, []string{key}, token).Err()
	}, nil
}

// RedisKeys implements messaging.IdempotencyStore with SETNX.
type RedisKeys struct {
	client *redis.Client
}

func NewRedisKeys(client *redis.Client) *RedisKeys {
	return &RedisKeys{client: client}
}

func (k *RedisKeys) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return k.client.SetNX(ctx, "dispatch:"+key, time.Now().Unix(), ttl).Result()
}

func (k *RedisKeys) Release(ctx context.Context, key string) error {
	err := k.client.Del(ctx, "dispatch:"+key).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}
