package database

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLockerSerializes(t *testing.T) {
	mr, client := newTestRedis(t)
	locker := NewRedisLocker(client)

	unlock, err := locker.Lock(context.Background(), "schedule:branch:1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("lock:schedule:branch:1"))
	assert.Equal(t, lockTTL, mr.TTL("lock:schedule:branch:1"))

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "schedule:branch:1")
	assert.Error(t, err, "a held key must not be granted twice")

	other, err := locker.Lock(context.Background(), "schedule:branch:2")
	require.NoError(t, err)
	other()

	unlock()
	assert.False(t, mr.Exists("lock:schedule:branch:1"))

	again, err := locker.Lock(context.Background(), "schedule:branch:1")
	require.NoError(t, err)
	again()
}

func TestRedisLockerUnlockLeavesSuccessorsLock(t *testing.T) {
	mr, client := newTestRedis(t)
	first := NewRedisLocker(client)
	second := NewRedisLocker(client)

	staleUnlock, err := first.Lock(context.Background(), "schedule:client:7")
	require.NoError(t, err)

	// the first holder stalls past the TTL and the key expires
	mr.FastForward(lockTTL + time.Second)
	unlock, err := second.Lock(context.Background(), "schedule:client:7")
	require.NoError(t, err)
	token, err := mr.Get("lock:schedule:client:7")
	require.NoError(t, err)

	staleUnlock()
	held, err := mr.Get("lock:schedule:client:7")
	require.NoError(t, err, "a stale unlock must not delete the new holder's key")
	assert.Equal(t, token, held)

	unlock()
	assert.False(t, mr.Exists("lock:schedule:client:7"))
}

func TestRedisKeysClaimOnce(t *testing.T) {
	mr, client := newTestRedis(t)
	keys := NewRedisKeys(client)
	ctx := context.Background()

	ok, err := keys.Claim(ctx, "whatsapp:42:reminder", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Hour, mr.TTL("dispatch:whatsapp:42:reminder"))

	ok, err = keys.Claim(ctx, "whatsapp:42:reminder", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok, "second claim of the same key")

	require.NoError(t, keys.Release(ctx, "whatsapp:42:reminder"))
	require.NoError(t, keys.Release(ctx, "never-claimed"))

	ok, err = keys.Claim(ctx, "whatsapp:42:reminder", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok, "released keys can be claimed again")
}
