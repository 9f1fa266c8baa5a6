package redislock_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dukex/flowline/pkg/lock"
	"github.com/dukex/flowline/pkg/lock/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*miniredis.Miniredis, *redislock.Locker) {
	t.Helper()

	mr := miniredis.RunT(t)
	locker := redislock.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	t.Cleanup(func() { _ = locker.Close() })

	return mr, locker
}

func TestLocker_AcquireRelease(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mr, locker := setup(t)
	key := lock.WorkflowKey("w1")

	lease, ok, err := locker.TryAcquire(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Minute, mr.TTL(key))

	_, ok, err = locker.TryAcquire(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lease.Release(ctx))
	assert.False(t, mr.Exists(key))
	assert.ErrorIs(t, lease.Release(ctx), lock.ErrNotHeld)
}

func TestLocker_ExpiredLeaseCannotReleaseNewHolder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mr, locker := setup(t)

	stale, ok, err := locker.TryAcquire(ctx, "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = locker.TryAcquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.ErrorIs(t, stale.Release(ctx), lock.ErrNotHeld)
	assert.True(t, mr.Exists("k"))
}

func TestNewFromURL(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)

	locker, err := redislock.NewFromURL(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	require.NoError(t, locker.Close())

	_, err = redislock.NewFromURL(context.Background(), "://bad")
	require.Error(t, err)
}
