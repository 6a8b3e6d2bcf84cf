package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeaderLock_SingleHolder(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	first := NewLeaderLock(client)
	second := NewLeaderLock(client)

	ok, err := first.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "two replicas must not both lead")

	require.NoError(t, first.Release(ctx))
	ok, err = second.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "released lock should be acquirable")
}

func TestLeaderLock_RefreshExtends(t *testing.T) {
	srv, client := newTestRedis(t)
	ctx := context.Background()

	lock := NewLeaderLock(client)
	ok, err := lock.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	srv.FastForward(10 * time.Second)
	ok, err = lock.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// Refresh reset the clock; the original TTL would have expired.
	srv.FastForward(10 * time.Second)
	ok, err = lock.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLeaderLock_RefreshFailsAfterExpiry(t *testing.T) {
	srv, client := newTestRedis(t)
	ctx := context.Background()

	old := NewLeaderLock(client)
	ok, err := old.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// Holder stalls past the TTL and a standby takes over.
	srv.FastForward(LeaderTTL + time.Second)

	standby := NewLeaderLock(client)
	ok, err = standby.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = old.Refresh(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "stalled holder must notice it lost leadership")

	// Losing Refresh must not clobber the new holder either.
	require.NoError(t, old.Release(ctx))
	ok, err = standby.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}
