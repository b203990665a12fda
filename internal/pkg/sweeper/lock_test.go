package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/Kassenwart/internal/pkg/testutil"
)

func TestRedisSlotLock(t *testing.T) {
	client := testutil.NewIsolatedRedisClient(t, 13)
	lock := NewRedisSlotLock(client)
	ctx := context.Background()

	release, ok, err := lock.Acquire(ctx, KindReconcile, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = lock.Acquire(ctx, KindReconcile, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must not get the slot")

	_, ok, err = lock.Acquire(ctx, KindOverdue, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "different kinds do not share a slot")

	release()
	release2, ok, err := lock.Acquire(ctx, KindReconcile, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	release2()
}

func TestRedisSlotLock_ReleaseKeepsForeignHolder(t *testing.T) {
	client := testutil.NewIsolatedRedisClient(t, 13)
	lock := NewRedisSlotLock(client)
	ctx := context.Background()

	release, ok, err := lock.Acquire(ctx, KindOverdue, 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	time.Sleep(100 * time.Millisecond)

	_, ok, err = lock.Acquire(ctx, KindOverdue, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// The expired holder must not delete the new holder's key.
	release()
	exists, err := client.Exists(ctx, slotLockPrefix+KindOverdue).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)
}
