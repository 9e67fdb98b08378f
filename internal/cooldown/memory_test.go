package cooldown

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	current := time.Unix(1000, 0).UTC()
	store := NewMemoryStore()
	store.now = func() time.Time { return current }

	ctx := context.Background()

	active, err := store.Active(ctx, "pool-1")
	require.NoError(t, err)
	require.False(t, active)

	require.NoError(t, store.Set(ctx, "pool-1", 30*time.Second))

	active, err = store.Active(ctx, "pool-1")
	require.NoError(t, err)
	require.True(t, active)

	// Other targets are unaffected.
	active, err = store.Active(ctx, "pool-2")
	require.NoError(t, err)
	require.False(t, active)

	// Expired entries are pruned on read.
	current = current.Add(31 * time.Second)
	active, err = store.Active(ctx, "pool-1")
	require.NoError(t, err)
	require.False(t, active)

	store.mu.Lock()
	_, stillStored := store.expires["pool-1"]
	store.mu.Unlock()
	require.False(t, stillStored)
}

func TestMemoryStoreIgnoresNonPositiveTTL(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "pool-1", 0))
	require.NoError(t, store.Set(ctx, "pool-2", -time.Second))

	active, err := store.Active(ctx, "pool-1")
	require.NoError(t, err)
	require.False(t, active)
}
