package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLRUEvictsOldest(t *testing.T) {
	ctx := context.Background()
	c := New(2, 0)

	require.NoError(t, c.Set(ctx, "a", "1"))
	require.NoError(t, c.Set(ctx, "b", "2"))
	_, _, _ = c.Get(ctx, "a")
	require.NoError(t, c.Set(ctx, "c", "3"))

	_, ok, _ := c.Get(ctx, "b")
	require.False(t, ok)
	v, ok, _ := c.Get(ctx, "a")
	require.True(t, ok)
	require.Equal(t, "1", v)
	require.Equal(t, 2, c.Len())
}

func TestLRUDelete(t *testing.T) {
	ctx := context.Background()
	c := New(0, 0)
	require.NoError(t, c.Set(ctx, "a", "1"))
	require.NoError(t, c.Delete(ctx, "a"))
	_, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLRUTTL(t *testing.T) {
	ctx := context.Background()
	c := New(4, 10*time.Millisecond)
	require.NoError(t, c.Set(ctx, "a", "1"))

	require.Eventually(t, func() bool {
		_, ok, _ := c.Get(ctx, "a")
		return !ok
	}, time.Second, 5*time.Millisecond)
}
