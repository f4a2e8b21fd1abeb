package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryClientRoundTrip(t *testing.T) {
	c := NewMemoryClient()
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "render:doc1:p6", []byte("png-bytes"), 0))
	got, err := c.Get(ctx, "render:doc1:p6")
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), got)

	require.NoError(t, c.Delete(ctx, "render:doc1:p6"))
	_, err = c.Get(ctx, "render:doc1:p6")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClientTTL(t *testing.T) {
	c := NewMemoryClient()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClientDeleteByPrefix(t *testing.T) {
	c := NewMemoryClient()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "render:doc1:p6", []byte("a"), 0))
	require.NoError(t, c.Set(ctx, "render:doc1:p7", []byte("b"), 0))
	require.NoError(t, c.Set(ctx, "render:doc2:p6", []byte("c"), 0))

	require.NoError(t, c.DeleteByPrefix(ctx, "render:doc1:"))

	_, err := c.Get(ctx, "render:doc1:p6")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = c.Get(ctx, "render:doc1:p7")
	assert.ErrorIs(t, err, ErrCacheMiss)

	got, err := c.Get(ctx, "render:doc2:p6")
	require.NoError(t, err)
	assert.Equal(t, []byte("c"), got)
}
