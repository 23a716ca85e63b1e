package cachestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemCacheStore(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	cs := NewMemCacheStore(100, time.Hour)

	v, err := cs.Get(ctx, "crisis-sent", "user-1")
	require.NoError(err)
	assert.Equal("", v)

	require.NoError(cs.Set(ctx, "crisis-sent", "user-1", "2026-08-30T12:00:00Z"))
	v, err = cs.Get(ctx, "crisis-sent", "user-1")
	require.NoError(err)
	assert.Equal("2026-08-30T12:00:00Z", v)

	// names partition the keyspace
	v, err = cs.Get(ctx, "other", "user-1")
	require.NoError(err)
	assert.Equal("", v)

	require.NoError(cs.Purge(ctx, "crisis-sent", "user-1"))
	v, err = cs.Get(ctx, "crisis-sent", "user-1")
	require.NoError(err)
	assert.Equal("", v)
}

func TestMemCacheStoreTTL(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	cs := NewMemCacheStore(100, 50*time.Millisecond)

	require.NoError(cs.Set(ctx, "crisis-sent", "user-2", "sent"))
	time.Sleep(100 * time.Millisecond)

	v, err := cs.Get(ctx, "crisis-sent", "user-2")
	require.NoError(err)
	assert.Equal("", v)
}
