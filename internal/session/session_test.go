package session

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *RedisStore {
	t.Helper()
	server := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), "redis://"+server.Addr())
	require.NoError(t, err)
	return store
}

func TestRedisStore_StoreAndLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.StoreValue(ctx, "run1", "article_id", "elife-00777"))

	v, ok, err := store.Load(ctx, "run1", "article_id")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "elife-00777", v)
}

func TestRedisStore_Load_Missing(t *testing.T) {
	store := newTestStore(t)
	_, ok, err := store.Load(context.Background(), "run1", "never-written")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_LastWriteWins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.StoreValue(ctx, "run1", "status", "vor"))
	require.NoError(t, store.StoreValue(ctx, "run1", "status", "poa"))

	v, _, err := store.Load(ctx, "run1", "status")
	require.NoError(t, err)
	assert.Equal(t, "poa", v)
}

func TestLoadString(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.StoreValue(ctx, "run1", "version", "2"))

	v, ok, err := LoadString(ctx, store, "run1", "version")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2", v)
}

func TestLoadString_WrongType(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.StoreValue(ctx, "run1", "count", 42))

	_, _, err := LoadString(ctx, store, "run1", "count")
	assert.Error(t, err)
}
