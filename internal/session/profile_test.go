package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := NewRedisClient(mr.Addr(), "", 0, "")
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisProfileStore_SaveAndLoad(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisProfileStore(client, "", time.Hour)
	ctx := context.Background()

	user := &UserProfile{ID: "u-1", Username: "alice", Email: "alice@example.edu", Role: RoleStudent}
	require.NoError(t, store.Save(ctx, "tab-1", user))

	assert.True(t, mr.Exists("portal:profile:tab-1"))
	assert.Equal(t, time.Hour, mr.TTL("portal:profile:tab-1"))

	loaded, err := store.Load(ctx, "tab-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, *user, *loaded)
}

func TestRedisProfileStore_LoadMissing(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisProfileStore(client, "p:", 0)

	loaded, err := store.Load(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestRedisProfileStore_Delete(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisProfileStore(client, "p:", 0)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "tab-1", &UserProfile{ID: "u-1"}))
	require.NoError(t, store.Delete(ctx, "tab-1"))
	require.NoError(t, store.Delete(ctx, "tab-1"))

	assert.False(t, mr.Exists("p:tab-1"))
}

func TestRedisProfileStore_CorruptValue(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisProfileStore(client, "p:", 0)
	require.NoError(t, mr.Set("p:tab-1", "{not json"))

	_, err := store.Load(context.Background(), "tab-1")
	assert.Error(t, err)
}

func TestRedisProfileStore_ConnectionError(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisProfileStore(client, "p:", 0)
	mr.Close()

	err := store.Save(context.Background(), "tab-1", &UserProfile{ID: "u-1"})
	assert.Error(t, err)
}

func TestMemoryProfileStore(t *testing.T) {
	store := NewMemoryProfileStore()
	ctx := context.Background()

	loaded, err := store.Load(ctx, "tab-1")
	require.NoError(t, err)
	assert.Nil(t, loaded)

	require.NoError(t, store.Save(ctx, "tab-1", &UserProfile{ID: "u-1", Role: RoleAdmin}))
	loaded, err = store.Load(ctx, "tab-1")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, loaded.Role)

	require.NoError(t, store.Save(ctx, "tab-1", nil))
	loaded, err = store.Load(ctx, "tab-1")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}
