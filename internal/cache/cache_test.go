package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type payload struct {
	Total int     `json:"total"`
	Share float64 `json:"share"`
}

func setupCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisCache(client, zap.NewNop()), mr
}

func TestNewKey(t *testing.T) {
	a := NewKey("dashboard", "p1", map[string]any{"days": 7})
	b := NewKey("dashboard", "p1", map[string]any{"days": 7})
	c := NewKey("dashboard", "p2", map[string]any{"days": 7})
	d := NewKey("dashboard", "p1", map[string]any{"days": 30})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a.Hash, c.Hash)
	assert.NotEqual(t, a.Hash, d.Hash)
	assert.Regexp(t, `^shopwatch:dashboard:[0-9a-f]{32}$`, a.String())
}

func TestTTLFor(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, RecentTTL, TTLFor(now, now))
	assert.Equal(t, RecentTTL, TTLFor(now.Add(-23*time.Hour), now))
	assert.Equal(t, HistoricalTTL, TTLFor(now.Add(-48*time.Hour), now))
}

func TestRedisCache_SetGet(t *testing.T) {
	c, mr := setupCache(t)
	ctx := context.Background()
	key := NewKey("share-of-voice", "p1", map[string]any{"start": "a", "end": "b"})

	var got payload
	assert.False(t, c.Get(ctx, key, &got))

	c.Set(ctx, key, payload{Total: 3, Share: 33.3}, RecentTTL)
	require.True(t, c.Get(ctx, key, &got))
	assert.Equal(t, payload{Total: 3, Share: 33.3}, got)

	mr.FastForward(RecentTTL + time.Second)
	assert.False(t, c.Get(ctx, key, &got))
}

func TestRedisCache_InvalidateProject(t *testing.T) {
	c, mr := setupCache(t)
	ctx := context.Background()
	k1 := NewKey("dashboard", "p1", map[string]any{"days": 7})
	k2 := NewKey("share-of-voice", "p1", nil)
	other := NewKey("dashboard", "p2", map[string]any{"days": 7})
	for _, k := range []Key{k1, k2, other} {
		c.Set(ctx, k, payload{Total: 1}, HistoricalTTL)
	}

	require.NoError(t, c.InvalidateProject(ctx, "p1"))

	var got payload
	assert.False(t, c.Get(ctx, k1, &got))
	assert.False(t, c.Get(ctx, k2, &got))
	assert.True(t, c.Get(ctx, other, &got))
	assert.False(t, mr.Exists(projectIndexKey("p1")))

	// nothing cached is not an error
	require.NoError(t, c.InvalidateProject(ctx, "p3"))
}

func TestRedisCache_FailuresDegradeToMiss(t *testing.T) {
	c, mr := setupCache(t)
	ctx := context.Background()
	key := NewKey("dashboard", "p1", nil)

	require.NoError(t, mr.Set(key.String(), "{not json"))
	var got payload
	assert.False(t, c.Get(ctx, key, &got))

	mr.Close()
	c.Set(ctx, key, payload{Total: 1}, RecentTTL)
	assert.False(t, c.Get(ctx, key, &got))
	assert.Error(t, c.InvalidateProject(ctx, "p1"))
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(Options{})
	require.ErrorIs(t, err, ErrEmptyAddress)

	mr := miniredis.RunT(t)
	client, err := NewClient(Options{Address: mr.Addr()})
	require.NoError(t, err)
	require.NoError(t, client.Close())
}

func TestNop(t *testing.T) {
	var c Cache = Nop{}
	var got payload
	c.Set(context.Background(), NewKey("x", "p", nil), payload{}, time.Minute)
	assert.False(t, c.Get(context.Background(), NewKey("x", "p", nil), &got))
	assert.NoError(t, c.InvalidateProject(context.Background(), "p"))
}
