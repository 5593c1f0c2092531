package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/benmeehan/presence-engine/pkg/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newMemoryStore() (*store.MemoryStore, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := store.NewMemoryStore(time.Second, zerolog.Nop())
	s.Now = clock.Now
	return s, clock
}

func TestMemoryStore_SetGetDelete(t *testing.T) {
	s, _ := newMemoryStore()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "k", "v", 0))
	val, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", val)

	require.NoError(t, s.Delete(ctx, "k", "other"))
	exists, err := s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryStore_TTLAndExpiry(t *testing.T) {
	s, clock := newMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "timer", "x", 10*time.Second))
	require.NoError(t, s.Set(ctx, "forever", "y", 0))

	ttl, ok, err := s.TTL(ctx, "timer")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 10*time.Second, ttl)

	ttl, ok, err = s.TTL(ctx, "forever")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, ttl)

	var expired []string
	require.NoError(t, s.SubscribeExpirations(ctx, func(_ context.Context, key string) {
		expired = append(expired, key)
	}))

	clock.Advance(9 * time.Second)
	assert.Equal(t, 0, s.Sweep())

	clock.Advance(time.Second)
	exists, err := s.Exists(ctx, "timer")
	require.NoError(t, err)
	assert.False(t, exists, "expired key must read as absent before the sweep")

	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, []string{"timer"}, expired)

	_, ok, err = s.Get(ctx, "forever")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStore_DeletedKeyNeverExpires(t *testing.T) {
	s, clock := newMemoryStore()
	ctx := context.Background()

	fired := 0
	require.NoError(t, s.SubscribeExpirations(ctx, func(context.Context, string) { fired++ }))

	require.NoError(t, s.Set(ctx, "timer", "x", time.Second))
	require.NoError(t, s.Delete(ctx, "timer"))
	clock.Advance(2 * time.Second)
	s.Sweep()

	assert.Zero(t, fired)
}

func TestMemoryStore_CancelledSubscriptionIsSkipped(t *testing.T) {
	s, clock := newMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())

	fired := 0
	require.NoError(t, s.SubscribeExpirations(ctx, func(context.Context, string) { fired++ }))
	cancel()

	require.NoError(t, s.Set(context.Background(), "timer", "x", time.Second))
	clock.Advance(time.Second)
	s.Sweep()

	assert.Zero(t, fired)
}

func TestMemoryStore_GetSet(t *testing.T) {
	s, _ := newMemoryStore()
	ctx := context.Background()

	prev, ok, err := s.GetSet(ctx, "device", "conn-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, prev)

	prev, ok, err = s.GetSet(ctx, "device", "conn-2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "conn-1", prev)
}

func TestMemoryStore_SetIfAbsent(t *testing.T) {
	s, clock := newMemoryStore()
	ctx := context.Background()

	won, err := s.SetIfAbsent(ctx, "claim", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = s.SetIfAbsent(ctx, "claim", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, won)

	clock.Advance(time.Minute)
	won, err = s.SetIfAbsent(ctx, "claim", "c", time.Minute)
	require.NoError(t, err)
	assert.True(t, won)
}

func TestMemoryStore_StartStop(t *testing.T) {
	s := store.NewMemoryStore(10*time.Millisecond, zerolog.Nop())

	fired := make(chan string, 1)
	require.NoError(t, s.SubscribeExpirations(context.Background(), func(_ context.Context, key string) {
		fired <- key
	}))
	require.NoError(t, s.Start())
	assert.Error(t, s.Start())

	require.NoError(t, s.Set(context.Background(), "timer", "x", 20*time.Millisecond))

	select {
	case key := <-fired:
		assert.Equal(t, "timer", key)
	case <-time.After(2 * time.Second):
		t.Fatal("expiration was not announced")
	}

	require.NoError(t, s.Stop())
	assert.Error(t, s.Stop())
}

func TestMemoryStore_CompareAndDelete(t *testing.T) {
	s, _ := newMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "presence:device:d1", "c2", 0))

	deleted, err := s.CompareAndDelete(ctx, "presence:device:d1", "c1")
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = s.CompareAndDelete(ctx, "presence:device:d1", "c2")
	require.NoError(t, err)
	assert.True(t, deleted)

	exists, err := s.Exists(ctx, "presence:device:d1")
	require.NoError(t, err)
	assert.False(t, exists)
}
