package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestGetCached(t *testing.T) {
	ctx := context.Background()

	t.Run("fetches once within ttl and again after expiry", func(t *testing.T) {
		clock := &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
		c := NewTTLCache(clock.Now)

		calls := 0
		fetch := func(ctx context.Context) (int, error) {
			calls++
			return calls * 10, nil
		}

		v, err := GetCached(ctx, c, "rates", 60*time.Second, fetch)
		require.NoError(t, err)
		assert.Equal(t, 10, v)

		clock.Advance(59 * time.Second)
		v, err = GetCached(ctx, c, "rates", 60*time.Second, fetch)
		require.NoError(t, err)
		assert.Equal(t, 10, v)
		assert.Equal(t, 1, calls)

		clock.Advance(2 * time.Second)
		v, err = GetCached(ctx, c, "rates", 60*time.Second, fetch)
		require.NoError(t, err)
		assert.Equal(t, 20, v)
		assert.Equal(t, 2, calls)
	})

	t.Run("entry expires exactly at ttl", func(t *testing.T) {
		clock := &fakeClock{now: time.Unix(0, 0)}
		c := NewTTLCache(clock.Now)
		c.Set("k", "v")

		clock.Advance(time.Minute)
		_, ok := c.Get("k", time.Minute)
		assert.False(t, ok)
	})

	t.Run("failures are not cached", func(t *testing.T) {
		clock := &fakeClock{now: time.Unix(0, 0)}
		c := NewTTLCache(clock.Now)
		errBoom := errors.New("boom")

		calls := 0
		_, err := GetCached(ctx, c, "k", time.Minute, func(ctx context.Context) (string, error) {
			calls++
			return "", errBoom
		})
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, 0, c.Len())

		v, err := GetCached(ctx, c, "k", time.Minute, func(ctx context.Context) (string, error) {
			calls++
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", v)
		assert.Equal(t, 2, calls)
	})

	t.Run("keys are independent", func(t *testing.T) {
		c := NewTTLCache(nil)
		_, _ = GetCached(ctx, c, "a", time.Hour, func(ctx context.Context) (string, error) { return "A", nil })
		v, _ := GetCached(ctx, c, "b", time.Hour, func(ctx context.Context) (string, error) { return "B", nil })
		assert.Equal(t, "B", v)
		assert.Equal(t, 2, c.Len())
	})
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var missing map[string]float64
	ok, err := store.Get(ctx, "absent", &missing)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Put(ctx, "usd", map[string]float64{"RUB": 92.5}))

	var got map[string]float64
	ok, err = store.Get(ctx, "usd", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 92.5, got["RUB"])
}
