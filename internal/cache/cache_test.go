package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

type field struct {
	ID  string `json:"id"`
	Key string `json:"fieldKey"`
}

func TestMemoryCache_ExpiresAfterTTL(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := newMemory(clock.now)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "custom_fields", []field{{ID: "f1", Key: "contact.ltv"}}, 5*time.Minute))

	var got []field
	found, err := c.Get(ctx, "custom_fields", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []field{{ID: "f1", Key: "contact.ltv"}}, got)

	clock.t = clock.t.Add(5 * time.Minute)
	got = nil
	found, err = c.Get(ctx, "custom_fields", &got)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, got)
}

func TestMemoryCache_Miss(t *testing.T) {
	var v string
	found, err := NewMemory().Get(context.Background(), "nope", &v)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryCache_GarbageCollectsExpired(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := newMemory(clock.now)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", 1, time.Minute))
	clock.t = clock.t.Add(11 * time.Minute)
	require.NoError(t, c.Set(ctx, "b", 2, time.Minute))

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.NotContains(t, c.entries, "a")
	assert.Contains(t, c.entries, "b")
}

func TestNew_EmptyAddrUsesMemory(t *testing.T) {
	c, err := New("", "", 0)
	require.NoError(t, err)
	_, ok := c.(*memoryCache)
	assert.True(t, ok)
}
