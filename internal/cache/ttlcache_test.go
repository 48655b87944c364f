package cache

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_SetThenGetReturnsStoredValue(t *testing.T) {
	c := New()
	c.Set("k", 42, time.Minute)

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestCache_GetMissingKeyReturnsFalse(t *testing.T) {
	c := New()
	_, ok := c.Get("missing")
	assert.False(t, ok)
}

func TestCache_EntryExpiresAfterTTL(t *testing.T) {
	c := New()
	clock := time.Now()
	c.now = func() time.Time { return clock }

	c.Set("k", "v", time.Second)
	clock = clock.Add(2 * time.Second)

	_, ok := c.Get("k")
	assert.False(t, ok, "entry past its TTL must not be returned")
}

func TestCache_EntryValidBeforeTTLExpires(t *testing.T) {
	c := New()
	clock := time.Now()
	c.now = func() time.Time { return clock }

	c.Set("k", "v", 10*time.Second)
	clock = clock.Add(5 * time.Second)

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestCache_LenCountsAcrossShards(t *testing.T) {
	c := New()
	for i := 0; i < 50; i++ {
		c.Set("key-"+strconv.Itoa(i), i, time.Minute)
	}
	assert.Equal(t, 50, c.Len())
}

func TestCache_SetOverwritesExistingKey(t *testing.T) {
	c := New()
	c.Set("k", "first", time.Minute)
	c.Set("k", "second", time.Minute)

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "second", v)
}
