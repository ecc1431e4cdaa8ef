package cache

import (
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func newTestCache(maxSize int, ttl time.Duration) (*Cache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(maxSize, ttl, WithClock(clock.Now)), clock
}

func mustBig(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok, "invalid integer %q", s)
	return v
}

func TestCache_GetReturnsLatestSetUntilTTL(t *testing.T) {
	c, clock := newTestCache(10, time.Minute)

	c.Set("usdt", big.NewInt(1))
	c.Set("usdt", big.NewInt(2))

	v, ok := c.Get("usdt")
	require.True(t, ok)
	assert.Equal(t, int64(2), v.Int64())

	clock.Advance(59 * time.Second)
	_, ok = c.Get("usdt")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = c.Get("usdt")
	assert.False(t, ok, "entry aged exactly TTL must be absent")
	assert.Equal(t, 0, c.Size(), "lazy expiry deletes the entry")

	_, ok = c.Get("usdt")
	assert.False(t, ok)
}

func TestCache_SetResetsCreatedAt(t *testing.T) {
	c, clock := newTestCache(10, time.Minute)

	c.Set("usdc", big.NewInt(1))
	clock.Advance(50 * time.Second)
	c.Set("usdc", big.NewInt(5))
	clock.Advance(50 * time.Second)

	v, ok := c.Get("usdc")
	require.True(t, ok)
	assert.Equal(t, int64(5), v.Int64())
}

func TestCache_EvictsLeastRecentlyAccessed(t *testing.T) {
	c, clock := newTestCache(3, time.Hour)

	c.Set("a", big.NewInt(1))
	clock.Advance(time.Second)
	c.Set("b", big.NewInt(2))
	clock.Advance(time.Second)
	c.Set("c", big.NewInt(3))
	clock.Advance(time.Second)

	// "a" is the oldest by creation but becomes the most recently accessed
	_, ok := c.Get("a")
	require.True(t, ok)
	clock.Advance(time.Second)

	c.Set("d", big.NewInt(4))

	assert.Equal(t, 3, c.Size())
	assert.True(t, c.Has("a"))
	assert.False(t, c.Has("b"), "b has the oldest last access")
	assert.True(t, c.Has("c"))
	assert.True(t, c.Has("d"))
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestCache_NeverExceedsMaxSize(t *testing.T) {
	c, clock := newTestCache(5, time.Hour)

	for i := 0; i < 50; i++ {
		c.Set(fmt.Sprintf("key-%d", i), big.NewInt(int64(i)))
		clock.Advance(time.Millisecond)
		assert.LessOrEqual(t, c.Size(), 5)
	}
	assert.Equal(t, int64(45), c.Stats().Evictions)
}

func TestCache_UpdateExistingKeyDoesNotEvict(t *testing.T) {
	c, _ := newTestCache(2, time.Hour)

	c.Set("a", big.NewInt(1))
	c.Set("b", big.NewInt(2))
	c.Set("a", big.NewInt(3))

	assert.Equal(t, 2, c.Size())
	assert.True(t, c.Has("b"))
	assert.Equal(t, int64(0), c.Stats().Evictions)
}

func TestCache_HasIsNonMutating(t *testing.T) {
	c, clock := newTestCache(10, time.Minute)

	c.Set("a", big.NewInt(1))
	clock.Advance(2 * time.Minute)

	assert.False(t, c.Has("a"))
	assert.Equal(t, 1, c.Size(), "Has must not delete expired entries")

	v, createdAt, ok := c.Peek("a")
	require.True(t, ok)
	assert.Equal(t, int64(1), v.Int64())
	assert.Equal(t, clock.now.Add(-2*time.Minute), createdAt)
}

func TestCache_NearingExpiry(t *testing.T) {
	c, clock := newTestCache(10, 100*time.Second)

	assert.False(t, c.NearingExpiry("missing"))

	c.Set("a", big.NewInt(1))
	clock.Advance(79 * time.Second)
	assert.False(t, c.NearingExpiry("a"))

	clock.Advance(time.Second)
	assert.True(t, c.NearingExpiry("a"))
	assert.True(t, c.Has("a"), "nearing expiry is still retrievable")
}

func TestCache_CleanExpired(t *testing.T) {
	c, clock := newTestCache(10, time.Minute)

	c.Set("old-1", big.NewInt(1))
	c.Set("old-2", big.NewInt(2))
	clock.Advance(30 * time.Second)
	c.Set("new", big.NewInt(3))
	clock.Advance(30 * time.Second)

	removed := c.CleanExpired()

	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, c.Size())
	assert.True(t, c.Has("new"))
	assert.Equal(t, int64(2), c.Stats().Expirations)
}

func TestCache_PreservesArbitraryPrecision(t *testing.T) {
	c, _ := newTestCache(10, time.Minute)
	huge := mustBig(t, "340282366920938463463374607431768211457")

	c.Set("big", huge)
	huge.SetInt64(0) // mutating the caller's value must not leak into the cache

	v, ok := c.Get("big")
	require.True(t, ok)
	assert.Equal(t, "340282366920938463463374607431768211457", v.String())

	v.SetInt64(7)
	again, _ := c.Get("big")
	assert.Equal(t, "340282366920938463463374607431768211457", again.String())
}

func TestCache_DeleteAndClear(t *testing.T) {
	c, _ := newTestCache(10, time.Minute)

	c.Set("a", big.NewInt(1))
	c.Set("b", big.NewInt(2))

	c.Delete("a")
	assert.False(t, c.Has("a"))
	assert.Equal(t, 1, c.Size())

	c.Clear()
	assert.Equal(t, 0, c.Size())
}

func TestCache_StatsCountHitsAndMisses(t *testing.T) {
	c, _ := newTestCache(10, time.Minute)

	c.Set("a", big.NewInt(1))
	c.Get("a")
	c.Get("a")
	c.Get("missing")

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 10, stats.MaxSize)
}

func TestCache_LookupsDoNotPromoteRecency(t *testing.T) {
	c, clock := newTestCache(2, time.Hour)

	c.Set("a", big.NewInt(1))
	clock.Advance(time.Second)
	c.Set("b", big.NewInt(2))

	assert.True(t, c.Has("a"))
	assert.False(t, c.NearingExpiry("a"))
	_, _, ok := c.Peek("a")
	require.True(t, ok)

	c.Set("c", big.NewInt(3))

	assert.False(t, c.Has("a"), "read-only lookups leave a as least recently used")
	assert.True(t, c.Has("b"))
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestCache_RemovalsAreNotEvictions(t *testing.T) {
	c, clock := newTestCache(4, time.Minute)

	c.Set("a", big.NewInt(1))
	c.Set("b", big.NewInt(2))
	c.Set("c", big.NewInt(3))
	c.Set("d", big.NewInt(4))

	c.Delete("d")
	clock.Advance(2 * time.Minute)
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 2, c.CleanExpired())
	c.Set("e", big.NewInt(5))
	c.Clear()

	stats := c.Stats()
	assert.Equal(t, 0, stats.Size)
	assert.Equal(t, int64(0), stats.Evictions)
	assert.Equal(t, int64(3), stats.Expirations)
}
