package ttlcache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCache_SetGet(t *testing.T) {
	cache := New[int](10, time.Minute)

	cache.Set("a", 1)
	cache.Set("b", 2)

	v, ok := cache.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = cache.Get("b")
	require.True(t, ok)
	assert.Equal(t, 2, v)

	_, ok = cache.Get("missing")
	assert.False(t, ok)
}

func TestCache_CapacityEviction(t *testing.T) {
	cache := New[int](3, time.Minute)

	cache.Set("a", 1)
	cache.Set("b", 2)
	cache.Set("c", 3)
	cache.Set("d", 4) // evicts "a", the oldest inserted

	_, ok := cache.Get("a")
	assert.False(t, ok, "oldest entry should have been evicted")

	for _, key := range []string{"b", "c", "d"} {
		_, ok := cache.Get(key)
		assert.True(t, ok, "key %q should survive", key)
	}
	assert.Equal(t, 3, cache.Len())
}

func TestCache_EvictionIsInsertionOrderNotAccessOrder(t *testing.T) {
	cache := New[int](3, time.Minute)

	cache.Set("a", 1)
	cache.Set("b", 2)
	cache.Set("c", 3)

	// Reading "a" must not protect it: eviction follows insertion order.
	_, ok := cache.Get("a")
	require.True(t, ok)

	cache.Set("d", 4)

	_, ok = cache.Get("a")
	assert.False(t, ok, "read access must not refresh eviction order")
}

func TestCache_ReplaceRefreshesInsertionOrder(t *testing.T) {
	cache := New[int](3, time.Minute)

	cache.Set("a", 1)
	cache.Set("b", 2)
	cache.Set("c", 3)

	// Re-setting "a" moves it to the back of the insertion order.
	cache.Set("a", 10)
	cache.Set("d", 4) // now "b" is the oldest

	_, ok := cache.Get("b")
	assert.False(t, ok)

	v, ok := cache.Get("a")
	require.True(t, ok)
	assert.Equal(t, 10, v)
}

func TestCache_TTLExpiry(t *testing.T) {
	clock := newFakeClock()
	cache := New[string](10, time.Minute, WithClock[string](clock.Now))

	cache.Set("session", "data")

	clock.Advance(59 * time.Second)
	v, ok := cache.Get("session")
	require.True(t, ok)
	assert.Equal(t, "data", v)

	clock.Advance(2 * time.Second)
	_, ok = cache.Get("session")
	assert.False(t, ok, "entry past its TTL must be treated as absent")
}

func TestCache_GetDeletesExpiredEntry(t *testing.T) {
	clock := newFakeClock()
	cache := New[int](10, time.Minute, WithClock[int](clock.Now))

	cache.Set("k", 1)
	clock.Advance(2 * time.Minute)

	assert.Equal(t, 1, cache.Len())

	_, ok := cache.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len(), "Get must delete the expired entry")
}

func TestCache_SetPurgesExpiredBeforeEvicting(t *testing.T) {
	clock := newFakeClock()
	cache := New[int](2, time.Minute, WithClock[int](clock.Now))

	cache.Set("old1", 1)
	cache.Set("old2", 2)
	clock.Advance(2 * time.Minute)

	// Both existing entries are expired; inserting must purge them rather
	// than evict live data.
	cache.Set("fresh", 3)

	assert.Equal(t, 1, cache.Len())
	v, ok := cache.Get("fresh")
	require.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestCache_Cleanup(t *testing.T) {
	clock := newFakeClock()
	cache := New[int](10, time.Minute, WithClock[int](clock.Now))

	cache.Set("a", 1)
	cache.Set("b", 2)
	clock.Advance(30 * time.Second)
	cache.Set("c", 3)
	clock.Advance(45 * time.Second) // a, b expired; c is 45s old

	removed := cache.Cleanup()
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, cache.Len())

	_, ok := cache.Get("c")
	assert.True(t, ok)
}

func TestCache_Delete(t *testing.T) {
	cache := New[int](10, time.Minute)

	cache.Set("a", 1)
	cache.Delete("a")
	cache.Delete("a") // deleting twice is a no-op

	_, ok := cache.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())
}

func TestCache_Keys(t *testing.T) {
	clock := newFakeClock()
	cache := New[int](10, time.Minute, WithClock[int](clock.Now))

	cache.Set("a", 1)
	clock.Advance(30 * time.Second)
	cache.Set("b", 2)
	clock.Advance(45 * time.Second) // "a" expired, "b" live

	keys := cache.Keys()
	assert.Equal(t, []string{"b"}, keys)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	cache := New[int](100, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				key := fmt.Sprintf("key-%d", (id*50+j)%150)
				cache.Set(key, j)
				cache.Get(key)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, cache.Len(), 100, "capacity bound must hold under concurrency")
}
