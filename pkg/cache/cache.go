package cache

import (
	"math/big"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// nearingExpiryRatio is the fraction of the TTL after which an entry is due for refresh
const nearingExpiryRatio = 0.8

// CacheEntry represents a cached supply value with its timestamps
type CacheEntry struct {
	Value          *big.Int
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

// Stats holds cache counters for monitoring
type Stats struct {
	Size        int   `json:"size"`
	MaxSize     int   `json:"max_size"`
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Evictions   int64 `json:"evictions"`
	Expirations int64 `json:"expirations"`
}

// Option configures a Cache
type Option func(*Cache)

// WithClock overrides the time source, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// Cache provides thread-safe caching with TTL expiry and least-recently-used eviction.
// Recency is kept by the LRU; Peek-style reads never touch it.
type Cache struct {
	entries *lru.Cache
	mutex   sync.Mutex
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	// removing is set while entries are dropped on purpose so the
	// eviction callback only counts capacity evictions
	removing bool

	hits        int64
	misses      int64
	evictions   int64
	expirations int64
}

// New creates a new Cache instance holding at most maxSize entries for ttl each
func New(maxSize int, ttl time.Duration, opts ...Option) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}

	c := &Cache{
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}

	entries, err := lru.NewWithEvict(maxSize, c.onEvict)
	if err != nil {
		// only returned for a non-positive size
		panic(err)
	}
	c.entries = entries

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// onEvict runs inside Add or Remove while the mutex is held
func (c *Cache) onEvict(_, _ interface{}) {
	if !c.removing {
		c.evictions++
	}
}

// TTL returns the configured time-to-live
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get retrieves a value from the cache if it exists and hasn't expired.
// An expired entry is removed as a side effect.
func (c *Cache) Get(key string) (*big.Int, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	raw, exists := c.entries.Get(key)
	if !exists {
		c.misses++
		return nil, false
	}

	now := c.now()
	entry := raw.(*CacheEntry)
	if c.expired(entry, now) {
		c.remove(key)
		c.expirations++
		c.misses++
		return nil, false
	}

	entry.LastAccessedAt = now
	c.hits++

	return new(big.Int).Set(entry.Value), true
}

// Set stores a value with the current timestamp, evicting the least recently
// used entry when a new key would exceed capacity
func (c *Cache) Set(key string, value *big.Int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	c.entries.Add(key, &CacheEntry{
		Value:          new(big.Int).Set(value),
		CreatedAt:      now,
		LastAccessedAt: now,
	})
}

// Has reports whether a live entry exists without touching or deleting it
func (c *Cache) Has(key string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, exists := c.peek(key)
	return exists && !c.expired(entry, c.now())
}

// NearingExpiry reports whether an entry has used at least 80% of its TTL.
// Missing entries report false; callers combine it with Has.
func (c *Cache) NearingExpiry(key string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, exists := c.peek(key)
	if !exists {
		return false
	}

	age := c.now().Sub(entry.CreatedAt)
	return float64(age) >= float64(c.ttl)*nearingExpiryRatio
}

// Peek returns the stored value and its creation time, ignoring TTL.
// It neither refreshes access time nor removes expired entries.
func (c *Cache) Peek(key string) (*big.Int, time.Time, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, exists := c.peek(key)
	if !exists {
		return nil, time.Time{}, false
	}
	return new(big.Int).Set(entry.Value), entry.CreatedAt, true
}

// Delete removes a key from the cache
func (c *Cache) Delete(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.remove(key)
}

// Clear removes all entries from the cache
func (c *Cache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.removing = true
	c.entries.Purge()
	c.removing = false
}

// Size returns the number of entries in the cache
func (c *Cache) Size() int {
	return c.entries.Len()
}

// CleanExpired removes all expired entries regardless of access pattern
// and returns how many were removed
func (c *Cache) CleanExpired() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	removed := 0
	for _, key := range c.entries.Keys() {
		entry, exists := c.peek(key.(string))
		if exists && c.expired(entry, now) {
			c.remove(key.(string))
			removed++
		}
	}
	c.expirations += int64(removed)

	return removed
}

// Stats returns a snapshot of the cache counters
func (c *Cache) Stats() Stats {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return Stats{
		Size:        c.entries.Len(),
		MaxSize:     c.maxSize,
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
	}
}

func (c *Cache) expired(entry *CacheEntry, now time.Time) bool {
	return now.Sub(entry.CreatedAt) >= c.ttl
}

// peek and remove must be called with the mutex held
func (c *Cache) peek(key string) (*CacheEntry, bool) {
	raw, exists := c.entries.Peek(key)
	if !exists {
		return nil, false
	}
	return raw.(*CacheEntry), true
}

func (c *Cache) remove(key string) {
	c.removing = true
	c.entries.Remove(key)
	c.removing = false
}
