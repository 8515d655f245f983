package cache

import (
	"sync"
	"time"
)

// Item is a cached value with its expiration in unix nanoseconds
type Item struct {
	Value      any
	Expiration int64
}

// Expired reports whether the item has expired at now
func (item Item) Expired(now time.Time) bool {
	if item.Expiration == 0 {
		return false
	}
	return now.UnixNano() > item.Expiration
}

// Cache is a thread-safe in-memory cache with expiration
type Cache struct {
	items             map[string]Item
	mu                sync.RWMutex
	defaultExpiration time.Duration
	maxItems          int
	now               func() time.Time
	stop              chan struct{}
	stopOnce          sync.Once
}

// New creates a cache. A positive cleanupInterval starts a janitor that
// removes expired entries until Close is called; maxItems <= 0 means no
// bound.
func New(defaultExpiration, cleanupInterval time.Duration, maxItems int) *Cache {
	c := &Cache{
		items:             make(map[string]Item),
		defaultExpiration: defaultExpiration,
		maxItems:          maxItems,
		now:               time.Now,
		stop:              make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go c.startCleanupTimer(cleanupInterval)
	}
	return c
}

// Set adds an item to the cache with the default expiration
func (c *Cache) Set(key string, value any) {
	c.SetWithExpiration(key, value, c.defaultExpiration)
}

// SetWithExpiration adds an item to the cache with a specific expiration time
func (c *Cache) SetWithExpiration(key string, value any, d time.Duration) {
	var exp int64
	if d > 0 {
		exp = c.now().Add(d).UnixNano()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && c.maxItems > 0 && len(c.items) >= c.maxItems {
		c.evictOldest()
	}
	c.items[key] = Item{Value: value, Expiration: exp}
}

// Get retrieves an unexpired item from the cache
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, found := c.items[key]
	if !found || item.Expired(c.now()) {
		return nil, false
	}
	return item.Value, true
}

// Delete removes an item from the cache
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Flush removes all items from the cache
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]Item)
}

// Count returns the number of items in the cache (including expired items)
func (c *Cache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Close stops the cleanup janitor
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Cache) startCleanupTimer(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache) deleteExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, v := range c.items {
		if v.Expired(now) {
			delete(c.items, k)
		}
	}
}

// evictOldest removes the item closest to expiring. Items without an
// expiration are evicted last.
func (c *Cache) evictOldest() {
	var oldestKey string
	var oldestTime int64
	first := true

	for k, v := range c.items {
		exp := v.Expiration
		if exp == 0 {
			exp = int64(^uint64(0) >> 1)
		}
		if first || exp < oldestTime {
			oldestKey, oldestTime, first = k, exp, false
		}
	}
	if !first {
		delete(c.items, oldestKey)
	}
}
