package cache

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRUCacheFactory creates LRU cache instances.
type LRUCacheFactory struct {
	maxSize int
}

// NewLRUCacheFactory creates a new LRU cache factory.
func NewLRUCacheFactory(maxSize int) LocalCacheFactory {
	return &LRUCacheFactory{maxSize: maxSize}
}

// Create creates a new LRU cache instance.
func (lcf *LRUCacheFactory) Create() (LocalCache, error) {
	return NewLRUCache(lcf.maxSize)
}

type lruItem struct {
	value    any
	deadline time.Time
}

// LRUCache is a size-bounded near-cache with per-entry deadlines, built on golang-lru.
type LRUCache struct {
	cache     *lru.Cache[string, lruItem]
	hits      int64
	misses    int64
	evictions int64
	maxSize   int64
	now       func() time.Time
}

// NewLRUCache creates a new LRU-based local cache.
func NewLRUCache(maxSize int) (*LRUCache, error) {
	lc := &LRUCache{
		maxSize: int64(maxSize),
		now:     time.Now,
	}

	cache, err := lru.NewWithEvict[string, lruItem](maxSize, func(string, lruItem) {
		atomic.AddInt64(&lc.evictions, 1)
	})
	if err != nil {
		return nil, err
	}
	lc.cache = cache
	return lc, nil
}

// Get retrieves a value from the local cache. Entries past their deadline
// are removed and reported as misses.
func (lc *LRUCache) Get(key string) (any, bool) {
	item, found := lc.cache.Get(key)
	if found && !lc.now().Before(item.deadline) {
		lc.cache.Remove(key)
		found = false
	}
	if !found {
		atomic.AddInt64(&lc.misses, 1)
		return nil, false
	}
	atomic.AddInt64(&lc.hits, 1)
	return item.value, true
}

// Set stores a value in the local cache.
func (lc *LRUCache) Set(key string, value any, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	lc.cache.Add(key, lruItem{value: value, deadline: lc.now().Add(ttl)})
	return true
}

// Delete removes a value from the local cache.
func (lc *LRUCache) Delete(key string) {
	lc.cache.Remove(key)
}

// Clear removes all values from the local cache.
func (lc *LRUCache) Clear() {
	lc.cache.Purge()
}

// Close closes the local cache.
func (lc *LRUCache) Close() {
	lc.cache.Purge()
}

// Metrics returns cache metrics.
func (lc *LRUCache) Metrics() LocalCacheMetrics {
	return LocalCacheMetrics{
		Hits:      atomic.LoadInt64(&lc.hits),
		Misses:    atomic.LoadInt64(&lc.misses),
		Evictions: atomic.LoadInt64(&lc.evictions),
		Size:      int64(lc.cache.Len()),
	}
}
