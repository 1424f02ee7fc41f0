package cache

import (
	"sync/atomic"
	"time"

	lfu "github.com/dgraph-io/ristretto"
)

// LFUCacheFactory creates Ristretto cache instances.
type LFUCacheFactory struct {
	config LocalCacheConfig
}

// NewLFUCacheFactory creates a new Ristretto cache factory.
func NewLFUCacheFactory(config LocalCacheConfig) LocalCacheFactory {
	return &LFUCacheFactory{config: config}
}

// Create creates a new Ristretto cache instance.
func (rcf *LFUCacheFactory) Create() (LocalCache, error) {
	return NewLFUCache(rcf.config)
}

// LFUCache is a near-cache backed by Ristretto. Writes are buffered, so a
// Get immediately after Set may miss.
type LFUCache struct {
	cache     *lfu.Cache
	hits      int64
	misses    int64
	evictions int64
}

// NewLFUCache creates a new Ristretto-based local cache.
func NewLFUCache(config LocalCacheConfig) (*LFUCache, error) {
	lc := &LFUCache{}
	cache, err := lfu.NewCache(&lfu.Config{
		NumCounters:        config.NumCounters,
		MaxCost:            config.MaxCost,
		BufferItems:        config.BufferItems,
		IgnoreInternalCost: config.IgnoreInternalCost,
		OnEvict: func(item *lfu.Item) {
			atomic.AddInt64(&lc.evictions, 1)
		},
	})
	if err != nil {
		return nil, err
	}
	lc.cache = cache
	return lc, nil
}

// Get retrieves a value from the local cache.
func (lc *LFUCache) Get(key string) (any, bool) {
	value, found := lc.cache.Get(key)
	if found {
		atomic.AddInt64(&lc.hits, 1)
	} else {
		atomic.AddInt64(&lc.misses, 1)
	}
	return value, found
}

// Set stores a value with a TTL, each entry costing 1.
func (lc *LFUCache) Set(key string, value any, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return lc.cache.SetWithTTL(key, value, 1, ttl)
}

// Wait blocks until buffered writes are applied.
func (lc *LFUCache) Wait() {
	lc.cache.Wait()
}

// Delete removes a value from the local cache.
func (lc *LFUCache) Delete(key string) {
	lc.cache.Del(key)
}

// Clear removes all values from the local cache.
func (lc *LFUCache) Clear() {
	lc.cache.Clear()
}

// Close closes the local cache.
func (lc *LFUCache) Close() {
	lc.cache.Close()
}

// Metrics returns cache metrics.
func (lc *LFUCache) Metrics() LocalCacheMetrics {
	return LocalCacheMetrics{
		Hits:      atomic.LoadInt64(&lc.hits),
		Misses:    atomic.LoadInt64(&lc.misses),
		Evictions: atomic.LoadInt64(&lc.evictions),
		Size:      int64(lc.cache.MaxCost()),
	}
}
