package cache

import (
	"context"
	"time"

	"github.com/huykn/seckill-cache/logger"
	"github.com/huykn/seckill-cache/storage"
	"github.com/huykn/seckill-cache/types"
)

// Logger is an alias for logger.Logger.
type Logger = logger.Logger

// Marshaller defines the interface for value serialization.
type Marshaller = storage.Serializer

// Loader fetches an entity from the source of truth. It reports found=false
// when the entity does not exist. It may be invoked concurrently from
// different processes and must be idempotent.
type Loader[ID any, T any] func(ctx context.Context, id ID) (value T, found bool, err error)

// LocalCache defines the interface for the in-process near-cache that holds
// decoded logically-expiring entries.
type LocalCache interface {
	// Get retrieves a value from the local cache.
	Get(key string) (any, bool)

	// Set stores a value that expires after ttl. A non-positive ttl is ignored.
	Set(key string, value any, ttl time.Duration) bool

	// Delete removes a value from the local cache.
	Delete(key string)

	// Clear removes all values from the local cache.
	Clear()

	// Close closes the local cache.
	Close()

	// Metrics returns cache metrics.
	Metrics() LocalCacheMetrics
}

// LocalCacheMetrics represents local cache metrics.
type LocalCacheMetrics struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int64
}

// LocalCacheFactory defines the interface for creating local cache implementations.
type LocalCacheFactory interface {
	// Create creates a new local cache instance.
	Create() (LocalCache, error)
}

// Synchronizer broadcasts near-cache invalidations between pods.
type Synchronizer interface {
	// Subscribe starts listening for invalidation events.
	Subscribe(ctx context.Context) error

	// Publish publishes an invalidation event.
	Publish(ctx context.Context, event types.InvalidationEvent) error

	// OnInvalidate registers a callback for invalidation events.
	OnInvalidate(callback func(event types.InvalidationEvent))

	// Close closes the synchronizer.
	Close() error
}

// InvalidationEvent is an alias for types.InvalidationEvent.
type InvalidationEvent = types.InvalidationEvent

// Stats represents cache statistics.
type Stats struct {
	Hits              int64
	Misses            int64
	NegativeHits      int64
	LocalHits         int64
	LoaderCalls       int64
	StaleServed       int64
	RebuildsScheduled int64
	RebuildsFailed    int64
	RebuildsRejected  int64
	Invalidations     int64
}
