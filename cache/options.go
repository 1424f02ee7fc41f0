package cache

import (
	"time"

	"github.com/huykn/seckill-cache/metrics"
)

// LocalCacheConfig configures the near-cache.
type LocalCacheConfig struct {
	// NumCounters is the number of counters for the cache (Ristretto only).
	// Recommended: 10 * MaxItems
	NumCounters int64 `mapstructure:"num_counters"`

	// MaxCost is the maximum cost of items in the cache (Ristretto only).
	MaxCost int64 `mapstructure:"max_cost"`

	// BufferItems is the number of items to buffer before eviction (Ristretto only).
	// Recommended: 64
	BufferItems int64 `mapstructure:"buffer_items"`

	// IgnoreInternalCost ignores the internal cost of items (Ristretto only).
	IgnoreInternalCost bool `mapstructure:"ignore_internal_cost"`

	// MaxSize is the maximum number of items in the cache (LRU only).
	MaxSize int `mapstructure:"max_size"`
}

// Options configures a Client instance.
type Options struct {
	// PodID is the unique identifier for this pod/instance.
	// Used to avoid self-invalidation in pub/sub.
	PodID string

	// LocalCacheConfig configures the near-cache.
	LocalCacheConfig LocalCacheConfig

	// LocalCacheFactory is the factory for creating the near-cache.
	// If nil, defaults to Ristretto factory.
	LocalCacheFactory LocalCacheFactory

	// DisableLocalCache turns the near-cache off; every logical-expiry read
	// goes to Redis.
	DisableLocalCache bool

	// SerializationFormat specifies how values are serialized ("json" or "msgpack").
	SerializationFormat string

	// Marshaller overrides SerializationFormat when set.
	Marshaller Marshaller

	// Synchronizer propagates near-cache invalidations. Optional.
	Synchronizer Synchronizer

	// Logger is the logger for debug logging.
	// If nil, defaults to no-op logger.
	Logger Logger

	// DebugMode enables debug logging.
	DebugMode bool

	// NullTTL is how long a negative marker lives.
	NullTTL time.Duration

	// LockTTL bounds how long one rebuild may hold the key's lock.
	LockTTL time.Duration

	// RebuildWorkers is the size of the rebuild worker pool.
	RebuildWorkers int

	// RebuildQueueSize is the number of rebuilds that may wait for a worker.
	RebuildQueueSize int

	// RebuildTimeout bounds a single rebuild, loader call included. It also
	// bounds a passthrough load shared by concurrent callers.
	RebuildTimeout time.Duration

	// Now returns the current time. If nil, defaults to time.Now.
	Now func() time.Time

	// Metrics receives lookup and rebuild counts. Optional.
	Metrics *metrics.Collector

	// OnError is called when an error occurs in background operations.
	OnError func(error)
}

// DefaultOptions returns default cache options.
func DefaultOptions() Options {
	return Options{
		PodID:               "default-pod",
		SerializationFormat: "json",
		LocalCacheConfig:    DefaultLocalCacheConfig(),
		NullTTL:             2 * time.Minute,
		LockTTL:             10 * time.Second,
		RebuildWorkers:      10,
		RebuildQueueSize:    100,
		RebuildTimeout:      5 * time.Second,
	}
}

// DefaultLocalCacheConfig returns default local cache configuration.
func DefaultLocalCacheConfig() LocalCacheConfig {
	return LocalCacheConfig{
		NumCounters:        1e6,
		MaxCost:            1 << 16,
		BufferItems:        64,
		IgnoreInternalCost: true,
		MaxSize:            10000,
	}
}

// Validate validates the options.
func (o *Options) Validate() error {
	if o.PodID == "" {
		return ErrInvalidConfig
	}
	if o.SerializationFormat != "json" && o.SerializationFormat != "msgpack" && o.Marshaller == nil {
		return ErrInvalidConfig
	}
	if o.NullTTL <= 0 || o.LockTTL <= 0 || o.RebuildTimeout <= 0 {
		return ErrInvalidConfig
	}
	if o.RebuildWorkers <= 0 || o.RebuildQueueSize < 0 {
		return ErrInvalidConfig
	}
	if !o.DisableLocalCache && o.LocalCacheFactory == nil {
		if o.LocalCacheConfig.NumCounters <= 0 || o.LocalCacheConfig.MaxCost <= 0 {
			return ErrInvalidConfig
		}
	}
	return nil
}
