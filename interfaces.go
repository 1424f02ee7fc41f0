package seckillcache

import (
	"github.com/huykn/seckill-cache/cache"
	"github.com/huykn/seckill-cache/seckill"
	"github.com/huykn/seckill-cache/types"
)

// Logger is an alias for cache.Logger.
type Logger = cache.Logger

// Marshaller is an alias for cache.Marshaller.
type Marshaller = cache.Marshaller

// LocalCache is an alias for cache.LocalCache.
type LocalCache = cache.LocalCache

// LocalCacheMetrics is an alias for cache.LocalCacheMetrics.
type LocalCacheMetrics = cache.LocalCacheMetrics

// LocalCacheFactory is an alias for cache.LocalCacheFactory.
type LocalCacheFactory = cache.LocalCacheFactory

// LocalCacheConfig is an alias for cache.LocalCacheConfig.
type LocalCacheConfig = cache.LocalCacheConfig

// InvalidationEvent is an alias for cache.InvalidationEvent.
type InvalidationEvent = cache.InvalidationEvent

// Loader is an alias for cache.Loader.
type Loader[ID any, T any] = cache.Loader[ID, T]

// Stats is an alias for cache.Stats.
type Stats = cache.Stats

// OrderTask is an alias for types.OrderTask.
type OrderTask = types.OrderTask

// CreateOutcome is an alias for seckill.CreateOutcome.
type CreateOutcome = seckill.CreateOutcome

// RejectionError is an alias for seckill.RejectionError.
type RejectionError = seckill.RejectionError

// DefaultLocalCacheConfig returns default local cache configuration for Ristretto.
func DefaultLocalCacheConfig() LocalCacheConfig {
	return cache.DefaultLocalCacheConfig()
}

// NewNoOpLogger creates a logger that discards everything.
func NewNoOpLogger() Logger {
	return cache.NewNoOpLogger()
}
