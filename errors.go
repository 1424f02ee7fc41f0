package seckillcache

import (
	"github.com/cockroachdb/errors"

	"github.com/huykn/seckill-cache/cache"
	"github.com/huykn/seckill-cache/idgen"
	"github.com/huykn/seckill-cache/seckill"
	"github.com/huykn/seckill-cache/storage"
)

// ErrNotFound is returned when a key is not found in the store.
var ErrNotFound = storage.ErrNotFound

// ErrCacheClosed is returned when operations are performed on a closed cache.
var ErrCacheClosed = cache.ErrCacheClosed

// ErrInvalidConfig is returned when the configuration is invalid.
var ErrInvalidConfig = cache.ErrInvalidConfig

// ErrSerializationFailed is returned when serialization fails.
var ErrSerializationFailed = cache.ErrSerializationFailed

// ErrDeserializationFailed is returned when deserialization fails.
var ErrDeserializationFailed = cache.ErrDeserializationFailed

// ErrRedisConnection is returned when Redis connection fails.
var ErrRedisConnection = errors.New("redis connection failed")

// ErrSeckillDisabled is returned by seckill operations on a Toolkit built
// without an order store.
var ErrSeckillDisabled = errors.New("seckill is not configured")

// Seckill rejections and failures.
var (
	ErrNoStock           = seckill.ErrNoStock
	ErrDuplicateOrder    = seckill.ErrDuplicateOrder
	ErrQueueOverloaded   = seckill.ErrQueueOverloaded
	ErrCoordinatorClosed = seckill.ErrCoordinatorClosed
)

// ErrSequenceOverflow is returned when a namespace runs out of ids for the day.
var ErrSequenceOverflow = idgen.ErrSequenceOverflow
