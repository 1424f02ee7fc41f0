package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/huykn/seckill-cache/lock"
	"github.com/huykn/seckill-cache/metrics"
	"github.com/huykn/seckill-cache/storage"
)

type flightResult[T any] struct {
	value T
	found bool
}

// QueryWithPassthrough reads keyPrefix+id, falling back to loader on a miss.
// A confirmed-absent id is cached as an empty marker for NullTTL so repeated
// lookups stop at the store. Concurrent misses for one key in this process
// share a single loader call.
func QueryWithPassthrough[T any, ID any](ctx context.Context, c *Client, keyPrefix string, id ID, loader Loader[ID, T], ttl time.Duration) (T, bool, error) {
	var zero T
	if c.isClosed() {
		return zero, false, ErrCacheClosed
	}
	key := Key(keyPrefix, id)

	data, err := c.store.Get(ctx, key)
	switch {
	case err == nil && len(data) > 0:
		value, err := decode[T](c, key, data)
		if err != nil {
			return zero, false, err
		}
		c.recordLookup(strategyPassthrough, metrics.LookupHit, &c.stats.Hits)
		return value, true, nil

	case err == nil:
		c.recordLookup(strategyPassthrough, metrics.LookupNegativeHit, &c.stats.NegativeHits)
		if c.options.DebugMode {
			c.logger.Debug("QueryWithPassthrough: negative marker hit", "key", key)
		}
		return zero, false, nil

	case !errors.Is(err, storage.ErrNotFound):
		c.reportError(err)
		return zero, false, err
	}

	c.recordLookup(strategyPassthrough, metrics.LookupMiss, &c.stats.Misses)

	res, err, _ := c.flight.Do(key, func() (any, error) {
		// The load is shared, so one caller giving up must not fail the others.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.options.RebuildTimeout)
		defer cancel()

		atomic.AddInt64(&c.stats.LoaderCalls, 1)
		value, found, err := loader(ctx, id)
		if err != nil {
			return nil, errors.Wrapf(err, "load %s", key)
		}

		if !found {
			if err := c.store.Set(ctx, key, []byte{}, c.options.NullTTL); err != nil {
				c.reportError(err)
				c.logger.Warn("QueryWithPassthrough: failed to write negative marker", "key", key, "error", err)
			}
			return flightResult[T]{}, nil
		}

		if err := c.Set(ctx, key, value, ttl); err != nil {
			if errors.Is(err, ErrSerializationFailed) {
				return nil, err
			}
			c.logger.Warn("QueryWithPassthrough: failed to cache loaded value", "key", key, "error", err)
		}
		return flightResult[T]{value: value, found: true}, nil
	})
	if err != nil {
		return zero, false, err
	}

	result, ok := res.(flightResult[T])
	if !ok {
		return zero, false, errors.Wrapf(ErrTypeMismatch, "key %s", key)
	}
	return result.value, result.found, nil
}

// QueryWithLogicalExpiry reads a pre-warmed enveloped entry and never blocks
// on a rebuild. A missing entry yields found=false without calling loader.
// A logically expired entry is returned as is; if this caller wins the
// key's lock, loader runs on the rebuild pool and refreshes the entry.
func QueryWithLogicalExpiry[T any, ID any](ctx context.Context, c *Client, keyPrefix string, id ID, loader Loader[ID, T], rebuildTTL time.Duration) (T, bool, error) {
	var zero T
	if c.isClosed() {
		return zero, false, ErrCacheClosed
	}
	key := Key(keyPrefix, id)

	if value, ok := lookupLocal[T](c, key); ok {
		c.recordLookup(strategyLogical, metrics.LookupLocalHit, &c.stats.LocalHits)
		return value, true, nil
	}

	entry, found, err := c.readEntry(ctx, key)
	if err != nil {
		return zero, false, err
	}
	if !found {
		c.recordLookup(strategyLogical, metrics.LookupMiss, &c.stats.Misses)
		return zero, false, nil
	}

	value, err := decode[T](c, key, entry.Data)
	if err != nil {
		return zero, false, err
	}

	if !entry.Expired(c.now()) {
		c.remember(key, value, entry.ExpireAt)
		c.recordLookup(strategyLogical, metrics.LookupHit, &c.stats.Hits)
		return value, true, nil
	}

	stale := func() (T, bool, error) {
		c.recordLookup(strategyLogical, metrics.LookupStale, &c.stats.StaleServed)
		return value, true, nil
	}

	lease, acquired, err := c.locker.TryAcquire(ctx, key, c.options.LockTTL)
	if err != nil {
		c.reportError(err)
		c.logger.Warn("QueryWithLogicalExpiry: lock attempt failed, serving stale value", "key", key, "error", err)
		return stale()
	}
	if !acquired {
		if c.options.DebugMode {
			c.logger.Debug("QueryWithLogicalExpiry: rebuild in progress elsewhere", "key", key)
		}
		return stale()
	}

	// Another holder may have rebuilt and released between our read and the lock.
	fresh, found, err := c.readEntry(ctx, key)
	if err == nil && found && !fresh.Expired(c.now()) {
		if freshValue, err := decode[T](c, key, fresh.Data); err == nil {
			releaseLease(c, lease)
			c.remember(key, freshValue, fresh.ExpireAt)
			c.recordLookup(strategyLogical, metrics.LookupHit, &c.stats.Hits)
			return freshValue, true, nil
		}
	}

	task := func(taskCtx context.Context) {
		defer releaseLease(c, lease)
		rebuild(taskCtx, c, key, id, loader, rebuildTTL)
	}
	if !c.pool.submit(task) {
		releaseLease(c, lease)
		atomic.AddInt64(&c.stats.RebuildsRejected, 1)
		c.metrics.Rebuild("rejected")
		c.logger.Warn("QueryWithLogicalExpiry: rebuild queue full, serving stale value", "key", key)
		return stale()
	}

	atomic.AddInt64(&c.stats.RebuildsScheduled, 1)
	c.metrics.Rebuild("scheduled")
	if c.options.DebugMode {
		c.logger.Debug("QueryWithLogicalExpiry: rebuild scheduled", "key", key)
	}
	return stale()
}

func rebuild[T any, ID any](ctx context.Context, c *Client, key string, id ID, loader Loader[ID, T], ttl time.Duration) {
	atomic.AddInt64(&c.stats.LoaderCalls, 1)

	value, found, err := loader(ctx, id)
	if err == nil && !found {
		// The entity is gone from the source of truth.
		err = c.invalidate(ctx, key)
		if err == nil {
			c.metrics.Rebuild("ok")
			c.logger.Info("Rebuild: source entity missing, entry removed", "key", key)
			return
		}
	}
	if err == nil {
		err = c.writeLogical(ctx, key, value, ttl)
	}

	if err != nil {
		atomic.AddInt64(&c.stats.RebuildsFailed, 1)
		c.metrics.Rebuild("failed")
		c.reportError(err)
		c.logger.Error("Rebuild: failed", "key", key, "error", err)
		return
	}

	c.metrics.Rebuild("ok")
	if c.options.DebugMode {
		c.logger.Debug("Rebuild: entry refreshed", "key", key)
	}
}

func releaseLease(c *Client, lease *lock.Lease) {
	ctx, cancel := context.WithTimeout(context.Background(), c.options.LockTTL)
	defer cancel()
	if _, err := lease.Release(ctx); err != nil {
		c.reportError(err)
		c.logger.Warn("Rebuild: failed to release lock, it will expire", "lock", lease.Name(), "ttl", lease.TTL(), "error", err)
	}
}

func lookupLocal[T any](c *Client, key string) (T, bool) {
	var zero T
	if c.local == nil {
		return zero, false
	}
	raw, ok := c.local.Get(key)
	if !ok {
		return zero, false
	}
	entry, ok := raw.(localEntry)
	if !ok || !entry.expireAt.After(c.now()) {
		return zero, false
	}
	value, ok := entry.value.(T)
	return value, ok
}

func decode[T any](c *Client, key string, data []byte) (T, error) {
	var value T
	if err := c.serializer.Unmarshal(data, &value); err != nil {
		c.reportError(err)
		if c.options.DebugMode {
			c.logger.Error("decode: deserialization failed", "key", key, "error", err)
		}
		return value, errors.Wrapf(errors.Mark(err, ErrDeserializationFailed), "decode %s", key)
	}
	return value, nil
}
