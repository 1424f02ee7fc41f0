package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/singleflight"

	"github.com/huykn/seckill-cache/lock"
	"github.com/huykn/seckill-cache/metrics"
	"github.com/huykn/seckill-cache/storage"
	"github.com/huykn/seckill-cache/types"
)

const (
	strategyPassthrough = "passthrough"
	strategyLogical     = "logical"
)

// Client is a cache-aside layer over a shared store. Plain entries carry a
// store TTL and are read with QueryWithPassthrough; enveloped entries carry
// no store TTL and are read with QueryWithLogicalExpiry. A key prefix must
// stick to one of the two conventions.
type Client struct {
	store        storage.Store
	locker       *lock.Locker
	local        LocalCache
	synchronizer Synchronizer
	serializer   Marshaller
	logger       Logger
	metrics      *metrics.Collector
	options      Options
	now          func() time.Time
	pool         *rebuildPool
	flight       singleflight.Group
	closed       int32
	stats        Stats
}

// localEntry is a decoded enveloped value held by the near-cache.
type localEntry struct {
	value    any
	expireAt time.Time
}

// New creates a Client on top of store. locker serializes rebuilds of
// logically expired keys across processes.
func New(store storage.Store, locker *lock.Locker, opts Options) (*Client, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if store == nil || locker == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "store and locker are required")
	}

	// Set defaults for optional fields
	if opts.Marshaller == nil {
		m, err := storage.GetSerializer(opts.SerializationFormat)
		if err != nil {
			return nil, errors.Mark(err, ErrInvalidConfig)
		}
		opts.Marshaller = m
	}
	if opts.Logger == nil {
		opts.Logger = NewNoOpLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Client{
		store:        store,
		locker:       locker,
		synchronizer: opts.Synchronizer,
		serializer:   opts.Marshaller,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		options:      opts,
		now:          opts.Now,
	}

	if !opts.DisableLocalCache {
		factory := opts.LocalCacheFactory
		if factory == nil {
			factory = NewLFUCacheFactory(opts.LocalCacheConfig)
		}
		local, err := factory.Create()
		if err != nil {
			return nil, errors.Wrap(err, "create local cache")
		}
		c.local = local
	}

	if c.synchronizer != nil {
		c.synchronizer.OnInvalidate(c.handleInvalidation)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.synchronizer.Subscribe(ctx); err != nil {
			if c.local != nil {
				c.local.Close()
			}
			return nil, errors.Wrap(err, "subscribe to invalidations")
		}
	}

	c.pool = newRebuildPool(opts.RebuildWorkers, opts.RebuildQueueSize, opts.RebuildTimeout, c.logger, opts.OnError)
	return c, nil
}

// Key joins a key prefix and an id.
func Key(prefix string, id any) string {
	return prefix + fmt.Sprint(id)
}

// Set serializes value and stores it under key with a store-level TTL.
func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if c.isClosed() {
		return ErrCacheClosed
	}

	data, err := c.serializer.Marshal(value)
	if err != nil {
		c.reportError(err)
		return errors.Wrapf(errors.Mark(err, ErrSerializationFailed), "marshal %s", key)
	}

	if err := c.store.Set(ctx, key, data, ttl); err != nil {
		c.reportError(err)
		return err
	}

	if c.options.DebugMode {
		c.logger.Debug("Set: stored plain entry", "key", key, "ttl", ttl)
	}
	return nil
}

// SetWithLogicalExpiry stores value wrapped with expireAt = now + ttl and no
// store TTL, so the key never disappears on its own.
func (c *Client) SetWithLogicalExpiry(ctx context.Context, key string, value any, ttl time.Duration) error {
	if c.isClosed() {
		return ErrCacheClosed
	}
	return c.writeLogical(ctx, key, value, ttl)
}

// Invalidate removes key from the store and from this pod's near-cache, and
// publishes the removal to the other pods when a Synchronizer is set. Call
// it after the source of truth changes.
func (c *Client) Invalidate(ctx context.Context, key string) error {
	if c.isClosed() {
		return ErrCacheClosed
	}
	return c.invalidate(ctx, key)
}

// writeLogical skips the closed check so rebuilds drained by Close can finish.
func (c *Client) writeLogical(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := c.serializer.Marshal(value)
	if err != nil {
		c.reportError(err)
		return errors.Wrapf(errors.Mark(err, ErrSerializationFailed), "marshal %s", key)
	}

	entry := types.LogicalEntry{Data: data, ExpireAt: c.now().Add(ttl)}
	raw, err := c.serializer.Marshal(entry)
	if err != nil {
		c.reportError(err)
		return errors.Wrapf(errors.Mark(err, ErrSerializationFailed), "marshal envelope %s", key)
	}

	if err := c.store.Set(ctx, key, raw, 0); err != nil {
		c.reportError(err)
		return err
	}

	c.remember(key, value, entry.ExpireAt)
	c.publish(ctx, types.Invalidate, key)

	if c.options.DebugMode {
		c.logger.Debug("SetWithLogicalExpiry: stored enveloped entry", "key", key, "expireAt", entry.ExpireAt)
	}
	return nil
}

func (c *Client) invalidate(ctx context.Context, key string) error {
	if c.local != nil {
		c.local.Delete(key)
	}

	if err := c.store.Delete(ctx, key); err != nil {
		c.reportError(err)
		return errors.Wrapf(err, "invalidate %s", key)
	}

	atomic.AddInt64(&c.stats.Invalidations, 1)
	c.publish(ctx, types.Delete, key)

	if c.options.DebugMode {
		c.logger.Debug("Invalidate: removed key", "key", key)
	}
	return nil
}

// Stats returns cache statistics.
func (c *Client) Stats() Stats {
	return Stats{
		Hits:              atomic.LoadInt64(&c.stats.Hits),
		Misses:            atomic.LoadInt64(&c.stats.Misses),
		NegativeHits:      atomic.LoadInt64(&c.stats.NegativeHits),
		LocalHits:         atomic.LoadInt64(&c.stats.LocalHits),
		LoaderCalls:       atomic.LoadInt64(&c.stats.LoaderCalls),
		StaleServed:       atomic.LoadInt64(&c.stats.StaleServed),
		RebuildsScheduled: atomic.LoadInt64(&c.stats.RebuildsScheduled),
		RebuildsFailed:    atomic.LoadInt64(&c.stats.RebuildsFailed),
		RebuildsRejected:  atomic.LoadInt64(&c.stats.RebuildsRejected),
		Invalidations:     atomic.LoadInt64(&c.stats.Invalidations),
	}
}

// Close waits for queued rebuilds and releases local resources. The store
// is left open; its owner closes it.
func (c *Client) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}

	c.pool.close()

	var err error
	if c.synchronizer != nil {
		err = c.synchronizer.Close()
	}
	if c.local != nil {
		c.local.Close()
	}
	return err
}

func (c *Client) isClosed() bool {
	return atomic.LoadInt32(&c.closed) != 0
}

func (c *Client) reportError(err error) {
	if c.options.OnError != nil {
		c.options.OnError(err)
	}
}

// readEntry loads and decodes the envelope at key.
func (c *Client) readEntry(ctx context.Context, key string) (types.LogicalEntry, bool, error) {
	var entry types.LogicalEntry

	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return entry, false, nil
		}
		return entry, false, err
	}
	if len(raw) == 0 {
		return entry, false, nil
	}

	if err := c.serializer.Unmarshal(raw, &entry); err != nil {
		c.reportError(err)
		return entry, false, errors.Wrapf(errors.Mark(err, ErrDeserializationFailed), "decode envelope %s", key)
	}
	return entry, true, nil
}

// remember puts a decoded enveloped value into the near-cache until its
// logical expiry.
func (c *Client) remember(key string, value any, expireAt time.Time) {
	if c.local == nil {
		return
	}
	c.local.Set(key, localEntry{value: value, expireAt: expireAt}, expireAt.Sub(c.now()))
}

func (c *Client) publish(ctx context.Context, action types.Action, key string) {
	if c.synchronizer == nil {
		return
	}

	event := InvalidationEvent{
		Key:    key,
		Sender: c.options.PodID,
		Action: action,
	}
	if err := c.synchronizer.Publish(ctx, event); err != nil {
		c.reportError(err)
		if c.options.DebugMode {
			c.logger.Warn("Sync: failed to publish invalidation", "key", key, "action", action, "error", err)
		}
	}
}

// handleInvalidation drops near-cache entries named by events from other pods.
func (c *Client) handleInvalidation(event InvalidationEvent) {
	if c.options.DebugMode {
		c.logger.Info("Received synchronization event", "action", event.Action, "key", event.Key, "sender", event.Sender)
	}
	if c.local == nil {
		return
	}

	switch event.Action {
	case types.Invalidate, types.Delete:
		c.local.Delete(event.Key)
		atomic.AddInt64(&c.stats.Invalidations, 1)

	case types.Clear:
		c.local.Clear()
		atomic.AddInt64(&c.stats.Invalidations, 1)

	default:
		if c.options.DebugMode {
			c.logger.Warn("Sync: unknown action", "action", event.Action, "key", event.Key, "sender", event.Sender)
		}
	}
}

func (c *Client) recordLookup(strategy, outcome string, counter *int64) {
	atomic.AddInt64(counter, 1)
	c.metrics.CacheLookup(strategy, outcome)
}
