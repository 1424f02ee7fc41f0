package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/huykn/seckill-cache/lock"
	"github.com/huykn/seckill-cache/logger"
	"github.com/huykn/seckill-cache/storage"
	"github.com/huykn/seckill-cache/types"
)

type shop struct {
	ID   int64  `json:"id" msgpack:"id"`
	Name string `json:"name" msgpack:"name"`
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testEnv struct {
	mr     *miniredis.Miniredis
	store  storage.Store
	locker *lock.Locker
	clock  *testClock
	client *Client
}

func newTestEnv(t *testing.T, mutate func(*Options)) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rs, err := storage.NewRedisStore(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rs.Close() })

	env := &testEnv{
		mr:     mr,
		store:  rs,
		locker: lock.New(rs, "pod-test", nil),
		clock:  newTestClock(),
	}
	env.client = env.newClient(t, env.store, mutate)
	return env
}

func (env *testEnv) newClient(t *testing.T, store storage.Store, mutate func(*Options)) *Client {
	t.Helper()

	opts := DefaultOptions()
	opts.PodID = "pod-test"
	opts.Now = env.clock.Now
	opts.LocalCacheFactory = NewLRUCacheFactory(128)
	opts.Logger = logger.NewZap(zaptest.NewLogger(t).Sugar())
	opts.DebugMode = true
	if mutate != nil {
		mutate(&opts)
	}

	c, err := New(store, env.locker, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// countingLoader returns a loader backed by a map plus the number of calls made.
type countingLoader struct {
	mu    sync.Mutex
	calls int
	shops map[int64]shop
	err   error
	gate  chan struct{}
}

func (l *countingLoader) load(ctx context.Context, id int64) (shop, bool, error) {
	l.mu.Lock()
	l.calls++
	gate := l.gate
	l.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return shop{}, false, ctx.Err()
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return shop{}, false, l.err
	}
	s, ok := l.shops[id]
	return s, ok, nil
}

func (l *countingLoader) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

// fakeSynchronizer records published events and lets tests deliver events.
type fakeSynchronizer struct {
	mu        sync.Mutex
	published []types.InvalidationEvent
	callbacks []func(types.InvalidationEvent)
	closed    bool
}

func (f *fakeSynchronizer) Subscribe(ctx context.Context) error { return nil }

func (f *fakeSynchronizer) Publish(ctx context.Context, event types.InvalidationEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, event)
	return nil
}

func (f *fakeSynchronizer) OnInvalidate(callback func(types.InvalidationEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = append(f.callbacks, callback)
}

func (f *fakeSynchronizer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSynchronizer) deliver(event types.InvalidationEvent) {
	f.mu.Lock()
	callbacks := f.callbacks
	f.mu.Unlock()
	for _, cb := range callbacks {
		cb(event)
	}
}

func (f *fakeSynchronizer) Published() []types.InvalidationEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.InvalidationEvent(nil), f.published...)
}

// hookStore runs beforeSetNX ahead of every SetNX, so tests can interleave
// another writer between a stale read and a lock acquisition.
type hookStore struct {
	storage.Store
	beforeSetNX func()
}

func (h *hookStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if h.beforeSetNX != nil {
		h.beforeSetNX()
	}
	return h.Store.SetNX(ctx, key, value, ttl)
}
