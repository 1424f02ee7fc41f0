package idgen

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huykn/seckill-cache/storage"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func newTestGenerator(t *testing.T, clock *fakeClock) (*Generator, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := storage.NewRedisStore(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store, clock.Now), mr
}

func TestNextIDLayout(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)}
	gen, mr := newTestGenerator(t, clock)

	id, err := gen.NextID(context.Background(), "order")
	require.NoError(t, err)

	assert.Positive(t, id)
	assert.Equal(t, clock.t, Timestamp(id))
	assert.Equal(t, int64(1), Sequence(id))

	counter, err := mr.Get("icr:order:2024:03:05")
	require.NoError(t, err)
	assert.Equal(t, "1", counter)
}

func TestNextIDStrictlyIncreasesWithinDay(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)}
	gen, _ := newTestGenerator(t, clock)
	ctx := context.Background()

	var prev int64
	for i := 0; i < 50; i++ {
		if i%10 == 0 {
			clock.t = clock.t.Add(time.Second)
		}
		id, err := gen.NextID(ctx, "order")
		require.NoError(t, err)
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestNextIDAcrossDaysStillIncreases(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 5, 23, 59, 59, 0, time.UTC)}
	gen, _ := newTestGenerator(t, clock)
	ctx := context.Background()

	var last int64
	for i := 0; i < 5; i++ {
		id, err := gen.NextID(ctx, "order")
		require.NoError(t, err)
		last = id
	}

	clock.t = clock.t.Add(24 * time.Hour)
	next, err := gen.NextID(ctx, "order")
	require.NoError(t, err)

	assert.Greater(t, next, last)
	assert.Equal(t, int64(1), Sequence(next), "sequence resets on a new date")
}

func TestNamespacesUseSeparateCounters(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)}
	gen, _ := newTestGenerator(t, clock)
	ctx := context.Background()

	a, err := gen.NextID(ctx, "order")
	require.NoError(t, err)
	b, err := gen.NextID(ctx, "refund")
	require.NoError(t, err)

	assert.Equal(t, int64(1), Sequence(a))
	assert.Equal(t, int64(1), Sequence(b))
}

func TestNextIDSequenceOverflow(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)}
	gen, mr := newTestGenerator(t, clock)

	require.NoError(t, mr.Set(CounterKey("order", clock.t), "4294967295"))

	_, err := gen.NextID(context.Background(), "order")
	assert.ErrorIs(t, err, ErrSequenceOverflow)
}

func TestNextIDBeforeAnchor(t *testing.T) {
	clock := &fakeClock{t: time.Date(2021, 12, 31, 0, 0, 0, 0, time.UTC)}
	gen, _ := newTestGenerator(t, clock)

	_, err := gen.NextID(context.Background(), "order")
	assert.ErrorIs(t, err, ErrClockBeforeAnchor)
}

func TestCounterKeyUsesUTCDate(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	local := time.Date(2024, 3, 6, 2, 0, 0, 0, loc)
	assert.Equal(t, "icr:order:2024:03:05", CounterKey("order", local))
}
