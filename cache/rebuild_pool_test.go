package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/huykn/seckill-cache/logger"
)

func TestRebuildPoolRejectsWhenFull(t *testing.T) {
	pool := newRebuildPool(1, 1, time.Second, logger.NewNoOp(), nil)

	started := make(chan struct{})
	release := make(chan struct{})
	assert.True(t, pool.submit(func(ctx context.Context) {
		close(started)
		<-release
	}))
	<-started

	var ran int32
	assert.True(t, pool.submit(func(ctx context.Context) { atomic.AddInt32(&ran, 1) }), "one task may wait in the queue")
	assert.False(t, pool.submit(func(ctx context.Context) { atomic.AddInt32(&ran, 1) }), "queue is full")

	close(release)
	pool.close()
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
	assert.False(t, pool.submit(func(ctx context.Context) {}), "closed pool rejects work")
}

func TestRebuildPoolRecoversPanics(t *testing.T) {
	var reported error
	pool := newRebuildPool(1, 4, time.Second, logger.NewNoOp(), func(err error) { reported = err })

	var after int32
	assert.True(t, pool.submit(func(ctx context.Context) { panic("loader exploded") }))
	assert.True(t, pool.submit(func(ctx context.Context) { atomic.AddInt32(&after, 1) }))
	pool.close()

	assert.Error(t, reported)
	assert.Equal(t, int32(1), atomic.LoadInt32(&after), "worker survives a panicking task")
}

func TestRebuildPoolTaskTimeout(t *testing.T) {
	pool := newRebuildPool(1, 1, 20*time.Millisecond, logger.NewNoOp(), nil)

	var deadline int32
	pool.submit(func(ctx context.Context) {
		<-ctx.Done()
		atomic.StoreInt32(&deadline, 1)
	})
	pool.close()
	assert.Equal(t, int32(1), atomic.LoadInt32(&deadline))
}
