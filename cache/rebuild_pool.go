package cache

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// rebuildPool is a fixed set of goroutines draining a bounded task queue.
// Tasks run with their own timeout, detached from the request that
// scheduled them.
type rebuildPool struct {
	tasks   chan func(ctx context.Context)
	timeout time.Duration
	logger  Logger
	onError func(error)

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func newRebuildPool(workers, queueSize int, timeout time.Duration, logger Logger, onError func(error)) *rebuildPool {
	p := &rebuildPool{
		tasks:   make(chan func(ctx context.Context), queueSize),
		timeout: timeout,
		logger:  logger,
		onError: onError,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.run()
	}
	return p
}

// submit enqueues task without blocking. It returns false when the queue is
// full or the pool is closed.
func (p *rebuildPool) submit(task func(ctx context.Context)) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.tasks <- task:
		return true
	default:
		return false
	}
}

func (p *rebuildPool) run() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.execute(task)
	}
}

func (p *rebuildPool) execute(task func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err := errors.Newf("rebuild task panicked: %v", r)
			p.logger.Error("Rebuild: task panicked", "error", err)
			if p.onError != nil {
				p.onError(err)
			}
		}
	}()
	task(ctx)
}

// close stops accepting tasks and waits for queued ones to finish.
func (p *rebuildPool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
}
