package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Pool is a bounded worker pool processing items of one type. Submitted
// items survive context cancellation: workers drain the queue until Close,
// so every submitted item is handed to the handler exactly once.
type Pool[T any] struct {
	workers int
	queue   chan T
	handler func(ctx context.Context, item T)

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool creates a pool with the given worker count and queue depth.
func NewPool[T any](workers, queueSize int, handler func(ctx context.Context, item T)) *Pool[T] {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = workers * 2
	}
	return &Pool[T]{
		workers: workers,
		queue:   make(chan T, queueSize),
		handler: handler,
	}
}

// Start launches the workers.
func (p *Pool[T]) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
}

func (p *Pool[T]) run(ctx context.Context) {
	defer p.wg.Done()
	for item := range p.queue {
		p.process(ctx, item)
	}
}

// process runs the handler with panic isolation so one bad item cannot
// take down the pool.
func (p *Pool[T]) process(ctx context.Context, item T) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("worker pool handler panicked",
				"panic", r,
			)
		}
	}()
	p.handler(ctx, item)
}

// Submit enqueues an item, blocking when the queue is full.
func (p *Pool[T]) Submit(item T) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("pool is closed")
	}
	p.queue <- item
	return nil
}

// Close stops accepting submissions. Queued items are still processed.
func (p *Pool[T]) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.queue)
}

// Wait blocks until the queue is drained and all workers have exited.
// Call Close first.
func (p *Pool[T]) Wait() {
	p.wg.Wait()
}
