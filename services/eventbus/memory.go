package eventbus

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// MemoryBus delivers in-process, one goroutine per handler per publish.
// Delivery is at most once; a crash loses in-flight messages.
type MemoryBus[T any] struct {
	mu       sync.RWMutex
	registry registry[T]
	inflight sync.WaitGroup
}

func NewMemoryBus[T any]() *MemoryBus[T] {
	return &MemoryBus[T]{}
}

func (b *MemoryBus[T]) Subscribe(h Handler[T]) func() {
	b.mu.Lock()
	id := b.registry.add(h)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.registry.handlers, id)
			b.mu.Unlock()
		})
	}
}

func (b *MemoryBus[T]) Publish(ctx context.Context, msg T) error {
	b.mu.RLock()
	handlers := b.registry.snapshot()
	b.mu.RUnlock()

	// handlers outlive the publisher's request
	ctx = context.WithoutCancel(ctx)
	for _, h := range handlers {
		b.inflight.Add(1)
		go b.deliver(ctx, h, msg)
	}
	return nil
}

func (b *MemoryBus[T]) deliver(ctx context.Context, h Handler[T], msg T) {
	defer b.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("[EventBus] handler panicked", zap.String("panic", fmt.Sprint(r)))
		}
	}()

	if err := h(ctx, msg); err != nil {
		zap.L().Error("[EventBus] handler failed", zap.Error(err))
	}
}

// Wait blocks until every delivery started so far has returned.
func (b *MemoryBus[T]) Wait() {
	b.inflight.Wait()
}
