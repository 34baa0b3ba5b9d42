package events

import (
	"context"
	"errors"
	"sync"
)

// MemoryBus 使用 channel 模拟事件总线，主要用于测试与单机部署。
type MemoryBus struct {
	ch     chan MintEvent
	mu     sync.Mutex
	closed bool
}

// NewMemoryBus 创建一个内存事件总线。
func NewMemoryBus(size int) *MemoryBus {
	if size <= 0 {
		size = 64
	}
	return &MemoryBus{ch: make(chan MintEvent, size)}
}

// Publish 将事件投递到总线。
func (b *MemoryBus) Publish(ctx context.Context, event MintEvent) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return errors.New("事件总线已关闭")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case b.ch <- event:
		return nil
	}
}

// Consume 启动指定数量的工作协程消费总线中的事件。
func (b *MemoryBus) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-b.ch:
					if !ok {
						return
					}
					_ = handler(ctx, event)
				}
			}
		}()
	}
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Close 关闭内存总线。
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if !b.closed {
		close(b.ch)
		b.closed = true
	}
	b.mu.Unlock()
	return nil
}

var _ Bus = (*MemoryBus)(nil)
