package task

import (
	"context"
	"sync"

	xerrors "Nexus-Chain/internal/errors"
)

// ErrQueueFull 表示内存队列已满，非阻塞投递被拒绝。
var ErrQueueFull = xerrors.New(xerrors.CodeQueueFailure, "队列已满")

// MemoryQueue 使用 channel 模拟消息队列，适合单进程部署与测试。
type MemoryQueue struct {
	ch      chan []byte
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
	senders sync.WaitGroup
	once    sync.Once
}

// NewMemoryQueue 创建一个内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan []byte, size), done: make(chan struct{})}
}

// enter 登记一个投递者，队列关闭后返回 false。
func (q *MemoryQueue) enter() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.senders.Add(1)
	return true
}

// Publish 将任务投递到队列，队列满时阻塞直到有空位、ctx 取消或队列关闭。
func (q *MemoryQueue) Publish(ctx context.Context, payload []byte) error {
	if !q.enter() {
		return xerrors.New(xerrors.CodeQueueFailure, "队列已关闭")
	}
	defer q.senders.Done()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return xerrors.New(xerrors.CodeQueueFailure, "队列已关闭")
	case q.ch <- payload:
		return nil
	}
}

// TryPublish 非阻塞地投递任务，队列已满时返回 ErrQueueFull。
func (q *MemoryQueue) TryPublish(payload []byte) error {
	if !q.enter() {
		return xerrors.New(xerrors.CodeQueueFailure, "队列已关闭")
	}
	defer q.senders.Done()
	select {
	case q.ch <- payload:
		return nil
	default:
		return ErrQueueFull
	}
}

// Consume 启动指定数量的工作协程消费队列中的任务。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
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
				case payload, ok := <-q.ch:
					if !ok {
						return
					}
					_ = handler(ctx, payload)
				}
			}
		}()
	}
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Close 关闭内存队列。阻塞中的投递会立即返回，channel 在所有投递者退出后关闭。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	q.mu.Unlock()
	q.senders.Wait()
	q.once.Do(func() { close(q.ch) })
	return nil
}
