package queue

import (
	"context"
	"time"
)

// MemoryQueue 内存队列实现，用于开发模式和测试。
// 语义与 RedisQueue 对齐：认领原子、Ack 幂等。
type MemoryQueue struct {
	items chan []byte
}

// NewMemoryQueue 创建内存队列。
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryQueue{items: make(chan []byte, capacity)}
}

// Publish 发布条目，队列满时返回 ErrQueueFull。
func (q *MemoryQueue) Publish(_ context.Context, payload []byte) error {
	select {
	case q.items <- payload:
		return nil
	default:
		return ErrQueueFull
	}
}

// Claim 认领一个条目，超时返回 (nil, nil)。
func (q *MemoryQueue) Claim(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case payload := <-q.items:
		return &Delivery{
			Payload: payload,
			ack:     func(context.Context) error { return nil },
		}, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Depth 返回待认领条目数。
func (q *MemoryQueue) Depth(_ context.Context) (int64, error) {
	return int64(len(q.items)), nil
}
