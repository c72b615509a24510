// Package queue 提供调度管道使用的持久化消息队列。
// 语义为至少一次投递：条目被认领后进入 processing 区，
// 只有显式 Ack 才会真正移除；worker 崩溃后条目可被重新投递。
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrQueueFull 队列已满（仅内存实现会返回）。
var ErrQueueFull = errors.New("queue full")

// Delivery 一次被认领的队列条目。
// 无论处理成功还是失败，每个条目必须且只能被 Ack 一次；
// 未被 Ack 的条目会被队列重新投递。
type Delivery struct {
	Payload []byte
	ack     func(ctx context.Context) error
	acked   bool
}

// Ack 确认条目处理完成。重复调用是无操作。
func (d *Delivery) Ack(ctx context.Context) error {
	if d.acked || d.ack == nil {
		return nil
	}
	d.acked = true
	return d.ack(ctx)
}

// Queue 消息队列接口
type Queue interface {
	// Publish 发布一个条目
	Publish(ctx context.Context, payload []byte) error

	// Claim 认领一个条目。队列为空时最多阻塞 timeout，
	// 超时返回 (nil, nil)。同一物理条目同时最多被一个
	// worker 认领（队列本身串行化认领操作）。
	Claim(ctx context.Context, timeout time.Duration) (*Delivery, error)

	// Depth 返回等待认领的条目数
	Depth(ctx context.Context) (int64, error)
}
