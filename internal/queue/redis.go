package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue 基于 Redis list 的可靠队列。
//
// 两个列表：<name>:pending 存放待处理条目，<name>:processing 存放
// 已认领未确认的条目。Claim 用 BLMOVE 原子地把条目从 pending 移到
// processing；Ack 用 LREM 从 processing 删除。worker 崩溃后残留在
// processing 的条目由 Recover 重新搬回 pending。
type RedisQueue struct {
	client        *redis.Client
	pendingKey    string
	processingKey string
}

// NewRedisQueue 创建 Redis 队列。
func NewRedisQueue(client *redis.Client, name string) *RedisQueue {
	return &RedisQueue{
		client:        client,
		pendingKey:    fmt.Sprintf("mailrelay:queue:%s:pending", name),
		processingKey: fmt.Sprintf("mailrelay:queue:%s:processing", name),
	}
}

// NewRedisClient 创建并检测 Redis 连接。
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: 10,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Publish 发布条目到 pending 列表。
func (q *RedisQueue) Publish(ctx context.Context, payload []byte) error {
	if err := q.client.LPush(ctx, q.pendingKey, payload).Err(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Claim 认领一个条目。BLMOVE 保证认领的原子性：
// 两个 worker 永远不会拿到同一个物理条目。
func (q *RedisQueue) Claim(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	payload, err := q.client.BLMove(ctx, q.pendingKey, q.processingKey, "RIGHT", "LEFT", timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // 超时，队列为空
		}
		return nil, fmt.Errorf("claim: %w", err)
	}

	raw := []byte(payload)
	return &Delivery{
		Payload: raw,
		ack: func(ctx context.Context) error {
			return q.client.LRem(ctx, q.processingKey, 1, payload).Err()
		},
	}, nil
}

// Depth 返回 pending 列表长度。
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.pendingKey).Result()
}

// Recover 把 processing 列表中的残留条目搬回 pending。
// 在调度器启动时调用一次，重新投递崩溃 worker 留下的未确认条目。
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, q.processingKey, q.pendingKey, "RIGHT", "LEFT").Err()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return moved, nil
			}
			return moved, fmt.Errorf("recover: %w", err)
		}
		moved++
	}
}
