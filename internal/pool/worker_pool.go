// Package pool 提供调度器使用的固定大小发送协程池。
package pool

import (
	"sync"

	"go.uber.org/zap"
)

// WorkerPool 固定大小的任务协程池。
//
// 与通用协程池不同，这里的停机语义是排空而不是丢弃：
// Stop 关闭队列后 worker 会把已提交的任务全部执行完再退出。
// 调度器的每个任务都持有一个待确认的队列认领，
// 中途丢弃任务会留下未确认的认领。
type WorkerPool struct {
	workers int
	tasks   chan func()
	wg      sync.WaitGroup
	log     *zap.Logger
}

// NewWorkerPool 创建协程池。
//
// 参数:
//   - workers: worker 协程数
//   - queueSize: 任务队列大小（Submit 在队列满时阻塞）
func NewWorkerPool(workers, queueSize int, log *zap.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &WorkerPool{
		workers: workers,
		tasks:   make(chan func(), queueSize),
		log:     log,
	}
}

// Start 启动全部 worker。
func (p *WorkerPool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Submit 提交任务。队列已满时阻塞，形成对生产侧的天然背压。
func (p *WorkerPool) Submit(task func()) {
	p.tasks <- task
}

// Stop 关闭队列并等待所有已提交任务执行完毕。
// Stop 之后再调用 Submit 会 panic，调用方负责时序。
func (p *WorkerPool) Stop() {
	close(p.tasks)
	p.wg.Wait()
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(task)
	}
}

// run 执行单个任务，panic 只打掉当前任务而不是整个 worker。
func (p *WorkerPool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("worker task panicked", zap.Any("panic", r))
		}
	}()
	task()
}
