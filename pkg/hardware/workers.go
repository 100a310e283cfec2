package hardware

import (
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
)

// WorkerPool 有界任务池，执行对话轮次与识别器重置等长任务，与定时任务分开
type WorkerPool struct {
	tasks  chan func()
	quit   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewWorkerPool 创建任务池
func NewWorkerPool(size, queueSize int, logger *zap.Logger) *WorkerPool {
	if size <= 0 {
		size = DefaultWorkerPoolSize
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if logger == nil {
		logger = zap.L()
	}
	p := &WorkerPool{
		tasks:  make(chan func(), queueSize),
		quit:   make(chan struct{}),
		logger: logger,
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		case task := <-p.tasks:
			p.run(task)
		}
	}
}

func (p *WorkerPool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("任务执行异常", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
		}
	}()
	task()
}

// Submit 提交任务，不阻塞；队列已满或已关闭时返回 false
func (p *WorkerPool) Submit(task func()) bool {
	select {
	case <-p.quit:
		return false
	default:
	}
	select {
	case p.tasks <- task:
		return true
	default:
		p.logger.Warn("任务队列已满，丢弃任务")
		return false
	}
}

// Shutdown 停止接收任务并等待工作协程退出，队列中未执行的任务被丢弃
func (p *WorkerPool) Shutdown() {
	p.once.Do(func() {
		close(p.quit)
	})
	p.wg.Wait()
}
