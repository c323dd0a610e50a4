package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

var (
	ErrPoolClosed = errors.New("worker pool is closed")
)

// TaskResult 任务结果
type TaskResult struct {
	Data  interface{}
	Error error
}

// Config Worker Pool 配置
type Config struct {
	Workers   int // worker 数量
	QueueSize int // 队列缓冲区大小
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Workers:   16,
		QueueSize: 256,
	}
}

// Statistics 统计信息
type Statistics struct {
	Submitted int64 // 已提交
	Completed int64 // 已完成
	Failed    int64 // 失败
}

// Pool 基于 ants 的 worker pool，用于批量任务并发执行
type Pool struct {
	pool   *ants.Pool
	logger *zap.Logger
	config *Config

	submitted int64
	completed int64
	failed    int64

	closed atomic.Bool
}

// New 创建 worker pool
func New(cfg *Config, logger *zap.Logger) (*Pool, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Workers <= 0 {
		return nil, errors.New("workerpool: workers must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p, err := ants.NewPool(cfg.Workers,
		ants.WithMaxBlockingTasks(cfg.QueueSize),
		ants.WithPanicHandler(func(v interface{}) {
			logger.Error("worker panic recovered", zap.Any("panic", v))
		}),
	)
	if err != nil {
		return nil, err
	}

	return &Pool{
		pool:   p,
		logger: logger,
		config: cfg,
	}, nil
}

// Submit 提交任务，队列满时阻塞
func (p *Pool) Submit(task func()) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	atomic.AddInt64(&p.submitted, 1)
	err := p.pool.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&p.failed, 1)
				panic(r)
			}
			atomic.AddInt64(&p.completed, 1)
		}()
		task()
	})
	if err != nil {
		atomic.AddInt64(&p.failed, 1)
		return err
	}
	return nil
}

// SubmitWait 提交一批任务并等待全部结算，返回每个任务的结果（顺序与提交
// 顺序一致）。ctx 取消时已入队的任务短路为 ctx.Err()，但返回前仍会等
// 在途任务写完各自的结果槽。
func (p *Pool) SubmitWait(ctx context.Context, tasks []func() TaskResult) ([]TaskResult, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	results := make([]TaskResult, len(tasks))
	var wg sync.WaitGroup

	for i, task := range tasks {
		i, task := i, task
		wg.Add(1)
		err := p.Submit(func() {
			defer wg.Done()
			select {
			case <-ctx.Done():
				results[i] = TaskResult{Error: ctx.Err()}
				return
			default:
			}
			results[i] = task()
		})
		if err != nil {
			wg.Done()
			results[i] = TaskResult{Error: err}
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return results, nil
	case <-ctx.Done():
		// 取消后必须等 worker 把 results 写完再交还切片，否则调用方的
		// 读和 worker 的写构成数据竞争。任务对已取消的 ctx 会短路，
		// 这里不会久等。
		<-done
		return results, ctx.Err()
	}
}

// Stats 获取统计信息快照
func (p *Pool) Stats() Statistics {
	return Statistics{
		Submitted: atomic.LoadInt64(&p.submitted),
		Completed: atomic.LoadInt64(&p.completed),
		Failed:    atomic.LoadInt64(&p.failed),
	}
}

// Running 当前运行中的 worker 数
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Close 关闭 pool，等待运行中的任务结束
func (p *Pool) Close() {
	if p.closed.CompareAndSwap(false, true) {
		p.pool.Release()
	}
}
