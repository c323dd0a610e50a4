package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolSubmit(t *testing.T) {
	p, err := New(&Config{Workers: 4, QueueSize: 16}, nil)
	require.NoError(t, err)
	defer p.Close()

	var counter int64
	for i := 0; i < 20; i++ {
		err := p.Submit(func() {
			atomic.AddInt64(&counter, 1)
		})
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&counter) == 20
	}, 2*time.Second, 10*time.Millisecond)

	stats := p.Stats()
	assert.Equal(t, int64(20), stats.Submitted)
}

func TestPoolSubmitWait(t *testing.T) {
	p, err := New(&Config{Workers: 4, QueueSize: 16}, nil)
	require.NoError(t, err)
	defer p.Close()

	boom := errors.New("boom")
	tasks := []func() TaskResult{
		func() TaskResult { return TaskResult{Data: 1} },
		func() TaskResult { return TaskResult{Error: boom} },
		func() TaskResult { return TaskResult{Data: 3} },
	}

	results, err := p.SubmitWait(context.Background(), tasks)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 1, results[0].Data)
	assert.ErrorIs(t, results[1].Error, boom)
	assert.Equal(t, 3, results[2].Data)
}

func TestPoolSubmitWaitCancelDrains(t *testing.T) {
	p, err := New(&Config{Workers: 2, QueueSize: 16}, nil)
	require.NoError(t, err)
	defer p.Close()

	var started, finished int64
	tasks := make([]func() TaskResult, 6)
	for i := range tasks {
		i := i
		tasks[i] = func() TaskResult {
			atomic.AddInt64(&started, 1)
			time.Sleep(50 * time.Millisecond)
			atomic.AddInt64(&finished, 1)
			return TaskResult{Data: i}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	results, err := p.SubmitWait(ctx, tasks)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// 返回时不能再有任务在写 results：已启动的必须全部写完
	assert.Equal(t, atomic.LoadInt64(&started), atomic.LoadInt64(&finished))

	// 每个结果槽都已结算：要么任务跑完，要么被取消短路
	require.Len(t, results, len(tasks))
	for i, r := range results {
		if r.Error != nil {
			assert.ErrorIs(t, r.Error, context.DeadlineExceeded)
		} else {
			assert.Equal(t, i, r.Data)
		}
	}
}

func TestPoolClosed(t *testing.T) {
	p, err := New(nil, nil)
	require.NoError(t, err)
	p.Close()

	err = p.Submit(func() {})
	assert.ErrorIs(t, err, ErrPoolClosed)

	_, err = p.SubmitWait(context.Background(), nil)
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestNewValidation(t *testing.T) {
	_, err := New(&Config{Workers: 0}, nil)
	assert.Error(t, err)
}
