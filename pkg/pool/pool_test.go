package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_ExecutesTasks(t *testing.T) {
	p := NewWorkerPool(4, 16)
	p.Start(context.Background())

	var counter int64
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(func(ctx context.Context) {
			atomic.AddInt64(&counter, 1)
		}))
	}
	p.Stop()

	assert.Equal(t, int64(10), atomic.LoadInt64(&counter))
}

func TestWorkerPool_QueueFull(t *testing.T) {
	p := NewWorkerPool(1, 1)
	// Воркеры не запущены, очередь не разгружается

	require.NoError(t, p.Submit(func(ctx context.Context) {}))

	err := p.Submit(func(ctx context.Context) {})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestWorkerPool_SubmitAfterStop(t *testing.T) {
	p := NewWorkerPool(1, 4)
	p.Start(context.Background())
	p.Stop()

	err := p.Submit(func(ctx context.Context) {})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestWorkerPool_StopDrainsQueue(t *testing.T) {
	p := NewWorkerPool(2, 32)
	p.Start(context.Background())

	var counter int64
	for i := 0; i < 20; i++ {
		require.NoError(t, p.Submit(func(ctx context.Context) {
			time.Sleep(time.Millisecond)
			atomic.AddInt64(&counter, 1)
		}))
	}
	p.Stop()

	assert.Equal(t, int64(20), atomic.LoadInt64(&counter))
}

func TestWorkerPool_StopIdempotent(t *testing.T) {
	p := NewWorkerPool(1, 1)
	p.Start(context.Background())
	p.Stop()
	p.Stop()
}
