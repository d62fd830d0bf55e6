package workflow

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDeferredQueueFlushWaitsForTasks(t *testing.T) {
	q := NewDeferredQueue(8, zap.NewNop())
	defer q.Close()

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		q.Enqueue(func(context.Context) {
			time.Sleep(5 * time.Millisecond)
			ran.Add(1)
		})
	}

	require.NoError(t, q.Flush(context.Background()))
	assert.Equal(t, int32(5), ran.Load())
}

func TestDeferredQueueFlushHonorsContext(t *testing.T) {
	q := NewDeferredQueue(8, zap.NewNop())
	defer q.Close()

	release := make(chan struct{})
	q.Enqueue(func(context.Context) { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Flush(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

func TestDeferredQueueOverflowNeverBlocksCaller(t *testing.T) {
	q := NewDeferredQueue(1, zap.NewNop())
	defer q.Close()

	block := make(chan struct{})
	q.Enqueue(func(context.Context) { <-block })
	q.Enqueue(func(context.Context) {}) // fills the backlog

	// The overflow task itself blocks; Enqueue must return anyway.
	gate := make(chan struct{})
	var overflowRan atomic.Bool
	done := make(chan struct{})
	go func() {
		q.Enqueue(func(context.Context) {
			<-gate
			overflowRan.Store(true)
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked on a full backlog")
	}

	close(gate)
	close(block)
	require.NoError(t, q.Flush(context.Background()))
	assert.True(t, overflowRan.Load())
}

func TestDeferredQueueBacklogGauge(t *testing.T) {
	q := NewDeferredQueue(8, zap.NewNop())
	defer q.Close()

	var seen atomic.Int32
	var last atomic.Int32
	q.SetBacklogGauge(func(n int) {
		seen.Add(1)
		last.Store(int32(n))
	})

	q.Enqueue(func(context.Context) {})
	require.NoError(t, q.Flush(context.Background()))

	// The dequeue-side reading lands shortly after the task finishes.
	assert.Eventually(t, func() bool {
		return seen.Load() >= 2 && last.Load() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestDeferredQueueDropsAfterClose(t *testing.T) {
	q := NewDeferredQueue(8, zap.NewNop())
	q.Close()

	var ran atomic.Bool
	q.Enqueue(func(context.Context) { ran.Store(true) })
	assert.False(t, ran.Load())
}

func TestDeferredQueueRecoversPanic(t *testing.T) {
	q := NewDeferredQueue(8, zap.NewNop())
	defer q.Close()

	q.Enqueue(func(context.Context) { panic("boom") })
	var ran atomic.Bool
	q.Enqueue(func(context.Context) { ran.Store(true) })

	require.NoError(t, q.Flush(context.Background()))
	assert.True(t, ran.Load())
}
