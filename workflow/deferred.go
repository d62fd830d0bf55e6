package workflow

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DeferredQueue runs fire-and-forget persistence work on a background
// worker. Enqueue never blocks step resolution; Flush drains the queue for
// deterministic tests and for shutdown.
type DeferredQueue struct {
	logger *zap.Logger
	tasks  chan func(context.Context)

	mu      sync.Mutex
	pending sync.WaitGroup
	closed  bool
	done    chan struct{}

	onBacklog func(int)
}

// NewDeferredQueue starts the worker. capacity bounds the backlog; when the
// queue is full the task runs on its own goroutine instead of being dropped.
func NewDeferredQueue(capacity int, logger *zap.Logger) *DeferredQueue {
	if capacity <= 0 {
		capacity = 64
	}
	q := &DeferredQueue{
		logger: logger.With(zap.String("component", "deferred_queue")),
		tasks:  make(chan func(context.Context), capacity),
		done:   make(chan struct{}),
	}
	go q.worker()
	return q
}

// SetBacklogGauge registers a callback fed the backlog depth after every
// enqueue and dequeue. Not safe to call after tasks start.
func (q *DeferredQueue) SetBacklogGauge(fn func(int)) {
	q.onBacklog = fn
}

func (q *DeferredQueue) gauge() {
	if q.onBacklog != nil {
		q.onBacklog(len(q.tasks))
	}
}

func (q *DeferredQueue) worker() {
	defer close(q.done)
	for task := range q.tasks {
		q.run(task)
		q.gauge()
	}
}

func (q *DeferredQueue) run(task func(context.Context)) {
	defer q.pending.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("deferred task panicked", zap.Any("panic", r))
		}
	}()
	task(ctx)
}

// Enqueue schedules a task. After Close the task is dropped.
func (q *DeferredQueue) Enqueue(task func(context.Context)) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending.Add(1)
	var overflow bool
	select {
	case q.tasks <- task:
	default:
		overflow = true
	}
	q.mu.Unlock()
	q.gauge()

	if overflow {
		// Backlog full; the write still must not block the caller, so it
		// runs on its own goroutine rather than inline or being dropped.
		q.logger.Warn("deferred queue full, running task out of band")
		go q.run(task)
	}
}

// Flush blocks until every task enqueued so far has finished, or until ctx
// is done.
func (q *DeferredQueue) Flush(ctx context.Context) error {
	waited := make(chan struct{})
	go func() {
		q.pending.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks and waits for the worker to drain.
func (q *DeferredQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	<-q.done
}
