package engine

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/roach88/apsync/internal/metrics"
)

// Task is a unit of work run on the consumer goroutine.
type Task struct {
	Name string
	Fn   func() error
}

// TaskQueue hands work from the network goroutine to the consumer goroutine.
//
// Enqueue may be called from any goroutine. Drain must be called from the
// single consumer goroutine; tasks run there in FIFO order, outside the lock.
//
// The queue uses a channel for signaling so a consumer that has nothing else
// to do can block in a select instead of spinning.
type TaskQueue struct {
	mu     sync.Mutex
	tasks  []Task
	closed bool
	signal chan struct{} // Signals task availability (buffered, size 1)

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewTaskQueue creates an empty queue.
func NewTaskQueue(logger *slog.Logger, m *metrics.Metrics) *TaskQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskQueue{
		tasks:   make([]Task, 0, 16),
		signal:  make(chan struct{}, 1),
		logger:  logger.With("component", "task_queue"),
		metrics: m,
	}
}

// Enqueue adds a task to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *TaskQueue) Enqueue(name string, fn func() error) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.tasks = append(q.tasks, Task{Name: name, Fn: fn})

	// Non-blocking: the buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// Drain runs every task queued so far and returns how many ran.
//
// The pending slice is swapped out under the lock, so tasks enqueued while
// draining wait for the next Drain. A task that returns an error or panics
// is logged and does not stop the tasks after it.
func (q *TaskQueue) Drain() int {
	q.mu.Lock()
	batch := q.tasks
	q.tasks = make([]Task, 0, cap(batch))
	q.mu.Unlock()

	for i := range batch {
		if err := q.run(batch[i]); err != nil {
			q.logger.Error("task failed", "task", batch[i].Name, "error", err)
			q.metrics.TaskFailed()
		}
		// Release the closure for GC.
		batch[i] = Task{}
	}
	q.metrics.TasksDrained(len(batch))
	return len(batch)
}

func (q *TaskQueue) run(t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return t.Fn()
}

// Wait returns a channel that signals when tasks may be available.
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-q.Wait():
//	    q.Drain()
//	}
func (q *TaskQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued tasks.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Close rejects further enqueues and wakes any waiter.
// Tasks already queued can still be drained.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
