// Package workqueue serializes work onto a single worker goroutine.
//
// Every task, whether submitted for immediate execution, after a delay, or as a
// fixed-delay periodic job, ends up in the same FIFO and is executed by the same
// worker, so at most one task runs at any time.
package workqueue

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lowaak/train-control/internal/go_func_utils"
)

type entry struct {
	name   string
	fn     func()
	handle *Handle
}

// Queue is a FIFO work queue with exactly one consuming worker.
type Queue struct {
	mu      sync.Mutex
	pending []entry
	wake    chan struct{}
	closed  bool

	executed atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *log.Logger
}

// New creates a Queue and starts its worker.
func New(logger *log.Logger) *Queue {
	if logger == nil {
		panic("Queue: logger cannot be nil")
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
	go_func_utils.SafeGoWG(&q.wg, logger, q.run)
	return q
}

// Handle refers to a delayed or periodic submission and allows cancelling it.
// Cancelling does not wait for an execution that is already running.
type Handle struct {
	mu        sync.Mutex
	cancelled bool
	timer     *time.Timer
}

// Cancel prevents any further executions of the task.
func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancelled = true
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}

// Cancelled reports whether Cancel has been called.
func (h *Handle) Cancelled() bool {
	if h == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

// arm schedules fire after delay unless the handle was cancelled.
func (h *Handle) arm(delay time.Duration, fire func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled {
		return
	}
	h.timer = time.AfterFunc(delay, fire)
}

// Submit appends fn to the queue for execution as soon as the worker is free.
func (q *Queue) Submit(name string, fn func()) {
	q.push(entry{name: name, fn: fn})
}

// SubmitAfter appends fn to the queue once delay has elapsed.
func (q *Queue) SubmitAfter(name string, delay time.Duration, fn func()) *Handle {
	h := &Handle{}
	if delay <= 0 {
		q.push(entry{name: name, fn: fn, handle: h})
		return h
	}
	h.arm(delay, func() {
		q.push(entry{name: name, fn: fn, handle: h})
	})
	return h
}

// ScheduleWithFixedDelay runs fn right away and then again interval after each
// execution completes. A slow execution pushes every later one back.
func (q *Queue) ScheduleWithFixedDelay(name string, interval time.Duration, fn func()) *Handle {
	if interval <= 0 {
		panic("Queue: interval must be > 0")
	}
	h := &Handle{}
	var periodic func()
	periodic = func() {
		defer h.arm(interval, func() {
			q.push(entry{name: name, fn: periodic, handle: h})
		})
		fn()
	}
	q.push(entry{name: name, fn: periodic, handle: h})
	return h
}

// Executed returns the number of tasks the worker has run so far.
func (q *Queue) Executed() uint64 {
	return q.executed.Load()
}

// Len returns the number of tasks waiting for the worker.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Flush waits until every task submitted before the call has run, or until
// timeout. It reports whether the queue drained in time.
func (q *Queue) Flush(timeout time.Duration) bool {
	done := make(chan struct{})
	q.Submit("flush", func() { close(done) })
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Shutdown stops the worker after the task it is currently running, if any.
// Waiting tasks are dropped and later submissions are ignored.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	q.closed = true
	dropped := len(q.pending)
	q.pending = nil
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	q.logger.Printf("Queue: shut down (%d pending tasks dropped)", dropped)
}

func (q *Queue) push(e entry) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Printf("Queue: dropping %q, queue is shut down", e.name)
		return
	}
	q.pending = append(q.pending, e)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) pop() (entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return entry{}, false
	}
	e := q.pending[0]
	q.pending[0] = entry{}
	q.pending = q.pending[1:]
	return e, true
}

func (q *Queue) run() {
	defer q.logger.Printf("Queue: exiting worker loop")
	for {
		for {
			if q.ctx.Err() != nil {
				return
			}
			e, ok := q.pop()
			if !ok {
				break
			}
			q.execute(e)
		}
		select {
		case <-q.ctx.Done():
			return
		case <-q.wake:
		}
	}
}

func (q *Queue) execute(e entry) {
	if e.handle.Cancelled() {
		return
	}
	defer q.executed.Add(1)
	defer go_func_utils.Recover(q.logger, "queue task "+e.name)
	e.fn()
}
