package admission

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrQueueFull is returned when a bounded enqueue finds no room.
	ErrQueueFull = errors.New("admission: queue full")

	// ErrQueueClosed is returned once Close has been called.
	ErrQueueClosed = errors.New("admission: queue closed")
)

// Queue is a bounded, thread-safe FIFO shared by many producers and at
// least one consumer.
//
// Waiting uses buffered (size 1) signal channels instead of sync.Cond so
// that every wait can also select on a context and a timer. Signals
// coalesce; whoever consumes one passes it on while work remains.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	closed   bool
	notEmpty chan struct{}
	notFull  chan struct{}
}

// NewQueue creates a queue holding at most capacity items.
// Panics if capacity < 1.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		panic("admission: queue capacity must be positive")
	}
	return &Queue[T]{
		items:    make([]T, 0, capacity),
		capacity: capacity,
		notEmpty: make(chan struct{}, 1),
		notFull:  make(chan struct{}, 1),
	}
}

// TryEnqueue adds item without blocking.
// Returns ErrQueueFull or ErrQueueClosed when it cannot.
func (q *Queue[T]) TryEnqueue(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if len(q.items) >= q.capacity {
		return ErrQueueFull
	}

	q.items = append(q.items, item)
	signal(q.notEmpty)
	if len(q.items) < q.capacity {
		signal(q.notFull)
	}
	return nil
}

// EnqueueWait adds item, waiting up to timeout for room.
// Returns ErrQueueFull when the timeout elapses, ctx.Err() on cancellation.
func (q *Queue[T]) EnqueueWait(ctx context.Context, item T, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		err := q.TryEnqueue(item)
		if !errors.Is(err, ErrQueueFull) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return ErrQueueFull
		case <-q.notFull:
		}
	}
}

// TryDequeue removes the front item without blocking.
// Returns false if the queue is empty.
func (q *Queue[T]) TryDequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}

	item := q.items[0]
	// Clear the slot so the backing array does not pin the item.
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = make([]T, 0, q.capacity)
	}

	if !q.closed {
		signal(q.notFull)
		if len(q.items) > 0 {
			signal(q.notEmpty)
		}
	}
	return item, true
}

// Dequeue removes the front item, blocking until one is available.
// Items enqueued before Close are still delivered; after that it returns
// ErrQueueClosed.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	for {
		if item, ok := q.TryDequeue(); ok {
			return item, nil
		}

		q.mu.Lock()
		closed := q.closed && len(q.items) == 0
		q.mu.Unlock()
		if closed {
			var zero T
			return zero, ErrQueueClosed
		}

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-q.notEmpty:
		}
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int {
	return q.capacity
}

// Free returns how many items can be enqueued right now.
func (q *Queue[T]) Free() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.capacity - len(q.items)
}

// Close rejects further enqueues and wakes every waiter.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.notEmpty)
	close(q.notFull)
}

// signal performs a non-blocking send; the size-1 buffer coalesces.
// Callers hold q.mu and have checked q.closed.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
