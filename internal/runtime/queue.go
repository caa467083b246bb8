package runtime

import "context"

// Queue is a bounded FIFO channel wrapper used for the per-user message and
// output queues. Put blocks while the queue is full and Get blocks while it
// is empty; both honor context cancellation. Safe for concurrent use.
type Queue[T any] struct {
	ch chan T
}

// NewQueue returns a queue holding at most capacity items. A non-positive
// capacity is treated as 1.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{ch: make(chan T, capacity)}
}

// Put appends v, blocking while the queue is full. Returns the context error
// if ctx is done first.
func (q *Queue[T]) Put(ctx context.Context, v T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get removes and returns the oldest item, blocking while the queue is empty.
// Returns the context error if ctx is done first.
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}
	select {
	case v := <-q.ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// TryGet removes and returns the oldest item without blocking. The second
// return is false when the queue is empty.
func (q *Queue[T]) TryGet() (T, bool) {
	select {
	case v := <-q.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int { return len(q.ch) }
