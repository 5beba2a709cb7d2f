// Package queue provides the unbounded FIFO used for both pipeline
// hand-offs: raw lines from the serial reader to the dispatcher, and
// frames from the dispatcher to the recorder.
package queue

import "sync"

// Queue is an unbounded FIFO. Push never blocks. The notify channel
// (capacity 1) wakes a consumer selecting on Notify alongside its other
// channels; consumers must still drain with Pop until it reports empty.
//
// Safe for concurrent use.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	head   int
	pushed uint64
	popped uint64
	notify chan struct{}
}

func New[T any]() *Queue[T] {
	return &Queue[T]{notify: make(chan struct{}, 1)}
}

// Push appends v and signals a waiting consumer.
func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.pushed++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop removes the oldest element.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.head == len(q.items) {
		return zero, false
	}
	v := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	q.popped++
	q.compact()
	return v, true
}

// Drain removes up to limit elements (all when limit <= 0), oldest first.
func (q *Queue[T]) Drain(limit int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items) - q.head
	if limit > 0 && n > limit {
		n = limit
	}
	if n == 0 {
		return nil
	}
	out := make([]T, n)
	copy(out, q.items[q.head:q.head+n])
	var zero T
	for i := q.head; i < q.head+n; i++ {
		q.items[i] = zero
	}
	q.head += n
	q.popped += uint64(n)
	q.compact()
	return out
}

// compact reclaims the consumed prefix once it dominates the slice.
func (q *Queue[T]) compact() {
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
		return
	}
	if q.head > 64 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}
}

// Clear discards everything queued and returns how many were dropped.
func (q *Queue[T]) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items) - q.head
	q.items = nil
	q.head = 0
	return n
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Notify fires at least once after any Push that follows a drain.
func (q *Queue[T]) Notify() <-chan struct{} { return q.notify }

// Stats returns lifetime push and pop counts.
func (q *Queue[T]) Stats() (pushed, popped uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pushed, q.popped
}
