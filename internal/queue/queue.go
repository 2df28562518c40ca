// Package queue provides the in-memory pending queue shared by producers and a
// single consumer worker.
package queue

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO. Push and PushFront never block; TakeAll blocks
// until at least one item is pending and then removes everything at once.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
	// wake holds at most one token; it is signalled whenever items go from
	// empty to non-empty so a sleeping consumer re-checks.
	wake chan struct{}
}

func New[T any]() *Queue[T] {
	return &Queue[T]{wake: make(chan struct{}, 1)}
}

// Push appends items to the back of the queue.
func (q *Queue[T]) Push(items ...T) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, items...)
	q.mu.Unlock()
	q.signal()
}

// PushFront puts items ahead of everything already pending, keeping their order.
func (q *Queue[T]) PushFront(items ...T) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	merged := make([]T, 0, len(items)+len(q.items))
	merged = append(merged, items...)
	q.items = append(merged, q.items...)
	q.mu.Unlock()
	q.signal()
}

// TakeAll waits until the queue is non-empty and atomically takes every
// pending item. It returns ctx.Err() if ctx is done first.
func (q *Queue[T]) TakeAll(ctx context.Context) ([]T, error) {
	for {
		if items := q.Drain(); len(items) > 0 {
			return items, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.wake:
		}
	}
}

// Drain takes every pending item without waiting. It may return nil.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// Len is the number of pending items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue[T]) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
