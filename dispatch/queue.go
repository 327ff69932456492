package dispatch

import (
	"sync/atomic"
	"time"
)

const DefaultCapacity = 8

// Queue is a bounded FIFO between capture goroutines and the transcription
// worker. Producers wait a bounded time for space and drop on timeout.
type Queue[T any] struct {
	ch      chan T
	dropped atomic.Uint64
	total   atomic.Uint64
}

func New[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue[T]{ch: make(chan T, capacity)}
}

// Enqueue reports whether item was accepted. A full queue that stays full for
// timeout drops item and counts it.
func (q *Queue[T]) Enqueue(item T, timeout time.Duration) bool {
	q.total.Add(1)
	select {
	case q.ch <- item:
		return true
	default:
	}
	if timeout <= 0 {
		q.dropped.Add(1)
		return false
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case q.ch <- item:
		return true
	case <-timer.C:
		q.dropped.Add(1)
		return false
	}
}

func (q *Queue[T]) TryDequeue() (T, bool) {
	select {
	case item := <-q.ch:
		return item, true
	default:
		var zero T
		return zero, false
	}
}

// Drain returns everything currently queued in arrival order without blocking.
func (q *Queue[T]) Drain() []T {
	var out []T
	for {
		item, ok := q.TryDequeue()
		if !ok {
			return out
		}
		out = append(out, item)
	}
}

func (q *Queue[T]) Len() int { return len(q.ch) }
func (q *Queue[T]) Cap() int { return cap(q.ch) }

func (q *Queue[T]) Dropped() uint64 { return q.dropped.Load() }

// Offered counts every Enqueue call, accepted or not.
func (q *Queue[T]) Offered() uint64 { return q.total.Load() }
