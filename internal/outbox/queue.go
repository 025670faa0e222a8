package outbox

import (
	"errors"
	"sync/atomic"
)

var ErrQueueFull = errors.New("queue full")

// Queue is a bounded FIFO shared between goroutines. Neither side ever blocks:
// a push onto a full queue is dropped and counted.
type Queue[T any] struct {
	ch    chan T
	drops atomic.Uint64
}

func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{ch: make(chan T, capacity)}
}

// TryPush enqueues v, or returns ErrQueueFull and counts one drop.
func (q *Queue[T]) TryPush(v T) error {
	select {
	case q.ch <- v:
		return nil
	default:
		q.drops.Add(1)
		return ErrQueueFull
	}
}

// TryPop returns the oldest item without waiting.
func (q *Queue[T]) TryPop() (T, bool) {
	select {
	case v := <-q.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

func (q *Queue[T]) Len() int {
	return len(q.ch)
}

func (q *Queue[T]) Cap() int {
	return cap(q.ch)
}

func (q *Queue[T]) Drops() uint64 {
	return q.drops.Load()
}
