package epochring

import (
	"context"
	"math/bits"
	"runtime"
)

// Queue pairs a Producer with the Consumer so a ring can be driven through
// the Enqueue/Dequeue shape the benchmark harness expects. Enqueue and its
// variants are safe from many goroutines; Dequeue keeps the single-consumer
// rule.
type Queue[T any] struct {
	producer *Producer[T]
	consumer *Consumer[T]
}

// NewQueue creates a ring with capacity rounded up to a power of two
// (minimum 1).
func NewQueue[T any](capacity uint64) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	if capacity > 1<<63 {
		panic("epochring: capacity too large")
	}
	capacity = 1 << bits.Len64(capacity-1)

	p, c := New[T](capacity)
	return &Queue[T]{producer: p, consumer: c}
}

// Producer returns a new producer handle for the underlying ring.
func (q *Queue[T]) Producer() *Producer[T] {
	return q.producer.Clone()
}

// Enqueue pushes v, spinning until the consumer makes room.
func (q *Queue[T]) Enqueue(v T) {
	for q.producer.Push(v) != nil {
		runtime.Gosched()
	}
}

// TryEnqueue pushes v once and reports whether it was accepted.
func (q *Queue[T]) TryEnqueue(v T) bool {
	return q.producer.Push(v) == nil
}

// EnqueueContext pushes v, retrying while the ring is full until ctx is done.
func (q *Queue[T]) EnqueueContext(ctx context.Context, v T) error {
	for {
		if err := q.producer.Push(v); err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			runtime.Gosched()
		}
	}
}

// Dequeue pops the oldest value. It must only be called from one goroutine at
// a time.
func (q *Queue[T]) Dequeue() (T, bool) {
	return q.consumer.Pop()
}

// FreeSlots returns an approximate count of slots available to producers.
func (q *Queue[T]) FreeSlots() uint64 {
	return q.consumer.Cap() - q.consumer.Len()
}

// UsedSlots returns an approximate count of values waiting to be popped.
func (q *Queue[T]) UsedSlots() uint64 {
	return q.consumer.Len()
}

// Stats returns the ring's statistics.
func (q *Queue[T]) Stats() Stats {
	return q.consumer.Stats()
}
