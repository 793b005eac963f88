package queue

// QueueValidationInterface is a *type constraint* that ensures any type Q has
// these methods. We never store Q in a runtime interface,
// we only use QueueValidationInterface at compile time to ensure matching signatures.
//
// Enqueue may be called from any number of goroutines. Dequeue is called from
// one goroutine only: every queue in this module is single-consumer.
type QueueValidationInterface[T any] interface {
	// Enqueue adds an element to the queue and blocks if the queue is full.
	Enqueue(T)

	// Dequeue removes and returns the oldest element.
	// If the queue is empty it returns a zero T and false, otherwise true.
	Dequeue() (T, bool)

	// FreeSlots returns how many more elements can be enqueued before the queue is full.
	FreeSlots() uint64

	// UsedSlots returns how many elements are currently queued.
	UsedSlots() uint64
}

// TryQueue is a queue whose producers can observe backpressure instead of
// blocking.
type TryQueue[T any] interface {
	QueueValidationInterface[T]

	// TryEnqueue adds an element if there is room and reports whether it did.
	TryEnqueue(T) bool
}
