package epochring

// Consumer dequeues from a ring. There is exactly one per ring and it must not
// be used from more than one goroutine at a time.
type Consumer[T any] struct {
	_ noCopy
	r *ring[T]
}

// Pop removes and returns the oldest published value. It returns false when
// nothing is published; it never waits.
func (c *Consumer[T]) Pop() (T, bool) {
	r := c.r
	var zero T

	head := r.head.Load()
	tail := r.tail.Load()
	if tail-head > r.capacity {
		panic(&InvariantError{
			Head:     head,
			Tail:     tail,
			Position: tail,
			Epoch:    r.epoch.Load(),
			Capacity: r.capacity,
		})
	}

	if head == tail {
		r.stats.popEmpty.Add(1)
		return zero, false
	}

	// tail was published after this slot was written.
	s := &r.slots[head&r.mask]
	v := s.value
	s.value = zero

	r.head.Store(head + 1)
	return v, true
}

// Cap returns the number of slots in the ring.
func (c *Consumer[T]) Cap() uint64 {
	return c.r.capacity
}

// Len returns the number of published values not yet popped.
func (c *Consumer[T]) Len() uint64 {
	return c.r.used()
}

// Stats returns a snapshot of the ring's cursors and counters.
func (c *Consumer[T]) Stats() Stats {
	return c.r.snapshotStats()
}

// noCopy lets go vet's copylocks check flag a copied Consumer.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
