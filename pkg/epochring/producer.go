package epochring

import "runtime"

// Producer enqueues into a ring. Any number of producers, including clones
// of the same one, may push concurrently.
type Producer[T any] struct {
	r *ring[T]
}

// Clone returns another producer for the same ring.
func (p *Producer[T]) Clone() *Producer[T] {
	return &Producer[T]{r: p.r}
}

// Push claims a slot, writes v into it and publishes it to the consumer.
//
// It returns nil on success. It returns a *FullError holding v unchanged only
// when a second look at a full ring finds that the consumer has drained
// nothing and no producer has moved the epoch since the first; retrying,
// dropping or backing off is up to the caller.
//
// Push never takes a lock. It yields the processor while it races other
// producers for a slot and while it waits for earlier claims to publish.
func (p *Producer[T]) Push(v T) error {
	r := p.r

	epoch, seen, tail, head := r.snapshot()
	pos := tail
	sawWriting := false
	checked := false

	for {
		used := pos - head
		if used > r.capacity {
			panic(&InvariantError{
				Head:     head,
				Tail:     tail,
				Position: pos,
				Epoch:    epoch,
				Capacity: r.capacity,
			})
		}

		if used == r.capacity {
			// No slot in this window was mid-write, so nobody is about to
			// publish into it and a lagging epoch is what keeps us out.
			advanced := !sawWriting && r.advanceEpoch(epoch)

			h := r.head.Load()
			if checked && !advanced && h == head && r.epoch.Load() == seen &&
				r.tail.Load()-h >= r.capacity {
				r.stats.pushFull.Add(1)
				return &FullError[T]{Value: v}
			}

			checked = true
			epoch, seen, tail, head = r.snapshot()
			pos = tail
			sawWriting = false
			runtime.Gosched()
			continue
		}

		s := &r.slots[pos&r.mask]
		if s.gen.CompareAndSwap(epoch, epoch+1) {
			break
		}

		gen := s.gen.Load()
		if gen == epoch || gen+1 == epoch {
			// The previous lap's writer has published but not yet settled
			// the flag. Skipping would leave a hole below our own claim.
			r.stats.claimWaits.Add(1)
			runtime.Gosched()
			continue
		}

		if gen&1 == 1 {
			sawWriting = true
		}
		r.stats.claimFailures.Add(1)
		pos++
		runtime.Gosched()
	}

	s := &r.slots[pos&r.mask]
	s.value = v

	// Positions below ours were claimed before us; their owners publish
	// first.
	for !r.tail.CompareAndSwap(pos, pos+1) {
		runtime.Gosched()
	}

	s.gen.Add(1)
	return nil
}

// Cap returns the number of slots in the ring.
func (p *Producer[T]) Cap() uint64 {
	return p.r.capacity
}

// Len returns the approximate number of values waiting for the consumer.
func (p *Producer[T]) Len() uint64 {
	return p.r.used()
}

// Stats returns a snapshot of the ring's cursors and counters.
func (p *Producer[T]) Stats() Stats {
	return p.r.snapshotStats()
}
