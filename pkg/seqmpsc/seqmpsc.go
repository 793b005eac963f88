package seqmpsc

import (
	"math/bits"
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// seqCell is one slot of the ring. sequence == 2*pos means the slot is free
// for the write at pos; sequence == 2*pos+1 means the value for pos is
// published. Doubling keeps the two states apart even with a single slot.
type seqCell[T any] struct {
	sequence atomic.Uint64
	value    T
}

// SeqMPSCQueue is a bounded, lock-free multi-producer/single-consumer queue
// that keeps one sequence number per slot instead of a shared epoch.
type SeqMPSCQueue[T any] struct {
	_          cpu.CacheLinePad
	enqueuePos atomic.Uint64 // next position producers reserve
	_          cpu.CacheLinePad
	dequeuePos uint64 // next position to read, consumer only
	_          cpu.CacheLinePad
	buffer     []seqCell[T]
	mask       uint64
	capacity   uint64
}

// New creates a SeqMPSCQueue with the given capacity (rounded up to a power of 2).
func New[T any](capacity uint64) *SeqMPSCQueue[T] {
	if capacity < 1 {
		capacity = 1
	}
	if capacity > 1<<63 {
		panic("seqmpsc: capacity too large")
	}
	capacity = 1 << bits.Len64(capacity-1)
	q := &SeqMPSCQueue[T]{
		buffer:   make([]seqCell[T], capacity),
		mask:     capacity - 1,
		capacity: capacity,
	}
	for i := uint64(0); i < capacity; i++ {
		q.buffer[i].sequence.Store(2 * i)
	}
	return q
}

// TryEnqueue reserves a slot and publishes val. It returns false if the
// consumer has not yet freed the slot a full lap back.
func (q *SeqMPSCQueue[T]) TryEnqueue(val T) bool {
	for {
		pos := q.enqueuePos.Load()
		cell := &q.buffer[pos&q.mask]
		diff := int64(cell.sequence.Load()) - int64(2*pos)

		switch {
		case diff == 0:
			if q.enqueuePos.CompareAndSwap(pos, pos+1) {
				cell.value = val
				cell.sequence.Store(2*pos + 1)
				return true
			}
		case diff < 0:
			return false
		default:
			// Another producer already took pos; reload.
			runtime.Gosched()
		}
	}
}

// Enqueue adds a value, spinning until a slot is available.
func (q *SeqMPSCQueue[T]) Enqueue(val T) {
	for !q.TryEnqueue(val) {
		runtime.Gosched()
	}
}

// Dequeue removes and returns the oldest value. It must only be called from a
// single goroutine. A reserved but unpublished slot reads as empty.
func (q *SeqMPSCQueue[T]) Dequeue() (T, bool) {
	var zero T
	pos := q.dequeuePos
	cell := &q.buffer[pos&q.mask]
	if cell.sequence.Load() != 2*pos+1 {
		return zero, false
	}

	val := cell.value
	cell.value = zero
	cell.sequence.Store(2 * (pos + q.capacity))
	atomic.StoreUint64(&q.dequeuePos, pos+1)
	return val, true
}

// FreeSlots returns how many slots are free.
func (q *SeqMPSCQueue[T]) FreeSlots() uint64 {
	return q.capacity - q.UsedSlots()
}

// UsedSlots returns an approximate count of reserved or published slots.
func (q *SeqMPSCQueue[T]) UsedSlots() uint64 {
	deq := atomic.LoadUint64(&q.dequeuePos)
	enq := q.enqueuePos.Load()
	if enq < deq {
		return 0
	}
	if used := enq - deq; used < q.capacity {
		return used
	}
	return q.capacity
}
