// Package epochring implements a bounded, lock-free, multi-producer /
// single-consumer ring buffer.
//
// Producers claim a slot by moving its generation flag from the epoch they
// observed to epoch+1, write the value, and publish it by advancing the shared
// tail in claim order. The consumer reads every position below tail without
// looking at the flags.
package epochring

import (
	"math/bits"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// slot is one cell of the ring.
//
// value may only be written by the producer holding the claim for the current
// lap (gen is odd and equals that producer's epoch+1), and may only be read by
// the consumer once tail has moved past the slot's position. Nothing in the
// type enforces this; the claim protocol does.
type slot[T any] struct {
	gen   atomic.Uint64 // even: settled, odd: write in progress
	value T
}

// counters are diagnostic only and never take part in the protocol.
type counters struct {
	pushFull      atomic.Uint64
	claimFailures atomic.Uint64
	claimWaits    atomic.Uint64
	epochAdvances atomic.Uint64
	popEmpty      atomic.Uint64
}

// ring is the storage shared by every Producer and the Consumer. It lives as
// long as any handle references it.
type ring[T any] struct {
	_     cpu.CacheLinePad
	head  atomic.Uint64 // next position to read, written by the consumer only
	_     cpu.CacheLinePad
	tail  atomic.Uint64 // next position to publish, one CAS winner per position
	_     cpu.CacheLinePad
	epoch atomic.Uint64 // generation producers expect on the slots they claim
	_     cpu.CacheLinePad

	slots    []slot[T]
	mask     uint64
	capacity uint64
	lapShift uint

	_     cpu.CacheLinePad
	stats counters
}

// New allocates a ring of size slots and returns its first Producer and its
// only Consumer. size must be a power of two; anything else is a programming
// error and panics.
func New[T any](size uint64) (*Producer[T], *Consumer[T]) {
	if size == 0 || size&(size-1) != 0 {
		panic("epochring: capacity must be power of 2 and > 0")
	}

	r := &ring[T]{
		slots:    make([]slot[T], size),
		mask:     size - 1,
		capacity: size,
		lapShift: uint(bits.TrailingZeros64(size)),
	}

	return &Producer[T]{r: r}, &Consumer[T]{r: r}
}

// lapGen is the settled generation a slot carries while it waits for the
// write at pos: two steps (claim, settle) per completed lap.
func (r *ring[T]) lapGen(pos uint64) uint64 {
	return (pos >> r.lapShift) << 1
}

// snapshot reads the shared state a producer works from.
//
// tail is clamped to head because head is read last and may already be past
// the tail that was read. The epoch is clamped to the lap of tail so that an
// epoch pushed ahead of the ring can never match a slot of a later lap; seen
// is the unclamped value, for detecting that another producer moved it.
func (r *ring[T]) snapshot() (epoch, seen, tail, head uint64) {
	seen = r.epoch.Load()
	tail = r.tail.Load()
	head = r.head.Load()

	if head > tail {
		tail = head
	}
	epoch = seen
	if g := r.lapGen(tail); epoch > g {
		epoch = g
	}
	return epoch, seen, tail, head
}

// advanceEpoch moves the shared epoch one lap forward from observed, but only
// while observed is behind the lap the published tail has reached. A failed
// CAS means another producer already did it.
func (r *ring[T]) advanceEpoch(observed uint64) bool {
	if observed >= r.lapGen(r.tail.Load()) {
		return false
	}
	if r.epoch.CompareAndSwap(observed, observed+2) {
		r.stats.epochAdvances.Add(1)
		return true
	}
	return false
}

// used returns the number of published, unread values. It is approximate
// while producers or the consumer are active.
func (r *ring[T]) used() uint64 {
	tail := r.tail.Load()
	head := r.head.Load()
	if head > tail {
		return 0
	}
	if n := tail - head; n < r.capacity {
		return n
	}
	return r.capacity
}

func (r *ring[T]) snapshotStats() Stats {
	return Stats{
		Capacity:      r.capacity,
		Head:          r.head.Load(),
		Tail:          r.tail.Load(),
		Epoch:         r.epoch.Load(),
		PushFull:      r.stats.pushFull.Load(),
		ClaimFailures: r.stats.claimFailures.Load(),
		ClaimWaits:    r.stats.claimWaits.Load(),
		EpochAdvances: r.stats.epochAdvances.Load(),
		PopEmpty:      r.stats.popEmpty.Load(),
	}
}
