package seqmpsc

import (
	"math"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRoundsCapacity(t *testing.T) {
	for in, want := range map[uint64]uint64{0: 1, 1: 1, 3: 4, 8: 8, 9: 16} {
		q := New[int](in)
		assert.Equal(t, want, q.FreeSlots(), "capacity %d", in)
	}
}

func TestNewRejectsOversizedCapacity(t *testing.T) {
	for _, in := range []uint64{1<<63 + 1, math.MaxUint64} {
		assert.Panics(t, func() { New[int](in) }, "capacity %d", in)
	}
}

func TestFillDrainWrap(t *testing.T) {
	q := New[int](4)
	next, expect := 0, 0
	for round := 0; round < 50; round++ {
		for q.TryEnqueue(next) {
			next++
		}
		assert.Equal(t, uint64(4), q.UsedSlots())
		for i := 0; i < 1+round%4; i++ {
			v, ok := q.Dequeue()
			require.True(t, ok)
			require.Equal(t, expect, v)
			expect++
		}
	}
}

func TestDequeueClearsSlot(t *testing.T) {
	q := New[*int](2)
	x := 1
	q.Enqueue(&x)
	_, ok := q.Dequeue()
	require.True(t, ok)
	assert.Nil(t, q.buffer[0].value)

	_, ok = q.Dequeue()
	assert.False(t, ok)
}

func TestConcurrentProducers(t *testing.T) {
	const producers, perProducer = 8, 5000
	q := New[int](16)

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(p*perProducer + i)
			}
		}(p)
	}

	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}
	for n := 0; n < producers*perProducer; {
		v, ok := q.Dequeue()
		if !ok {
			runtime.Gosched()
			continue
		}
		p, i := v/perProducer, v%perProducer
		require.Equal(t, last[p]+1, i, "producer %d", p)
		last[p] = i
		n++
	}
	wg.Wait()
	assert.Zero(t, q.UsedSlots())
}
