package epochring

import (
	"math/rand"
	"testing"

	"github.com/eapache/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsNonPowerOfTwo(t *testing.T) {
	for _, size := range []uint64{0, 3, 6, 12, 100, 1023} {
		assert.PanicsWithValue(t, "epochring: capacity must be power of 2 and > 0", func() {
			New[int](size)
		}, "size %d", size)
	}
}

func TestNewInitialState(t *testing.T) {
	for _, size := range []uint64{1, 2, 4, 64, 1 << 12} {
		p, c := New[int](size)

		assert.Equal(t, size, p.Cap())
		assert.Equal(t, size, c.Cap())
		assert.Zero(t, p.Len())
		assert.Equal(t, Stats{Capacity: size}, c.Stats())

		for i := range p.r.slots {
			require.Zero(t, p.r.slots[i].gen.Load(), "slot %d", i)
		}
		assert.Same(t, p.r, c.r)
	}
}

func TestCapacityFourScenario(t *testing.T) {
	p, c := New[int](4)

	for v := 1; v <= 4; v++ {
		require.NoError(t, p.Push(v))
	}

	err := p.Push(5)
	require.ErrorIs(t, err, ErrFull)
	rejected, ok := Rejected[int](err)
	require.True(t, ok)
	assert.Equal(t, 5, rejected)

	for want := 1; want <= 4; want++ {
		got, ok := c.Pop()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}

	_, ok = c.Pop()
	assert.False(t, ok)

	require.NoError(t, p.Push(5))
	got, ok := c.Pop()
	require.True(t, ok)
	assert.Equal(t, 5, got)
}

type reading struct {
	Sensor uint32
	Value  float64
	Flags  [4]byte
}

func TestBackpressureReturnsOriginalValue(t *testing.T) {
	const capacity = 8
	p, _ := New[reading](capacity)

	for i := 0; i < capacity; i++ {
		require.NoError(t, p.Push(reading{Sensor: uint32(i)}))
	}

	in := reading{Sensor: 99, Value: 3.25, Flags: [4]byte{1, 2, 3, 4}}
	err := p.Push(in)
	require.Error(t, err)

	var full *FullError[reading]
	require.ErrorAs(t, err, &full)
	assert.Equal(t, in, full.Value)
	assert.Equal(t, ErrFull.Error(), err.Error())

	_, ok := Rejected[int](err)
	assert.False(t, ok, "a FullError of another element type must not match")
	assert.Equal(t, uint64(1), p.Stats().PushFull)
}

func TestPartialDrainRefill(t *testing.T) {
	p, c := New[int](4)

	for v := 0; v < 4; v++ {
		require.NoError(t, p.Push(v))
	}
	for want := 0; want < 2; want++ {
		got, ok := c.Pop()
		require.True(t, ok)
		require.Equal(t, want, got)
	}

	// The next two land in the second lap before anyone hit a full ring.
	require.NoError(t, p.Push(4))
	require.NoError(t, p.Push(5))
	require.ErrorIs(t, p.Push(6), ErrFull)

	for want := 2; want < 6; want++ {
		got, ok := c.Pop()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	assert.Zero(t, c.Len())
	assert.GreaterOrEqual(t, c.Stats().EpochAdvances, uint64(1))
}

func TestCapacityOne(t *testing.T) {
	p, c := New[string](1)

	for lap := 0; lap < 50; lap++ {
		require.NoError(t, p.Push("v"), "lap %d", lap)
		require.ErrorIs(t, p.Push("overflow"), ErrFull, "lap %d", lap)

		got, ok := c.Pop()
		require.True(t, ok)
		require.Equal(t, "v", got)

		_, ok = c.Pop()
		require.False(t, ok)
	}
}

func TestWrapAroundManyLaps(t *testing.T) {
	const capacity = 8
	p, c := New[int](capacity)
	rng := rand.New(rand.NewSource(7))

	next, expect := 0, 0
	for round := 0; round < 2000; round++ {
		free := capacity - int(c.Len())
		n := rng.Intn(free + 1)
		for i := 0; i < n; i++ {
			require.NoError(t, p.Push(next), "round %d", round)
			next++
		}

		m := rng.Intn(int(c.Len()) + 1)
		for i := 0; i < m; i++ {
			got, ok := c.Pop()
			require.True(t, ok)
			require.Equal(t, expect, got, "round %d", round)
			expect++
		}
	}

	for {
		got, ok := c.Pop()
		if !ok {
			break
		}
		require.Equal(t, expect, got)
		expect++
	}
	assert.Equal(t, next, expect)

	st := c.Stats()
	assert.Equal(t, uint64(next), st.Tail)
	assert.Equal(t, uint64(next), st.Head)
}

// TestMatchesReferenceFIFO drives the ring and an unbounded reference queue
// with the same random operations. With a single goroutine Push must fail
// exactly when the reference holds capacity elements.
func TestMatchesReferenceFIFO(t *testing.T) {
	for _, capacity := range []uint64{1, 2, 4, 16} {
		p, c := New[int](capacity)
		model := queue.New()
		rng := rand.New(rand.NewSource(int64(capacity)))

		for op := 0; op < 20000; op++ {
			if rng.Intn(2) == 0 {
				err := p.Push(op)
				if uint64(model.Length()) < capacity {
					require.NoError(t, err, "cap %d op %d", capacity, op)
					model.Add(op)
				} else {
					require.ErrorIs(t, err, ErrFull, "cap %d op %d", capacity, op)
				}
				continue
			}

			got, ok := c.Pop()
			if model.Length() == 0 {
				require.False(t, ok, "cap %d op %d", capacity, op)
				continue
			}
			require.True(t, ok, "cap %d op %d", capacity, op)
			require.Equal(t, model.Remove().(int), got, "cap %d op %d", capacity, op)
			require.Equal(t, uint64(model.Length()), c.Len())
		}
	}
}

func TestForcedEpochAdvanceKeepsSequence(t *testing.T) {
	const capacity = 8
	p, c := New[int](capacity)

	var pushed, popped []int
	next := 0
	for round := 0; round < 200; round++ {
		// Push the shared epoch far ahead of the ring at an arbitrary point.
		p.r.epoch.Add(uint64(2 * (round%5 + 1)))

		for c.Len() < capacity {
			require.NoError(t, p.Push(next), "round %d", round)
			pushed = append(pushed, next)
			next++
		}
		require.ErrorIs(t, p.Push(-1), ErrFull)

		for i := 0; i < 1+round%capacity; i++ {
			v, ok := c.Pop()
			require.True(t, ok)
			popped = append(popped, v)
		}
	}
	for {
		v, ok := c.Pop()
		if !ok {
			break
		}
		popped = append(popped, v)
	}

	assert.Equal(t, pushed, popped)
}

func TestLaggingEpochRecovers(t *testing.T) {
	const capacity = 4
	p, c := New[int](capacity)

	for lap := 0; lap < 10; lap++ {
		for i := 0; i < capacity; i++ {
			require.NoError(t, p.Push(lap*capacity+i))
		}
		for i := 0; i < capacity; i++ {
			v, ok := c.Pop()
			require.True(t, ok)
			require.Equal(t, lap*capacity+i, v)
		}
	}

	// Pull the epoch back to zero: producers must walk it forward again.
	p.r.epoch.Store(0)
	for i := 0; i < capacity; i++ {
		require.NoError(t, p.Push(i))
	}
	for i := 0; i < capacity; i++ {
		v, ok := c.Pop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	assert.Equal(t, p.r.lapGen(p.r.tail.Load()-1), p.r.epoch.Load())
}

func TestFullNeedsTwoUnchangedChecks(t *testing.T) {
	const capacity = 4
	p, c := New[int](capacity)
	for i := 0; i < capacity; i++ {
		require.NoError(t, p.Push(i))
	}

	// The first full check advances the lagging epoch; only the second,
	// finding head, epoch and occupancy unchanged, reports Full.
	require.ErrorIs(t, p.Push(capacity), ErrFull)
	st := c.Stats()
	assert.Equal(t, uint64(1), st.EpochAdvances)
	assert.Equal(t, uint64(1), st.PushFull)

	// Already in step with the ring: no further advance.
	require.ErrorIs(t, p.Push(capacity), ErrFull)
	st = c.Stats()
	assert.Equal(t, uint64(1), st.EpochAdvances)
	assert.Equal(t, uint64(2), st.PushFull)
	assert.Equal(t, p.r.lapGen(capacity), st.Epoch)
}

func TestPopClearsSlot(t *testing.T) {
	p, c := New[*int](2)
	x := 42
	require.NoError(t, p.Push(&x))

	got, ok := c.Pop()
	require.True(t, ok)
	assert.Same(t, &x, got)
	assert.Nil(t, c.r.slots[0].value)
}

func TestInvariantViolationPanics(t *testing.T) {
	t.Run("consumer", func(t *testing.T) {
		_, c := New[int](4)
		c.r.tail.Store(5)

		assert.PanicsWithError(t, (&InvariantError{Head: 0, Tail: 5, Position: 5, Epoch: 0, Capacity: 4}).Error(), func() {
			c.Pop()
		})
	})

	t.Run("producer", func(t *testing.T) {
		p, _ := New[int](4)
		p.r.tail.Store(9)
		p.r.head.Store(2)

		defer func() {
			rec := recover()
			require.NotNil(t, rec)
			inv, ok := rec.(*InvariantError)
			require.True(t, ok, "panic value %T", rec)
			assert.Equal(t, uint64(2), inv.Head)
			assert.Equal(t, uint64(9), inv.Position)
			assert.Equal(t, uint64(4), inv.Capacity)
		}()
		_ = p.Push(1)
	})
}

func TestStatsUsed(t *testing.T) {
	assert.Equal(t, uint64(3), Stats{Head: 4, Tail: 7}.Used())
	assert.Zero(t, Stats{Head: 8, Tail: 7}.Used())
}
