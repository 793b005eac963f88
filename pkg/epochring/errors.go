package epochring

import (
	"errors"
	"fmt"
)

// ErrFull is matched by every error Push returns when the ring is full.
var ErrFull = errors.New("epochring: ring is full")

// FullError hands a rejected value back to the caller untouched.
type FullError[T any] struct {
	Value T
}

func (e *FullError[T]) Error() string {
	return ErrFull.Error()
}

func (e *FullError[T]) Unwrap() error {
	return ErrFull
}

// Rejected returns the value carried by a *FullError[T] in err's chain.
func Rejected[T any](err error) (T, bool) {
	var full *FullError[T]
	if errors.As(err, &full) {
		return full.Value, true
	}
	var zero T
	return zero, false
}

// InvariantError is the panic value raised when a handle observes more
// published values than the ring has slots. It means the claim protocol is
// broken; it is never recovered internally.
type InvariantError struct {
	Head     uint64
	Tail     uint64
	Position uint64
	Epoch    uint64
	Capacity uint64
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("epochring: invariant violated: position %d is %d past head %d (tail %d, epoch %d, capacity %d)",
		e.Position, e.Position-e.Head, e.Head, e.Tail, e.Epoch, e.Capacity)
}
