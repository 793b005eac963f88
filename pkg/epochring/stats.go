package epochring

// Stats is a point-in-time view of a ring. Fields are read independently, so
// under load they are only mutually consistent to within a few operations.
type Stats struct {
	Capacity uint64
	Head     uint64 // values popped so far
	Tail     uint64 // values published so far
	Epoch    uint64

	PushFull      uint64 // Push calls that returned ErrFull
	ClaimFailures uint64 // slots skipped because another lap or producer owned them
	ClaimWaits    uint64 // retries on a slot whose previous lap was still settling
	EpochAdvances uint64
	PopEmpty      uint64 // Pop calls that found nothing
}

// Used returns the number of published values not yet popped.
func (s Stats) Used() uint64 {
	if s.Head > s.Tail {
		return 0
	}
	return s.Tail - s.Head
}
