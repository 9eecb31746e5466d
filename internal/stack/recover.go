package stack

import "fmt"

// Recovery reports what Recover found.
type Recovery struct {
	// Interrupted is true when the previous lock holder died mid-update.
	Interrupted bool
	// CountBefore and CountAfter are the stack handle counts before and after
	// repair. They differ only when the interrupted writer had updated top but
	// not count.
	CountBefore, CountAfter int
}

// Recover repairs the stack handle after a writer died while holding the
// lock. It is a no-op unless the region's update flag is set. Because nodes
// are fully written before they are published and unlinked before they are
// freed, the chain itself is always intact; only the count can lag behind.
// Blocks detached by the dead writer but never linked or freed stay leaked.
//
// A chain that fails validation is genuine corruption rather than an
// interrupted update; Recover then returns ErrCorrupt and leaves the flag set
// so that every later lock holder refuses to proceed.
func (s *Stack) Recover() (Recovery, error) {
	if !s.r.Updating() {
		return Recovery{}, nil
	}

	before := s.r.Count()
	n, err := s.walk(nil)
	if err != nil {
		return Recovery{Interrupted: true, CountBefore: int(before)},
			fmt.Errorf("recover interrupted update: %w", err)
	}

	s.r.SetCount(n)
	s.r.CancelUpdate()
	return Recovery{Interrupted: true, CountBefore: int(before), CountAfter: int(n)}, nil
}
