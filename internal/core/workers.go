package core

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// worker serves one accepted connection until the client leaves or the
// worker is stopped.
type worker interface {
	// ID returns the connection id, e.g. "conn-3-1a2b3c4d".
	ID() string

	// Done is closed when the session has ended on its own or after Stop.
	Done() <-chan struct{}

	// Stop ends the session, waiting up to timeout, and releases the
	// worker's resources. It is safe to call more than once and from
	// several goroutines; later calls return nil.
	Stop(timeout time.Duration) error
}

// workerSet tracks live workers and bounds how many run at once.
//
// It is safe for concurrent use by multiple goroutines.
type workerSet struct {
	// mu protects live, nextIdx and closed.
	mu sync.Mutex

	// live holds the workers whose session has not been reaped yet.
	live map[string]worker

	// nextIdx numbers connections in accept order.
	nextIdx int

	// closed is set by close. add refuses new workers afterwards.
	closed bool

	// sem holds one token per connection slot. acquire takes a token and
	// remove returns it. nil when the set is unbounded.
	sem chan struct{}

	// closeCh unblocks acquire calls waiting on sem when the set closes.
	closeCh   chan struct{}
	closeOnce sync.Once

	// reapers counts goroutines still waiting for a worker to finish.
	reapers sync.WaitGroup

	limit int
}

// newWorkerSet returns a set allowing limit concurrent workers. 0 means
// unlimited. Panics if limit is negative.
func newWorkerSet(limit int) *workerSet {
	if limit < 0 {
		panic(fmt.Sprintf("shmstack: worker limit must not be negative, got %d", limit))
	}
	s := &workerSet{
		live:    make(map[string]worker),
		closeCh: make(chan struct{}),
		limit:   limit,
	}
	if limit > 0 {
		s.sem = make(chan struct{}, limit)
		for range limit {
			s.sem <- struct{}{}
		}
	}
	return s
}

// acquire takes a connection slot, blocking while all slots are in use.
// Returns ErrShuttingDown once the set is closed.
func (s *workerSet) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context done while waiting for connection slot: %w", err)
	}
	select {
	case <-s.closeCh:
		return ErrShuttingDown
	default:
	}
	if s.sem == nil {
		return nil
	}

	select {
	case <-s.sem:
		return nil
	case <-s.closeCh:
		return ErrShuttingDown
	case <-ctx.Done():
		return fmt.Errorf("context done while waiting for connection slot: %w", ctx.Err())
	}
}

// nextID returns a new connection id. The index gives accept order; the
// random suffix keeps ids unique across server restarts sharing a log dir.
func (s *workerSet) nextID() string {
	s.mu.Lock()
	idx := s.nextIdx
	s.nextIdx++
	s.mu.Unlock()
	return fmt.Sprintf("conn-%d-%08x",
		idx,
		rand.Uint32(), //nolint:gosec // G404: connection ids need uniqueness, not cryptographic strength
	)
}

// add registers w and starts reaping it with reap, which runs once w is done.
// It returns false without registering when the set is closed; the caller
// then stops w itself and returns the slot with release.
func (s *workerSet) add(w worker, reap func(worker)) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.live[w.ID()] = w
	s.reapers.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.reapers.Done()
		<-w.Done()
		if s.remove(w.ID()) {
			s.release()
		}
		reap(w)
	}()
	return true
}

// remove unregisters the worker with the given id and reports whether it was
// registered.
func (s *workerSet) remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live[id]; !ok {
		return false
	}
	delete(s.live, id)
	return true
}

// snapshot returns the live workers in no particular order.
func (s *workerSet) snapshot() []worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]worker, 0, len(s.live))
	for _, w := range s.live {
		out = append(out, w)
	}
	return out
}

// count returns the number of live workers.
func (s *workerSet) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// close refuses further workers and unblocks waiting acquire calls. It is
// idempotent.
func (s *workerSet) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.closeCh) })
}

// wait blocks until every reaper has finished or ctx is done.
func (s *workerSet) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.reapers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for workers to finish: %w", ctx.Err())
	}
}

// release returns a connection slot. No-op when the set is unbounded.
//
// The send is non-blocking: a full semaphore means more releases than
// acquires, which is only expected after close.
func (s *workerSet) release() {
	if s.sem == nil {
		return
	}
	select {
	case s.sem <- struct{}{}:
	default:
		select {
		case <-s.closeCh:
			Logger().Debug("release: semaphore full after close, token dropped")
		default:
			panic(fmt.Sprintf("shmstack: release: semaphore full during normal operation (limit=%d)", s.limit))
		}
	}
}
