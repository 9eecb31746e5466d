package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/giantswarm/shmstack/internal/alloc"
	"github.com/giantswarm/shmstack/internal/filelock"
	"github.com/giantswarm/shmstack/internal/fileutil"
	"github.com/giantswarm/shmstack/internal/shm"
	"github.com/giantswarm/shmstack/internal/stack"
)

// Store is the shared stack as seen by one process: the mapped arena, the
// stack view over it and the cross-process lock that guards both.
//
// Every operation acquires the lock, repairs the arena if the previous holder
// died mid-update, runs, and releases the lock on every exit path. A Store is
// safe for concurrent use by multiple goroutines.
type Store struct {
	region *shm.Region
	stack  *stack.Stack
	lock   *filelock.Lock
	log    *slog.Logger
	owner  bool // created the arena; Remove deletes its files
}

// CreateStore creates the lock file and a fresh arena sized for capacity
// nodes of maxPayload bytes. It is called once by the server before any
// worker exists.
func CreateStore(cfg ServerConfig) (*Store, error) {
	lockPath := cfg.ResolvedLockPath()
	// A lock file that was already there may belong to a live server.
	_, statErr := os.Stat(lockPath)
	freshLock := errors.Is(statErr, os.ErrNotExist)
	if err := filelock.Create(lockPath); err != nil {
		return nil, fmt.Errorf("create store: %w", err)
	}
	fail := func(err error) (*Store, error) {
		if freshLock {
			_ = fileutil.RemoveIfExists(lockPath)
		}
		return nil, fmt.Errorf("create store: %w", err)
	}

	size := stack.RegionSize(cfg.Capacity, cfg.MaxPayload)
	region, err := shm.Create(cfg.ArenaPath, int(size))
	if err != nil {
		return fail(err)
	}

	st, err := stack.Init(region, cfg.MaxPayload)
	if err != nil {
		_ = region.Close()
		_ = region.Remove()
		return fail(err)
	}

	s := &Store{
		region: region,
		stack:  st,
		lock:   filelock.New(lockPath, cfg.LockTimeout),
		log:    Logger().With("arena", cfg.ArenaPath),
		owner:  true,
	}
	s.log.Info("arena created",
		"capacity", cfg.Capacity,
		"max_payload", cfg.MaxPayload,
		"size", humanize.IBytes(size),
		"lock", lockPath)
	return s, nil
}

// OpenStore maps an arena created by CreateStore. Worker processes call it
// with the paths handed down by the server.
func OpenStore(arenaPath, lockPath string, lockTimeout time.Duration) (*Store, error) {
	region, err := shm.Open(arenaPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	st, err := stack.Attach(region)
	if err != nil {
		_ = region.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &Store{
		region: region,
		stack:  st,
		lock:   filelock.New(lockPath, lockTimeout),
		log:    Logger().With("arena", arenaPath),
	}, nil
}

// MaxPayload returns the largest payload Push accepts.
func (s *Store) MaxPayload() int {
	return s.stack.NodeCap()
}

// Push validates payload and pushes it onto the shared stack. Invalid
// payloads are rejected before the lock is taken.
func (s *Store) Push(ctx context.Context, payload []byte) error {
	if len(payload) > s.stack.NodeCap() {
		return fmt.Errorf("push %d bytes (limit %d): %w", len(payload), s.stack.NodeCap(), ErrPayloadTooLarge)
	}
	if isReserved(payload) {
		return fmt.Errorf("push %q: %w", payload, ErrReservedPayload)
	}
	return s.do(ctx, "push", func() error {
		return s.stack.Push(payload)
	})
}

// Pop removes the top element. Popping an empty stack is a no-op.
func (s *Store) Pop(ctx context.Context) error {
	return s.do(ctx, "pop", func() error {
		_, err := s.stack.Pop()
		return err
	})
}

// Top returns a copy of the top element, or ErrEmpty.
func (s *Store) Top(ctx context.Context) ([]byte, error) {
	var top []byte
	err := s.do(ctx, "top", func() error {
		var err error
		top, err = s.stack.Peek()
		return err
	})
	return top, err
}

// Stats is a consistent snapshot of the arena.
type Stats struct {
	Len        int
	NodeCap    int
	Mutations  uint64
	Allocation alloc.Stats
}

// Stats returns a snapshot taken under the lock.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.do(ctx, "stats", func() error {
		as, err := s.stack.Allocator().Stats()
		if err != nil {
			return err
		}
		st = Stats{
			Len:        s.stack.Len(),
			NodeCap:    s.stack.NodeCap(),
			Mutations:  s.region.Mutations(),
			Allocation: as,
		}
		return nil
	})
	return st, err
}

// Drain returns every element from top to bottom. It is used by tests and
// the admin tooling to check the count against the chain.
func (s *Store) Drain(ctx context.Context) ([]string, error) {
	var out []string
	err := s.do(ctx, "drain", func() error {
		if err := s.stack.Verify(); err != nil {
			return err
		}
		return s.stack.Walk(func(p []byte) bool {
			out = append(out, string(p))
			return true
		})
	})
	return out, err
}

// Close unmaps the arena. The arena and lock files stay on disk.
func (s *Store) Close() error {
	if err := s.region.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}

// Remove deletes the arena file. Only the Store that created the arena may
// remove it; on other Stores Remove is a no-op. The lock file is kept so that
// a late worker never locks a file that was unlinked under it.
func (s *Store) Remove() error {
	if !s.owner {
		return nil
	}
	if err := s.region.Remove(); err != nil {
		return fmt.Errorf("remove store: %w", err)
	}
	return nil
}

// do runs fn under the arena lock after repairing any interrupted update.
func (s *Store) do(ctx context.Context, op string, fn func() error) error {
	err := s.lock.Do(ctx, func() error {
		if err := s.recover(); err != nil {
			return err
		}
		return fn()
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, stack.ErrCorrupt) || errors.Is(err, alloc.ErrCorrupt) || errors.Is(err, alloc.ErrInvalidBlock) {
		err = fmt.Errorf("%w: %w", ErrArenaCorrupt, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// recover repairs the stack handle when the previous lock holder died between
// BeginUpdate and EndUpdate. The caller holds the lock.
func (s *Store) recover() error {
	rec, err := s.stack.Recover()
	if err != nil {
		s.log.Error("arena corrupt after interrupted update", "error", err)
		return err
	}
	if rec.Interrupted {
		s.log.Warn("recovered interrupted update",
			"count_before", rec.CountBefore,
			"count_after", rec.CountAfter)
	}
	return nil
}

// isReserved reports whether payload would be read back as a protocol reply.
func isReserved(payload []byte) bool {
	return string(payload) == EmptyMarker || bytes.HasPrefix(payload, []byte(errorPrefix))
}
