package filelock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/giantswarm/shmstack/internal/fileutil"
	"github.com/giantswarm/shmstack/internal/sentinel"
	"github.com/gofrs/flock"
)

// retryInterval is the interval between consecutive attempts to acquire the
// file lock while another process holds it.
const retryInterval = 5 * time.Millisecond

// ErrLockTimeout is returned when the lock could not be acquired before the
// configured timeout elapsed.
const ErrLockTimeout = sentinel.Error("timed out waiting for arena lock")

// ErrLockFailed is returned when the underlying lock primitive reports an I/O
// error. The caller must treat it as fatal for its session.
const ErrLockFailed = sentinel.Error("arena lock failed")

// Lock is an exclusive lock shared by every process that opens the same path.
// A Lock is safe for concurrent use by multiple goroutines. It is not
// reentrant: a goroutine holding the lock must not acquire it again.
type Lock struct {
	fl      *flock.Flock
	gate    chan struct{}
	timeout time.Duration
}

// Create makes sure the lock file exists so that workers can open it later.
// Any missing parent directories are created.
func Create(path string) error {
	if err := fileutil.Touch(path, 0o600); err != nil {
		return fmt.Errorf("create lock file: %w", err)
	}
	return nil
}

// New returns a Lock on path. A zero timeout waits until the lock is acquired
// or the context passed to Acquire is done.
func New(path string, timeout time.Duration) *Lock {
	if path == "" {
		panic("shmstack: lock path must not be empty")
	}
	if timeout < 0 {
		panic(fmt.Sprintf("shmstack: lock timeout must not be negative, got %v", timeout))
	}
	return &Lock{
		fl:      flock.New(path),
		gate:    make(chan struct{}, 1),
		timeout: timeout,
	}
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.fl.Path()
}

// Acquire blocks until the calling goroutine holds the lock exclusively
// against every other goroutine and process. On success the caller must call
// Release exactly once.
func (l *Lock) Acquire(ctx context.Context) error {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	select {
	case l.gate <- struct{}{}:
	case <-ctx.Done():
		return l.ctxErr(ctx)
	}

	locked, err := l.fl.TryLockContext(ctx, retryInterval)
	if err == nil && !locked {
		err = ctx.Err()
	}
	if err != nil {
		<-l.gate
		if ctx.Err() != nil {
			return l.ctxErr(ctx)
		}
		return fmt.Errorf("acquire %s: %w: %w", l.fl.Path(), ErrLockFailed, err)
	}
	return nil
}

// Release drops the lock. The file descriptor is closed as part of the
// unlock; the lock file itself stays on disk so that a concurrent acquirer
// never locks a file that is about to be unlinked.
func (l *Lock) Release() error {
	defer func() { <-l.gate }()
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("release %s: %w: %w", l.fl.Path(), ErrLockFailed, err)
	}
	return nil
}

// Do runs fn while holding the lock. The lock is released on every exit path
// of fn, including a panic, before Do returns or the panic propagates.
func (l *Lock) Do(ctx context.Context, fn func() error) (err error) {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, l.Release())
	}()
	return fn()
}

func (l *Lock) ctxErr(ctx context.Context) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) && l.timeout > 0 {
		return fmt.Errorf("acquire %s after %v: %w", l.fl.Path(), l.timeout, ErrLockTimeout)
	}
	return fmt.Errorf("acquire %s: %w", l.fl.Path(), err)
}
