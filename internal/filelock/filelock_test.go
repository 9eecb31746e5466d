package filelock

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// holdEnv makes the test binary act as a lock holder: it acquires the lock at
// the given path, reports it on stdout and waits for stdin to close.
const holdEnv = "SHMSTACK_FILELOCK_TEST_HOLD"

func TestMain(m *testing.M) {
	if path := os.Getenv(holdEnv); path != "" {
		os.Exit(hold(path))
	}
	os.Exit(m.Run())
}

func hold(path string) int {
	l := New(path, 0)
	if err := l.Acquire(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println("locked")
	_, _ = bufio.NewReader(os.Stdin).ReadString('\n')
	return 0
}

// startHolder starts a child process holding the lock at path and waits until
// it reports the lock as held.
func startHolder(t *testing.T, path string) (*exec.Cmd, func()) {
	t.Helper()

	cmd := exec.Command(os.Args[0], "-test.run=^$")
	cmd.Env = append(os.Environ(), holdEnv+"="+path)
	stdin, err := cmd.StdinPipe()
	require.NoError(t, err)
	stdout, err := cmd.StdoutPipe()
	require.NoError(t, err)
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})

	line, err := bufio.NewReader(stdout).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "locked\n", line)

	return cmd, func() { _ = stdin.Close() }
}

func lockPath(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arena.lock")
	require.NoError(t, Create(path))
	return path
}

func TestNewPanicsOnInvalidArguments(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		path    string
		timeout time.Duration
	}{
		"empty path":       {path: "", timeout: 0},
		"negative timeout": {path: "x.lock", timeout: -time.Second},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.Panics(t, func() { New(tc.path, tc.timeout) })
		})
	}
}

func TestCreateMakesParentDirectories(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a", "b", "arena.lock")
	require.NoError(t, Create(path))
	require.FileExists(t, path)

	// Creating again keeps the existing file.
	require.NoError(t, Create(path))
}

func TestDoSerializesGoroutines(t *testing.T) {
	t.Parallel()

	l := New(lockPath(t), 0)

	var (
		inside  atomic.Int32
		overlap atomic.Bool
		counter int
		wg      sync.WaitGroup
	)
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				err := l.Do(context.Background(), func() error {
					if inside.Add(1) != 1 {
						overlap.Store(true)
					}
					counter++
					inside.Add(-1)
					return nil
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.False(t, overlap.Load())
	assert.Equal(t, 32*20, counter)
}

func TestDoReleasesOnEveryExitPath(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	tests := map[string]func() error{
		"success": func() error { return nil },
		"error":   func() error { return boom },
		"panic":   func() error { panic("boom") },
	}

	for name, fn := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			l := New(lockPath(t), time.Second)

			func() {
				defer func() { _ = recover() }()
				_ = l.Do(context.Background(), fn)
			}()

			other := New(l.Path(), time.Second)
			require.NoError(t, other.Acquire(context.Background()))
			require.NoError(t, other.Release())
			require.NoError(t, l.Do(context.Background(), func() error { return nil }))
		})
	}
}

func TestDoReturnsCallbackError(t *testing.T) {
	t.Parallel()

	l := New(lockPath(t), 0)
	boom := errors.New("boom")
	require.ErrorIs(t, l.Do(context.Background(), func() error { return boom }), boom)
}

func TestTimeoutInsideProcess(t *testing.T) {
	t.Parallel()

	l := New(lockPath(t), 20*time.Millisecond)
	require.NoError(t, l.Acquire(context.Background()))
	defer func() { require.NoError(t, l.Release()) }()

	done := make(chan error, 1)
	go func() { done <- l.Acquire(context.Background()) }()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrLockTimeout)
	case <-time.After(5 * time.Second):
		t.Fatal("second Acquire did not time out")
	}
}

func TestSeparateLocksOnSameFileExclude(t *testing.T) {
	t.Parallel()

	path := lockPath(t)
	a := New(path, 0)
	b := New(path, 20*time.Millisecond)

	require.NoError(t, a.Acquire(context.Background()))
	require.ErrorIs(t, b.Acquire(context.Background()), ErrLockTimeout)
	require.NoError(t, a.Release())
	require.NoError(t, b.Acquire(context.Background()))
	require.NoError(t, b.Release())
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	path := lockPath(t)
	holder := New(path, 0)
	require.NoError(t, holder.Acquire(context.Background()))
	defer func() { require.NoError(t, holder.Release()) }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New(path, 0).Acquire(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrLockTimeout)
}

func TestLockHeldByOtherProcess(t *testing.T) {
	t.Parallel()

	path := lockPath(t)
	cmd, release := startHolder(t, path)

	l := New(path, 50*time.Millisecond)
	require.ErrorIs(t, l.Acquire(context.Background()), ErrLockTimeout)

	release()
	require.NoError(t, cmd.Wait())

	l = New(path, 5*time.Second)
	require.NoError(t, l.Acquire(context.Background()))
	require.NoError(t, l.Release())
}

func TestCrashedHolderReleasesLock(t *testing.T) {
	t.Parallel()

	path := lockPath(t)
	cmd, _ := startHolder(t, path)

	l := New(path, 50*time.Millisecond)
	require.ErrorIs(t, l.Acquire(context.Background()), ErrLockTimeout)

	require.NoError(t, cmd.Process.Kill())
	_ = cmd.Wait()

	l = New(path, 5*time.Second)
	require.NoError(t, l.Acquire(context.Background()))
	require.NoError(t, l.Release())
}
