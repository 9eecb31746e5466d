package client

import (
	"context"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/giantswarm/shmstack/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startServer runs an in-process server with goroutine workers.
func startServer(t *testing.T, capacity, maxPayload int) *core.Server {
	t.Helper()
	s := core.NewServer(core.ServerConfig{
		Address:           "127.0.0.1:0",
		Capacity:          capacity,
		MaxPayload:        maxPayload,
		ArenaPath:         filepath.Join(t.TempDir(), "arena"),
		LockTimeout:       5 * time.Second,
		WorkerMode:        core.GoroutinePerConnection,
		WorkerStopTimeout: 5 * time.Second,
		ShutdownTimeout:   30 * time.Second,
	})
	require.NoError(t, s.Start(context.Background()))
	serveErr := make(chan error, 1)
	go func() { serveErr <- s.Serve(context.Background()) }()
	t.Cleanup(func() {
		assert.NoError(t, s.Shutdown(context.Background()))
		assert.NoError(t, <-serveErr)
	})
	return s
}

func dial(t *testing.T, s *core.Server) *Client {
	t.Helper()
	c, err := Dial(context.Background(), s.Addr().String(), Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClientOperations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := startServer(t, 4, 16)
	a, b := dial(t, s), dial(t, s)

	require.NoError(t, a.Push(ctx, []byte("a")))
	require.NoError(t, a.Push(ctx, []byte("b")))

	top, err := b.Top(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", string(top))

	require.NoError(t, b.Pop(ctx))
	top, err = a.Top(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", string(top))

	require.NoError(t, a.Pop(ctx))
	require.NoError(t, a.Pop(ctx), "pop on an empty stack succeeds")
	_, err = b.Top(ctx)
	require.ErrorIs(t, err, core.ErrEmpty)
}

func TestClientServerErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := startServer(t, 1, 8)
	c := dial(t, s)

	require.ErrorIs(t, c.Push(ctx, []byte("123456789")), core.ErrPayloadTooLarge)
	require.ErrorIs(t, c.Push(ctx, []byte("ERR x")), core.ErrReservedPayload)
	require.ErrorIs(t, c.Push(ctx, []byte("-")), core.ErrReservedPayload)
	require.NoError(t, c.Push(ctx, []byte("one")))

	err := c.Push(ctx, []byte("two"))
	var se *core.ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "capacity exhausted", se.Reason)
	require.ErrorIs(t, err, core.ErrCapacityExhausted)

	require.NoError(t, c.Ping(ctx), "the session survives error replies")
}

func TestClientRejectsLineBreaks(t *testing.T) {
	t.Parallel()
	s := startServer(t, 4, 16)
	c := dial(t, s)

	for _, p := range []string{"a\nb", "a\r", "\n"} {
		require.ErrorIs(t, c.Push(context.Background(), []byte(p)), ErrInvalidPayload)
	}
}

func TestClientConcurrentUse(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := startServer(t, 64, 16)
	c := dial(t, s)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 8 {
				assert.NoError(t, c.Push(ctx, []byte("x")))
			}
		}()
	}
	wg.Wait()

	items, err := s.Store().Drain(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 64)
}

func TestClientClose(t *testing.T) {
	t.Parallel()
	s := startServer(t, 4, 16)
	c := dial(t, s)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.ErrorIs(t, c.Ping(context.Background()), ErrClosed)

	require.Eventually(t, func() bool { return s.ActiveConnections() == 0 },
		10*time.Second, 10*time.Millisecond)
}

func TestClientContextDeadline(t *testing.T) {
	t.Parallel()

	// A listener that accepts but never answers.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			defer conn.Close()
			time.Sleep(5 * time.Second)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = Dial(ctx, ln.Addr().String(), Config{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDialRetriesUntilServerIsUp(t *testing.T) {
	t.Parallel()

	// Reserve an address, then start the server on it after a delay.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	s := core.NewServer(core.ServerConfig{
		Address:           addr,
		Capacity:          4,
		MaxPayload:        16,
		ArenaPath:         filepath.Join(t.TempDir(), "arena"),
		WorkerMode:        core.GoroutinePerConnection,
		WorkerStopTimeout: 5 * time.Second,
		ShutdownTimeout:   30 * time.Second,
	})
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	go func() {
		time.Sleep(200 * time.Millisecond)
		if err := s.ListenAndServe(context.Background()); err != nil {
			t.Errorf("ListenAndServe: %v", err)
		}
	}()

	c, err := Dial(context.Background(), addr, Config{RetryTimeout: 10 * time.Second, RetryInterval: 20 * time.Millisecond})
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Ping(context.Background()))
}

func TestDialGivesUp(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = Dial(context.Background(), addr, Config{RetryTimeout: 100 * time.Millisecond})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wait for shmstack server readiness at "+addr)
}

func TestDialRejectsNegativeInterval(t *testing.T) {
	t.Parallel()

	_, err := Dial(context.Background(), "127.0.0.1:1", Config{RetryTimeout: time.Second, RetryInterval: -time.Millisecond})
	require.ErrorIs(t, err, ErrBadRetryInterval)
}
