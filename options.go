package shmstack

import (
	"fmt"
	"log/slog"
	"time"
)

// requirePositive panics if v <= 0 with a descriptive message.
func requirePositive[T int | time.Duration](name string, v T) {
	if v <= 0 {
		panic(fmt.Sprintf("shmstack: %s must be greater than 0, got %v", name, v))
	}
}

// requireNonNegative panics if v < 0 with a descriptive message.
func requireNonNegative[T int | time.Duration](name string, v T) {
	if v < 0 {
		panic(fmt.Sprintf("shmstack: %s must not be negative, got %v", name, v))
	}
}

// requireNonEmpty panics if s is empty with a descriptive message.
func requireNonEmpty(name, s string) {
	if s == "" {
		panic(fmt.Sprintf("shmstack: %s must not be empty", name))
	}
}

// ServerOption configures a Server during construction via NewServer.
//
// The With* functions panic on invalid input. Option values are usually
// constants or validated flags, so an invalid value is a programmer error;
// the pattern mirrors [regexp.MustCompile].
type ServerOption func(*serverConfig)

// WithAddress sets the TCP listen address, e.g. ":3500" or "127.0.0.1:0".
//
// Default: ":3500".
//
// Panics if addr is empty.
func WithAddress(addr string) ServerOption {
	requireNonEmpty("listen address", addr)
	return func(c *serverConfig) {
		c.Address = addr
	}
}

// WithCapacity sets the number of elements the arena can hold.
//
// Default: 1000.
//
// Panics if n <= 0.
func WithCapacity(n int) ServerOption {
	requirePositive("capacity", n)
	return func(c *serverConfig) {
		c.Capacity = n
	}
}

// WithMaxPayload sets the largest payload in bytes. Every arena node reserves
// this much, so the arena size grows with capacity times max payload.
//
// Default: 1024.
//
// Panics if n <= 0.
func WithMaxPayload(n int) ServerOption {
	requirePositive("max payload", n)
	return func(c *serverConfig) {
		c.MaxPayload = n
	}
}

// WithArenaPath sets the file backing the arena. The file must not exist when
// the server starts and is removed by Shutdown.
//
// Default: /dev/shm/shmstack-<pid>, or the system temp directory when
// /dev/shm is unavailable.
//
// Panics if path is empty.
func WithArenaPath(path string) ServerOption {
	requireNonEmpty("arena path", path)
	return func(c *serverConfig) {
		c.ArenaPath = path
	}
}

// WithLockPath sets the file used for the cross-process arena lock.
//
// Default: the arena path with a ".lock" suffix.
//
// Panics if path is empty.
func WithLockPath(path string) ServerOption {
	requireNonEmpty("lock path", path)
	return func(c *serverConfig) {
		c.LockPath = path
	}
}

// WithLockTimeout bounds every arena lock acquisition. Commands that time out
// are answered with "ERR lock timeout". 0 waits without bound.
//
// Default: 0.
//
// Panics if d < 0.
func WithLockTimeout(d time.Duration) ServerOption {
	requireNonNegative("lock timeout", d)
	return func(c *serverConfig) {
		c.LockTimeout = d
	}
}

// WithWorkerMode selects process or goroutine workers.
//
// Default: ProcessPerConnection.
//
// Panics if m is not a valid WorkerMode.
func WithWorkerMode(m WorkerMode) ServerOption {
	if !m.IsValid() {
		panic(fmt.Sprintf("shmstack: invalid worker mode: %v", m))
	}
	return func(c *serverConfig) {
		c.WorkerMode = m
	}
}

// WithWorkerCommand sets the argv used to start worker processes. The command
// must call RunWorker when IsWorker reports true.
//
// Default: the running executable without arguments.
//
// Panics if argv is empty or argv[0] is empty.
func WithWorkerCommand(argv ...string) ServerOption {
	if len(argv) == 0 {
		panic("shmstack: worker command must not be empty")
	}
	requireNonEmpty("worker command path", argv[0])
	argv = append([]string(nil), argv...)
	return func(c *serverConfig) {
		c.WorkerCommand = argv
	}
}

// WithMaxConnections caps concurrently served connections. Further clients
// wait in the listen backlog until a session ends. 0 means unlimited.
//
// Default: 0.
//
// Panics if n < 0.
func WithMaxConnections(n int) ServerOption {
	requireNonNegative("max connections", n)
	return func(c *serverConfig) {
		c.MaxConnections = n
	}
}

// WithStrictProtocol makes sessions answer unrecognized lines with
// "ERR unknown command" instead of ignoring them.
//
// Default: false.
func WithStrictProtocol(strict bool) ServerOption {
	return func(c *serverConfig) {
		c.StrictProtocol = strict
	}
}

// WithWorkerStopTimeout sets how long a worker gets to finish its current
// command on shutdown. Worker processes are killed after it.
//
// Default: 10 seconds.
//
// Panics if d <= 0.
func WithWorkerStopTimeout(d time.Duration) ServerOption {
	requirePositive("worker stop timeout", d)
	return func(c *serverConfig) {
		c.WorkerStopTimeout = d
	}
}

// WithShutdownTimeout bounds Server.Shutdown.
//
// Default: 30 seconds.
//
// Panics if d <= 0.
func WithShutdownTimeout(d time.Duration) ServerOption {
	requirePositive("shutdown timeout", d)
	return func(c *serverConfig) {
		c.ShutdownTimeout = d
	}
}

// WithLogDir makes every worker process write its stdout and stderr to files
// in dir. Without it, workers share the server's stderr.
//
// Panics if dir is empty.
func WithLogDir(dir string) ServerOption {
	requireNonEmpty("log directory", dir)
	return func(c *serverConfig) {
		c.LogDir = dir
	}
}

// DialOption configures Dial.
type DialOption func(*dialConfig)

// WithDialRetry keeps dialing until the server answers or timeout elapses.
// Without it, Dial makes a single attempt.
//
// Panics if timeout <= 0.
func WithDialRetry(timeout time.Duration) DialOption {
	requirePositive("dial retry timeout", timeout)
	return func(c *dialConfig) {
		c.RetryTimeout = timeout
	}
}

// WithDialLogger sets the logger used while retrying.
//
// Panics if l is nil.
func WithDialLogger(l *slog.Logger) DialOption {
	if l == nil {
		panic("shmstack: dial logger must not be nil")
	}
	return func(c *dialConfig) {
		c.Logger = l
	}
}
