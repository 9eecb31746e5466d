package core

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// WorkerMode controls how an accepted connection is served.
type WorkerMode int

const (
	// ProcessPerConnection serves every connection in its own OS process. The
	// server re-executes WorkerCommand with the connection socket inherited as
	// an extra file descriptor. A worker that crashes while holding the arena
	// lock has the lock released by the kernel. This is the default.
	ProcessPerConnection WorkerMode = iota

	// GoroutinePerConnection serves every connection in a goroutine of the
	// server process. All sessions share one Store; the in-process lock gate
	// serializes them and the scoped lock releases on panic.
	GoroutinePerConnection
)

// IsValid reports whether m is a recognized WorkerMode value.
func (m WorkerMode) IsValid() bool {
	switch m {
	case ProcessPerConnection, GoroutinePerConnection:
		return true
	default:
		return false
	}
}

// String returns the name of the mode.
func (m WorkerMode) String() string {
	switch m {
	case ProcessPerConnection:
		return "ProcessPerConnection"
	case GoroutinePerConnection:
		return "GoroutinePerConnection"
	default:
		return fmt.Sprintf("WorkerMode(%d)", int(m))
	}
}

// ParseWorkerMode maps the command-line spellings "process" and "goroutine"
// to a WorkerMode.
func ParseWorkerMode(s string) (WorkerMode, error) {
	switch s {
	case "process":
		return ProcessPerConnection, nil
	case "goroutine":
		return GoroutinePerConnection, nil
	default:
		return 0, fmt.Errorf("unknown worker mode %q (want process or goroutine)", s)
	}
}

// maxNodePayload mirrors the largest node capacity the stack accepts.
const maxNodePayload = 1 << 24

// ServerConfig holds configuration for a Server.
//
// All fields are immutable after construction via NewServer; worker goroutines
// and the accept loop read them without synchronization.
type ServerConfig struct {
	// Address is the TCP listen address, e.g. ":3500".
	Address string

	// Capacity is the number of stack nodes the arena can hold. It is the
	// hard ceiling: the arena never grows.
	Capacity int

	// MaxPayload is the largest PUSH payload in bytes.
	MaxPayload int

	// ArenaPath is the file backing the shared arena. It must not exist when
	// the server starts.
	ArenaPath string

	// LockPath is the file used for the cross-process lock. Empty means
	// ArenaPath with a ".lock" suffix.
	LockPath string

	// LockTimeout bounds every lock acquisition. 0 waits without bound.
	LockTimeout time.Duration

	// WorkerMode selects process or goroutine workers.
	WorkerMode WorkerMode

	// WorkerCommand is the argv used to start a worker process. Empty means
	// the running executable with no arguments. Only used by
	// ProcessPerConnection.
	WorkerCommand []string

	// MaxConnections caps concurrently served connections. Further
	// connections wait in the listen backlog. 0 means unlimited.
	MaxConnections int

	// StrictProtocol makes sessions answer unrecognized lines with an error
	// reply instead of ignoring them.
	StrictProtocol bool

	// WorkerStopTimeout is the time a worker gets between SIGTERM and SIGKILL
	// (process mode) or to finish its session (goroutine mode) on shutdown.
	WorkerStopTimeout time.Duration

	// ShutdownTimeout bounds the whole of Shutdown.
	ShutdownTimeout time.Duration

	// LogDir, when set, receives one stdout and one stderr log file per
	// worker process. Otherwise workers inherit the server's stderr.
	LogDir string
}

// ResolvedLockPath returns LockPath, or the path derived from ArenaPath when
// LockPath is empty.
func (c ServerConfig) ResolvedLockPath() string {
	if c.LockPath != "" {
		return c.LockPath
	}
	return c.ArenaPath + ".lock"
}

// Validate checks all ServerConfig invariants and returns an error describing
// every violation found, joined with errors.Join.
func (c ServerConfig) Validate() error {
	var errs []error

	if c.Address == "" {
		errs = append(errs, errors.New("listen address must not be empty"))
	}
	if c.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("capacity must be greater than 0, got %d", c.Capacity))
	}
	if c.MaxPayload <= 0 || c.MaxPayload > maxNodePayload {
		errs = append(errs, fmt.Errorf("max payload must be in (0, %d], got %d", maxNodePayload, c.MaxPayload))
	}
	if c.ArenaPath == "" {
		errs = append(errs, errors.New("arena path must not be empty"))
	}
	if c.LockPath != "" && c.LockPath == c.ArenaPath {
		errs = append(errs, errors.New("lock path must differ from arena path"))
	}
	if c.LockTimeout < 0 {
		errs = append(errs, fmt.Errorf("lock timeout must not be negative, got %s", c.LockTimeout))
	}
	if !c.WorkerMode.IsValid() {
		errs = append(errs, fmt.Errorf("invalid worker mode: %v", c.WorkerMode))
	}
	if len(c.WorkerCommand) > 0 && c.WorkerCommand[0] == "" {
		errs = append(errs, errors.New("worker command must not start with an empty path"))
	}
	if c.MaxConnections < 0 {
		errs = append(errs, fmt.Errorf("max connections must not be negative, got %d", c.MaxConnections))
	}
	if c.WorkerStopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("worker stop timeout must be greater than 0, got %s", c.WorkerStopTimeout))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("shutdown timeout must be greater than 0, got %s", c.ShutdownTimeout))
	}

	return errors.Join(errs...)
}

// Environment variables through which a server hands a connection to a
// worker process. The connection itself is file descriptor 3.
const (
	EnvWorker      = "SHMSTACK_WORKER"
	EnvArena       = "SHMSTACK_ARENA"
	EnvLock        = "SHMSTACK_LOCK"
	EnvLockTimeout = "SHMSTACK_LOCK_TIMEOUT"
	EnvStrict      = "SHMSTACK_STRICT"
	EnvConnID      = "SHMSTACK_CONN_ID"
)

// WorkerConfig is what a worker process needs to serve one connection.
type WorkerConfig struct {
	ArenaPath      string
	LockPath       string
	LockTimeout    time.Duration
	StrictProtocol bool
	ConnID         string
}

// workerConfig derives the per-connection worker configuration.
func (c ServerConfig) workerConfig(connID string) WorkerConfig {
	return WorkerConfig{
		ArenaPath:      c.ArenaPath,
		LockPath:       c.ResolvedLockPath(),
		LockTimeout:    c.LockTimeout,
		StrictProtocol: c.StrictProtocol,
		ConnID:         connID,
	}
}

// Environ encodes c as environment entries for a worker process.
func (c WorkerConfig) Environ() []string {
	return []string{
		EnvWorker + "=1",
		EnvArena + "=" + c.ArenaPath,
		EnvLock + "=" + c.LockPath,
		EnvLockTimeout + "=" + c.LockTimeout.String(),
		EnvStrict + "=" + strconv.FormatBool(c.StrictProtocol),
		EnvConnID + "=" + c.ConnID,
	}
}

// IsWorker reports whether getenv describes a worker process.
func IsWorker(getenv func(string) string) bool {
	return getenv(EnvWorker) == "1"
}

// WorkerConfigFromEnv decodes the configuration written by Environ.
func WorkerConfigFromEnv(getenv func(string) string) (WorkerConfig, error) {
	if !IsWorker(getenv) {
		return WorkerConfig{}, ErrNotWorker
	}

	var errs []error
	c := WorkerConfig{
		ArenaPath: getenv(EnvArena),
		LockPath:  getenv(EnvLock),
		ConnID:    getenv(EnvConnID),
	}
	if c.ArenaPath == "" {
		errs = append(errs, fmt.Errorf("%s must not be empty", EnvArena))
	}
	if c.LockPath == "" {
		errs = append(errs, fmt.Errorf("%s must not be empty", EnvLock))
	}
	if v := getenv(EnvLockTimeout); v != "" {
		d, err := time.ParseDuration(v)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("parse %s: %w", EnvLockTimeout, err))
		case d < 0:
			errs = append(errs, fmt.Errorf("%s must not be negative, got %s", EnvLockTimeout, d))
		default:
			c.LockTimeout = d
		}
	}
	if v := getenv(EnvStrict); v != "" {
		strict, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("parse %s: %w", EnvStrict, err))
		}
		c.StrictProtocol = strict
	}

	if err := errors.Join(errs...); err != nil {
		return WorkerConfig{}, fmt.Errorf("worker environment: %w", err)
	}
	return c, nil
}
