package shmstack

import "github.com/giantswarm/shmstack/internal/core"

// WorkerMode controls how the server serves an accepted connection.
//
// WorkerMode is a type alias so that the methods of [core.WorkerMode] are
// part of the public API:
//
//   - IsValid reports whether the value is a recognized mode.
//   - String returns the mode name (implements [fmt.Stringer]).
type WorkerMode = core.WorkerMode

const (
	// ProcessPerConnection serves every connection in a child process that
	// re-executes the server binary. A crashing session cannot take the
	// server or other sessions with it, and the kernel releases the arena
	// lock of a worker that dies holding it. This is the default.
	ProcessPerConnection = core.ProcessPerConnection

	// GoroutinePerConnection serves every connection in a goroutine of the
	// server process. Cheaper to start, but sessions share the server's
	// fate.
	GoroutinePerConnection = core.GoroutinePerConnection
)

// ParseWorkerMode maps "process" and "goroutine" to a WorkerMode.
func ParseWorkerMode(s string) (WorkerMode, error) {
	return core.ParseWorkerMode(s)
}
