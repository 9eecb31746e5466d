package core

import (
	"github.com/giantswarm/shmstack/internal/alloc"
	"github.com/giantswarm/shmstack/internal/filelock"
	"github.com/giantswarm/shmstack/internal/sentinel"
	"github.com/giantswarm/shmstack/internal/stack"
)

// ErrCapacityExhausted is returned by Push when the arena has neither a free
// block nor enough tail space for a new node. It is re-exported from alloc so
// that callers above core never import the allocator.
const ErrCapacityExhausted = alloc.ErrOutOfSpace

// ErrPayloadTooLarge is returned by Push when the payload exceeds the node
// capacity.
const ErrPayloadTooLarge = stack.ErrPayloadTooLarge

// ErrEmpty is returned by Top when the stack has no elements.
const ErrEmpty = stack.ErrEmpty

// ErrLockTimeout is returned when the arena lock was not acquired within the
// configured lock timeout.
const ErrLockTimeout = filelock.ErrLockTimeout

// ErrLockFailed is returned when the lock primitive itself failed. Sessions
// end when they see it.
const ErrLockFailed = filelock.ErrLockFailed

// ErrReservedPayload is returned by Push for payloads that would be
// indistinguishable from a protocol reply: the empty marker "-" and anything
// starting with the error prefix "ERR ".
const ErrReservedPayload = sentinel.Error("payload is reserved")

// ErrArenaCorrupt is returned when the arena's allocator or stack structure
// fails validation and cannot be repaired. Sessions end when they see it.
const ErrArenaCorrupt = sentinel.Error("arena corrupt")

// ErrUnknownCommand is reported to clients in strict protocol mode for lines
// that do not parse as a command.
const ErrUnknownCommand = sentinel.Error("unknown command")

// ErrShuttingDown is returned by Server methods after Shutdown was called.
const ErrShuttingDown = sentinel.Error("server is shutting down")

// ErrNotStarted is returned by Serve when Start has not completed.
const ErrNotStarted = sentinel.Error("server not started")

// ErrAlreadyStarted is returned by Start on a server that is already running.
const ErrAlreadyStarted = sentinel.Error("server already started")

// ErrNotWorker is returned by RunWorker when the process was not started as
// a connection worker.
const ErrNotWorker = sentinel.Error("process is not a shmstack worker")
