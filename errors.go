package shmstack

import (
	"github.com/giantswarm/shmstack/internal/client"
	"github.com/giantswarm/shmstack/internal/core"
)

// Sentinel errors for error inspection with errors.Is. Errors reported by the
// server to a Client match the same sentinels.
const (
	// ErrCapacityExhausted is returned by Push when the arena is full.
	ErrCapacityExhausted = core.ErrCapacityExhausted

	// ErrPayloadTooLarge is returned by Push when the payload exceeds the
	// configured maximum.
	ErrPayloadTooLarge = core.ErrPayloadTooLarge

	// ErrReservedPayload is returned by Push for "-" and payloads starting
	// with "ERR ".
	ErrReservedPayload = core.ErrReservedPayload

	// ErrEmpty is returned by Top when the stack has no elements.
	ErrEmpty = core.ErrEmpty

	// ErrLockTimeout is returned when the arena lock was not acquired within
	// the configured lock timeout.
	ErrLockTimeout = core.ErrLockTimeout

	// ErrLockFailed is returned when the arena lock itself failed. The
	// server ends the session.
	ErrLockFailed = core.ErrLockFailed

	// ErrArenaCorrupt is returned when the arena structure failed validation.
	// The server ends the session.
	ErrArenaCorrupt = core.ErrArenaCorrupt

	// ErrUnknownCommand is reported in strict protocol mode for unrecognized
	// lines.
	ErrUnknownCommand = core.ErrUnknownCommand

	// ErrShuttingDown is returned by Server methods after Shutdown.
	ErrShuttingDown = core.ErrShuttingDown

	// ErrNotStarted is returned by Serve before Start.
	ErrNotStarted = core.ErrNotStarted

	// ErrAlreadyStarted is returned by Start on a running server.
	ErrAlreadyStarted = core.ErrAlreadyStarted

	// ErrNotWorker is returned by RunWorker in a process that was not
	// started as a connection worker.
	ErrNotWorker = core.ErrNotWorker

	// ErrInvalidPayload is returned by Client.Push for payloads containing
	// line breaks.
	ErrInvalidPayload = client.ErrInvalidPayload

	// ErrClientClosed is returned by calls on a closed Client.
	ErrClientClosed = client.ErrClosed
)

// ServerError is an "ERR" reply received by a Client. It unwraps to the
// matching sentinel above when the reason is known.
type ServerError = core.ServerError
