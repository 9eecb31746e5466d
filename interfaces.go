package shmstack

import (
	"context"
	"net"
)

// Server owns a shared stack arena and serves it over TCP.
//
// Callers follow this lifecycle ordering:
//
//	NewServer → Start → Serve → Shutdown
//
// ListenAndServe combines Start and Serve. Shutdown is safe to call at any
// point, including before Start.
type Server interface {
	// Start creates the arena and the lock file and opens the listening
	// socket. Returns ErrAlreadyStarted on a running server and
	// ErrShuttingDown after Shutdown.
	Start(ctx context.Context) error

	// Serve accepts connections until ctx is done or Shutdown is called and
	// returns nil in both cases. Returns ErrNotStarted before Start.
	Serve(ctx context.Context) error

	// ListenAndServe calls Start and then Serve.
	ListenAndServe(ctx context.Context) error

	// Shutdown stops accepting, stops every worker, and removes the arena and
	// the lock file. Returns an error if any worker failed to stop.
	Shutdown(ctx context.Context) error

	// Addr returns the listening address, or nil before Start.
	Addr() net.Addr

	// Stats returns a consistent snapshot of the arena. Returns
	// ErrNotStarted before Start.
	Stats(ctx context.Context) (Stats, error)
}

// Client is one protocol session with a Server. It is safe for concurrent
// use; calls are serialized on the connection.
type Client interface {
	// Push pushes payload. Returns a *ServerError matching
	// ErrCapacityExhausted, ErrPayloadTooLarge or ErrReservedPayload when
	// the server refuses it, and ErrInvalidPayload for payloads with line
	// breaks.
	Push(ctx context.Context, payload []byte) error

	// Pop removes the top element. Popping an empty stack is not an error.
	Pop(ctx context.Context) error

	// Top returns a copy of the top element, or ErrEmpty.
	Top(ctx context.Context) ([]byte, error)

	// Ping checks that the session is alive.
	Ping(ctx context.Context) error

	// Close ends the session. It is idempotent.
	Close() error
}
