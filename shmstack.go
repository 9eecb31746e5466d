package shmstack

import (
	"context"
	"os"
	"strconv"

	"github.com/giantswarm/shmstack/internal/client"
	"github.com/giantswarm/shmstack/internal/core"
	"github.com/giantswarm/shmstack/internal/shm"
)

// Compile-time interface satisfaction checks.
var (
	_ Server = (*serverAdapter)(nil)
	_ Client = (*client.Client)(nil)
)

// Stats is a snapshot of a server's arena.
type Stats struct {
	// Len is the number of elements on the stack.
	Len int

	// MaxPayload is the largest payload a node holds.
	MaxPayload int

	// Mutations counts completed PUSH and POP operations since creation.
	Mutations uint64

	// ArenaBytes is the size of the arena, header included.
	ArenaBytes uint64

	// RemainingBytes is the part of the arena never handed out yet.
	RemainingBytes uint64

	// FreeNodes is the number of released nodes waiting for reuse.
	FreeNodes int

	// ActiveConnections is the number of sessions being served.
	ActiveConnections int
}

// defaultServerConfig returns a serverConfig with all defaults applied.
func defaultServerConfig() serverConfig {
	return serverConfig{ServerConfig: core.ServerConfig{
		Address:           DefaultAddress,
		Capacity:          DefaultCapacity,
		MaxPayload:        DefaultMaxPayload,
		ArenaPath:         shm.DefaultPath(DefaultArenaName + "-" + strconv.Itoa(os.Getpid())),
		LockTimeout:       DefaultLockTimeout,
		WorkerMode:        DefaultWorkerMode,
		MaxConnections:    DefaultMaxConnections,
		WorkerStopTimeout: DefaultWorkerStopTimeout,
		ShutdownTimeout:   DefaultShutdownTimeout,
	}}
}

// NewServer returns a Server configured by opts. Nothing is created until
// Start.
//
// In the default ProcessPerConnection mode the worker command must reach
// RunWorker; see the package documentation.
func NewServer(opts ...ServerOption) Server {
	cfg := defaultServerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &serverAdapter{Server: core.NewServer(cfg.toCoreConfig())}
}

// serverAdapter exposes core.Server through the public Server interface.
type serverAdapter struct {
	*core.Server
}

// Stats returns a snapshot taken under the arena lock.
func (s *serverAdapter) Stats(ctx context.Context) (Stats, error) {
	store := s.Store()
	if store == nil {
		return Stats{}, ErrNotStarted
	}
	st, err := store.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Len:               st.Len,
		MaxPayload:        st.NodeCap,
		Mutations:         st.Mutations,
		ArenaBytes:        st.Allocation.Size,
		RemainingBytes:    st.Allocation.Remaining,
		FreeNodes:         st.Allocation.FreeBlocks,
		ActiveConnections: s.ActiveConnections(),
	}, nil
}

// Dial connects to the server at addr. With WithDialRetry it waits for a
// starting server to come up.
func Dial(ctx context.Context, addr string, opts ...DialOption) (Client, error) {
	var cfg dialConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	c, err := client.Dial(ctx, addr, cfg.Config)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// IsWorker reports whether this process was started by a Server to serve a
// connection.
func IsWorker() bool {
	return core.IsWorker(os.Getenv)
}

// RunWorker serves the connection handed to this process and returns when
// the session ends. Cancel ctx on SIGTERM so that the server's shutdown lets
// the current command finish. Returns ErrNotWorker when IsWorker is false.
func RunWorker(ctx context.Context) error {
	return core.RunWorker(ctx, os.Getenv)
}
