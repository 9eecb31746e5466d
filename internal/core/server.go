package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/giantswarm/shmstack/internal/fileutil"
	"github.com/giantswarm/shmstack/internal/netutil"
	"golang.org/x/sync/errgroup"
)

// serverState is the lifecycle state of a Server.
type serverState uint32

const (
	serverCreated      serverState = iota // Zero value; NewServer returns in this state
	serverStarting                        // Start in progress
	serverReady                           // listening; Serve allowed
	serverShuttingDown                    // Shutdown called
)

// acceptRetryDelay is the pause after a failed Accept that did not close the
// listener, such as running out of file descriptors.
const acceptRetryDelay = 50 * time.Millisecond

// Server owns the arena and the listening socket, accepts connections and
// hands each one to a worker.
//
// It is safe for concurrent use by multiple goroutines.
//
// Synchronization strategy:
//   - state is an atomic serverState (created → starting → ready → shuttingDown).
//   - mu serializes Start, the entry to Serve and Shutdown, and guards ln,
//     store and workerArgv, which are written once by Start.
//   - serving counts running Serve calls so Shutdown can wait for them.
type Server struct {
	cfg ServerConfig

	state atomic.Uint32 // serverState

	mu         sync.Mutex
	ln         *net.TCPListener
	store      *Store
	workerArgv []string

	serving sync.WaitGroup
	workers *workerSet
}

func (s *Server) loadState() serverState {
	return serverState(s.state.Load())
}

func (s *Server) storeState(st serverState) {
	s.state.Store(uint32(st))
}

// NewServer creates a Server with the provided configuration. This performs
// no I/O. Call Start, then Serve.
//
// Panics if cfg.Validate() reports any errors.
func NewServer(cfg ServerConfig) *Server {
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("shmstack: invalid server config: %v", err))
	}
	return &Server{
		cfg:     cfg,
		workers: newWorkerSet(cfg.MaxConnections),
	}
}

// Start creates the arena and the lock file and opens the listening socket.
// On failure everything created so far is removed and Start may be retried.
//
// Returns ErrAlreadyStarted if the server is listening and ErrShuttingDown
// after Shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.loadState() {
	case serverReady, serverStarting:
		return ErrAlreadyStarted
	case serverShuttingDown:
		return ErrShuttingDown
	case serverCreated:
	}
	s.storeState(serverStarting)

	if err := s.doStart(ctx); err != nil {
		s.storeState(serverCreated)
		return fmt.Errorf("start server: %w", err)
	}
	s.storeState(serverReady)
	return nil
}

func (s *Server) doStart(ctx context.Context) error {
	argv := s.cfg.WorkerCommand
	if s.cfg.WorkerMode == ProcessPerConnection && len(argv) == 0 {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolve worker executable: %w", err)
		}
		argv = []string{exe}
	}

	store, err := CreateStore(s.cfg)
	if err != nil {
		return err
	}

	ln, err := netutil.Listen(ctx, s.cfg.Address)
	if err != nil {
		_ = store.Close()
		_ = store.Remove()
		_ = fileutil.RemoveIfExists(s.cfg.ResolvedLockPath())
		return err
	}

	s.store = store
	s.ln = ln
	s.workerArgv = argv
	Logger().Info("listening",
		"addr", ln.Addr().String(),
		"port", netutil.Port(ln),
		"mode", s.cfg.WorkerMode.String(),
		"max_connections", s.cfg.MaxConnections)
	return nil
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Store returns the server's view of the arena, or nil before Start.
func (s *Server) Store() *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store
}

// ActiveConnections returns the number of connections being served.
func (s *Server) ActiveConnections() int {
	return s.workers.count()
}

// Serve accepts connections until ctx is done or Shutdown is called, and
// returns nil in both cases. With MaxConnections set, Serve stops accepting
// while every slot is busy and further clients wait in the listen backlog.
//
// Returns ErrNotStarted before Start and ErrShuttingDown after Shutdown.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	switch s.loadState() {
	case serverShuttingDown:
		s.mu.Unlock()
		return ErrShuttingDown
	case serverCreated, serverStarting:
		s.mu.Unlock()
		return ErrNotStarted
	case serverReady:
	}
	s.serving.Add(1)
	ln := s.ln
	s.mu.Unlock()
	defer s.serving.Done()

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for {
		if err := s.workers.acquire(ctx); err != nil {
			if s.stopped(ctx) {
				return nil
			}
			return fmt.Errorf("serve: %w", err)
		}

		conn, err := ln.AcceptTCP()
		if err != nil {
			s.workers.release()
			if s.stopped(ctx) {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("serve: %w", err)
			}
			Logger().Warn("accept failed", "error", err)
			select {
			case <-time.After(acceptRetryDelay):
			case <-ctx.Done():
			}
			continue
		}

		if err := s.handle(conn); err != nil {
			Logger().Error("failed to start worker",
				"remote", conn.RemoteAddr().String(), "error", err)
			s.workers.release()
		}
	}
}

// stopped reports whether Serve should return without error.
func (s *Server) stopped(ctx context.Context) bool {
	return ctx.Err() != nil || s.loadState() == serverShuttingDown
}

// handle starts a worker for conn and registers it. The caller holds a
// connection slot, which handle hands to the worker on success.
func (s *Server) handle(conn *net.TCPConn) error {
	id := s.workers.nextID()
	log := Logger().With("conn", id)
	log.Info("got connection", "remote", conn.RemoteAddr().String())

	var (
		w   worker
		err error
	)
	switch s.cfg.WorkerMode {
	case ProcessPerConnection:
		w, err = startProcessWorker(id, conn, s.workerArgv, s.cfg.workerConfig(id),
			s.cfg.LogDir, s.cfg.WorkerStopTimeout, log)
	case GoroutinePerConnection:
		w = startGoroutineWorker(id, conn, s.store, s.cfg.StrictProtocol, log)
	default:
		_ = conn.Close()
		err = fmt.Errorf("invalid worker mode: %v", s.cfg.WorkerMode)
	}
	if err != nil {
		return err
	}

	if !s.workers.add(w, s.reap) {
		// Shutdown closed the set after Accept returned.
		if stopErr := w.Stop(s.cfg.WorkerStopTimeout); stopErr != nil {
			log.Warn("failed to stop worker started during shutdown", "error", stopErr)
		}
		return ErrShuttingDown
	}
	return nil
}

// reap collects a worker whose session ended.
func (s *Server) reap(w worker) {
	log := Logger().With("conn", w.ID())
	if err := w.Stop(s.cfg.WorkerStopTimeout); err != nil {
		log.Warn("connection closed with error", "error", err)
		return
	}
	log.Info("connection closed")
}

// ListenAndServe calls Start and then Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Shutdown stops accepting, stops every worker in parallel, unmaps and
// removes the arena, and removes the lock file once no worker is left
// running. The whole of it is bounded by ShutdownTimeout and ctx. Safe to
// call more than once and before Start; later calls return nil.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	prev := s.loadState()
	s.storeState(serverShuttingDown)
	ln, store := s.ln, s.store
	s.mu.Unlock()

	if prev == serverShuttingDown {
		return nil
	}
	s.workers.close()
	if ln == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, fmt.Errorf("close listener: %w", err))
	}
	if err := s.waitServing(ctx); err != nil {
		errs = append(errs, err)
	}

	workers := s.workers.snapshot()
	if len(workers) > 0 {
		Logger().Info("stopping workers", "count", len(workers))
	}
	stopErrs := make([]error, len(workers))
	var g errgroup.Group
	for i, w := range workers {
		g.Go(func() error {
			if err := w.Stop(s.cfg.WorkerStopTimeout); err != nil {
				stopErrs[i] = fmt.Errorf("stop worker %s: %w", w.ID(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	errs = append(errs, stopErrs...)
	if err := s.workers.wait(ctx); err != nil {
		errs = append(errs, err)
	}

	// A worker still running may be inside the arena or about to open the
	// lock file.
	stuck := s.workers.count()
	if stuck == 0 || s.cfg.WorkerMode == ProcessPerConnection {
		if err := store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := store.Remove(); err != nil {
		errs = append(errs, err)
	}
	if stuck == 0 {
		if err := fileutil.RemoveIfExists(s.cfg.ResolvedLockPath()); err != nil {
			errs = append(errs, fmt.Errorf("remove lock file: %w", err))
		}
	} else {
		Logger().Warn("workers did not stop; keeping lock file",
			"workers", stuck, "lock", s.cfg.ResolvedLockPath())
	}

	Logger().Info("server stopped")
	return errors.Join(errs...)
}

// waitServing waits for running Serve calls to return.
func (s *Server) waitServing(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.serving.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for accept loop: %w", ctx.Err())
	}
}
