package core

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/giantswarm/shmstack/internal/netutil"
)

// RunWorker serves the connection a server handed to this process. It reads
// its configuration with getenv, takes the connection from the inherited
// descriptor, maps the arena and runs one session.
//
// Canceling ctx (the worker's SIGTERM handler) lets the current store
// operation finish and ends the session at the next read; RunWorker then
// returns nil. Returns ErrNotWorker when getenv carries no worker
// configuration.
func RunWorker(ctx context.Context, getenv func(string) string) error {
	wc, err := WorkerConfigFromEnv(getenv)
	if err != nil {
		return err
	}
	log := Logger().With("conn", wc.ConnID, "pid", os.Getpid())

	conn, err := netutil.InheritedConn(netutil.InheritedConnFD)
	if err != nil {
		return fmt.Errorf("run worker: %w", err)
	}
	defer conn.Close()

	store, err := OpenStore(wc.ArenaPath, wc.LockPath, wc.LockTimeout)
	if err != nil {
		log.Error("open arena", "error", err)
		_, _ = conn.Write(ErrorReply(err))
		return fmt.Errorf("run worker: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("close arena", "error", err)
		}
	}()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	log.Debug("session started")
	err = NewSession(store, conn, wc.StrictProtocol, log).Run(ctx)
	if ctx.Err() != nil {
		log.Info("session stopped by signal")
		return nil
	}
	if err != nil {
		return fmt.Errorf("run worker: %w", err)
	}
	log.Debug("session ended")
	return nil
}
