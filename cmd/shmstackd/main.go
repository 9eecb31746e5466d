// Command shmstackd serves a shared stack over TCP.
//
// Every accepted connection is served by a copy of this binary started as a
// worker process, unless --mode=goroutine is given.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/giantswarm/shmstack"
	"github.com/spf13/pflag"
)

func main() {
	if shmstack.IsWorker() {
		os.Exit(runWorker())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stderr)
	stop()

	switch {
	case errors.Is(err, pflag.ErrHelp):
		os.Exit(0)
	case err != nil:
		fmt.Fprintln(os.Stderr, "shmstackd:", err)
		os.Exit(1)
	}
}

// runWorker serves the one connection handed to this process. SIGTERM lets
// the current command finish.
func runWorker() int {
	log := newLogger(os.Stderr, os.Getenv(envLogLevel))
	shmstack.SetLogger(log.With("component", "shmstack-worker"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := shmstack.RunWorker(ctx); err != nil {
		log.Error("worker failed", "error", err)
		return 1
	}
	return 0
}

// run parses args, serves until ctx is done, and shuts the server down.
func run(ctx context.Context, args []string, stderr io.Writer) error {
	f, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	st, err := f.validate()
	if err != nil {
		return err
	}

	log := newLogger(stderr, f.logLevel)
	shmstack.SetLogger(log.With("component", "shmstackd"))
	if err := os.Setenv(envLogLevel, f.logLevel); err != nil {
		return fmt.Errorf("export log level: %w", err)
	}

	srv := shmstack.NewServer(st.serverOptions()...)
	serveErr := srv.ListenAndServe(ctx)

	// Shutdown applies its own timeout; ctx is already done here.
	if err := srv.Shutdown(context.Background()); err != nil {
		return errors.Join(serveErr, fmt.Errorf("shutdown: %w", err))
	}
	return serveErr
}
