package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/giantswarm/shmstack"
	"github.com/spf13/pflag"
)

// maxPayloadLimit is the largest node payload the arena supports.
const maxPayloadLimit = 16 << 20

// envLogLevel carries the daemon's log level to its worker processes, which
// inherit the environment.
const envLogLevel = "SHMSTACK_LOG_LEVEL"

// flags holds the parsed command line.
type flags struct {
	addr            string
	capacity        int
	maxPayload      string
	arena           string
	lock            string
	lockTimeout     time.Duration
	mode            string
	maxConns        int
	strict          bool
	logDir          string
	logLevel        string
	stopTimeout     time.Duration
	shutdownTimeout time.Duration
}

// parseFlags parses args (without the program name). pflag.ErrHelp is
// returned as is when -h or --help is given.
func parseFlags(args []string, output io.Writer) (flags, error) {
	var f flags
	fs := pflag.NewFlagSet("shmstackd", pflag.ContinueOnError)
	fs.SetOutput(output)
	fs.SortFlags = false

	fs.StringVarP(&f.addr, "addr", "a", shmstack.DefaultAddress, "TCP listen address")
	fs.IntVarP(&f.capacity, "capacity", "c", shmstack.DefaultCapacity, "number of elements the stack can hold")
	fs.StringVar(&f.maxPayload, "max-payload", humanize.IBytes(shmstack.DefaultMaxPayload), "largest element, e.g. 1KiB or 4096")
	fs.StringVar(&f.arena, "arena", "", "arena file (default /dev/shm/shmstack-<pid>)")
	fs.StringVar(&f.lock, "lock", "", "lock file (default <arena>.lock)")
	fs.DurationVar(&f.lockTimeout, "lock-timeout", shmstack.DefaultLockTimeout, "bound on each lock acquisition, 0 waits forever")
	fs.StringVarP(&f.mode, "mode", "m", "process", "worker mode: process or goroutine")
	fs.IntVar(&f.maxConns, "max-conns", shmstack.DefaultMaxConnections, "concurrent connections, 0 for unlimited")
	fs.BoolVar(&f.strict, "strict", false, "answer unknown commands with an error")
	fs.StringVar(&f.logDir, "log-dir", "", "directory for per-worker log files")
	fs.StringVar(&f.logLevel, "log-level", "info", "debug, info, warn or error")
	fs.DurationVar(&f.stopTimeout, "worker-stop-timeout", shmstack.DefaultWorkerStopTimeout, "grace period for workers on shutdown")
	fs.DurationVar(&f.shutdownTimeout, "shutdown-timeout", shmstack.DefaultShutdownTimeout, "bound on the whole shutdown")

	if err := fs.Parse(args); err != nil {
		return flags{}, err
	}
	if fs.NArg() > 0 {
		return flags{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return f, nil
}

// settings is a validated command line.
type settings struct {
	flags
	maxPayloadBytes int
	workerMode      shmstack.WorkerMode
}

// validate checks f and resolves the values that need parsing. Every
// violation is reported, joined with errors.Join.
func (f flags) validate() (settings, error) {
	var errs []error

	if f.addr == "" {
		errs = append(errs, errors.New("--addr must not be empty"))
	}
	if f.capacity <= 0 {
		errs = append(errs, fmt.Errorf("--capacity must be greater than 0, got %d", f.capacity))
	}
	maxPayload, err := humanize.ParseBytes(f.maxPayload)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("--max-payload: %w", err))
	case maxPayload == 0 || maxPayload > maxPayloadLimit:
		errs = append(errs, fmt.Errorf("--max-payload must be in (0, %s], got %s",
			humanize.IBytes(maxPayloadLimit), humanize.IBytes(maxPayload)))
	}
	if f.lock != "" && f.lock == f.arena {
		errs = append(errs, errors.New("--lock must differ from --arena"))
	}
	if f.lockTimeout < 0 {
		errs = append(errs, fmt.Errorf("--lock-timeout must not be negative, got %s", f.lockTimeout))
	}
	mode, err := shmstack.ParseWorkerMode(f.mode)
	if err != nil {
		errs = append(errs, fmt.Errorf("--mode: %w", err))
	}
	if f.maxConns < 0 {
		errs = append(errs, fmt.Errorf("--max-conns must not be negative, got %d", f.maxConns))
	}
	if f.stopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("--worker-stop-timeout must be greater than 0, got %s", f.stopTimeout))
	}
	if f.shutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("--shutdown-timeout must be greater than 0, got %s", f.shutdownTimeout))
	}
	if _, err := parseLevel(f.logLevel); err != nil {
		errs = append(errs, fmt.Errorf("--log-level: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return settings{}, err
	}
	return settings{flags: f, maxPayloadBytes: int(maxPayload), workerMode: mode}, nil
}

// serverOptions converts validated settings to server options.
func (s settings) serverOptions() []shmstack.ServerOption {
	opts := []shmstack.ServerOption{
		shmstack.WithAddress(s.addr),
		shmstack.WithCapacity(s.capacity),
		shmstack.WithMaxPayload(s.maxPayloadBytes),
		shmstack.WithLockTimeout(s.lockTimeout),
		shmstack.WithWorkerMode(s.workerMode),
		shmstack.WithMaxConnections(s.maxConns),
		shmstack.WithStrictProtocol(s.strict),
		shmstack.WithWorkerStopTimeout(s.stopTimeout),
		shmstack.WithShutdownTimeout(s.shutdownTimeout),
	}
	if s.arena != "" {
		opts = append(opts, shmstack.WithArenaPath(s.arena))
	}
	if s.lock != "" {
		opts = append(opts, shmstack.WithLockPath(s.lock))
	}
	if s.logDir != "" {
		opts = append(opts, shmstack.WithLogDir(s.logDir))
	}
	return opts
}

// parseLevel maps a level name to a slog.Level.
func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, err
	}
	return l, nil
}

// newLogger returns a text logger writing to w at the named level. Unknown
// levels fall back to info.
func newLogger(w io.Writer, level string) *slog.Logger {
	l, err := parseLevel(level)
	if err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l}))
}
