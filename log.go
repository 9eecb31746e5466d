package shmstack

import (
	"log/slog"

	"github.com/giantswarm/shmstack/internal/core"
)

// SetLogger replaces the package-level logger used by servers and workers.
// The provided logger should already carry any desired attributes; shmstack
// adds only per-connection ones.
//
// If l is nil, the logger resets to slog.Default() with a "component"
// attribute, re-derived on the next use. Call SetLogger(nil) after
// slog.SetDefault() to pick up the change.
//
// SetLogger is safe to call concurrently with running servers, though a
// session may log one more line with the previous logger. Worker processes
// have their own logger; set it before RunWorker.
//
// Example:
//
//	shmstack.SetLogger(myLogger.With("component", "shmstack"))
func SetLogger(l *slog.Logger) {
	core.SetLogger(l)
}
