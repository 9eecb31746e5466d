// Package filelock provides the cross-process exclusive lock that guards the
// shared arena.
//
// The lock is an advisory flock(2) on a well-known file, acquired through
// github.com/gofrs/flock. The kernel drops the lock when the holding process
// exits for any reason, so a worker that crashes mid-command cannot wedge the
// service. Goroutines inside one process share a Lock and are serialized by an
// in-process gate before they reach the file lock, because flock(2) ownership
// belongs to the open file and not to the goroutine.
package filelock
