// Package fileutil provides the small file helpers shared by the arena, the
// lock and the worker log files: directory creation, exclusive and idempotent
// file creation, and tolerant removal.
package fileutil
