// Package process manages the lifecycle of connection worker processes.
//
// Process starts a child with an optional pair of log files, watches for its
// exit with a single cmd.Wait goroutine, and stops it with SIGTERM followed by
// SIGKILL. On Linux children get SIGTERM when the server dies.
package process
