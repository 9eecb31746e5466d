// Package core provides the internal implementation of the shared stack
// service. It contains the Store (the mapped arena, the stack over it and the
// cross-process lock with crash recovery), the line protocol and the Session
// that serves it on one connection, and the Server (a state machine that
// accepts connections and hands each one to a worker process or goroutine,
// with parallel worker shutdown).
//
// Worker processes are the server's own executable started again with the
// connection on file descriptor 3 and their configuration in SHMSTACK_*
// environment variables; RunWorker is their entry point.
package core
