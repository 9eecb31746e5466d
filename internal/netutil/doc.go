// Package netutil holds the socket plumbing of the stack server: opening the
// listening socket with address reuse, and handing an accepted connection to
// a worker process as an inherited file descriptor.
package netutil
