package netutil

import (
	"context"
	"fmt"
	"net"
)

// Listen opens a TCP listener on address with SO_REUSEADDR set, so a restarted
// server can bind while connections of its predecessor sit in TIME_WAIT. The
// accept backlog is the kernel default (net.core.somaxconn).
func Listen(ctx context.Context, address string) (*net.TCPListener, error) {
	lc := net.ListenConfig{Control: reuseAddr}
	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", address, err)
	}
	tl, ok := ln.(*net.TCPListener)
	if !ok {
		_ = ln.Close()
		return nil, fmt.Errorf("listen on %s: unexpected listener type %T", address, ln)
	}
	return tl, nil
}

// Port returns the TCP port ln is bound to.
func Port(ln net.Listener) int {
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}
