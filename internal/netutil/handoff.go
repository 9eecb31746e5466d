package netutil

import (
	"fmt"
	"net"
	"os"
)

// InheritedConnFD is the descriptor number a worker finds its connection on.
// exec.Cmd.ExtraFiles starts numbering after stdin, stdout and stderr.
const InheritedConnFD = 3

// ConnFile returns a duplicate of conn's descriptor as an *os.File, ready to
// be passed to a child through exec.Cmd.ExtraFiles. The caller closes both
// conn and the file once the child has started; the child keeps its own copy.
func ConnFile(conn *net.TCPConn) (*os.File, error) {
	f, err := conn.File()
	if err != nil {
		return nil, fmt.Errorf("duplicate connection descriptor: %w", err)
	}
	return f, nil
}

// InheritedConn wraps the inherited descriptor fd as a net.Conn. The
// descriptor is duplicated by net.FileConn and the original is closed.
func InheritedConn(fd uintptr) (net.Conn, error) {
	f := os.NewFile(fd, "conn")
	if f == nil {
		return nil, fmt.Errorf("inherited descriptor %d is invalid", fd)
	}
	defer f.Close()

	conn, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("wrap inherited descriptor %d: %w", fd, err)
	}
	return conn, nil
}
