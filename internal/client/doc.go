// Package client speaks the stack server's line protocol over one TCP
// connection.
//
// PUSH and POP have no reply of their own. The client follows each of them
// with PING and reads up to the PONG, so every call returns only after the
// server processed the command, and any "ERR" reply is reported as a
// *core.ServerError.
package client
