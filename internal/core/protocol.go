package core

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// Op is a protocol command.
type Op int

const (
	OpUnknown Op = iota
	OpPush
	OpPop
	OpTop
	OpExit
	OpPing
)

// String returns the wire spelling of o.
func (o Op) String() string {
	switch o {
	case OpPush:
		return "PUSH"
	case OpPop:
		return "POP"
	case OpTop:
		return "TOP"
	case OpExit:
		return "EXIT"
	case OpPing:
		return "PING"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

const (
	pushPrefix = "PUSH "

	// EmptyMarker is the TOP reply for an empty stack.
	EmptyMarker = "-"

	// PongReply answers PING. Clients send PING after commands that have no
	// reply of their own to learn that they were processed.
	PongReply = "PONG"

	errorPrefix = "ERR "
)

// Command is one parsed protocol line.
type Command struct {
	Op      Op
	Payload []byte // PUSH only; aliases the input line
}

// ParseCommand decodes one line without its trailing newline. A trailing
// carriage return is ignored. Matching is case-sensitive and exact: "TOP"
// is a command, "TOPS" and "top" are not.
func ParseCommand(line []byte) Command {
	line = bytes.TrimSuffix(line, []byte("\r"))
	switch {
	case bytes.HasPrefix(line, []byte(pushPrefix)):
		return Command{Op: OpPush, Payload: line[len(pushPrefix):]}
	case string(line) == "POP":
		return Command{Op: OpPop}
	case string(line) == "TOP":
		return Command{Op: OpTop}
	case string(line) == "EXIT":
		return Command{Op: OpExit}
	case string(line) == "PING":
		return Command{Op: OpPing}
	default:
		return Command{Op: OpUnknown}
	}
}

// Line encodes c as a protocol line including the trailing newline.
func (c Command) Line() []byte {
	if c.Op == OpPush {
		out := make([]byte, 0, len(pushPrefix)+len(c.Payload)+1)
		out = append(out, pushPrefix...)
		out = append(out, c.Payload...)
		return append(out, '\n')
	}
	return []byte(c.Op.String() + "\n")
}

// replyReasons maps errors a session reports to clients onto their wire
// reasons. Order matters: the first match wins.
var replyReasons = []struct {
	err    error
	reason string
}{
	{ErrCapacityExhausted, "capacity exhausted"},
	{ErrPayloadTooLarge, "payload too large"},
	{ErrReservedPayload, "reserved payload"},
	{ErrLockTimeout, "lock timeout"},
	{ErrLockFailed, "lock failed"},
	{ErrArenaCorrupt, "arena corrupt"},
	{ErrUnknownCommand, "unknown command"},
}

// internalReason is sent for errors without a dedicated reason.
const internalReason = "internal error"

// ErrorReply encodes err as an "ERR <reason>" line including the newline.
func ErrorReply(err error) []byte {
	reason := internalReason
	for _, r := range replyReasons {
		if errors.Is(err, r.err) {
			reason = r.reason
			break
		}
	}
	return []byte(errorPrefix + reason + "\n")
}

// ServerError is a failure reported by the server in an "ERR" reply. It
// unwraps to the matching sentinel error when the reason is known.
type ServerError struct {
	Reason string
}

func (e *ServerError) Error() string {
	return "server error: " + e.Reason
}

// Unwrap returns the sentinel error for the reason, or nil.
func (e *ServerError) Unwrap() error {
	for _, r := range replyReasons {
		if r.reason == e.Reason {
			return r.err
		}
	}
	return nil
}

// ParseReply decodes one reply line without its trailing newline. It returns
// a *ServerError for "ERR" replies and ErrEmpty for the empty marker.
func ParseReply(line string) (string, error) {
	line = strings.TrimSuffix(line, "\r")
	if reason, ok := strings.CutPrefix(line, errorPrefix); ok {
		return "", &ServerError{Reason: reason}
	}
	if line == EmptyMarker {
		return "", ErrEmpty
	}
	return line, nil
}
