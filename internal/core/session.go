package core

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"syscall"
)

// StackStore is the shared stack a Session operates on. *Store implements it.
type StackStore interface {
	Push(ctx context.Context, payload []byte) error
	Pop(ctx context.Context) error
	Top(ctx context.Context) ([]byte, error)
	MaxPayload() int
}

var _ StackStore = (*Store)(nil)

// minLineBuffer is the smallest line buffer a session uses, so that short
// payload limits still leave room for every fixed command.
const minLineBuffer = 64

// Session serves the line protocol on one connection.
type Session struct {
	store  StackStore
	rw     io.ReadWriter
	strict bool
	log    *slog.Logger
}

// NewSession returns a Session reading commands from and writing replies to
// rw. If log is nil, Logger() is used.
func NewSession(store StackStore, rw io.ReadWriter, strict bool, log *slog.Logger) *Session {
	if log == nil {
		log = Logger()
	}
	return &Session{store: store, rw: rw, strict: strict, log: log}
}

// Run serves commands until EXIT, end of input, a transport error, or a store
// error that makes the arena unusable (ErrLockFailed, ErrArenaCorrupt). EXIT
// and end of input return nil. Store errors that only fail the command are
// answered with an error reply and the session continues.
//
// Lines longer than a PUSH of the largest payload are discarded up to the
// next newline and answered as too large without reaching the store.
func (s *Session) Run(ctx context.Context) error {
	r := bufio.NewReaderSize(s.rw, max(len(pushPrefix)+s.store.MaxPayload()+2, minLineBuffer))
	w := bufio.NewWriter(s.rw)

	for {
		line, overlong, readErr := readLine(r)
		if len(line) == 0 && !overlong && readErr != nil {
			return endOfInput(readErr)
		}

		var (
			exit bool
			err  error
		)
		if overlong {
			err = s.overlong(line, w)
		} else {
			exit, err = s.handle(ctx, ParseCommand(line), w)
		}
		if flushErr := w.Flush(); flushErr != nil {
			if peerGone(flushErr) {
				return nil
			}
			return fmt.Errorf("write reply: %w", flushErr)
		}
		if err != nil || exit {
			return err
		}
		if readErr != nil {
			return endOfInput(readErr)
		}
	}
}

// handle executes one command and buffers its reply, if any. It returns
// exit=true for EXIT and a non-nil error when the session must end.
func (s *Session) handle(ctx context.Context, cmd Command, w *bufio.Writer) (bool, error) {
	var err error
	switch cmd.Op {
	case OpPush:
		err = s.store.Push(ctx, cmd.Payload)
	case OpPop:
		err = s.store.Pop(ctx)
	case OpTop:
		var top []byte
		top, err = s.store.Top(ctx)
		switch {
		case errors.Is(err, ErrEmpty):
			err = nil
			_, _ = w.WriteString(EmptyMarker + "\n")
		case err == nil:
			_, _ = w.Write(top)
			_ = w.WriteByte('\n')
		}
	case OpPing:
		_, _ = w.WriteString(PongReply + "\n")
	case OpExit:
		return true, nil
	case OpUnknown:
		if s.strict {
			err = ErrUnknownCommand
		} else {
			s.log.Debug("ignoring unrecognized command")
		}
	}
	if err == nil {
		return false, nil
	}

	if ctx.Err() != nil {
		return false, fmt.Errorf("%s: %w", cmd.Op, ctx.Err())
	}
	_, _ = w.Write(ErrorReply(err))
	if errors.Is(err, ErrLockFailed) || errors.Is(err, ErrArenaCorrupt) {
		s.log.Error("ending session", "command", cmd.Op.String(), "error", err)
		return false, err
	}
	s.log.Debug("command failed", "command", cmd.Op.String(), "error", err)
	return false, nil
}

// overlong answers a discarded line. head holds the line's first bytes.
func (s *Session) overlong(head []byte, w *bufio.Writer) error {
	if bytes.HasPrefix(head, []byte(pushPrefix)) {
		_, _ = w.Write(ErrorReply(ErrPayloadTooLarge))
		return nil
	}
	if s.strict {
		_, _ = w.Write(ErrorReply(ErrUnknownCommand))
	}
	return nil
}

// readLine returns the next line without its newline. When the line does not
// fit the reader's buffer, the rest of it is consumed and discarded, and only
// a copy of its first bytes is returned with overlong set. A final line
// without a newline is returned together with io.EOF.
func readLine(r *bufio.Reader) (line []byte, overlong bool, err error) {
	line, err = r.ReadSlice('\n')
	if !errors.Is(err, bufio.ErrBufferFull) {
		return bytes.TrimSuffix(line, []byte("\n")), false, err
	}

	head := bytes.Clone(line[:min(len(line), len(pushPrefix))])
	for errors.Is(err, bufio.ErrBufferFull) {
		_, err = r.ReadSlice('\n')
	}
	return head, true, err
}

// endOfInput maps the read error that ended a session to its result. A
// client that went away, cleanly or with a reset, ends the session normally.
func endOfInput(err error) error {
	if errors.Is(err, io.EOF) || peerGone(err) {
		return nil
	}
	return fmt.Errorf("read command: %w", err)
}

// peerGone reports whether err means the client closed or reset its end of
// the connection.
func peerGone(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, net.ErrClosed)
}
