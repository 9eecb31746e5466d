package client

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/giantswarm/shmstack/internal/core"
	"github.com/giantswarm/shmstack/internal/sentinel"
)

// ErrInvalidPayload is returned by Push for payloads that cannot be sent on
// a single protocol line.
const ErrInvalidPayload = sentinel.Error("payload must not contain line breaks")

// ErrClosed is returned by calls on a closed Client.
const ErrClosed = sentinel.Error("client is closed")

// Client is one protocol session. It is safe for concurrent use; calls are
// serialized on the connection.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	r      *bufio.Reader
	w      *bufio.Writer
	closed bool
}

// Push pushes payload. Server-side failures such as a full arena come back
// as a *core.ServerError matching core.ErrCapacityExhausted and friends.
func (c *Client) Push(ctx context.Context, payload []byte) error {
	if bytes.ContainsAny(payload, "\r\n") {
		return ErrInvalidPayload
	}
	return c.synced(ctx, core.Command{Op: core.OpPush, Payload: payload})
}

// Pop removes the top element. Popping an empty stack is not an error.
func (c *Client) Pop(ctx context.Context) error {
	return c.synced(ctx, core.Command{Op: core.OpPop})
}

// Top returns the top element, or core.ErrEmpty.
func (c *Client) Top(ctx context.Context) ([]byte, error) {
	var top []byte
	err := c.roundTrip(ctx, func() error {
		if err := c.write(core.Command{Op: core.OpTop}); err != nil {
			return err
		}
		line, err := c.readLine()
		if err != nil {
			return err
		}
		payload, err := core.ParseReply(line)
		if err != nil {
			return err
		}
		top = []byte(payload)
		return nil
	})
	return top, err
}

// Ping checks that the session is alive.
func (c *Client) Ping(ctx context.Context) error {
	return c.roundTrip(ctx, func() error {
		if err := c.write(core.Command{Op: core.OpPing}); err != nil {
			return err
		}
		return c.readPong()
	})
}

// Close sends EXIT and closes the connection. It is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.write(core.Command{Op: core.OpExit})
	return c.conn.Close()
}

// synced sends cmd followed by PING and waits for the PONG.
func (c *Client) synced(ctx context.Context, cmd core.Command) error {
	return c.roundTrip(ctx, func() error {
		if _, err := c.w.Write(cmd.Line()); err != nil {
			return fmt.Errorf("send %s: %w", cmd.Op, err)
		}
		if err := c.write(core.Command{Op: core.OpPing}); err != nil {
			return err
		}
		return c.readPong()
	})
}

// roundTrip runs fn with the connection locked and ctx mapped onto the
// connection deadline.
func (c *Client) roundTrip(ctx context.Context, fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	err := fn()
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	return err
}

// write buffers cmd and flushes the connection.
func (c *Client) write(cmd core.Command) error {
	if _, err := c.w.Write(cmd.Line()); err != nil {
		return fmt.Errorf("send %s: %w", cmd.Op, err)
	}
	if err := c.w.Flush(); err != nil {
		return fmt.Errorf("send %s: %w", cmd.Op, err)
	}
	return nil
}

// readPong reads replies up to PONG and returns the first error reply. When
// the server ends the session after an error reply, that reply is returned
// instead of the read error.
func (c *Client) readPong() error {
	var first error
	for {
		line, err := c.readLine()
		if err != nil {
			if first != nil {
				return first
			}
			return err
		}
		if line == core.PongReply {
			return first
		}
		if _, replyErr := core.ParseReply(line); replyErr != nil && first == nil {
			var se *core.ServerError
			if errors.As(replyErr, &se) {
				first = se
			}
		}
	}
}

func (c *Client) readLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read reply: %w", err)
	}
	return line[:len(line)-1], nil
}
