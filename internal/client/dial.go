package client

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/giantswarm/shmstack/internal/sentinel"
	"k8s.io/apimachinery/pkg/util/wait"
)

// defaultRetryInterval is the pause between dial attempts.
const defaultRetryInterval = 50 * time.Millisecond

// ErrBadRetryInterval is returned by Dial for a negative retry interval.
const ErrBadRetryInterval = sentinel.Error("retry interval must not be negative")

// Config configures Dial.
type Config struct {
	// RetryTimeout keeps dialing until the server answers PING or the
	// timeout elapses. 0 dials once.
	RetryTimeout time.Duration

	// RetryInterval is the pause between attempts. 0 means 50ms.
	RetryInterval time.Duration

	// Logger is optional; defaults to slog.Default().
	Logger *slog.Logger
}

// Dial connects to the server at addr and checks the session with PING.
// With cfg.RetryTimeout set it keeps trying while the server comes up.
func Dial(ctx context.Context, addr string, cfg Config) (*Client, error) {
	if cfg.RetryTimeout <= 0 {
		return dialOnce(ctx, addr)
	}
	if cfg.RetryInterval < 0 {
		return nil, fmt.Errorf("dial %s: %w", addr, ErrBadRetryInterval)
	}

	interval := cfg.RetryInterval
	if interval == 0 {
		interval = defaultRetryInterval
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	// The condition runs sequentially, so attempt and c need no locking.
	var (
		c       *Client
		attempt int
	)
	err := wait.PollUntilContextTimeout(ctx, interval, cfg.RetryTimeout, true,
		func(pollCtx context.Context) (bool, error) {
			attempt++
			cl, err := dialOnce(pollCtx, addr)
			if err != nil {
				log.Debug("dial attempt failed", "addr", addr, "attempt", attempt, "error", err)
				return false, nil
			}
			c = cl
			return true, nil
		})
	if err != nil {
		return nil, fmt.Errorf("wait for shmstack server readiness at %s after %d attempts: %w", addr, attempt, err)
	}
	log.Debug("connected", "addr", addr, "attempt", attempt)
	return c, nil
}

func dialOnce(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c := &Client{conn: conn, r: bufio.NewReader(conn), w: bufio.NewWriter(conn)}
	if err := c.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return c, nil
}
