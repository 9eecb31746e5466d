package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// goroutineWorker serves a connection in a goroutine of the server process,
// sharing the server's Store.
type goroutineWorker struct {
	id     string
	conn   net.Conn
	cancel context.CancelFunc
	done   chan struct{}
	err    error // session result; read after done is closed

	stopOnce sync.Once
	stopErr  error
}

var _ worker = (*goroutineWorker)(nil)

// startGoroutineWorker runs a session for conn. The session ends on EXIT,
// end of input or Stop; conn is closed when it ends.
func startGoroutineWorker(id string, conn net.Conn, store StackStore, strict bool, log *slog.Logger) *goroutineWorker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &goroutineWorker{
		id:     id,
		conn:   conn,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(w.done)
		defer conn.Close()
		defer func() {
			if r := recover(); r != nil {
				w.err = fmt.Errorf("session %s panicked: %v", id, r)
				log.Error("session panicked", "panic", r)
			}
		}()

		err := NewSession(store, conn, strict, log).Run(ctx)
		if err != nil && ctx.Err() == nil {
			w.err = err
		}
	}()
	return w
}

func (w *goroutineWorker) ID() string {
	return w.id
}

func (w *goroutineWorker) Done() <-chan struct{} {
	return w.done
}

// Stop cancels the session, which lets a running store operation finish and
// abandons a lock wait, and unblocks a pending read by expiring the read
// deadline. It returns the session's error, if any.
func (w *goroutineWorker) Stop(timeout time.Duration) error {
	w.stopOnce.Do(func() {
		w.cancel()
		if err := w.conn.SetReadDeadline(time.Now()); err != nil && !errors.Is(err, net.ErrClosed) {
			Logger().Debug("expire read deadline", "conn", w.id, "error", err)
		}

		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case <-w.done:
			w.stopErr = w.err
		case <-t.C:
			_ = w.conn.Close()
			w.stopErr = fmt.Errorf("session %s did not stop within %s", w.id, timeout)
		}
	})
	return w.stopErr
}
