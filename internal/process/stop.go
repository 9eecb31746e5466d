package process

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"
)

// DefaultStopTimeout is the stop timeout used when none is configured. Close
// falls back to it for a Process created with a zero stop timeout.
const DefaultStopTimeout = 10 * time.Second

// termGracePeriod is the longest a worker gets to leave on its own after
// SIGTERM before it is killed. The effective grace period is capped at the
// overall stop timeout, so short timeouts escalate sooner.
const termGracePeriod = 5 * time.Second

// killDrainTimeout bounds the wait for the cmd.Wait result once SIGKILL has
// been sent, or once the process turned out to have exited already. SIGKILL
// cannot be handled, so the result normally arrives at once. The bound only
// matters when cmd.Wait itself is stuck, for example on a pipe that a
// grandchild still holds open.
const killDrainTimeout = 10 * time.Second

// drainDone reads from done with timeout as a hard upper bound. After the
// process has exited, cmd.Wait returns almost immediately, so the timer is
// not expected to fire in practice.
//
// It returns true and the cmd.Wait error when the channel delivered in time,
// and false with a nil error when the timeout elapsed first.
func drainDone(done <-chan error, timeout time.Duration) (bool, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case err := <-done:
		return true, err
	case <-t.C:
		return false, nil
	}
}

// stopWithDone runs the SIGTERM-then-SIGKILL sequence against a process whose
// single cmd.Wait call is already running in another goroutine and reports
// on done. It never calls cmd.Wait itself: a second Wait on the same command
// is not allowed. done must carry the result of exactly that one call.
//
// Sequence:
//  1. Send SIGTERM. A worker finishes its current command and exits.
//  2. Arm SIGKILL with time.AfterFunc after the grace period. The timer is
//     canceled if the process exits first.
//  3. Wait for the exit status or for the total timeout.
//
// stopWithDone leaves cmd and done untouched. The caller clears its own
// references afterwards so that later Stop calls and IsStarted see the
// process as gone.
//
// Worst-case blocking is timeout + killDrainTimeout: the total timeout
// expires and the drain after SIGKILL then runs for its full bound. Callers
// that budget shutdown time across many workers should allow for the extra
// killDrainTimeout.
func stopWithDone(cmd *exec.Cmd, done <-chan error, timeout time.Duration, name string) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if done == nil {
		return fmt.Errorf("%s: done channel must not be nil", name)
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Signal fails once the process is gone. Only the exit status is
		// left to collect, still under a hard bound.
		ok, waitErr := drainDone(done, killDrainTimeout)
		if !ok {
			return fmt.Errorf("%s: timed out draining process after signal failure", name)
		}
		return expectSignalExit(waitErr, name)
	}

	// grace is clamped to timeout, so SIGKILL always fires while totalTimer
	// is still pending. By the time the total timeout expires the process has
	// been killed, and the drain below collects a status instead of timing
	// out.
	grace := min(termGracePeriod, timeout)
	killTimer := time.AfterFunc(grace, func() {
		// Kill on a process that Wait has already reaped returns
		// "os: process already finished" and does nothing else.
		_ = cmd.Process.Kill()
	})
	// The kill callback must not outlive this call: the caller may drop
	// cmd as soon as stopWithDone returns.
	defer killTimer.Stop()

	totalTimer := time.NewTimer(timeout)
	defer totalTimer.Stop()

	select {
	case err := <-done:
		return expectSignalExit(err, name)
	case <-totalTimer.C:
		ok, waitErr := drainDone(done, killDrainTimeout)
		if !ok {
			return fmt.Errorf("%s: timed out waiting for process to exit after SIGKILL", name)
		}
		if err := expectSignalExit(waitErr, name); err != nil {
			return fmt.Errorf("%s stop timeout: %w", name, err)
		}
		return nil
	}
}

// expectSignalExit interprets a cmd.Wait error after a termination signal
// was sent. A worker that died of SIGTERM or SIGKILL was stopped as asked,
// so those exits count as clean. Any other failure, such as a worker that
// exited with status 1 because its session failed, is returned wrapped with
// name.
func expectSignalExit(err error, name string) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			sig := status.Signal()
			if sig == syscall.SIGTERM || sig == syscall.SIGKILL {
				return nil
			}
		}
	}
	return fmt.Errorf("%s: %w", name, err)
}
