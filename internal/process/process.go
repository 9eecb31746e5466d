package process

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/giantswarm/shmstack/internal/sentinel"
)

// ErrAlreadyStarted is returned when Start is called on a process that is
// already running.
const ErrAlreadyStarted = sentinel.Error("process already started")

// ErrNilCmd is returned when Start is called with a nil *exec.Cmd.
const ErrNilCmd = sentinel.Error("cmd must not be nil")

// ErrEmptyCmdPath is returned when Start is called with an empty cmd.Path.
const ErrEmptyCmdPath = sentinel.Error("cmd.Path must not be empty")

// Process is one child process.
//
// Process is not safe for concurrent use; callers serialize Start, Stop and
// Close. Exited may be read from any goroutine.
type Process struct {
	cmd         *exec.Cmd
	waitDone    <-chan error    // receives cmd.Wait result; consumed by Stop
	exited      <-chan struct{} // closed when the process exits
	logFiles    LogFiles
	name        string
	log         *slog.Logger
	stopTimeout time.Duration // used by Close; zero means DefaultStopTimeout
}

// New returns a Process with the given name, logger and stop timeout. The
// stop timeout is used when Close has to stop a process that is still running.
// If logger is nil, slog.Default() is used. Panics if name is empty.
func New(name string, logger *slog.Logger, stopTimeout time.Duration) *Process {
	if name == "" {
		panic("shmstack: process name must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Process{name: name, log: logger, stopTimeout: stopTimeout}
}

// Name returns the process name.
func (p *Process) Name() string {
	return p.name
}

// Pid returns the OS process id, or 0 when the process is not running.
func (p *Process) Pid() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Start starts cmd. When logDir is non-empty, stdout and stderr go to
// "<name>-stdout.log" and "<name>-stderr.log" in logDir; otherwise any
// output the caller did not redirect goes to the server's stderr.
//
// Returns ErrAlreadyStarted if the process is running. Stop it first.
func (p *Process) Start(cmd *exec.Cmd, logDir string) error {
	if cmd == nil {
		return ErrNilCmd
	}
	if cmd.Path == "" {
		return ErrEmptyCmdPath
	}
	if p.cmd != nil {
		return ErrAlreadyStarted
	}

	configureSysProcAttr(cmd)

	if logDir != "" {
		logFiles, err := startWithLogs(cmd, logDir, p.name)
		if err != nil {
			return err
		}
		p.logFiles = logFiles
	} else {
		if cmd.Stdout == nil {
			cmd.Stdout = os.Stderr
		}
		if cmd.Stderr == nil {
			cmd.Stderr = os.Stderr
		}
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("start %s process: %w", p.name, err)
		}
	}
	p.cmd = cmd

	// cmd.Wait must be called exactly once per started process. done carries
	// its result to Stop; exited broadcasts the exit to any number of readers.
	done := make(chan error, 1)
	exited := make(chan struct{})
	go func() {
		done <- cmd.Wait()
		close(exited)
	}()
	p.waitDone = done
	p.exited = exited

	return nil
}

// Stop terminates the process with the given timeout and collects its exit
// status. A process that already exited is only collected. After Stop,
// IsStarted reports false. Stop on a process that is not running returns nil.
func (p *Process) Stop(timeout time.Duration) error {
	if p.cmd == nil || p.cmd.Process == nil {
		p.cmd = nil
		p.waitDone = nil
		p.exited = nil
		return nil
	}
	pid := p.cmd.Process.Pid
	err := stopWithDone(p.cmd, p.waitDone, timeout, p.name)
	if err != nil {
		p.log.Warn("process stop failed",
			"process", p.name, "pid", pid, "error", err)
	}
	p.cmd = nil
	p.waitDone = nil
	p.exited = nil
	return err
}

// Close closes the log files. A process that is still running is stopped
// first, with a warning, since callers are expected to Stop before Close.
func (p *Process) Close() {
	if p.cmd != nil {
		p.log.Warn("process closed without stop; stopping", "process", p.name)
		timeout := p.stopTimeout
		if timeout <= 0 {
			timeout = DefaultStopTimeout
		}
		_ = p.Stop(timeout)
	}
	p.logFiles.Close()
}

// Release stops the process and closes its log files in one step, returning
// the Stop error. The log files are closed even when Stop fails. Release on a
// nil *Process returns nil.
func (p *Process) Release(timeout time.Duration) error {
	if p == nil {
		return nil
	}
	err := p.Stop(timeout)
	p.logFiles.Close()
	return err
}

// Exited returns a channel closed when the process exits, or nil when the
// process is not running.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// IsStarted reports whether the process has been started and not yet stopped.
func (p *Process) IsStarted() bool {
	return p.cmd != nil
}

// LogFiles returns the process log files. Both paths are empty when the
// process logs to the server's stderr.
func (p *Process) LogFiles() *LogFiles {
	return &p.logFiles
}
