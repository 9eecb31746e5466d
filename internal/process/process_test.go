package process

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestExpectSignalExit(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		err     error
		signal  syscall.Signal
		wantErr bool
	}{
		"nil error returns nil":       {},
		"SIGTERM exit is expected":    {signal: syscall.SIGTERM},
		"SIGKILL exit is expected":    {signal: syscall.SIGKILL},
		"other signal is unexpected":  {signal: syscall.SIGINT, wantErr: true},
		"non-ExitError is unexpected": {err: errors.New("wait failed"), wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			inputErr := tc.err
			if inputErr == nil && tc.signal != 0 {
				inputErr = makeSignalExitError(t, tc.signal)
			}

			got := expectSignalExit(inputErr, "worker-conn-1")
			if tc.wantErr && got == nil {
				t.Fatal("expected error, got nil")
			}
			if !tc.wantErr && got != nil {
				t.Fatalf("expected nil, got %v", got)
			}
		})
	}
}

func TestExpectSignalExit_WrapsProcessName(t *testing.T) {
	t.Parallel()

	err := expectSignalExit(errors.New("exit status 3"), "worker-conn-7")
	if got := err.Error(); got != "worker-conn-7: exit status 3" {
		t.Errorf("error = %q, want %q", got, "worker-conn-7: exit status 3")
	}
}

func TestDrainDone(t *testing.T) {
	t.Parallel()

	crashed := errors.New("worker crashed")
	tests := map[string]struct {
		send    bool
		value   error
		wantOK  bool
		wantErr error
	}{
		"receives nil":        {send: true, wantOK: true},
		"receives error":      {send: true, value: crashed, wantOK: true, wantErr: crashed},
		"times out when idle": {wantOK: false},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			done := make(chan error, 1)
			if tc.send {
				done <- tc.value
			}

			ok, err := drainDone(done, 10*time.Millisecond)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("creates process with name", func(t *testing.T) {
		t.Parallel()
		p := New("worker-conn-1", nil, 0)
		if p.Name() != "worker-conn-1" {
			t.Errorf("Name() = %q, want %q", p.Name(), "worker-conn-1")
		}
		if p.log == nil {
			t.Fatal("expected non-nil logger")
		}
		if p.IsStarted() || p.Pid() != 0 || p.Exited() != nil {
			t.Error("new process should not be started")
		}
	})

	t.Run("panics on empty name", func(t *testing.T) {
		t.Parallel()
		defer func() {
			r := recover()
			if r == nil {
				t.Fatal("expected panic for empty name")
			}
			if msg, _ := r.(string); msg != "shmstack: process name must not be empty" {
				t.Errorf("panic message = %q", msg)
			}
		}()
		New("", nil, 0)
	})
}

func TestStartRejectsInvalidCmd(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		cmd  *exec.Cmd
		want error
	}{
		"nil cmd":    {cmd: nil, want: ErrNilCmd},
		"empty path": {cmd: &exec.Cmd{}, want: ErrEmptyCmdPath},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if err := New("worker", nil, 0).Start(tc.cmd, ""); !errors.Is(err, tc.want) {
				t.Fatalf("Start() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestStopAndCloseWhenNotStarted(t *testing.T) {
	t.Parallel()

	p := New("worker", nil, 0)
	if err := p.Stop(time.Second); err != nil {
		t.Fatalf("Stop on unstarted process should return nil, got %v", err)
	}
	p.Close()
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	p := New("sleeper", nil, time.Second)
	if err := p.Start(exec.Command("sleep", "60"), ""); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if !p.IsStarted() || p.Pid() == 0 {
		t.Fatal("process should be started")
	}
	if err := p.Start(exec.Command("sleep", "60"), ""); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start() error = %v, want ErrAlreadyStarted", err)
	}

	exited := p.Exited()
	if err := p.Stop(2 * time.Second); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("Exited channel not closed after Stop")
	}
	if p.IsStarted() {
		t.Error("process should not be started after Stop")
	}
	p.Close()
}

func TestStopCollectsExitedProcess(t *testing.T) {
	t.Parallel()

	p := New("failer", nil, time.Second)
	if err := p.Start(exec.Command("sh", "-c", "exit 3"), ""); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	select {
	case <-p.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}

	err := p.Stop(time.Second)
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 3 {
		t.Fatalf("Stop() error = %v, want exit status 3", err)
	}
}

func TestStartWithLogFiles(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "logs")
	p := New("echo", nil, time.Second)
	if err := p.Start(exec.Command("sh", "-c", "echo out; echo err >&2"), dir); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	<-p.Exited()
	if err := p.Stop(time.Second); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}

	lf := p.LogFiles()
	if want := filepath.Join(dir, "echo-stdout.log"); lf.StdoutPath() != want {
		t.Errorf("StdoutPath() = %q, want %q", lf.StdoutPath(), want)
	}
	p.Close()

	for path, want := range map[string]string{lf.StdoutPath(): "out", lf.StderrPath(): "err"} {
		got, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read %s: %v", path, err)
		}
		if strings.TrimSpace(string(got)) != want {
			t.Errorf("%s = %q, want %q", filepath.Base(path), got, want)
		}
	}
}

func TestLogFiles_EmptyPaths(t *testing.T) {
	t.Parallel()

	var lf LogFiles
	if lf.StdoutPath() != "" || lf.StderrPath() != "" {
		t.Errorf("zero LogFiles paths = %q, %q; want empty", lf.StdoutPath(), lf.StderrPath())
	}
	lf.Close()
}

func TestRelease(t *testing.T) {
	t.Parallel()

	t.Run("nil process", func(t *testing.T) {
		t.Parallel()
		var p *Process
		if err := p.Release(time.Second); err != nil {
			t.Fatalf("Release() on nil = %v, want nil", err)
		}
	})

	t.Run("never started", func(t *testing.T) {
		t.Parallel()
		if err := New("idle", nil, time.Second).Release(time.Second); err != nil {
			t.Fatalf("Release() = %v, want nil", err)
		}
	})

	t.Run("running process with log files", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		p := New("sleeper", nil, time.Second)
		if err := p.Start(exec.Command("sleep", "60"), dir); err != nil {
			t.Fatalf("Start() error: %v", err)
		}
		exited := p.Exited()

		if err := p.Release(2 * time.Second); err != nil {
			t.Fatalf("Release() error: %v", err)
		}
		if p.IsStarted() {
			t.Error("IsStarted() = true after Release")
		}
		select {
		case <-exited:
		case <-time.After(5 * time.Second):
			t.Error("process still running after Release")
		}
		if err := p.Release(time.Second); err != nil {
			t.Fatalf("second Release() error: %v", err)
		}
	})
}

// makeSignalExitError returns the *exec.ExitError of a real process killed
// by sig.
func makeSignalExitError(tb testing.TB, sig syscall.Signal) *exec.ExitError {
	tb.Helper()

	cmd := exec.Command("sleep", "60")
	if err := cmd.Start(); err != nil {
		tb.Fatalf("test setup: start sleep: %v", err)
	}
	if err := cmd.Process.Signal(sig); err != nil {
		_ = cmd.Process.Kill()
		tb.Fatalf("test setup: signal process with %v: %v", sig, err)
	}

	var exitErr *exec.ExitError
	if err := cmd.Wait(); !errors.As(err, &exitErr) {
		tb.Fatalf("test setup: expected *exec.ExitError from signaled process, got %v", err)
	}
	return exitErr
}
