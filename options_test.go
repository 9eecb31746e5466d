package shmstack_test

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/giantswarm/shmstack"
)

// panicTestCase defines a test case for option validation panic tests.
type panicTestCase struct {
	name     string
	panics   bool
	panicMsg string
	fn       func()
}

// requirePanics calls fn and verifies it panics (or not) with the expected message.
func requirePanics(t *testing.T, shouldPanic bool, wantMsg string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if shouldPanic && r == nil {
			t.Fatal("expected panic but didn't get one")
		}
		if !shouldPanic && r != nil {
			t.Fatalf("unexpected panic: %v", r)
		}
		if shouldPanic && r != nil {
			msg := fmt.Sprint(r)
			if msg != wantMsg {
				t.Fatalf("expected panic message %q, got %q", wantMsg, msg)
			}
		}
	}()
	fn()
}

// runPanicTests runs a slice of panic test cases using requirePanics.
func runPanicTests(t *testing.T, tests []panicTestCase) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			requirePanics(t, tt.panics, tt.panicMsg, tt.fn)
		})
	}
}

func TestWithCapacityPanicsOnInvalid(t *testing.T) {
	t.Parallel()
	runPanicTests(t, []panicTestCase{
		{
			name:     "zero",
			panics:   true,
			panicMsg: "shmstack: capacity must be greater than 0, got 0",
			fn:       func() { shmstack.WithCapacity(0) },
		},
		{
			name:     "negative",
			panics:   true,
			panicMsg: "shmstack: capacity must be greater than 0, got -1",
			fn:       func() { shmstack.WithCapacity(-1) },
		},
		{
			name: "positive",
			fn:   func() { shmstack.WithCapacity(1) },
		},
	})
}

func TestWithMaxPayloadPanicsOnInvalid(t *testing.T) {
	t.Parallel()
	runPanicTests(t, []panicTestCase{
		{
			name:     "zero",
			panics:   true,
			panicMsg: "shmstack: max payload must be greater than 0, got 0",
			fn:       func() { shmstack.WithMaxPayload(0) },
		},
		{
			name: "positive",
			fn:   func() { shmstack.WithMaxPayload(4096) },
		},
	})
}

func TestWithLockTimeoutPanicsOnInvalid(t *testing.T) {
	t.Parallel()
	runPanicTests(t, []panicTestCase{
		{
			name:     "negative",
			panics:   true,
			panicMsg: "shmstack: lock timeout must not be negative, got -1s",
			fn:       func() { shmstack.WithLockTimeout(-time.Second) },
		},
		{
			name: "zero waits without bound",
			fn:   func() { shmstack.WithLockTimeout(0) },
		},
		{
			name: "positive",
			fn:   func() { shmstack.WithLockTimeout(time.Second) },
		},
	})
}

func TestWithMaxConnectionsPanicsOnInvalid(t *testing.T) {
	t.Parallel()
	runPanicTests(t, []panicTestCase{
		{
			name:     "negative",
			panics:   true,
			panicMsg: "shmstack: max connections must not be negative, got -3",
			fn:       func() { shmstack.WithMaxConnections(-3) },
		},
		{
			name: "zero means unlimited",
			fn:   func() { shmstack.WithMaxConnections(0) },
		},
	})
}

func TestWithWorkerModePanicsOnInvalid(t *testing.T) {
	t.Parallel()
	runPanicTests(t, []panicTestCase{
		{
			name:     "out of range",
			panics:   true,
			panicMsg: "shmstack: invalid worker mode: WorkerMode(99)",
			fn:       func() { shmstack.WithWorkerMode(shmstack.WorkerMode(99)) },
		},
		{
			name: "process",
			fn:   func() { shmstack.WithWorkerMode(shmstack.ProcessPerConnection) },
		},
		{
			name: "goroutine",
			fn:   func() { shmstack.WithWorkerMode(shmstack.GoroutinePerConnection) },
		},
	})
}

func TestTimeoutOptionsPanicOnInvalid(t *testing.T) {
	t.Parallel()
	runPanicTests(t, []panicTestCase{
		{
			name:     "worker stop timeout zero",
			panics:   true,
			panicMsg: "shmstack: worker stop timeout must be greater than 0, got 0s",
			fn:       func() { shmstack.WithWorkerStopTimeout(0) },
		},
		{
			name:     "shutdown timeout negative",
			panics:   true,
			panicMsg: "shmstack: shutdown timeout must be greater than 0, got -1ms",
			fn:       func() { shmstack.WithShutdownTimeout(-time.Millisecond) },
		},
		{
			name:     "dial retry zero",
			panics:   true,
			panicMsg: "shmstack: dial retry timeout must be greater than 0, got 0s",
			fn:       func() { shmstack.WithDialRetry(0) },
		},
		{
			name: "valid",
			fn:   func() { shmstack.WithShutdownTimeout(time.Minute) },
		},
	})
}

func TestWithEmptyStringOptionsPanic(t *testing.T) {
	t.Parallel()
	runPanicTests(t, []panicTestCase{
		{
			name:     "address",
			panics:   true,
			panicMsg: "shmstack: listen address must not be empty",
			fn:       func() { shmstack.WithAddress("") },
		},
		{
			name:     "arena path",
			panics:   true,
			panicMsg: "shmstack: arena path must not be empty",
			fn:       func() { shmstack.WithArenaPath("") },
		},
		{
			name:     "lock path",
			panics:   true,
			panicMsg: "shmstack: lock path must not be empty",
			fn:       func() { shmstack.WithLockPath("") },
		},
		{
			name:     "log directory",
			panics:   true,
			panicMsg: "shmstack: log directory must not be empty",
			fn:       func() { shmstack.WithLogDir("") },
		},
		{
			name:     "worker command without args",
			panics:   true,
			panicMsg: "shmstack: worker command must not be empty",
			fn:       func() { shmstack.WithWorkerCommand() },
		},
		{
			name:     "worker command with empty path",
			panics:   true,
			panicMsg: "shmstack: worker command path must not be empty",
			fn:       func() { shmstack.WithWorkerCommand("", "-v") },
		},
		{
			name:     "nil dial logger",
			panics:   true,
			panicMsg: "shmstack: dial logger must not be nil",
			fn:       func() { shmstack.WithDialLogger(nil) },
		},
	})
}

func TestOptionApplicationDefaults(t *testing.T) {
	t.Parallel()

	snap := shmstack.ApplyOptionsForTesting()

	if snap.Address != shmstack.DefaultAddress {
		t.Errorf("Address = %q, want %q", snap.Address, shmstack.DefaultAddress)
	}
	if snap.Capacity != shmstack.DefaultCapacity {
		t.Errorf("Capacity = %d, want %d", snap.Capacity, shmstack.DefaultCapacity)
	}
	if snap.MaxPayload != shmstack.DefaultMaxPayload {
		t.Errorf("MaxPayload = %d, want %d", snap.MaxPayload, shmstack.DefaultMaxPayload)
	}
	wantSuffix := fmt.Sprintf("%s-%d", shmstack.DefaultArenaName, os.Getpid())
	if !strings.HasSuffix(snap.ArenaPath, wantSuffix) {
		t.Errorf("ArenaPath = %q, want suffix %q", snap.ArenaPath, wantSuffix)
	}
	if snap.LockPath != "" {
		t.Errorf("LockPath = %q, want empty", snap.LockPath)
	}
	if snap.LockTimeout != shmstack.DefaultLockTimeout {
		t.Errorf("LockTimeout = %v, want %v", snap.LockTimeout, shmstack.DefaultLockTimeout)
	}
	if snap.WorkerMode != shmstack.DefaultWorkerMode {
		t.Errorf("WorkerMode = %v, want %v", snap.WorkerMode, shmstack.DefaultWorkerMode)
	}
	if snap.WorkerCommand != nil {
		t.Errorf("WorkerCommand = %q, want nil", snap.WorkerCommand)
	}
	if snap.MaxConnections != shmstack.DefaultMaxConnections {
		t.Errorf("MaxConnections = %d, want %d", snap.MaxConnections, shmstack.DefaultMaxConnections)
	}
	if snap.StrictProtocol {
		t.Error("StrictProtocol = true, want false")
	}
	if snap.WorkerStopTimeout != shmstack.DefaultWorkerStopTimeout {
		t.Errorf("WorkerStopTimeout = %v, want %v", snap.WorkerStopTimeout, shmstack.DefaultWorkerStopTimeout)
	}
	if snap.ShutdownTimeout != shmstack.DefaultShutdownTimeout {
		t.Errorf("ShutdownTimeout = %v, want %v", snap.ShutdownTimeout, shmstack.DefaultShutdownTimeout)
	}
	if snap.LogDir != "" {
		t.Errorf("LogDir = %q, want empty", snap.LogDir)
	}
}

func TestOptionApplicationOverrides(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		opt    shmstack.ServerOption
		verify func(t *testing.T, snap shmstack.ConfigSnapshot)
	}{
		{
			name: "WithAddress",
			opt:  shmstack.WithAddress("127.0.0.1:0"),
			verify: func(t *testing.T, snap shmstack.ConfigSnapshot) {
				t.Helper()
				if snap.Address != "127.0.0.1:0" {
					t.Errorf("Address = %q, want %q", snap.Address, "127.0.0.1:0")
				}
			},
		},
		{
			name: "WithCapacity",
			opt:  shmstack.WithCapacity(7),
			verify: func(t *testing.T, snap shmstack.ConfigSnapshot) {
				t.Helper()
				if snap.Capacity != 7 {
					t.Errorf("Capacity = %d, want 7", snap.Capacity)
				}
			},
		},
		{
			name: "WithMaxPayload",
			opt:  shmstack.WithMaxPayload(64),
			verify: func(t *testing.T, snap shmstack.ConfigSnapshot) {
				t.Helper()
				if snap.MaxPayload != 64 {
					t.Errorf("MaxPayload = %d, want 64", snap.MaxPayload)
				}
			},
		},
		{
			name: "WithArenaPath",
			opt:  shmstack.WithArenaPath("/tmp/arena"),
			verify: func(t *testing.T, snap shmstack.ConfigSnapshot) {
				t.Helper()
				if snap.ArenaPath != "/tmp/arena" {
					t.Errorf("ArenaPath = %q, want %q", snap.ArenaPath, "/tmp/arena")
				}
			},
		},
		{
			name: "WithLockPath",
			opt:  shmstack.WithLockPath("/tmp/arena.lk"),
			verify: func(t *testing.T, snap shmstack.ConfigSnapshot) {
				t.Helper()
				if snap.LockPath != "/tmp/arena.lk" {
					t.Errorf("LockPath = %q, want %q", snap.LockPath, "/tmp/arena.lk")
				}
			},
		},
		{
			name: "WithLockTimeout",
			opt:  shmstack.WithLockTimeout(250 * time.Millisecond),
			verify: func(t *testing.T, snap shmstack.ConfigSnapshot) {
				t.Helper()
				if snap.LockTimeout != 250*time.Millisecond {
					t.Errorf("LockTimeout = %v, want 250ms", snap.LockTimeout)
				}
			},
		},
		{
			name: "WithWorkerMode",
			opt:  shmstack.WithWorkerMode(shmstack.GoroutinePerConnection),
			verify: func(t *testing.T, snap shmstack.ConfigSnapshot) {
				t.Helper()
				if snap.WorkerMode != shmstack.GoroutinePerConnection {
					t.Errorf("WorkerMode = %v, want goroutine", snap.WorkerMode)
				}
			},
		},
		{
			name: "WithWorkerCommand",
			opt:  shmstack.WithWorkerCommand("/usr/bin/env", "shmstackd"),
			verify: func(t *testing.T, snap shmstack.ConfigSnapshot) {
				t.Helper()
				want := []string{"/usr/bin/env", "shmstackd"}
				if !slices.Equal(snap.WorkerCommand, want) {
					t.Errorf("WorkerCommand = %q, want %q", snap.WorkerCommand, want)
				}
			},
		},
		{
			name: "WithMaxConnections",
			opt:  shmstack.WithMaxConnections(4),
			verify: func(t *testing.T, snap shmstack.ConfigSnapshot) {
				t.Helper()
				if snap.MaxConnections != 4 {
					t.Errorf("MaxConnections = %d, want 4", snap.MaxConnections)
				}
			},
		},
		{
			name: "WithStrictProtocol",
			opt:  shmstack.WithStrictProtocol(true),
			verify: func(t *testing.T, snap shmstack.ConfigSnapshot) {
				t.Helper()
				if !snap.StrictProtocol {
					t.Error("StrictProtocol = false, want true")
				}
			},
		},
		{
			name: "WithWorkerStopTimeout",
			opt:  shmstack.WithWorkerStopTimeout(3 * time.Second),
			verify: func(t *testing.T, snap shmstack.ConfigSnapshot) {
				t.Helper()
				if snap.WorkerStopTimeout != 3*time.Second {
					t.Errorf("WorkerStopTimeout = %v, want 3s", snap.WorkerStopTimeout)
				}
			},
		},
		{
			name: "WithShutdownTimeout",
			opt:  shmstack.WithShutdownTimeout(time.Minute),
			verify: func(t *testing.T, snap shmstack.ConfigSnapshot) {
				t.Helper()
				if snap.ShutdownTimeout != time.Minute {
					t.Errorf("ShutdownTimeout = %v, want 1m", snap.ShutdownTimeout)
				}
			},
		},
		{
			name: "WithLogDir",
			opt:  shmstack.WithLogDir("/var/log/shmstack"),
			verify: func(t *testing.T, snap shmstack.ConfigSnapshot) {
				t.Helper()
				if snap.LogDir != "/var/log/shmstack" {
					t.Errorf("LogDir = %q, want %q", snap.LogDir, "/var/log/shmstack")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tt.verify(t, shmstack.ApplyOptionsForTesting(tt.opt))
		})
	}
}

func TestWithWorkerCommandCopiesArgs(t *testing.T) {
	t.Parallel()

	argv := []string{"/bin/shmstackd", "--worker"}
	opt := shmstack.WithWorkerCommand(argv...)
	argv[1] = "mutated"

	snap := shmstack.ApplyOptionsForTesting(opt)
	if snap.WorkerCommand[1] != "--worker" {
		t.Errorf("WorkerCommand[1] = %q, want %q", snap.WorkerCommand[1], "--worker")
	}
}

func TestLastOptionWins(t *testing.T) {
	t.Parallel()

	snap := shmstack.ApplyOptionsForTesting(shmstack.WithCapacity(5), shmstack.WithCapacity(9))
	if snap.Capacity != 9 {
		t.Errorf("Capacity = %d, want 9", snap.Capacity)
	}
}

func TestWithDialRetry(t *testing.T) {
	t.Parallel()

	if got := shmstack.DialRetryForTesting(); got != 0 {
		t.Errorf("default retry = %v, want 0", got)
	}
	if got := shmstack.DialRetryForTesting(shmstack.WithDialRetry(2 * time.Second)); got != 2*time.Second {
		t.Errorf("retry = %v, want 2s", got)
	}
}
