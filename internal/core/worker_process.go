package core

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/giantswarm/shmstack/internal/netutil"
	"github.com/giantswarm/shmstack/internal/process"
)

// processWorker serves a connection in a child process. The child inherits
// the connection socket and maps the arena itself; a crash in the child takes
// nothing down with it and the kernel releases any lock it held.
type processWorker struct {
	id   string
	done <-chan struct{}

	mu   sync.Mutex // serializes Stop between the reaper and Shutdown
	proc *process.Process
}

var _ worker = (*processWorker)(nil)

// startProcessWorker starts argv as the worker for conn. conn is closed in
// the server whether or not the start succeeds; the child keeps its own
// descriptor.
func startProcessWorker(id string, conn *net.TCPConn, argv []string, wc WorkerConfig,
	logDir string, stopTimeout time.Duration, log *slog.Logger,
) (*processWorker, error) {
	defer conn.Close()

	f, err := netutil.ConnFile(conn)
	if err != nil {
		return nil, fmt.Errorf("start worker %s: %w", id, err)
	}
	defer f.Close()

	cmd := exec.Command(argv[0], argv[1:]...) //nolint:gosec // argv is the server's own executable or operator configuration
	cmd.Env = append(os.Environ(), wc.Environ()...)
	cmd.ExtraFiles = []*os.File{f}

	proc := process.New("worker-"+id, log, stopTimeout)
	if err := proc.Start(cmd, logDir); err != nil {
		return nil, fmt.Errorf("start worker %s: %w", id, err)
	}
	log.Debug("worker started", "pid", proc.Pid())

	return &processWorker{
		id:   id,
		done: proc.Exited(),
		proc: proc,
	}, nil
}

func (w *processWorker) ID() string {
	return w.id
}

func (w *processWorker) Done() <-chan struct{} {
	return w.done
}

// Stop sends SIGTERM, escalates to SIGKILL and collects the exit status. A
// worker that already exited is only collected.
func (w *processWorker) Stop(timeout time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	err := w.proc.Release(timeout)
	w.proc = nil
	return err
}
