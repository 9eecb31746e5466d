package process

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/giantswarm/shmstack/internal/fileutil"
)

// LogFiles holds the stdout and stderr files of one process.
type LogFiles struct {
	stdoutFile *os.File
	stderrFile *os.File
	dir        string
	stdoutName string // e.g. "worker-conn-1-stdout.log"
	stderrName string
}

// NewLogFiles creates "<name>-stdout.log" and "<name>-stderr.log" in dir,
// creating dir if needed.
func NewLogFiles(dir, name string) (LogFiles, error) {
	l := LogFiles{
		dir:        dir,
		stdoutName: name + "-stdout.log",
		stderrName: name + "-stderr.log",
	}
	if err := fileutil.EnsureDir(dir); err != nil {
		return LogFiles{}, fmt.Errorf("create log dir: %w", err)
	}
	stdoutFile, err := os.Create(l.StdoutPath())
	if err != nil {
		return LogFiles{}, fmt.Errorf("create stdout log: %w", err)
	}
	stderrFile, err := os.Create(l.StderrPath())
	if err != nil {
		_ = stdoutFile.Close()
		return LogFiles{}, fmt.Errorf("create stderr log: %w", err)
	}
	l.stdoutFile = stdoutFile
	l.stderrFile = stderrFile
	return l, nil
}

// Close closes both files. It is safe to call more than once.
func (l *LogFiles) Close() {
	if l.stdoutFile != nil {
		_ = l.stdoutFile.Close()
		l.stdoutFile = nil
	}
	if l.stderrFile != nil {
		_ = l.stderrFile.Close()
		l.stderrFile = nil
	}
}

// StdoutPath returns the stdout log path, or "" when there is none.
func (l *LogFiles) StdoutPath() string {
	if l.stdoutName == "" {
		return ""
	}
	return filepath.Join(l.dir, l.stdoutName)
}

// StderrPath returns the stderr log path, or "" when there is none.
func (l *LogFiles) StderrPath() string {
	if l.stderrName == "" {
		return ""
	}
	return filepath.Join(l.dir, l.stderrName)
}

// startWithLogs creates log files, points cmd's output at them and starts
// cmd. On failure the log files are closed.
func startWithLogs(cmd *exec.Cmd, dir, name string) (LogFiles, error) {
	logFiles, err := NewLogFiles(dir, name)
	if err != nil {
		return LogFiles{}, fmt.Errorf("create %s logs: %w", name, err)
	}

	cmd.Stdout = logFiles.stdoutFile
	cmd.Stderr = logFiles.stderrFile

	if err := cmd.Start(); err != nil {
		logFiles.Close()
		return LogFiles{}, fmt.Errorf("start %s process: %w", name, err)
	}
	return logFiles, nil
}
