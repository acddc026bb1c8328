package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// Handle owns a started managed process for the lifetime of a session.
// The supervisor holds the handle after launch; only the cleanup
// coordinator terminates it.
type Handle struct {
	role    string
	cmd     *exec.Cmd
	logPath string
	logFile *os.File

	startedAt time.Time

	// done is closed by the reaper goroutine after Wait returns.
	// waitErr is written before the close and read only after it.
	done    chan struct{}
	waitErr error
}

// Start launches cmd in its own process group with stdout and stderr
// appended to the log file at logPath, and reaps it in the background.
func Start(role string, cmd *exec.Cmd, logPath string) (*Handle, error) {
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	cmd.Stdin = nil
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	// Set process group for clean shutdown
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, err
	}

	h := &Handle{
		role:      role,
		cmd:       cmd,
		logPath:   logPath,
		logFile:   logFile,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}

	go func() {
		h.waitErr = cmd.Wait()
		h.logFile.Close()
		close(h.done)
	}()

	return h, nil
}

// Role returns the role the process was started under.
func (h *Handle) Role() string {
	return h.role
}

// PID returns the process ID.
func (h *Handle) PID() int {
	return h.cmd.Process.Pid
}

// LogPath returns the path of the process log file.
func (h *Handle) LogPath() string {
	return h.logPath
}

// Alive reports whether the process has not yet been reaped.
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Wait returns a channel that is closed once the process has exited.
func (h *Handle) Wait() <-chan struct{} {
	return h.done
}

// ExitCode returns the process exit code, or -1 while it is still
// running. Signal deaths map to 128 + signal number.
func (h *Handle) ExitCode() int {
	select {
	case <-h.done:
		return extractExitCode(h.waitErr)
	default:
		return -1
	}
}

// Uptime returns the time since the process was started.
func (h *Handle) Uptime() time.Duration {
	return time.Since(h.startedAt)
}

// Terminate stops the process: SIGTERM to the process group, SIGKILL
// after the grace period. An already-exited process is not an error.
func (h *Handle) Terminate(grace time.Duration) error {
	if !h.Alive() {
		return nil
	}

	// Send SIGTERM to the process group
	pgid, err := syscall.Getpgid(h.cmd.Process.Pid)
	if err == nil {
		syscall.Kill(-pgid, syscall.SIGTERM)
	} else {
		h.cmd.Process.Signal(syscall.SIGTERM)
	}

	// Wait for graceful shutdown
	select {
	case <-h.done:
		return nil
	case <-time.After(grace):
	}

	// Force kill
	if pgid, err := syscall.Getpgid(h.cmd.Process.Pid); err == nil {
		syscall.Kill(-pgid, syscall.SIGKILL)
	} else {
		h.cmd.Process.Kill()
	}

	select {
	case <-h.done:
		return nil
	case <-time.After(grace):
		return fmt.Errorf("%s (pid %d) did not exit after SIGKILL", h.role, h.cmd.Process.Pid)
	}
}

// extractExitCode determines the exit code from a Wait error.
func extractExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				// Signal exit: 128 + signal number
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
	}

	// Unknown error, assume exit code 1
	return 1
}
