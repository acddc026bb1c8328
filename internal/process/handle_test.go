package process

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"
)

// =============================================================================
// Helpers
// =============================================================================

func testLogPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "proc.log")
}

func waitForExit(t *testing.T, h *Handle, timeout time.Duration) {
	t.Helper()
	select {
	case <-h.Wait():
	case <-time.After(timeout):
		t.Fatal("process did not exit in time")
	}
}

// =============================================================================
// Start
// =============================================================================

func TestStart_Echo(t *testing.T) {
	logPath := testLogPath(t)

	h, err := Start(RoleService, exec.Command("echo", "hello"), logPath)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitForExit(t, h, 5*time.Second)

	if h.Alive() {
		t.Error("process should not be alive after exit")
	}
	if code := h.ExitCode(); code != 0 {
		t.Errorf("ExitCode = %d, want 0", code)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "hello") {
		t.Errorf("log file should contain process output, got %q", string(data))
	}
}

func TestStart_CapturesStderr(t *testing.T) {
	logPath := testLogPath(t)

	h, err := Start(RoleTunnel, exec.Command("bash", "-c", "echo out; echo err >&2"), logPath)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForExit(t, h, 5*time.Second)

	data, _ := os.ReadFile(logPath)
	if !strings.Contains(string(data), "out") || !strings.Contains(string(data), "err") {
		t.Errorf("log should contain stdout and stderr, got %q", string(data))
	}
}

func TestStart_BadLogPath(t *testing.T) {
	_, err := Start(RoleService, exec.Command("echo"), "/nonexistent/dir/proc.log")
	if err == nil {
		t.Error("Expected error for unwritable log path")
	}
}

func TestStart_CommandNotFound(t *testing.T) {
	_, err := Start(RoleService, exec.Command("/nonexistent/binary"), testLogPath(t))
	if err == nil {
		t.Error("Expected error for missing binary")
	}
}

// =============================================================================
// Accessors
// =============================================================================

func TestHandle_Accessors(t *testing.T) {
	logPath := testLogPath(t)

	h, err := Start(RoleTunnel, exec.Command("sleep", "30"), logPath)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer h.Terminate(2 * time.Second)

	if h.Role() != RoleTunnel {
		t.Errorf("Role = %q, want %q", h.Role(), RoleTunnel)
	}
	if h.PID() <= 0 {
		t.Errorf("PID = %d, want > 0", h.PID())
	}
	if h.LogPath() != logPath {
		t.Errorf("LogPath = %q, want %q", h.LogPath(), logPath)
	}
	if !h.Alive() {
		t.Error("process should be alive")
	}
	if code := h.ExitCode(); code != -1 {
		t.Errorf("ExitCode while running = %d, want -1", code)
	}
	if h.Uptime() < 0 {
		t.Errorf("Uptime = %v, want >= 0", h.Uptime())
	}
}

func TestHandle_ExitCode_NonZero(t *testing.T) {
	h, err := Start(RoleService, exec.Command("bash", "-c", "exit 3"), testLogPath(t))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForExit(t, h, 5*time.Second)

	if code := h.ExitCode(); code != 3 {
		t.Errorf("ExitCode = %d, want 3", code)
	}
}

// =============================================================================
// Terminate
// =============================================================================

func TestHandle_Terminate_SIGTERM(t *testing.T) {
	h, err := Start(RoleService, exec.Command("sleep", "60"), testLogPath(t))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	start := time.Now()
	if err := h.Terminate(5 * time.Second); err != nil {
		t.Errorf("Terminate failed: %v", err)
	}
	elapsed := time.Since(start)

	// sleep dies on SIGTERM, so this should be well under the grace period
	if elapsed > 3*time.Second {
		t.Errorf("Terminate took %v, expected quick SIGTERM exit", elapsed)
	}
	if h.Alive() {
		t.Error("process should be dead after Terminate")
	}

	// 128 + SIGTERM(15)
	if code := h.ExitCode(); code != 143 {
		t.Errorf("ExitCode = %d, want 143", code)
	}
}

func TestHandle_Terminate_AlreadyExited(t *testing.T) {
	h, err := Start(RoleService, exec.Command("echo", "done"), testLogPath(t))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForExit(t, h, 5*time.Second)

	// Terminating a dead process is a no-op
	if err := h.Terminate(time.Second); err != nil {
		t.Errorf("Terminate on exited process should be nil, got %v", err)
	}
}

func TestHandle_Terminate_Idempotent(t *testing.T) {
	h, err := Start(RoleService, exec.Command("sleep", "60"), testLogPath(t))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := h.Terminate(5 * time.Second); err != nil {
		t.Errorf("first Terminate: %v", err)
	}
	if err := h.Terminate(5 * time.Second); err != nil {
		t.Errorf("second Terminate: %v", err)
	}
}

func TestHandle_Terminate_EscalatesToSIGKILL(t *testing.T) {
	// Trap SIGTERM so the process ignores the graceful signal. The
	// loop restarts sleep after the group signal kills the child.
	h, err := Start(RoleService,
		exec.Command("bash", "-c", "trap '' TERM; while true; do sleep 1; done"), testLogPath(t))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := h.Terminate(500 * time.Millisecond); err != nil {
		t.Errorf("Terminate failed: %v", err)
	}
	if h.Alive() {
		t.Error("process should be dead after SIGKILL escalation")
	}

	// 128 + SIGKILL(9)
	if code := h.ExitCode(); code != 137 {
		t.Errorf("ExitCode = %d, want 137", code)
	}
}

// =============================================================================
// extractExitCode
// =============================================================================

func TestExtractExitCode(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		if code := extractExitCode(nil); code != 0 {
			t.Errorf("extractExitCode(nil) = %d, want 0", code)
		}
	})

	t.Run("exit_status", func(t *testing.T) {
		cmd := exec.Command("bash", "-c", "exit 7")
		err := cmd.Run()
		if code := extractExitCode(err); code != 7 {
			t.Errorf("extractExitCode = %d, want 7", code)
		}
	})

	t.Run("signaled", func(t *testing.T) {
		cmd := exec.Command("sleep", "30")
		if err := cmd.Start(); err != nil {
			t.Fatalf("start: %v", err)
		}
		syscall.Kill(cmd.Process.Pid, syscall.SIGKILL)
		err := cmd.Wait()

		if code := extractExitCode(err); code != 137 {
			t.Errorf("extractExitCode = %d, want 137 (128+SIGKILL)", code)
		}
	})

	t.Run("non_exit_error", func(t *testing.T) {
		if code := extractExitCode(os.ErrNotExist); code != 1 {
			t.Errorf("extractExitCode = %d, want 1", code)
		}
	})
}
