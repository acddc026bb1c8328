package stage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/mldvx/go-ollama-bridge/internal/probe"
	"github.com/mldvx/go-ollama-bridge/internal/process"
)

// =============================================================================
// Test helpers
// =============================================================================

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBinary writes an executable shell script standing in for a real
// binary and returns its path.
func fakeBinary(t *testing.T, name, script string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatalf("writing fake %s: %v", name, err)
	}
	return path
}

// healthServer runs a local HTTP endpoint and returns the port it
// listens on, so a ServiceRunner configured with that port probes it.
func healthServer(t *testing.T, handler http.HandlerFunc) int {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parsing test server URL: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parsing test server port: %v", err)
	}
	return port
}

func okHealth(w http.ResponseWriter, r *http.Request) {
	fmt.Fprint(w, "Ollama is running")
}

func testProber() *probe.Prober {
	return probe.New(probe.Config{
		Attempts:       2,
		Interval:       10 * time.Millisecond,
		AttemptTimeout: time.Second,
		Logger:         newTestLogger(),
	})
}

// mockRemote implements Remote with overridable behavior and records
// what was invoked.
type mockRemote struct {
	runFunc           func(ctx context.Context, command string) (string, error)
	startDetachedFunc func(ctx context.Context, command string) error
	killPatternFunc   func(ctx context.Context, pattern string) error
	internalIPFunc    func(ctx context.Context) (string, error)

	runCommands      []string
	detachedCommands []string
	killedPatterns   []string
}

func (m *mockRemote) Run(ctx context.Context, command string) (string, error) {
	m.runCommands = append(m.runCommands, command)
	if m.runFunc != nil {
		return m.runFunc(ctx, command)
	}
	return "Ollama is running", nil
}

func (m *mockRemote) StartDetached(ctx context.Context, command string) error {
	m.detachedCommands = append(m.detachedCommands, command)
	if m.startDetachedFunc != nil {
		return m.startDetachedFunc(ctx, command)
	}
	return nil
}

func (m *mockRemote) KillPattern(ctx context.Context, pattern string) error {
	m.killedPatterns = append(m.killedPatterns, pattern)
	if m.killPatternFunc != nil {
		return m.killPatternFunc(ctx, pattern)
	}
	return nil
}

func (m *mockRemote) InternalIP(ctx context.Context) (string, error) {
	if m.internalIPFunc != nil {
		return m.internalIPFunc(ctx)
	}
	return "10.0.0.7", nil
}

// serviceLauncher builds a launcher around a fake service script whose
// health endpoint is served on healthPort. The fake is named so its
// command line never matches the prior-instance kill pattern, and the
// prior-instance stop itself is stubbed out, so tests never touch real
// processes.
func serviceLauncher(t *testing.T, script string, healthPort int) *Launcher {
	t.Helper()

	svc := process.NewServiceRunner(&process.ServiceConfig{
		BinaryPath: fakeBinary(t, "svc", script),
		Model:      "llama3.2",
		Port:       healthPort,
	})
	l := NewLauncher(Config{
		Service:       svc,
		Remote:        &mockRemote{},
		Prober:        testProber(),
		LogDir:        t.TempDir(),
		ServiceSettle: 50 * time.Millisecond,
		Logger:        newTestLogger(),
	})
	l.stopPrevious = func(ctx context.Context) error { return nil }
	return l
}

func tunnelLauncher(t *testing.T, script string) *Launcher {
	t.Helper()

	tun := process.NewTunnelRunner(&process.TunnelConfig{
		BinaryPath:         fakeBinary(t, "ssh", script),
		User:               "ubuntu",
		Host:               "gateway.example.com",
		TunnelPort:         11435,
		ServicePort:        11434,
		KeepAliveInterval:  30,
		KeepAliveMaxMissed: 3,
		ConnectTimeout:     10 * time.Second,
	})
	return NewLauncher(Config{
		Service:      process.NewServiceRunner(&process.ServiceConfig{BinaryPath: "ollama", Model: "m", Port: 11434}),
		Tunnel:       tun,
		Remote:       &mockRemote{},
		Prober:       testProber(),
		LogDir:       t.TempDir(),
		TunnelSettle: 50 * time.Millisecond,
		Logger:       newTestLogger(),
	})
}

func relayLauncher(t *testing.T, remote *mockRemote) *Launcher {
	t.Helper()

	return NewLauncher(Config{
		Service:     process.NewServiceRunner(&process.ServiceConfig{BinaryPath: "ollama", Model: "m", Port: 11434}),
		Remote:      remote,
		Prober:      testProber(),
		LogDir:      t.TempDir(),
		RelayPort:   11434,
		TunnelPort:  11435,
		RelaySettle: 10 * time.Millisecond,
		Logger:      newTestLogger(),
	})
}

// =============================================================================
// Local service
// =============================================================================

func TestLaunchService_DependencyMissing(t *testing.T) {
	l := serviceLauncher(t, "exit 0", 1)
	l.lookPath = func(string) (string, error) { return "", errors.New("not found") }

	h, err := l.LaunchService(context.Background())

	if h != nil {
		t.Error("no handle should exist when the dependency is missing")
	}
	var dep *DependencyMissingError
	if !errors.As(err, &dep) {
		t.Fatalf("expected DependencyMissingError, got %T: %v", err, err)
	}
	if !strings.Contains(dep.Hint, "-ollama") {
		t.Errorf("hint %q should mention the -ollama flag", dep.Hint)
	}
}

func TestLaunchService_Success(t *testing.T) {
	port := healthServer(t, okHealth)
	script := `case "$1" in
  list) printf 'NAME ID SIZE MODIFIED\nllama3.2:latest abc 2.0 GB now\n' ;;
  serve) sleep 60 ;;
esac`

	l := serviceLauncher(t, script, port)
	h, err := l.LaunchService(context.Background())
	if err != nil {
		t.Fatalf("LaunchService failed: %v", err)
	}
	defer h.Terminate(time.Second)

	if !h.Alive() {
		t.Error("service should be alive after a successful launch")
	}
	if h.Role() != process.RoleService {
		t.Errorf("Role = %q, want %q", h.Role(), process.RoleService)
	}
}

func TestLaunchService_PullsMissingModel(t *testing.T) {
	port := healthServer(t, okHealth)
	marker := filepath.Join(t.TempDir(), "pulled")
	script := fmt.Sprintf(`case "$1" in
  list) printf 'NAME ID SIZE MODIFIED\nmistral:7b abc 4.1 GB now\n' ;;
  pull) touch %s ;;
  serve) sleep 60 ;;
esac`, marker)

	l := serviceLauncher(t, script, port)
	h, err := l.LaunchService(context.Background())
	if err != nil {
		t.Fatalf("LaunchService failed: %v", err)
	}
	defer h.Terminate(time.Second)

	if _, err := os.Stat(marker); err != nil {
		t.Error("missing model should have been pulled")
	}
}

func TestLaunchService_SkipPull(t *testing.T) {
	port := healthServer(t, okHealth)
	script := `case "$1" in
  list|pull) echo "should not be called" >&2; exit 1 ;;
  serve) sleep 60 ;;
esac`

	l := serviceLauncher(t, script, port)
	l.skipPull = true

	h, err := l.LaunchService(context.Background())
	if err != nil {
		t.Fatalf("LaunchService with skipPull failed: %v", err)
	}
	defer h.Terminate(time.Second)
}

func TestLaunchService_PullFails(t *testing.T) {
	script := `case "$1" in
  list) exit 0 ;;
  pull) echo "Error: pull model manifest: file does not exist"; exit 1 ;;
  serve) sleep 60 ;;
esac`

	l := serviceLauncher(t, script, 1)
	h, err := l.LaunchService(context.Background())

	if h != nil {
		t.Error("no handle should exist when the pull fails before start")
	}
	var se *StartupError
	if !errors.As(err, &se) {
		t.Fatalf("expected StartupError, got %T: %v", err, err)
	}
	if se.Stage != StageService {
		t.Errorf("Stage = %q, want %q", se.Stage, StageService)
	}
	if !strings.Contains(err.Error(), "file does not exist") {
		t.Errorf("error %q should carry pull output", err)
	}
}

func TestLaunchService_DiesDuringSettle(t *testing.T) {
	script := `case "$1" in
  serve) echo "Error: listen tcp 0.0.0.0:11434: bind: address already in use" >&2; exit 1 ;;
esac`

	l := serviceLauncher(t, script, 1)
	l.skipPull = true

	h, err := l.LaunchService(context.Background())

	if h == nil {
		t.Fatal("handle should be returned even when startup fails")
	}
	if h.Alive() {
		t.Error("service should be dead")
	}
	var se *StartupError
	if !errors.As(err, &se) {
		t.Fatalf("expected StartupError, got %T: %v", err, err)
	}
	if !strings.Contains(err.Error(), "address already in use") {
		t.Errorf("error %q should carry the last log line", err)
	}
}

func TestLaunchService_HealthCheckFails(t *testing.T) {
	port := healthServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "loading", http.StatusServiceUnavailable)
	})
	script := `case "$1" in
  serve) sleep 60 ;;
esac`

	l := serviceLauncher(t, script, port)
	l.skipPull = true

	h, err := l.LaunchService(context.Background())
	if h == nil {
		t.Fatal("handle should be returned even when the health check fails")
	}
	defer h.Terminate(time.Second)

	var hc *HealthCheckError
	if !errors.As(err, &hc) {
		t.Fatalf("expected HealthCheckError, got %T: %v", err, err)
	}
	if hc.Stage != StageService {
		t.Errorf("Stage = %q, want %q", hc.Stage, StageService)
	}
	if !h.Alive() {
		t.Error("process keeps running; stopping it is the caller's cleanup")
	}
}

func TestLaunchService_ContextEndsDuringSettle(t *testing.T) {
	script := `case "$1" in
  serve) sleep 60 ;;
esac`

	l := serviceLauncher(t, script, 1)
	l.skipPull = true
	l.serviceSettle = 500 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	h, err := l.LaunchService(ctx)
	if h == nil {
		t.Fatal("handle should be returned for cleanup")
	}
	defer h.Terminate(time.Second)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
	var se *StartupError
	if errors.As(err, &se) {
		t.Error("a context end is not a stage failure and should stay unwrapped")
	}
}

// =============================================================================
// Reverse tunnel
// =============================================================================

func TestLaunchTunnel_DependencyMissing(t *testing.T) {
	l := tunnelLauncher(t, "sleep 60")
	l.lookPath = func(string) (string, error) { return "", errors.New("not found") }

	h, err := l.LaunchTunnel(context.Background())

	if h != nil {
		t.Error("no handle should exist when ssh is missing")
	}
	var dep *DependencyMissingError
	if !errors.As(err, &dep) {
		t.Fatalf("expected DependencyMissingError, got %T: %v", err, err)
	}
	if !strings.Contains(dep.Hint, "OpenSSH") {
		t.Errorf("hint %q should point at an OpenSSH client", dep.Hint)
	}
}

func TestLaunchTunnel_Success(t *testing.T) {
	l := tunnelLauncher(t, "sleep 60")

	h, err := l.LaunchTunnel(context.Background())
	if err != nil {
		t.Fatalf("LaunchTunnel failed: %v", err)
	}
	defer h.Terminate(time.Second)

	if !h.Alive() {
		t.Error("tunnel should be alive after surviving the settle window")
	}
	if h.Role() != process.RoleTunnel {
		t.Errorf("Role = %q, want %q", h.Role(), process.RoleTunnel)
	}
}

func TestLaunchTunnel_ExitsDuringSettle(t *testing.T) {
	l := tunnelLauncher(t, `echo "Permission denied (publickey)." >&2; exit 255`)

	h, err := l.LaunchTunnel(context.Background())

	if h == nil {
		t.Fatal("handle should be returned even when ssh dies")
	}
	var se *StartupError
	if !errors.As(err, &se) {
		t.Fatalf("expected StartupError, got %T: %v", err, err)
	}
	if se.Stage != StageTunnel {
		t.Errorf("Stage = %q, want %q", se.Stage, StageTunnel)
	}
	if !strings.Contains(err.Error(), "code 255") {
		t.Errorf("error %q should carry the ssh exit code", err)
	}
	if !strings.Contains(err.Error(), "Permission denied") {
		t.Errorf("error %q should carry the last log line", err)
	}
}

// =============================================================================
// Remote relay
// =============================================================================

func TestLaunchRelay_Success(t *testing.T) {
	remote := &mockRemote{}
	l := relayLauncher(t, remote)

	addr, err := l.LaunchRelay(context.Background())
	if err != nil {
		t.Fatalf("LaunchRelay failed: %v", err)
	}

	if addr != "10.0.0.7" {
		t.Errorf("addr = %q, want 10.0.0.7", addr)
	}
	if len(remote.killedPatterns) != 1 || remote.killedPatterns[0] != "socat TCP-LISTEN:11434" {
		t.Errorf("prior relay kill patterns = %v", remote.killedPatterns)
	}
	if len(remote.detachedCommands) != 1 {
		t.Fatalf("detached commands = %v", remote.detachedCommands)
	}
	want := "socat TCP-LISTEN:11434,bind=10.0.0.7,fork,reuseaddr TCP:127.0.0.1:11435"
	if remote.detachedCommands[0] != want {
		t.Errorf("relay command = %q, want %q", remote.detachedCommands[0], want)
	}
}

func TestLaunchRelay_ProbeCommand(t *testing.T) {
	remote := &mockRemote{}
	l := relayLauncher(t, remote)

	if _, err := l.LaunchRelay(context.Background()); err != nil {
		t.Fatalf("LaunchRelay failed: %v", err)
	}

	if len(remote.runCommands) == 0 {
		t.Fatal("end-to-end probe should have run a remote command")
	}
	want := "curl -s --max-time 5 http://10.0.0.7:11434/"
	if remote.runCommands[0] != want {
		t.Errorf("probe command = %q, want %q", remote.runCommands[0], want)
	}
}

func TestLaunchRelay_PriorKillFailureTolerated(t *testing.T) {
	remote := &mockRemote{
		killPatternFunc: func(ctx context.Context, pattern string) error {
			return errors.New("ssh: connect refused")
		},
	}
	l := relayLauncher(t, remote)

	if _, err := l.LaunchRelay(context.Background()); err != nil {
		t.Fatalf("a failed prior-relay kill should not stop the launch: %v", err)
	}
}

func TestLaunchRelay_InternalIPFails(t *testing.T) {
	remote := &mockRemote{
		internalIPFunc: func(ctx context.Context) (string, error) {
			return "", errors.New("hostname: command not found")
		},
	}
	l := relayLauncher(t, remote)

	addr, err := l.LaunchRelay(context.Background())

	if addr != "" {
		t.Errorf("addr = %q, want empty", addr)
	}
	var se *StartupError
	if !errors.As(err, &se) {
		t.Fatalf("expected StartupError, got %T: %v", err, err)
	}
	if se.Stage != StageRelay {
		t.Errorf("Stage = %q, want %q", se.Stage, StageRelay)
	}
}

func TestLaunchRelay_StartFails(t *testing.T) {
	remote := &mockRemote{
		startDetachedFunc: func(ctx context.Context, command string) error {
			return errors.New("bash: socat: command not found")
		},
	}
	l := relayLauncher(t, remote)

	addr, err := l.LaunchRelay(context.Background())

	if addr != "10.0.0.7" {
		t.Errorf("addr = %q; the resolved address should be returned for cleanup context", addr)
	}
	var se *StartupError
	if !errors.As(err, &se) {
		t.Fatalf("expected StartupError, got %T: %v", err, err)
	}
	if !strings.Contains(err.Error(), "socat: command not found") {
		t.Errorf("error %q should carry the remote failure", err)
	}
}

func TestLaunchRelay_ProbeFails(t *testing.T) {
	remote := &mockRemote{
		runFunc: func(ctx context.Context, command string) (string, error) {
			return "", errors.New("curl: (7) Failed to connect")
		},
	}
	l := relayLauncher(t, remote)

	addr, err := l.LaunchRelay(context.Background())

	if addr != "10.0.0.7" {
		t.Errorf("addr = %q, want 10.0.0.7", addr)
	}
	var ce *ConnectivityError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConnectivityError, got %T: %v", err, err)
	}
	if ce.Target != "10.0.0.7:11434" {
		t.Errorf("Target = %q, want 10.0.0.7:11434", ce.Target)
	}
}

func TestLaunchRelay_UnexpectedResponse(t *testing.T) {
	remote := &mockRemote{
		runFunc: func(ctx context.Context, command string) (string, error) {
			return "404 page not found", nil
		},
	}
	l := relayLauncher(t, remote)

	_, err := l.LaunchRelay(context.Background())

	var ce *ConnectivityError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConnectivityError, got %T: %v", err, err)
	}
	if !strings.Contains(err.Error(), "unexpected response") {
		t.Errorf("error %q should describe the unexpected body", err)
	}
}

// =============================================================================
// Helpers
// =============================================================================

func TestRelayPattern(t *testing.T) {
	if got := RelayPattern(11434); got != "socat TCP-LISTEN:11434" {
		t.Errorf("RelayPattern(11434) = %q", got)
	}
}

func TestSnippet(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"short", "hello", "hello"},
		{"trimmed", "  hello \n", "hello"},
		{"long", strings.Repeat("x", 100), strings.Repeat("x", 80) + "..."},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := snippet(tt.input); got != tt.want {
				t.Errorf("snippet(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
