package stage

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mldvx/go-ollama-bridge/internal/logging"
	"github.com/mldvx/go-ollama-bridge/internal/probe"
	"github.com/mldvx/go-ollama-bridge/internal/process"
)

// Remote is the capability surface the relay stage needs on the
// remote host.
type Remote interface {
	Run(ctx context.Context, command string) (string, error)
	StartDetached(ctx context.Context, command string) error
	KillPattern(ctx context.Context, pattern string) error
	InternalIP(ctx context.Context) (string, error)
}

// Config holds launcher configuration.
type Config struct {
	Service *process.ServiceRunner
	Tunnel  *process.TunnelRunner
	Remote  Remote
	Prober  *probe.Prober

	// HTTPClient is used for the local service health probe.
	HTTPClient *http.Client

	// LogDir receives the per-process log files.
	LogDir string

	// SkipPull skips the model presence check.
	SkipPull bool

	// RelayPort is the remote port the relay exposes; TunnelPort is
	// where it forwards to.
	RelayPort  int
	TunnelPort int

	// Settle delays between starting a process and judging it.
	ServiceSettle time.Duration
	TunnelSettle  time.Duration
	RelaySettle   time.Duration

	Logger *slog.Logger
}

// Launcher starts the chain stages one at a time. Each launch returns
// whatever was started even on failure, so the supervisor can clean
// up partial progress.
type Launcher struct {
	service *process.ServiceRunner
	tunnel  *process.TunnelRunner
	remote  Remote
	prober  *probe.Prober

	httpClient *http.Client
	logDir     string
	skipPull   bool

	relayPort  int
	tunnelPort int

	serviceSettle time.Duration
	tunnelSettle  time.Duration
	relaySettle   time.Duration

	logger *slog.Logger

	// Seams for tests
	lookPath     func(string) (string, error)
	stopPrevious func(context.Context) error
}

// NewLauncher creates a launcher from the given configuration.
func NewLauncher(cfg Config) *Launcher {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Launcher{
		service:       cfg.Service,
		tunnel:        cfg.Tunnel,
		remote:        cfg.Remote,
		prober:        cfg.Prober,
		httpClient:    cfg.HTTPClient,
		logDir:        cfg.LogDir,
		skipPull:      cfg.SkipPull,
		relayPort:     cfg.RelayPort,
		tunnelPort:    cfg.TunnelPort,
		serviceSettle: cfg.ServiceSettle,
		tunnelSettle:  cfg.TunnelSettle,
		relaySettle:   cfg.RelaySettle,
		logger:        cfg.Logger,
		lookPath:      exec.LookPath,
		stopPrevious:  cfg.Service.StopPrevious,
	}
}

// =============================================================================
// Local service
// =============================================================================

// LaunchService brings up the local ollama: dependency check, model
// presence, prior-instance kill, start, settle, liveness, HTTP probe.
func (l *Launcher) LaunchService(ctx context.Context) (*process.Handle, error) {
	binary := l.service.Config().BinaryPath
	if _, err := l.lookPath(binary); err != nil {
		return nil, &DependencyMissingError{
			Binary: binary,
			Hint:   "install ollama or pass -ollama",
		}
	}

	if !l.skipPull {
		if err := l.ensureModel(ctx); err != nil {
			return nil, err
		}
	}

	// A stale service would hold the port; stopping it is best-effort
	if err := l.stopPrevious(ctx); err != nil {
		l.logger.Warn("previous_service_stop_failed", "error", err)
	}

	cmd, err := l.service.BuildCommand(ctx)
	if err != nil {
		return nil, &StartupError{Stage: StageService, Err: err}
	}

	logPath := filepath.Join(l.logDir, "service.log")
	l.logger.Info("starting_local_service",
		"command", l.service.CommandString(),
		"log", logPath,
	)

	h, err := process.Start(process.RoleService, cmd, logPath)
	if err != nil {
		return nil, &StartupError{Stage: StageService, Err: err}
	}

	if err := settle(ctx, l.serviceSettle); err != nil {
		return h, err
	}

	if !h.Alive() {
		return h, &StartupError{Stage: StageService, Err: exitedDuringStartup(h)}
	}

	healthURL := l.service.HealthURL()
	if err := l.prober.Probe(ctx, StageService, probe.HTTPCheck(l.httpClient, healthURL)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return h, ctxErr
		}
		return h, &HealthCheckError{Stage: StageService, Err: err}
	}

	l.logger.Info("local_service_up",
		"pid", h.PID(),
		"url", healthURL,
	)
	return h, nil
}

// ensureModel checks the model is present and pulls it if not.
func (l *Launcher) ensureModel(ctx context.Context) error {
	model := l.service.Config().Model

	models, err := l.service.ListModels(ctx)
	if err != nil {
		// Listing can fail when no service has ever run; treat the
		// model as absent and let pull decide.
		l.logger.Debug("model_list_failed", "error", err)
	}

	if process.HasModel(models, model) {
		l.logger.Debug("model_present", "model", model)
		return nil
	}

	l.logger.Info("pulling_model", "model", model)
	if err := l.service.PullModel(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &StartupError{Stage: StageService, Err: err}
	}
	return nil
}

// =============================================================================
// Reverse tunnel
// =============================================================================

// LaunchTunnel starts the ssh reverse tunnel. There is no endpoint to
// probe: with BatchMode and ExitOnForwardFailure set, bad auth and an
// unbindable remote port kill ssh quickly, so surviving the settle
// window is the health signal.
func (l *Launcher) LaunchTunnel(ctx context.Context) (*process.Handle, error) {
	binary := l.tunnel.Config().BinaryPath
	if _, err := l.lookPath(binary); err != nil {
		return nil, &DependencyMissingError{
			Binary: binary,
			Hint:   "install an OpenSSH client",
		}
	}

	cmd, err := l.tunnel.BuildCommand(ctx)
	if err != nil {
		return nil, &StartupError{Stage: StageTunnel, Err: err}
	}

	logPath := filepath.Join(l.logDir, "tunnel.log")
	l.logger.Info("starting_tunnel",
		"command", l.tunnel.CommandString(),
		"log", logPath,
	)

	h, err := process.Start(process.RoleTunnel, cmd, logPath)
	if err != nil {
		return nil, &StartupError{Stage: StageTunnel, Err: err}
	}

	if err := settle(ctx, l.tunnelSettle); err != nil {
		return h, err
	}

	if !h.Alive() {
		return h, &StartupError{Stage: StageTunnel, Err: exitedDuringStartup(h)}
	}

	l.logger.Info("tunnel_up",
		"pid", h.PID(),
		"target", l.tunnel.Target(),
	)
	return h, nil
}

// =============================================================================
// Remote relay
// =============================================================================

// RelayPattern returns the pkill pattern addressing the remote relay.
// Shared with cleanup so both sides name the same process.
func RelayPattern(relayPort int) string {
	return fmt.Sprintf("socat TCP-LISTEN:%d", relayPort)
}

// LaunchRelay starts the remote socat relay and runs the end-to-end
// probe through it. Returns the remote internal address the relay is
// bound to. The relay never gets a process handle: it is addressed by
// pattern only.
func (l *Launcher) LaunchRelay(ctx context.Context) (string, error) {
	pattern := RelayPattern(l.relayPort)

	// Kill any relay left over from a previous session, best-effort
	if err := l.remote.KillPattern(ctx, pattern); err != nil {
		l.logger.Warn("previous_relay_kill_failed", "error", err)
	}

	addr, err := l.remote.InternalIP(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", &StartupError{Stage: StageRelay, Err: err}
	}

	command := fmt.Sprintf("socat TCP-LISTEN:%d,bind=%s,fork,reuseaddr TCP:127.0.0.1:%d",
		l.relayPort, addr, l.tunnelPort)
	l.logger.Info("starting_relay",
		"addr", addr,
		"command", command,
	)

	if err := l.remote.StartDetached(ctx, command); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return addr, ctxErr
		}
		return addr, &StartupError{Stage: StageRelay, Err: err}
	}

	if err := settle(ctx, l.relaySettle); err != nil {
		return addr, err
	}

	// End-to-end probe: remote curl through relay, tunnel and service
	// back to the local model.
	target := fmt.Sprintf("%s:%d", addr, l.relayPort)
	probeCmd := fmt.Sprintf("curl -s --max-time 5 http://%s/", target)
	check := func(ctx context.Context) error {
		out, err := l.remote.Run(ctx, probeCmd)
		if err != nil {
			return err
		}
		if !strings.Contains(out, "Ollama is running") {
			return fmt.Errorf("unexpected response %q", snippet(out))
		}
		return nil
	}

	if err := l.prober.Probe(ctx, StageRelay, check); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return addr, ctxErr
		}
		return addr, &ConnectivityError{Target: target, Err: err}
	}

	l.logger.Info("relay_up",
		"addr", addr,
		"port", l.relayPort,
	)
	return addr, nil
}

// =============================================================================
// Helpers
// =============================================================================

// settle waits d, returning early if the context ends.
func settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// exitedDuringStartup describes a process that died inside its settle
// window, with the last log line for context.
func exitedDuringStartup(h *process.Handle) error {
	if tail := logging.LastLine(h.LogPath()); tail != "" {
		return fmt.Errorf("exited during startup (code %d): %s", h.ExitCode(), tail)
	}
	return fmt.Errorf("exited during startup (code %d)", h.ExitCode())
}

// snippet bounds command output quoted into error messages.
func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 80 {
		return s[:80] + "..."
	}
	return s
}
