// Package orchestrator wires the session components together and runs
// one bridge session end to end.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mldvx/go-ollama-bridge/internal/config"
	"github.com/mldvx/go-ollama-bridge/internal/logging"
	"github.com/mldvx/go-ollama-bridge/internal/metrics"
	"github.com/mldvx/go-ollama-bridge/internal/preflight"
	"github.com/mldvx/go-ollama-bridge/internal/probe"
	"github.com/mldvx/go-ollama-bridge/internal/process"
	"github.com/mldvx/go-ollama-bridge/internal/remote"
	"github.com/mldvx/go-ollama-bridge/internal/stage"
	"github.com/mldvx/go-ollama-bridge/internal/stats"
	"github.com/mldvx/go-ollama-bridge/internal/supervisor"
	"github.com/mldvx/go-ollama-bridge/internal/tui"
)

// Orchestrator coordinates all components for one bridge session.
type Orchestrator struct {
	config *config.Config
	logger *slog.Logger

	remote        *remote.Executor
	recorder      *stats.Recorder
	collector     *metrics.Collector
	metricsServer *metrics.Server
	supervisor    *supervisor.Supervisor

	version   string
	startTime time.Time
}

// New creates a new Orchestrator with the given configuration.
func New(cfg *config.Config, version string, logger *slog.Logger) *Orchestrator {
	// Remote executor: all name-addressed work on the far host
	executor := remote.NewExecutor(remote.Config{
		SSHPath:        cfg.SSHPath,
		User:           cfg.RemoteUser,
		Host:           cfg.RemoteHost,
		ConnectTimeout: cfg.ConnectTimeout,
		Logger:         logger,
	})

	// Session stats for the TUI and exit summary
	recorder := stats.NewRecorder()
	recorder.SetSessionInfo(cfg.Target(), cfg.Model, cfg.SessionTimeout)

	// Prometheus metrics
	collector := metrics.NewCollector(metrics.CollectorConfig{
		Version:        version,
		RemoteHost:     cfg.RemoteHost,
		Model:          cfg.Model,
		SessionTimeout: cfg.SessionTimeout,
	})

	var server *metrics.Server
	if cfg.MetricsAddr != "" {
		server = metrics.NewServer(cfg.MetricsAddr, collector.Gatherer(), logger)
	}

	orch := &Orchestrator{
		config:        cfg,
		logger:        logger,
		remote:        executor,
		recorder:      recorder,
		collector:     collector,
		metricsServer: server,
		version:       version,
	}

	// Health prober, feeding both stats sinks per attempt
	prober := probe.New(probe.Config{
		Attempts:       cfg.ProbeAttempts,
		Interval:       cfg.ProbeInterval,
		AttemptTimeout: cfg.ProbeTimeout,
		Logger:         logger,
		OnAttempt:      orch.onProbeAttempt,
	})

	// Stage launcher
	launcher := stage.NewLauncher(stage.Config{
		Service: process.NewServiceRunner(&process.ServiceConfig{
			BinaryPath: cfg.OllamaPath,
			Model:      cfg.Model,
			Port:       cfg.ServicePort,
		}),
		Tunnel: process.NewTunnelRunner(&process.TunnelConfig{
			BinaryPath:         cfg.SSHPath,
			User:               cfg.RemoteUser,
			Host:               cfg.RemoteHost,
			TunnelPort:         cfg.TunnelPort,
			ServicePort:        cfg.ServicePort,
			KeepAliveInterval:  cfg.KeepAliveInterval,
			KeepAliveMaxMissed: cfg.KeepAliveMaxMissed,
			ConnectTimeout:     cfg.ConnectTimeout,
		}),
		Remote:        executor,
		Prober:        prober,
		LogDir:        cfg.LogDir,
		SkipPull:      cfg.SkipPull,
		RelayPort:     cfg.RelayPort,
		TunnelPort:    cfg.TunnelPort,
		ServiceSettle: cfg.ServiceSettle,
		TunnelSettle:  cfg.TunnelSettle,
		RelaySettle:   cfg.RelaySettle,
		Logger:        logger,
	})

	orch.supervisor = supervisor.New(supervisor.Config{
		Launcher:       launcher,
		Remote:         executor,
		RelayPort:      cfg.RelayPort,
		SessionTimeout: cfg.SessionTimeout,
		PollInterval:   cfg.PollInterval,
		TerminateGrace: cfg.TerminateGrace,
		Logger:         logger,
		Callbacks: supervisor.Callbacks{
			OnStateChange: orch.onStateChange,
			OnStageUp:     orch.onStageUp,
			OnProcessExit: orch.onProcessExit,
			OnCleanupStep: orch.onCleanupStep,
		},
	})

	return orch
}

// Run executes the session. It blocks until the chain has been torn
// down, however the session ended.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.startTime = time.Now()

	// Run preflight checks. Nothing has started yet, so a failure here
	// returns without any teardown.
	if !o.config.SkipPreflight {
		result := preflight.RunAll(o.config.OllamaPath, o.config.SSHPath, o.config.LogDir, o.config.ServicePort)
		preflight.PrintResults(result)
		if !result.Passed {
			return fmt.Errorf("preflight checks failed (use -skip-preflight to override)")
		}
	}

	// Start metrics server
	if o.metricsServer != nil {
		if err := o.metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	// Setup signal handling: an interrupt cancels the session context,
	// which the supervisor turns into graceful teardown.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			o.logger.Info("received_signal", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	// Start the dashboard if enabled. Quitting it ends the session.
	var program *tea.Program
	tuiDone := make(chan struct{})
	if o.config.TUIEnabled {
		model := tui.New(tui.Config{
			RemoteHost:  o.config.RemoteHost,
			ModelName:   o.config.Model,
			MetricsAddr: o.config.MetricsAddr,
			Source:      o.recorder,
		})
		program = tea.NewProgram(model, tea.WithAltScreen())
		go func() {
			defer close(tuiDone)
			if _, err := program.Run(); err != nil {
				o.logger.Error("tui_failed", "error", err)
			}
			cancel()
		}()
	} else {
		close(tuiDone)
	}

	// Run the session to completion
	runErr := o.supervisor.Run(ctx)

	reason := o.supervisor.Reason()
	o.collector.RecordSessionEnd(reason.String())

	// Stop the dashboard before printing anything
	if program != nil {
		tui.SendQuit(program)
		<-tuiDone
	}

	// Persist the final metrics so the numbers survive the process
	o.writeMetricsSnapshot()

	// Shutdown metrics server
	if o.metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := o.metricsServer.Shutdown(shutdownCtx); err != nil {
			o.logger.Warn("metrics_server_shutdown_error", "error", err)
		}
	}

	// Print exit summary
	o.printExitSummary(reason)

	return runErr
}

// writeMetricsSnapshot dumps the final metric values next to the
// process logs. Best-effort.
func (o *Orchestrator) writeMetricsSnapshot() {
	path := filepath.Join(o.config.LogDir, "metrics-final.prom")
	if err := o.collector.SnapshotToFile(path); err != nil {
		o.logger.Warn("metrics_snapshot_failed", "path", path, "error", err)
		return
	}
	o.logger.Info("metrics_snapshot_written", "path", path)
}

// =============================================================================
// Callback handlers
// =============================================================================

func (o *Orchestrator) onStateChange(oldState, newState supervisor.State) {
	o.recorder.SetState(newState.String())
	o.collector.RecordStateChange(newState.String(), int(newState))

	if newState == supervisor.StateRunning {
		o.recorder.SetRelayAddr(o.supervisor.RelayAddr())
	}
}

func (o *Orchestrator) onStageUp(stageName string, took time.Duration) {
	o.recorder.RecordStageUp(stageName, took)
	o.collector.RecordStageUp(stageName, took)
}

func (o *Orchestrator) onProcessExit(role string, pid, exitCode int, uptime time.Duration) {
	o.recorder.RecordProcessExit()
	o.collector.RecordProcessExit(role, exitCode)

	if o.config.Verbose {
		o.logger.Debug("process_exit_recorded",
			"role", role,
			"pid", pid,
			"exit_code", exitCode,
			"uptime", uptime.String(),
		)
	}
}

func (o *Orchestrator) onCleanupStep(step string, err error) {
	o.recorder.RecordCleanupStep(err)
	o.collector.RecordCleanupStep(step, err)
}

func (o *Orchestrator) onProbeAttempt(name string, attempt int, latency time.Duration, err error) {
	o.recorder.RecordProbeAttempt(name, latency, err)
	o.collector.RecordProbeAttempt(name, latency, err)
}

// =============================================================================
// Exit summary
// =============================================================================

// printExitSummary prints a summary of the session.
func (o *Orchestrator) printExitSummary(reason supervisor.ExitReason) {
	snap := o.recorder.Snapshot()

	fmt.Println()
	fmt.Println("═══════════════════════════════════════════════════════════════════")
	fmt.Println("                     go-ollama-bridge Exit Summary")
	fmt.Println("═══════════════════════════════════════════════════════════════════")
	fmt.Printf("Session Duration:       %s\n", formatDuration(time.Since(o.startTime)))
	fmt.Printf("Exit Reason:            %s %s\n", reason.String(), reasonLabel(reason))
	fmt.Printf("Remote Host:            %s\n", o.config.Target())
	if snap.RelayAddr != "" {
		fmt.Printf("Relay Address:          http://%s\n", snap.RelayAddr)
	} else {
		fmt.Printf("Relay Address:          (never started)\n")
	}
	fmt.Println()

	launches := o.collector.StageLaunches()
	if len(launches) > 0 {
		fmt.Println("Stage Launch Times:")
		for _, name := range []string{stage.StageService, stage.StageTunnel, stage.StageRelay} {
			if took, ok := launches[name]; ok {
				fmt.Printf("  %-20s  %.1fs\n", name+":", took.Seconds())
			}
		}
		fmt.Println()
	}

	if snap.ProbeAttempts > 0 {
		fmt.Println("Health Probes:")
		fmt.Printf("  Attempts:             %d\n", snap.ProbeAttempts)
		fmt.Printf("  Failures:             %d\n", snap.ProbeFailures)
		fmt.Printf("  P50 (median):         %.0f ms\n", snap.LatencyP50Ms)
		fmt.Printf("  P95:                  %.0f ms\n", snap.LatencyP95Ms)
		fmt.Printf("  P99:                  %.0f ms\n", snap.LatencyP99Ms)
		fmt.Println()
	}

	if snap.CleanupSteps > 0 {
		fmt.Println("Teardown:")
		fmt.Printf("  Steps:                %d\n", snap.CleanupSteps)
		fmt.Printf("  Failures:             %d\n", snap.CleanupFails)
		fmt.Println()
	}

	// On a failure ending, point at known error patterns in the process
	// logs so the cause is visible without opening them
	if !reason.Graceful() && reason != supervisor.ReasonNone {
		printed := false
		for _, name := range []string{"service.log", "tunnel.log"} {
			counts := logging.CountErrors(filepath.Join(o.config.LogDir, name))
			if len(counts) == 0 {
				continue
			}
			if !printed {
				fmt.Println("Errors seen in process logs:")
				printed = true
			}
			for _, pattern := range logging.ErrorPatterns {
				if n := counts[pattern]; n > 0 {
					fmt.Printf("  %-14s %q x%d\n", name+":", pattern, n)
				}
			}
		}
		if printed {
			fmt.Println()
		}
	}

	fmt.Printf("Process logs:           %s\n", o.config.LogDir)
	if o.config.MetricsAddr != "" {
		fmt.Printf("Metrics endpoint was:   http://%s/metrics\n", o.config.MetricsAddr)
	}
	fmt.Println("═══════════════════════════════════════════════════════════════════")
}

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// reasonLabel returns a short gloss for common exit reasons.
func reasonLabel(reason supervisor.ExitReason) string {
	switch reason {
	case supervisor.ReasonSignal:
		return "(interrupted)"
	case supervisor.ReasonTimeout:
		return "(session timer fired)"
	case supervisor.ReasonProcessDied:
		return "(a watched process exited)"
	case supervisor.ReasonStageFailed:
		return "(startup failed)"
	case supervisor.ReasonDependencyMissing:
		return "(missing binary)"
	default:
		return ""
	}
}

// =============================================================================
// Accessors
// =============================================================================

// Supervisor returns the session supervisor for external access.
func (o *Orchestrator) Supervisor() *supervisor.Supervisor {
	return o.supervisor
}

// Recorder returns the stats recorder for external access.
func (o *Orchestrator) Recorder() *stats.Recorder {
	return o.recorder
}

// Collector returns the metrics collector for external access.
func (o *Orchestrator) Collector() *metrics.Collector {
	return o.collector
}
