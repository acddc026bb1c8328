// Package main provides the go-ollama-bridge CLI entry point.
//
// go-ollama-bridge exposes a locally running ollama instance to a remote
// host by chaining a reverse SSH tunnel with a socat relay on the far
// side, and supervises all three pieces for the life of the session.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mldvx/go-ollama-bridge/internal/config"
	"github.com/mldvx/go-ollama-bridge/internal/logging"
	"github.com/mldvx/go-ollama-bridge/internal/orchestrator"
	"github.com/mldvx/go-ollama-bridge/internal/process"
	"github.com/mldvx/go-ollama-bridge/internal/stage"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/go-ollama-bridge
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// Handle version flag early (before flag parsing)
	if len(os.Args) > 1 {
		arg := os.Args[1]
		if arg == "-version" || arg == "--version" || arg == "version" {
			fmt.Printf("go-ollama-bridge %s\n", version)
			return 0
		}
	}

	// Parse command-line flags
	cfg, err := config.ParseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return 1
	}

	// No host on the command line: ask for one. print-cmd works without
	// a host, so it skips the prompt.
	if cfg.RemoteHost == "" && !cfg.PrintCmd {
		cfg.RemoteHost = config.PromptForHost(os.Stdin, os.Stderr)
		if cfg.RemoteHost == "" {
			fmt.Fprintln(os.Stderr, "Error: remote host is required")
			return 1
		}
	}

	// Initialize logger
	// When TUI is enabled, suppress logs to avoid interfering with TUI rendering
	var logger *slog.Logger
	if cfg.TUIEnabled {
		// Use a null logger that discards all output
		logger = logging.NewLoggerWithWriter(io.Discard, "json", "info")
	} else {
		logger = logging.NewLogger(cfg.LogFormat, "info", cfg.Verbose)
	}
	logging.SetDefault(logger)

	// Validate configuration
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	// Handle -print-cmd mode
	if cfg.PrintCmd {
		printStageCommands(cfg)
		return 0
	}

	// Log startup
	logger.Info("starting",
		"version", version,
		"target", cfg.Target(),
		"model", cfg.Model,
		"service_port", cfg.ServicePort,
		"tunnel_port", cfg.TunnelPort,
		"relay_port", cfg.RelayPort,
		"timeout", cfg.SessionTimeout,
		"metrics_addr", cfg.MetricsAddr,
	)

	// Print startup banner
	printBanner(cfg)

	// Create and run orchestrator
	orch := orchestrator.New(cfg, version, logger)
	if err := orch.Run(context.Background()); err != nil {
		logger.Error("orchestrator_failed", "error", err)
		return 1
	}

	return 0
}

// printBanner prints the startup banner.
func printBanner(cfg *config.Config) {
	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════════════╗")
	fmt.Println("║                        go-ollama-bridge                           ║")
	fmt.Println("║      Local ollama, served to a remote host via SSH tunnel         ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Remote:      %s\n", cfg.Target())
	fmt.Printf("  Model:       %s\n", cfg.Model)
	fmt.Printf("  Chain:       local :%d → tunnel :%d → relay :%d\n",
		cfg.ServicePort, cfg.TunnelPort, cfg.RelayPort)
	if cfg.SessionTimeout > 0 {
		fmt.Printf("  Timeout:     %s\n", cfg.SessionTimeout)
	} else {
		fmt.Println("  Timeout:     none (runs until signaled)")
	}
	if cfg.MetricsAddr != "" {
		fmt.Printf("  Metrics:     http://%s/metrics\n", cfg.MetricsAddr)
	}
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")
	fmt.Println()
}

// printStageCommands prints the commands each stage would run.
func printStageCommands(cfg *config.Config) {
	service := process.NewServiceRunner(&process.ServiceConfig{
		BinaryPath: cfg.OllamaPath,
		Model:      cfg.Model,
		Port:       cfg.ServicePort,
	})

	host := cfg.RemoteHost
	if host == "" {
		host = "<remote-host>"
	}
	tunnel := process.NewTunnelRunner(&process.TunnelConfig{
		BinaryPath:         cfg.SSHPath,
		User:               cfg.RemoteUser,
		Host:               host,
		TunnelPort:         cfg.TunnelPort,
		ServicePort:        cfg.ServicePort,
		KeepAliveInterval:  cfg.KeepAliveInterval,
		KeepAliveMaxMissed: cfg.KeepAliveMaxMissed,
		ConnectTimeout:     cfg.ConnectTimeout,
	})

	fmt.Println("# Stage 1: local service")
	fmt.Println(service.CommandString())
	fmt.Println()
	fmt.Println("# Stage 2: reverse tunnel")
	fmt.Println(tunnel.CommandString())
	fmt.Println()
	fmt.Println("# Stage 3: relay, run on the remote host.")
	fmt.Println("# The bind address is the remote internal IP, resolved at runtime.")
	fmt.Printf("socat TCP-LISTEN:%d,bind=<internal-ip>,fork,reuseaddr TCP:127.0.0.1:%d\n",
		cfg.RelayPort, cfg.TunnelPort)
	fmt.Println()
	fmt.Println("# Teardown patterns (pkill -f), relay first:")
	fmt.Printf("#   remote: %s\n", stage.RelayPattern(cfg.RelayPort))
	fmt.Printf("#   local:  %s\n", process.ServicePattern)
}
