package config

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

// ParseFlags parses command-line flags and returns a Config.
// Returns an error if required arguments are missing or invalid.
func ParseFlags() (*Config, error) {
	cfg := DefaultConfig()

	// Custom usage message
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `go-ollama-bridge - expose a local ollama to a remote host over an SSH reverse tunnel

Usage:
  go-ollama-bridge [flags] <REMOTE_HOST>

Remote Host Flags:
`)
		// Print flags by category
		printFlagCategory([]string{"host", "user", "ssh", "connect-timeout"})

		fmt.Fprintf(os.Stderr, "\nLocal Service:\n")
		printFlagCategory([]string{"ollama", "model", "service-port", "skip-pull"})

		fmt.Fprintf(os.Stderr, "\nTunnel / Relay:\n")
		printFlagCategory([]string{"tunnel-port", "relay-port", "keepalive-interval", "keepalive-max-missed"})

		fmt.Fprintf(os.Stderr, "\nSession:\n")
		printFlagCategory([]string{"timeout", "poll-interval", "grace"})

		fmt.Fprintf(os.Stderr, "\nHealth Probes:\n")
		printFlagCategory([]string{"probe-attempts", "probe-interval", "probe-timeout", "settle-service", "settle-tunnel", "settle-relay"})

		fmt.Fprintf(os.Stderr, "\nSafety & Diagnostics:\n")
		printFlagCategory([]string{"print-cmd", "skip-preflight"})

		fmt.Fprintf(os.Stderr, "\nObservability:\n")
		printFlagCategory([]string{"metrics", "v", "log-format", "log-dir"})

		fmt.Fprintf(os.Stderr, "\nDashboard:\n")
		printFlagCategory([]string{"tui"})

		fmt.Fprintf(os.Stderr, `
Examples:
  # Bridge the local ollama to a cloud gateway for the default 4 hours
  go-ollama-bridge gateway.example.com

  # Different model, 8 hour session, live dashboard
  go-ollama-bridge -model mistral -timeout 8h -tui 203.0.113.7

  # Show the exact commands that would run, without running them
  go-ollama-bridge -print-cmd gateway.example.com

  # No host argument: prompts for one interactively

`)
	}

	// Remote host flags
	flag.StringVar(&cfg.RemoteHost, "host", cfg.RemoteHost, "Remote host (alternative to positional argument)")
	flag.StringVar(&cfg.RemoteUser, "user", cfg.RemoteUser, "SSH user on the remote host")
	flag.StringVar(&cfg.SSHPath, "ssh", cfg.SSHPath, "Path to ssh binary")
	flag.DurationVar(&cfg.ConnectTimeout, "connect-timeout", cfg.ConnectTimeout, "SSH connect timeout")

	// Local service
	flag.StringVar(&cfg.OllamaPath, "ollama", cfg.OllamaPath, "Path to ollama binary")
	flag.StringVar(&cfg.Model, "model", cfg.Model, "Model to ensure is present before serving")
	flag.IntVar(&cfg.ServicePort, "service-port", cfg.ServicePort, "Local port the ollama service listens on")
	flag.BoolVar(&cfg.SkipPull, "skip-pull", cfg.SkipPull, "Skip the model presence check and pull")

	// Tunnel / relay
	flag.IntVar(&cfg.TunnelPort, "tunnel-port", cfg.TunnelPort, "Remote loopback port the reverse tunnel binds")
	flag.IntVar(&cfg.RelayPort, "relay-port", cfg.RelayPort, "Remote port the relay exposes to clients")
	flag.IntVar(&cfg.KeepAliveInterval, "keepalive-interval", cfg.KeepAliveInterval, "SSH ServerAliveInterval in seconds")
	flag.IntVar(&cfg.KeepAliveMaxMissed, "keepalive-max-missed", cfg.KeepAliveMaxMissed, "SSH ServerAliveCountMax")

	// Session
	flag.DurationVar(&cfg.SessionTimeout, "timeout", cfg.SessionTimeout, "Session timeout (0 = run until signaled)")
	flag.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Liveness poll interval for managed processes")
	flag.DurationVar(&cfg.TerminateGrace, "grace", cfg.TerminateGrace, "Grace period between SIGTERM and SIGKILL")

	// Health probes
	flag.IntVar(&cfg.ProbeAttempts, "probe-attempts", cfg.ProbeAttempts, "Health probe attempts per stage")
	flag.DurationVar(&cfg.ProbeInterval, "probe-interval", cfg.ProbeInterval, "Delay between probe attempts")
	flag.DurationVar(&cfg.ProbeTimeout, "probe-timeout", cfg.ProbeTimeout, "Timeout per probe attempt")
	flag.DurationVar(&cfg.ServiceSettle, "settle-service", cfg.ServiceSettle, "Settle delay after starting the local service")
	flag.DurationVar(&cfg.TunnelSettle, "settle-tunnel", cfg.TunnelSettle, "Settle delay after starting the tunnel")
	flag.DurationVar(&cfg.RelaySettle, "settle-relay", cfg.RelaySettle, "Settle delay after starting the relay")

	// Safety & Diagnostics (double-dash convention)
	flag.BoolVar(&cfg.PrintCmd, "print-cmd", cfg.PrintCmd, "Print the stage commands and exit")
	flag.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")

	// Observability
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Prometheus metrics address (empty = disabled)")
	flag.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	flag.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "Directory for session logs and the metrics snapshot")

	// TUI (Terminal User Interface)
	flag.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Enable live terminal dashboard")

	// Parse
	flag.Parse()

	// Positional argument: remote host (wins over -host)
	args := flag.Args()
	if len(args) >= 1 {
		cfg.RemoteHost = args[0]
	}

	return cfg, nil
}

// PromptForHost asks interactively for the remote host.
// Returns the entered host, which may be empty if the user just
// pressed enter or the reader is closed.
func PromptForHost(r io.Reader, w io.Writer) string {
	fmt.Fprint(w, "Remote host (e.g. gateway.example.com): ")

	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		return ""
	}
	return strings.TrimSpace(scanner.Text())
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(names []string) {
	flag.VisitAll(func(f *flag.Flag) {
		for _, name := range names {
			if f.Name == name {
				fmt.Fprintf(os.Stderr, "  -%s %s\n    \t%s", f.Name, flagType(f), f.Usage)
				if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" && f.DefValue != "[]" {
					fmt.Fprintf(os.Stderr, " (default %s)", f.DefValue)
				}
				fmt.Fprintln(os.Stderr)
				return
			}
		}
	})
}

// flagType returns a type hint for the flag value.
func flagType(f *flag.Flag) string {
	// Infer type from default value format
	switch f.DefValue {
	case "true", "false":
		return ""
	}

	// Check if it looks like a duration
	if strings.HasSuffix(f.DefValue, "s") || strings.HasSuffix(f.DefValue, "m") || strings.HasSuffix(f.DefValue, "h") {
		return "duration"
	}

	// Check if numeric
	if _, err := fmt.Sscanf(f.DefValue, "%d", new(int)); err == nil {
		return "int"
	}

	return "string"
}
