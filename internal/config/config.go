// Package config provides configuration management for go-ollama-bridge.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config holds all configuration options for a bridge session.
type Config struct {
	// Remote host
	RemoteHost         string        `json:"remote_host"`
	RemoteUser         string        `json:"remote_user"`
	SSHPath            string        `json:"ssh_path"`
	ConnectTimeout     time.Duration `json:"connect_timeout"`
	KeepAliveInterval  int           `json:"keepalive_interval"`   // seconds, ServerAliveInterval
	KeepAliveMaxMissed int           `json:"keepalive_max_missed"` // ServerAliveCountMax

	// Local service
	OllamaPath  string `json:"ollama_path"`
	Model       string `json:"model"`
	ServicePort int    `json:"service_port"`
	SkipPull    bool   `json:"skip_pull"`

	// Tunnel / relay ports
	TunnelPort int `json:"tunnel_port"`
	RelayPort  int `json:"relay_port"`

	// Session
	SessionTimeout time.Duration `json:"session_timeout"` // 0 = no timer
	PollInterval   time.Duration `json:"poll_interval"`
	TerminateGrace time.Duration `json:"terminate_grace"`

	// Stage settle delays
	ServiceSettle time.Duration `json:"service_settle"`
	TunnelSettle  time.Duration `json:"tunnel_settle"`
	RelaySettle   time.Duration `json:"relay_settle"`

	// Health probes
	ProbeAttempts int           `json:"probe_attempts"`
	ProbeInterval time.Duration `json:"probe_interval"`
	ProbeTimeout  time.Duration `json:"probe_timeout"`

	// Observability
	MetricsAddr string `json:"metrics_addr"` // empty = disabled
	Verbose     bool   `json:"verbose"`
	LogFormat   string `json:"log_format"` // json, text
	LogDir      string `json:"log_dir"`

	// Dashboard
	TUIEnabled bool `json:"tui"`

	// Diagnostic modes
	PrintCmd      bool `json:"print_cmd"`
	SkipPreflight bool `json:"skip_preflight"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		// Remote host
		RemoteUser:         "ubuntu",
		SSHPath:            "ssh",
		ConnectTimeout:     10 * time.Second,
		KeepAliveInterval:  30,
		KeepAliveMaxMissed: 3,

		// Local service
		OllamaPath:  "ollama",
		Model:       "llama3.2",
		ServicePort: 11434,

		// Ports: the relay listens on the ollama default so remote
		// clients never need a custom port, the tunnel stays off it.
		TunnelPort: 11435,
		RelayPort:  11434,

		// Session
		SessionTimeout: 240 * time.Minute,
		PollInterval:   10 * time.Second,
		TerminateGrace: 5 * time.Second,

		// Settle delays
		ServiceSettle: 3 * time.Second,
		TunnelSettle:  2 * time.Second,
		RelaySettle:   2 * time.Second,

		// Probes
		ProbeAttempts: 5,
		ProbeInterval: 2 * time.Second,
		ProbeTimeout:  5 * time.Second,

		// Observability
		MetricsAddr: "127.0.0.1:17091",
		Verbose:     false,
		LogFormat:   "text",
		LogDir:      filepath.Join(os.TempDir(), "go-ollama-bridge"),

		// Dashboard
		TUIEnabled: false,
	}
}

// Target returns the user@host string for ssh.
func (c *Config) Target() string {
	return c.RemoteUser + "@" + c.RemoteHost
}
