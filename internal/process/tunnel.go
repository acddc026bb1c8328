package process

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// TunnelConfig holds configuration for the SSH reverse tunnel.
type TunnelConfig struct {
	// BinaryPath is the path to the ssh binary.
	BinaryPath string

	// User and Host form the ssh target.
	User string
	Host string

	// TunnelPort is the port the remote sshd binds on its loopback.
	TunnelPort int

	// ServicePort is the local port the tunnel forwards to.
	ServicePort int

	// KeepAliveInterval is ServerAliveInterval in seconds. With
	// KeepAliveMaxMissed (ServerAliveCountMax) it bounds how long a
	// dead link lingers before ssh exits.
	KeepAliveInterval  int
	KeepAliveMaxMissed int

	// ConnectTimeout bounds the initial TCP connect.
	ConnectTimeout time.Duration
}

// TunnelRunner implements Runner for the SSH reverse tunnel.
type TunnelRunner struct {
	config *TunnelConfig
}

// NewTunnelRunner creates a new tunnel runner with the given configuration.
func NewTunnelRunner(cfg *TunnelConfig) *TunnelRunner {
	return &TunnelRunner{
		config: cfg,
	}
}

// Name returns the tunnel role.
func (r *TunnelRunner) Name() string {
	return RoleTunnel
}

// BuildCommand creates the ssh command for the reverse tunnel.
func (r *TunnelRunner) BuildCommand(ctx context.Context) (*exec.Cmd, error) {
	args := r.buildArgs()
	cmd := exec.CommandContext(ctx, r.config.BinaryPath, args...)
	return cmd, nil
}

// buildArgs constructs the ssh command-line arguments.
func (r *TunnelRunner) buildArgs() []string {
	args := []string{
		// No remote command, forwarding only
		"-N",

		// Reverse forward: remote tunnel port to the local service
		"-R", fmt.Sprintf("%d:127.0.0.1:%d", r.config.TunnelPort, r.config.ServicePort),
	}

	// Keep-alives so a dead link makes ssh exit instead of hanging
	args = append(args,
		"-o", fmt.Sprintf("ServerAliveInterval=%d", r.config.KeepAliveInterval),
		"-o", fmt.Sprintf("ServerAliveCountMax=%d", r.config.KeepAliveMaxMissed),
	)

	// Fail loudly if the remote port cannot be bound
	args = append(args, "-o", "ExitOnForwardFailure=yes")

	// Never block on a password prompt inside a supervised process
	args = append(args, "-o", "BatchMode=yes")

	if r.config.ConnectTimeout > 0 {
		args = append(args, "-o", fmt.Sprintf("ConnectTimeout=%d", int(r.config.ConnectTimeout.Seconds())))
	}

	args = append(args, r.Target())

	return args
}

// Target returns the user@host ssh destination.
func (r *TunnelRunner) Target() string {
	return r.config.User + "@" + r.config.Host
}

// Config returns the tunnel configuration.
func (r *TunnelRunner) Config() *TunnelConfig {
	return r.config
}

// CommandString returns the command that would be executed (for debugging).
func (r *TunnelRunner) CommandString() string {
	return r.config.BinaryPath + " " + strings.Join(r.buildArgs(), " ")
}
