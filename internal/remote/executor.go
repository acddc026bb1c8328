// Package remote runs commands on the remote host over ssh.
//
// Everything here is name-addressed and fire-and-forget: the remote
// relay never gets a local process handle, so starting, probing and
// killing it all go through one-shot ssh invocations.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Config holds configuration for the remote executor.
type Config struct {
	// SSHPath is the path to the ssh binary.
	SSHPath string

	// User and Host form the ssh target.
	User string
	Host string

	// ConnectTimeout bounds the TCP connect of each invocation.
	ConnectTimeout time.Duration

	Logger *slog.Logger
}

// Executor runs one-shot commands on the remote host.
type Executor struct {
	sshPath        string
	user           string
	host           string
	connectTimeout time.Duration
	logger         *slog.Logger
}

// NewExecutor creates an executor for the given remote host.
func NewExecutor(cfg Config) *Executor {
	if cfg.SSHPath == "" {
		cfg.SSHPath = "ssh"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Executor{
		sshPath:        cfg.SSHPath,
		user:           cfg.User,
		host:           cfg.Host,
		connectTimeout: cfg.ConnectTimeout,
		logger:         cfg.Logger,
	}
}

// Target returns the user@host ssh destination.
func (e *Executor) Target() string {
	return e.user + "@" + e.host
}

// Run executes command on the remote host and returns its combined
// output, trimmed. The error carries the last output line for context.
func (e *Executor) Run(ctx context.Context, command string) (string, error) {
	args := []string{
		"-o", "BatchMode=yes",
	}
	if e.connectTimeout > 0 {
		args = append(args, "-o", fmt.Sprintf("ConnectTimeout=%d", int(e.connectTimeout.Seconds())))
	}
	args = append(args, e.Target(), command)

	e.logger.Debug("remote_exec",
		"target", e.Target(),
		"command", command,
	)

	cmd := exec.CommandContext(ctx, e.sshPath, args...)
	output, err := cmd.CombinedOutput()
	out := strings.TrimSpace(string(output))

	if err != nil {
		if out != "" {
			return out, fmt.Errorf("ssh %s: %w: %s", e.Target(), err, lastLine(out))
		}
		return out, fmt.Errorf("ssh %s: %w", e.Target(), err)
	}

	return out, nil
}

// StartDetached launches command on the remote host detached from the
// ssh session, so it survives the session closing.
func (e *Executor) StartDetached(ctx context.Context, command string) error {
	detached := fmt.Sprintf("nohup %s >/dev/null 2>&1 &", command)

	if _, err := e.Run(ctx, detached); err != nil {
		return err
	}
	return nil
}

// KillPattern terminates remote processes matching the pattern.
// Best-effort: pkill exiting 1 means nothing matched, which is fine.
func (e *Executor) KillPattern(ctx context.Context, pattern string) error {
	_, err := e.Run(ctx, fmt.Sprintf("pkill -f '%s'", pattern))
	if err == nil {
		return nil
	}

	// ssh propagates the remote exit code; 1 = no processes matched.
	// ssh itself exits 255 on connection failure, which stays an error.
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return nil
	}
	return err
}

// InternalIP returns the remote host's primary internal address, the
// one the relay binds so cloud-internal clients can reach it.
func (e *Executor) InternalIP(ctx context.Context) (string, error) {
	out, err := e.Run(ctx, `hostname -I | awk '{print $1}'`)
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", fmt.Errorf("remote %s reported no internal address", e.host)
	}
	return out, nil
}

// lastLine returns the last non-empty line of output.
func lastLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
