package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ServiceConfig holds configuration for the local ollama service.
type ServiceConfig struct {
	// BinaryPath is the path to the ollama binary.
	BinaryPath string

	// Model is the model that must be present before serving.
	Model string

	// Port is the local port the service listens on.
	Port int
}

// ServiceRunner implements Runner for the local ollama service.
type ServiceRunner struct {
	config *ServiceConfig
}

// NewServiceRunner creates a new service runner with the given configuration.
func NewServiceRunner(cfg *ServiceConfig) *ServiceRunner {
	return &ServiceRunner{
		config: cfg,
	}
}

// Name returns the local-service role.
func (r *ServiceRunner) Name() string {
	return RoleService
}

// BuildCommand creates the `ollama serve` command. The service binds
// all interfaces and accepts any origin so the relayed requests from
// the remote host are not rejected.
func (r *ServiceRunner) BuildCommand(ctx context.Context) (*exec.Cmd, error) {
	cmd := exec.CommandContext(ctx, r.config.BinaryPath, "serve")
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("OLLAMA_HOST=0.0.0.0:%d", r.config.Port),
		"OLLAMA_ORIGINS=*",
	)
	return cmd, nil
}

// HealthURL returns the local status endpoint. Ollama answers GET /
// with "Ollama is running" once it accepts connections.
func (r *ServiceRunner) HealthURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d/", r.config.Port)
}

// ListModels returns the locally available model names.
func (r *ServiceRunner) ListModels(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, r.config.BinaryPath, "list")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ollama list: %w", err)
	}

	// First column of each row, header skipped:
	//   NAME            ID           SIZE    MODIFIED
	//   llama3.2:latest a80c4f17acd5 2.0 GB  3 weeks ago
	var models []string
	for i, line := range strings.Split(string(output), "\n") {
		fields := strings.Fields(line)
		if i == 0 || len(fields) == 0 {
			continue
		}
		models = append(models, fields[0])
	}
	return models, nil
}

// HasModel reports whether model is in the models list. A bare name
// matches any tag, so "llama3.2" matches "llama3.2:latest".
func HasModel(models []string, model string) bool {
	for _, m := range models {
		if m == model {
			return true
		}
		if name, _, ok := strings.Cut(m, ":"); ok && name == model {
			return true
		}
	}
	return false
}

// PullModel downloads the configured model.
func (r *ServiceRunner) PullModel(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, r.config.BinaryPath, "pull", r.config.Model)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ollama pull %s: %w: %s", r.config.Model, err, lastOutputLine(output))
	}
	return nil
}

// ServicePattern matches a running ollama serve, for prior-session cleanup.
const ServicePattern = "ollama serve"

// StopPrevious terminates any ollama serve left over from an earlier
// session.
func (r *ServiceRunner) StopPrevious(ctx context.Context) error {
	return KillByPattern(ctx, ServicePattern)
}

// KillByPattern runs pkill -f with the given pattern. pkill exiting 1
// means nothing matched, which is fine.
func KillByPattern(ctx context.Context, pattern string) error {
	cmd := exec.CommandContext(ctx, "pkill", "-f", pattern)
	err := cmd.Run()
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return nil
	}
	return fmt.Errorf("pkill %s: %w", pattern, err)
}

// Config returns the service configuration.
func (r *ServiceRunner) Config() *ServiceConfig {
	return r.config
}

// CommandString returns the command that would be executed (for debugging).
func (r *ServiceRunner) CommandString() string {
	return fmt.Sprintf("OLLAMA_HOST=0.0.0.0:%d OLLAMA_ORIGINS=* %s serve",
		r.config.Port, r.config.BinaryPath)
}

// lastOutputLine returns the last non-empty line of command output,
// for error context.
func lastOutputLine(output []byte) string {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
