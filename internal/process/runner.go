// Package process provides abstractions for running external processes.
package process

import (
	"context"
	"os/exec"
)

// Roles of the managed processes. The relay is deliberately absent:
// it runs on the remote host and is addressed by pattern, never by a
// local handle.
const (
	RoleService = "local-service"
	RoleTunnel  = "tunnel"
)

// Runner creates executable commands for managed processes.
// This interface allows the stage launcher to be process-agnostic.
type Runner interface {
	// BuildCommand returns a ready-to-start command.
	// The command should NOT be started yet.
	BuildCommand(ctx context.Context) (*exec.Cmd, error)

	// Name returns the role of this process type.
	Name() string
}
