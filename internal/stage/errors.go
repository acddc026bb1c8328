// Package stage launches the three links of the chain: local service,
// reverse tunnel, remote relay.
package stage

import "fmt"

// Stage names as they appear in logs, errors and metrics.
const (
	StageService = "local-service"
	StageTunnel  = "tunnel"
	StageRelay   = "relay"
)

// DependencyMissingError reports a required binary absent before any
// process was started. Fatal: nothing ran, so nothing gets cleaned up.
type DependencyMissingError struct {
	Binary string
	Hint   string
}

func (e *DependencyMissingError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("dependency missing: %s (%s)", e.Binary, e.Hint)
	}
	return fmt.Sprintf("dependency missing: %s", e.Binary)
}

// StartupError reports a stage that could not be started, or whose
// process died before its settle window ended.
type StartupError struct {
	Stage string
	Err   error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("%s startup failed: %v", e.Stage, e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

// HealthCheckError reports a started stage that never became healthy
// within the probe budget.
type HealthCheckError struct {
	Stage string
	Err   error
}

func (e *HealthCheckError) Error() string {
	return fmt.Sprintf("%s health check failed: %v", e.Stage, e.Err)
}

func (e *HealthCheckError) Unwrap() error {
	return e.Err
}

// ConnectivityError reports a failed end-to-end check through the
// relay address.
type ConnectivityError struct {
	Target string
	Err    error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("end-to-end check against %s failed: %v", e.Target, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}
