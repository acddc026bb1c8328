// Package supervisor drives a session through its lifecycle: bring the
// chain stages up in order, monitor while running, tear down exactly
// once.
package supervisor

// State represents the current session state.
type State int

const (
	// StateIdle is the initial state before anything has started.
	StateIdle State = iota

	// StateStartingLocal indicates the local service is being brought up.
	StateStartingLocal

	// StateStartingTunnel indicates the reverse tunnel is being brought up.
	StateStartingTunnel

	// StateStartingRelay indicates the remote relay is being brought up.
	StateStartingRelay

	// StateRunning indicates the full chain is serving.
	StateRunning

	// StateCleaningUp indicates teardown is in progress.
	StateCleaningUp

	// StateTerminated is the final state after teardown.
	StateTerminated
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStartingLocal:
		return "starting-local"
	case StateStartingTunnel:
		return "starting-tunnel"
	case StateStartingRelay:
		return "starting-relay"
	case StateRunning:
		return "running"
	case StateCleaningUp:
		return "cleaning-up"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// IsActive returns true if the session is starting up or serving.
func (s State) IsActive() bool {
	switch s {
	case StateStartingLocal, StateStartingTunnel, StateStartingRelay, StateRunning:
		return true
	}
	return false
}

// IsTerminal returns true if the session has fully ended.
func (s State) IsTerminal() bool {
	return s == StateTerminated
}
