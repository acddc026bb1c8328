package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mldvx/go-ollama-bridge/internal/logging"
	"github.com/mldvx/go-ollama-bridge/internal/process"
	"github.com/mldvx/go-ollama-bridge/internal/stage"
)

// Launcher brings up the three chain stages.
// This interface allows the supervisor to be decoupled from launch specifics.
type Launcher interface {
	// LaunchService starts the local service. The handle is returned
	// even on failure so cleanup can see what was started.
	LaunchService(ctx context.Context) (*process.Handle, error)

	// LaunchTunnel starts the reverse tunnel, same handle contract.
	LaunchTunnel(ctx context.Context) (*process.Handle, error)

	// LaunchRelay starts the remote relay and returns the address it
	// bound. There is no handle: the relay is addressed by pattern.
	LaunchRelay(ctx context.Context) (string, error)
}

// RemoteKiller terminates remote processes by pattern during teardown.
// It is the only remote capability the supervisor holds, so the relay
// cannot be polled even by accident.
type RemoteKiller interface {
	KillPattern(ctx context.Context, pattern string) error
}

// ExitReason records why the session ended.
type ExitReason int

const (
	// ReasonNone means the session has not ended.
	ReasonNone ExitReason = iota

	// ReasonSignal means the context ended, normally an interrupt.
	ReasonSignal

	// ReasonTimeout means the session timer fired.
	ReasonTimeout

	// ReasonStageFailed means a stage could not be brought up.
	ReasonStageFailed

	// ReasonProcessDied means a monitored process exited while running.
	ReasonProcessDied

	// ReasonDependencyMissing means a required binary was absent before
	// anything started.
	ReasonDependencyMissing
)

// String returns a human-readable name for the exit reason.
func (r ExitReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonSignal:
		return "signal"
	case ReasonTimeout:
		return "timeout"
	case ReasonStageFailed:
		return "stage-failed"
	case ReasonProcessDied:
		return "process-died"
	case ReasonDependencyMissing:
		return "dependency-missing"
	default:
		return "unknown"
	}
}

// Graceful reports whether the reason is a planned ending. Signal and
// timeout end the session without an error exit.
func (r ExitReason) Graceful() bool {
	return r == ReasonSignal || r == ReasonTimeout
}

// ProcessDiedError reports a monitored process that exited while the
// session was running.
type ProcessDiedError struct {
	Role     string
	PID      int
	ExitCode int
}

func (e *ProcessDiedError) Error() string {
	return fmt.Sprintf("%s (pid %d) exited with code %d while session was running",
		e.Role, e.PID, e.ExitCode)
}

// Callbacks contains optional callback functions for session events.
type Callbacks struct {
	// OnStateChange is called when the session state changes.
	OnStateChange func(oldState, newState State)

	// OnStageUp is called when a stage becomes healthy.
	OnStageUp func(stage string, took time.Duration)

	// OnProcessExit is called when a monitored process dies while the
	// session is running.
	OnProcessExit func(role string, pid, exitCode int, uptime time.Duration)

	// OnCleanupStep is called after each teardown step, with the
	// step's error if it had one.
	OnCleanupStep func(step string, err error)
}

// Supervisor owns one session. The local service and tunnel are held
// as process handles; the relay exists only as a kill pattern on the
// remote host, so the monitor loop never sees it.
type Supervisor struct {
	launcher Launcher
	remote   RemoteKiller

	relayPort      int
	sessionTimeout time.Duration
	pollInterval   time.Duration
	terminateGrace time.Duration

	logger    *slog.Logger
	callbacks Callbacks

	// State management
	state   State
	stateMu sync.RWMutex

	// What has been started so far
	service      *process.Handle
	tunnel       *process.Handle
	relayStarted bool
	relayAddr    string

	startedAt time.Time
	runningAt time.Time

	exitReason ExitReason
	reasonMu   sync.Mutex

	cleanupOnce sync.Once
}

// Config holds configuration for creating a new Supervisor.
type Config struct {
	Launcher Launcher
	Remote   RemoteKiller

	// RelayPort addresses the remote relay during teardown.
	RelayPort int

	// SessionTimeout ends the session after this long in Running.
	// Zero disables the timer.
	SessionTimeout time.Duration

	// PollInterval is how often the monitor checks process liveness.
	PollInterval time.Duration

	// TerminateGrace is how long a process gets between SIGTERM and
	// SIGKILL during teardown.
	TerminateGrace time.Duration

	Logger    *slog.Logger
	Callbacks Callbacks
}

// New creates a new Supervisor with the given configuration.
func New(cfg Config) *Supervisor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.TerminateGrace <= 0 {
		cfg.TerminateGrace = 5 * time.Second
	}

	return &Supervisor{
		launcher:       cfg.Launcher,
		remote:         cfg.Remote,
		relayPort:      cfg.RelayPort,
		sessionTimeout: cfg.SessionTimeout,
		pollInterval:   cfg.PollInterval,
		terminateGrace: cfg.TerminateGrace,
		logger:         cfg.Logger,
		callbacks:      cfg.Callbacks,
		state:          StateIdle,
	}
}

// Run drives the session to completion: stages up in order, then
// monitor until the context ends, the timer fires, or a process dies.
// It blocks until teardown has finished. A nil return means the
// session ended as planned; an error means it failed.
func (s *Supervisor) Run(ctx context.Context) error {
	s.startedAt = time.Now()

	s.setState(StateStartingLocal)
	stageStart := time.Now()
	service, err := s.launcher.LaunchService(ctx)
	s.service = service
	if err != nil {
		return s.fail(ctx, err)
	}
	s.stageUp(stage.StageService, time.Since(stageStart))

	s.setState(StateStartingTunnel)
	stageStart = time.Now()
	tunnel, err := s.launcher.LaunchTunnel(ctx)
	s.tunnel = tunnel
	if err != nil {
		return s.fail(ctx, err)
	}
	s.stageUp(stage.StageTunnel, time.Since(stageStart))

	s.setState(StateStartingRelay)
	stageStart = time.Now()
	// Anything past this point may have left a relay on the remote
	// host, so teardown must try the remote kill even if this launch
	// fails midway.
	s.relayStarted = true
	addr, err := s.launcher.LaunchRelay(ctx)
	s.setRelayAddr(addr)
	if err != nil {
		return s.fail(ctx, err)
	}
	s.stageUp(stage.StageRelay, time.Since(stageStart))

	s.setState(StateRunning)
	s.runningAt = time.Now()
	s.logger.Info("session_running",
		"relay", fmt.Sprintf("%s:%d", addr, s.relayPort),
		"session_timeout", s.sessionTimeout.String(),
	)

	return s.monitor(ctx)
}

// fail routes a stage failure to the right ending. A missing
// dependency with nothing started skips teardown entirely. A context
// end is the user asking to stop, not a failure.
func (s *Supervisor) fail(ctx context.Context, err error) error {
	var dep *stage.DependencyMissingError
	if errors.As(err, &dep) && s.service == nil && s.tunnel == nil {
		s.setReason(ReasonDependencyMissing)
		s.setState(StateTerminated)
		s.logger.Error("dependency_missing", "binary", dep.Binary, "hint", dep.Hint)
		return err
	}

	if ctx.Err() != nil {
		s.logger.Info("session_interrupted", "during", s.State().String())
		s.cleanup(ReasonSignal)
		return nil
	}

	s.logger.Error("stage_failed", "during", s.State().String(), "error", err)
	s.cleanup(ReasonStageFailed)
	return err
}

// monitor watches the two local processes until something ends the
// session. The relay is deliberately not monitored: there is no local
// handle for it, and checking it would cost an ssh round trip per
// tick. A dead relay surfaces as client-side connection failures.
func (s *Supervisor) monitor(ctx context.Context) error {
	var timeout <-chan time.Time
	if s.sessionTimeout > 0 {
		timer := time.NewTimer(s.sessionTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session_interrupted", "during", StateRunning.String())
			s.cleanup(ReasonSignal)
			return nil

		case <-timeout:
			s.logger.Info("session_timeout", "after", s.sessionTimeout.String())
			s.cleanup(ReasonTimeout)
			return nil

		case <-ticker.C:
			if err := s.checkProcesses(); err != nil {
				s.cleanup(ReasonProcessDied)
				return err
			}
		}
	}
}

// checkProcesses polls the held handles and reports the first dead one.
func (s *Supervisor) checkProcesses() error {
	for _, h := range []*process.Handle{s.service, s.tunnel} {
		if h == nil || h.Alive() {
			continue
		}

		exitCode := h.ExitCode()
		s.logger.Error("process_died",
			"role", h.Role(),
			"pid", h.PID(),
			"exit_code", exitCode,
			"log", h.LogPath(),
		)
		// The process wrote its output to the session log file, surface
		// the end of it so the cause is visible without opening the file
		for _, line := range logging.TailLines(h.LogPath(), 5) {
			s.logger.Error("process_output", "role", h.Role(), "line", line)
		}
		if s.callbacks.OnProcessExit != nil {
			s.callbacks.OnProcessExit(h.Role(), h.PID(), exitCode, h.Uptime())
		}
		return &ProcessDiedError{Role: h.Role(), PID: h.PID(), ExitCode: exitCode}
	}
	return nil
}

// State returns the current session state.
func (s *Supervisor) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// setState updates the state and calls the callback if registered.
func (s *Supervisor) setState(newState State) {
	s.stateMu.Lock()
	oldState := s.state
	s.state = newState
	s.stateMu.Unlock()

	if oldState != newState {
		s.logger.Debug("state_change", "from", oldState.String(), "to", newState.String())
		if s.callbacks.OnStateChange != nil {
			s.callbacks.OnStateChange(oldState, newState)
		}
	}
}

// stageUp notifies the callback that a stage became healthy.
func (s *Supervisor) stageUp(name string, took time.Duration) {
	if s.callbacks.OnStageUp != nil {
		s.callbacks.OnStageUp(name, took)
	}
}

// Reason returns how the session ended, or ReasonNone while active.
func (s *Supervisor) Reason() ExitReason {
	s.reasonMu.Lock()
	defer s.reasonMu.Unlock()
	return s.exitReason
}

// setReason records the ending. The first reason wins: teardown paths
// racing each other must not rewrite why the session ended.
func (s *Supervisor) setReason(r ExitReason) {
	s.reasonMu.Lock()
	defer s.reasonMu.Unlock()
	if s.exitReason == ReasonNone {
		s.exitReason = r
	}
}

// RelayAddr returns the remote internal address the relay bound, or
// empty if the relay stage was never reached.
func (s *Supervisor) RelayAddr() string {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.relayAddr
}

func (s *Supervisor) setRelayAddr(addr string) {
	s.stateMu.Lock()
	s.relayAddr = addr
	s.stateMu.Unlock()
}

// Duration returns wall time since Run began.
func (s *Supervisor) Duration() time.Duration {
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}

// RunningSince returns when the session entered Running, or the zero
// time if it never did.
func (s *Supervisor) RunningSince() time.Time {
	return s.runningAt
}

// SessionTimeout returns the configured session timer, zero if disabled.
func (s *Supervisor) SessionTimeout() time.Duration {
	return s.sessionTimeout
}
