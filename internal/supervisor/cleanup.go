package supervisor

import (
	"context"
	"time"

	"github.com/mldvx/go-ollama-bridge/internal/stage"
)

// cleanupTimeout bounds teardown. Run's context is usually already
// dead by the time teardown starts, so it gets a fresh one.
const cleanupTimeout = 15 * time.Second

// cleanup tears the chain down in reverse order: relay, tunnel,
// service. Every step is best-effort; a process that is already gone
// counts as success, and step errors are logged but never propagate.
// Runs at most once no matter how many paths reach it.
func (s *Supervisor) cleanup(reason ExitReason) {
	s.cleanupOnce.Do(func() {
		s.setReason(reason)
		s.setState(StateCleaningUp)
		s.logger.Info("cleanup_starting", "reason", reason.String())

		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()

		// The relay is killed by pattern over ssh. Skipped when the
		// relay stage was never entered, so a dead tunnel target does
		// not cost a connect timeout here.
		if s.relayStarted {
			err := s.remote.KillPattern(ctx, stage.RelayPattern(s.relayPort))
			s.cleanupStep("relay_kill", err)
		}

		if s.tunnel != nil {
			err := s.tunnel.Terminate(s.terminateGrace)
			s.cleanupStep("tunnel_terminate", err)
		}

		if s.service != nil {
			err := s.service.Terminate(s.terminateGrace)
			s.cleanupStep("service_terminate", err)
		}

		s.setState(StateTerminated)
		s.logger.Info("cleanup_complete", "reason", reason.String())
	})
}

// cleanupStep logs one teardown step and notifies the callback.
func (s *Supervisor) cleanupStep(step string, err error) {
	if err != nil {
		s.logger.Warn("cleanup_step_failed", "step", step, "error", err)
	} else {
		s.logger.Debug("cleanup_step_done", "step", step)
	}
	if s.callbacks.OnCleanupStep != nil {
		s.callbacks.OnCleanupStep(step, err)
	}
}
