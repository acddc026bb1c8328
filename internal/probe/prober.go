// Package probe provides bounded-retry health probing for chain stages.
//
// Every stage gate in the session is a probe: the local service status
// endpoint, and the end-to-end check through the remote relay. A probe
// either passes within its attempt budget or the stage fails; there is
// no open-ended retrying.
package probe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Check is a single health check attempt. It must respect ctx.
type Check func(ctx context.Context) error

// AttemptFunc observes every probe attempt, passed or failed.
type AttemptFunc func(name string, attempt int, latency time.Duration, err error)

// Config holds prober configuration.
type Config struct {
	// Attempts is the per-probe attempt budget.
	Attempts int

	// Interval is the delay between attempts.
	Interval time.Duration

	// AttemptTimeout bounds each individual attempt.
	AttemptTimeout time.Duration

	Logger *slog.Logger

	// OnAttempt is called after every attempt (optional).
	OnAttempt AttemptFunc
}

// Prober runs health checks with a bounded retry budget.
type Prober struct {
	attempts       int
	interval       time.Duration
	attemptTimeout time.Duration
	logger         *slog.Logger
	onAttempt      AttemptFunc
}

// New creates a prober from the given configuration.
func New(cfg Config) *Prober {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Prober{
		attempts:       cfg.Attempts,
		interval:       cfg.Interval,
		attemptTimeout: cfg.AttemptTimeout,
		logger:         cfg.Logger,
		onAttempt:      cfg.OnAttempt,
	}
}

// Probe runs check until it passes or the attempt budget is spent.
// Returns nil on the first passing attempt, the last check error once
// the budget is exhausted, or the context error if ctx ends first.
func (p *Prober) Probe(ctx context.Context, name string, check Check) error {
	var lastErr error

	for attempt := 1; attempt <= p.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if p.attemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.attemptTimeout)
		}

		start := time.Now()
		err := check(attemptCtx)
		latency := time.Since(start)
		if cancel != nil {
			cancel()
		}

		if p.onAttempt != nil {
			p.onAttempt(name, attempt, latency, err)
		}

		if err == nil {
			p.logger.Debug("probe_passed",
				"check", name,
				"attempt", attempt,
				"latency_ms", latency.Milliseconds(),
			)
			return nil
		}
		lastErr = err

		p.logger.Debug("probe_attempt_failed",
			"check", name,
			"attempt", attempt,
			"error", err,
		)

		if attempt < p.attempts && p.interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.interval):
			}
		}
	}

	return fmt.Errorf("%s: %d attempts failed: %w", name, p.attempts, lastErr)
}

// Attempts returns the configured attempt budget.
func (p *Prober) Attempts() int {
	return p.attempts
}

// HTTPCheck returns a Check that GETs url and requires HTTP 200.
// The response body is drained and discarded.
func HTTPCheck(client *http.Client, url string) Check {
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}

		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return nil
	}
}
