package config

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or an error describing the problem.
func Validate(cfg *Config) error {
	var errs []error

	// Remote host is required (unless -print-cmd without a host)
	if cfg.RemoteHost == "" && !cfg.PrintCmd {
		errs = append(errs, ValidationError{
			Field:   "remote_host",
			Message: "remote host is required",
		})
	}

	// Validate host format if provided
	if cfg.RemoteHost != "" {
		if err := validateHost(cfg.RemoteHost); err != nil {
			errs = append(errs, ValidationError{
				Field:   "remote_host",
				Message: err.Error(),
			})
		}
	}

	// SSH user must be set
	if cfg.RemoteUser == "" {
		errs = append(errs, ValidationError{
			Field:   "remote_user",
			Message: "must not be empty",
		})
	}

	// Model must be set (use -skip-pull to skip the presence check)
	if cfg.Model == "" {
		errs = append(errs, ValidationError{
			Field:   "model",
			Message: "must not be empty",
		})
	}

	// Ports
	for _, p := range []struct {
		field string
		port  int
	}{
		{"service_port", cfg.ServicePort},
		{"tunnel_port", cfg.TunnelPort},
		{"relay_port", cfg.RelayPort},
	} {
		if p.port < 1 || p.port > 65535 {
			errs = append(errs, ValidationError{
				Field:   p.field,
				Message: fmt.Sprintf("must be in 1-65535 (got %d)", p.port),
			})
		}
	}

	// The relay forwards to the tunnel on the same remote host, so the
	// two ports colliding would make socat forward to itself.
	if cfg.TunnelPort == cfg.RelayPort {
		errs = append(errs, ValidationError{
			Field:   "relay_port",
			Message: fmt.Sprintf("must differ from tunnel_port (both %d)", cfg.RelayPort),
		})
	}

	// Session timeout: 0 disables the timer, negative is invalid
	if cfg.SessionTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "session_timeout",
			Message: "must be >= 0 (0 = run until signaled)",
		})
	}

	// Liveness polling
	if cfg.PollInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "poll_interval",
			Message: "must be positive",
		})
	}
	if cfg.TerminateGrace <= 0 {
		errs = append(errs, ValidationError{
			Field:   "terminate_grace",
			Message: "must be positive",
		})
	}

	// Probe budget
	if cfg.ProbeAttempts < 1 {
		errs = append(errs, ValidationError{
			Field:   "probe_attempts",
			Message: "must be at least 1",
		})
	}
	if cfg.ProbeInterval < 0 {
		errs = append(errs, ValidationError{
			Field:   "probe_interval",
			Message: "must be >= 0",
		})
	}
	if cfg.ProbeTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "probe_timeout",
			Message: "must be positive",
		})
	}

	// Settle delays
	for _, s := range []struct {
		field string
		d     int64
	}{
		{"service_settle", int64(cfg.ServiceSettle)},
		{"tunnel_settle", int64(cfg.TunnelSettle)},
		{"relay_settle", int64(cfg.RelaySettle)},
	} {
		if s.d < 0 {
			errs = append(errs, ValidationError{
				Field:   s.field,
				Message: "must be >= 0",
			})
		}
	}

	// SSH keep-alives
	if cfg.KeepAliveInterval < 1 {
		errs = append(errs, ValidationError{
			Field:   "keepalive_interval",
			Message: "must be at least 1 second",
		})
	}
	if cfg.KeepAliveMaxMissed < 1 {
		errs = append(errs, ValidationError{
			Field:   "keepalive_max_missed",
			Message: "must be at least 1",
		})
	}

	// Connect timeout
	if cfg.ConnectTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "connect_timeout",
			Message: "must be positive",
		})
	}

	// Log format must be valid
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}

	// Return combined errors
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// validateHost checks that the host looks like a hostname or IP,
// not a URL or something with embedded whitespace.
func validateHost(host string) error {
	if strings.Contains(host, "://") {
		return errors.New("must be a hostname or IP, not a URL")
	}
	if strings.ContainsAny(host, " \t") {
		return errors.New("must not contain whitespace")
	}
	if strings.Contains(host, "@") {
		return errors.New("user goes in -user, not in the host")
	}
	return nil
}
