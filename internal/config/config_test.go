package config

import (
	"bytes"
	"flag"
	"strings"
	"testing"
	"time"
)

func TestFlagType(t *testing.T) {
	testCases := []struct {
		name     string
		defValue string
		expected string
	}{
		{"bool true", "true", ""},
		{"bool false", "false", ""},
		{"int", "42", "int"},
		{"string", "hello", "string"},
		{"duration seconds", "5s", "duration"},
		{"duration minutes", "5m", "duration"},
		{"duration hours", "1h", "duration"},
		{"float", "3.14", "int"}, // Sscanf parses "3" then stops at decimal
		{"empty", "", "string"},
		{"zero", "0", "int"},
		{"negative int", "-1", "int"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// Create a mock flag
			f := &flag.Flag{
				Name:     "test",
				DefValue: tc.defValue,
			}
			result := flagType(f)
			if result != tc.expected {
				t.Errorf("flagType(%q) = %q, want %q", tc.defValue, result, tc.expected)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Verify critical defaults
	if cfg.RemoteUser != "ubuntu" {
		t.Errorf("RemoteUser = %q, want %q", cfg.RemoteUser, "ubuntu")
	}
	if cfg.OllamaPath != "ollama" {
		t.Errorf("OllamaPath = %q, want %q", cfg.OllamaPath, "ollama")
	}
	if cfg.SSHPath != "ssh" {
		t.Errorf("SSHPath = %q, want %q", cfg.SSHPath, "ssh")
	}
	if cfg.ServicePort != 11434 {
		t.Errorf("ServicePort = %d, want 11434", cfg.ServicePort)
	}
	if cfg.TunnelPort != 11435 {
		t.Errorf("TunnelPort = %d, want 11435", cfg.TunnelPort)
	}
	if cfg.RelayPort != 11434 {
		t.Errorf("RelayPort = %d, want 11434", cfg.RelayPort)
	}
	if cfg.SessionTimeout != 240*time.Minute {
		t.Errorf("SessionTimeout = %v, want 240m", cfg.SessionTimeout)
	}
	if cfg.TUIEnabled {
		t.Error("TUIEnabled should be false by default")
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat = %q, want %q", cfg.LogFormat, "text")
	}
	if cfg.LogDir == "" {
		t.Error("LogDir should have a default")
	}
}

func TestConfig_Target(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RemoteUser = "alice"
	cfg.RemoteHost = "gateway.example.com"

	if got := cfg.Target(); got != "alice@gateway.example.com" {
		t.Errorf("Target() = %q, want %q", got, "alice@gateway.example.com")
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RemoteHost = "gateway.example.com"

	err := Validate(cfg)
	if err != nil {
		t.Errorf("Valid config should not error: %v", err)
	}
}

func TestValidate_MissingHost(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RemoteHost = ""

	err := Validate(cfg)
	if err == nil {
		t.Error("Expected error for missing remote host")
	}
	if !strings.Contains(err.Error(), "remote_host") {
		t.Errorf("Error should mention remote_host: %v", err)
	}
}

func TestValidate_PrintCmdAllowsNoHost(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RemoteHost = ""
	cfg.PrintCmd = true

	err := Validate(cfg)
	if err != nil {
		t.Errorf("PrintCmd mode should allow empty host: %v", err)
	}
}

func TestValidate_InvalidHost(t *testing.T) {
	testCases := []struct {
		name string
		host string
	}{
		{"url", "http://gateway.example.com"},
		{"ssh_url", "ssh://gateway.example.com"},
		{"whitespace", "gateway example.com"},
		{"tab", "gateway\texample"},
		{"embedded_user", "ubuntu@gateway.example.com"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.RemoteHost = tc.host

			err := Validate(cfg)
			if err == nil {
				t.Errorf("Expected error for host %q", tc.host)
			}
		})
	}
}

func TestValidate_EmptyUser(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RemoteHost = "gateway.example.com"
	cfg.RemoteUser = ""

	err := Validate(cfg)
	if err == nil {
		t.Error("Expected error for empty user")
	}
	if !strings.Contains(err.Error(), "remote_user") {
		t.Errorf("Error should mention remote_user: %v", err)
	}
}

func TestValidate_EmptyModel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RemoteHost = "gateway.example.com"
	cfg.Model = ""

	err := Validate(cfg)
	if err == nil {
		t.Error("Expected error for empty model")
	}
	if !strings.Contains(err.Error(), "model") {
		t.Errorf("Error should mention model: %v", err)
	}
}

func TestValidate_InvalidPorts(t *testing.T) {
	testCases := []struct {
		name  string
		field string
		set   func(*Config, int)
		port  int
	}{
		{"service_zero", "service_port", func(c *Config, p int) { c.ServicePort = p }, 0},
		{"service_negative", "service_port", func(c *Config, p int) { c.ServicePort = p }, -1},
		{"service_too_big", "service_port", func(c *Config, p int) { c.ServicePort = p }, 70000},
		{"tunnel_zero", "tunnel_port", func(c *Config, p int) { c.TunnelPort = p }, 0},
		{"relay_too_big", "relay_port", func(c *Config, p int) { c.RelayPort = p }, 65536},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.RemoteHost = "gateway.example.com"
			tc.set(cfg, tc.port)

			err := Validate(cfg)
			if err == nil {
				t.Errorf("Expected error for %s=%d", tc.field, tc.port)
			}
			if !strings.Contains(err.Error(), tc.field) {
				t.Errorf("Error should mention %s: %v", tc.field, err)
			}
		})
	}
}

func TestValidate_TunnelRelayPortCollision(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RemoteHost = "gateway.example.com"
	cfg.TunnelPort = 11434
	cfg.RelayPort = 11434

	err := Validate(cfg)
	if err == nil {
		t.Error("Expected error when tunnel and relay ports collide")
	}
	if !strings.Contains(err.Error(), "relay_port") {
		t.Errorf("Error should mention relay_port: %v", err)
	}
}

func TestValidate_SessionTimeout(t *testing.T) {
	t.Run("zero_allowed", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.RemoteHost = "gateway.example.com"
		cfg.SessionTimeout = 0

		if err := Validate(cfg); err != nil {
			t.Errorf("SessionTimeout=0 should be valid (no timer): %v", err)
		}
	})

	t.Run("negative_rejected", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.RemoteHost = "gateway.example.com"
		cfg.SessionTimeout = -time.Minute

		err := Validate(cfg)
		if err == nil {
			t.Error("Expected error for negative session timeout")
		}
		if !strings.Contains(err.Error(), "session_timeout") {
			t.Errorf("Error should mention session_timeout: %v", err)
		}
	})
}

func TestValidate_PollInterval(t *testing.T) {
	testCases := []time.Duration{0, -time.Second}

	for _, d := range testCases {
		t.Run(d.String(), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.RemoteHost = "gateway.example.com"
			cfg.PollInterval = d

			err := Validate(cfg)
			if err == nil {
				t.Errorf("Expected error for poll_interval=%v", d)
			}
			if !strings.Contains(err.Error(), "poll_interval") {
				t.Errorf("Error should mention poll_interval: %v", err)
			}
		})
	}
}

func TestValidate_ProbeBudget(t *testing.T) {
	t.Run("zero_attempts", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.RemoteHost = "gateway.example.com"
		cfg.ProbeAttempts = 0

		err := Validate(cfg)
		if err == nil {
			t.Error("Expected error for probe_attempts=0")
		}
	})

	t.Run("zero_interval_allowed", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.RemoteHost = "gateway.example.com"
		cfg.ProbeInterval = 0

		if err := Validate(cfg); err != nil {
			t.Errorf("probe_interval=0 should be valid: %v", err)
		}
	})

	t.Run("zero_timeout", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.RemoteHost = "gateway.example.com"
		cfg.ProbeTimeout = 0

		err := Validate(cfg)
		if err == nil {
			t.Error("Expected error for probe_timeout=0")
		}
	})
}

func TestValidate_KeepAlives(t *testing.T) {
	t.Run("interval", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.RemoteHost = "gateway.example.com"
		cfg.KeepAliveInterval = 0

		err := Validate(cfg)
		if err == nil {
			t.Error("Expected error for keepalive_interval=0")
		}
	})

	t.Run("max_missed", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.RemoteHost = "gateway.example.com"
		cfg.KeepAliveMaxMissed = 0

		err := Validate(cfg)
		if err == nil {
			t.Error("Expected error for keepalive_max_missed=0")
		}
	})
}

func TestValidate_NegativeSettle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RemoteHost = "gateway.example.com"
	cfg.TunnelSettle = -time.Second

	err := Validate(cfg)
	if err == nil {
		t.Error("Expected error for negative settle delay")
	}
	if !strings.Contains(err.Error(), "tunnel_settle") {
		t.Errorf("Error should mention tunnel_settle: %v", err)
	}
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	testCases := []string{"", "xml", "JSON", "logfmt"}

	for _, format := range testCases {
		t.Run(format, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.RemoteHost = "gateway.example.com"
			cfg.LogFormat = format

			err := Validate(cfg)
			if err == nil {
				t.Errorf("Expected error for log_format=%q", format)
			}
			if !strings.Contains(err.Error(), "log_format") {
				t.Errorf("Error should mention log_format: %v", err)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RemoteHost = ""
	cfg.RemoteUser = ""
	cfg.ProbeTimeout = 0

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected errors")
	}

	// errors.Join should carry all of them
	msg := err.Error()
	for _, want := range []string{"remote_host", "remote_user", "probe_timeout"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error should mention %s: %v", want, err)
		}
	}
}

func TestValidationError_Error(t *testing.T) {
	e := ValidationError{Field: "model", Message: "must not be empty"}
	if e.Error() != "model: must not be empty" {
		t.Errorf("Error() = %q", e.Error())
	}
}

func TestPromptForHost(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain", "gateway.example.com\n", "gateway.example.com"},
		{"trimmed", "  gateway.example.com  \n", "gateway.example.com"},
		{"empty_line", "\n", ""},
		{"eof", "", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			got := PromptForHost(strings.NewReader(tc.input), &out)
			if got != tc.expected {
				t.Errorf("PromptForHost = %q, want %q", got, tc.expected)
			}
			if !strings.Contains(out.String(), "Remote host") {
				t.Errorf("Prompt text missing: %q", out.String())
			}
		})
	}
}
