package process

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"
)

func testTunnelConfig() *TunnelConfig {
	return &TunnelConfig{
		BinaryPath:         "ssh",
		User:               "ubuntu",
		Host:               "gateway.example.com",
		TunnelPort:         11435,
		ServicePort:        11434,
		KeepAliveInterval:  30,
		KeepAliveMaxMissed: 3,
		ConnectTimeout:     10 * time.Second,
	}
}

func TestNewTunnelRunner(t *testing.T) {
	cfg := testTunnelConfig()
	r := NewTunnelRunner(cfg)

	if r.Name() != RoleTunnel {
		t.Errorf("Name = %q, want %q", r.Name(), RoleTunnel)
	}
	if r.Config() != cfg {
		t.Error("Config should return the provided config")
	}
}

func TestTunnelRunner_buildArgs(t *testing.T) {
	r := NewTunnelRunner(testTunnelConfig())

	want := []string{
		"-N",
		"-R", "11435:127.0.0.1:11434",
		"-o", "ServerAliveInterval=30",
		"-o", "ServerAliveCountMax=3",
		"-o", "ExitOnForwardFailure=yes",
		"-o", "BatchMode=yes",
		"-o", "ConnectTimeout=10",
		"ubuntu@gateway.example.com",
	}

	got := r.buildArgs()
	if !reflect.DeepEqual(got, want) {
		t.Errorf("buildArgs =\n  %v\nwant\n  %v", got, want)
	}
}

func TestTunnelRunner_buildArgs_NoConnectTimeout(t *testing.T) {
	cfg := testTunnelConfig()
	cfg.ConnectTimeout = 0
	r := NewTunnelRunner(cfg)

	args := strings.Join(r.buildArgs(), " ")
	if strings.Contains(args, "ConnectTimeout") {
		t.Errorf("ConnectTimeout should be omitted when zero: %s", args)
	}
}

func TestTunnelRunner_BuildCommand(t *testing.T) {
	cfg := testTunnelConfig()
	cfg.BinaryPath = "/usr/bin/ssh"
	r := NewTunnelRunner(cfg)

	cmd, err := r.BuildCommand(context.Background())
	if err != nil {
		t.Fatalf("BuildCommand failed: %v", err)
	}

	if cmd.Args[0] != "/usr/bin/ssh" {
		t.Errorf("Args[0] = %q, want the ssh binary", cmd.Args[0])
	}
	if cmd.Args[len(cmd.Args)-1] != "ubuntu@gateway.example.com" {
		t.Errorf("last arg = %q, want the target", cmd.Args[len(cmd.Args)-1])
	}
}

func TestTunnelRunner_Target(t *testing.T) {
	r := NewTunnelRunner(testTunnelConfig())

	if got := r.Target(); got != "ubuntu@gateway.example.com" {
		t.Errorf("Target = %q", got)
	}
}

func TestTunnelRunner_CommandString(t *testing.T) {
	r := NewTunnelRunner(testTunnelConfig())

	s := r.CommandString()
	if !strings.Contains(s, "-R 11435:127.0.0.1:11434") {
		t.Errorf("CommandString should show the reverse forward: %q", s)
	}
	if !strings.HasPrefix(s, "ssh ") {
		t.Errorf("CommandString should start with the binary: %q", s)
	}
	if !strings.Contains(s, "-N") {
		t.Errorf("CommandString should include -N: %q", s)
	}
}
