// Package preflight provides startup validation checks.
package preflight

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Check represents the result of a single preflight check.
type Check struct {
	Name    string // Name of the check
	Passed  bool   // Whether the check passed
	Warning bool   // True if it's a warning (non-fatal)
	Message string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// RunAll executes all preflight checks.
func RunAll(ollamaPath, sshPath, logDir string, servicePort int) *Result {
	result := &Result{
		Checks: make([]Check, 0, 4),
		Passed: true,
	}

	// Ollama check
	ollamaCheck := checkOllama(ollamaPath)
	result.Checks = append(result.Checks, ollamaCheck)
	if !ollamaCheck.Passed {
		result.Passed = false
	}

	// SSH check
	sshCheck := checkSSH(sshPath)
	result.Checks = append(result.Checks, sshCheck)
	if !sshCheck.Passed {
		result.Passed = false
	}

	// Log directory check
	logCheck := checkLogDir(logDir)
	result.Checks = append(result.Checks, logCheck)
	if !logCheck.Passed {
		result.Passed = false
	}

	// Service port check (warning only)
	portCheck := checkServicePort(servicePort)
	result.Checks = append(result.Checks, portCheck)
	// Don't fail on port warning

	return result
}

// checkOllama verifies the ollama binary is available and working.
func checkOllama(path string) Check {
	cmd := exec.Command(path, "--version")
	output, err := cmd.Output()

	if err != nil {
		return Check{
			Name:    "ollama",
			Passed:  false,
			Message: fmt.Sprintf("not found at %s: %v", path, err),
		}
	}

	// "ollama version is 0.3.6"
	version := "unknown"
	fields := strings.Fields(strings.SplitN(string(output), "\n", 2)[0])
	if len(fields) > 0 {
		version = fields[len(fields)-1]
	}

	return Check{
		Name:    "ollama",
		Passed:  true,
		Message: fmt.Sprintf("found at %s (version %s)", path, version),
	}
}

// checkSSH verifies the ssh binary is available.
// OpenSSH prints its version to stderr, so use CombinedOutput.
func checkSSH(path string) Check {
	cmd := exec.Command(path, "-V")
	output, err := cmd.CombinedOutput()

	if err != nil {
		return Check{
			Name:    "ssh",
			Passed:  false,
			Message: fmt.Sprintf("not found at %s: %v", path, err),
		}
	}

	// "OpenSSH_9.6p1 Ubuntu-3ubuntu13, OpenSSL 3.0.13 30 Jan 2024"
	version := strings.TrimSpace(strings.SplitN(string(output), ",", 2)[0])
	if version == "" {
		version = "unknown"
	}

	return Check{
		Name:    "ssh",
		Passed:  true,
		Message: fmt.Sprintf("found at %s (%s)", path, version),
	}
}

// checkLogDir verifies the log directory exists (or can be created)
// and is writable.
func checkLogDir(dir string) Check {
	if dir == "" {
		return Check{
			Name:    "log_dir",
			Passed:  false,
			Message: "no log directory configured",
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Check{
			Name:    "log_dir",
			Passed:  false,
			Message: fmt.Sprintf("cannot create %s: %v", dir, err),
		}
	}

	probe := filepath.Join(dir, ".preflight")
	if err := os.WriteFile(probe, []byte("ok\n"), 0o644); err != nil {
		return Check{
			Name:    "log_dir",
			Passed:  false,
			Message: fmt.Sprintf("not writable: %v", err),
		}
	}
	os.Remove(probe)

	return Check{
		Name:    "log_dir",
		Passed:  true,
		Message: dir,
	}
}

// checkServicePort checks whether the local service port is free.
// A stale ollama holding the port is stopped at startup, so this is
// a warning rather than a failure.
func checkServicePort(port int) Check {
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return Check{
			Name:    "service_port",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("%s already in use (previous service will be stopped)", addr),
		}
	}
	ln.Close()

	return Check{
		Name:    "service_port",
		Passed:  true,
		Message: fmt.Sprintf("%s free", addr),
	}
}

// PrintResults prints the preflight check results to stdout.
func PrintResults(result *Result) {
	fmt.Println("Preflight checks:")
	for _, check := range result.Checks {
		fmt.Println(check.String())
		if !check.Passed {
			fmt.Printf("    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Println()
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "ollama":
		return "install ollama (https://ollama.com/download) or pass -ollama /path/to/ollama"
	case "ssh":
		return "install an OpenSSH client (apt install openssh-client)"
	case "log_dir":
		return "pass a writable directory with -log-dir"
	default:
		return "see documentation"
	}
}
