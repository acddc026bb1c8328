package logging

import (
	"bufio"
	"os"
	"strings"
)

const (
	// MaxLineLength is the maximum length of a single log line before truncation.
	MaxLineLength = 4096

	// MaxTailLines is the maximum number of lines TailLines will return.
	MaxTailLines = 100
)

// TailLines returns the last n non-empty lines of the file at path.
// Child processes write their output to per-session log files, so this
// is how the supervisor recovers context after a process dies or a
// stage fails to come up.
//
// Returns nil if the file cannot be opened or is empty.
func TailLines(path string, n int) []string {
	if n <= 0 {
		return nil
	}
	if n > MaxTailLines {
		n = MaxTailLines
	}

	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	// Circular buffer over the whole file. Session logs are small
	// (ssh and socat are quiet), so a full scan is fine.
	buffer := make([]string, n)
	bufIdx := 0
	total := 0

	scanner := bufio.NewScanner(f)
	buf := make([]byte, MaxLineLength)
	scanner.Buffer(buf, MaxLineLength)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if len(line) > MaxLineLength {
			line = line[:MaxLineLength] + "...(truncated)"
		}
		buffer[bufIdx] = line
		bufIdx = (bufIdx + 1) % n
		total++
	}

	if total == 0 {
		return nil
	}
	if total < n {
		return buffer[:total]
	}

	// Read from circular buffer in order
	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := (bufIdx + i) % n
		lines = append(lines, buffer[idx])
	}
	return lines
}

// LastLine returns the last non-empty line of the file at path,
// or "" if the file is missing or empty.
func LastLine(path string) string {
	lines := TailLines(path, 1)
	if len(lines) == 0 {
		return ""
	}
	return lines[0]
}

// ErrorPatterns are common failure patterns in ssh and ollama output,
// extracted for the exit summary.
var ErrorPatterns = []string{
	"Connection refused",
	"Connection timed out",
	"Permission denied",
	"remote port forwarding failed",
	"Address already in use",
	"bind: address already in use",
	"Host key verification failed",
	"Could not resolve hostname",
	"broken pipe",
}

// CountErrors counts occurrences of known error patterns in the last
// MaxTailLines lines of the file at path.
func CountErrors(path string) map[string]int {
	counts := make(map[string]int)

	for _, line := range TailLines(path, MaxTailLines) {
		for _, pattern := range ErrorPatterns {
			if strings.Contains(line, pattern) {
				counts[pattern]++
			}
		}
	}

	return counts
}
