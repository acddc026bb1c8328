package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mldvx/go-ollama-bridge/internal/stats"
)

// stageOrder fixes the display order to match the launch order.
var stageOrder = []struct {
	key   string
	label string
}{
	{"local-service", "Local service"},
	{"tunnel", "SSH tunnel"},
	{"relay", "Remote relay"},
}

// =============================================================================
// Main View Rendering
// =============================================================================

// renderDashboard renders the session dashboard.
func (m Model) renderDashboard() string {
	var sections []string

	// Header
	sections = append(sections, m.renderHeader())

	// Session overview
	sections = append(sections, m.renderSession())

	// Timeout countdown (only once the session is running with a timeout)
	if timeoutBox := m.renderTimeout(); timeoutBox != "" {
		sections = append(sections, timeoutBox)
	}

	// Stage table
	sections = append(sections, m.renderStages())

	// Probe stats (only once probes have run)
	if m.haveSnapshot && m.snapshot.ProbeAttempts > 0 {
		sections = append(sections, m.renderProbes())
	}

	// Per-check detail, toggled with 'd'
	if m.detailedView {
		sections = append(sections, m.renderChecks())
	}

	// Teardown progress (only once cleanup has started)
	if m.haveSnapshot && m.snapshot.CleanupSteps > 0 {
		sections = append(sections, m.renderTeardown())
	}

	// Footer
	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	state := "idle"
	if m.haveSnapshot && m.snapshot.State != "" {
		state = m.snapshot.State
	}

	header := fmt.Sprintf(
		" ollama-bridge │ %s │ Remote: %s │ Elapsed: %s ",
		GetStateLabel(state),
		m.remoteHost,
		formatDuration(m.Elapsed()),
	)

	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Session Overview
// =============================================================================

func (m Model) renderSession() string {
	relay := dimStyle.Render("not started")
	if m.haveSnapshot && m.snapshot.RelayAddr != "" {
		relay = valueGoodStyle.Render("http://" + m.snapshot.RelayAddr)
	}

	modelName := m.modelName
	if modelName == "" {
		modelName = "-"
	}

	rows := []string{
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("Serving:"),
			relay,
		),
		RenderKeyValue("Model", modelName),
	}

	if m.haveSnapshot && !m.snapshot.RunningAt.IsZero() {
		rows = append(rows,
			RenderKeyValue("Running for", formatDuration(time.Since(m.snapshot.RunningAt))),
		)
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Session")}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Timeout Countdown
// =============================================================================

func (m Model) renderTimeout() string {
	remaining, ok := m.Remaining()
	if !ok {
		return ""
	}

	barWidth := m.width - 30
	if barWidth < 20 {
		barWidth = 20
	}
	bar := RenderProgressBar(m.TimeoutProgress(), barWidth)

	var status string
	switch {
	case remaining == 0:
		status = statusWarning.Render("Timeout reached, shutting down")
	case remaining < 5*time.Minute:
		status = statusWarning.Render(formatDuration(remaining) + " remaining")
	default:
		status = statusInfo.Render(formatDuration(remaining) + " remaining")
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render("Session Timeout"),
		bar,
		status,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Stage Table
// =============================================================================

func (m Model) renderStages() string {
	header := tableHeaderStyle.Render(
		fmt.Sprintf("%-16s %-10s %-10s", "Stage", "Status", "Launch"),
	)

	var rows []string
	for _, s := range stageOrder {
		info, known := m.stageInfo(s.key)

		status := dimStyle.Render("… pending")
		launch := "-"
		if known {
			status = GetStageLabel(info.Up)
			launch = formatLaunch(info.Launch)
		}

		rows = append(rows, fmt.Sprintf("%-16s %-10s %-10s", s.label, status, launch))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{
			sectionHeaderStyle.Render("Stages"),
			header,
		}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

func (m Model) stageInfo(key string) (stats.StageInfo, bool) {
	if !m.haveSnapshot {
		return stats.StageInfo{}, false
	}
	s, ok := m.snapshot.Stages[key]
	return s, ok
}

// =============================================================================
// Probe Statistics
// =============================================================================

func (m Model) renderProbes() string {
	s := m.snapshot

	failures := valueGoodStyle.Render("0")
	if s.ProbeFailures > 0 {
		failures = valueBadStyle.Render(
			fmt.Sprintf("%d (%s)", s.ProbeFailures, formatPercent(m.FailureRate())),
		)
	}

	latencyRow := func(label string, ms float64) string {
		return lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render(label+":"),
			GetLatencyStyle(ms).Render(formatMs(ms)),
		)
	}

	rows := []string{
		RenderKeyValue("Attempts", fmt.Sprintf("%d", s.ProbeAttempts)),
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("Failures:"),
			failures,
		),
		latencyRow("Last", lastCheckMs(s.Checks)),
		latencyRow("Average", s.LatencyAvgMs),
		latencyRow("P50 (median)", s.LatencyP50Ms),
		latencyRow("P95", s.LatencyP95Ms),
		latencyRow("P99", s.LatencyP99Ms),
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Health Probes")}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// lastCheckMs returns the most recent per-check latency. The recorder does
// not keep a global "last", so take the max of the per-check last values as
// a close stand-in.
func lastCheckMs(checks map[string]stats.CheckStats) float64 {
	var last float64
	for _, c := range checks {
		if c.LastMs > last {
			last = c.LastMs
		}
	}
	return last
}

// =============================================================================
// Per-Check Detail (toggled with 'd')
// =============================================================================

func (m Model) renderChecks() string {
	if !m.haveSnapshot || len(m.snapshot.Checks) == 0 {
		return boxStyle.Width(m.width - 2).Render(
			dimStyle.Render("No check data yet. Press 'd' to hide."),
		)
	}

	header := tableHeaderStyle.Render(
		fmt.Sprintf("%-16s %-10s %-10s %-10s %s", "Check", "Attempts", "Failures", "Last", "Error"),
	)

	names := make([]string, 0, len(m.snapshot.Checks))
	for name := range m.snapshot.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	var rows []string
	for _, name := range names {
		c := m.snapshot.Checks[name]

		lastErr := dimStyle.Render("-")
		if c.LastError != "" {
			lastErr = valueBadStyle.Render(truncate(c.LastError, m.width-52))
		}

		rows = append(rows, fmt.Sprintf("%-16s %-10d %-10d %-10s %s",
			name, c.Attempts, c.Failures, formatMs(c.LastMs), lastErr))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{
			sectionHeaderStyle.Render("Checks"),
			header,
		}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

func truncate(s string, max int) string {
	if max < 10 {
		max = 10
	}
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// =============================================================================
// Teardown Progress
// =============================================================================

func (m Model) renderTeardown() string {
	s := m.snapshot

	steps := valueStyle.Render(fmt.Sprintf("%d", s.CleanupSteps))
	fails := valueGoodStyle.Render("0")
	if s.CleanupFails > 0 {
		fails = valueWarnStyle.Render(fmt.Sprintf("%d", s.CleanupFails))
	}

	rows := []string{
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("Steps done:"),
			steps,
		),
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("Steps failed:"),
			fails,
		),
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Teardown")}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	shortcuts := []string{
		"q: quit session",
		"d: toggle checks",
		"r: refresh",
	}

	right := ""
	if m.metricsAddr != "" {
		right = dimStyle.Render("Metrics: http://" + m.metricsAddr + "/metrics")
	}

	left := dimStyle.Render(strings.Join(shortcuts, " │ "))

	padding := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if padding < 1 {
		padding = 1
	}

	return footerStyle.Render(
		lipgloss.JoinHorizontal(lipgloss.Left,
			left,
			strings.Repeat(" ", padding),
			right,
		),
	)
}
