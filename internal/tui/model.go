package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mldvx/go-ollama-bridge/internal/stats"
)

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// Model represents the TUI state.
type Model struct {
	// Configuration
	remoteHost  string
	modelName   string
	metricsAddr string

	// Current state
	snapshot     stats.Snapshot
	haveSnapshot bool
	startTime    time.Time
	lastUpdate   time.Time
	detailedView bool

	// Display options
	width  int
	height int

	// Stats source (for fetching updates)
	source StatsSource

	// Quit flag
	quitting bool
}

// StatsSource provides session statistics.
type StatsSource interface {
	Snapshot() stats.Snapshot
}

// Config holds TUI configuration.
type Config struct {
	RemoteHost  string
	ModelName   string
	MetricsAddr string
	Source      StatsSource
}

// New creates a new TUI model.
func New(cfg Config) Model {
	return Model{
		remoteHost:  cfg.RemoteHost,
		modelName:   cfg.ModelName,
		metricsAddr: cfg.MetricsAddr,
		source:      cfg.Source,
		startTime:   time.Now(),
		lastUpdate:  time.Now(),
		width:       80,
		height:      24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	// Note: tea.WithAltScreen() is passed when creating the program,
	// so we don't need tea.EnterAltScreen here.
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "d":
			m.detailedView = !m.detailedView
			return m, nil
		case "r":
			// Force refresh
			return m, tickCmd()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		// Fetch latest stats
		if m.source != nil {
			m.snapshot = m.source.Snapshot()
			m.haveSnapshot = true
		}
		m.lastUpdate = time.Now()
		return m, tickCmd()

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return m.renderDashboard()
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 500ms.
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the session started.
func (m Model) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// Remaining returns the time left before the session timeout, and whether
// a timeout applies at all.
func (m Model) Remaining() (time.Duration, bool) {
	if !m.haveSnapshot || m.snapshot.Timeout <= 0 || m.snapshot.RunningAt.IsZero() {
		return 0, false
	}
	left := m.snapshot.Timeout - time.Since(m.snapshot.RunningAt)
	if left < 0 {
		left = 0
	}
	return left, true
}

// TimeoutProgress returns the consumed share of the session timeout (0.0 to 1.0).
func (m Model) TimeoutProgress() float64 {
	if !m.haveSnapshot || m.snapshot.Timeout <= 0 || m.snapshot.RunningAt.IsZero() {
		return 0
	}
	p := float64(time.Since(m.snapshot.RunningAt)) / float64(m.snapshot.Timeout)
	if p > 1 {
		p = 1
	}
	return p
}

// FailureRate returns the share of probe attempts that failed.
func (m Model) FailureRate() float64 {
	if !m.haveSnapshot || m.snapshot.ProbeAttempts == 0 {
		return 0
	}
	return float64(m.snapshot.ProbeFailures) / float64(m.snapshot.ProbeAttempts)
}

// =============================================================================
// Helper for external use
// =============================================================================

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}

// =============================================================================
// Formatting Helpers (used by view.go)
// =============================================================================

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// formatMs formats a millisecond value with sub-millisecond precision below 1ms.
func formatMs(ms float64) string {
	if ms <= 0 {
		return "-"
	}
	if ms < 1.0 {
		return fmt.Sprintf("%.2f ms", ms)
	}
	return fmt.Sprintf("%.0f ms", ms)
}

// formatPercent formats a percentage.
func formatPercent(value float64) string {
	return fmt.Sprintf("%.1f%%", value*100)
}

// formatLaunch formats a stage launch duration.
func formatLaunch(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Second {
		return fmt.Sprintf("%d ms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1f s", d.Seconds())
}
