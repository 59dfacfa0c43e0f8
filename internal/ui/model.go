// ABOUTME: Bubbletea model for the time sync client TUI
// ABOUTME: Defines application state and update logic
package ui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Quality summarizes how the last refinement went
type Quality int

const (
	QualityGood     Quality = iota // every round answered
	QualityDegraded                // some rounds failed
	QualityLost                    // no round answered
)

func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityDegraded:
		return "degraded"
	}
	return "lost"
}

// QualityOf grades a refinement by how many of its rounds succeeded
func QualityOf(succeeded, attempted int) Quality {
	switch {
	case succeeded == 0:
		return QualityLost
	case succeeded < attempted:
		return QualityDegraded
	}
	return QualityGood
}

// SyncStatus is the result of one refinement
type SyncStatus struct {
	Offset    float64 // seconds, remote minus local
	RoundTrip float64 // seconds, last successful round
	Succeeded int
	Attempted int
	Rounds    int // successful rounds since connecting
	Failures  int // failed rounds since connecting
	At        time.Time
}

// Model represents the TUI state
type Model struct {
	// Connection
	connected  bool
	clientName string
	serverName string
	transport  string

	// Sync
	sync        SyncStatus
	synced      bool
	syncQuality Quality
	refinements int

	// Next refinement
	nextSync time.Time

	// Debug
	showDebug bool

	control *Control

	// Dimensions
	width  int
	height int
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.applyStatus(msg)
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	s := ""
	s += m.renderHeader()
	s += m.renderOffset()
	s += m.renderStats()

	if m.showDebug {
		s += m.renderDebug()
	}

	s += m.renderHelp()

	return s
}

// renderHeader renders connection and sync status
func (m Model) renderHeader() string {
	connStatus := "Disconnected"
	if m.connected {
		connStatus = truncate(fmt.Sprintf("Connected to %s (%s)", m.serverName, m.transport), 45)
	}

	syncIcon := "✗"
	syncText := "Not synced"
	if m.synced {
		switch m.syncQuality {
		case QualityGood:
			syncIcon = "✓"
			syncText = fmt.Sprintf("Synced (%d/%d rounds)", m.sync.Succeeded, m.sync.Attempted)
		case QualityDegraded:
			syncIcon = "⚠"
			syncText = fmt.Sprintf("Degraded (%d/%d rounds)", m.sync.Succeeded, m.sync.Attempted)
		default:
			syncText = "Lost (keeping last offset)"
		}
	}

	client := "-"
	if m.clientName != "" {
		client = truncate(m.clientName, 45)
	}

	return fmt.Sprintf(`┌─ Time Sync Client ───────────────────────────────────┐
│ Client: %-45s │
│ Status: %-45s │
│ Sync:   %s %-42s │
├──────────────────────────────────────────────────────┤
`, client, connStatus, syncIcon, syncText)
}

// renderOffset renders the current offset estimate
func (m Model) renderOffset() string {
	if !m.synced {
		return "│ No offset yet                                        │\n"
	}

	return fmt.Sprintf("│ Offset:     %-40s │\n"+
		"│ Round trip: %-40s │\n"+
		"│ Last sync:  %-40s │\n",
		formatSeconds(m.sync.Offset, true),
		formatSeconds(m.sync.RoundTrip, false),
		m.sync.At.Format("15:04:05"))
}

// renderStats renders round statistics
func (m Model) renderStats() string {
	next := "-"
	if !m.nextSync.IsZero() {
		next = m.nextSync.Format("15:04:05")
	}

	return fmt.Sprintf(`├──────────────────────────────────────────────────────┤
│ Rounds: %-6d Failed: %-6d Refinements: %-10d │
│ Next sync:  %-40s │
`, m.sync.Rounds, m.sync.Failures, m.refinements, next)
}

// renderHelp renders keyboard shortcuts
func (m Model) renderHelp() string {
	return `│ s:Sync now  d:Debug  q:Quit                          │
└──────────────────────────────────────────────────────┘
`
}

// renderDebug renders debug information
func (m Model) renderDebug() string {
	return fmt.Sprintf(`│ DEBUG:                                               │
│   Offset: %-42s │
│   Quality: %-41s │
`, fmt.Sprintf("%+.9fs", m.sync.Offset), m.syncQuality)
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if m.control != nil {
			select {
			case m.control.Quit <- QuitMsg{}:
			default:
			}
		}
		return m, tea.Quit
	case "s":
		if m.control != nil {
			select {
			case m.control.Resync <- struct{}{}:
			default:
			}
		}
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.Connected != nil {
		m.connected = *msg.Connected
	}
	if msg.ClientName != "" {
		m.clientName = msg.ClientName
	}
	if msg.ServerName != "" {
		m.serverName = msg.ServerName
	}
	if msg.Transport != "" {
		m.transport = msg.Transport
	}
	if msg.Sync != nil {
		m.sync = *msg.Sync
		m.syncQuality = QualityOf(msg.Sync.Succeeded, msg.Sync.Attempted)
		m.refinements++
		if msg.Sync.Rounds > 0 {
			m.synced = true
		}
	}
	if !msg.NextSync.IsZero() {
		m.nextSync = msg.NextSync
	}
}

// StatusMsg updates TUI state
type StatusMsg struct {
	Connected  *bool
	ClientName string
	ServerName string
	Transport  string
	Sync       *SyncStatus
	NextSync   time.Time
}

// QuitMsg is sent when the user quits
type QuitMsg struct{}

// formatSeconds renders a duration in seconds at a readable scale
func formatSeconds(v float64, signed bool) string {
	format := "%.3f"
	if signed {
		format = "%+.3f"
	}

	abs := v
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs >= 1:
		return fmt.Sprintf(format+" s", v)
	case abs >= 0.001:
		return fmt.Sprintf(format+" ms", v*1e3)
	}
	return fmt.Sprintf(format+" µs", v*1e6)
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}
