// ABOUTME: Server TUI for displaying sessions and offsets
// ABOUTME: Real-time server status display using bubbletea
package server

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ServerTUI manages the server TUI
type ServerTUI struct {
	mu      sync.Mutex
	program *tea.Program
	stopped bool

	updates  chan ServerStatus
	done     chan struct{}
	quitChan chan struct{} // Signal to stop the server
}

// ServerStatus holds server state for TUI
type ServerStatus struct {
	Name       string
	Port       int
	HTTPPort   int
	MaxClients int
	Sessions   []SessionInfo
}

// tuiModel is the bubbletea model for server TUI
type tuiModel struct {
	status    ServerStatus
	sessions  table.Model
	startTime time.Time
	quitting  bool
	quitChan  chan struct{}
}

type tickMsg time.Time
type statusMsg ServerStatus

func (m tuiModel) Init() tea.Cmd {
	return tickEvery()
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			m.quitting = true
			select {
			case m.quitChan <- struct{}{}:
			default:
			}
			return m, tea.Quit
		}

	case tickMsg:
		return m, tickEvery()

	case statusMsg:
		m.status = ServerStatus(msg)
		m.sessions.SetRows(sessionRows(m.status.Sessions))
		return m, nil
	}

	return m, nil
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))

	sessionHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("220"))

	faintStyle = lipgloss.NewStyle().Faint(true)
)

func (m tuiModel) View() string {
	if m.quitting {
		return "Shutting down server...\n"
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("Time Sync Server"))
	b.WriteString("\n\n")

	b.WriteString(headerStyle.Render("Server: "))
	b.WriteString(valueStyle.Render(m.status.Name))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("TCP Port: "))
	b.WriteString(valueStyle.Render(fmt.Sprintf("%d", m.status.Port)))
	b.WriteString("\n")

	if m.status.HTTPPort > 0 {
		b.WriteString(headerStyle.Render("WebSocket: "))
		b.WriteString(valueStyle.Render(fmt.Sprintf(":%d/timesync", m.status.HTTPPort)))
		b.WriteString("\n")
	}

	b.WriteString(headerStyle.Render("Uptime: "))
	b.WriteString(valueStyle.Render(time.Since(m.startTime).Round(time.Second).String()))
	b.WriteString("\n\n")

	b.WriteString(sessionHeaderStyle.Render(fmt.Sprintf("Sessions (%d/%d)", len(m.status.Sessions), m.status.MaxClients)))
	b.WriteString("\n\n")

	if len(m.status.Sessions) == 0 {
		b.WriteString(valueStyle.Render("  No clients connected"))
		b.WriteString("\n")
	} else {
		b.WriteString(m.sessions.View())
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(faintStyle.Render("Press 'q' or Ctrl+C to quit"))

	return b.String()
}

func newTUIModel(status ServerStatus, quitChan chan struct{}) tuiModel {
	columns := []table.Column{
		{Title: "Remote", Width: 22},
		{Title: "Transport", Width: 10},
		{Title: "Rounds", Width: 7},
		{Title: "Offset (ms)", Width: 12},
		{Title: "RTT (ms)", Width: 10},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(false),
		table.WithHeight(max(status.MaxClients, 1)+1),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	t.SetStyles(s)
	t.SetRows(sessionRows(status.Sessions))

	return tuiModel{
		status:    status,
		sessions:  t,
		startTime: time.Now(),
		quitChan:  quitChan,
	}
}

func sessionRows(sessions []SessionInfo) []table.Row {
	rows := make([]table.Row, 0, len(sessions))
	for _, sess := range sessions {
		rows = append(rows, table.Row{
			sess.RemoteAddr,
			sess.Transport,
			strconv.Itoa(sess.Status.Count),
			fmt.Sprintf("%+.3f", sess.Status.Offset*1000),
			fmt.Sprintf("%.3f", sess.Status.RoundTrip*1000),
		})
	}
	return rows
}

// NewServerTUI creates a new server TUI
func NewServerTUI() *ServerTUI {
	return &ServerTUI{
		updates:  make(chan ServerStatus, 10),
		done:     make(chan struct{}),
		quitChan: make(chan struct{}, 1),
	}
}

// Start runs the TUI until it quits
func (t *ServerTUI) Start(initial ServerStatus) error {
	m := newTUIModel(initial, t.quitChan)

	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	program := tea.NewProgram(m, tea.WithAltScreen())
	t.program = program
	t.mu.Unlock()

	go func() {
		for {
			select {
			case status := <-t.updates:
				program.Send(statusMsg(status))
			case <-t.done:
				return
			}
		}
	}()

	_, err := program.Run()
	return err
}

// Update sends a status update to the TUI
func (t *ServerTUI) Update(status ServerStatus) {
	select {
	case <-t.done:
	case t.updates <- status:
	default:
		// Don't block if channel is full
	}
}

// Stop stops the TUI. Updates sent afterwards are dropped.
func (t *ServerTUI) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}
	t.stopped = true
	close(t.done)

	if t.program != nil {
		t.program.Quit()
	}
}

// QuitChan returns the channel that signals when user wants to quit
func (t *ServerTUI) QuitChan() <-chan struct{} {
	return t.quitChan
}
