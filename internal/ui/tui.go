// ABOUTME: TUI initialization and control
// ABOUTME: Wraps bubbletea program for the client UI
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Control carries user requests from the TUI to the application
type Control struct {
	Resync chan struct{}
	Quit   chan QuitMsg
}

// NewControl creates a new control handler
func NewControl() *Control {
	return &Control{
		Resync: make(chan struct{}, 1),
		Quit:   make(chan QuitMsg, 1),
	}
}

// NewModel creates a new TUI model
func NewModel(ctrl *Control) Model {
	return Model{
		syncQuality: QualityLost,
		control:     ctrl,
	}
}

// Run creates the TUI program; the caller runs it
func Run(ctrl *Control) (*tea.Program, error) {
	p := tea.NewProgram(NewModel(ctrl), tea.WithAltScreen())
	return p, nil
}
