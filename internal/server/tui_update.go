// ABOUTME: TUI update helpers for server
// ABOUTME: Functions to send session state to the TUI
package server

// tuiStatus snapshots the server for the TUI
func (s *Server) tuiStatus() ServerStatus {
	return ServerStatus{
		Name:       s.config.Name,
		Port:       s.config.Port,
		HTTPPort:   s.config.HTTPPort,
		MaxClients: s.config.MaxClients,
		Sessions:   s.Sessions(),
	}
}

// updateTUI sends current server state to TUI
func (s *Server) updateTUI() {
	if s.tui == nil {
		return
	}
	s.tui.Update(s.tuiStatus())
}
