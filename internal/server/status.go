// ABOUTME: Session snapshots and the plain-text status table
// ABOUTME: Shared by the /status endpoint and the TUI
package server

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/espbase/timesync-go/pkg/timesync"
)

// SessionInfo is a snapshot of one session
type SessionInfo struct {
	ID         string
	RemoteAddr string
	Transport  string
	Connected  time.Time
	Status     timesync.PeerStatus
}

// Sessions returns the connected sessions, oldest first
func (s *Server) Sessions() []SessionInfo {
	s.sessionsMu.RLock()
	infos := make([]SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		infos = append(infos, SessionInfo{
			ID:         sess.id,
			RemoteAddr: sess.remote,
			Transport:  sess.kind,
			Connected:  sess.connected,
			Status:     sess.peer.Status(),
		})
	}
	s.sessionsMu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Connected.Before(infos[j].Connected)
	})
	return infos
}

// WriteStatus writes one line per session and one per recent result
func (s *Server) WriteStatus(w io.Writer) error {
	sessions := s.Sessions()

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%s: %d/%d sessions\n", s.config.Name, len(sessions), s.config.MaxClients)
	fmt.Fprintln(tw, "SESSION\tREMOTE\tTRANSPORT\tROUNDS\tOFFSET\tROUND TRIP")

	for _, info := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.6f\t%.6f\n",
			info.ID, info.RemoteAddr, info.Transport,
			info.Status.Count, info.Status.Offset, info.Status.RoundTrip)

		for _, r := range info.Status.Results {
			state := "pending"
			if r.Confirmed {
				state = "confirmed"
			}
			fmt.Fprintf(tw, "\t  sync %.6f\tsend %.6f\t%s\t%.6f\t\n", r.Sync, r.Send, state, r.Offset)
		}
	}

	return tw.Flush()
}
