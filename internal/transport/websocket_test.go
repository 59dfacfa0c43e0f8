// ABOUTME: Tests for the WebSocket transport
// ABOUTME: Runs client rounds against a peer behind an httptest server
package transport

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/espbase/timesync-go/pkg/timesync"
	"github.com/gorilla/websocket"
)

func newPeerServer(t *testing.T, peer *timesync.Peer) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws := NewWebSocket(conn)
		defer ws.Close()
		peer.Serve(r.Context(), ws)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWebSocketRoundTrip(t *testing.T) {
	done := make(chan timesync.Event, 8)
	peer := timesync.NewPeer(timesync.WithEventHandler(func(ev timesync.Event) {
		if ev.Kind == timesync.EventDone {
			done <- ev
		}
	}))
	srv := newPeerServer(t, peer)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"))
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if _, ok := conn.(*WebSocket); !ok {
		t.Fatalf("expected a WebSocket transport, got %T", conn)
	}

	client := timesync.NewClient(conn)
	offset := client.XSync(ctx, 2, 2*time.Millisecond)
	if math.Abs(offset) > 0.05 {
		t.Errorf("expected offset near 0 on a shared clock, got %v", offset)
	}
	if client.Stats().Rounds != 2 {
		t.Errorf("expected 2 rounds, got %d", client.Stats().Rounds)
	}

	select {
	case ev := <-done:
		if !ev.Result.Confirmed {
			t.Errorf("expected confirmed result, got %+v", ev.Result)
		}
	case <-ctx.Done():
		t.Fatal("peer never confirmed the round")
	}
}

func TestWebSocketRecvCancelled(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Never reply
		conn.ReadMessage()
	}))
	defer srv.Close()

	ws, err := DialWebSocket(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"))
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer ws.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if _, err := ws.Recv(ctx); err != context.DeadlineExceeded {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
}
