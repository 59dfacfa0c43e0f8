// ABOUTME: WebSocket transport for the time sync protocol
// ABOUTME: Carries one protocol message per binary frame
package transport

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket carries protocol messages as WebSocket binary frames
type WebSocket struct {
	conn *websocket.Conn

	readMu  sync.Mutex
	writeMu sync.Mutex
}

// NewWebSocket wraps an established WebSocket connection
func NewWebSocket(conn *websocket.Conn) *WebSocket {
	conn.SetReadLimit(MaxMessageSize)
	return &WebSocket{conn: conn}
}

// DialWebSocket connects to a ws:// or wss:// peer
func DialWebSocket(ctx context.Context, rawURL string) (*WebSocket, error) {
	log.Printf("Connecting to %s", rawURL)

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = DialTimeout

	conn, _, err := dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	return NewWebSocket(conn), nil
}

// Send writes one binary frame
func (w *WebSocket) Send(ctx context.Context, msg []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.conn.SetWriteDeadline(deadline(ctx, writeTimeout))
	stop := watchContext(ctx, w.conn.SetWriteDeadline)
	defer stop()

	if err := w.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
		return ctxErr(ctx, err)
	}
	return nil
}

// Recv reads one frame. Text frames are passed through as raw bytes.
func (w *WebSocket) Recv(ctx context.Context) ([]byte, error) {
	w.readMu.Lock()
	defer w.readMu.Unlock()

	w.conn.SetReadDeadline(deadline(ctx, 0))
	stop := watchContext(ctx, w.conn.SetReadDeadline)
	defer stop()

	_, data, err := w.conn.ReadMessage()
	if err != nil {
		return nil, ctxErr(ctx, err)
	}
	return data, nil
}

// RemoteAddr returns the peer address
func (w *WebSocket) RemoteAddr() net.Addr {
	return w.conn.RemoteAddr()
}

// Close sends a close frame and closes the connection
func (w *WebSocket) Close() error {
	w.writeMu.Lock()
	w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	w.writeMu.Unlock()

	return w.conn.Close()
}
