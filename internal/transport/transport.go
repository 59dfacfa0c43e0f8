// ABOUTME: Network transports for the time sync protocol
// ABOUTME: Picks TCP or WebSocket from the peer address
package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/espbase/timesync-go/pkg/timesync"
)

const (
	// DefaultPort is the TCP port time sync peers listen on
	DefaultPort = 1918

	// MaxMessageSize bounds a single received message
	MaxMessageSize = 128

	// DialTimeout bounds connection setup
	DialTimeout = 3 * time.Second

	// ClientReadTimeout bounds how long a dialing client waits for a reply
	ClientReadTimeout = time.Second

	writeTimeout = 10 * time.Second
)

// Conn is a time sync transport bound to one network connection
type Conn interface {
	timesync.Transport
	RemoteAddr() net.Addr
	Close() error
}

// Dial connects to a peer. ws:// and wss:// addresses use WebSocket,
// tcp:// or bare host[:port] addresses use a TCP stream.
func Dial(ctx context.Context, addr string) (Conn, error) {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		return DialWebSocket(ctx, addr)
	}

	hostport := normalizeHostPort(strings.TrimPrefix(addr, "tcp://"))

	dialer := net.Dialer{Timeout: DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", hostport)
	if err != nil {
		return nil, fmt.Errorf("dial %s failed: %w", hostport, err)
	}

	return NewStream(conn, WithReadTimeout(ClientReadTimeout)), nil
}

// normalizeHostPort appends DefaultPort when addr has no port
func normalizeHostPort(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(strings.Trim(addr, "[]"), strconv.Itoa(DefaultPort))
}

// watchContext unblocks pending I/O on conn when ctx is done.
// The returned function must be called once the I/O completes.
func watchContext(ctx context.Context, setDeadline func(time.Time) error) func() bool {
	return context.AfterFunc(ctx, func() {
		setDeadline(time.Now())
	})
}

// ctxErr prefers the context error over the deadline error it caused
func ctxErr(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	// The I/O deadline can fire just before the context timer does
	if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
		return context.DeadlineExceeded
	}
	return err
}

// deadline picks the earliest of ctx's deadline and now+timeout
func deadline(ctx context.Context, timeout time.Duration) time.Time {
	var d time.Time
	if timeout > 0 {
		d = time.Now().Add(timeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (d.IsZero() || ctxDeadline.Before(d)) {
		d = ctxDeadline
	}
	return d
}
