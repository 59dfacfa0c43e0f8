// ABOUTME: TCP stream transport for the time sync protocol
// ABOUTME: Frames messages on a byte stream using the fixed size of each tag
package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/espbase/timesync-go/pkg/timesync"
)

// StreamOption configures a Stream
type StreamOption func(*Stream)

// WithReadTimeout bounds each Recv
func WithReadTimeout(d time.Duration) StreamOption {
	return func(s *Stream) {
		s.readTimeout = d
	}
}

// Stream carries protocol messages over a stream connection such as TCP.
//
// Known tags are followed by their fixed payload. For unknown tags the bytes
// already buffered are returned with the tag so the caller can reject them.
// A read that fails partway through a message leaves those bytes buffered
// for the next Recv.
//
// Replies are paired with requests in order: a timesync reply that arrives
// after the Recv waiting for it gave up is dropped by the next Recv instead
// of being returned as the answer to a newer timeinit.
type Stream struct {
	conn        net.Conn
	r           *bufio.Reader
	readTimeout time.Duration

	readMu  sync.Mutex
	writeMu sync.Mutex

	// pending counts timeinit requests sent and not yet answered
	pendingMu sync.Mutex
	pending   int
}

// NewStream wraps conn. TCP connections get TCP_NODELAY.
func NewStream(conn net.Conn, opts ...StreamOption) *Stream {
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}

	s := &Stream{
		conn: conn,
		r:    bufio.NewReaderSize(conn, MaxMessageSize*4),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send writes one message
func (s *Stream) Send(ctx context.Context, msg []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(deadline(ctx, writeTimeout))
	stop := watchContext(ctx, s.conn.SetWriteDeadline)
	defer stop()

	if _, err := s.conn.Write(msg); err != nil {
		return ctxErr(ctx, err)
	}

	if timesync.KindOf(msg) == timesync.KindInit {
		s.pendingMu.Lock()
		s.pending++
		s.pendingMu.Unlock()
	}
	return nil
}

// Recv reads one message
func (s *Stream) Recv(ctx context.Context) ([]byte, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	s.conn.SetReadDeadline(deadline(ctx, s.readTimeout))
	stop := watchContext(ctx, s.conn.SetReadDeadline)
	defer stop()

	for {
		msg, err := s.next()
		if err != nil {
			return nil, ctxErr(ctx, err)
		}
		if timesync.KindOf(msg) == timesync.KindSync && s.stale() {
			continue
		}
		return msg, nil
	}
}

// next returns the next framed message. Nothing is consumed until the whole
// message is buffered.
func (s *Stream) next() ([]byte, error) {
	tag, err := s.r.Peek(timesync.TagSize)
	if err != nil {
		return nil, err
	}

	kind := timesync.KindOf(tag)
	size := kind.Size()
	if size == 0 {
		size = min(s.r.Buffered(), MaxMessageSize)
	}

	buf, err := s.r.Peek(size)
	if err != nil {
		return nil, fmt.Errorf("truncated %s message: %w", kind, err)
	}

	msg := append([]byte(nil), buf...)
	if _, err := s.r.Discard(size); err != nil {
		return nil, err
	}
	return msg, nil
}

// stale settles one pending request and reports whether a newer request
// is still waiting, meaning the reply belongs to an abandoned one.
func (s *Stream) stale() bool {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	if s.pending == 0 {
		return false
	}
	s.pending--
	return s.pending > 0
}

// RemoteAddr returns the peer address
func (s *Stream) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Close closes the connection
func (s *Stream) Close() error {
	return s.conn.Close()
}
