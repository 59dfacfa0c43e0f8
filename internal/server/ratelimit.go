// ABOUTME: Per-session message rate limiting
// ABOUTME: Drops messages that arrive faster than the configured rate
package server

import (
	"context"

	"github.com/espbase/timesync-go/internal/transport"
	"golang.org/x/time/rate"
)

// rateLimited drops messages beyond the limiter's budget without replying
type rateLimited struct {
	transport.Conn
	limiter *rate.Limiter
	onDrop  func(msg []byte)
}

func newRateLimited(conn transport.Conn, perSecond float64, burst int, onDrop func([]byte)) transport.Conn {
	if perSecond <= 0 {
		return conn
	}
	return &rateLimited{
		Conn:    conn,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		onDrop:  onDrop,
	}
}

func (r *rateLimited) Recv(ctx context.Context) ([]byte, error) {
	for {
		msg, err := r.Conn.Recv(ctx)
		if err != nil {
			return nil, err
		}
		if r.limiter.Allow() {
			return msg, nil
		}
		if r.onDrop != nil {
			r.onDrop(msg)
		}
	}
}
