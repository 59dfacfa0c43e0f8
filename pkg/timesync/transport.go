// ABOUTME: Transport and clock collaborators for the time sync protocol
// ABOUTME: Message channel interface, function adapter and monotonic clock
package timesync

import (
	"context"
	"time"
)

// Transport is a message-oriented channel to one remote peer.
// Each Recv yields exactly one message, in the order the peer sent them.
type Transport interface {
	Send(ctx context.Context, msg []byte) error
	Recv(ctx context.Context) ([]byte, error)
}

// TransportFuncs adapts a pair of functions to Transport.
// A nil function fails with ErrTransportNotImplemented.
type TransportFuncs struct {
	SendFunc func(ctx context.Context, msg []byte) error
	RecvFunc func(ctx context.Context) ([]byte, error)
}

func (f TransportFuncs) Send(ctx context.Context, msg []byte) error {
	if f.SendFunc == nil {
		return ErrTransportNotImplemented
	}
	return f.SendFunc(ctx, msg)
}

func (f TransportFuncs) Recv(ctx context.Context) ([]byte, error) {
	if f.RecvFunc == nil {
		return nil, ErrTransportNotImplemented
	}
	return f.RecvFunc(ctx)
}

// Clock returns a non-decreasing time in fractional seconds
type Clock interface {
	Now() float64
}

// ClockFunc adapts a function to Clock
type ClockFunc func() float64

func (f ClockFunc) Now() float64 {
	return f()
}

var processStart = time.Now()

// MonotonicClock reads Go's monotonic clock as seconds since process start
var MonotonicClock Clock = ClockFunc(func() float64 {
	return time.Since(processStart).Seconds()
})
