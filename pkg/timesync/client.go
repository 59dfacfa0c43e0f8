// ABOUTME: Time sync protocol client
// ABOUTME: Runs the init/sync/done handshake and averages refined offsets
package timesync

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"
)

const (
	// DefaultIterations is the number of XSync rounds when none is given
	DefaultIterations = 10

	// DefaultTimeout is the total XSync spacing when none is given
	DefaultTimeout = 5 * time.Second
)

// Option configures a Client
type Option func(*Client)

// WithClock replaces the monotonic clock used for timestamps
func WithClock(clock Clock) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

// WithRandom replaces the uniform [0, 1) source used to jitter XSync rounds
func WithRandom(random func() float64) Option {
	return func(c *Client) {
		c.random = random
	}
}

// Stats describes the client's synchronization state
type Stats struct {
	Offset    float64   // Current estimate of remote - local, seconds
	RoundTrip float64   // Round trip of the latest successful round, seconds
	Rounds    int       // Successful rounds
	Failures  int       // Failed rounds
	LastSync  time.Time // Wall time of the latest successful round
}

// Client estimates the offset between the local clock and one remote peer
type Client struct {
	transport Transport
	clock     Clock
	random    func() float64

	// syncMu serializes rounds on the transport
	syncMu sync.Mutex

	mu        sync.RWMutex
	offset    float64
	roundTrip float64
	rounds    int
	failures  int
	lastSync  time.Time
}

// NewClient creates a client talking over t. A nil transport fails every
// round with ErrTransportNotImplemented.
func NewClient(t Transport, opts ...Option) *Client {
	if t == nil {
		t = TransportFuncs{}
	}

	c := &Client{
		transport: t,
		clock:     MonotonicClock,
		random:    rand.Float64,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Sync performs one init/sync/done round and stores the measured offset.
// With ack false the timedone acknowledgment is not sent.
// On any error the stored offset is left unchanged.
func (c *Client) Sync(ctx context.Context, ack bool) (float64, error) {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	tc1 := c.clock.Now()
	if err := c.transport.Send(ctx, encode(Message{Kind: KindInit, Time: tc1})); err != nil {
		return c.fail(&TransportError{Op: "send", Err: err})
	}

	msg, err := c.transport.Recv(ctx)
	tc2 := c.clock.Now()
	if err != nil {
		return c.fail(&TransportError{Op: "recv", Err: err})
	}

	if KindOf(msg) != KindSync || len(msg) < SyncSize {
		return c.fail(&ProtocolError{
			Expected: KindSync,
			Message:  append([]byte(nil), msg...),
		})
	}

	tserver := getFloat(msg[timeOffset:])
	offset := tserver - (tc1+tc2)/2

	if ack {
		// Midpoint of receiving timesync and sending timedone; the peer
		// compares it against the midpoint of its own send and receive.
		done := Message{
			Kind:   KindDone,
			Time:   (c.clock.Now() + tc2) / 2,
			Offset: offset,
		}
		if err := c.transport.Send(ctx, encode(done)); err != nil {
			return c.fail(&TransportError{Op: "send", Err: err})
		}
	}

	c.mu.Lock()
	c.offset = offset
	c.roundTrip = tc2 - tc1
	c.rounds++
	c.lastSync = time.Now()
	c.mu.Unlock()

	return offset, nil
}

// fail records a failed round
func (c *Client) fail(err error) (float64, error) {
	c.mu.Lock()
	c.failures++
	c.mu.Unlock()
	return 0, err
}

// XSync repeats Sync with jittered spacing and stores the mean of the
// successful rounds. Only the last round is acknowledged. Failed rounds are
// logged and skipped; if every round fails the previous offset is kept.
// Zero or negative arguments select DefaultIterations and DefaultTimeout.
// Cancelling ctx stops further rounds.
func (c *Client) XSync(ctx context.Context, iterations int, timeout time.Duration) float64 {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	spacing := float64(timeout) / float64(iterations)
	offsets := make([]float64, 0, iterations)

	for i := iterations; i > 0; i-- {
		delay := time.Duration((c.random() + 0.5) * spacing)
		if err := pause(ctx, delay); err != nil {
			log.Printf("Time sync stopped after %d/%d rounds: %v", iterations-i, iterations, err)
			break
		}

		offset, err := c.Sync(ctx, i == 1)
		if err != nil {
			log.Printf("Time sync round %d/%d discarded: %v", iterations-i+1, iterations, err)
			continue
		}
		offsets = append(offsets, offset)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(offsets) > 0 {
		c.offset = mean(offsets)
	}
	return c.offset
}

// Offset returns the current offset estimate in seconds
func (c *Client) Offset() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

// RemoteNow returns the current time in the peer's clock
func (c *Client) RemoteNow() float64 {
	return c.clock.Now() + c.Offset()
}

// Stats returns synchronization statistics
func (c *Client) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Offset:    c.offset,
		RoundTrip: c.roundTrip,
		Rounds:    c.rounds,
		Failures:  c.failures,
		LastSync:  c.lastSync,
	}
}

// pause waits for d or until ctx is done
func pause(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
