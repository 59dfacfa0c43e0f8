// ABOUTME: Answering side of the time sync protocol
// ABOUTME: Replies to timeinit, validates timedone and averages confirmed offsets
package timesync

import (
	"context"
	"math"
	"sync"
)

const (
	// PeerResults is the number of recent results a peer keeps
	PeerResults = 3

	// MaxOffsetMismatch bounds the difference, in seconds, between the offset
	// a client reports in timedone and the one the peer computes
	MaxOffsetMismatch = 0.1
)

// EventKind classifies what a peer did with an incoming message
type EventKind int

const (
	EventInit      EventKind = iota // timeinit answered
	EventDone                       // timedone confirmed a result
	EventUnmatched                  // timedone offset disagreed with ours
	EventIgnored                    // timedone that was short or had no round to confirm
	EventUnknown                    // anything else
)

func (k EventKind) String() string {
	switch k {
	case EventInit:
		return "init"
	case EventDone:
		return "done"
	case EventUnmatched:
		return "unmatched"
	case EventIgnored:
		return "ignored"
	}
	return "unknown"
}

// Result is one round as seen by the peer
type Result struct {
	Offset    float64 // Peer-computed offset, 0 until confirmed or when unmatched
	Sync      float64 // Time reported to the client in timesync
	Send      float64 // When timesync was sent
	Confirmed bool
}

// Event reports the outcome of handling one message
type Event struct {
	Kind         EventKind
	Result       Result
	ClientOffset float64 // Offset reported by the client in timedone
	PeerOffset   float64 // Offset the peer measured for the same round
	Message      []byte  // Raw message for EventIgnored and EventUnknown
}

// PeerStatus summarizes a peer session
type PeerStatus struct {
	Count     int      // timeinit rounds answered
	Offset    float64  // Averaged confirmed offset
	RoundTrip float64  // Averaged sync-to-done round trip
	Results   []Result // Latest results, newest first
}

// PeerOption configures a Peer
type PeerOption func(*Peer)

// WithPeerClock replaces the clock used for peer timestamps
func WithPeerClock(clock Clock) PeerOption {
	return func(p *Peer) {
		p.clock = clock
	}
}

// WithEventHandler registers a callback invoked by Serve after each message
func WithEventHandler(fn func(Event)) PeerOption {
	return func(p *Peer) {
		p.onEvent = fn
	}
}

// Peer answers time sync rounds for one connected client
type Peer struct {
	clock   Clock
	onEvent func(Event)

	mu        sync.RWMutex
	count     int
	confirmed int
	offset    float64
	roundTrip float64
	results   [PeerResults]Result
}

// NewPeer creates a peer using the monotonic clock
func NewPeer(opts ...PeerOption) *Peer {
	p := &Peer{clock: MonotonicClock}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle processes one message received at recvAt and returns the reply to
// send, if any. The reply timestamp is taken inside Handle so callers should
// write it out immediately.
func (p *Peer) Handle(msg []byte, recvAt float64) ([]byte, Event) {
	switch KindOf(msg) {
	case KindInit:
		return p.handleInit(recvAt)
	case KindDone:
		if len(msg) >= DoneSize {
			return nil, p.handleDone(msg, recvAt)
		}
	default:
		return nil, Event{Kind: EventUnknown, Message: append([]byte(nil), msg...)}
	}
	return nil, Event{Kind: EventIgnored, Message: append([]byte(nil), msg...)}
}

func (p *Peer) handleInit(recvAt float64) ([]byte, Event) {
	tsSend := p.clock.Now()
	tsSync := (recvAt + tsSend) / 2
	reply := encode(Message{Kind: KindSync, Time: tsSync})

	p.mu.Lock()
	defer p.mu.Unlock()

	result := Result{Sync: tsSync, Send: tsSend}
	p.results[p.count%PeerResults] = result
	p.count++

	return reply, Event{Kind: EventInit, Result: result}
}

func (p *Peer) handleDone(msg []byte, recvAt float64) Event {
	clientSync := getFloat(msg[timeOffset:])
	clientOffset := getFloat(msg[offsetOffset:])

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.count == 0 {
		return Event{Kind: EventIgnored, Message: append([]byte(nil), msg...)}
	}

	result := &p.results[(p.count-1)%PeerResults]
	result.Offset = (recvAt+result.Send)/2 - clientSync
	roundTrip := recvAt - result.Send

	measured := result.Offset
	if math.Abs(measured-clientOffset) > MaxOffsetMismatch {
		result.Offset = 0
		return Event{Kind: EventUnmatched, Result: *result, ClientOffset: clientOffset, PeerOffset: measured}
	}

	result.Confirmed = true
	if p.confirmed == 0 {
		p.offset = result.Offset
		p.roundTrip = roundTrip
	} else {
		p.offset = (p.offset + result.Offset) / 2
		p.roundTrip = (p.roundTrip + roundTrip) / 2
	}
	p.confirmed++

	return Event{Kind: EventDone, Result: *result, ClientOffset: clientOffset, PeerOffset: measured}
}

// Serve answers messages from t until it fails or ctx is done
func (p *Peer) Serve(ctx context.Context, t Transport) error {
	for {
		msg, err := t.Recv(ctx)
		recvAt := p.clock.Now()
		if err != nil {
			return &TransportError{Op: "recv", Err: err}
		}

		reply, ev := p.Handle(msg, recvAt)
		if reply != nil {
			if err := t.Send(ctx, reply); err != nil {
				return &TransportError{Op: "send", Err: err}
			}
		}

		if p.onEvent != nil {
			p.onEvent(ev)
		}
	}
}

// Status returns a snapshot of the session
func (p *Peer) Status() PeerStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n := min(p.count, PeerResults)
	results := make([]Result, 0, n)
	for j := 0; j < n; j++ {
		results = append(results, p.results[(p.count-j-1)%PeerResults])
	}

	return PeerStatus{
		Count:     p.count,
		Offset:    p.offset,
		RoundTrip: p.roundTrip,
		Results:   results,
	}
}
