// ABOUTME: Tests for the time sync client
// ABOUTME: Covers offset math, tag validation, ack gating and XSync averaging
package timesync

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"
)

// stubTransport records sends and replays queued replies
type stubTransport struct {
	sent    [][]byte
	replies []stubReply
	sendErr error

	// respond, when set, builds the reply from the latest init instead of the queue
	respond func(init Message) ([]byte, error)
}

type stubReply struct {
	msg []byte
	err error
}

func (s *stubTransport) Send(ctx context.Context, msg []byte) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, append([]byte(nil), msg...))
	return nil
}

func (s *stubTransport) Recv(ctx context.Context) ([]byte, error) {
	if s.respond != nil {
		init, _ := ParseMessage(s.sent[len(s.sent)-1])
		return s.respond(init)
	}
	if len(s.replies) == 0 {
		return nil, errors.New("no reply queued")
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r.msg, r.err
}

func (s *stubTransport) count(kind Kind) int {
	n := 0
	for _, msg := range s.sent {
		if KindOf(msg) == kind {
			n++
		}
	}
	return n
}

func syncReply(tserver float64) stubReply {
	return stubReply{msg: encode(Message{Kind: KindSync, Time: tserver})}
}

// seqClock returns the queued values in order, repeating the last one
type seqClock struct {
	values []float64
	i      int
}

func (c *seqClock) Now() float64 {
	v := c.values[min(c.i, len(c.values)-1)]
	c.i++
	return v
}

func zeroRandom() float64 { return 0 }

func TestSyncOffsetFormula(t *testing.T) {
	clock := &seqClock{values: []float64{10.0, 10.5, 10.7}} // tc1, tc2, done sample
	transport := &stubTransport{replies: []stubReply{syncReply(110.25)}}

	client := NewClient(transport, WithClock(clock))

	offset, err := client.Sync(context.Background(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// offset = tserver - (tc1 + tc2) / 2 = 110.25 - 10.25
	if offset != 100.0 {
		t.Errorf("expected offset 100.0, got %v", offset)
	}
	if client.Offset() != offset {
		t.Errorf("expected stored offset %v, got %v", offset, client.Offset())
	}

	done, err := ParseMessage(transport.sent[1])
	if err != nil {
		t.Fatalf("failed to parse done: %v", err)
	}
	if done.Kind != KindDone {
		t.Fatalf("expected second send to be timedone, got %s", done.Kind)
	}

	// Midpoint mixes a fresh sample with tc2 rather than reusing tc1
	if want := (10.7 + 10.5) / 2; done.Time != want {
		t.Errorf("expected done midpoint %v, got %v", want, done.Time)
	}
	if done.Offset != offset {
		t.Errorf("expected done offset %v, got %v", offset, done.Offset)
	}

	stats := client.Stats()
	if stats.RoundTrip != 0.5 {
		t.Errorf("expected round trip 0.5, got %v", stats.RoundTrip)
	}
	if stats.Rounds != 1 || stats.Failures != 0 {
		t.Errorf("expected 1 round and 0 failures, got %d and %d", stats.Rounds, stats.Failures)
	}
}

func TestSyncSendsInitTimestamp(t *testing.T) {
	clock := &seqClock{values: []float64{42.125, 43}}
	transport := &stubTransport{replies: []stubReply{syncReply(0)}}

	client := NewClient(transport, WithClock(clock))
	if _, err := client.Sync(context.Background(), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	init, err := ParseMessage(transport.sent[0])
	if err != nil {
		t.Fatalf("failed to parse init: %v", err)
	}
	if init.Kind != KindInit || init.Time != 42.125 {
		t.Errorf("expected timeinit at 42.125, got %s at %v", init.Kind, init.Time)
	}
}

func TestSyncAckGating(t *testing.T) {
	tests := []struct {
		name      string
		ack       bool
		wantSends int
	}{
		{"no ack", false, 1},
		{"ack", true, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &stubTransport{replies: []stubReply{syncReply(1)}}
			client := NewClient(transport)

			if _, err := client.Sync(context.Background(), tt.ack); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if len(transport.sent) != tt.wantSends {
				t.Fatalf("expected %d sends, got %d", tt.wantSends, len(transport.sent))
			}
			if KindOf(transport.sent[0]) != KindInit {
				t.Errorf("expected first send to be timeinit")
			}
			if tt.ack && KindOf(transport.sent[1]) != KindDone {
				t.Errorf("expected second send to be timedone")
			}
		})
	}
}

func TestSyncTagValidation(t *testing.T) {
	tests := []struct {
		name string
		msg  []byte
	}{
		{"wrong tag", encode(Message{Kind: KindInit, Time: 5})},
		{"duplicate done", encode(Message{Kind: KindDone, Time: 5, Offset: 1})},
		{"garbage", []byte("hello world, not a sync")},
		{"tag only", []byte("timesync")},
		{"empty", []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &stubTransport{replies: []stubReply{syncReply(7), {msg: tt.msg}}}
			client := NewClient(transport, WithClock(ClockFunc(func() float64 { return 0 })))

			if _, err := client.Sync(context.Background(), false); err != nil {
				t.Fatalf("unexpected error on first sync: %v", err)
			}

			_, err := client.Sync(context.Background(), true)

			var protoErr *ProtocolError
			if !errors.As(err, &protoErr) {
				t.Fatalf("expected ProtocolError, got %v", err)
			}
			if string(protoErr.Message) != string(tt.msg) {
				t.Errorf("expected error to carry %q, got %q", tt.msg, protoErr.Message)
			}
			if client.Offset() != 7 {
				t.Errorf("expected offset to stay 7, got %v", client.Offset())
			}
			if transport.count(KindDone) != 0 {
				t.Error("expected no timedone after a rejected response")
			}
			if client.Stats().Failures != 1 {
				t.Errorf("expected 1 failure, got %d", client.Stats().Failures)
			}
		})
	}
}

func TestSyncTransportNotImplemented(t *testing.T) {
	client := NewClient(nil)

	_, err := client.Sync(context.Background(), true)
	if !errors.Is(err, ErrTransportNotImplemented) {
		t.Fatalf("expected ErrTransportNotImplemented, got %v", err)
	}

	sent := 0
	client = NewClient(TransportFuncs{
		SendFunc: func(ctx context.Context, msg []byte) error {
			sent++
			return nil
		},
	})

	_, err = client.Sync(context.Background(), true)
	if !errors.Is(err, ErrTransportNotImplemented) {
		t.Fatalf("expected ErrTransportNotImplemented from recv, got %v", err)
	}

	var transportErr *TransportError
	if !errors.As(err, &transportErr) || transportErr.Op != "recv" {
		t.Errorf("expected recv TransportError, got %v", err)
	}
	if sent != 1 {
		t.Errorf("expected exactly one send before recv failed, got %d", sent)
	}
}

func TestSyncTransportErrorPropagates(t *testing.T) {
	boom := errors.New("link down")

	client := NewClient(&stubTransport{sendErr: boom})
	if _, err := client.Sync(context.Background(), true); !errors.Is(err, boom) {
		t.Errorf("expected send error to propagate, got %v", err)
	}

	client = NewClient(&stubTransport{replies: []stubReply{{err: boom}}})
	if _, err := client.Sync(context.Background(), true); !errors.Is(err, boom) {
		t.Errorf("expected recv error to propagate, got %v", err)
	}

	if client.Offset() != 0 {
		t.Errorf("expected offset to stay 0, got %v", client.Offset())
	}
}

func TestSyncIdempotent(t *testing.T) {
	var now float64
	clock := ClockFunc(func() float64 {
		now += 1.0
		return now
	})

	// Peer always answers 5.5s after the init timestamp; tc2 = tc1 + 1
	transport := &stubTransport{
		respond: func(init Message) ([]byte, error) {
			return encode(Message{Kind: KindSync, Time: init.Time + 5.5}), nil
		},
	}

	client := NewClient(transport, WithClock(clock))

	first, err := client.Sync(context.Background(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := client.Sync(context.Background(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first != 5.0 || second != 5.0 {
		t.Errorf("expected both rounds to measure 5.0, got %v and %v", first, second)
	}
	if client.Offset() != 5.0 {
		t.Errorf("expected offset 5.0, got %v", client.Offset())
	}
}

func TestXSyncAveraging(t *testing.T) {
	transport := &stubTransport{replies: []stubReply{syncReply(1.0), syncReply(2.0), syncReply(3.0)}}
	client := NewClient(transport,
		WithClock(ClockFunc(func() float64 { return 0 })),
		WithRandom(zeroRandom),
	)

	offset := client.XSync(context.Background(), 3, 3*time.Millisecond)

	if offset != 2.0 {
		t.Errorf("expected mean offset 2.0, got %v", offset)
	}
	if client.Offset() != 2.0 {
		t.Errorf("expected stored offset 2.0, got %v", client.Offset())
	}

	if got := transport.count(KindDone); got != 1 {
		t.Fatalf("expected exactly one timedone, got %d", got)
	}
	if len(transport.sent) != 4 {
		t.Fatalf("expected 4 sends, got %d", len(transport.sent))
	}
	last := transport.sent[len(transport.sent)-1]
	if KindOf(last) != KindDone {
		t.Errorf("expected timedone to be the final send")
	}

	// The acknowledgment carries the last round's own offset, not the mean
	done, _ := ParseMessage(last)
	if done.Offset != 3.0 {
		t.Errorf("expected timedone offset 3.0, got %v", done.Offset)
	}
}

func TestXSyncFaultTolerance(t *testing.T) {
	transport := &stubTransport{replies: []stubReply{
		syncReply(1.0),
		{err: errors.New("timeout")},
		syncReply(3.0),
		syncReply(5.0),
	}}
	client := NewClient(transport,
		WithClock(ClockFunc(func() float64 { return 0 })),
		WithRandom(zeroRandom),
	)

	offset := client.XSync(context.Background(), 4, 4*time.Millisecond)

	if offset != 3.0 {
		t.Errorf("expected mean of successful rounds 3.0, got %v", offset)
	}

	stats := client.Stats()
	if stats.Rounds != 3 || stats.Failures != 1 {
		t.Errorf("expected 3 rounds and 1 failure, got %d and %d", stats.Rounds, stats.Failures)
	}
}

func TestXSyncTotalFailure(t *testing.T) {
	transport := &stubTransport{replies: []stubReply{
		syncReply(7.0),
		{err: errors.New("a")},
		{msg: []byte("garbage!")},
		{err: errors.New("c")},
	}}
	client := NewClient(transport,
		WithClock(ClockFunc(func() float64 { return 0 })),
		WithRandom(zeroRandom),
	)

	if _, err := client.Sync(context.Background(), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	offset := client.XSync(context.Background(), 3, 3*time.Millisecond)

	if math.IsNaN(offset) {
		t.Fatal("expected a number, got NaN")
	}
	if offset != 7.0 {
		t.Errorf("expected prior offset 7.0, got %v", offset)
	}
}

func TestXSyncNoTransport(t *testing.T) {
	client := NewClient(nil, WithRandom(zeroRandom))

	offset := client.XSync(context.Background(), 2, 2*time.Millisecond)
	if offset != 0 {
		t.Errorf("expected initial offset 0, got %v", offset)
	}
}

func TestXSyncCancelled(t *testing.T) {
	transport := &stubTransport{replies: []stubReply{syncReply(9.0)}}
	client := NewClient(transport, WithRandom(zeroRandom))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	offset := client.XSync(ctx, 2, time.Hour)

	if offset != 0 {
		t.Errorf("expected offset to stay 0, got %v", offset)
	}
	if len(transport.sent) != 0 {
		t.Errorf("expected no rounds after cancellation, got %d sends", len(transport.sent))
	}
}

func TestXSyncSpacing(t *testing.T) {
	transport := &stubTransport{replies: []stubReply{syncReply(1), syncReply(1)}}
	client := NewClient(transport,
		WithClock(ClockFunc(func() float64 { return 0 })),
		WithRandom(func() float64 { return 0.999 }),
	)

	start := time.Now()
	client.XSync(context.Background(), 2, 40*time.Millisecond)
	elapsed := time.Since(start)

	// Two pauses of (0.999 + 0.5) * 20ms each
	if elapsed < 55*time.Millisecond {
		t.Errorf("expected rounds to be spaced about 60ms in total, took %v", elapsed)
	}
}

func TestConcurrentAccess(t *testing.T) {
	transport := &stubTransport{
		respond: func(init Message) ([]byte, error) {
			return encode(Message{Kind: KindSync, Time: init.Time + 1}), nil
		},
	}
	client := NewClient(transport)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				client.Offset()
				client.Stats()
				client.RemoteNow()
				if _, err := client.Sync(context.Background(), j%2 == 0); err != nil {
					t.Errorf("unexpected error: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if client.Stats().Rounds != 500 {
		t.Errorf("expected 500 rounds, got %d", client.Stats().Rounds)
	}
}
