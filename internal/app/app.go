// ABOUTME: Time sync client application orchestration
// ABOUTME: Resolves the peer, keeps a connection and refines the offset periodically
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/espbase/timesync-go/internal/discovery"
	"github.com/espbase/timesync-go/internal/transport"
	"github.com/espbase/timesync-go/internal/ui"
	"github.com/espbase/timesync-go/pkg/timesync"
)

const (
	DefaultInterval         = 30 * time.Second
	DefaultIterations       = 5
	DefaultSpacing          = timesync.DefaultTimeout
	DefaultDiscoveryTimeout = 10 * time.Second
)

// Config holds client configuration
type Config struct {
	ServerAddr       string        // tcp://, ws://, wss:// or host[:port]; empty means mDNS
	Name             string        // client name shown in logs and the TUI
	Interval         time.Duration // between refinements
	Iterations       int           // rounds per refinement
	Spacing          time.Duration // total pause budget per refinement
	DiscoveryTimeout time.Duration

	// OnStatus receives connection and sync updates
	OnStatus func(ui.StatusMsg)
}

// App keeps one peer connection and refines the offset every interval
type App struct {
	config Config

	dial     func(ctx context.Context, addr string) (transport.Conn, error)
	discover func(ctx context.Context) (string, error)

	resync chan struct{}

	conn   transport.Conn
	client *timesync.Client
}

// New creates a new client application
func New(config Config) *App {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Iterations <= 0 {
		config.Iterations = DefaultIterations
	}
	if config.Spacing <= 0 {
		config.Spacing = DefaultSpacing
	}
	if config.DiscoveryTimeout <= 0 {
		config.DiscoveryTimeout = DefaultDiscoveryTimeout
	}

	a := &App{
		config: config,
		dial:   transport.Dial,
		resync: make(chan struct{}, 1),
	}
	a.discover = a.browse
	return a
}

// Resync requests a refinement before the next interval
func (a *App) Resync() {
	select {
	case a.resync <- struct{}{}:
	default:
	}
}

// Run resolves the peer and refines until ctx is done
func (a *App) Run(ctx context.Context) error {
	addr, err := a.resolve(ctx)
	if err != nil {
		return err
	}

	defer a.disconnect()

	for {
		if a.conn == nil {
			if err := a.connect(ctx, addr); err != nil {
				log.Printf("Connection to %s failed: %v", addr, err)
			}
		}

		if a.conn != nil {
			a.refine(ctx, addr)
		}

		next := time.Now().Add(a.config.Interval)
		a.publish(ui.StatusMsg{NextSync: next})

		timer := time.NewTimer(a.config.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-a.resync:
			timer.Stop()
			log.Printf("Sync requested")
		case <-timer.C:
		}
	}
}

// resolve returns the configured address or the first peer found via mDNS
func (a *App) resolve(ctx context.Context) (string, error) {
	if a.config.ServerAddr != "" {
		return a.config.ServerAddr, nil
	}

	log.Printf("Starting peer discovery...")

	ctx, cancel := context.WithTimeout(ctx, a.config.DiscoveryTimeout)
	defer cancel()

	addr, err := a.discover(ctx)
	if err != nil {
		return "", fmt.Errorf("discovery failed: %w", err)
	}

	log.Printf("Discovered peer at %s", addr)
	return addr, nil
}

func (a *App) browse(ctx context.Context) (string, error) {
	mgr := discovery.NewManager(discovery.Config{})

	server, err := mgr.Find(ctx)
	if err != nil {
		return "", err
	}
	return server.Address(), nil
}

// connect dials addr and starts a fresh client on the connection
func (a *App) connect(ctx context.Context, addr string) error {
	conn, err := a.dial(ctx, addr)
	if err != nil {
		return err
	}

	a.conn = conn
	a.client = timesync.NewClient(conn)

	log.Printf("Connected to peer: %s as %s", addr, a.config.Name)

	connected := true
	a.publish(ui.StatusMsg{
		Connected:  &connected,
		ClientName: a.config.Name,
		ServerName: addr,
		Transport:  transportName(conn),
	})
	return nil
}

// refine runs one XSync and reports it. A refinement with any failed round
// drops the connection so the next interval redials: a timed out reply may
// still be in flight and a WebSocket read error is permanent.
func (a *App) refine(ctx context.Context, addr string) {
	before := a.client.Stats()
	offset := a.client.XSync(ctx, a.config.Iterations, a.config.Spacing)
	after := a.client.Stats()

	succeeded := after.Rounds - before.Rounds
	attempted := succeeded + after.Failures - before.Failures

	if ctx.Err() != nil {
		return
	}

	if succeeded > 0 {
		log.Printf("offset with %s: %.6f s (round trip %.6f s, %d/%d rounds)",
			addr, offset, after.RoundTrip, succeeded, attempted)
	} else {
		log.Printf("No rounds answered by %s, offset kept at %.6f s", addr, offset)
	}

	a.publish(ui.StatusMsg{Sync: &ui.SyncStatus{
		Offset:    offset,
		RoundTrip: after.RoundTrip,
		Succeeded: succeeded,
		Attempted: attempted,
		Rounds:    after.Rounds,
		Failures:  after.Failures,
		At:        time.Now(),
	}})

	if succeeded < attempted {
		log.Printf("Dropping connection to %s after %d failed rounds", addr, attempted-succeeded)
		a.disconnect()
	}
}

func (a *App) disconnect() {
	if a.conn == nil {
		return
	}

	if err := a.conn.Close(); err != nil {
		log.Printf("Error closing connection: %v", err)
	}
	a.conn = nil

	disconnected := false
	a.publish(ui.StatusMsg{Connected: &disconnected})
}

func (a *App) publish(msg ui.StatusMsg) {
	if a.config.OnStatus != nil {
		a.config.OnStatus(msg)
	}
}

func transportName(conn transport.Conn) string {
	if _, ok := conn.(*transport.WebSocket); ok {
		return "websocket"
	}
	return "tcp"
}
