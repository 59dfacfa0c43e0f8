// ABOUTME: Time sync server hosting peer sessions
// ABOUTME: Accepts TCP and WebSocket clients and answers their sync rounds
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/espbase/timesync-go/internal/discovery"
	"github.com/espbase/timesync-go/internal/transport"
	"github.com/espbase/timesync-go/pkg/timesync"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// Server answers time sync rounds for a bounded number of sessions
type Server struct {
	config Config
	clock  timesync.Clock

	// WebSocket upgrader
	upgrader websocket.Upgrader

	// HTTP server
	httpServer *http.Server
	mux        *http.ServeMux

	// Session management
	sessions   map[string]*session
	sessionsMu sync.RWMutex
	isShutdown bool

	metrics *metrics

	// mDNS discovery
	mdnsManager *discovery.Manager

	// TUI
	tui       *ServerTUI
	startTime time.Time

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// session is one connected client
type session struct {
	id        string
	remote    string
	kind      string
	conn      transport.Conn
	peer      *timesync.Peer
	connected time.Time
}

// New creates a new server instance
func New(config Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		config: config.withDefaults(),
		clock:  timesync.MonotonicClock,
		mux:    http.NewServeMux(),
		upgrader: websocket.Upgrader{
			// Browsers on the LAN connect from arbitrary origins
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessions:  make(map[string]*session),
		metrics:   newMetrics(),
		startTime: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start listens on the configured ports and serves until Stop is called
func (s *Server) Start() error {
	tcpLn, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.config.Port, err)
	}

	var httpLn net.Listener
	if s.config.HTTPPort > 0 {
		httpLn, err = net.Listen("tcp", fmt.Sprintf(":%d", s.config.HTTPPort))
		if err != nil {
			tcpLn.Close()
			return fmt.Errorf("failed to listen on port %d: %w", s.config.HTTPPort, err)
		}
	}

	return s.Serve(tcpLn, httpLn)
}

// Serve accepts protocol connections on tcpLn and, if httpLn is not nil,
// serves /timesync, /status and /metrics on it. It blocks until Stop is
// called, the TUI quits or a listener fails.
func (s *Server) Serve(tcpLn, httpLn net.Listener) error {
	if s.config.UseTUI {
		s.tui = NewServerTUI()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.tui.Start(s.tuiStatus()); err != nil {
				log.Printf("TUI error: %v", err)
			}
		}()
	}

	log.Printf("Server starting: %s (max %d clients)", s.config.Name, s.config.MaxClients)

	if s.config.EnableMDNS {
		httpPort := 0
		if httpLn != nil {
			httpPort = listenerPort(httpLn)
		}
		s.mdnsManager = discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        listenerPort(tcpLn),
			HTTPPort:    httpPort,
		})

		if err := s.mdnsManager.Advertise(); err != nil {
			log.Printf("Failed to start mDNS advertisement: %v", err)
		} else {
			log.Printf("mDNS advertisement started")
		}
	}

	g, ctx := errgroup.WithContext(s.ctx)

	log.Printf("TCP listening on %s", tcpLn.Addr())
	g.Go(func() error {
		return s.acceptLoop(tcpLn)
	})

	if httpLn != nil {
		s.mux.HandleFunc("/timesync", s.handleWebSocket)
		s.mux.HandleFunc("/status", s.handleStatus)
		s.mux.Handle("/metrics", s.metrics.handler())

		s.httpServer = &http.Server{Handler: s.mux}

		log.Printf("WebSocket server listening on %s", httpLn.Addr())
		g.Go(func() error {
			if err := s.httpServer.Serve(httpLn); err != http.ErrServerClosed {
				return fmt.Errorf("HTTP server failed: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		var tuiQuitChan <-chan struct{}
		if s.tui != nil {
			tuiQuitChan = s.tui.QuitChan()
		}

		select {
		case <-ctx.Done():
			log.Printf("Server shutting down...")
		case <-tuiQuitChan:
			log.Printf("TUI quit requested, shutting down...")
		}

		s.shutdown(tcpLn)
		return nil
	})

	err := g.Wait()
	s.wg.Wait()
	log.Printf("Server stopped cleanly")
	return err
}

// Stop stops the server
func (s *Server) Stop() {
	s.cancel()
}

// shutdown rejects new sessions, closes the listeners and ends open sessions
func (s *Server) shutdown(tcpLn net.Listener) {
	s.sessionsMu.Lock()
	s.isShutdown = true
	s.sessionsMu.Unlock()

	if s.tui != nil {
		s.tui.Stop()
	}

	if s.mdnsManager != nil {
		s.mdnsManager.Stop()
	}

	tcpLn.Close()

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}

	// Unblocks every session's receive
	s.cancel()
}

// acceptLoop hands each TCP connection to its own session goroutine
func (s *Server) acceptLoop(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.shuttingDown() {
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		log.Printf("New TCP connection from %s", conn.RemoteAddr())
		go s.handleConnection(transport.NewStream(conn), "tcp")
	}
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	log.Printf("New WebSocket connection from %s", r.RemoteAddr)

	s.handleConnection(transport.NewWebSocket(conn), "websocket")
}

// handleStatus writes the session table as plain text
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := s.WriteStatus(w); err != nil {
		log.Printf("Error writing status: %v", err)
	}
}

// handleConnection runs one session until its transport fails
func (s *Server) handleConnection(conn transport.Conn, kind string) {
	defer conn.Close()

	sess := &session{
		id:        uuid.New().String(),
		remote:    conn.RemoteAddr().String(),
		kind:      kind,
		conn:      conn,
		connected: time.Now(),
	}
	sess.peer = timesync.NewPeer(
		timesync.WithPeerClock(s.clock),
		timesync.WithEventHandler(func(ev timesync.Event) {
			s.handleEvent(sess, ev)
		}),
	)

	if err := s.register(sess); err != nil {
		log.Printf("Rejecting %s: %v", sess.remote, err)
		return
	}
	defer s.wg.Done()

	s.metrics.sessions.Inc()
	s.updateTUI()
	log.Printf("Session %s started for %s (%s)", sess.id, sess.remote, kind)

	defer func() {
		s.sessionsMu.Lock()
		delete(s.sessions, sess.id)
		s.sessionsMu.Unlock()

		s.metrics.sessions.Dec()
		s.updateTUI()
	}()

	limited := newRateLimited(conn, s.config.MessageRate, s.config.MessageBurst, func(msg []byte) {
		s.metrics.messages.WithLabelValues("dropped").Inc()
		if s.config.Debug {
			log.Printf("[DEBUG] Session %s: rate limit dropped %q", sess.id, msg)
		}
	})

	err := sess.peer.Serve(s.ctx, limited)
	if s.ctx.Err() != nil {
		return
	}
	if errors.Is(err, net.ErrClosed) || isClosed(err) {
		log.Printf("Session %s closed by %s", sess.id, sess.remote)
		return
	}
	log.Printf("Session %s ended: %v", sess.id, err)
}

var (
	errShuttingDown = errors.New("server shutting down")
	errSlotsFull    = errors.New("all client slots in use")
)

// register adds sess if a slot is free
func (s *Server) register(sess *session) error {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	if s.isShutdown {
		return errShuttingDown
	}
	if len(s.sessions) >= s.config.MaxClients {
		s.metrics.rejected.Inc()
		return fmt.Errorf("%w (%d)", errSlotsFull, s.config.MaxClients)
	}

	s.sessions[sess.id] = sess
	s.wg.Add(1)
	return nil
}

// handleEvent records what the peer did with a message
func (s *Server) handleEvent(sess *session, ev timesync.Event) {
	s.metrics.messages.WithLabelValues(ev.Kind.String()).Inc()

	switch ev.Kind {
	case timesync.EventInit:
		if s.config.Debug {
			log.Printf("[DEBUG] Session %s: init answered with %.6f", sess.id, ev.Result.Sync)
		}
		return

	case timesync.EventDone:
		status := sess.peer.Status()
		s.metrics.offsetGauge.Set(status.Offset)
		s.metrics.roundTripGauge.Set(status.RoundTrip)
		if s.config.Debug {
			log.Printf("[DEBUG] Session %s: offset %.6f (client %.6f), round trip %.6f",
				sess.id, ev.PeerOffset, ev.ClientOffset, status.RoundTrip)
		}

	case timesync.EventUnmatched:
		s.metrics.unmatched.Inc()
		log.Printf("Session %s: offset mismatch, ours %.6f client %.6f",
			sess.id, ev.PeerOffset, ev.ClientOffset)

	case timesync.EventIgnored:
		log.Printf("Session %s: ignored done message (%d bytes)", sess.id, len(ev.Message))

	case timesync.EventUnknown:
		log.Printf("Session %s: unknown message %q", sess.id, ev.Message)
	}

	s.updateTUI()
}

func (s *Server) shuttingDown() bool {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	return s.isShutdown
}

// isClosed reports whether err is a normal end of stream
func isClosed(err error) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway
	}
	return errors.Is(err, io.EOF)
}

func listenerPort(ln net.Listener) int {
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}
