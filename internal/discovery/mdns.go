// ABOUTME: mDNS service discovery for time sync peers
// ABOUTME: Handles both advertisement (server side) and browsing (client side)
package discovery

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/espbase/timesync-go/internal/version"
	"github.com/hashicorp/mdns"
)

// ServiceType is the DNS-SD type peers advertise
const ServiceType = "_timesync._tcp"

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Port        int // TCP protocol port
	HTTPPort    int // WebSocket port, 0 if not served
}

// Manager handles mDNS operations
type Manager struct {
	config  Config
	ctx     context.Context
	cancel  context.CancelFunc
	servers chan *ServerInfo
}

// ServerInfo describes a discovered peer
type ServerInfo struct {
	Name     string
	Host     string
	Port     int
	HTTPPort int
	Path     string
}

// Address returns the TCP address of the peer
func (s *ServerInfo) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// WebSocketURL returns the ws:// URL of the peer, or "" if it has none
func (s *ServerInfo) WebSocketURL() string {
	if s.HTTPPort == 0 {
		return ""
	}
	path := s.Path
	if path == "" {
		path = "/timesync"
	}
	return "ws://" + net.JoinHostPort(s.Host, strconv.Itoa(s.HTTPPort)) + path
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
		servers: make(chan *ServerInfo, 10),
	}
}

// Advertise advertises this peer via mDNS
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		txtRecords(m.config),
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	log.Printf("Advertising mDNS service: %s on port %d (type: %s)", m.config.ServiceName, m.config.Port, ServiceType)

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

func txtRecords(config Config) []string {
	txt := []string{"version=" + version.Version}
	if config.HTTPPort > 0 {
		txt = append(txt, "path=/timesync", "ws="+strconv.Itoa(config.HTTPPort))
	}
	return txt
}

// Browse searches for time sync peers until Stop is called
func (m *Manager) Browse() error {
	go m.browseLoop()
	return nil
}

// browseLoop continuously browses for peers
func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		entries := make(chan *mdns.ServiceEntry, 10)

		go func() {
			for entry := range entries {
				server := serverFromEntry(entry)
				if server == nil {
					continue
				}

				log.Printf("Discovered peer: %s at %s", server.Name, server.Address())

				select {
				case m.servers <- server:
				case <-m.ctx.Done():
					return
				}
			}
		}()

		params := &mdns.QueryParam{
			Service: ServiceType,
			Domain:  "local",
			Timeout: 3 * time.Second,
			Entries: entries,
		}

		if err := mdns.Query(params); err != nil {
			log.Printf("mDNS query failed: %v", err)
		}
		close(entries)
	}
}

// Find browses until the first peer answers or ctx is done
func (m *Manager) Find(ctx context.Context) (*ServerInfo, error) {
	if err := m.Browse(); err != nil {
		return nil, err
	}
	defer m.Stop()

	select {
	case server := <-m.servers:
		return server, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("no %s peer found: %w", ServiceType, ctx.Err())
	}
}

// serverFromEntry converts an mDNS answer, nil if it has no IPv4 address
func serverFromEntry(entry *mdns.ServiceEntry) *ServerInfo {
	if entry.AddrV4 == nil {
		return nil
	}

	server := &ServerInfo{
		Name: entry.Name,
		Host: entry.AddrV4.String(),
		Port: entry.Port,
	}

	for _, field := range entry.InfoFields {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "ws":
			if port, err := strconv.Atoi(value); err == nil {
				server.HTTPPort = port
			}
		case "path":
			server.Path = value
		}
	}

	return server
}

// Servers returns the channel of discovered peers
func (m *Manager) Servers() <-chan *ServerInfo {
	return m.servers
}

// Stop stops the discovery manager
func (m *Manager) Stop() {
	m.cancel()
}

// getLocalIPs returns local IP addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
