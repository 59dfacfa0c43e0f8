// ABOUTME: Entry point for the time sync server
// ABOUTME: Loads config, applies CLI flags and runs the server
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/espbase/timesync-go/internal/server"
	"github.com/espbase/timesync-go/internal/version"
)

var (
	cfgPath    = flag.String("c", "", "YAML config file")
	port       = flag.Int("port", server.DefaultPort, "TCP protocol port")
	httpPort   = flag.Int("http-port", server.DefaultHTTPPort, "WebSocket and metrics port (-1 disables)")
	maxClients = flag.Int("max-clients", server.DefaultMaxClients, "Concurrent client sessions")
	msgRate    = flag.Float64("message-rate", server.DefaultMessageRate, "Messages per second per session (-1 disables)")
	name       = flag.String("name", "", "Server friendly name (default: hostname-timesync)")
	logFile    = flag.String("log-file", "timesync-server.log", "Log file path")
	debug      = flag.Bool("debug", false, "Enable debug logging")
	noMDNS     = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	useTUI     = flag.Bool("tui", false, "Show session TUI instead of streaming logs")
)

func main() {
	flag.Parse()

	config := server.DefaultConfig()
	if *cfgPath != "" {
		var err error
		config, err = server.LoadConfig(*cfgPath)
		if err != nil {
			log.Fatalf("Config error: %v", err)
		}
	}
	applyFlags(&config)

	// Set up logging
	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	if config.UseTUI {
		// TUI mode: log only to file
		log.SetOutput(f)
	} else {
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	if config.Name == "" || config.Name == server.DefaultName {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		config.Name = fmt.Sprintf("%s-timesync", hostname)
	}

	log.Printf("Starting %s %s: %s on port %d", version.Product, version.Version, config.Name, config.Port)
	if config.Debug {
		log.Printf("Debug logging enabled")
	}
	log.Printf("Logging to: %s", *logFile)

	srv := server.New(config)

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("Received %v signal, shutting down gracefully...", sig)
		srv.Stop()
	}()

	if err := srv.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Printf("Server stopped")
}

// applyFlags overrides config with flags given on the command line
func applyFlags(config *server.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			config.Port = *port
		case "http-port":
			config.HTTPPort = *httpPort
		case "max-clients":
			config.MaxClients = *maxClients
		case "message-rate":
			config.MessageRate = *msgRate
		case "name":
			config.Name = *name
		case "debug":
			config.Debug = *debug
		case "no-mdns":
			config.EnableMDNS = !*noMDNS
		case "tui":
			config.UseTUI = *useTUI
		}
	})
}
