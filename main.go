// ABOUTME: Entry point for the time sync client
// ABOUTME: Parses CLI flags and keeps the offset to a peer refined
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/espbase/timesync-go/internal/app"
	"github.com/espbase/timesync-go/internal/ui"
	"github.com/espbase/timesync-go/internal/version"
)

var (
	serverAddr = flag.String("server", "", "Peer address: host[:port], tcp://, ws:// or wss:// (default: mDNS)")
	name       = flag.String("name", "", "Client name shown in logs and the TUI (default: hostname-timesync-client)")
	interval   = flag.Duration("interval", app.DefaultInterval, "Time between offset refinements")
	iterations = flag.Int("iterations", app.DefaultIterations, "Sync rounds per refinement")
	spacing    = flag.Duration("spacing", app.DefaultSpacing, "Total pause budget spread across one refinement")
	logFile    = flag.String("log-file", "timesync.log", "Log file path")
	noTUI      = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
)

func main() {
	flag.Parse()

	useTUI := !*noTUI

	// Set up logging
	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer func() { _ = f.Close() }()

	if useTUI {
		// TUI mode: log only to file
		log.SetOutput(f)
	} else {
		// Streaming logs mode: log to both stdout and file
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	clientName := *name
	if clientName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		clientName = fmt.Sprintf("%s-timesync-client", hostname)
	}

	log.Printf("Starting %s %s: %s", version.Product, version.Version, clientName)

	// TUI setup
	var tuiProg *tea.Program
	var control *ui.Control

	if useTUI {
		control = ui.NewControl()
		tuiProg, err = ui.Run(control)
		if err != nil {
			log.Fatalf("Failed to start TUI: %v", err)
		}
		go func() {
			if _, err := tuiProg.Run(); err != nil {
				log.Printf("TUI error: %v", err)
			}
		}()
	}

	a := app.New(app.Config{
		ServerAddr: *serverAddr,
		Name:       clientName,
		Interval:   *interval,
		Iterations: *iterations,
		Spacing:    *spacing,
		OnStatus: func(msg ui.StatusMsg) {
			if tuiProg != nil {
				tuiProg.Send(msg)
			}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		var quit <-chan ui.QuitMsg
		var resync <-chan struct{}
		if control != nil {
			quit = control.Quit
			resync = control.Resync
		}

		for {
			select {
			case <-quit:
				log.Printf("Received quit signal from TUI")
				cancel()
				return
			case sig := <-sigChan:
				log.Printf("Received %v signal, shutting down...", sig)
				cancel()
				return
			case <-resync:
				a.Resync()
			case <-ctx.Done():
				return
			}
		}
	}()

	runErr := a.Run(ctx)

	if tuiProg != nil {
		tuiProg.Quit()
		// Let the TUI restore the terminal before we print
		time.Sleep(100 * time.Millisecond)
	}

	if runErr != nil {
		log.Fatalf("Client error: %v", runErr)
	}

	log.Printf("Client stopped")
}
