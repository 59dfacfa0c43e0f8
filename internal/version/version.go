// ABOUTME: Version information for timesync binaries
// ABOUTME: Reported in logs, the TUI and mDNS TXT records
package version

const (
	Version      = "0.3.0"
	Product      = "timesync-go"
	Manufacturer = "espbase"
)
