// ABOUTME: Clock offset synchronization package
// ABOUTME: Provides the timeinit/timesync/timedone protocol client and peer
// Package timesync estimates the clock offset between this process and a
// remote device using a three-phase round-trip exchange.
//
// The client sends its monotonic time in a timeinit message, the peer answers
// with its own time in timesync, and the client assumes symmetric delay to
// compute offset = tserver - (tc1 + tc2) / 2. An optional timedone message
// reports the result back to the peer.
//
// Example:
//
//	client := timesync.NewClient(transport)
//	offset, err := client.Sync(ctx, true)
//	offset = client.XSync(ctx, 10, 5*time.Second)
package timesync
