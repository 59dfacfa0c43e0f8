// ABOUTME: Error types for the time sync protocol
// ABOUTME: Distinguishes missing transports, protocol violations and transport failures
package timesync

import (
	"errors"
	"fmt"
)

// ErrTransportNotImplemented is returned when Send or Recv was never supplied
var ErrTransportNotImplemented = errors.New("timesync: transport not implemented")

// ProtocolError reports a received message that does not match the expected step
type ProtocolError struct {
	Expected Kind
	Message  []byte
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("timesync: invalid response, expected %s, got %q", e.Expected, e.Message)
}

// TransportError wraps a failure raised by the injected transport
type TransportError struct {
	Op  string // "send" or "recv"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("timesync: %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
