package gateway

import (
	"errors"
	"fmt"
)

// Connection-phase errors. The reconnection supervisor distinguishes these
// from transport errors when deciding how to log a failed attempt; all of
// them lead to retry-with-backoff.
var (
	// ErrHandshakeTimeout indicates the gateway did not complete the
	// handshake within the allowed window.
	ErrHandshakeTimeout = errors.New("gateway handshake timeout")

	// ErrAuthRejected indicates the gateway refused the auth response.
	ErrAuthRejected = errors.New("gateway rejected authentication")

	// ErrProtocolViolation indicates an unexpected or malformed frame
	// during the handshake sequence.
	ErrProtocolViolation = errors.New("gateway protocol violation")

	// ErrNotConnected indicates Run was called before a successful Connect.
	ErrNotConnected = errors.New("not connected")
)

// TransportError wraps a network-layer failure (read, write, or close).
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("gateway transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// GatewayError is a protocol-level error frame surfaced as a Go error.
type GatewayError struct {
	Code    string
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway error %s: %s", e.Code, e.Message)
}

// isAuthCode reports whether an error frame's code indicates an auth failure.
func isAuthCode(code string) bool {
	switch code {
	case "auth_failed", "auth_rejected", "unauthorized", "forbidden", "invalid_token":
		return true
	}
	return false
}
