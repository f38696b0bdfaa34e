// Package conn owns the per-server connection state machine: one Conn wraps
// one transport session, drives reconnection with exponential backoff, and
// enforces the descriptor's capability allow-lists on every operation.
package conn

// State is the connection lifecycle state of one managed server.
// Exactly one value holds per server at any instant.
type State string

const (
	// StateDisconnected means no session exists. It is the initial state and,
	// after an explicit disconnect, terminal: no automatic reconnection runs.
	StateDisconnected State = "disconnected"

	// StateConnecting means a caller-initiated handshake is in flight.
	StateConnecting State = "connecting"

	// StateConnected means the session is live and capability operations
	// are permitted.
	StateConnected State = "connected"

	// StateReconnecting means the session closed unexpectedly and a
	// backoff-delayed retry is pending or in flight.
	StateReconnecting State = "reconnecting"

	// StateFailed means the handshake failed or reconnection attempts were
	// exhausted. Terminal until an external sweep re-attempts Connect.
	StateFailed State = "failed"
)

func (s State) String() string {
	return string(s)
}
