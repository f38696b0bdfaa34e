package manager

import (
	"time"

	"github.com/mcpherd/mcpherd/internal/config"
	"github.com/mcpherd/mcpherd/internal/conn"
)

// ServerState is the manager's aggregate view of one server. Values are
// self-contained copies; hooks and readers never share memory with the
// live connection.
type ServerState struct {
	// Name is the server id from the config file.
	Name string `json:"name"`

	// Kind is the transport discriminant.
	Kind config.TransportKind `json:"kind"`

	// State is the connection lifecycle state.
	State conn.State `json:"connectionState"`

	// SessionID is present only for session-based transports while connected.
	SessionID string `json:"sessionId,omitempty"`

	// ReconnectAttempts is the current reconnect counter; 0 while healthy.
	ReconnectAttempts int `json:"reconnectAttempts"`

	// LastError describes the most recent failure, empty while healthy.
	LastError string `json:"error,omitempty"`

	// LastConnectedAt is the time of the most recent successful connect.
	LastConnectedAt *time.Time `json:"lastConnectedAt,omitempty"`

	// EverConnected reports whether this server connected successfully at
	// least once in this manager's lifetime.
	EverConnected bool `json:"wasConnected"`

	// Details reported by the server during the initialize handshake.
	ServerName    string `json:"serverName,omitempty"`
	ServerVersion string `json:"serverVersion,omitempty"`
	Instructions  string `json:"instructions,omitempty"`

	// Negotiated capability presence.
	HasTools     bool `json:"hasTools"`
	HasPrompts   bool `json:"hasPrompts"`
	HasResources bool `json:"hasResources"`
}

// stateFromStatus projects a connection snapshot into the aggregate view.
func stateFromStatus(status conn.Status) ServerState {
	state := ServerState{
		Name:              status.Name,
		Kind:              status.Kind,
		State:             status.State,
		SessionID:         status.SessionID,
		ReconnectAttempts: status.ReconnectAttempts,
		EverConnected:     status.EverConnected,
		ServerName:        status.Info.ServerName,
		ServerVersion:     status.Info.ServerVersion,
		Instructions:      status.Info.Instructions,
		HasTools:          status.Info.HasTools,
		HasPrompts:        status.Info.HasPrompts,
		HasResources:      status.Info.HasResources,
	}
	if status.LastError != nil {
		state.LastError = status.LastError.Error()
	}
	if !status.LastConnectedAt.IsZero() {
		t := status.LastConnectedAt
		state.LastConnectedAt = &t
	}
	return state
}
