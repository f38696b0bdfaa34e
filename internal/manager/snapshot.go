package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/mcpherd/mcpherd/internal/config"
	"github.com/mcpherd/mcpherd/internal/conn"
	"github.com/mcpherd/mcpherd/internal/errors"
	"github.com/mcpherd/mcpherd/internal/perms"
)

// SerializedServer is the persisted projection of one server's state.
type SerializedServer struct {
	ServerID          string     `json:"serverId"`
	ConnectionState   conn.State `json:"connectionState"`
	SessionID         string     `json:"sessionId,omitempty"`
	WasConnected      bool       `json:"wasConnected"`
	ReconnectAttempts int        `json:"reconnectAttempts"`
	LastConnectedAt   *time.Time `json:"lastConnectedAt,omitempty"`
	Error             string     `json:"error,omitempty"`
}

// SerializedState is the persisted projection of the manager's aggregate
// state, sufficient to decide reconnection policy after a process restart.
type SerializedState struct {
	ID         string                      `json:"id"`
	Servers    map[string]SerializedServer `json:"servers"`
	Timestamp  time.Time                   `json:"timestamp"`
	ConfigPath string                      `json:"configPath,omitempty"`
}

// Serialize snapshots every known server's state.
func (m *Manager) Serialize() *SerializedState {
	state := m.GetState()

	m.mu.RLock()
	configPath := m.configPath
	m.mu.RUnlock()

	snapshot := &SerializedState{
		ID:         uuid.NewString(),
		Servers:    make(map[string]SerializedServer, len(state)),
		Timestamp:  time.Now().UTC(),
		ConfigPath: configPath,
	}
	for name, server := range state {
		snapshot.Servers[name] = SerializedServer{
			ServerID:          name,
			ConnectionState:   server.State,
			SessionID:         server.SessionID,
			WasConnected:      server.State == conn.StateConnected || server.EverConnected,
			ReconnectAttempts: server.ReconnectAttempts,
			LastConnectedAt:   server.LastConnectedAt,
			Error:             server.LastError,
		}
	}
	return snapshot
}

// ToJSON serializes the aggregate state for persistence.
func (m *Manager) ToJSON() ([]byte, error) {
	data, err := json.MarshalIndent(m.Serialize(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize manager state: %w", err)
	}
	return data, nil
}

// SaveState writes the serialized state to a file. Snapshots can carry
// session identifiers, so the file is written owner-only.
func (m *Manager) SaveState(path string) error {
	data, err := m.ToJSON()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, perms.SecureFile); err != nil {
		return fmt.Errorf("failed to write state file %s: %w", path, err)
	}
	m.logger.Info("manager state saved", "path", path)
	return nil
}

// Restore re-parses the snapshot's config file and reconnects servers
// according to their snapshot entry: new servers and previously connected
// ones are connected. Stateless HTTP sessions are never resumed; a
// previously connected HTTP server gets a brand-new session, while
// session-based transports re-establish their session. Servers the snapshot
// shows as never connected are registered but left disconnected.
//
// Persisted session ids are informational only: every reconnect mints a
// fresh session, the stored id is never presented to the server.
func (m *Manager) Restore(ctx context.Context, state *SerializedState, opts ...config.Option) error {
	if state == nil {
		return fmt.Errorf("%w: state cannot be nil", errors.ErrSnapshotInvalid)
	}
	if state.ConfigPath == "" {
		return fmt.Errorf("%w: snapshot carries no config path", errors.ErrSnapshotInvalid)
	}

	result, err := m.loader.Load(state.ConfigPath, opts...)
	if err != nil {
		return err
	}
	for _, serverErr := range result.Invalid {
		m.logger.Warn("skipping invalid server during restore", "server", serverErr.Server, "error", serverErr)
		m.fireError(serverErr.Server, serverErr)
	}

	m.mu.Lock()
	m.configPath = state.ConfigPath
	m.loadOpts = opts
	m.mu.Unlock()

	toConnect := make(map[string]config.ServerDescriptor)
	for name, desc := range result.Servers {
		if desc.Disabled {
			continue
		}
		snap, known := state.Servers[name]
		switch {
		case !known:
			// Declared after the snapshot was taken: connect fresh.
			toConnect[name] = desc
		case snap.WasConnected:
			toConnect[name] = desc
		default:
			// Known but never connected: register without connecting so the
			// server is enumerable and sweepable.
			if _, err := m.ensure(ctx, desc); err != nil {
				m.logger.Warn("failed to register server during restore", "server", name, "error", err)
			}
		}
	}
	m.ConnectAll(ctx, toConnect)

	m.logger.Info("manager state restored",
		"snapshot", state.ID,
		"config", state.ConfigPath,
		"connected", len(toConnect),
	)

	return nil
}

// FromJSON restores the manager from serialized state.
func (m *Manager) FromJSON(ctx context.Context, data []byte, opts ...config.Option) error {
	var state SerializedState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrSnapshotInvalid, err)
	}
	return m.Restore(ctx, &state, opts...)
}

// RestoreFile restores the manager from a state file written by SaveState.
func (m *Manager) RestoreFile(ctx context.Context, path string, opts ...config.Option) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read state file %s: %w", path, err)
	}
	return m.FromJSON(ctx, data, opts...)
}
