package manager

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mcpherd/mcpherd/internal/conn"
	"github.com/mcpherd/mcpherd/internal/errors"
)

func TestManager_SerializeRoundTrip(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{
		"mcpServers": {
			"proc": {"command": "mcp-proc"},
			"api":  {"url": "https://api.example.com"}
		}
	}`)

	dialer := newFakeDialer()
	m := newManager(t, dialer)

	_, err := m.LoadAndConnect(context.Background(), path)
	require.NoError(t, err)

	data, err := m.ToJSON()
	require.NoError(t, err)

	var state SerializedState
	require.NoError(t, json.Unmarshal(data, &state))

	require.NotEmpty(t, state.ID)
	require.Equal(t, path, state.ConfigPath)
	require.WithinDuration(t, time.Now().UTC(), state.Timestamp, time.Minute)
	require.Len(t, state.Servers, 2)

	proc := state.Servers["proc"]
	require.Equal(t, "proc", proc.ServerID)
	require.Equal(t, conn.StateConnected, proc.ConnectionState)
	require.True(t, proc.WasConnected)
	require.NotEmpty(t, proc.SessionID, "session-based transports persist their session id")
	require.Zero(t, proc.ReconnectAttempts)
	require.NotNil(t, proc.LastConnectedAt)

	api := state.Servers["api"]
	require.True(t, api.WasConnected)
}

func TestManager_RestoreReconnectsSessionBasedAndFreshConnectsHTTP(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{
		"mcpServers": {
			"proc": {"command": "mcp-proc"},
			"api":  {"url": "https://api.example.com"}
		}
	}`)

	// First manager connects both servers, then persists its state.
	firstDialer := newFakeDialer()
	first := newManager(t, firstDialer)
	_, err := first.LoadAndConnect(context.Background(), path)
	require.NoError(t, err)

	statePath := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, first.SaveState(statePath))
	require.NoError(t, first.Close(context.Background()))

	info, err := os.Stat(statePath)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// A fresh manager restores from the snapshot.
	secondDialer := newFakeDialer()
	second := newManager(t, secondDialer)
	require.NoError(t, second.RestoreFile(context.Background(), statePath))

	state := second.GetState()
	require.Equal(t, conn.StateConnected, state["proc"].State, "session-based server is reconnected")
	require.Equal(t, conn.StateConnected, state["api"].State, "stateless server is connected fresh")

	// The stateless transport got a brand-new session rather than resuming
	// the persisted one.
	require.Equal(t, 1, secondDialer.dialCount("api"))
	require.Equal(t, "api-session-1", state["api"].SessionID)
}

func TestManager_RestoreSkipsNeverConnectedServers(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{
		"mcpServers": {
			"proc":  {"command": "mcp-proc"},
			"never": {"url": "https://never.example.com"}
		}
	}`)

	dialer := newFakeDialer()
	m := newManager(t, dialer)

	state := &SerializedState{
		ID:         "snapshot-1",
		ConfigPath: path,
		Timestamp:  time.Now().UTC(),
		Servers: map[string]SerializedServer{
			"proc":  {ServerID: "proc", ConnectionState: conn.StateConnected, WasConnected: true},
			"never": {ServerID: "never", ConnectionState: conn.StateFailed, WasConnected: false},
		},
	}
	require.NoError(t, m.Restore(context.Background(), state))

	current := m.GetState()
	require.Equal(t, conn.StateConnected, current["proc"].State)
	require.Equal(t, conn.StateDisconnected, current["never"].State, "never-connected servers are registered but left alone")
	require.Zero(t, dialer.dialCount("never"))
}

func TestManager_RestoreConnectsServersNewSinceSnapshot(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{
		"mcpServers": {
			"old": {"command": "mcp-old"},
			"new": {"url": "https://new.example.com"}
		}
	}`)

	m := newManager(t, newFakeDialer())

	state := &SerializedState{
		ID:         "snapshot-1",
		ConfigPath: path,
		Timestamp:  time.Now().UTC(),
		Servers: map[string]SerializedServer{
			"old": {ServerID: "old", ConnectionState: conn.StateConnected, WasConnected: true},
		},
	}
	require.NoError(t, m.Restore(context.Background(), state))

	current := m.GetState()
	require.Equal(t, conn.StateConnected, current["old"].State)
	require.Equal(t, conn.StateConnected, current["new"].State, "servers declared after the snapshot connect unconditionally")
}

func TestManager_RestoreInvalidInputs(t *testing.T) {
	t.Parallel()

	m := newManager(t, newFakeDialer())
	ctx := context.Background()

	require.ErrorIs(t, m.Restore(ctx, nil), errors.ErrSnapshotInvalid)
	require.ErrorIs(t, m.Restore(ctx, &SerializedState{}), errors.ErrSnapshotInvalid)
	require.ErrorIs(t, m.FromJSON(ctx, []byte("{")), errors.ErrSnapshotInvalid)
}
