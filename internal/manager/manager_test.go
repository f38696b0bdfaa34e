package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/mcpherd/mcpherd/internal/config"
	"github.com/mcpherd/mcpherd/internal/conn"
	"github.com/mcpherd/mcpherd/internal/errors"
	"github.com/mcpherd/mcpherd/internal/rpc"
)

var _ rpc.Client = (*fakeClient)(nil)

type fakeClient struct {
	sessionID string
	tools     []mcp.Tool

	mu      sync.Mutex
	onClose func(err error)
	closed  bool
}

func (f *fakeClient) Ping(context.Context) error                      { return nil }
func (f *fakeClient) ListTools(context.Context) ([]mcp.Tool, error)   { return f.tools, nil }
func (f *fakeClient) ListPrompts(context.Context) ([]mcp.Prompt, error) { return nil, nil }
func (f *fakeClient) ListResources(context.Context) ([]mcp.Resource, error) {
	return nil, nil
}

func (f *fakeClient) CallTool(_ context.Context, _ string, _ map[string]any) (*mcp.CallToolResult, error) {
	return &mcp.CallToolResult{}, nil
}

func (f *fakeClient) GetPrompt(_ context.Context, _ string, _ map[string]string) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{}, nil
}

func (f *fakeClient) ReadResource(_ context.Context, _ string) (*mcp.ReadResourceResult, error) {
	return &mcp.ReadResourceResult{}, nil
}

func (f *fakeClient) SessionID() string { return f.sessionID }

func (f *fakeClient) OnClose(fn func(err error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onClose = fn
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeClient) fireClose(err error) {
	f.mu.Lock()
	fn := f.onClose
	f.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

var _ rpc.Dialer = (*fakeDialer)(nil)

// fakeDialer fails dials per server name until the budget for that name runs
// out; a budget of -1 never succeeds.
type fakeDialer struct {
	tools []mcp.Tool

	mu      sync.Mutex
	fail    map[string]int
	dials   map[string]int
	clients map[string]*fakeClient
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		fail:    make(map[string]int),
		dials:   make(map[string]int),
		clients: make(map[string]*fakeClient),
	}
}

func (d *fakeDialer) Dial(_ context.Context, desc config.ServerDescriptor) (rpc.Client, rpc.Info, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials[desc.Name]++

	if remaining, ok := d.fail[desc.Name]; ok && remaining != 0 {
		if remaining > 0 {
			d.fail[desc.Name] = remaining - 1
		}
		return nil, rpc.Info{}, fmt.Errorf("%w: %s: dial refused", errors.ErrConnectionFailed, desc.Name)
	}

	client := &fakeClient{
		sessionID: fmt.Sprintf("%s-session-%d", desc.Name, d.dials[desc.Name]),
		tools:     d.tools,
	}
	d.clients[desc.Name] = client
	return client, rpc.Info{ServerName: desc.Name + "-impl", ServerVersion: "1.0.0", HasTools: true}, nil
}

func (d *fakeDialer) dialCount(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[name]
}

func (d *fakeDialer) client(name string) *fakeClient {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clients[name]
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "mcpherd.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	return path
}

func newManager(t *testing.T, dialer rpc.Dialer, opts ...Option) *Manager {
	t.Helper()

	m, err := New(hclog.NewNullLogger(), dialer, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = m.Close(context.Background())
	})

	return m
}

func TestManager_LoadAndConnect(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{
		"mcpServers": {
			"alpha": {"url": "https://alpha.example.com"},
			"beta":  {"command": "mcp-beta"},
			"off":   {"url": "https://off.example.com", "disabled": true},
			"bad":   {"url": "https://bad.example.com", "command": "nope"}
		}
	}`)

	var invalid []string
	var mu sync.Mutex

	dialer := newFakeDialer()
	m := newManager(t, dialer, WithErrorHook(func(server string, _ error) {
		mu.Lock()
		defer mu.Unlock()
		invalid = append(invalid, server)
	}))

	result, err := m.LoadAndConnect(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, result.Invalid, 1)

	require.Equal(t, []string{"alpha", "beta"}, m.GetServerIDs())

	state := m.GetState()
	require.Equal(t, conn.StateConnected, state["alpha"].State)
	require.Equal(t, conn.StateConnected, state["beta"].State)
	require.True(t, state["alpha"].EverConnected)
	require.Equal(t, "alpha-impl", state["alpha"].ServerName)

	mu.Lock()
	require.Equal(t, []string{"bad"}, invalid)
	mu.Unlock()
}

func TestManager_BulkConnectFailureIsolation(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{
		"mcpServers": {
			"one":   {"url": "https://one.example.com"},
			"two":   {"url": "https://two.example.com"},
			"three": {"url": "https://three.example.com"}
		}
	}`)

	var hookCalls []string
	var mu sync.Mutex

	dialer := newFakeDialer()
	dialer.fail["two"] = -1

	m := newManager(t, dialer, WithErrorHook(func(server string, _ error) {
		mu.Lock()
		defer mu.Unlock()
		hookCalls = append(hookCalls, server)
	}))

	_, err := m.LoadAndConnect(context.Background(), path)
	require.NoError(t, err)

	state := m.GetState()
	require.Equal(t, conn.StateConnected, state["one"].State)
	require.Equal(t, conn.StateFailed, state["two"].State)
	require.Equal(t, conn.StateConnected, state["three"].State)
	require.NotEmpty(t, state["two"].LastError)
	require.Empty(t, state["one"].LastError)

	mu.Lock()
	require.Equal(t, []string{"two"}, hookCalls, "error hook fires exactly once, only for the failing server")
	mu.Unlock()
}

func TestManager_ChangeHookSeesFullSnapshot(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{
		"mcpServers": {
			"alpha": {"url": "https://alpha.example.com"},
			"beta":  {"url": "https://beta.example.com"}
		}
	}`)

	var snapshots []map[string]ServerState
	var mu sync.Mutex

	m := newManager(t, newFakeDialer(), WithChangeHook(func(state map[string]ServerState) {
		mu.Lock()
		defer mu.Unlock()
		snapshots = append(snapshots, state)
	}))

	_, err := m.LoadAndConnect(context.Background(), path)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, snapshots)

	last := snapshots[len(snapshots)-1]
	require.Len(t, last, 2, "every snapshot carries the complete aggregate state")
	require.Equal(t, conn.StateConnected, last["alpha"].State)
	require.Equal(t, conn.StateConnected, last["beta"].State)
}

func TestManager_CapabilityOperations(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{
		"mcpServers": {
			"alpha": {"url": "https://alpha.example.com", "allowed": {"tools": ["read"]}}
		}
	}`)

	dialer := newFakeDialer()
	dialer.tools = []mcp.Tool{{Name: "read"}, {Name: "write"}}

	m := newManager(t, dialer)
	_, err := m.LoadAndConnect(context.Background(), path)
	require.NoError(t, err)

	ctx := context.Background()

	tools, err := m.ListTools(ctx, "alpha")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	require.Equal(t, "read", tools[0].Name)

	_, err = m.CallTool(ctx, "alpha", "write", nil)
	require.ErrorIs(t, err, errors.ErrToolForbidden)

	_, err = m.CallTool(ctx, "alpha", "read", nil)
	require.NoError(t, err)

	_, err = m.ListTools(ctx, "ghost")
	require.ErrorIs(t, err, errors.ErrServerNotFound)
	_, err = m.CallTool(ctx, "ghost", "read", nil)
	require.ErrorIs(t, err, errors.ErrServerNotFound)
}

func TestManager_Reload(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{
		"mcpServers": {
			"keep":   {"url": "https://keep.example.com"},
			"change": {"url": "https://v1.example.com"},
			"drop":   {"url": "https://drop.example.com"}
		}
	}`)

	dialer := newFakeDialer()
	m := newManager(t, dialer)

	_, err := m.LoadAndConnect(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, []string{"change", "drop", "keep"}, m.GetServerIDs())
	keepDials := dialer.dialCount("keep")

	require.NoError(t, os.WriteFile(path, []byte(`{
		"mcpServers": {
			"keep":   {"url": "https://keep.example.com"},
			"change": {"url": "https://v2.example.com"},
			"fresh":  {"url": "https://fresh.example.com"}
		}
	}`), 0o644))

	reload, err := m.Reload(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"fresh"}, reload.Added)
	require.Equal(t, []string{"drop"}, reload.Removed)
	require.Equal(t, []string{"change"}, reload.Changed)
	require.Equal(t, []string{"keep"}, reload.Unchanged)

	require.Equal(t, []string{"change", "fresh", "keep"}, m.GetServerIDs())

	state := m.GetState()
	require.Equal(t, conn.StateConnected, state["change"].State)
	require.Equal(t, conn.StateConnected, state["fresh"].State)
	require.Equal(t, keepDials, dialer.dialCount("keep"), "unchanged servers are left untouched")
	require.Equal(t, 2, dialer.dialCount("change"), "changed servers are bounced")
	require.True(t, dialer.client("drop").closed)
}

func TestManager_ReloadDisablesServer(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{"mcpServers": {"alpha": {"url": "https://alpha.example.com"}}}`)

	m := newManager(t, newFakeDialer())
	_, err := m.LoadAndConnect(context.Background(), path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(
		`{"mcpServers": {"alpha": {"url": "https://alpha.example.com", "disabled": true}}}`,
	), 0o644))

	reload, err := m.Reload(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"alpha"}, reload.Removed)
	require.Empty(t, m.GetServerIDs())
}

func TestManager_ReloadWithoutLoadFails(t *testing.T) {
	t.Parallel()

	m := newManager(t, newFakeDialer())
	_, err := m.Reload(context.Background())
	require.ErrorIs(t, err, errors.ErrNoConfigLoaded)
}

func TestManager_SweepRetriesFailedServers(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{"mcpServers": {"flaky": {"url": "https://flaky.example.com"}}}`)

	dialer := newFakeDialer()
	dialer.fail["flaky"] = 1

	m := newManager(t, dialer, WithSweepInterval(10*time.Millisecond))

	_, err := m.LoadAndConnect(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, conn.StateFailed, m.GetState()["flaky"].State)

	require.Eventually(t, func() bool {
		return m.GetState()["flaky"].State == conn.StateConnected
	}, 2*time.Second, 5*time.Millisecond, "the sweep re-attempts failed servers")
}

func TestManager_SweepRetryAfterRemovalDoesNotReconnect(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{"mcpServers": {"x": {"url": "https://x.example.com"}}}`)

	dialer := newFakeDialer()
	dialer.fail["x"] = -1

	m := newManager(t, dialer)

	_, err := m.LoadAndConnect(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, conn.StateFailed, m.GetState()["x"].State)

	// Capture the connection the way a sweep snapshot would, then remove the
	// server before the retry lands.
	m.mu.RLock()
	c := m.conns["x"]
	m.mu.RUnlock()
	require.NotNil(t, c)

	require.NoError(t, m.Disconnect(context.Background(), "x"))

	// The next dial would succeed, but the stale retry must refuse instead of
	// reviving a session the registry no longer tracks.
	dialer.mu.Lock()
	delete(dialer.fail, "x")
	dialer.mu.Unlock()

	err = c.Connect(context.Background())
	require.ErrorIs(t, err, errors.ErrNotConnected)
	require.Equal(t, conn.StateDisconnected, c.State())
	require.Empty(t, m.GetServerIDs())
	require.Nil(t, dialer.client("x"))
}

func TestManager_DisconnectAndClose(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{
		"mcpServers": {
			"alpha": {"url": "https://alpha.example.com"},
			"beta":  {"url": "https://beta.example.com"}
		}
	}`)

	dialer := newFakeDialer()
	m := newManager(t, dialer)

	_, err := m.LoadAndConnect(context.Background(), path)
	require.NoError(t, err)

	require.NoError(t, m.Disconnect(context.Background(), "alpha"))
	require.True(t, dialer.client("alpha").closed)
	require.Equal(t, []string{"beta"}, m.GetServerIDs())

	err = m.Disconnect(context.Background(), "alpha")
	require.ErrorIs(t, err, errors.ErrServerNotFound)

	require.NoError(t, m.Close(context.Background()))
	require.True(t, dialer.client("beta").closed)
	require.Empty(t, m.GetServerIDs())

	// Close is idempotent, and a closed manager rejects new connections.
	require.NoError(t, m.Close(context.Background()))
	err = m.Connect(context.Background(), config.ServerDescriptor{Name: "late", Kind: config.TransportHTTP})
	require.Error(t, err)
}

func TestManager_UnexpectedCloseSurfacesInState(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{"mcpServers": {"alpha": {"url": "https://alpha.example.com"}}}`)

	dialer := newFakeDialer()
	m := newManager(t, dialer, WithPolicy(conn.Policy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
	}))

	_, err := m.LoadAndConnect(context.Background(), path)
	require.NoError(t, err)

	dialer.client("alpha").fireClose(fmt.Errorf("stream dropped"))

	require.Eventually(t, func() bool {
		state := m.GetState()["alpha"]
		return state.State == conn.StateConnected && state.SessionID == "alpha-session-2"
	}, 2*time.Second, time.Millisecond)
}
