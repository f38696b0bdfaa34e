// Package manager supervises a keyed set of per-server connections: bulk
// connect/disconnect with failure isolation, aggregate state with change and
// error hooks, config reload diffing, a periodic retry sweep over failed
// servers, and snapshot/restore of the aggregate state.
package manager

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/mcpherd/mcpherd/internal/config"
	"github.com/mcpherd/mcpherd/internal/conn"
	"github.com/mcpherd/mcpherd/internal/errors"
	"github.com/mcpherd/mcpherd/internal/rpc"
)

const (
	// DefaultSweepInterval is how often failed servers are re-attempted.
	DefaultSweepInterval = 60 * time.Second

	// defaultConnectConcurrency bounds bulk connect/disconnect fan-out.
	defaultConnectConcurrency = 8
)

// ChangeHook observes every aggregate state mutation. It is invoked
// synchronously with a complete, self-consistent snapshot.
type ChangeHook func(state map[string]ServerState)

// ErrorHook observes per-server failures: handshake errors, unexpected
// session closes, and reconnect exhaustion.
type ErrorHook func(server string, err error)

// Options contains optional configuration for a Manager.
// NewOptions should be used to create instances of Options.
type Options struct {
	Loader         config.Loader
	Policy         conn.Policy
	ConnectTimeout time.Duration
	SweepInterval  time.Duration
	Concurrency    int
	OnChange       ChangeHook
	OnError        ErrorHook
}

// Option defines a functional option for configuring Options.
type Option func(*Options) error

// NewOptions creates Options with optional configurations applied.
func NewOptions(opts ...Option) (Options, error) {
	options := Options{
		Loader:         &config.DefaultLoader{},
		Policy:         conn.DefaultPolicy(),
		ConnectTimeout: conn.DefaultConnectTimeout,
		SweepInterval:  DefaultSweepInterval,
		Concurrency:    defaultConnectConcurrency,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&options); err != nil {
			return Options{}, err
		}
	}
	return options, nil
}

// WithLoader overrides the config loader.
func WithLoader(loader config.Loader) Option {
	return func(o *Options) error {
		if loader == nil {
			return fmt.Errorf("loader cannot be nil")
		}
		o.Loader = loader
		return nil
	}
}

// WithPolicy sets the reconnect policy applied to every connection.
func WithPolicy(policy conn.Policy) Option {
	return func(o *Options) error {
		o.Policy = policy
		return nil
	}
}

// WithConnectTimeout bounds each server handshake.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(o *Options) error {
		if timeout <= 0 {
			return fmt.Errorf("connect timeout must be positive")
		}
		o.ConnectTimeout = timeout
		return nil
	}
}

// WithSweepInterval sets the failed-server retry cadence.
func WithSweepInterval(interval time.Duration) Option {
	return func(o *Options) error {
		if interval <= 0 {
			return fmt.Errorf("sweep interval must be positive")
		}
		o.SweepInterval = interval
		return nil
	}
}

// WithConcurrency bounds bulk connect/disconnect fan-out.
func WithConcurrency(n int) Option {
	return func(o *Options) error {
		if n < 1 {
			return fmt.Errorf("concurrency must be at least 1")
		}
		o.Concurrency = n
		return nil
	}
}

// WithChangeHook registers the aggregate state observer.
func WithChangeHook(hook ChangeHook) Option {
	return func(o *Options) error {
		o.OnChange = hook
		return nil
	}
}

// WithErrorHook registers the per-server failure observer.
func WithErrorHook(hook ErrorHook) Option {
	return func(o *Options) error {
		o.OnError = hook
		return nil
	}
}

// Manager owns one connection per configured server. It serializes lifecycle
// operations within a server and never across servers; a failure in one
// server's lifecycle does not affect its siblings.
type Manager struct {
	logger  hclog.Logger
	dialer  rpc.Dialer
	loader  config.Loader
	policy  conn.Policy
	timeout time.Duration

	sweepInterval time.Duration
	concurrency   int

	mu         sync.RWMutex
	conns      map[string]*conn.Conn
	configPath string
	loadOpts   []config.Option
	closed     bool

	hookMu   sync.RWMutex
	onChange ChangeHook
	onError  ErrorHook

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

// New creates a Manager and starts its failed-server sweep.
func New(logger hclog.Logger, dialer rpc.Dialer, opts ...Option) (*Manager, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if dialer == nil {
		return nil, fmt.Errorf("dialer cannot be nil")
	}

	options, err := NewOptions(opts...)
	if err != nil {
		return nil, err
	}

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	m := &Manager{
		logger:        logger.Named("manager"),
		dialer:        dialer,
		loader:        options.Loader,
		policy:        options.Policy,
		timeout:       options.ConnectTimeout,
		sweepInterval: options.SweepInterval,
		concurrency:   options.Concurrency,
		conns:         make(map[string]*conn.Conn),
		onChange:      options.OnChange,
		onError:       options.OnError,
		sweepCancel:   sweepCancel,
		sweepDone:     make(chan struct{}),
	}
	go m.sweepLoop(sweepCtx)

	return m, nil
}

// SetChangeHook replaces the aggregate state observer.
func (m *Manager) SetChangeHook(hook ChangeHook) {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	m.onChange = hook
}

// SetErrorHook replaces the per-server failure observer.
func (m *Manager) SetErrorHook(hook ErrorHook) {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	m.onError = hook
}

// fireChange delivers a complete state snapshot to the change hook.
func (m *Manager) fireChange() {
	m.hookMu.RLock()
	hook := m.onChange
	m.hookMu.RUnlock()
	if hook != nil {
		hook(m.GetState())
	}
}

func (m *Manager) fireError(server string, err error) {
	m.hookMu.RLock()
	hook := m.onError
	m.hookMu.RUnlock()
	if hook != nil {
		hook(server, err)
	}
}

// LoadAndConnect parses the config file and connects every enabled server
// concurrently. Per-server parse and connect failures are isolated; only a
// structural parse failure aborts the whole operation.
func (m *Manager) LoadAndConnect(ctx context.Context, path string, opts ...config.Option) (*config.Result, error) {
	result, err := m.loader.Load(path, opts...)
	if err != nil {
		return nil, err
	}
	for _, serverErr := range result.Invalid {
		m.logger.Warn("skipping invalid server", "server", serverErr.Server, "error", serverErr)
		m.fireError(serverErr.Server, serverErr)
	}

	m.mu.Lock()
	m.configPath = path
	m.loadOpts = opts
	m.mu.Unlock()

	m.ConnectAll(ctx, result.Servers)

	return result, nil
}

// ConnectAll connects every enabled descriptor concurrently with failure
// isolation: each outcome lands in that server's state, and the bulk
// operation always runs to completion.
func (m *Manager) ConnectAll(ctx context.Context, descriptors map[string]config.ServerDescriptor) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)

	for name, desc := range descriptors {
		if desc.Disabled {
			m.logger.Debug("skipping disabled server", "server", name)
			continue
		}
		g.Go(func() error {
			if err := m.Connect(ctx, desc); err != nil {
				m.logger.Error("failed to connect server", "server", name, "error", err)
			}
			// Failures are recorded per server, never propagated to siblings.
			return nil
		})
	}

	_ = g.Wait()
}

// Connect ensures a connection exists for the descriptor and drives it to the
// connected state. An existing connection with identical configuration is
// reused; a changed one is bounced first.
func (m *Manager) Connect(ctx context.Context, desc config.ServerDescriptor) error {
	c, err := m.ensure(ctx, desc)
	if err != nil {
		return err
	}
	return c.Connect(ctx)
}

// ensure returns the registered connection for the descriptor, replacing any
// existing one whose configuration differs.
func (m *Manager) ensure(ctx context.Context, desc config.ServerDescriptor) (*conn.Conn, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("manager is closed")
	}
	existing, ok := m.conns[desc.Name]
	m.mu.Unlock()

	if ok {
		if existing.Descriptor().Equal(desc) {
			return existing, nil
		}
		// Configuration changed underneath a live connection: bounce it.
		if err := existing.Retire(ctx); err != nil {
			m.logger.Warn("error disconnecting stale connection", "server", desc.Name, "error", err)
		}
	}

	c, err := conn.New(m.logger, m.dialer, desc,
		conn.WithPolicy(m.policy),
		conn.WithConnectTimeout(m.timeout),
		conn.WithEvents(conn.Events{
			OnChange: m.fireChange,
			OnError: func(err error) {
				m.fireError(desc.Name, err)
			},
		}),
	)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.conns[desc.Name] = c
	m.mu.Unlock()

	return c, nil
}

// Disconnect tears down one server's connection and removes it. The removed
// connection is retired so a sweep retry racing the removal cannot revive it.
func (m *Manager) Disconnect(ctx context.Context, name string) error {
	m.mu.Lock()
	c, ok := m.conns[name]
	delete(m.conns, name)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrServerNotFound, name)
	}
	return c.Retire(ctx)
}

// DisconnectAll tears down every connection concurrently with failure
// isolation and clears the registry.
func (m *Manager) DisconnectAll(ctx context.Context) {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[string]*conn.Conn)
	m.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for name, c := range conns {
		g.Go(func() error {
			if err := c.Retire(ctx); err != nil {
				m.logger.Warn("error during disconnect", "server", name, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// conn returns the registered connection for a server id.
func (m *Manager) conn(name string) (*conn.Conn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrServerNotFound, name)
	}
	return c, nil
}

// GetServerIDs returns the sorted ids of all managed servers.
func (m *Manager) GetServerIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// GetState returns a complete, self-consistent snapshot of every server.
func (m *Manager) GetState() map[string]ServerState {
	m.mu.RLock()
	conns := make(map[string]*conn.Conn, len(m.conns))
	for name, c := range m.conns {
		conns[name] = c
	}
	m.mu.RUnlock()

	state := make(map[string]ServerState, len(conns))
	for name, c := range conns {
		state[name] = stateFromStatus(c.Status())
	}
	return state
}

// GetServerState returns the aggregate view of one server.
func (m *Manager) GetServerState(name string) (ServerState, error) {
	c, err := m.conn(name)
	if err != nil {
		return ServerState{}, err
	}
	return stateFromStatus(c.Status()), nil
}

// ListTools lists one server's tools through its capability filter.
func (m *Manager) ListTools(ctx context.Context, server string) ([]mcp.Tool, error) {
	c, err := m.conn(server)
	if err != nil {
		return nil, err
	}
	return c.ListTools(ctx)
}

// CallTool invokes one tool on one server through its capability filter.
func (m *Manager) CallTool(ctx context.Context, server, tool string, args map[string]any) (*mcp.CallToolResult, error) {
	c, err := m.conn(server)
	if err != nil {
		return nil, err
	}
	return c.CallTool(ctx, tool, args)
}

// ListPrompts lists one server's prompts through its capability filter.
func (m *Manager) ListPrompts(ctx context.Context, server string) ([]mcp.Prompt, error) {
	c, err := m.conn(server)
	if err != nil {
		return nil, err
	}
	return c.ListPrompts(ctx)
}

// GetPrompt fetches one prompt from one server through its capability filter.
func (m *Manager) GetPrompt(ctx context.Context, server, prompt string, args map[string]string) (*mcp.GetPromptResult, error) {
	c, err := m.conn(server)
	if err != nil {
		return nil, err
	}
	return c.GetPrompt(ctx, prompt, args)
}

// ListResources lists one server's resources through its capability filter.
func (m *Manager) ListResources(ctx context.Context, server string) ([]mcp.Resource, error) {
	c, err := m.conn(server)
	if err != nil {
		return nil, err
	}
	return c.ListResources(ctx)
}

// ReadResource reads one resource from one server through its capability filter.
func (m *Manager) ReadResource(ctx context.Context, server, uri string) (*mcp.ReadResourceResult, error) {
	c, err := m.conn(server)
	if err != nil {
		return nil, err
	}
	return c.ReadResource(ctx, uri)
}

// ReloadResult summarizes what a config reload changed.
type ReloadResult struct {
	Added     []string
	Removed   []string
	Changed   []string
	Unchanged []string
	Invalid   []*config.ServerError
}

// Reload re-parses the previously loaded config file, disconnects servers
// removed from it, bounces servers whose configuration changed, connects new
// ones, and leaves unchanged servers untouched.
func (m *Manager) Reload(ctx context.Context) (*ReloadResult, error) {
	m.mu.RLock()
	path := m.configPath
	loadOpts := m.loadOpts
	m.mu.RUnlock()

	if path == "" {
		return nil, fmt.Errorf("%w: reload requires a prior LoadAndConnect", errors.ErrNoConfigLoaded)
	}

	result, err := m.loader.Load(path, loadOpts...)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	current := make(map[string]config.ServerDescriptor, len(m.conns))
	for name, c := range m.conns {
		current[name] = c.Descriptor()
	}
	m.mu.RUnlock()

	reload := &ReloadResult{Invalid: result.Invalid}

	// Servers no longer declared (or now disabled) are torn down.
	for name := range current {
		desc, ok := result.Servers[name]
		if ok && !desc.Disabled {
			continue
		}
		reload.Removed = append(reload.Removed, name)
		if err := m.Disconnect(ctx, name); err != nil {
			m.logger.Warn("error disconnecting removed server", "server", name, "error", err)
		}
	}

	// New and changed servers are (re)connected; Connect bounces on diff.
	toConnect := make(map[string]config.ServerDescriptor)
	for name, desc := range result.Servers {
		if desc.Disabled {
			continue
		}
		old, existed := current[name]
		switch {
		case !existed:
			reload.Added = append(reload.Added, name)
			toConnect[name] = desc
		case !old.Equal(desc):
			reload.Changed = append(reload.Changed, name)
			toConnect[name] = desc
		default:
			reload.Unchanged = append(reload.Unchanged, name)
		}
	}
	m.ConnectAll(ctx, toConnect)

	slices.Sort(reload.Added)
	slices.Sort(reload.Removed)
	slices.Sort(reload.Changed)
	slices.Sort(reload.Unchanged)

	m.logger.Info("config reloaded",
		"added", len(reload.Added),
		"removed", len(reload.Removed),
		"changed", len(reload.Changed),
		"unchanged", len(reload.Unchanged),
		"invalid", len(reload.Invalid),
	)

	return reload, nil
}

// sweepLoop periodically re-attempts every failed server. Attempts run in
// their own goroutines so one slow server never delays the sweep or its
// cancellation.
func (m *Manager) sweepLoop(ctx context.Context) {
	defer close(m.sweepDone)

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("stopping failed-server sweep")
			return
		case <-ticker.C:
			m.sweepFailed(ctx)
		}
	}
}

// sweepFailed re-invokes Connect for every server currently in the failed
// state. Outcomes surface through the usual hooks.
func (m *Manager) sweepFailed(ctx context.Context) {
	m.mu.RLock()
	var failed []string
	for name, c := range m.conns {
		if c.State() == conn.StateFailed {
			failed = append(failed, name)
		}
	}
	m.mu.RUnlock()

	for _, name := range failed {
		m.logger.Info("retrying failed server", "server", name)
		go func(name string) {
			// Re-resolve under the lock: the server may have been removed
			// (reload drop, explicit disconnect, shutdown) since the snapshot,
			// in which case the retry must not resurrect it.
			m.mu.RLock()
			c, ok := m.conns[name]
			m.mu.RUnlock()
			if !ok {
				return
			}
			if err := c.Connect(ctx); err != nil {
				m.logger.Warn("sweep retry failed", "server", name, "error", err)
			}
		}(name)
	}
}

// Close stops the sweep, disconnects every server concurrently and clears the
// registry. The manager cannot be reused afterwards.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.sweepCancel()
	<-m.sweepDone

	m.DisconnectAll(ctx)
	m.logger.Info("manager closed")
	return nil
}
