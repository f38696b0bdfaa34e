package conn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mcpherd/mcpherd/internal/config"
	"github.com/mcpherd/mcpherd/internal/errors"
	"github.com/mcpherd/mcpherd/internal/rpc"
)

// DefaultConnectTimeout bounds a single dial-and-initialize handshake.
const DefaultConnectTimeout = 30 * time.Second

// Events are callbacks a Conn fires as its state evolves. Both are optional
// and invoked synchronously after the transition is published, never while
// the connection lock is held.
type Events struct {
	// OnChange fires after every state mutation.
	OnChange func()

	// OnError fires when a handshake fails, a session closes unexpectedly,
	// or reconnection is exhausted.
	OnError func(err error)
}

// Options contains optional configuration for a Conn.
// NewOptions should be used to create instances of Options.
type Options struct {
	Policy         Policy
	Events         Events
	ConnectTimeout time.Duration
}

// Option defines a functional option for configuring Options.
type Option func(*Options) error

// NewOptions creates Options with optional configurations applied.
func NewOptions(opts ...Option) (Options, error) {
	options := Options{
		Policy:         DefaultPolicy(),
		ConnectTimeout: DefaultConnectTimeout,
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

// WithPolicy overrides the reconnect policy.
func WithPolicy(policy Policy) Option {
	return func(o *Options) error {
		if policy.MaxAttempts < 1 {
			return fmt.Errorf("policy max attempts must be at least 1")
		}
		if policy.InitialDelay <= 0 || policy.MaxDelay <= 0 {
			return fmt.Errorf("policy delays must be positive")
		}
		o.Policy = policy
		return nil
	}
}

// WithEvents registers state change and error callbacks.
func WithEvents(events Events) Option {
	return func(o *Options) error {
		o.Events = events
		return nil
	}
}

// WithConnectTimeout bounds each dial-and-initialize handshake.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(o *Options) error {
		if timeout <= 0 {
			return fmt.Errorf("connect timeout must be positive")
		}
		o.ConnectTimeout = timeout
		return nil
	}
}

// Status is a point-in-time snapshot of one managed connection.
type Status struct {
	Name              string
	Kind              config.TransportKind
	State             State
	SessionID         string
	ReconnectAttempts int
	LastError         error
	LastConnectedAt   time.Time
	EverConnected     bool
	Info              rpc.Info
}

// Conn supervises one server's session: it owns the lifecycle state, the
// reconnect timer, and the capability filter. Transitions for one Conn are
// strictly ordered; a Conn never blocks operations of sibling connections.
type Conn struct {
	logger  hclog.Logger
	dialer  rpc.Dialer
	desc    config.ServerDescriptor
	policy  Policy
	events  Events
	timeout time.Duration

	mu            sync.Mutex
	state         State
	client        rpc.Client
	info          rpc.Info
	sessionID     string
	attempts      int
	lastErr       error
	connectedAt   time.Time
	everConnected bool

	// generation invalidates close notifications and retry timers that
	// belong to a superseded session.
	generation int

	// retired refuses any further Connect once the owner has stopped
	// tracking this connection.
	retired bool
	retryTimer *time.Timer
}

// New creates a disconnected Conn for the descriptor.
func New(logger hclog.Logger, dialer rpc.Dialer, desc config.ServerDescriptor, opts ...Option) (*Conn, error) {
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

	return &Conn{
		logger:  logger.Named("conn").Named(desc.Name),
		dialer:  dialer,
		desc:    desc,
		policy:  options.Policy,
		events:  options.Events,
		timeout: options.ConnectTimeout,
		state:   StateDisconnected,
	}, nil
}

// Descriptor returns the immutable configuration this Conn was built from.
func (c *Conn) Descriptor() config.ServerDescriptor {
	return c.desc
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a consistent snapshot of the connection.
func (c *Conn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Name:              c.desc.Name,
		Kind:              c.desc.Kind,
		State:             c.state,
		SessionID:         c.sessionID,
		ReconnectAttempts: c.attempts,
		LastError:         c.lastErr,
		LastConnectedAt:   c.connectedAt,
		EverConnected:     c.everConnected,
		Info:              c.info,
	}
}

// Connect establishes the session. Connecting while a handshake or reconnect
// is already in flight is rejected; connecting while connected is a no-op.
// A failed handshake leaves the connection in the failed state.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.retired {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s is retired", errors.ErrNotConnected, c.desc.Name)
	}
	switch c.state {
	case StateConnecting, StateReconnecting:
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", errors.ErrAlreadyConnecting, c.desc.Name)
	case StateConnected:
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()
	c.notifyChange()

	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	client, info, err := c.dialer.Dial(dialCtx, c.desc)

	c.mu.Lock()
	if c.state != StateConnecting {
		// Disconnect raced the handshake; honor it.
		c.mu.Unlock()
		if client != nil {
			_ = client.Close()
		}
		return nil
	}

	if err != nil {
		c.state = StateFailed
		c.lastErr = err
		c.mu.Unlock()

		c.logger.Error("connection failed", "error", err)
		c.notifyError(err)
		c.notifyChange()
		return err
	}

	c.adoptSessionLocked(client, info)
	c.mu.Unlock()

	c.logger.Info("connected", "session", c.sessionID)
	c.notifyChange()
	return nil
}

// adoptSessionLocked installs a freshly dialed session and resets the
// reconnect bookkeeping. Callers must hold c.mu.
func (c *Conn) adoptSessionLocked(client rpc.Client, info rpc.Info) {
	c.generation++
	generation := c.generation

	c.client = client
	c.info = info
	c.sessionID = client.SessionID()
	c.state = StateConnected
	c.attempts = 0
	c.lastErr = nil
	c.connectedAt = time.Now().UTC()
	c.everConnected = true

	client.OnClose(func(cause error) {
		c.handleUnexpectedClose(generation, cause)
	})
}

// handleUnexpectedClose reacts to a session that died without Disconnect
// being called. Stale notifications from superseded sessions are ignored, as
// is anything arriving after an explicit disconnect.
func (c *Conn) handleUnexpectedClose(generation int, cause error) {
	c.mu.Lock()
	if generation != c.generation || c.state != StateConnected {
		c.mu.Unlock()
		return
	}

	c.client = nil
	c.sessionID = ""
	c.attempts++
	c.lastErr = cause

	if c.attempts > c.policy.MaxAttempts {
		c.state = StateFailed
		c.mu.Unlock()

		c.logger.Error("session lost, reconnect attempts exhausted", "error", cause)
		c.notifyError(cause)
		c.notifyChange()
		return
	}

	c.state = StateReconnecting
	delay := c.policy.Delay(c.attempts)
	c.scheduleRetryLocked(generation, delay)
	attempt := c.attempts
	c.mu.Unlock()

	c.logger.Warn("session lost, reconnecting",
		"error", cause,
		"attempt", attempt,
		"max_attempts", c.policy.MaxAttempts,
		"delay", delay,
	)
	c.notifyError(cause)
	c.notifyChange()
}

// scheduleRetryLocked arms the backoff timer. Callers must hold c.mu.
func (c *Conn) scheduleRetryLocked(generation int, delay time.Duration) {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
	}
	c.retryTimer = time.AfterFunc(delay, func() {
		c.retryConnect(generation)
	})
}

// retryConnect performs one backoff-scheduled reconnect attempt.
// It aborts silently if a disconnect landed while the timer was pending.
func (c *Conn) retryConnect(generation int) {
	c.mu.Lock()
	if generation != c.generation || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	client, info, err := c.dialer.Dial(ctx, c.desc)

	c.mu.Lock()
	if generation != c.generation || c.state != StateReconnecting {
		c.mu.Unlock()
		if client != nil {
			_ = client.Close()
		}
		return
	}

	if err != nil {
		c.attempts++
		c.lastErr = err

		if c.attempts > c.policy.MaxAttempts {
			c.state = StateFailed
			c.mu.Unlock()

			c.logger.Error("reconnect attempts exhausted", "error", err)
			c.notifyError(err)
			c.notifyChange()
			return
		}

		delay := c.policy.Delay(c.attempts)
		c.scheduleRetryLocked(generation, delay)
		attempt := c.attempts
		c.mu.Unlock()

		c.logger.Warn("reconnect attempt failed",
			"error", err,
			"attempt", attempt,
			"max_attempts", c.policy.MaxAttempts,
			"delay", delay,
		)
		c.notifyChange()
		return
	}

	c.adoptSessionLocked(client, info)
	c.mu.Unlock()

	c.logger.Info("reconnected", "session", c.sessionID)
	c.notifyChange()
}

// Disconnect closes the session and makes the disconnected state terminal:
// pending reconnect timers are cancelled and late close notifications from
// the old session are discarded.
func (c *Conn) Disconnect(_ context.Context) error {
	c.mu.Lock()
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}

	// Invalidate in-flight handshakes and stale close notifications.
	c.generation++

	alreadyDisconnected := c.state == StateDisconnected
	client := c.client
	c.client = nil
	c.sessionID = ""
	c.state = StateDisconnected
	c.mu.Unlock()

	if alreadyDisconnected {
		return nil
	}

	var err error
	if client != nil {
		err = client.Close()
	}

	c.logger.Info("disconnected")
	c.notifyChange()
	return err
}

// Retire permanently decommissions the connection: the session is torn down
// and any later Connect is refused. Owners call this when they stop tracking
// the connection, so an in-flight retry cannot resurrect it.
func (c *Conn) Retire(ctx context.Context) error {
	c.mu.Lock()
	c.retired = true
	c.mu.Unlock()
	return c.Disconnect(ctx)
}

// session returns the live client or a not-connected error.
func (c *Conn) session() (rpc.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected || c.client == nil {
		return nil, fmt.Errorf("%w: %s is %s", errors.ErrNotConnected, c.desc.Name, c.state)
	}
	return c.client, nil
}

// ListTools returns the server's tools restricted to the allow-list.
func (c *Conn) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	client, err := c.session()
	if err != nil {
		return nil, err
	}
	tools, err := client.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	return filterTools(c.desc.Allowed.Tools, tools), nil
}

// CallTool invokes one tool, rejecting names outside the allow-list.
func (c *Conn) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	client, err := c.session()
	if err != nil {
		return nil, err
	}
	if !nameAllowed(c.desc.Allowed.Tools, name) {
		return nil, fmt.Errorf("%w: tool %q on server %q", errors.ErrToolForbidden, name, c.desc.Name)
	}
	result, err := client.CallTool(ctx, name, args)
	if err != nil {
		return nil, fmt.Errorf("%w: %q on server %q: %w", errors.ErrToolCallFailed, name, c.desc.Name, err)
	}
	return result, nil
}

// ListPrompts returns the server's prompts restricted to the allow-list.
func (c *Conn) ListPrompts(ctx context.Context) ([]mcp.Prompt, error) {
	client, err := c.session()
	if err != nil {
		return nil, err
	}
	prompts, err := client.ListPrompts(ctx)
	if err != nil {
		return nil, err
	}
	return filterPrompts(c.desc.Allowed.Prompts, prompts), nil
}

// GetPrompt fetches one prompt, rejecting names outside the allow-list.
func (c *Conn) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	client, err := c.session()
	if err != nil {
		return nil, err
	}
	if !nameAllowed(c.desc.Allowed.Prompts, name) {
		return nil, fmt.Errorf("%w: prompt %q on server %q", errors.ErrPromptForbidden, name, c.desc.Name)
	}
	return client.GetPrompt(ctx, name, args)
}

// ListResources returns the server's resources restricted to the allow-list.
func (c *Conn) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	client, err := c.session()
	if err != nil {
		return nil, err
	}
	resources, err := client.ListResources(ctx)
	if err != nil {
		return nil, err
	}
	return filterResources(c.desc.Allowed.Resources, resources), nil
}

// ReadResource reads one resource by URI, rejecting URIs outside the allow-list.
func (c *Conn) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	client, err := c.session()
	if err != nil {
		return nil, err
	}
	if !nameAllowed(c.desc.Allowed.Resources, uri) {
		return nil, fmt.Errorf("%w: resource %q on server %q", errors.ErrResourceForbidden, uri, c.desc.Name)
	}
	return client.ReadResource(ctx, uri)
}

// Ping probes the live session.
func (c *Conn) Ping(ctx context.Context) error {
	client, err := c.session()
	if err != nil {
		return err
	}
	return client.Ping(ctx)
}

func (c *Conn) notifyChange() {
	if c.events.OnChange != nil {
		c.events.OnChange()
	}
}

func (c *Conn) notifyError(err error) {
	if c.events.OnError != nil {
		c.events.OnError(err)
	}
}
