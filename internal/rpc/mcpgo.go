package rpc

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mcpherd/mcpherd/internal/config"
	"github.com/mcpherd/mcpherd/internal/errors"
)

const (
	protocolVersion = "2024-11-05"

	defaultPingInterval = 30 * time.Second
	defaultPingTimeout  = 5 * time.Second
)

var _ Dialer = (*MCPDialer)(nil)

// DialerOptions contains optional configuration for an MCPDialer.
// NewDialerOptions should be used to create instances of DialerOptions.
type DialerOptions struct {
	// PingInterval controls how often live sessions are probed so unexpected
	// closes are noticed even on transports with no process to watch.
	PingInterval time.Duration

	// PingTimeout bounds a single liveness probe.
	PingTimeout time.Duration
}

// DialerOption defines a functional option for configuring DialerOptions.
type DialerOption func(*DialerOptions) error

// NewDialerOptions creates DialerOptions with optional configurations applied.
func NewDialerOptions(opts ...DialerOption) (DialerOptions, error) {
	options := DialerOptions{
		PingInterval: defaultPingInterval,
		PingTimeout:  defaultPingTimeout,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&options); err != nil {
			return DialerOptions{}, err
		}
	}
	return options, nil
}

// WithPingInterval sets the session liveness probe interval.
func WithPingInterval(interval time.Duration) DialerOption {
	return func(o *DialerOptions) error {
		if interval <= 0 {
			return fmt.Errorf("ping interval must be positive")
		}
		o.PingInterval = interval
		return nil
	}
}

// WithPingTimeout bounds a single liveness probe.
func WithPingTimeout(timeout time.Duration) DialerOption {
	return func(o *DialerOptions) error {
		if timeout <= 0 {
			return fmt.Errorf("ping timeout must be positive")
		}
		o.PingTimeout = timeout
		return nil
	}
}

// MCPDialer dials servers using the reference MCP client library,
// selecting the wire transport from the descriptor kind.
type MCPDialer struct {
	logger        hclog.Logger
	clientName    string
	clientVersion string
	opts          DialerOptions
}

// NewMCPDialer creates a dialer that identifies itself to servers with the
// given implementation name and version.
func NewMCPDialer(logger hclog.Logger, name, version string, opts ...DialerOption) (*MCPDialer, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if name == "" {
		return nil, fmt.Errorf("client name cannot be empty")
	}

	options, err := NewDialerOptions(opts...)
	if err != nil {
		return nil, err
	}

	return &MCPDialer{
		logger:        logger.Named("rpc.dialer"),
		clientName:    name,
		clientVersion: version,
		opts:          options,
	}, nil
}

// Dial starts a transport for the descriptor, runs the initialize handshake
// and returns a monitored session.
func (d *MCPDialer) Dial(ctx context.Context, desc config.ServerDescriptor) (Client, Info, error) {
	underlying, err := d.newClient(ctx, desc)
	if err != nil {
		return nil, Info{}, fmt.Errorf("%w: %s: %w", errors.ErrConnectionFailed, desc.Name, err)
	}

	initResult, err := underlying.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: protocolVersion,
			ClientInfo:      mcp.Implementation{Name: d.clientName, Version: d.clientVersion},
			Capabilities:    mcp.ClientCapabilities{},
		},
	})
	if err != nil {
		_ = underlying.Close()
		return nil, Info{}, fmt.Errorf("%w: %s: initialize: %w", errors.ErrConnectionFailed, desc.Name, err)
	}

	info := Info{
		ServerName:    initResult.ServerInfo.Name,
		ServerVersion: initResult.ServerInfo.Version,
		Instructions:  initResult.Instructions,
		HasTools:      initResult.Capabilities.Tools != nil,
		HasPrompts:    initResult.Capabilities.Prompts != nil,
		HasResources:  initResult.Capabilities.Resources != nil,
	}

	d.logger.Info("session established",
		"server", desc.Name,
		"kind", string(desc.Kind),
		"remote", fmt.Sprintf("%s@%s", info.ServerName, info.ServerVersion),
	)

	session := &mcpSession{
		logger:     d.logger.Named(desc.Name),
		underlying: underlying,
		done:       make(chan struct{}),
	}
	if desc.Kind.SessionBased() {
		session.sessionID = uuid.NewString()
	}
	go session.monitor(d.opts.PingInterval, d.opts.PingTimeout)

	return session, info, nil
}

// newClient constructs and starts the transport-specific client.
func (d *MCPDialer) newClient(ctx context.Context, desc config.ServerDescriptor) (*client.Client, error) {
	switch desc.Kind {
	case config.TransportStdio:
		if desc.Dir != "" {
			return client.NewStdioMCPClientWithOptions(
				desc.Command,
				envStrings(desc.Env),
				desc.Args,
				transport.WithCommandFunc(
					func(ctx context.Context, command string, env []string, args []string) (*exec.Cmd, error) {
						cmd := exec.CommandContext(ctx, command, args...)
						cmd.Env = env
						cmd.Dir = desc.Dir
						return cmd, nil
					},
				),
			)
		}
		return client.NewStdioMCPClient(desc.Command, envStrings(desc.Env), desc.Args...)

	case config.TransportSSE:
		var opts []transport.ClientOption
		if len(desc.Headers) > 0 {
			opts = append(opts, transport.WithHeaders(desc.Headers))
		}
		sseClient, err := client.NewSSEMCPClient(desc.URL, opts...)
		if err != nil {
			return nil, err
		}
		if err := sseClient.Start(ctx); err != nil {
			return nil, err
		}
		return sseClient, nil

	case config.TransportHTTP:
		var opts []transport.StreamableHTTPCOption
		if len(desc.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(desc.Headers))
		}
		httpClient, err := client.NewStreamableHttpClient(desc.URL, opts...)
		if err != nil {
			return nil, err
		}
		if err := httpClient.Start(ctx); err != nil {
			return nil, err
		}
		return httpClient, nil

	default:
		return nil, fmt.Errorf("unsupported transport kind %q", desc.Kind)
	}
}

// envStrings flattens an environment map to sorted KEY=VALUE form.
func envStrings(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

var _ Client = (*mcpSession)(nil)

// mcpSession wraps one live protocol client and watches its liveness.
type mcpSession struct {
	logger     hclog.Logger
	underlying *client.Client
	sessionID  string

	mu      sync.Mutex
	onClose func(err error)

	closeOnce sync.Once
	done      chan struct{}
}

// monitor probes the session until it dies or Close is called.
// A failed probe fires the registered close handler exactly once.
func (s *mcpSession) monitor(interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(context.Background(), timeout)
			err := s.underlying.Ping(pingCtx)
			cancel()
			if err == nil {
				s.logger.Debug("liveness probe successful")
				continue
			}

			s.logger.Warn("liveness probe failed, session considered lost", "error", err)
			s.terminate(err)
			return
		}
	}
}

// terminate tears the session down and, when cause is non-nil, notifies the
// close handler that the session ended unexpectedly.
func (s *mcpSession) terminate(cause error) {
	s.closeOnce.Do(func() {
		close(s.done)
		if err := s.underlying.Close(); err != nil {
			s.logger.Debug("error closing underlying client", "error", err)
		}

		if cause == nil {
			return
		}
		s.mu.Lock()
		handler := s.onClose
		s.mu.Unlock()
		if handler != nil {
			handler(cause)
		}
	})
}

func (s *mcpSession) Ping(ctx context.Context) error {
	return s.underlying.Ping(ctx)
}

func (s *mcpSession) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	result, err := s.underlying.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	return result.Tools, nil
}

func (s *mcpSession) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return s.underlying.CallTool(ctx, req)
}

func (s *mcpSession) ListPrompts(ctx context.Context) ([]mcp.Prompt, error) {
	result, err := s.underlying.ListPrompts(ctx, mcp.ListPromptsRequest{})
	if err != nil {
		return nil, err
	}
	return result.Prompts, nil
}

func (s *mcpSession) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	req := mcp.GetPromptRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return s.underlying.GetPrompt(ctx, req)
}

func (s *mcpSession) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	result, err := s.underlying.ListResources(ctx, mcp.ListResourcesRequest{})
	if err != nil {
		return nil, err
	}
	return result.Resources, nil
}

func (s *mcpSession) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri
	return s.underlying.ReadResource(ctx, req)
}

func (s *mcpSession) SessionID() string {
	return s.sessionID
}

func (s *mcpSession) OnClose(fn func(err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClose = fn
}

func (s *mcpSession) Close() error {
	s.terminate(nil)
	return nil
}
