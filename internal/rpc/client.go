// Package rpc adapts the MCP wire protocol behind transport-neutral
// interfaces. Connection supervision lives elsewhere; this package only knows
// how to dial a descriptor and speak the protocol over the resulting session.
package rpc

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mcpherd/mcpherd/internal/config"
)

// Info captures what a server reported during the initialize handshake.
type Info struct {
	// ServerName and ServerVersion are the implementation details the server
	// announced, not the configured server id.
	ServerName    string
	ServerVersion string

	// Instructions is optional free-form usage guidance from the server.
	Instructions string

	// Capability presence flags from the negotiated capability set.
	HasTools     bool
	HasPrompts   bool
	HasResources bool
}

// Client is one live protocol session with a server.
// Implementations must be safe for concurrent use; Close is idempotent.
type Client interface {
	// Ping verifies the session is still answering.
	Ping(ctx context.Context) error

	ListTools(ctx context.Context) ([]mcp.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)

	ListPrompts(ctx context.Context) ([]mcp.Prompt, error)
	GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error)

	ListResources(ctx context.Context) ([]mcp.Resource, error)
	ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error)

	// SessionID identifies this session for session-based transports and is
	// empty for stateless ones.
	SessionID() string

	// OnClose registers a handler invoked exactly once when the session ends
	// without Close being called, e.g. a dead subprocess or dropped stream.
	// Must be registered before the session is put into service.
	OnClose(fn func(err error))

	Close() error
}

// Dialer establishes a session for a resolved server descriptor.
type Dialer interface {
	Dial(ctx context.Context, desc config.ServerDescriptor) (Client, Info, error)
}
