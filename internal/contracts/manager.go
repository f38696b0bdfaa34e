// Package contracts declares the interfaces the HTTP API consumes, keeping
// route handlers decoupled from the concrete connection manager.
package contracts

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mcpherd/mcpherd/internal/manager"
)

// ConnectionSupervisor exposes the managed connection set: enumeration,
// aggregate state, filtered capability operations, and reload.
type ConnectionSupervisor interface {
	// GetServerIDs returns the sorted ids of all managed servers.
	GetServerIDs() []string

	// GetState returns a complete snapshot of every server's state.
	GetState() map[string]manager.ServerState

	// GetServerState returns one server's state.
	GetServerState(name string) (manager.ServerState, error)

	// ListTools lists one server's tools through its capability filter.
	ListTools(ctx context.Context, server string) ([]mcp.Tool, error)

	// CallTool invokes one tool through the server's capability filter.
	CallTool(ctx context.Context, server, tool string, args map[string]any) (*mcp.CallToolResult, error)

	// ListPrompts lists one server's prompts through its capability filter.
	ListPrompts(ctx context.Context, server string) ([]mcp.Prompt, error)

	// GetPrompt fetches one prompt through the server's capability filter.
	GetPrompt(ctx context.Context, server, prompt string, args map[string]string) (*mcp.GetPromptResult, error)

	// ListResources lists one server's resources through its capability filter.
	ListResources(ctx context.Context, server string) ([]mcp.Resource, error)

	// ReadResource reads one resource through the server's capability filter.
	ReadResource(ctx context.Context, server, uri string) (*mcp.ReadResourceResult, error)

	// Reload re-parses the loaded config file and applies the diff.
	Reload(ctx context.Context) (*manager.ReloadResult, error)

	// Serialize snapshots the aggregate state.
	Serialize() *manager.SerializedState
}
