package api

import (
	"context"
	"fmt"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/mcpherd/mcpherd/internal/errors"
	"github.com/mcpherd/mcpherd/internal/manager"
)

// mockSupervisor implements the ConnectionSupervisor interface for testing.
type mockSupervisor struct {
	states    map[string]manager.ServerState
	tools     map[string][]mcp.Tool
	prompts   map[string][]mcp.Prompt
	resources map[string][]mcp.Resource

	callToolResult *mcp.CallToolResult
	callToolErr    error
}

func newMockSupervisor() *mockSupervisor {
	return &mockSupervisor{
		states:    make(map[string]manager.ServerState),
		tools:     make(map[string][]mcp.Tool),
		prompts:   make(map[string][]mcp.Prompt),
		resources: make(map[string][]mcp.Resource),
	}
}

func (m *mockSupervisor) GetServerIDs() []string {
	names := make([]string, 0, len(m.states))
	for name := range m.states {
		names = append(names, name)
	}
	return names
}

func (m *mockSupervisor) GetState() map[string]manager.ServerState {
	return m.states
}

func (m *mockSupervisor) GetServerState(name string) (manager.ServerState, error) {
	state, ok := m.states[name]
	if !ok {
		return manager.ServerState{}, fmt.Errorf("server '%s': %w", name, errors.ErrServerNotFound)
	}
	return state, nil
}

func (m *mockSupervisor) ListTools(_ context.Context, server string) ([]mcp.Tool, error) {
	tools, ok := m.tools[server]
	if !ok {
		return nil, fmt.Errorf("server '%s': %w", server, errors.ErrServerNotFound)
	}
	return tools, nil
}

func (m *mockSupervisor) CallTool(_ context.Context, _, _ string, _ map[string]any) (*mcp.CallToolResult, error) {
	return m.callToolResult, m.callToolErr
}

func (m *mockSupervisor) ListPrompts(_ context.Context, server string) ([]mcp.Prompt, error) {
	prompts, ok := m.prompts[server]
	if !ok {
		return nil, fmt.Errorf("server '%s': %w", server, errors.ErrServerNotFound)
	}
	return prompts, nil
}

func (m *mockSupervisor) GetPrompt(_ context.Context, _, _ string, _ map[string]string) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{Description: "review changes"}, nil
}

func (m *mockSupervisor) ListResources(_ context.Context, server string) ([]mcp.Resource, error) {
	resources, ok := m.resources[server]
	if !ok {
		return nil, fmt.Errorf("server '%s': %w", server, errors.ErrServerNotFound)
	}
	return resources, nil
}

func (m *mockSupervisor) ReadResource(_ context.Context, _, uri string) (*mcp.ReadResourceResult, error) {
	return &mcp.ReadResourceResult{
		Contents: []mcp.ResourceContents{
			mcp.TextResourceContents{URI: uri, Text: "hello"},
		},
	}, nil
}

func (m *mockSupervisor) Reload(_ context.Context) (*manager.ReloadResult, error) {
	return &manager.ReloadResult{Unchanged: m.GetServerIDs()}, nil
}

func (m *mockSupervisor) Serialize() *manager.SerializedState {
	return &manager.SerializedState{}
}

func TestHandleListTools(t *testing.T) {
	t.Parallel()

	s := newMockSupervisor()
	s.tools["github"] = []mcp.Tool{
		{Name: "search_code", Description: "Search code"},
		{Name: "create_issue"},
	}

	resp, err := handleListTools(context.Background(), s, "github")
	require.NoError(t, err)
	require.Len(t, resp.Body.Tools, 2)
	require.Equal(t, "search_code", resp.Body.Tools[0].Name)
	require.Equal(t, "Search code", resp.Body.Tools[0].Description)
}

func TestHandleListTools_ServerNotFound(t *testing.T) {
	t.Parallel()

	s := newMockSupervisor()

	_, err := handleListTools(context.Background(), s, "missing")
	require.ErrorIs(t, err, errors.ErrServerNotFound)
}

func TestHandleCallTool(t *testing.T) {
	t.Parallel()

	s := newMockSupervisor()
	s.callToolResult = &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: "2 results"},
		},
	}

	resp, err := handleCallTool(context.Background(), s, &ToolCallRequest{
		Server: "github",
		Tool:   "search_code",
		Body:   map[string]any{"query": "TODO"},
	})
	require.NoError(t, err)
	require.False(t, resp.Body.IsError)
	require.Equal(t, "2 results", resp.Body.Message)
}

func TestHandleCallTool_Error(t *testing.T) {
	t.Parallel()

	s := newMockSupervisor()
	s.callToolErr = fmt.Errorf("tool 'rm_rf': %w", errors.ErrToolForbidden)

	_, err := handleCallTool(context.Background(), s, &ToolCallRequest{Server: "github", Tool: "rm_rf"})
	require.ErrorIs(t, err, errors.ErrToolForbidden)
}

func TestHandleListPrompts(t *testing.T) {
	t.Parallel()

	s := newMockSupervisor()
	s.prompts["github"] = []mcp.Prompt{{Name: "review", Description: "Code review"}}

	resp, err := handleListPrompts(context.Background(), s, "github")
	require.NoError(t, err)
	require.Len(t, resp.Body.Prompts, 1)
	require.Equal(t, "review", resp.Body.Prompts[0].Name)
}

func TestHandleGetPrompt(t *testing.T) {
	t.Parallel()

	s := newMockSupervisor()

	resp, err := handleGetPrompt(context.Background(), s, &PromptRequest{Server: "github", Prompt: "review"})
	require.NoError(t, err)
	require.Equal(t, "review changes", resp.Body.Description)
}

func TestHandleListResources(t *testing.T) {
	t.Parallel()

	s := newMockSupervisor()
	s.resources["files"] = []mcp.Resource{
		{URI: "file:///readme", Name: "readme", MIMEType: "text/markdown"},
	}

	resp, err := handleListResources(context.Background(), s, "files")
	require.NoError(t, err)
	require.Len(t, resp.Body.Resources, 1)
	require.Equal(t, "file:///readme", resp.Body.Resources[0].URI)
	require.Equal(t, "text/markdown", resp.Body.Resources[0].MIMEType)
}

func TestHandleReadResource(t *testing.T) {
	t.Parallel()

	s := newMockSupervisor()

	resp, err := handleReadResource(context.Background(), s, &ResourceRequest{Server: "files", URI: "file:///readme"})
	require.NoError(t, err)
	require.NotNil(t, resp.Body.Contents)
}

func TestExtractMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content []mcp.Content
		want    string
	}{
		{
			name:    "text content",
			content: []mcp.Content{mcp.TextContent{Type: "text", Text: "ok"}},
			want:    "ok",
		},
		{
			name:    "no text content",
			content: []mcp.Content{mcp.ImageContent{Type: "image"}},
			want:    "",
		},
		{
			name: "empty",
			want: "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tc.want, extractMessage(tc.content))
		})
	}
}
