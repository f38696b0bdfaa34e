package daemon

import (
	"context"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/mcpherd/mcpherd/internal/contracts"
	"github.com/mcpherd/mcpherd/internal/manager"
)

type stubSupervisor struct{}

func (s *stubSupervisor) GetServerIDs() []string                   { return nil }
func (s *stubSupervisor) GetState() map[string]manager.ServerState { return nil }
func (s *stubSupervisor) Serialize() *manager.SerializedState      { return nil }
func (s *stubSupervisor) GetServerState(string) (manager.ServerState, error) {
	return manager.ServerState{}, nil
}

func (s *stubSupervisor) ListTools(context.Context, string) ([]mcp.Tool, error) {
	return nil, nil
}

func (s *stubSupervisor) CallTool(context.Context, string, string, map[string]any) (*mcp.CallToolResult, error) {
	return nil, nil
}

func (s *stubSupervisor) ListPrompts(context.Context, string) ([]mcp.Prompt, error) {
	return nil, nil
}

func (s *stubSupervisor) GetPrompt(context.Context, string, string, map[string]string) (*mcp.GetPromptResult, error) {
	return nil, nil
}

func (s *stubSupervisor) ListResources(context.Context, string) ([]mcp.Resource, error) {
	return nil, nil
}

func (s *stubSupervisor) ReadResource(context.Context, string, string) (*mcp.ReadResourceResult, error) {
	return nil, nil
}

func (s *stubSupervisor) Reload(context.Context) (*manager.ReloadResult, error) {
	return nil, nil
}

var _ contracts.ConnectionSupervisor = (*stubSupervisor)(nil)

func TestAPIDependencies_Validate(t *testing.T) {
	t.Parallel()

	logger := hclog.NewNullLogger()
	supervisor := &stubSupervisor{}

	tests := []struct {
		name    string
		deps    APIDependencies
		wantErr string
	}{
		{
			name: "valid",
			deps: APIDependencies{Addr: "localhost:8090", Supervisor: supervisor, Logger: logger},
		},
		{
			name:    "bad address",
			deps:    APIDependencies{Addr: "nope", Supervisor: supervisor, Logger: logger},
			wantErr: "invalid API address",
		},
		{
			name:    "nil supervisor",
			deps:    APIDependencies{Addr: "localhost:8090", Logger: logger},
			wantErr: "supervisor cannot be nil",
		},
		{
			name:    "nil logger",
			deps:    APIDependencies{Addr: "localhost:8090", Supervisor: supervisor},
			wantErr: "logger cannot be nil",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := tc.deps.Validate()
			if tc.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestNewAPIDependencies(t *testing.T) {
	t.Parallel()

	deps, err := NewAPIDependencies(hclog.NewNullLogger(), &stubSupervisor{}, "localhost:0")
	require.NoError(t, err)
	require.Equal(t, "localhost:0", deps.Addr)
}
