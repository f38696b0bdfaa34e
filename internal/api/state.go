package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mcpherd/mcpherd/internal/contracts"
	"github.com/mcpherd/mcpherd/internal/manager"
)

// StateResponse represents the wrapped API response for the aggregate state.
type StateResponse struct {
	Body struct {
		Servers map[string]manager.ServerState `doc:"Connection state of every managed server" json:"servers"`
	}
}

// SnapshotResponse represents the wrapped API response for a serialized snapshot.
type SnapshotResponse struct {
	Body manager.SerializedState
}

// ReloadResponse represents the wrapped API response for a config reload.
type ReloadResponse struct {
	Body struct {
		Added     []string `doc:"Servers connected for the first time"   json:"added"`
		Removed   []string `doc:"Servers disconnected and dropped"       json:"removed"`
		Changed   []string `doc:"Servers bounced due to config changes"  json:"changed"`
		Unchanged []string `doc:"Servers left untouched"                 json:"unchanged"`
		Invalid   []string `doc:"Servers excluded with validation errors" json:"invalid"`
	}
}

// RegisterStateRoutes sets up aggregate-state API endpoint routes.
func RegisterStateRoutes(routerAPI huma.API, supervisor contracts.ConnectionSupervisor, apiPathPrefix string) {
	stateAPI := huma.NewGroup(routerAPI, apiPathPrefix)
	tags := []string{"State"}

	huma.Register(
		stateAPI,
		huma.Operation{
			OperationID: "getState",
			Method:      http.MethodGet,
			Summary:     "Get the connection state of every server",
			Tags:        tags,
		},
		func(ctx context.Context, _ *struct{}) (*StateResponse, error) {
			resp := &StateResponse{}
			resp.Body.Servers = supervisor.GetState()
			return resp, nil
		},
	)

	huma.Register(
		stateAPI,
		huma.Operation{
			OperationID: "getSnapshot",
			Method:      http.MethodGet,
			Path:        "/snapshot",
			Summary:     "Serialize the aggregate state",
			Tags:        tags,
		},
		func(ctx context.Context, _ *struct{}) (*SnapshotResponse, error) {
			return &SnapshotResponse{Body: *supervisor.Serialize()}, nil
		},
	)

	huma.Register(
		stateAPI,
		huma.Operation{
			OperationID: "reloadConfig",
			Method:      http.MethodPost,
			Path:        "/reload",
			Summary:     "Re-parse the config file and apply the diff",
			Tags:        tags,
		},
		func(ctx context.Context, _ *struct{}) (*ReloadResponse, error) {
			result, err := supervisor.Reload(ctx)
			if err != nil {
				return nil, err
			}

			resp := &ReloadResponse{}
			resp.Body.Added = result.Added
			resp.Body.Removed = result.Removed
			resp.Body.Changed = result.Changed
			resp.Body.Unchanged = result.Unchanged
			for _, serverErr := range result.Invalid {
				resp.Body.Invalid = append(resp.Body.Invalid, serverErr.Server)
			}
			return resp, nil
		},
	)
}
