// Package api defines the HTTP surface of the daemon: typed request/response
// shapes and route registration over the connection supervisor.
package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mcpherd/mcpherd/internal/contracts"
	"github.com/mcpherd/mcpherd/internal/manager"
)

// ServersResponse represents the wrapped API response for a list of server ids.
type ServersResponse struct {
	Body []string
}

// ServerStateRequest identifies one server.
type ServerStateRequest struct {
	Name string `doc:"Name of the server" example:"github" path:"name"`
}

// ServerStateResponse represents the wrapped API response for one server's state.
type ServerStateResponse struct {
	Body manager.ServerState
}

// Tool is the API-safe projection of an MCP tool.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"inputSchema,omitempty"`
}

// ToolsResponse represents the wrapped API response for a server's tools.
type ToolsResponse struct {
	Body struct {
		Tools []Tool `doc:"Tools permitted by the server's allow-list" json:"tools"`
	}
}

// ToolCallRequest represents the incoming API request to call a tool.
type ToolCallRequest struct {
	Server string         `doc:"Name of the server"       example:"github"       path:"server"`
	Tool   string         `doc:"Name of the tool to call" example:"search_code"  path:"tool"`
	Body   map[string]any `doc:"Arguments for the tool"`
}

// ToolCallResponse represents the wrapped API response for a tool call.
type ToolCallResponse struct {
	Body struct {
		IsError bool   `doc:"Whether the tool reported an error" json:"isError"`
		Message string `doc:"Extracted text content"             json:"message"`
	}
}

// Prompt is the API-safe projection of an MCP prompt.
type Prompt struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// PromptsResponse represents the wrapped API response for a server's prompts.
type PromptsResponse struct {
	Body struct {
		Prompts []Prompt `doc:"Prompts permitted by the server's allow-list" json:"prompts"`
	}
}

// PromptRequest represents the incoming API request to fetch one prompt.
type PromptRequest struct {
	Server string            `doc:"Name of the server"         example:"github" path:"server"`
	Prompt string            `doc:"Name of the prompt"         example:"review" path:"prompt"`
	Args   map[string]string `doc:"Arguments for the prompt"                    query:"args"`
}

// PromptResponse represents the wrapped API response for one prompt.
type PromptResponse struct {
	Body struct {
		Description string `doc:"Prompt description"                json:"description,omitempty"`
		Messages    any    `doc:"Prompt messages as returned by the server" json:"messages"`
	}
}

// Resource is the API-safe projection of an MCP resource.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mimeType,omitempty"`
}

// ResourcesResponse represents the wrapped API response for a server's resources.
type ResourcesResponse struct {
	Body struct {
		Resources []Resource `doc:"Resources permitted by the server's allow-list" json:"resources"`
	}
}

// ResourceRequest represents the incoming API request to read one resource.
// The URI arrives as a query parameter because resource URIs contain slashes.
type ResourceRequest struct {
	Server string `doc:"Name of the server"       example:"github"          path:"server"`
	URI    string `doc:"URI of the resource"      example:"file:///readme"  query:"uri" required:"true"`
}

// ResourceResponse represents the wrapped API response for one resource read.
type ResourceResponse struct {
	Body struct {
		Contents any `doc:"Resource contents as returned by the server" json:"contents"`
	}
}

// RegisterServerRoutes sets up the per-server API endpoint routes.
func RegisterServerRoutes(routerAPI huma.API, supervisor contracts.ConnectionSupervisor, apiPathPrefix string) {
	serversAPI := huma.NewGroup(routerAPI, apiPathPrefix)
	tags := []string{"Servers"}

	huma.Register(
		serversAPI,
		huma.Operation{
			OperationID: "listServers",
			Method:      http.MethodGet,
			Summary:     "List all server ids",
			Tags:        tags,
		},
		func(ctx context.Context, _ *struct{}) (*ServersResponse, error) {
			return &ServersResponse{Body: supervisor.GetServerIDs()}, nil
		},
	)

	huma.Register(
		serversAPI,
		huma.Operation{
			OperationID: "getServerState",
			Method:      http.MethodGet,
			Path:        "/{name}",
			Summary:     "Get one server's connection state",
			Tags:        tags,
		},
		func(ctx context.Context, input *ServerStateRequest) (*ServerStateResponse, error) {
			state, err := supervisor.GetServerState(input.Name)
			if err != nil {
				return nil, err
			}
			return &ServerStateResponse{Body: state}, nil
		},
	)

	huma.Register(
		serversAPI,
		huma.Operation{
			OperationID: "listTools",
			Method:      http.MethodGet,
			Path:        "/{name}/tools",
			Summary:     "List a server's allowed tools",
			Tags:        append(tags, "Tools"),
		},
		func(ctx context.Context, input *ServerStateRequest) (*ToolsResponse, error) {
			return handleListTools(ctx, supervisor, input.Name)
		},
	)

	huma.Register(
		serversAPI,
		huma.Operation{
			OperationID: "callTool",
			Method:      http.MethodPost,
			Path:        "/{server}/tools/{tool}",
			Summary:     "Call a tool on a server",
			Tags:        append(tags, "Tools"),
		},
		func(ctx context.Context, input *ToolCallRequest) (*ToolCallResponse, error) {
			return handleCallTool(ctx, supervisor, input)
		},
	)

	huma.Register(
		serversAPI,
		huma.Operation{
			OperationID: "listPrompts",
			Method:      http.MethodGet,
			Path:        "/{name}/prompts",
			Summary:     "List a server's allowed prompts",
			Tags:        append(tags, "Prompts"),
		},
		func(ctx context.Context, input *ServerStateRequest) (*PromptsResponse, error) {
			return handleListPrompts(ctx, supervisor, input.Name)
		},
	)

	huma.Register(
		serversAPI,
		huma.Operation{
			OperationID: "getPrompt",
			Method:      http.MethodGet,
			Path:        "/{server}/prompts/{prompt}",
			Summary:     "Fetch a prompt from a server",
			Tags:        append(tags, "Prompts"),
		},
		func(ctx context.Context, input *PromptRequest) (*PromptResponse, error) {
			return handleGetPrompt(ctx, supervisor, input)
		},
	)

	huma.Register(
		serversAPI,
		huma.Operation{
			OperationID: "listResources",
			Method:      http.MethodGet,
			Path:        "/{name}/resources",
			Summary:     "List a server's allowed resources",
			Tags:        append(tags, "Resources"),
		},
		func(ctx context.Context, input *ServerStateRequest) (*ResourcesResponse, error) {
			return handleListResources(ctx, supervisor, input.Name)
		},
	)

	huma.Register(
		serversAPI,
		huma.Operation{
			OperationID: "readResource",
			Method:      http.MethodGet,
			Path:        "/{server}/resource",
			Summary:     "Read a resource from a server",
			Tags:        append(tags, "Resources"),
		},
		func(ctx context.Context, input *ResourceRequest) (*ResourceResponse, error) {
			return handleReadResource(ctx, supervisor, input)
		},
	)
}

func handleListTools(ctx context.Context, supervisor contracts.ConnectionSupervisor, name string) (*ToolsResponse, error) {
	tools, err := supervisor.ListTools(ctx, name)
	if err != nil {
		return nil, err
	}

	resp := &ToolsResponse{}
	resp.Body.Tools = make([]Tool, 0, len(tools))
	for _, tool := range tools {
		resp.Body.Tools = append(resp.Body.Tools, Tool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}
	return resp, nil
}

func handleCallTool(ctx context.Context, supervisor contracts.ConnectionSupervisor, input *ToolCallRequest) (*ToolCallResponse, error) {
	result, err := supervisor.CallTool(ctx, input.Server, input.Tool, input.Body)
	if err != nil {
		return nil, err
	}

	resp := &ToolCallResponse{}
	resp.Body.IsError = result.IsError
	resp.Body.Message = extractMessage(result.Content)
	return resp, nil
}

func handleListPrompts(ctx context.Context, supervisor contracts.ConnectionSupervisor, name string) (*PromptsResponse, error) {
	prompts, err := supervisor.ListPrompts(ctx, name)
	if err != nil {
		return nil, err
	}

	resp := &PromptsResponse{}
	resp.Body.Prompts = make([]Prompt, 0, len(prompts))
	for _, prompt := range prompts {
		resp.Body.Prompts = append(resp.Body.Prompts, Prompt{
			Name:        prompt.Name,
			Description: prompt.Description,
		})
	}
	return resp, nil
}

func handleGetPrompt(ctx context.Context, supervisor contracts.ConnectionSupervisor, input *PromptRequest) (*PromptResponse, error) {
	result, err := supervisor.GetPrompt(ctx, input.Server, input.Prompt, input.Args)
	if err != nil {
		return nil, err
	}

	resp := &PromptResponse{}
	resp.Body.Description = result.Description
	resp.Body.Messages = result.Messages
	return resp, nil
}

func handleListResources(ctx context.Context, supervisor contracts.ConnectionSupervisor, name string) (*ResourcesResponse, error) {
	resources, err := supervisor.ListResources(ctx, name)
	if err != nil {
		return nil, err
	}

	resp := &ResourcesResponse{}
	resp.Body.Resources = make([]Resource, 0, len(resources))
	for _, resource := range resources {
		resp.Body.Resources = append(resp.Body.Resources, Resource{
			URI:         resource.URI,
			Name:        resource.Name,
			Description: resource.Description,
			MIMEType:    resource.MIMEType,
		})
	}
	return resp, nil
}

func handleReadResource(ctx context.Context, supervisor contracts.ConnectionSupervisor, input *ResourceRequest) (*ResourceResponse, error) {
	result, err := supervisor.ReadResource(ctx, input.Server, input.URI)
	if err != nil {
		return nil, err
	}

	resp := &ResourceResponse{}
	resp.Body.Contents = result.Contents
	return resp, nil
}

// extractMessage pulls the first text content item from a tool result.
func extractMessage(content []mcp.Content) string {
	for _, c := range content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}
