package conn

import (
	"slices"

	"github.com/mark3labs/mcp-go/mcp"
)

// nameAllowed reports whether name passes an allow-list.
// A nil list permits everything; a non-nil list is the exact permitted set.
func nameAllowed(allowed []string, name string) bool {
	if allowed == nil {
		return true
	}
	return slices.Contains(allowed, name)
}

func filterTools(allowed []string, tools []mcp.Tool) []mcp.Tool {
	if allowed == nil {
		return tools
	}
	out := make([]mcp.Tool, 0, len(tools))
	for _, tool := range tools {
		if nameAllowed(allowed, tool.Name) {
			out = append(out, tool)
		}
	}
	return out
}

func filterPrompts(allowed []string, prompts []mcp.Prompt) []mcp.Prompt {
	if allowed == nil {
		return prompts
	}
	out := make([]mcp.Prompt, 0, len(prompts))
	for _, prompt := range prompts {
		if nameAllowed(allowed, prompt.Name) {
			out = append(out, prompt)
		}
	}
	return out
}

// filterResources matches on URI, the identifier callers pass to read.
func filterResources(allowed []string, resources []mcp.Resource) []mcp.Resource {
	if allowed == nil {
		return resources
	}
	out := make([]mcp.Resource, 0, len(resources))
	for _, resource := range resources {
		if nameAllowed(allowed, resource.URI) {
			out = append(out, resource)
		}
	}
	return out
}
