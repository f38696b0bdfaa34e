// Package errors defines domain-level errors used throughout the application.
// These errors represent business logic failures and are mapped to appropriate HTTP status codes at the API boundary.
//
// NOTE: Important for developers
// When adding a new error here, you MUST consider how it should be handled when returned from API endpoints.
//
// Unmapped errors will default to HTTP 500 Internal Server Error.
//
// Don't forget to:
// 1. Add your error to mapError (internal/daemon/api_server.go)
// 2. Add a test case to TestMapError (internal/daemon/api_server_test.go)
package errors

import (
	"errors"
)

var (
	// ErrBadRequest indicates that the client provided invalid input or made a malformed request.
	// Recommended to map to HTTP 400 Bad Request.
	ErrBadRequest = errors.New("bad request")

	// ErrConfigLoadFailed indicates a structural failure loading the server configuration file:
	// missing file, unreadable data, malformed JSON/YAML, or a missing top-level server map.
	// Aborts the entire parse; per-server validation failures use ErrServerInvalid instead.
	ErrConfigLoadFailed = errors.New("config load failed")

	// ErrServerInvalid indicates that a single server entry failed schema validation.
	// Carries the server name and field-level violations; sibling servers are unaffected.
	ErrServerInvalid = errors.New("server entry invalid")

	// ErrInterpolation indicates that resolving ${...} placeholders failed for a server entry:
	// an unknown variable name, a missing environment value, or an absent workspace folder.
	// Aborts only that server's resolution.
	ErrInterpolation = errors.New("variable interpolation failed")

	// ErrServerNotFound indicates that the requested MCP server does not exist or is not configured.
	// Recommended to map to HTTP 404 Not Found.
	ErrServerNotFound = errors.New("server not found")

	// ErrConnectionFailed indicates that the transport handshake with an MCP server failed.
	// The underlying cause is wrapped. Isolated per server; never aborts sibling servers.
	// Recommended to map to HTTP 502 Bad Gateway.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrNotConnected indicates that a capability operation was attempted while the
	// server connection is not in the connected state.
	// Recommended to map to HTTP 409 Conflict.
	ErrNotConnected = errors.New("server not connected")

	// ErrAlreadyConnecting indicates that a connect was requested while another connect
	// attempt for the same server is still in flight.
	ErrAlreadyConnecting = errors.New("connect already in progress")

	// ErrToolForbidden indicates the tool is not in the server's allowed tools list.
	// Recommended to map to HTTP 403 Forbidden.
	ErrToolForbidden = errors.New("tool not allowed")

	// ErrPromptForbidden indicates the prompt is not in the server's allowed prompts list.
	// Recommended to map to HTTP 403 Forbidden.
	ErrPromptForbidden = errors.New("prompt not allowed")

	// ErrResourceForbidden indicates the resource is not in the server's allowed resources list.
	// Recommended to map to HTTP 403 Forbidden.
	ErrResourceForbidden = errors.New("resource not allowed")

	// ErrToolCallFailed indicates that calling a tool on an MCP server failed.
	// Recommended to map to HTTP 502 Bad Gateway.
	ErrToolCallFailed = errors.New("tool call failed")

	// ErrNoConfigLoaded indicates a manager operation that needs a previously loaded
	// config file (reload, restore) was invoked before any config was loaded.
	ErrNoConfigLoaded = errors.New("no config loaded")

	// ErrSnapshotInvalid indicates that persisted manager state could not be decoded.
	ErrSnapshotInvalid = errors.New("snapshot invalid")
)
