// Package config loads the declarative server configuration file and turns it
// into transport-ready connection descriptors. Each entry in the top-level
// mcpServers map is schema-validated, defaulted, and variable-interpolated
// independently, so one malformed server never poisons its siblings.
package config

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
)

var _ Loader = (*DefaultLoader)(nil)

// Loader loads a server configuration file into resolved descriptors.
type Loader interface {
	Load(path string, opts ...Option) (*Result, error)
}

// DefaultLoader is the production Loader.
type DefaultLoader struct{}

// TransportKind identifies how a server connection is carried.
// It is decided once during parsing; downstream code switches on it
// instead of probing field presence.
type TransportKind string

const (
	// TransportHTTP is the streamable HTTP transport. Stateless: no resumable session identity.
	TransportHTTP TransportKind = "http"

	// TransportSSE is the Server-Sent Events transport. Session-based.
	TransportSSE TransportKind = "sse"

	// TransportStdio is the subprocess stdin/stdout transport. Session-based.
	TransportStdio TransportKind = "stdio"
)

// SessionBased reports whether the transport maintains a resumable session
// identity across reconnects. HTTP is stateless; each request is independent.
func (k TransportKind) SessionBased() bool {
	return k == TransportSSE || k == TransportStdio
}

// Allowed restricts which named capability items may be listed or invoked.
// A nil slice for a kind means all names are permitted for that kind; a
// non-nil slice is the exact permitted set with no implicit matches.
type Allowed struct {
	Tools     []string `json:"tools,omitempty"     toml:"tools,omitempty"     yaml:"tools,omitempty"`
	Prompts   []string `json:"prompts,omitempty"   toml:"prompts,omitempty"   yaml:"prompts,omitempty"`
	Resources []string `json:"resources,omitempty" toml:"resources,omitempty" yaml:"resources,omitempty"`
}

// ServerEntry is the raw, pre-interpolation shape of one server in the config file.
type ServerEntry struct {
	// Type is the declared transport kind. Optional: inferred from the presence
	// of URL (http) or Command (stdio) when absent.
	Type string `json:"type,omitempty" yaml:"type,omitempty"`

	// URL is the endpoint for http/sse servers.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// Headers are optional request headers for http/sse servers.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Command is the executable for stdio servers.
	Command string `json:"command,omitempty" yaml:"command,omitempty"`

	// Args are command line arguments for stdio servers.
	Args []string `json:"args,omitempty" yaml:"args,omitempty"`

	// Env contains environment variables declared for stdio servers.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// EnvFile is an optional KEY=VALUE file merged beneath Env (Env wins).
	EnvFile string `json:"envFile,omitempty" yaml:"envFile,omitempty"`

	// Cwd is the working directory for stdio servers.
	Cwd string `json:"cwd,omitempty" yaml:"cwd,omitempty"`

	// Disabled excludes the server from the active connection set.
	Disabled bool `json:"disabled,omitempty" yaml:"disabled,omitempty"`

	// Allowed restricts capability access per kind when present.
	Allowed *Allowed `json:"allowed,omitempty" yaml:"allowed,omitempty"`
}

// ServerDescriptor is the immutable, fully resolved configuration for one server.
// Produced by the parser; one descriptor owns exactly one managed connection.
type ServerDescriptor struct {
	// Name is the unique server identifier from the config file.
	Name string

	// Kind is the transport discriminant decided during parsing.
	Kind TransportKind

	// Disabled mirrors the entry's disabled flag. Disabled descriptors only
	// appear in parse results when requested via WithIncludeDisabled.
	Disabled bool

	// URL and Headers are populated for http/sse transports.
	URL     string
	Headers map[string]string

	// Command, Args, Env and Dir are populated for the stdio transport.
	// Env is the process environment overlaid with envFile and declared values.
	Command string
	Args    []string
	Env     map[string]string
	Dir     string

	// Allowed is the capability allow-list carried from the entry.
	Allowed Allowed

	// Raw is the pre-interpolation entry, kept so reload can diff a running
	// connection against the file without re-parsing semantics.
	Raw ServerEntry
}

// Equal reports whether two descriptors would produce an identical connection.
// Used by reload to decide whether a running server must be bounced.
func (d ServerDescriptor) Equal(other ServerDescriptor) bool {
	return d.Name == other.Name &&
		d.Kind == other.Kind &&
		d.Disabled == other.Disabled &&
		reflect.DeepEqual(d.Raw, other.Raw)
}

// ServerError reports a per-server parse failure: schema violations,
// interpolation failures, or an unusable env file. Sibling servers are
// unaffected by it.
type ServerError struct {
	// Server is the id of the failing entry.
	Server string

	// Violations holds field-level detail for schema failures.
	Violations []string

	// Err wraps the sentinel classifying the failure.
	Err error
}

func (e *ServerError) Error() string {
	if len(e.Violations) > 0 {
		return fmt.Sprintf("server %q: %v: %s", e.Server, e.Err, strings.Join(e.Violations, "; "))
	}
	return fmt.Sprintf("server %q: %v", e.Server, e.Err)
}

func (e *ServerError) Unwrap() error {
	return e.Err
}

// Result is the outcome of parsing one config file.
type Result struct {
	// Servers maps server id to its resolved descriptor.
	Servers map[string]ServerDescriptor

	// Invalid collects per-server failures that did not abort the parse.
	Invalid []*ServerError

	// Path is the file the result was loaded from, empty for in-memory parses.
	Path string
}

// ServerIDs returns the sorted ids of all parsed servers.
func (r *Result) ServerIDs() []string {
	ids := make([]string, 0, len(r.Servers))
	for id := range r.Servers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
