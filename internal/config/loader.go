package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mcpherd/mcpherd/internal/errors"
)

// Options contains optional configuration for parsing a server config file.
// NewOptions should be used to create instances of Options.
type Options struct {
	// IncludeDisabled keeps disabled servers in the result, flagged, so a
	// manager can enumerate them without connecting.
	IncludeDisabled bool

	// WorkspaceFolder overrides the value of ${workspaceFolder}. When empty,
	// the directory containing the config file is used.
	WorkspaceFolder string

	// Env overrides process environment lookups for ${env:NAME}; misses fall
	// back to the process environment.
	Env map[string]string
}

// Option defines a functional option for configuring Options.
// Options are applied in order, with later options overriding earlier ones.
type Option func(*Options) error

// NewOptions creates Options with optional configurations applied.
func NewOptions(opts ...Option) (Options, error) {
	var options Options
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&options); err != nil {
			return Options{}, err
		}
	}
	return options, nil
}

// WithIncludeDisabled keeps disabled servers in the parse result.
func WithIncludeDisabled() Option {
	return func(o *Options) error {
		o.IncludeDisabled = true
		return nil
	}
}

// WithWorkspaceFolder sets the value substituted for ${workspaceFolder}.
func WithWorkspaceFolder(dir string) Option {
	return func(o *Options) error {
		if strings.TrimSpace(dir) == "" {
			return fmt.Errorf("workspace folder cannot be empty")
		}
		o.WorkspaceFolder = dir
		return nil
	}
}

// WithEnv overrides environment lookups during interpolation.
func WithEnv(env map[string]string) Option {
	return func(o *Options) error {
		o.Env = env
		return nil
	}
}

// configFile is the document model for the top level of the config file.
// Entries stay raw so each one can be schema-validated independently.
type configFile struct {
	Servers map[string]json.RawMessage `json:"mcpServers"`
}

// Load reads, validates and resolves a server config file.
// Files ending in .yaml/.yml are decoded as YAML and normalized to the same
// document model; everything else is treated as JSON.
func (l *DefaultLoader) Load(path string, opts ...Option) (*Result, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: path cannot be empty", errors.ErrConfigLoadFailed)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: config file cannot be found (%s)", errors.ErrConfigLoadFailed, path)
		}
		return nil, fmt.Errorf("%w: failed to read config file (%s): %w", errors.ErrConfigLoadFailed, path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to decode YAML config (%s): %w", errors.ErrConfigLoadFailed, path, err)
		}
	}

	result, err := Parse(data, filepath.Dir(path), opts...)
	if err != nil {
		return nil, err
	}
	result.Path = path

	return result, nil
}

// Parse validates and resolves an in-memory JSON config document.
// baseDir anchors relative envFile paths and is the default workspace folder;
// it may be empty for documents with no file location.
func Parse(doc []byte, baseDir string, opts ...Option) (*Result, error) {
	options, err := NewOptions(opts...)
	if err != nil {
		return nil, err
	}

	var file configFile
	if err := json.Unmarshal(doc, &file); err != nil {
		return nil, fmt.Errorf("%w: malformed config document: %w", errors.ErrConfigLoadFailed, err)
	}
	if file.Servers == nil {
		return nil, fmt.Errorf("%w: config document has no mcpServers map", errors.ErrConfigLoadFailed)
	}

	workspace := options.WorkspaceFolder
	if workspace == "" && baseDir != "" {
		workspace = baseDir
	}
	ip := &interpolator{env: options.Env, workspace: workspace}

	result := &Result{Servers: make(map[string]ServerDescriptor, len(file.Servers))}

	names := make([]string, 0, len(file.Servers))
	for name := range file.Servers {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		entry, kind, serverErr := validateEntry(name, file.Servers[name])
		if serverErr != nil {
			result.Invalid = append(result.Invalid, serverErr)
			continue
		}
		if entry.Disabled && !options.IncludeDisabled {
			continue
		}

		raw := entry
		resolved, serverErr := ip.interpolateEntry(name, entry)
		if serverErr != nil {
			result.Invalid = append(result.Invalid, serverErr)
			continue
		}

		desc, serverErr := buildDescriptor(name, kind, raw, resolved, baseDir)
		if serverErr != nil {
			result.Invalid = append(result.Invalid, serverErr)
			continue
		}
		result.Servers[name] = desc
	}

	return result, nil
}

// buildDescriptor assembles the transport-ready descriptor for a validated,
// interpolated entry. For stdio the environment is the process environment
// overlaid with the env file and then the declared env values.
func buildDescriptor(
	name string,
	kind TransportKind,
	raw ServerEntry,
	entry ServerEntry,
	baseDir string,
) (ServerDescriptor, *ServerError) {
	desc := ServerDescriptor{
		Name:     name,
		Kind:     kind,
		Disabled: entry.Disabled,
		Raw:      raw,
	}
	if entry.Allowed != nil {
		desc.Allowed = *entry.Allowed
	}

	switch kind {
	case TransportHTTP, TransportSSE:
		desc.URL = entry.URL
		desc.Headers = entry.Headers
	case TransportStdio:
		desc.Command = entry.Command
		desc.Args = entry.Args
		desc.Dir = entry.Cwd

		env := processEnv()
		if entry.EnvFile != "" {
			envFilePath := entry.EnvFile
			if !filepath.IsAbs(envFilePath) && baseDir != "" {
				envFilePath = filepath.Join(baseDir, envFilePath)
			}
			fileVars, err := parseEnvFile(envFilePath)
			if err != nil {
				return ServerDescriptor{}, &ServerError{
					Server: name,
					Err:    fmt.Errorf("%w: %w", errors.ErrServerInvalid, err),
				}
			}
			for k, v := range fileVars {
				env[k] = v
			}
		}
		for k, v := range entry.Env {
			env[k] = v
		}
		desc.Env = env
	}

	return desc, nil
}

func processEnv() map[string]string {
	environ := os.Environ()
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

// yamlToJSON normalizes a YAML document to JSON so both formats flow through
// the same schema validation.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(normalizeYAML(doc))
}

// normalizeYAML rewrites map[any]any keys (produced for non-scalar YAML keys)
// into string-keyed maps so the document can be marshaled as JSON.
func normalizeYAML(v any) any {
	switch value := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, item := range value {
			out[k] = normalizeYAML(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(value))
		for k, item := range value {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(item)
		}
		return out
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = normalizeYAML(item)
		}
		return out
	default:
		return v
	}
}
