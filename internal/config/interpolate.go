package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mcpherd/mcpherd/internal/errors"
)

// Variables recognized inside ${...} placeholders.
const (
	varEnvPrefix               = "env:"
	varUserHome                = "userHome"
	varWorkspaceFolder         = "workspaceFolder"
	varWorkspaceFolderBasename = "workspaceFolderBasename"
	varPathSeparator           = "pathSeparator"
	varPathSeparatorShort      = "/"
)

// interpolator resolves ${...} placeholders in entry fields.
// Interpolation runs after schema validation and defaulting, so substitution
// errors can only come from user-supplied values.
type interpolator struct {
	// env overrides process environment lookups when non-nil; misses fall
	// back to the process environment.
	env map[string]string

	// workspace is the value for ${workspaceFolder}. Empty means the caller
	// supplied none and the config had no file location to derive one from.
	workspace string
}

func (ip *interpolator) lookupEnv(name string) (string, bool) {
	if v, ok := ip.env[name]; ok {
		return v, true
	}
	return os.LookupEnv(name)
}

func (ip *interpolator) resolve(name string) (string, error) {
	if strings.HasPrefix(name, varEnvPrefix) {
		key := strings.TrimPrefix(name, varEnvPrefix)
		v, ok := ip.lookupEnv(key)
		if !ok {
			return "", fmt.Errorf("environment variable %q is not set", key)
		}
		return v, nil
	}

	switch name {
	case varUserHome:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot resolve user home directory: %w", err)
		}
		return home, nil
	case varWorkspaceFolder:
		if ip.workspace == "" {
			return "", fmt.Errorf("workspaceFolder is not available, supply one or load from a file path")
		}
		return ip.workspace, nil
	case varWorkspaceFolderBasename:
		if ip.workspace == "" {
			return "", fmt.Errorf("workspaceFolder is not available, supply one or load from a file path")
		}
		return filepath.Base(ip.workspace), nil
	case varPathSeparator, varPathSeparatorShort:
		return string(os.PathSeparator), nil
	default:
		return "", fmt.Errorf("unknown variable %q", name)
	}
}

// expand substitutes every ${...} occurrence in s, once per occurrence.
func (ip *interpolator) expand(s string) (string, error) {
	if !strings.Contains(s, "${") {
		return s, nil
	}

	var out strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			out.WriteString(rest)
			return out.String(), nil
		}
		end := strings.Index(rest[start:], "}")
		if end < 0 {
			return "", fmt.Errorf("unterminated placeholder in %q", s)
		}

		out.WriteString(rest[:start])
		name := rest[start+2 : start+end]
		value, err := ip.resolve(name)
		if err != nil {
			return "", err
		}
		out.WriteString(value)
		rest = rest[start+end+1:]
	}
}

func (ip *interpolator) expandSlice(values []string) ([]string, error) {
	if values == nil {
		return nil, nil
	}
	out := make([]string, len(values))
	for i, v := range values {
		expanded, err := ip.expand(v)
		if err != nil {
			return nil, err
		}
		out[i] = expanded
	}
	return out, nil
}

func (ip *interpolator) expandMap(values map[string]string) (map[string]string, error) {
	if values == nil {
		return nil, nil
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		expanded, err := ip.expand(v)
		if err != nil {
			return nil, err
		}
		out[k] = expanded
	}
	return out, nil
}

// interpolateEntry resolves placeholders in the fields that accept them:
// command, args, env, url, headers. Other fields pass through untouched.
func (ip *interpolator) interpolateEntry(name string, entry ServerEntry) (ServerEntry, *ServerError) {
	wrap := func(err error) *ServerError {
		return &ServerError{
			Server: name,
			Err:    fmt.Errorf("%w: %w", errors.ErrInterpolation, err),
		}
	}

	var err error
	if entry.Command, err = ip.expand(entry.Command); err != nil {
		return ServerEntry{}, wrap(err)
	}
	if entry.Args, err = ip.expandSlice(entry.Args); err != nil {
		return ServerEntry{}, wrap(err)
	}
	if entry.Env, err = ip.expandMap(entry.Env); err != nil {
		return ServerEntry{}, wrap(err)
	}
	if entry.URL, err = ip.expand(entry.URL); err != nil {
		return ServerEntry{}, wrap(err)
	}
	if entry.Headers, err = ip.expandMap(entry.Headers); err != nil {
		return ServerEntry{}, wrap(err)
	}

	return entry, nil
}
