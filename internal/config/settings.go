package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/mcpherd/mcpherd/internal/errors"
)

// Default values applied when a settings file omits the corresponding field.
const (
	DefaultAPIAddr            = "0.0.0.0:8090"
	DefaultAPIShutdownTimeout = 20 * time.Second
	DefaultConnectTimeout     = 30 * time.Second
	DefaultShutdownTimeout    = 5 * time.Second
	DefaultInitialDelay       = 1 * time.Second
	DefaultMaxDelay           = 30 * time.Second
	DefaultMaxAttempts        = 5
	DefaultSweepInterval      = 60 * time.Second
)

// Duration is a custom time.Duration type that provides improved marshaling.
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler for Duration.
func (d *Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(*d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for Duration.
func (d *Duration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// String returns the duration formatted via time.Duration.
func (d *Duration) String() string {
	if d == nil {
		return ""
	}
	return time.Duration(*d).String()
}

// Settings represents daemon-level configuration stored in .mcpherd.toml.
// All fields are optional; accessors apply defaults for missing values.
type Settings struct {
	API       *APISettings       `toml:"api,omitempty"`
	MCP       *MCPSettings       `toml:"mcp,omitempty"`
	Reconnect *ReconnectSettings `toml:"reconnect,omitempty"`

	settingsFilePath string
}

// APISettings contains API server configuration settings.
type APISettings struct {
	// Address to bind the API server (e.g. "0.0.0.0:8090").
	Addr *string `toml:"addr,omitempty"`

	// Shutdown timeout for graceful API server shutdown.
	ShutdownTimeout *Duration `toml:"shutdown_timeout,omitempty"`

	CORS *CORSSettings `toml:"cors,omitempty"`
}

// CORSSettings contains Cross-Origin Resource Sharing (CORS) configuration.
type CORSSettings struct {
	Enable        *bool     `toml:"enable,omitempty"`
	Origins       []string  `toml:"allow_origins,omitempty"`
	Methods       []string  `toml:"allow_methods,omitempty"`
	Headers       []string  `toml:"allow_headers,omitempty"`
	ExposeHeaders []string  `toml:"expose_headers,omitempty"`
	Credentials   *bool     `toml:"allow_credentials,omitempty"`
	MaxAge        *Duration `toml:"max_age,omitempty"`
}

// MCPSettings contains per-server MCP operation settings.
type MCPSettings struct {
	// Connect bounds a single connect/initialize handshake.
	ConnectTimeout *Duration `toml:"connect_timeout,omitempty"`

	// Shutdown bounds graceful disconnect of a single server.
	ShutdownTimeout *Duration `toml:"shutdown_timeout,omitempty"`

	// SweepInterval controls how often failed servers are re-attempted.
	SweepInterval *Duration `toml:"sweep_interval,omitempty"`
}

// ReconnectSettings controls the exponential backoff reconnect policy.
type ReconnectSettings struct {
	MaxAttempts  *int      `toml:"max_attempts,omitempty"`
	InitialDelay *Duration `toml:"initial_delay,omitempty"`
	MaxDelay     *Duration `toml:"max_delay,omitempty"`
}

// LoadSettings reads daemon settings from a TOML file.
// A missing file is not an error: defaults apply for everything.
func LoadSettings(path string) (*Settings, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: settings path cannot be empty", errors.ErrConfigLoadFailed)
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return &Settings{settingsFilePath: path}, nil
		}
		return nil, fmt.Errorf("%w: failed to stat settings file (%s): %w", errors.ErrConfigLoadFailed, path, err)
	}

	var settings Settings
	if _, err := toml.DecodeFile(path, &settings); err != nil {
		return nil, fmt.Errorf("%w: failed to decode settings from file (%s): %w", errors.ErrConfigLoadFailed, path, err)
	}

	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("%w: invalid settings (%s): %w", errors.ErrConfigLoadFailed, path, err)
	}

	settings.settingsFilePath = path

	return &settings, nil
}

// Validate checks settings values that have no sensible fallback.
func (s *Settings) Validate() error {
	if s.Reconnect != nil {
		if s.Reconnect.MaxAttempts != nil && *s.Reconnect.MaxAttempts < 1 {
			return fmt.Errorf("reconnect.max_attempts must be at least 1")
		}
		if s.Reconnect.InitialDelay != nil && time.Duration(*s.Reconnect.InitialDelay) <= 0 {
			return fmt.Errorf("reconnect.initial_delay must be positive")
		}
		if s.Reconnect.MaxDelay != nil && time.Duration(*s.Reconnect.MaxDelay) <= 0 {
			return fmt.Errorf("reconnect.max_delay must be positive")
		}
	}
	if s.MCP != nil && s.MCP.SweepInterval != nil && time.Duration(*s.MCP.SweepInterval) <= 0 {
		return fmt.Errorf("mcp.sweep_interval must be positive")
	}
	return nil
}

// Path returns the file the settings were loaded from.
func (s *Settings) Path() string {
	return s.settingsFilePath
}

// APIAddr returns the configured API bind address or the default.
func (s *Settings) APIAddr() string {
	if s != nil && s.API != nil && s.API.Addr != nil && strings.TrimSpace(*s.API.Addr) != "" {
		return *s.API.Addr
	}
	return DefaultAPIAddr
}

// APIShutdownTimeout returns the graceful API shutdown bound.
func (s *Settings) APIShutdownTimeout() time.Duration {
	if s != nil && s.API != nil && s.API.ShutdownTimeout != nil {
		return time.Duration(*s.API.ShutdownTimeout)
	}
	return DefaultAPIShutdownTimeout
}

// ConnectTimeout returns the bound for a single server handshake.
func (s *Settings) ConnectTimeout() time.Duration {
	if s != nil && s.MCP != nil && s.MCP.ConnectTimeout != nil {
		return time.Duration(*s.MCP.ConnectTimeout)
	}
	return DefaultConnectTimeout
}

// ShutdownTimeout returns the bound for disconnecting a single server.
func (s *Settings) ShutdownTimeout() time.Duration {
	if s != nil && s.MCP != nil && s.MCP.ShutdownTimeout != nil {
		return time.Duration(*s.MCP.ShutdownTimeout)
	}
	return DefaultShutdownTimeout
}

// SweepInterval returns how often failed servers are retried.
func (s *Settings) SweepInterval() time.Duration {
	if s != nil && s.MCP != nil && s.MCP.SweepInterval != nil {
		return time.Duration(*s.MCP.SweepInterval)
	}
	return DefaultSweepInterval
}

// ReconnectMaxAttempts returns the reconnect attempt cap.
func (s *Settings) ReconnectMaxAttempts() int {
	if s != nil && s.Reconnect != nil && s.Reconnect.MaxAttempts != nil {
		return *s.Reconnect.MaxAttempts
	}
	return DefaultMaxAttempts
}

// ReconnectInitialDelay returns the first reconnect delay.
func (s *Settings) ReconnectInitialDelay() time.Duration {
	if s != nil && s.Reconnect != nil && s.Reconnect.InitialDelay != nil {
		return time.Duration(*s.Reconnect.InitialDelay)
	}
	return DefaultInitialDelay
}

// ReconnectMaxDelay returns the reconnect delay ceiling.
func (s *Settings) ReconnectMaxDelay() time.Duration {
	if s != nil && s.Reconnect != nil && s.Reconnect.MaxDelay != nil {
		return time.Duration(*s.Reconnect.MaxDelay)
	}
	return DefaultMaxDelay
}
