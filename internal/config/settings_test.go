package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mcpherd/mcpherd/internal/errors"
)

func TestLoadSettings_MissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	settings, err := LoadSettings(filepath.Join(t.TempDir(), ".mcpherd.toml"))
	require.NoError(t, err)

	require.Equal(t, DefaultAPIAddr, settings.APIAddr())
	require.Equal(t, DefaultAPIShutdownTimeout, settings.APIShutdownTimeout())
	require.Equal(t, DefaultConnectTimeout, settings.ConnectTimeout())
	require.Equal(t, DefaultShutdownTimeout, settings.ShutdownTimeout())
	require.Equal(t, DefaultSweepInterval, settings.SweepInterval())
	require.Equal(t, DefaultMaxAttempts, settings.ReconnectMaxAttempts())
	require.Equal(t, DefaultInitialDelay, settings.ReconnectInitialDelay())
	require.Equal(t, DefaultMaxDelay, settings.ReconnectMaxDelay())
}

func TestLoadSettings_FullFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".mcpherd.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[api]
addr = "127.0.0.1:9999"
shutdown_timeout = "5s"

[api.cors]
enable = true
allow_origins = ["https://app.example.com"]

[mcp]
connect_timeout = "10s"
sweep_interval = "45s"

[reconnect]
max_attempts = 3
initial_delay = "500ms"
max_delay = "10s"
`), 0o644))

	settings, err := LoadSettings(path)
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1:9999", settings.APIAddr())
	require.Equal(t, 5*time.Second, settings.APIShutdownTimeout())
	require.Equal(t, 10*time.Second, settings.ConnectTimeout())
	require.Equal(t, 45*time.Second, settings.SweepInterval())
	require.Equal(t, 3, settings.ReconnectMaxAttempts())
	require.Equal(t, 500*time.Millisecond, settings.ReconnectInitialDelay())
	require.Equal(t, 10*time.Second, settings.ReconnectMaxDelay())
	require.Equal(t, path, settings.Path())

	require.NotNil(t, settings.API.CORS)
	require.True(t, *settings.API.CORS.Enable)
	require.Equal(t, []string{"https://app.example.com"}, settings.API.CORS.Origins)
}

func TestLoadSettings_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		contents string
	}{
		{
			name:     "malformed toml",
			contents: "[api\naddr=",
		},
		{
			name:     "bad duration",
			contents: "[mcp]\nconnect_timeout = \"soon\"\n",
		},
		{
			name:     "zero max attempts",
			contents: "[reconnect]\nmax_attempts = 0\n",
		},
		{
			name:     "negative initial delay",
			contents: "[reconnect]\ninitial_delay = \"-1s\"\n",
		},
		{
			name:     "zero sweep interval",
			contents: "[mcp]\nsweep_interval = \"0s\"\n",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), ".mcpherd.toml")
			require.NoError(t, os.WriteFile(path, []byte(tc.contents), 0o644))

			_, err := LoadSettings(path)
			require.ErrorIs(t, err, errors.ErrConfigLoadFailed)
		})
	}
}

func TestDuration_TextRoundTrip(t *testing.T) {
	t.Parallel()

	d := Duration(90 * time.Second)
	text, err := d.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "1m30s", string(text))

	var parsed Duration
	require.NoError(t, parsed.UnmarshalText(text))
	require.Equal(t, d, parsed)

	require.Error(t, parsed.UnmarshalText([]byte("never")))
}
