package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcpherd/mcpherd/internal/cmd"
	"github.com/mcpherd/mcpherd/internal/config"
	"github.com/mcpherd/mcpherd/internal/conn"
	"github.com/mcpherd/mcpherd/internal/daemon"
	"github.com/mcpherd/mcpherd/internal/flags"
	"github.com/mcpherd/mcpherd/internal/manager"
	"github.com/mcpherd/mcpherd/internal/rpc"
)

const clientName = "mcpherd"

// DaemonCmd should be used to represent the 'daemon' command.
type DaemonCmd struct {
	*cmd.BaseCmd
	Addr            string
	Watch           bool
	StateFile       string
	IncludeDisabled bool
}

// NewDaemonCmd creates a newly configured (Cobra) command.
func NewDaemonCmd(baseCmd *cmd.BaseCmd) (*cobra.Command, error) {
	c := &DaemonCmd{
		BaseCmd: baseCmd,
	}

	cobraCommand := &cobra.Command{
		Use:   "daemon [--addr] [--watch] [--state-file]",
		Short: "Launches a 'mcpherd' daemon instance",
		Long: "Launches a 'mcpherd' daemon instance, which connects to the configured " +
			"MCP servers and exposes them via HTTP API",
		RunE: c.run,
	}

	cobraCommand.Flags().StringVar(
		&c.Addr,
		"addr",
		"",
		"Address for the daemon to bind (overrides settings file)",
	)

	cobraCommand.Flags().BoolVar(
		&c.Watch,
		"watch",
		false,
		"Reload the configuration file when it changes on disk",
	)

	cobraCommand.Flags().StringVar(
		&c.StateFile,
		"state-file",
		"",
		"Path used to persist connection state on shutdown and restore it on startup",
	)

	cobraCommand.Flags().BoolVar(
		&c.IncludeDisabled,
		"include-disabled",
		false,
		"Track servers marked as disabled in the configuration (they are never connected)",
	)

	return cobraCommand, nil
}

// run is configured (via NewDaemonCmd) to be called by the Cobra framework when the command is executed.
// It may return an error (or nil, when there is no error).
func (c *DaemonCmd) run(_ *cobra.Command, _ []string) error {
	logger := c.Logger()

	settings, err := config.LoadSettings(flags.SettingsFile)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	addr := strings.TrimSpace(c.Addr)
	if addr == "" {
		addr = settings.APIAddr()
	}

	dialer, err := rpc.NewMCPDialer(logger, clientName, cmd.Version())
	if err != nil {
		return fmt.Errorf("failed to create MCP dialer: %w", err)
	}

	mgr, err := manager.New(logger, dialer,
		manager.WithPolicy(conn.Policy{
			MaxAttempts:  settings.ReconnectMaxAttempts(),
			InitialDelay: settings.ReconnectInitialDelay(),
			MaxDelay:     settings.ReconnectMaxDelay(),
		}),
		manager.WithConnectTimeout(settings.ConnectTimeout()),
		manager.WithSweepInterval(settings.SweepInterval()),
	)
	if err != nil {
		return fmt.Errorf("failed to create connection manager: %w", err)
	}

	var loadOpts []config.Option
	if c.IncludeDisabled {
		loadOpts = append(loadOpts, config.WithIncludeDisabled())
	}
	if flags.WorkspaceFolder != "" {
		loadOpts = append(loadOpts, config.WithWorkspaceFolder(flags.WorkspaceFolder))
	}

	apiOpts := apiOptionsFromSettings(settings)

	d, err := daemon.NewDaemon(logger, mgr, addr, apiOpts,
		daemon.WithStateFile(strings.TrimSpace(c.StateFile)),
		daemon.WithConfigWatching(c.Watch),
		daemon.WithLoadOptions(loadOpts...),
	)
	if err != nil {
		return fmt.Errorf("failed to create mcpherd daemon instance: %w", err)
	}

	// Create the signal handling context for the application.
	daemonCtx, daemonCtxCancel := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM, syscall.SIGINT,
	)
	defer daemonCtxCancel()

	if err := d.StartAndManage(daemonCtx, flags.ConfigFile); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// apiOptionsFromSettings converts CORS and shutdown settings into API server options.
func apiOptionsFromSettings(settings *config.Settings) []daemon.APIOption {
	opts := []daemon.APIOption{
		daemon.WithShutdownTimeout(settings.APIShutdownTimeout()),
	}

	if settings.API == nil || settings.API.CORS == nil {
		return opts
	}

	cors := settings.API.CORS
	if cors.Enable != nil {
		opts = append(opts, daemon.WithCORSEnabled(*cors.Enable))
	}
	if len(cors.Origins) > 0 {
		opts = append(opts, daemon.WithCORSAllowOrigins(cors.Origins))
	}
	if len(cors.Methods) > 0 {
		opts = append(opts, daemon.WithCORSAllowMethods(cors.Methods))
	}
	if len(cors.Headers) > 0 {
		opts = append(opts, daemon.WithCORSAllowHeaders(cors.Headers))
	}
	if len(cors.ExposeHeaders) > 0 {
		opts = append(opts, daemon.WithCORSExposeHeaders(cors.ExposeHeaders))
	}
	if cors.Credentials != nil {
		opts = append(opts, daemon.WithCORSAllowCredentials(*cors.Credentials))
	}
	if cors.MaxAge != nil {
		opts = append(opts, daemon.WithCORSMaxAge(time.Duration(*cors.MaxAge)))
	}

	return opts
}
