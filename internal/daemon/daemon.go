package daemon

import (
	"context"
	stdErrors "errors"
	"fmt"
	"os"
	"reflect"

	"github.com/hashicorp/go-hclog"

	"github.com/mcpherd/mcpherd/internal/config"
	"github.com/mcpherd/mcpherd/internal/manager"
)

// Daemon owns the connection manager and the HTTP API server for the
// lifetime of the process. NewDaemon should be used to create instances of Daemon.
type Daemon struct {
	logger      hclog.Logger
	manager     *manager.Manager
	apiServer   *APIServer
	statePath   string
	watchConfig bool
	loadOpts    []config.Option
}

// DaemonOption defines a functional option for configuring a Daemon.
type DaemonOption func(*Daemon) error

// WithStateFile configures a path used to restore connection state on
// startup and persist it again on shutdown.
func WithStateFile(path string) DaemonOption {
	return func(d *Daemon) error {
		d.statePath = path
		return nil
	}
}

// WithConfigWatching enables reloading the configuration file when it
// changes on disk.
func WithConfigWatching(enabled bool) DaemonOption {
	return func(d *Daemon) error {
		d.watchConfig = enabled
		return nil
	}
}

// WithLoadOptions sets the config load options used when loading or
// reloading the configuration file.
func WithLoadOptions(opts ...config.Option) DaemonOption {
	return func(d *Daemon) error {
		d.loadOpts = opts
		return nil
	}
}

// NewDaemon creates a Daemon wiring the supplied manager to an API server
// listening on apiAddr.
func NewDaemon(
	logger hclog.Logger,
	mgr *manager.Manager,
	apiAddr string,
	apiOpts []APIOption,
	opt ...DaemonOption,
) (*Daemon, error) {
	if logger == nil || reflect.ValueOf(logger).IsNil() {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if mgr == nil {
		return nil, fmt.Errorf("manager cannot be nil")
	}

	deps, err := NewAPIDependencies(logger, mgr, apiAddr)
	if err != nil {
		return nil, err
	}

	apiServer, err := NewAPIServer(deps, apiOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create daemon API server: %w", err)
	}

	d := &Daemon{
		logger:    logger.Named("daemon"),
		manager:   mgr,
		apiServer: apiServer,
	}

	for _, o := range opt {
		if o == nil {
			continue
		}
		if err := o(d); err != nil {
			return nil, err
		}
	}

	return d, nil
}

// StartAndManage connects the configured servers, serves the HTTP API, and
// blocks until the context is canceled. On shutdown it persists connection
// state when a state file is configured and closes all connections.
func (d *Daemon) StartAndManage(ctx context.Context, configPath string) error {
	if err := d.connect(ctx, configPath); err != nil {
		return err
	}

	if d.watchConfig {
		go func() {
			if err := d.manager.Watch(ctx); err != nil && !stdErrors.Is(err, context.Canceled) {
				d.logger.Error("Config watcher stopped", "error", err)
			}
		}()
	}

	err := d.apiServer.Start(ctx)
	d.shutdown()
	if err != nil && !stdErrors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// connect establishes initial connections, restoring a previous snapshot
// when a state file is configured and present on disk.
func (d *Daemon) connect(ctx context.Context, configPath string) error {
	if d.statePath != "" {
		if _, err := os.Stat(d.statePath); err == nil {
			d.logger.Info("Restoring connection state", "path", d.statePath)
			err := d.manager.RestoreFile(ctx, d.statePath, d.loadOpts...)
			if err == nil {
				return nil
			}
			d.logger.Warn("State restore failed, falling back to config load", "error", err)
		}
	}

	result, err := d.manager.LoadAndConnect(ctx, configPath, d.loadOpts...)
	if err != nil {
		return err
	}

	d.logger.Info("Loaded configuration",
		"path", result.Path,
		"servers", len(result.Servers),
		"invalid", len(result.Invalid))

	return nil
}

// shutdown persists state when configured and closes all connections.
func (d *Daemon) shutdown() {
	if d.statePath != "" {
		if err := d.manager.SaveState(d.statePath); err != nil {
			d.logger.Error("Failed to persist connection state", "path", d.statePath, "error", err)
		} else {
			d.logger.Info("Persisted connection state", "path", d.statePath)
		}
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), DefaultAPIShutdownTimeout())
	defer cancel()
	if err := d.manager.Close(closeCtx); err != nil {
		d.logger.Error("Error closing connections", "error", err)
	}
}
