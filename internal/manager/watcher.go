package manager

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mcpherd/mcpherd/internal/errors"
)

// watchDebounce coalesces the editor write/rename bursts that accompany a
// single logical file save.
const watchDebounce = 250 * time.Millisecond

// Watch blocks until ctx is cancelled, reloading the manager whenever the
// previously loaded config file changes on disk. The parent directory is
// watched rather than the file itself so atomic rename-style saves keep
// working.
func (m *Manager) Watch(ctx context.Context) error {
	m.mu.RLock()
	path := m.configPath
	m.mu.RUnlock()

	if path == "" {
		return fmt.Errorf("%w: watch requires a prior LoadAndConnect", errors.ErrNoConfigLoaded)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	m.logger.Info("watching config file", "path", path)

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	reload := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			if _, err := m.Reload(ctx); err != nil {
				m.logger.Error("config reload failed", "path", path, "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.Error("config watcher error", "error", err)
		}
	}
}
