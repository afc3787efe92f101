package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch hot-reloads config.json5 into cfg until ctx ends. Editors and
// atomic writers replace the file rather than writing in place, so the
// parent directory is watched and events are debounced. onReload runs
// after cfg has been replaced; it receives the fields that cannot be
// applied live so callers can warn about them.
func Watch(ctx context.Context, home string, cfg *Config, logger *slog.Logger, onReload func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := watcher.Add(home); err != nil {
		watcher.Close()
		return err
	}

	target := filepath.Base(Path(home))
	lastHash := cfg.Hash()

	go func() {
		defer watcher.Close()

		var debounce *time.Timer
		reload := func() {
			next, err := Load(home)
			if err != nil {
				logger.Warn("config_reload_failed", "error", err)
				return
			}
			if next.Hash() == lastHash {
				return
			}
			prev := cfg.Snapshot()
			cfg.ReplaceFrom(next)
			lastHash = next.Hash()
			logger.Info("config_reloaded", "path", Path(home))
			warnNonReloadable(logger, prev, next)
			if onReload != nil {
				onReload(cfg)
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, reload)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config_watch_error", "error", err)
			}
		}
	}()

	return nil
}

func warnNonReloadable(logger *slog.Logger, prev Config, next *Config) {
	if prev.Daemon.Listen != next.Daemon.Listen {
		logger.Warn("config_reload_requires_restart", "field", "daemon.listen")
	}
	if prev.Relay.Endpoint != next.Relay.Endpoint {
		logger.Warn("config_reload_requires_restart", "field", "relay.endpoint")
	}
	if prev.Tailscale != next.Tailscale {
		logger.Warn("config_reload_requires_restart", "field", "tailscale")
	}
}
