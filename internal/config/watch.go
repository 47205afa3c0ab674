package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/banshee-data/fleet-overlay/internal/monitoring"
)

var logger = monitoring.Component("Config")

// Watch reloads the config at path whenever it is written and passes each
// valid result to onChange. Invalid edits are logged and ignored, leaving
// the previous config in effect. Watch blocks until ctx is cancelled.
//
// The parent directory is watched rather than the file itself so that
// editors which replace the file by rename are still observed.
func Watch(ctx context.Context, path string, onChange func(*TuningConfig)) error {
	cleanPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(cleanPath)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(cleanPath), err)
	}
	logger.Logf("watching %s for changes", cleanPath)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != cleanPath {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			cfg, err := LoadTuningConfig(cleanPath)
			if err != nil {
				logger.Logf("ignoring invalid update to %s: %v", cleanPath, err)
				continue
			}
			logger.Logf("reloaded %s", cleanPath)
			onChange(cfg)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Logf("watcher error: %v", err)
		}
	}
}
