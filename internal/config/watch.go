package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads the config file at path whenever it is written or
// replaced and passes the result to onChange. Invalid files are logged and
// skipped. The parent directory is watched so editors that save by rename
// are picked up. Watch returns once the watcher is running; it stops when
// ctx is cancelled.
func Watch(ctx context.Context, path string, logger *zap.Logger, onChange func(Config)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				cfg, err := Load(abs)
				if err != nil {
					logger.Warn("config reload failed", zap.String("path", abs), zap.Error(err))
					continue
				}
				logger.Info("config reloaded", zap.String("path", abs))
				onChange(cfg)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
