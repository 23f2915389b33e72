package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/book-expert/logger"
	"github.com/fsnotify/fsnotify"
)

// Watch reloads the configuration file into handle whenever it is written or
// recreated, until ctx is done. A file that fails to parse is logged and the
// previous configuration stays active.
func Watch(ctx context.Context, path string, handle *Handle, log *logger.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace files by rename, so watch the directory.
	dir := filepath.Dir(path)

	err = watcher.Add(dir)
	if err != nil {
		return fmt.Errorf("failed to watch config directory %s: %w", dir, err)
	}

	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(event.Name) != target {
				continue
			}

			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			reload(path, handle, log)
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			log.Warn("Config watcher error: %v", watchErr)
		}
	}
}

func reload(path string, handle *Handle, log *logger.Logger) {
	cfg, err := LoadFile(path)
	if err != nil {
		log.Error("Failed to reload configuration from %s: %v", path, err)

		return
	}

	handle.Replace(cfg)
	log.Info("Configuration reloaded from %s", path)
}
