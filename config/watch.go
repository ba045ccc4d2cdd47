package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
)

// reloadDelay lets editors finish writing before the file is re-read.
const reloadDelay = 100 * time.Millisecond

// Watch re-reads the settings file at path whenever it changes and passes the
// result to onChange. Flags explicitly set in flags keep winning over the
// file on every reload. Failed reloads go to onError and keep the previous
// settings in place. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, flags *pflag.FlagSet, onChange func(*Settings), onError func(error)) error {
	if onError == nil {
		onError = func(error) {}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so atomic renames by editors are still seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch config directory: %w", err)
	}

	var lastModTime time.Time
	if stat, err := os.Stat(path); err == nil {
		lastModTime = stat.ModTime()
	}

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
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			stat, err := os.Stat(path)
			if err != nil {
				continue
			}
			if !stat.ModTime().After(lastModTime) {
				continue
			}
			lastModTime = stat.ModTime()

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(reloadDelay):
			}

			settings, err := Load(path, flags)
			if err != nil {
				onError(fmt.Errorf("reload %s: %w", path, err))
				continue
			}
			onChange(settings)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			onError(fmt.Errorf("config watcher: %w", err))
		}
	}
}
