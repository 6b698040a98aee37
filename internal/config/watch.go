package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads path on every write and calls onReload with the new
// Config. It starts the watch loop in a background goroutine and returns
// at once; the loop runs until the caller closes done. Reload errors are
// reported to onError rather than
// killing the watch loop — a momentarily-invalid file (mid-write) must
// not take down the server process.
//
// Grounded on the teacher's config.yaml watch loop (cmd/bd/list.go):
// fsnotify.NewWatcher, watch the containing directory rather than the
// file itself (editors often replace-via-rename, which doesn't fire
// Write on a direct file watch), and debounce rapid successive events.
func Watch(path string, done <-chan struct{}, onReload func(*Config), onError func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		debounceDelay := 250 * time.Millisecond
		var debounce *time.Timer

		reload := func() {
			cfg, err := Load(path)
			if err != nil {
				onError(err)
				return
			}
			onReload(cfg)
		}

		for {
			select {
			case <-done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != filepath.Base(path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceDelay, reload)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				onError(fmt.Errorf("config: watch error: %w", err))
			}
		}
	}()

	return nil
}

// EnsureDir creates the directory containing path if it doesn't exist,
// so Watch's directory-level Add never fails on a fresh checkout.
func EnsureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
