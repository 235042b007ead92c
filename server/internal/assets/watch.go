package assets

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events an editor produces for one save.
const DefaultDebounce = 100 * time.Millisecond

// Watch monitors dir and its subdirectories and calls onChange with the
// slash-separated path, relative to dir, of each file that was written,
// created, removed or renamed. Events for the same path arriving within
// debounce collapse into one call. Watch runs until ctx is cancelled.
func Watch(ctx context.Context, dir string, debounce time.Duration, onChange func(rel string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := addTree(watcher, dir); err != nil {
		return err
	}
	slog.Debug("assets: watching for changes", "dir", dir)

	pending := make(map[string]struct{})
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			// New subdirectories need their own watch.
			if event.Has(fsnotify.Create) {
				_ = addTree(watcher, event.Name)
			}
			rel, err := filepath.Rel(dir, event.Name)
			if err != nil {
				continue
			}
			pending[filepath.ToSlash(rel)] = struct{}{}
			timer.Reset(debounce)

		case <-timer.C:
			for rel := range pending {
				onChange(rel)
			}
			pending = make(map[string]struct{})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("assets: watcher error", "dir", dir, "err", err)
		}
	}
}

// addTree watches root and every directory below it. A root that is a file
// is ignored.
func addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return w.Add(p)
	})
}
