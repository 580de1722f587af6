package skills

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch proactively invalidates the mtime cache on filesystem events so a
// long-running process picks up edited skills without waiting for the next
// List() call to notice a changed mtime by chance timing. List()'s own
// mtime check remains the source of truth; this only nudges it to run
// promptly. fsnotify is non-recursive, so Watch tracks l.dir itself (to
// notice new/removed skill directories) plus every skill subdirectory it
// currently knows about, adding newly created ones as they appear. Returns
// when ctx is cancelled.
func (l *Library) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(l.dir); err != nil {
		return err
	}
	if entries, err := os.ReadDir(l.dir); err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				_ = watcher.Add(filepath.Join(l.dir, entry.Name()))
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watcher.Add(event.Name)
				}
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				if _, err := l.List(); err != nil {
					l.logger.Printf("[skills] reload after fs event failed: %v", err)
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Printf("[skills] watch error: %v", err)
		}
	}
}
